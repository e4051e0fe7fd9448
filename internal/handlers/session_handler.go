package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/marens-d/CoachDeskBack/internal/models"
	"github.com/marens-d/CoachDeskBack/internal/repository"
	"github.com/marens-d/CoachDeskBack/internal/services"
)

type SessionHandler struct {
	service sessionLifecycleService
}

type sessionLifecycleService interface {
	CreateSession(ctx context.Context, input services.CreateSessionInput) (*models.Session, error)
	GetSession(ctx context.Context, sessionID int64) (*models.Session, error)
	ListSessions(ctx context.Context, filter repository.SessionListFilter) ([]models.Session, error)
	UpdateStatus(ctx context.Context, sessionID int64, next models.SessionStatus) (*models.Session, error)
	CancelSession(ctx context.Context, sessionID, cancelledBy int64, reason models.CancellationReason, reasonText *string) (*models.Session, error)
	RescheduleSession(ctx context.Context, sessionID, rescheduledBy int64, newTime time.Time, reason *string) (*models.Session, error)
	ResetCancelled(ctx context.Context, sessionID int64) (*models.Session, error)
	DeleteSession(ctx context.Context, sessionID int64) error
}

func NewSessionHandler(service *services.SessionLifecycle) *SessionHandler {
	return &SessionHandler{service: service}
}

type createSessionRequest struct {
	CoachID         int64   `json:"coach_id"`
	ClientID        int64   `json:"client_id"`
	ScheduledAt     string  `json:"scheduled_at"`
	DurationMinutes int     `json:"duration_minutes"`
	Notes           *string `json:"notes"`
}

type updateSessionStatusRequest struct {
	Status string `json:"status"`
}

type cancelSessionRequest struct {
	Reason     string  `json:"reason"`
	ReasonText *string `json:"reason_text"`
}

type rescheduleSessionRequest struct {
	NewTime string  `json:"new_time"`
	Reason  *string `json:"reason"`
}

func currentUserID(c *fiber.Ctx) (int64, error) {
	userID, ok := c.Locals("user_id").(int64)
	if !ok || userID <= 0 {
		return 0, errors.New("invalid user")
	}
	return userID, nil
}

func currentRole(c *fiber.Ctx) string {
	role, _ := c.Locals("role").(string)
	return role
}

func (h *SessionHandler) CreateSession(c *fiber.Ctx) error {
	role := currentRole(c)
	if role != "coach" && role != "client" {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var req createSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	scheduledAt, err := time.Parse(time.RFC3339, strings.TrimSpace(req.ScheduledAt))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "scheduled_at must be a valid RFC3339 timestamp"})
	}
	if req.DurationMinutes <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "duration_minutes must be greater than 0"})
	}

	// The caller books themselves into their own side of the session.
	input := services.CreateSessionInput{
		CoachID:         req.CoachID,
		ClientID:        req.ClientID,
		ScheduledAt:     scheduledAt,
		DurationMinutes: req.DurationMinutes,
		Notes:           req.Notes,
	}
	if role == "coach" {
		input.CoachID = userID
	} else {
		input.ClientID = userID
	}

	session, err := h.service.CreateSession(c.Context(), input)
	if err != nil {
		return mapSessionError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"session": session})
}

func (h *SessionHandler) ListSessions(c *fiber.Ctx) error {
	role := currentRole(c)
	if role != "coach" && role != "client" {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	timeframe := strings.TrimSpace(c.Query("timeframe"))
	if timeframe != "" && timeframe != "upcoming" && timeframe != "past" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "timeframe must be upcoming or past"})
	}

	sessions, err := h.service.ListSessions(c.Context(), repository.SessionListFilter{
		ActorID:   userID,
		Role:      role,
		Status:    strings.TrimSpace(c.Query("status")),
		Timeframe: timeframe,
	})
	if err != nil {
		return mapSessionError(c, err)
	}

	return c.JSON(fiber.Map{"sessions": sessions})
}

func (h *SessionHandler) GetSession(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	session, ok := h.loadOwned(c, userID)
	if !ok {
		return nil
	}
	return c.JSON(fiber.Map{"session": session})
}

func (h *SessionHandler) UpdateStatus(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	session, ok := h.loadOwned(c, userID)
	if !ok {
		return nil
	}

	var req updateSessionStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	updated, err := h.service.UpdateStatus(c.Context(), session.ID, models.SessionStatus(strings.TrimSpace(req.Status)))
	if err != nil {
		return mapSessionError(c, err)
	}

	return c.JSON(fiber.Map{"session": updated})
}

func (h *SessionHandler) CancelSession(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	session, ok := h.loadOwned(c, userID)
	if !ok {
		return nil
	}

	var req cancelSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	updated, err := h.service.CancelSession(
		c.Context(),
		session.ID,
		userID,
		models.CancellationReason(strings.TrimSpace(req.Reason)),
		req.ReasonText,
	)
	if err != nil {
		return mapSessionError(c, err)
	}

	return c.JSON(fiber.Map{"session": updated})
}

func (h *SessionHandler) RescheduleSession(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	session, ok := h.loadOwned(c, userID)
	if !ok {
		return nil
	}

	var req rescheduleSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	newTime, err := time.Parse(time.RFC3339, strings.TrimSpace(req.NewTime))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "new_time must be a valid RFC3339 timestamp"})
	}

	updated, err := h.service.RescheduleSession(c.Context(), session.ID, userID, newTime, req.Reason)
	if err != nil {
		return mapSessionError(c, err)
	}

	return c.JSON(fiber.Map{"session": updated})
}

func (h *SessionHandler) ResetCancelled(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	session, ok := h.loadOwned(c, userID)
	if !ok {
		return nil
	}

	updated, err := h.service.ResetCancelled(c.Context(), session.ID)
	if err != nil {
		return mapSessionError(c, err)
	}

	return c.JSON(fiber.Map{"session": updated})
}

func (h *SessionHandler) DeleteSession(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	session, ok := h.loadOwned(c, userID)
	if !ok {
		return nil
	}
	// Destructive cleanup stays on the coach's side of the relationship.
	if session.CoachID != userID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	if err := h.service.DeleteSession(c.Context(), session.ID); err != nil {
		return mapSessionError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// loadOwned fetches the path session and verifies the actor is one of its
// two participants. On failure the response has already been written.
func (h *SessionHandler) loadOwned(c *fiber.Ctx, userID int64) (*models.Session, bool) {
	sessionID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || sessionID <= 0 {
		_ = c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid session id"})
		return nil, false
	}

	session, err := h.service.GetSession(c.Context(), sessionID)
	if err != nil {
		_ = mapSessionError(c, err)
		return nil, false
	}
	if session.CoachID != userID && session.ClientID != userID {
		_ = c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
		return nil, false
	}
	return session, true
}

func mapSessionError(c *fiber.Ctx, err error) error {
	var transitionErr *services.TransitionError

	switch {
	case errors.Is(err, services.ErrInvalidInput),
		errors.Is(err, services.ErrInvalidCancelReason):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrSchedulingConflict):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Requested time conflicts with another session"})
	case errors.As(err, &transitionErr):
		body := fiber.Map{"error": transitionErr.Error()}
		if len(transitionErr.Allowed) > 0 {
			body["allowed"] = transitionErr.Allowed
		}
		return c.Status(fiber.StatusUnprocessableEntity).JSON(body)
	case errors.Is(err, pgx.ErrNoRows):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Session not found"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process session request"})
	}
}
