package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/marens-d/CoachDeskBack/internal/models"
	"github.com/marens-d/CoachDeskBack/internal/repository"
	"github.com/marens-d/CoachDeskBack/internal/services"
)

type stubLifecycleService struct {
	createResult     *models.Session
	createErr        error
	getResult        *models.Session
	getErr           error
	listResult       []models.Session
	listErr          error
	updateResult     *models.Session
	updateErr        error
	cancelResult     *models.Session
	cancelErr        error
	rescheduleResult *models.Session
	rescheduleErr    error
	resetResult      *models.Session
	resetErr         error
	deleteErr        error

	lastCreateInput services.CreateSessionInput
	lastSessionID   int64
	lastStatus      models.SessionStatus
	lastCancelledBy int64
	lastReason      models.CancellationReason
	lastNewTime     time.Time
	lastListFilter  repository.SessionListFilter
	deleted         bool
}

func (s *stubLifecycleService) CreateSession(_ context.Context, input services.CreateSessionInput) (*models.Session, error) {
	s.lastCreateInput = input
	return s.createResult, s.createErr
}

func (s *stubLifecycleService) GetSession(_ context.Context, sessionID int64) (*models.Session, error) {
	s.lastSessionID = sessionID
	return s.getResult, s.getErr
}

func (s *stubLifecycleService) ListSessions(_ context.Context, filter repository.SessionListFilter) ([]models.Session, error) {
	s.lastListFilter = filter
	return s.listResult, s.listErr
}

func (s *stubLifecycleService) UpdateStatus(_ context.Context, sessionID int64, next models.SessionStatus) (*models.Session, error) {
	s.lastSessionID = sessionID
	s.lastStatus = next
	return s.updateResult, s.updateErr
}

func (s *stubLifecycleService) CancelSession(_ context.Context, sessionID, cancelledBy int64, reason models.CancellationReason, _ *string) (*models.Session, error) {
	s.lastSessionID = sessionID
	s.lastCancelledBy = cancelledBy
	s.lastReason = reason
	return s.cancelResult, s.cancelErr
}

func (s *stubLifecycleService) RescheduleSession(_ context.Context, sessionID, _ int64, newTime time.Time, _ *string) (*models.Session, error) {
	s.lastSessionID = sessionID
	s.lastNewTime = newTime
	return s.rescheduleResult, s.rescheduleErr
}

func (s *stubLifecycleService) ResetCancelled(_ context.Context, sessionID int64) (*models.Session, error) {
	s.lastSessionID = sessionID
	return s.resetResult, s.resetErr
}

func (s *stubLifecycleService) DeleteSession(_ context.Context, sessionID int64) error {
	s.lastSessionID = sessionID
	s.deleted = true
	return s.deleteErr
}

func newSessionTestApp(service sessionLifecycleService, userID int64, role string) *fiber.App {
	handler := &SessionHandler{service: service}

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", userID)
		c.Locals("role", role)
		return c.Next()
	})
	app.Post("/api/v1/sessions", handler.CreateSession)
	app.Get("/api/v1/sessions", handler.ListSessions)
	app.Get("/api/v1/sessions/:id", handler.GetSession)
	app.Put("/api/v1/sessions/:id/status", handler.UpdateStatus)
	app.Post("/api/v1/sessions/:id/cancel", handler.CancelSession)
	app.Post("/api/v1/sessions/:id/reschedule", handler.RescheduleSession)
	app.Post("/api/v1/sessions/:id/reset", handler.ResetCancelled)
	app.Delete("/api/v1/sessions/:id", handler.DeleteSession)
	return app
}

func ownedSession(coachID, clientID int64, status models.SessionStatus) *models.Session {
	return &models.Session{
		ID:              55,
		CoachID:         coachID,
		ClientID:        clientID,
		ScheduledAt:     time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC),
		DurationMinutes: 60,
		Status:          status,
	}
}

func TestCreateSessionFillsCallerSide(t *testing.T) {
	service := &stubLifecycleService{
		createResult: ownedSession(7, 42, models.SessionPending),
	}
	app := newSessionTestApp(service, 42, "client")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", strings.NewReader(`{
		"coach_id": 7,
		"client_id": 999,
		"scheduled_at": "2026-03-15T09:00:00Z",
		"duration_minutes": 60,
		"notes": "focus on mobility"
	}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if service.lastCreateInput.ClientID != 42 {
		t.Fatalf("expected client side forced to caller 42, got %d", service.lastCreateInput.ClientID)
	}
	if service.lastCreateInput.CoachID != 7 {
		t.Fatalf("expected coach id 7, got %d", service.lastCreateInput.CoachID)
	}
	if service.lastCreateInput.DurationMinutes != 60 {
		t.Fatalf("expected 60 minutes, got %d", service.lastCreateInput.DurationMinutes)
	}
}

func TestCreateSessionRejectsBadTimestamp(t *testing.T) {
	service := &stubLifecycleService{}
	app := newSessionTestApp(service, 7, "coach")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", strings.NewReader(`{
		"client_id": 42,
		"scheduled_at": "tomorrow",
		"duration_minutes": 60
	}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestCreateSessionReturnsConflict(t *testing.T) {
	service := &stubLifecycleService{createErr: services.ErrSchedulingConflict}
	app := newSessionTestApp(service, 7, "coach")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", strings.NewReader(`{
		"client_id": 42,
		"scheduled_at": "2026-03-15T09:00:00Z",
		"duration_minutes": 60
	}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestListSessionsPassesFilter(t *testing.T) {
	service := &stubLifecycleService{
		listResult: []models.Session{*ownedSession(9, 42, models.SessionPending)},
	}
	app := newSessionTestApp(service, 9, "coach")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions?status=pending&timeframe=upcoming", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if service.lastListFilter.ActorID != 9 || service.lastListFilter.Role != "coach" {
		t.Fatalf("unexpected filter actor: %+v", service.lastListFilter)
	}
	if service.lastListFilter.Status != "pending" || service.lastListFilter.Timeframe != "upcoming" {
		t.Fatalf("unexpected filter: %+v", service.lastListFilter)
	}
}

func TestListSessionsRejectsUnknownTimeframe(t *testing.T) {
	service := &stubLifecycleService{}
	app := newSessionTestApp(service, 9, "coach")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions?timeframe=yesterday", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestGetSessionReturnsNotFound(t *testing.T) {
	service := &stubLifecycleService{getErr: pgx.ErrNoRows}
	app := newSessionTestApp(service, 42, "client")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/999", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestGetSessionForbidsNonParticipant(t *testing.T) {
	service := &stubLifecycleService{getResult: ownedSession(7, 42, models.SessionPending)}
	app := newSessionTestApp(service, 1000, "coach")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/55", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestUpdateStatusReturnsUnprocessableWithAllowedTargets(t *testing.T) {
	service := &stubLifecycleService{
		getResult: ownedSession(7, 42, models.SessionCompleted),
		updateErr: &services.TransitionError{
			Kind: services.ErrInvalidTransition,
			From: models.SessionCompleted,
			To:   models.SessionPending,
		},
	}
	app := newSessionTestApp(service, 7, "coach")

	req := httptest.NewRequest(http.MethodPut, "/api/v1/sessions/55/status", strings.NewReader(`{"status":"pending"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
	if service.lastStatus != models.SessionPending {
		t.Fatalf("expected forwarded status, got %q", service.lastStatus)
	}
}

func TestUpdateStatusIncludesAllowedListInBody(t *testing.T) {
	service := &stubLifecycleService{
		getResult: ownedSession(7, 42, models.SessionPending),
		updateErr: &services.TransitionError{
			Kind:    services.ErrInvalidTransition,
			From:    models.SessionPending,
			To:      models.SessionRescheduled,
			Allowed: []models.SessionStatus{models.SessionInProgress, models.SessionCancelled},
		},
	}
	app := newSessionTestApp(service, 42, "client")

	req := httptest.NewRequest(http.MethodPut, "/api/v1/sessions/55/status", strings.NewReader(`{"status":"rescheduled"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}

	var body struct {
		Allowed []string `json:"allowed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(body.Allowed) != 2 {
		t.Fatalf("expected 2 allowed targets, got %v", body.Allowed)
	}
}

func TestCancelSessionForwardsReason(t *testing.T) {
	service := &stubLifecycleService{
		getResult:    ownedSession(7, 42, models.SessionPending),
		cancelResult: ownedSession(7, 42, models.SessionCancelled),
	}
	app := newSessionTestApp(service, 42, "client")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/55/cancel", strings.NewReader(`{"reason":"client_request"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if service.lastReason != models.CancelClientRequest {
		t.Fatalf("expected forwarded reason, got %q", service.lastReason)
	}
	if service.lastCancelledBy != 42 {
		t.Fatalf("expected caller as canceller, got %d", service.lastCancelledBy)
	}
}

func TestCancelSessionRejectsUnknownReason(t *testing.T) {
	service := &stubLifecycleService{
		getResult: ownedSession(7, 42, models.SessionPending),
		cancelErr: services.ErrInvalidCancelReason,
	}
	app := newSessionTestApp(service, 42, "client")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/55/cancel", strings.NewReader(`{"reason":"bored"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestRescheduleSessionParsesNewTime(t *testing.T) {
	newTime := time.Date(2026, 3, 20, 14, 0, 0, 0, time.UTC)
	service := &stubLifecycleService{
		getResult:        ownedSession(7, 42, models.SessionPending),
		rescheduleResult: ownedSession(7, 42, models.SessionRescheduled),
	}
	app := newSessionTestApp(service, 7, "coach")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/55/reschedule", strings.NewReader(`{
		"new_time": "2026-03-20T14:00:00Z",
		"reason": "clinic closed"
	}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !service.lastNewTime.Equal(newTime) {
		t.Fatalf("expected forwarded new time %v, got %v", newTime, service.lastNewTime)
	}
}

func TestResetCancelledReturnsSession(t *testing.T) {
	service := &stubLifecycleService{
		getResult:   ownedSession(7, 42, models.SessionCancelled),
		resetResult: ownedSession(7, 42, models.SessionPending),
	}
	app := newSessionTestApp(service, 7, "coach")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/55/reset", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		Session models.Session `json:"session"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if body.Session.Status != models.SessionPending {
		t.Fatalf("expected pending status, got %q", body.Session.Status)
	}
}

func TestDeleteSessionRequiresCoach(t *testing.T) {
	service := &stubLifecycleService{getResult: ownedSession(7, 42, models.SessionPending)}
	app := newSessionTestApp(service, 42, "client")

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/sessions/55", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	if service.deleted {
		t.Fatal("expected delete to be blocked")
	}
}

func TestDeleteSessionReturnsNoContent(t *testing.T) {
	service := &stubLifecycleService{getResult: ownedSession(7, 42, models.SessionPending)}
	app := newSessionTestApp(service, 7, "coach")

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/sessions/55", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if !service.deleted {
		t.Fatal("expected delete to reach the service")
	}
}

func TestMapSessionErrorDefaultsToInternalServerError(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		return mapSessionError(c, errors.New("boom"))
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
}
