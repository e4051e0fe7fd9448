package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/marens-d/CoachDeskBack/internal/services"
)

type OptOutHandler struct {
	service optOutService
}

type optOutService interface {
	HandleOptOut(ctx context.Context, token string) (int64, error)
}

func NewOptOutHandler(service *services.FeedbackEngine) *OptOutHandler {
	return &OptOutHandler{service: service}
}

// OptOut is the public, unauthenticated endpoint behind the one-click link
// in feedback emails. The signed token is the only credential.
func (h *OptOutHandler) OptOut(c *fiber.Ctx) error {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "token is required"})
	}

	if _, err := h.service.HandleOptOut(c.Context(), token); err != nil {
		if errors.Is(err, services.ErrInvalidOptOutToken) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid or expired opt-out link"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process opt-out"})
	}

	return c.JSON(fiber.Map{
		"message": "You will no longer receive feedback requests.",
	})
}
