package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/marens-d/CoachDeskBack/internal/models"
	"github.com/marens-d/CoachDeskBack/internal/services"
)

type PreferenceHandler struct {
	service preferenceService
}

type preferenceService interface {
	Resolve(ctx context.Context, userID int64) (*models.NotificationPreferences, error)
	Update(ctx context.Context, prefs *models.NotificationPreferences) (*models.NotificationPreferences, error)
}

func NewPreferenceHandler(service *services.PreferenceResolver) *PreferenceHandler {
	return &PreferenceHandler{service: service}
}

func (h *PreferenceHandler) GetPreferences(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	prefs, err := h.service.Resolve(c.Context(), userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load preferences"})
	}

	return c.JSON(fiber.Map{"preferences": prefs})
}

func (h *PreferenceHandler) UpdatePreferences(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var prefs models.NotificationPreferences
	if err := c.BodyParser(&prefs); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	// Preferences always belong to the caller, whatever the body says.
	prefs.UserID = userID

	updated, err := h.service.Update(c.Context(), &prefs)
	if err != nil {
		if errors.Is(err, services.ErrInvalidPreferences) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to update preferences"})
	}

	return c.JSON(fiber.Map{"preferences": updated})
}
