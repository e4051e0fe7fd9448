package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/marens-d/CoachDeskBack/internal/models"
	"github.com/marens-d/CoachDeskBack/internal/services"
)

type AdminHandler struct {
	reminders reminderOps
	feedback  feedbackOps
	queue     queueOps
	runners   map[string]tickRunner
}

type reminderOps interface {
	ListScheduled(ctx context.Context) ([]models.ScheduledReminder, error)
	Stats(ctx context.Context) (services.ReminderStats, error)
}

type feedbackOps interface {
	Stats(ctx context.Context) (services.FeedbackStats, error)
}

type queueOps interface {
	Stats() map[services.JobCategory]services.CategoryStats
	DeadLetters(category services.JobCategory) ([]services.Job, error)
}

type tickRunner interface {
	RunNow() bool
}

func NewAdminHandler(
	reminders *services.ReminderScheduler,
	feedback *services.FeedbackEngine,
	queue *services.DispatchQueue,
	runners map[string]*services.IntervalRunner,
) *AdminHandler {
	wrapped := make(map[string]tickRunner, len(runners))
	for name, runner := range runners {
		wrapped[name] = runner
	}
	return &AdminHandler{
		reminders: reminders,
		feedback:  feedback,
		queue:     queue,
		runners:   wrapped,
	}
}

func requireAdmin(c *fiber.Ctx) bool {
	return currentRole(c) == "admin"
}

func (h *AdminHandler) Stats(c *fiber.Ctx) error {
	if !requireAdmin(c) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	reminderStats, err := h.reminders.Stats(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load stats"})
	}
	feedbackStats, err := h.feedback.Stats(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load stats"})
	}

	return c.JSON(fiber.Map{
		"reminders": reminderStats,
		"feedback":  feedbackStats,
		"queue":     h.queue.Stats(),
	})
}

func (h *AdminHandler) ListReminders(c *fiber.Ctx) error {
	if !requireAdmin(c) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	reminders, err := h.reminders.ListScheduled(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load reminders"})
	}

	return c.JSON(fiber.Map{"reminders": reminders})
}

func (h *AdminHandler) DeadLetters(c *fiber.Ctx) error {
	if !requireAdmin(c) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	jobs, err := h.queue.DeadLetters(services.JobCategory(c.Params("category")))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Unknown category"})
	}

	return c.JSON(fiber.Map{"dead_letters": jobs})
}

// ForceTick runs one named scheduler pass immediately, outside its interval.
func (h *AdminHandler) ForceTick(c *fiber.Ctx) error {
	if !requireAdmin(c) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	runner, ok := h.runners[c.Params("name")]
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Unknown scheduler"})
	}
	if !runner.RunNow() {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "A run is already in flight"})
	}

	return c.JSON(fiber.Map{"message": "Tick completed"})
}
