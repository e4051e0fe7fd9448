package routes

import (
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/marens-d/CoachDeskBack/internal/config"
	"github.com/marens-d/CoachDeskBack/internal/handlers"
	"github.com/marens-d/CoachDeskBack/internal/middleware"
	"github.com/marens-d/CoachDeskBack/internal/services"
	notifyws "github.com/marens-d/CoachDeskBack/internal/websocket"
)

// Deps carries the wired services into route registration; construction
// happens in cmd/server so schedulers and the queue share one instance
// with the HTTP surface.
type Deps struct {
	Cfg       *config.Config
	Lifecycle *services.SessionLifecycle
	Resolver  *services.PreferenceResolver
	Scheduler *services.ReminderScheduler
	Feedback  *services.FeedbackEngine
	Queue     *services.DispatchQueue
	Runners   map[string]*services.IntervalRunner
	Hub       *notifyws.Hub
}

func RegisterRoutes(app *fiber.App, deps Deps) {
	sessionHandler := handlers.NewSessionHandler(deps.Lifecycle)
	preferenceHandler := handlers.NewPreferenceHandler(deps.Resolver)
	optOutHandler := handlers.NewOptOutHandler(deps.Feedback)
	adminHandler := handlers.NewAdminHandler(deps.Scheduler, deps.Feedback, deps.Queue, deps.Runners)
	streamHandler := handlers.NewNotificationStreamHandler(deps.Hub, deps.Cfg.JWTSecret)

	api := app.Group("/api")

	// Reached from email links, so no auth beyond the signed token.
	api.Get("/feedback/opt-out", optOutHandler.OptOut)

	v1 := api.Group("/v1", middleware.AuthRequired(deps.Cfg.JWTSecret))

	sessions := v1.Group("/sessions")
	sessions.Post("", sessionHandler.CreateSession)
	sessions.Get("", sessionHandler.ListSessions)
	sessions.Get("/:id", sessionHandler.GetSession)
	sessions.Put("/:id/status", sessionHandler.UpdateStatus)
	sessions.Post("/:id/cancel", sessionHandler.CancelSession)
	sessions.Post("/:id/reschedule", sessionHandler.RescheduleSession)
	sessions.Post("/:id/reset", sessionHandler.ResetCancelled)
	sessions.Delete("/:id", sessionHandler.DeleteSession)

	v1.Get("/preferences", preferenceHandler.GetPreferences)
	v1.Put("/preferences", preferenceHandler.UpdatePreferences)

	admin := v1.Group("/admin")
	admin.Get("/stats", adminHandler.Stats)
	admin.Get("/reminders", adminHandler.ListReminders)
	admin.Get("/queue/:category/dead-letters", adminHandler.DeadLetters)
	admin.Post("/tick/:name", adminHandler.ForceTick)

	api.Use("/v1/ws", streamHandler.WebSocketAuth)
	api.Get("/v1/ws", websocket.New(streamHandler.HandleWebSocket))
}
