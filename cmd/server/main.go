package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/marens-d/CoachDeskBack/internal/config"
	"github.com/marens-d/CoachDeskBack/internal/database"
	"github.com/marens-d/CoachDeskBack/internal/events"
	"github.com/marens-d/CoachDeskBack/internal/models"
	"github.com/marens-d/CoachDeskBack/internal/repository"
	"github.com/marens-d/CoachDeskBack/internal/routes"
	"github.com/marens-d/CoachDeskBack/internal/services"
	notifyws "github.com/marens-d/CoachDeskBack/internal/websocket"
	"github.com/marens-d/CoachDeskBack/pkg/logger"
	"github.com/marens-d/CoachDeskBack/pkg/utils"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	appLogger := logger.New(cfg.AppEnv)

	if cfg.DBUrl == "" {
		log.Fatal("DB_URL is required")
	}
	pool, err := database.Connect(context.Background(), cfg.DBUrl)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()
	appLogger.Info("connected to postgres")

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.NATSUrl != "" {
		natsPublisher, err := events.NewNATSPublisher(cfg.NATSUrl, appLogger)
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		publisher = natsPublisher
		appLogger.Info("connected to nats", "url", cfg.NATSUrl)
	}

	sessionRepo := repository.NewSessionRepository(pool)
	preferenceRepo := repository.NewPreferenceRepository(pool)
	reminderRepo := repository.NewReminderRepository(pool)
	feedbackRepo := repository.NewFeedbackRepository(pool)

	resolver := services.NewPreferenceResolver(preferenceRepo)

	hub := notifyws.NewHub()
	go hub.Run()

	queue := services.NewDispatchQueue(map[services.JobCategory]services.CategoryConfig{
		services.CategoryEmail: {
			Concurrency:   cfg.EmailWorkers,
			RatePerMinute: cfg.EmailRatePerMinute,
			MaxAttempts:   5,
			BackoffBase:   30 * time.Second,
		},
		services.CategoryNotification: {
			Concurrency:   cfg.NotificationWorkers,
			RatePerMinute: cfg.NotificationRatePerMinute,
			MaxAttempts:   3,
			BackoffBase:   15 * time.Second,
		},
		services.CategoryAnalytics: {Concurrency: 1, MaxAttempts: 3, BackoffBase: time.Minute},
		services.CategoryBackup:    {Concurrency: 1, MaxAttempts: 2, BackoffBase: time.Minute},
	}, appLogger)

	scheduler := services.NewReminderScheduler(sessionRepo, reminderRepo, resolver, queue, appLogger)

	feedbackCfg := services.FeedbackConfig{
		DefaultDelayHours: cfg.FeedbackDelayHours,
		MaxReminders:      cfg.FeedbackMaxReminders,
		ABTestEnabled:     cfg.ABTestEnabled,
		OptOutBaseURL:     cfg.OptOutBaseURL,
	}
	if cfg.ABTestGroupsJSON != "" {
		if err := json.Unmarshal([]byte(cfg.ABTestGroupsJSON), &feedbackCfg.ABTestGroups); err != nil {
			log.Fatalf("Invalid FEEDBACK_AB_GROUPS: %v", err)
		}
	}
	tokens := utils.NewOptOutTokenCodec(cfg.OptOutSecret, 30*24*time.Hour)
	engine, err := services.NewFeedbackEngine(feedbackRepo, resolver, queue, tokens, appLogger, feedbackCfg)
	if err != nil {
		log.Fatalf("Invalid feedback configuration: %v", err)
	}

	lifecycle := services.NewSessionLifecycle(sessionRepo, scheduler, engine, publisher, queue, appLogger)

	mustHandle(queue, services.CategoryNotification, deliveryHandler(hub, appLogger))
	mustHandle(queue, services.CategoryEmail, deliveryHandler(hub, appLogger))
	mustHandle(queue, services.CategoryAnalytics, func(_ context.Context, job *services.Job) error {
		return publisher.PublishAnalytics(job.Payload)
	})
	mustHandle(queue, services.CategoryBackup, func(_ context.Context, job *services.Job) error {
		appLogger.Info("retention snapshot recorded", "snapshot", job.Payload)
		return nil
	})
	queue.Start()

	runners := map[string]*services.IntervalRunner{
		"reminders": services.NewIntervalRunner("reminders", cfg.ReminderTick, appLogger, func(ctx context.Context) {
			if dispatched, err := scheduler.RunDueTick(ctx); err != nil {
				appLogger.Error("reminder tick", "error", err)
			} else if dispatched > 0 {
				appLogger.Info("reminders dispatched", "count", dispatched)
			}
		}),
		"feedback": services.NewIntervalRunner("feedback", cfg.FeedbackTick, appLogger, func(ctx context.Context) {
			if sent, err := engine.RunDueTick(ctx); err != nil {
				appLogger.Error("feedback tick", "error", err)
			} else if sent > 0 {
				appLogger.Info("feedback requests dispatched", "count", sent)
			}
		}),
		"cleanup": services.NewIntervalRunner("cleanup", cfg.CleanupTick, appLogger, func(ctx context.Context) {
			runCleanup(ctx, scheduler, engine, queue, appLogger)
		}),
	}
	for _, runner := range runners {
		runner.Start()
	}

	app := fiber.New()
	app.Use(cors.New())
	app.Use(fiberlogger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	routes.RegisterRoutes(app, routes.Deps{
		Cfg:       cfg,
		Lifecycle: lifecycle,
		Resolver:  resolver,
		Scheduler: scheduler,
		Feedback:  engine,
		Queue:     queue,
		Runners:   runners,
		Hub:       hub,
	})

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		appLogger.Info("shutdown signal received")
		_ = app.Shutdown()
	}()

	appLogger.Info("server starting", "port", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}

	for _, runner := range runners {
		runner.Stop()
	}
	queue.Close()
	hub.Stop()
	publisher.Close()
	appLogger.Info("shutdown complete")
}

func mustHandle(queue *services.DispatchQueue, category services.JobCategory, handler services.JobHandler) {
	if err := queue.Handle(category, handler); err != nil {
		log.Fatalf("Failed to register %s handler: %v", category, err)
	}
}

// deliveryHandler fans a NotificationMessage out to the recipient's enabled
// channels.
func deliveryHandler(hub *notifyws.Hub, appLogger *slog.Logger) services.JobHandler {
	return func(_ context.Context, job *services.Job) error {
		msg, ok := job.Payload.(services.NotificationMessage)
		if !ok {
			return fmt.Errorf("unexpected payload type %T", job.Payload)
		}

		for _, channel := range msg.Channels {
			switch channel {
			case models.ChannelInApp:
				hub.Notify(msg.Recipient.ID, notifyws.Notice{
					Kind:      msg.Kind,
					SessionID: msg.SessionID,
					Subject:   msg.Subject,
					Body:      msg.Body,
				})
			case models.ChannelEmail:
				// TODO: swap the log sink for the transactional email
				// provider once its credentials are provisioned.
				appLogger.Info("email dispatched",
					"recipient_id", msg.Recipient.ID,
					"kind", msg.Kind,
					"subject", msg.Subject)
			case models.ChannelSMS:
				appLogger.Info("sms dispatched",
					"recipient_id", msg.Recipient.ID, "kind", msg.Kind)
			case models.ChannelPush:
				appLogger.Info("push dispatched",
					"recipient_id", msg.Recipient.ID, "kind", msg.Kind)
			}
		}
		return nil
	}
}

type retentionSnapshot struct {
	RemindersPurged int64     `json:"reminders_purged"`
	FeedbackPurged  int64     `json:"feedback_purged"`
	TakenAt         time.Time `json:"taken_at"`
}

func runCleanup(
	ctx context.Context,
	scheduler *services.ReminderScheduler,
	engine *services.FeedbackEngine,
	queue *services.DispatchQueue,
	appLogger *slog.Logger,
) {
	remindersPurged, err := scheduler.RunCleanupTick(ctx)
	if err != nil {
		appLogger.Error("reminder cleanup", "error", err)
	}
	feedbackPurged, err := engine.RunCleanupTick(ctx)
	if err != nil {
		appLogger.Error("feedback cleanup", "error", err)
	}

	_, err = queue.Enqueue(services.CategoryBackup, retentionSnapshot{
		RemindersPurged: remindersPurged,
		FeedbackPurged:  feedbackPurged,
		TakenAt:         time.Now().UTC(),
	}, services.EnqueueOptions{Priority: services.PriorityLow})
	if err != nil {
		appLogger.Error("enqueue retention snapshot", "error", err)
	}
}
