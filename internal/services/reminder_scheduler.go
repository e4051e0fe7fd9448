package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/marens-d/CoachDeskBack/internal/models"
)

type sessionReader interface {
	GetByID(ctx context.Context, sessionID int64) (*models.Session, error)
}

type reminderStore interface {
	Upsert(ctx context.Context, sessionID int64, recipient models.Recipient, scheduledFor time.Time) error
	DeleteUnsentBySession(ctx context.Context, sessionID int64) error
	ListDueUnsent(ctx context.Context, now time.Time) ([]models.ScheduledReminder, error)
	ListUnsent(ctx context.Context) ([]models.ScheduledReminder, error)
	MarkSent(ctx context.Context, reminderID int64, sentAt time.Time) error
	DeleteSentBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Counts(ctx context.Context) (pending int64, sent int64, err error)
}

type channelPreferences interface {
	Resolve(ctx context.Context, userID int64) (*models.NotificationPreferences, error)
}

type jobEnqueuer interface {
	Enqueue(category JobCategory, payload any, opts EnqueueOptions) (*Job, error)
}

type ReminderStats struct {
	Pending int64 `json:"pending"`
	Sent    int64 `json:"sent"`
}

// ReminderScheduler owns the scheduled_reminders table: it derives reminder
// instants from recipient preferences when a session is (re)scheduled and
// dispatches the due ones on each tick.
type ReminderScheduler struct {
	sessions  sessionReader
	reminders reminderStore
	resolver  channelPreferences
	queue     jobEnqueuer
	logger    *slog.Logger
	retention time.Duration
	now       func() time.Time
}

func NewReminderScheduler(
	sessions sessionReader,
	reminders reminderStore,
	resolver channelPreferences,
	queue jobEnqueuer,
	logger *slog.Logger,
) *ReminderScheduler {
	return &ReminderScheduler{
		sessions:  sessions,
		reminders: reminders,
		resolver:  resolver,
		queue:     queue,
		logger:    logger,
		retention: 7 * 24 * time.Hour,
		now:       time.Now,
	}
}

// ScheduleSessionReminders creates reminder rows for both recipients of the
// session, one per configured hours-before value, keeping only instants
// still in the future.
func (s *ReminderScheduler) ScheduleSessionReminders(
	ctx context.Context,
	session *models.Session,
) error {
	now := s.now()
	var errs []error

	for _, recipient := range session.Recipients() {
		prefs, err := s.resolver.Resolve(ctx, recipient.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !prefs.SessionReminders {
			continue
		}

		hours := append([]int{prefs.ReminderHoursBefore}, prefs.AdditionalReminderHours...)
		seen := make(map[int]struct{}, len(hours))
		for _, h := range hours {
			if h <= 0 {
				continue
			}
			if _, dup := seen[h]; dup {
				continue
			}
			seen[h] = struct{}{}

			at := session.ScheduledAt.Add(-time.Duration(h) * time.Hour)
			if !at.After(now) {
				continue
			}
			if err := s.reminders.Upsert(ctx, session.ID, recipient, at); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}

func (s *ReminderScheduler) CancelSessionReminders(ctx context.Context, sessionID int64) error {
	return s.reminders.DeleteUnsentBySession(ctx, sessionID)
}

func (s *ReminderScheduler) RescheduleSessionReminders(
	ctx context.Context,
	session *models.Session,
) error {
	if err := s.reminders.DeleteUnsentBySession(ctx, session.ID); err != nil {
		return err
	}
	return s.ScheduleSessionReminders(ctx, session)
}

// RunDueTick dispatches every reminder whose instant has passed. The
// session's status is re-checked right before sending, so a cancellation
// that raced the tick suppresses the reminder instead of sending it.
func (s *ReminderScheduler) RunDueTick(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.reminders.ListDueUnsent(ctx, now)
	if err != nil {
		return 0, err
	}

	dispatched := 0
	for _, reminder := range due {
		session, err := s.sessions.GetByID(ctx, reminder.SessionID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				s.suppress(ctx, reminder, now, "session deleted")
				continue
			}
			s.logger.Error("reminder tick: fetch session",
				"session_id", reminder.SessionID, "error", err)
			continue
		}
		if session.Status == models.SessionCancelled {
			s.suppress(ctx, reminder, now, "session cancelled")
			continue
		}

		prefs, err := s.resolver.Resolve(ctx, reminder.RecipientID)
		if err != nil {
			s.logger.Error("reminder tick: resolve preferences",
				"recipient_id", reminder.RecipientID, "error", err)
			continue
		}
		if !prefs.SessionReminders {
			s.suppress(ctx, reminder, now, "reminders disabled")
			continue
		}
		channels := prefs.Channels.Enabled()
		if len(channels) == 0 {
			s.suppress(ctx, reminder, now, "no channels enabled")
			continue
		}

		msg := buildReminderMessage(session, reminder, channels)
		if _, err := s.queue.Enqueue(CategoryNotification, msg, EnqueueOptions{
			Priority: PriorityHigh,
		}); err != nil {
			s.logger.Error("reminder tick: enqueue",
				"reminder_id", reminder.ID, "error", err)
			continue
		}
		if err := s.reminders.MarkSent(ctx, reminder.ID, now); err != nil && !errors.Is(err, pgx.ErrNoRows) {
			s.logger.Error("reminder tick: mark sent",
				"reminder_id", reminder.ID, "error", err)
		}
		dispatched++
	}

	return dispatched, nil
}

// suppress marks a reminder sent without dispatching anything.
func (s *ReminderScheduler) suppress(
	ctx context.Context,
	reminder models.ScheduledReminder,
	now time.Time,
	reason string,
) {
	if err := s.reminders.MarkSent(ctx, reminder.ID, now); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		s.logger.Error("reminder tick: suppress",
			"reminder_id", reminder.ID, "reason", reason, "error", err)
		return
	}
	s.logger.Info("reminder suppressed",
		"reminder_id", reminder.ID, "session_id", reminder.SessionID, "reason", reason)
}

// RunCleanupTick purges sent reminders older than the retention window.
func (s *ReminderScheduler) RunCleanupTick(ctx context.Context) (int64, error) {
	return s.reminders.DeleteSentBefore(ctx, s.now().Add(-s.retention))
}

func (s *ReminderScheduler) ListScheduled(ctx context.Context) ([]models.ScheduledReminder, error) {
	return s.reminders.ListUnsent(ctx)
}

func (s *ReminderScheduler) Stats(ctx context.Context) (ReminderStats, error) {
	pending, sent, err := s.reminders.Counts(ctx)
	if err != nil {
		return ReminderStats{}, err
	}
	return ReminderStats{Pending: pending, Sent: sent}, nil
}
