package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/marens-d/CoachDeskBack/internal/models"
	"github.com/marens-d/CoachDeskBack/internal/repository"
)

var (
	ErrInvalidABConfig    = errors.New("invalid A/B test configuration")
	ErrInvalidOptOutToken = errors.New("invalid opt-out token")
)

type feedbackStore interface {
	Create(ctx context.Context, input repository.CreateFeedbackRequestInput) (*models.FeedbackRequest, error)
	HasInitial(ctx context.Context, sessionID int64, recipientType models.RecipientType) (bool, error)
	ListDuePending(ctx context.Context, now time.Time) ([]models.FeedbackRequest, error)
	UpdateStatus(ctx context.Context, requestID int64, status models.FeedbackStatus, sentAt *time.Time) error
	DeletePendingBySession(ctx context.Context, sessionID int64) (int64, error)
	MarkPendingOptedOut(ctx context.Context, recipientID int64) (int64, error)
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
	CountsByStatus(ctx context.Context) (map[models.FeedbackStatus]int64, error)
	HasSubmission(ctx context.Context, sessionID int64, recipientID int64) (bool, error)
}

type feedbackPreferences interface {
	Resolve(ctx context.Context, userID int64) (*models.NotificationPreferences, error)
	DisableFeedback(ctx context.Context, userID int64) error
}

type optOutCodec interface {
	Encode(sessionID, recipientID int64, issuedAt time.Time) (string, error)
	Decode(token string) (sessionID, recipientID int64, issuedAt time.Time, err error)
}

type FeedbackConfig struct {
	DefaultDelayHours    int
	ReminderOffsetsHours []int
	MaxReminders         int
	ABTestEnabled        bool
	ABTestGroups         []models.ABTestGroup
	OptOutBaseURL        string
}

func DefaultFeedbackConfig() FeedbackConfig {
	return FeedbackConfig{
		DefaultDelayHours:    24,
		ReminderOffsetsHours: []int{48, 72, 168},
		MaxReminders:         3,
	}
}

type FeedbackStats struct {
	Pending   int64 `json:"pending"`
	Sent      int64 `json:"sent"`
	Completed int64 `json:"completed"`
	OptedOut  int64 `json:"opted_out"`
	Failed    int64 `json:"failed"`
}

// FeedbackEngine creates feedback requests when sessions complete, sends
// the due ones on its hourly tick, and honors permanent opt-outs.
type FeedbackEngine struct {
	feedback  feedbackStore
	resolver  feedbackPreferences
	queue     jobEnqueuer
	tokens    optOutCodec
	logger    *slog.Logger
	cfg       FeedbackConfig
	retention time.Duration
	now       func() time.Time
	randIntn  func(n int) int
}

func NewFeedbackEngine(
	feedback feedbackStore,
	resolver feedbackPreferences,
	queue jobEnqueuer,
	tokens optOutCodec,
	logger *slog.Logger,
	cfg FeedbackConfig,
) (*FeedbackEngine, error) {
	if cfg.DefaultDelayHours <= 0 {
		cfg.DefaultDelayHours = 24
	}
	if len(cfg.ReminderOffsetsHours) == 0 {
		cfg.ReminderOffsetsHours = []int{48, 72, 168}
	}
	if cfg.MaxReminders < 0 {
		cfg.MaxReminders = 0
	}
	if cfg.MaxReminders > len(cfg.ReminderOffsetsHours) {
		cfg.MaxReminders = len(cfg.ReminderOffsetsHours)
	}

	if cfg.ABTestEnabled {
		if len(cfg.ABTestGroups) == 0 {
			return nil, fmt.Errorf("%w: no groups configured", ErrInvalidABConfig)
		}
		sum := 0
		for _, group := range cfg.ABTestGroups {
			if group.Name == "" {
				return nil, fmt.Errorf("%w: group without a name", ErrInvalidABConfig)
			}
			if group.Weight <= 0 {
				return nil, fmt.Errorf("%w: group %q weight must be positive", ErrInvalidABConfig, group.Name)
			}
			sum += group.Weight
		}
		if sum != 100 {
			return nil, fmt.Errorf("%w: weights sum to %d, expected 100", ErrInvalidABConfig, sum)
		}
	}

	return &FeedbackEngine{
		feedback:  feedback,
		resolver:  resolver,
		queue:     queue,
		tokens:    tokens,
		logger:    logger,
		cfg:       cfg,
		retention: 7 * 24 * time.Hour,
		now:       time.Now,
		randIntn:  rand.Intn,
	}, nil
}

// OnSessionCompleted creates the initial request and its bounded reminder
// chain for each recipient who has feedback enabled. Recipients whose
// initial request already exists are skipped, so replays are harmless.
func (e *FeedbackEngine) OnSessionCompleted(ctx context.Context, session *models.Session) error {
	completedAt := e.now()
	if session.CompletedAt != nil {
		completedAt = *session.CompletedAt
	}

	var errs []error
	for _, recipient := range session.Recipients() {
		exists, err := e.feedback.HasInitial(ctx, session.ID, recipient.Type)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if exists {
			continue
		}

		prefs, err := e.resolver.Resolve(ctx, recipient.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !prefs.FeedbackRequests {
			continue
		}

		var groupName *string
		delayHours := e.cfg.DefaultDelayHours
		if group := e.drawGroup(); group != nil {
			groupName = &group.Name
			if group.DelayHours > 0 {
				delayHours = group.DelayHours
			}
		}

		_, err = e.feedback.Create(ctx, repository.CreateFeedbackRequestInput{
			SessionID:   session.ID,
			Recipient:   recipient,
			TriggerType: models.FeedbackTriggerInitial,
			ABTestGroup: groupName,
			ScheduledAt: completedAt.Add(time.Duration(delayHours) * time.Hour),
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}

		for i := 1; i <= e.cfg.MaxReminders; i++ {
			offset := time.Duration(e.cfg.ReminderOffsetsHours[i-1]) * time.Hour
			_, err := e.feedback.Create(ctx, repository.CreateFeedbackRequestInput{
				SessionID:      session.ID,
				Recipient:      recipient,
				TriggerType:    models.FeedbackTriggerReminder,
				ReminderNumber: i,
				ABTestGroup:    groupName,
				ScheduledAt:    completedAt.Add(offset),
			})
			if err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}

// drawGroup picks an A/B group by weighted random draw. Construction has
// already verified the weights sum to 100.
func (e *FeedbackEngine) drawGroup() *models.ABTestGroup {
	if !e.cfg.ABTestEnabled || len(e.cfg.ABTestGroups) == 0 {
		return nil
	}
	n := e.randIntn(100)
	acc := 0
	for i := range e.cfg.ABTestGroups {
		acc += e.cfg.ABTestGroups[i].Weight
		if n < acc {
			return &e.cfg.ABTestGroups[i]
		}
	}
	return nil
}

// RunDueTick sends every pending request whose scheduled instant has
// passed. Requests in a recipient's quiet hours stay pending and are
// retried on a later tick.
func (e *FeedbackEngine) RunDueTick(ctx context.Context) (int, error) {
	now := e.now()
	due, err := e.feedback.ListDuePending(ctx, now)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, request := range due {
		submitted, err := e.feedback.HasSubmission(ctx, request.SessionID, request.RecipientID)
		if err != nil {
			e.logger.Error("feedback tick: check submission",
				"request_id", request.ID, "error", err)
			continue
		}
		if submitted {
			e.setStatus(ctx, request.ID, models.FeedbackCompleted, nil)
			continue
		}

		prefs, err := e.resolver.Resolve(ctx, request.RecipientID)
		if err != nil {
			e.logger.Error("feedback tick: resolve preferences",
				"recipient_id", request.RecipientID, "error", err)
			continue
		}
		if !prefs.FeedbackRequests {
			e.setStatus(ctx, request.ID, models.FeedbackOptedOut, nil)
			continue
		}
		if IsQuietHour(prefs, now) {
			continue
		}

		channels := prefs.Channels.Enabled()
		if len(channels) == 0 {
			e.setStatus(ctx, request.ID, models.FeedbackSent, &now)
			continue
		}

		msg := e.buildMessage(request, channels, now)
		priority := PriorityMedium
		if request.TriggerType == models.FeedbackTriggerReminder {
			priority = PriorityHigh
		}
		if _, err := e.queue.Enqueue(CategoryEmail, msg, EnqueueOptions{Priority: priority}); err != nil {
			e.logger.Error("feedback tick: enqueue", "request_id", request.ID, "error", err)
			e.setStatus(ctx, request.ID, models.FeedbackFailed, nil)
			continue
		}
		e.setStatus(ctx, request.ID, models.FeedbackSent, &now)
		sent++
	}

	return sent, nil
}

func (e *FeedbackEngine) setStatus(
	ctx context.Context,
	requestID int64,
	status models.FeedbackStatus,
	sentAt *time.Time,
) {
	if err := e.feedback.UpdateStatus(ctx, requestID, status, sentAt); err != nil {
		e.logger.Error("feedback tick: update status",
			"request_id", requestID, "status", status, "error", err)
	}
}

func (e *FeedbackEngine) buildMessage(
	request models.FeedbackRequest,
	channels []string,
	now time.Time,
) NotificationMessage {
	subject, body := e.renderCopy(request)

	msg := NotificationMessage{
		Kind:      KindFeedbackRequest,
		SessionID: request.SessionID,
		Recipient: models.Recipient{ID: request.RecipientID, Type: request.RecipientType},
		Channels:  channels,
		Subject:   subject,
		Body:      body,
	}

	token, err := e.tokens.Encode(request.SessionID, request.RecipientID, now)
	if err != nil {
		e.logger.Error("feedback tick: encode opt-out token",
			"request_id", request.ID, "error", err)
		return msg
	}
	msg.OptOutURL = e.cfg.OptOutBaseURL + "?token=" + token
	return msg
}

func (e *FeedbackEngine) renderCopy(request models.FeedbackRequest) (string, string) {
	if request.TriggerType == models.FeedbackTriggerInitial {
		if group := e.groupByName(request.ABTestGroup); group != nil && group.Subject != "" {
			return group.Subject, group.Body
		}
		if request.RecipientType == models.RecipientCoach {
			return "How did the session go?",
				"Take a minute to record how your coaching session went. Your notes help your client progress."
		}
		return "How was your session?",
			"We'd love to hear how your coaching session went. Rating it takes less than a minute."
	}

	if request.ReminderNumber >= e.cfg.MaxReminders {
		return "Last chance to share your feedback",
			"This is our final reminder: your session feedback window closes soon."
	}
	return "Reminder: share your session feedback",
		"You haven't rated your recent coaching session yet. It only takes a minute."
}

func (e *FeedbackEngine) groupByName(name *string) *models.ABTestGroup {
	if name == nil {
		return nil
	}
	for i := range e.cfg.ABTestGroups {
		if e.cfg.ABTestGroups[i].Name == *name {
			return &e.cfg.ABTestGroups[i]
		}
	}
	return nil
}

// HandleOptOut decodes a signed opt-out token, permanently disables
// feedback notifications for the recipient, and closes out every request
// still pending for them.
func (e *FeedbackEngine) HandleOptOut(ctx context.Context, token string) (int64, error) {
	sessionID, recipientID, _, err := e.tokens.Decode(token)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidOptOutToken, err)
	}

	if err := e.resolver.DisableFeedback(ctx, recipientID); err != nil {
		return 0, err
	}

	marked, err := e.feedback.MarkPendingOptedOut(ctx, recipientID)
	if err != nil {
		return 0, err
	}

	e.logger.Info("feedback opt-out processed",
		"session_id", sessionID, "recipient_id", recipientID, "requests_closed", marked)
	return recipientID, nil
}

func (e *FeedbackEngine) CancelSessionFeedback(ctx context.Context, sessionID int64) error {
	_, err := e.feedback.DeletePendingBySession(ctx, sessionID)
	return err
}

// RunCleanupTick removes terminal requests and anything older than the
// retention window.
func (e *FeedbackEngine) RunCleanupTick(ctx context.Context) (int64, error) {
	return e.feedback.DeleteExpired(ctx, e.now().Add(-e.retention))
}

func (e *FeedbackEngine) Stats(ctx context.Context) (FeedbackStats, error) {
	counts, err := e.feedback.CountsByStatus(ctx)
	if err != nil {
		return FeedbackStats{}, err
	}
	return FeedbackStats{
		Pending:   counts[models.FeedbackPending],
		Sent:      counts[models.FeedbackSent],
		Completed: counts[models.FeedbackCompleted],
		OptedOut:  counts[models.FeedbackOptedOut],
		Failed:    counts[models.FeedbackFailed],
	}, nil
}
