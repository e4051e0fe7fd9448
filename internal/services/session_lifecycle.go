package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/marens-d/CoachDeskBack/internal/models"
	"github.com/marens-d/CoachDeskBack/internal/repository"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrFutureCompletion    = errors.New("cannot complete a session that has not started yet")
	ErrSkippedInProgress   = errors.New("session must go through in-progress before completion")
	ErrOutOfWindow         = errors.New("session can only be started within 24 hours of its scheduled time")
	ErrLateCancellation    = errors.New("cannot cancel within 2 hours of start")
	ErrSchedulingConflict  = errors.New("coach already has a session at that time")
	ErrInvalidCancelReason = errors.New("invalid cancellation reason")
)

// TransitionError is returned for every rejected transition. Kind is one of
// the sentinel errors above so callers can match with errors.Is; Allowed
// carries the legal target set for the session's current status.
type TransitionError struct {
	Kind    error
	From    models.SessionStatus
	To      models.SessionStatus
	Allowed []models.SessionStatus
}

func (e *TransitionError) Error() string {
	if errors.Is(e.Kind, ErrInvalidTransition) {
		return fmt.Sprintf("cannot move session from %q to %q; allowed targets: %v",
			e.From, e.To, e.Allowed)
	}
	return fmt.Sprintf("%v (from %q to %q)", e.Kind, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return e.Kind }

// transitionTable lists the targets reachable through UpdateStatus.
// cancelled → pending exists too but only through ResetCancelled.
var transitionTable = map[models.SessionStatus][]models.SessionStatus{
	models.SessionPending:     {models.SessionInProgress, models.SessionCompleted, models.SessionCancelled, models.SessionRescheduled},
	models.SessionInProgress:  {models.SessionCompleted, models.SessionCancelled},
	models.SessionCompleted:   {},
	models.SessionCancelled:   {},
	models.SessionRescheduled: {models.SessionPending, models.SessionInProgress, models.SessionCancelled},
}

func AllowedTransitions(from models.SessionStatus) []models.SessionStatus {
	allowed := transitionTable[from]
	out := make([]models.SessionStatus, len(allowed))
	copy(out, allowed)
	return out
}

type sessionStore interface {
	Create(ctx context.Context, input repository.CreateSessionInput) (*models.Session, error)
	GetByID(ctx context.Context, sessionID int64) (*models.Session, error)
	List(ctx context.Context, filter repository.SessionListFilter) ([]models.Session, error)
	UpdateStatusIfCurrent(ctx context.Context, sessionID int64, currentStatus, nextStatus models.SessionStatus, stampedAt time.Time) (*models.Session, error)
	RecordCancellation(ctx context.Context, sessionID int64, record models.CancellationRecord) error
	RecordReschedule(ctx context.Context, sessionID int64, newScheduledAt time.Time, record models.RescheduleRecord) (*models.Session, error)
	Delete(ctx context.Context, sessionID int64) error
	HasConflictAt(ctx context.Context, coachID int64, requestedTime time.Time, excludedSessionID int64) (bool, error)
}

type reminderPlanner interface {
	ScheduleSessionReminders(ctx context.Context, session *models.Session) error
	CancelSessionReminders(ctx context.Context, sessionID int64) error
	RescheduleSessionReminders(ctx context.Context, session *models.Session) error
}

type feedbackTrigger interface {
	OnSessionCompleted(ctx context.Context, session *models.Session) error
	CancelSessionFeedback(ctx context.Context, sessionID int64) error
}

type lifecycleEvents interface {
	PublishSessionEvent(eventType string, session *models.Session) error
}

// SessionAnalyticsEvent is the payload queued on the analytics category for
// every accepted transition.
type SessionAnalyticsEvent struct {
	Event     string               `json:"event"`
	SessionID int64                `json:"session_id"`
	From      models.SessionStatus `json:"from,omitempty"`
	To        models.SessionStatus `json:"to,omitempty"`
	At        time.Time            `json:"at"`
}

// SessionLifecycle is the only writer of session status. Every accepted
// transition stamps its timestamp, and scheduling side effects are
// best-effort: the status change is authoritative even when its
// notifications could not be scheduled.
type SessionLifecycle struct {
	sessions  sessionStore
	reminders reminderPlanner
	feedback  feedbackTrigger
	events    lifecycleEvents
	queue     jobEnqueuer
	logger    *slog.Logger
	now       func() time.Time
}

func NewSessionLifecycle(
	sessions sessionStore,
	reminders reminderPlanner,
	feedback feedbackTrigger,
	events lifecycleEvents,
	queue jobEnqueuer,
	logger *slog.Logger,
) *SessionLifecycle {
	return &SessionLifecycle{
		sessions:  sessions,
		reminders: reminders,
		feedback:  feedback,
		events:    events,
		queue:     queue,
		logger:    logger,
		now:       time.Now,
	}
}

type CreateSessionInput struct {
	CoachID         int64
	ClientID        int64
	ScheduledAt     time.Time
	DurationMinutes int
	Notes           *string
}

func (l *SessionLifecycle) CreateSession(
	ctx context.Context,
	input CreateSessionInput,
) (*models.Session, error) {
	if input.CoachID <= 0 || input.ClientID <= 0 || input.DurationMinutes <= 0 {
		return nil, ErrInvalidInput
	}
	if input.CoachID == input.ClientID {
		return nil, ErrInvalidInput
	}
	if input.ScheduledAt.Before(l.now().Add(-1 * time.Minute)) {
		return nil, fmt.Errorf("%w: scheduled time is in the past", ErrInvalidInput)
	}

	conflict, err := l.sessions.HasConflictAt(ctx, input.CoachID, input.ScheduledAt.UTC(), 0)
	if err != nil {
		return nil, err
	}
	if conflict {
		return nil, ErrSchedulingConflict
	}

	session, err := l.sessions.Create(ctx, repository.CreateSessionInput{
		CoachID:         input.CoachID,
		ClientID:        input.ClientID,
		ScheduledAt:     input.ScheduledAt.UTC(),
		DurationMinutes: input.DurationMinutes,
		Notes:           input.Notes,
	})
	if err != nil {
		return nil, err
	}

	if err := l.reminders.ScheduleSessionReminders(ctx, session); err != nil {
		l.logger.Error("schedule reminders after create",
			"session_id", session.ID, "error", err)
	}
	l.publish("session.created", session)
	l.enqueueAnalytics("session.created", session, "", session.Status)

	return session, nil
}

func (l *SessionLifecycle) GetSession(ctx context.Context, sessionID int64) (*models.Session, error) {
	return l.sessions.GetByID(ctx, sessionID)
}

func (l *SessionLifecycle) ListSessions(
	ctx context.Context,
	filter repository.SessionListFilter,
) ([]models.Session, error) {
	return l.sessions.List(ctx, filter)
}

// UpdateStatus applies one transition from the table above after running
// the time guards for the target status.
func (l *SessionLifecycle) UpdateStatus(
	ctx context.Context,
	sessionID int64,
	next models.SessionStatus,
) (*models.Session, error) {
	if !models.ValidSessionStatus(next) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, next)
	}

	session, err := l.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if !targetAllowed(session.Status, next) {
		return nil, &TransitionError{
			Kind:    ErrInvalidTransition,
			From:    session.Status,
			To:      next,
			Allowed: AllowedTransitions(session.Status),
		}
	}
	if err := l.checkGuards(session, next); err != nil {
		return nil, err
	}

	return l.apply(ctx, session, next)
}

func targetAllowed(from, to models.SessionStatus) bool {
	for _, allowed := range transitionTable[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (l *SessionLifecycle) checkGuards(session *models.Session, next models.SessionStatus) error {
	now := l.now()
	fail := func(kind error) error {
		return &TransitionError{
			Kind:    kind,
			From:    session.Status,
			To:      next,
			Allowed: AllowedTransitions(session.Status),
		}
	}

	switch next {
	case models.SessionCompleted:
		if session.ScheduledAt.After(now) {
			return fail(ErrFutureCompletion)
		}
		// A pending session completed on a later day never went through
		// in-progress; same-day completions are exempt.
		if session.Status == models.SessionPending && !sameDayUTC(session.ScheduledAt, now) {
			return fail(ErrSkippedInProgress)
		}
	case models.SessionInProgress:
		if d := session.ScheduledAt.Sub(now); d > 24*time.Hour || d < -24*time.Hour {
			return fail(ErrOutOfWindow)
		}
	case models.SessionCancelled:
		if session.Status != models.SessionCancelled {
			hoursUntil := session.ScheduledAt.Sub(now).Hours()
			if hoursUntil > 0 && hoursUntil < 2 {
				return fail(ErrLateCancellation)
			}
		}
	}
	return nil
}

func sameDayUTC(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func (l *SessionLifecycle) apply(
	ctx context.Context,
	session *models.Session,
	next models.SessionStatus,
) (*models.Session, error) {
	updated, err := l.sessions.UpdateStatusIfCurrent(ctx, session.ID, session.Status, next, l.now())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost a race with a concurrent transition.
			return nil, &TransitionError{
				Kind:    ErrInvalidTransition,
				From:    session.Status,
				To:      next,
				Allowed: AllowedTransitions(session.Status),
			}
		}
		return nil, err
	}

	l.afterTransition(ctx, session.Status, updated)
	return updated, nil
}

func (l *SessionLifecycle) afterTransition(
	ctx context.Context,
	from models.SessionStatus,
	session *models.Session,
) {
	l.publish("session."+string(session.Status), session)
	l.enqueueAnalytics("session.status_changed", session, from, session.Status)

	switch session.Status {
	case models.SessionCancelled:
		if err := l.reminders.CancelSessionReminders(ctx, session.ID); err != nil {
			l.logger.Error("cancel reminders after cancellation",
				"session_id", session.ID, "error", err)
		}
		if err := l.feedback.CancelSessionFeedback(ctx, session.ID); err != nil {
			l.logger.Error("cancel feedback after cancellation",
				"session_id", session.ID, "error", err)
		}
	case models.SessionCompleted:
		if err := l.feedback.OnSessionCompleted(ctx, session); err != nil {
			l.logger.Error("trigger feedback after completion",
				"session_id", session.ID, "error", err)
		}
	}
}

// CancelSession wraps the cancelled transition with reason validation and
// the cancellation record.
func (l *SessionLifecycle) CancelSession(
	ctx context.Context,
	sessionID int64,
	cancelledBy int64,
	reason models.CancellationReason,
	reasonText *string,
) (*models.Session, error) {
	if !models.ValidCancellationReason(reason) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCancelReason, reason)
	}
	if reason == models.CancelOther && (reasonText == nil || strings.TrimSpace(*reasonText) == "") {
		return nil, fmt.Errorf("%w: reason text is required for %q", ErrInvalidCancelReason, reason)
	}

	updated, err := l.UpdateStatus(ctx, sessionID, models.SessionCancelled)
	if err != nil {
		return nil, err
	}

	record := models.CancellationRecord{
		Reason:      reason,
		ReasonText:  reasonText,
		CancelledBy: cancelledBy,
		CancelledAt: l.now(),
	}
	if updated.CancelledAt != nil {
		record.CancelledAt = *updated.CancelledAt
	}
	if err := l.sessions.RecordCancellation(ctx, sessionID, record); err != nil {
		// The transition is authoritative; the record is bookkeeping.
		l.logger.Error("record cancellation", "session_id", sessionID, "error", err)
	}
	updated.Cancellation = &record

	return updated, nil
}

// RescheduleSession moves the session to a new time. The new time must be
// in the future and free of conflicts with the coach's other active
// sessions at that exact instant.
func (l *SessionLifecycle) RescheduleSession(
	ctx context.Context,
	sessionID int64,
	rescheduledBy int64,
	newTime time.Time,
	reason *string,
) (*models.Session, error) {
	session, err := l.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if newTime.Before(l.now()) {
		return nil, fmt.Errorf("%w: new time is in the past", ErrInvalidInput)
	}
	conflict, err := l.sessions.HasConflictAt(ctx, session.CoachID, newTime.UTC(), session.ID)
	if err != nil {
		return nil, err
	}
	if conflict {
		return nil, ErrSchedulingConflict
	}

	updated, err := l.UpdateStatus(ctx, sessionID, models.SessionRescheduled)
	if err != nil {
		return nil, err
	}

	record := models.RescheduleRecord{
		OriginalDate:  session.ScheduledAt,
		Reason:        reason,
		RescheduledBy: rescheduledBy,
		RescheduledAt: l.now(),
	}
	if updated.RescheduledAt != nil {
		record.RescheduledAt = *updated.RescheduledAt
	}
	updated, err = l.sessions.RecordReschedule(ctx, sessionID, newTime.UTC(), record)
	if err != nil {
		return nil, err
	}

	if err := l.reminders.RescheduleSessionReminders(ctx, updated); err != nil {
		l.logger.Error("reschedule reminders", "session_id", sessionID, "error", err)
	}

	return updated, nil
}

// ResetCancelled is the one exception to cancelled being terminal: an
// explicit reset back to pending.
func (l *SessionLifecycle) ResetCancelled(
	ctx context.Context,
	sessionID int64,
) (*models.Session, error) {
	session, err := l.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionCancelled {
		return nil, &TransitionError{
			Kind:    ErrInvalidTransition,
			From:    session.Status,
			To:      models.SessionPending,
			Allowed: AllowedTransitions(session.Status),
		}
	}

	updated, err := l.sessions.UpdateStatusIfCurrent(
		ctx, sessionID, models.SessionCancelled, models.SessionPending, l.now())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &TransitionError{
				Kind: ErrInvalidTransition,
				From: session.Status,
				To:   models.SessionPending,
			}
		}
		return nil, err
	}

	if err := l.reminders.ScheduleSessionReminders(ctx, updated); err != nil {
		l.logger.Error("schedule reminders after reset",
			"session_id", sessionID, "error", err)
	}
	l.publish("session.pending", updated)
	l.enqueueAnalytics("session.reset", updated, models.SessionCancelled, updated.Status)

	return updated, nil
}

// DeleteSession destroys the session. All scheduled work must be cancelled
// first; a failure there aborts the deletion.
func (l *SessionLifecycle) DeleteSession(ctx context.Context, sessionID int64) error {
	session, err := l.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}

	if err := l.reminders.CancelSessionReminders(ctx, sessionID); err != nil {
		return fmt.Errorf("cancel reminders before delete: %w", err)
	}
	if err := l.feedback.CancelSessionFeedback(ctx, sessionID); err != nil {
		return fmt.Errorf("cancel feedback before delete: %w", err)
	}
	if err := l.sessions.Delete(ctx, sessionID); err != nil {
		return err
	}

	l.publish("session.deleted", session)
	l.enqueueAnalytics("session.deleted", session, session.Status, "")
	return nil
}

func (l *SessionLifecycle) publish(eventType string, session *models.Session) {
	if l.events == nil {
		return
	}
	if err := l.events.PublishSessionEvent(eventType, session); err != nil {
		l.logger.Warn("publish lifecycle event",
			"event", eventType, "session_id", session.ID, "error", err)
	}
}

func (l *SessionLifecycle) enqueueAnalytics(
	event string,
	session *models.Session,
	from, to models.SessionStatus,
) {
	if l.queue == nil {
		return
	}
	_, err := l.queue.Enqueue(CategoryAnalytics, SessionAnalyticsEvent{
		Event:     event,
		SessionID: session.ID,
		From:      from,
		To:        to,
		At:        l.now(),
	}, EnqueueOptions{Priority: PriorityLow})
	if err != nil && !errors.Is(err, ErrQueueClosed) {
		l.logger.Warn("enqueue analytics event",
			"event", event, "session_id", session.ID, "error", err)
	}
}
