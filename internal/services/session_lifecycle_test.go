package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/marens-d/CoachDeskBack/internal/models"
	"github.com/marens-d/CoachDeskBack/internal/repository"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type lifecycleStoreStub struct {
	session      *models.Session
	nextID       int64
	updateErr    error
	conflict     bool
	cancellation *models.CancellationRecord
	reschedule   *models.RescheduleRecord
	newTime      time.Time
	deleted      bool
}

func (s *lifecycleStoreStub) Create(
	_ context.Context,
	input repository.CreateSessionInput,
) (*models.Session, error) {
	s.nextID++
	s.session = &models.Session{
		ID:              s.nextID,
		CoachID:         input.CoachID,
		ClientID:        input.ClientID,
		ScheduledAt:     input.ScheduledAt,
		DurationMinutes: input.DurationMinutes,
		Status:          models.SessionPending,
		Notes:           input.Notes,
	}
	copied := *s.session
	return &copied, nil
}

func (s *lifecycleStoreStub) GetByID(_ context.Context, sessionID int64) (*models.Session, error) {
	if s.session == nil || s.session.ID != sessionID {
		return nil, pgx.ErrNoRows
	}
	copied := *s.session
	return &copied, nil
}

func (s *lifecycleStoreStub) List(
	_ context.Context,
	_ repository.SessionListFilter,
) ([]models.Session, error) {
	if s.session == nil {
		return nil, nil
	}
	return []models.Session{*s.session}, nil
}

func (s *lifecycleStoreStub) UpdateStatusIfCurrent(
	_ context.Context,
	sessionID int64,
	currentStatus, nextStatus models.SessionStatus,
	stampedAt time.Time,
) (*models.Session, error) {
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	if s.session == nil || s.session.ID != sessionID || s.session.Status != currentStatus {
		return nil, pgx.ErrNoRows
	}
	s.session.Status = nextStatus
	switch nextStatus {
	case models.SessionInProgress:
		s.session.InProgressAt = &stampedAt
	case models.SessionCompleted:
		s.session.CompletedAt = &stampedAt
	case models.SessionCancelled:
		s.session.CancelledAt = &stampedAt
	case models.SessionRescheduled:
		s.session.RescheduledAt = &stampedAt
	}
	copied := *s.session
	return &copied, nil
}

func (s *lifecycleStoreStub) RecordCancellation(
	_ context.Context,
	_ int64,
	record models.CancellationRecord,
) error {
	s.cancellation = &record
	return nil
}

func (s *lifecycleStoreStub) RecordReschedule(
	_ context.Context,
	_ int64,
	newScheduledAt time.Time,
	record models.RescheduleRecord,
) (*models.Session, error) {
	s.reschedule = &record
	s.newTime = newScheduledAt
	s.session.ScheduledAt = newScheduledAt
	copied := *s.session
	return &copied, nil
}

func (s *lifecycleStoreStub) Delete(_ context.Context, _ int64) error {
	s.deleted = true
	s.session = nil
	return nil
}

func (s *lifecycleStoreStub) HasConflictAt(
	_ context.Context, _ int64, _ time.Time, _ int64,
) (bool, error) {
	return s.conflict, nil
}

type plannerStub struct {
	scheduled   int
	cancelled   int
	rescheduled int
	scheduleErr error
	cancelErr   error
}

func (p *plannerStub) ScheduleSessionReminders(_ context.Context, _ *models.Session) error {
	p.scheduled++
	return p.scheduleErr
}

func (p *plannerStub) CancelSessionReminders(_ context.Context, _ int64) error {
	p.cancelled++
	return p.cancelErr
}

func (p *plannerStub) RescheduleSessionReminders(_ context.Context, _ *models.Session) error {
	p.rescheduled++
	return nil
}

type triggerStub struct {
	completed int
	cancelled int
	cancelErr error
}

func (t *triggerStub) OnSessionCompleted(_ context.Context, _ *models.Session) error {
	t.completed++
	return nil
}

func (t *triggerStub) CancelSessionFeedback(_ context.Context, _ int64) error {
	t.cancelled++
	return t.cancelErr
}

// Noon UTC keeps same-day arithmetic well clear of midnight.
var lifecycleNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestLifecycle(
	store *lifecycleStoreStub,
	planner *plannerStub,
	trigger *triggerStub,
) *SessionLifecycle {
	l := NewSessionLifecycle(store, planner, trigger, nil, nil, discardLogger())
	l.now = func() time.Time { return lifecycleNow }
	return l
}

func sessionAt(status models.SessionStatus, scheduledAt time.Time) *models.Session {
	return &models.Session{
		ID:              1,
		CoachID:         10,
		ClientID:        20,
		ScheduledAt:     scheduledAt,
		DurationMinutes: 60,
		Status:          status,
	}
}

func TestUpdateStatusTransitionTable(t *testing.T) {
	statuses := []models.SessionStatus{
		models.SessionPending,
		models.SessionInProgress,
		models.SessionCompleted,
		models.SessionCancelled,
		models.SessionRescheduled,
	}
	allowed := map[models.SessionStatus]map[models.SessionStatus]bool{
		models.SessionPending: {
			models.SessionInProgress:  true,
			models.SessionCompleted:   true,
			models.SessionCancelled:   true,
			models.SessionRescheduled: true,
		},
		models.SessionInProgress: {
			models.SessionCompleted: true,
			models.SessionCancelled: true,
		},
		models.SessionCompleted: {},
		models.SessionCancelled: {},
		models.SessionRescheduled: {
			models.SessionPending:    true,
			models.SessionInProgress: true,
			models.SessionCancelled:  true,
		},
	}

	for _, from := range statuses {
		for _, to := range statuses {
			if from == to {
				continue
			}
			t.Run(string(from)+"_to_"+string(to), func(t *testing.T) {
				// One hour in the past, same UTC day: every time guard passes,
				// so only the table decides the outcome.
				store := &lifecycleStoreStub{session: sessionAt(from, lifecycleNow.Add(-time.Hour))}
				lifecycle := newTestLifecycle(store, &plannerStub{}, &triggerStub{})

				updated, err := lifecycle.UpdateStatus(context.Background(), 1, to)
				if allowed[from][to] {
					if err != nil {
						t.Fatalf("expected %s -> %s to succeed, got %v", from, to, err)
					}
					if updated.Status != to {
						t.Fatalf("status = %q, want %q", updated.Status, to)
					}
					return
				}

				if !errors.Is(err, ErrInvalidTransition) {
					t.Fatalf("expected ErrInvalidTransition for %s -> %s, got %v", from, to, err)
				}
				var transitionErr *TransitionError
				if !errors.As(err, &transitionErr) {
					t.Fatalf("expected *TransitionError, got %T", err)
				}
				if transitionErr.From != from || transitionErr.To != to {
					t.Fatalf("error carries %s -> %s, want %s -> %s",
						transitionErr.From, transitionErr.To, from, to)
				}
			})
		}
	}
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	store := &lifecycleStoreStub{session: sessionAt(models.SessionPending, lifecycleNow.Add(time.Hour))}
	lifecycle := newTestLifecycle(store, &plannerStub{}, &triggerStub{})

	_, err := lifecycle.UpdateStatus(context.Background(), 1, "archived")
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestCompletionGuards(t *testing.T) {
	tests := []struct {
		name        string
		from        models.SessionStatus
		scheduledAt time.Time
		wantErr     error
	}{
		{"rejects a start time in the future", models.SessionInProgress, lifecycleNow.Add(time.Hour), ErrFutureCompletion},
		{"rejects pending completion on a later day", models.SessionPending, lifecycleNow.Add(-26 * time.Hour), ErrSkippedInProgress},
		{"allows pending completion on the same day", models.SessionPending, lifecycleNow.Add(-2 * time.Hour), nil},
		{"allows in-progress completion on a later day", models.SessionInProgress, lifecycleNow.Add(-30 * time.Hour), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &lifecycleStoreStub{session: sessionAt(tt.from, tt.scheduledAt)}
			lifecycle := newTestLifecycle(store, &plannerStub{}, &triggerStub{})

			_, err := lifecycle.UpdateStatus(context.Background(), 1, models.SessionCompleted)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("expected success, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestStartWindowGuard(t *testing.T) {
	tests := []struct {
		name        string
		scheduledAt time.Time
		wantErr     error
	}{
		{"rejects 25 hours early", lifecycleNow.Add(25 * time.Hour), ErrOutOfWindow},
		{"rejects 25 hours late", lifecycleNow.Add(-25 * time.Hour), ErrOutOfWindow},
		{"allows 23 hours early", lifecycleNow.Add(23 * time.Hour), nil},
		{"allows exactly 24 hours early", lifecycleNow.Add(24 * time.Hour), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &lifecycleStoreStub{session: sessionAt(models.SessionPending, tt.scheduledAt)}
			lifecycle := newTestLifecycle(store, &plannerStub{}, &triggerStub{})

			_, err := lifecycle.UpdateStatus(context.Background(), 1, models.SessionInProgress)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("expected success, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestCancellationWindowGuard(t *testing.T) {
	tests := []struct {
		name        string
		scheduledAt time.Time
		wantErr     error
	}{
		{"rejects 90 minutes before start", lifecycleNow.Add(90 * time.Minute), ErrLateCancellation},
		{"allows exactly 2 hours before start", lifecycleNow.Add(2 * time.Hour), nil},
		{"allows after the session started", lifecycleNow.Add(-time.Hour), nil},
		{"allows 3 hours before start", lifecycleNow.Add(3 * time.Hour), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &lifecycleStoreStub{session: sessionAt(models.SessionPending, tt.scheduledAt)}
			lifecycle := newTestLifecycle(store, &plannerStub{}, &triggerStub{})

			_, err := lifecycle.UpdateStatus(context.Background(), 1, models.SessionCancelled)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("expected success, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestCancelledLeavesOnlyThroughReset(t *testing.T) {
	t.Run("update status refuses the revival", func(t *testing.T) {
		store := &lifecycleStoreStub{session: sessionAt(models.SessionCancelled, lifecycleNow.Add(time.Hour))}
		lifecycle := newTestLifecycle(store, &plannerStub{}, &triggerStub{})

		_, err := lifecycle.UpdateStatus(context.Background(), 1, models.SessionPending)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("reset revives to pending and reschedules reminders", func(t *testing.T) {
		store := &lifecycleStoreStub{session: sessionAt(models.SessionCancelled, lifecycleNow.Add(48 * time.Hour))}
		planner := &plannerStub{}
		lifecycle := newTestLifecycle(store, planner, &triggerStub{})

		updated, err := lifecycle.ResetCancelled(context.Background(), 1)
		if err != nil {
			t.Fatalf("ResetCancelled: %v", err)
		}
		if updated.Status != models.SessionPending {
			t.Fatalf("status = %q, want pending", updated.Status)
		}
		if planner.scheduled != 1 {
			t.Fatalf("scheduled reminders %d times, want 1", planner.scheduled)
		}
	})

	t.Run("reset refuses non-cancelled sessions", func(t *testing.T) {
		store := &lifecycleStoreStub{session: sessionAt(models.SessionPending, lifecycleNow.Add(time.Hour))}
		lifecycle := newTestLifecycle(store, &plannerStub{}, &triggerStub{})

		_, err := lifecycle.ResetCancelled(context.Background(), 1)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
	})
}

func TestTransitionSideEffects(t *testing.T) {
	t.Run("cancellation clears reminders and feedback", func(t *testing.T) {
		store := &lifecycleStoreStub{session: sessionAt(models.SessionPending, lifecycleNow.Add(48 * time.Hour))}
		planner := &plannerStub{}
		trigger := &triggerStub{}
		lifecycle := newTestLifecycle(store, planner, trigger)

		if _, err := lifecycle.UpdateStatus(context.Background(), 1, models.SessionCancelled); err != nil {
			t.Fatalf("UpdateStatus: %v", err)
		}
		if planner.cancelled != 1 || trigger.cancelled != 1 {
			t.Fatalf("cancelled reminders %d, feedback %d; want 1 and 1",
				planner.cancelled, trigger.cancelled)
		}
	})

	t.Run("completion triggers feedback", func(t *testing.T) {
		store := &lifecycleStoreStub{session: sessionAt(models.SessionInProgress, lifecycleNow.Add(-time.Hour))}
		trigger := &triggerStub{}
		lifecycle := newTestLifecycle(store, &plannerStub{}, trigger)

		if _, err := lifecycle.UpdateStatus(context.Background(), 1, models.SessionCompleted); err != nil {
			t.Fatalf("UpdateStatus: %v", err)
		}
		if trigger.completed != 1 {
			t.Fatalf("feedback triggered %d times, want 1", trigger.completed)
		}
	})

	t.Run("side effect failures do not undo the transition", func(t *testing.T) {
		store := &lifecycleStoreStub{session: sessionAt(models.SessionPending, lifecycleNow.Add(48 * time.Hour))}
		planner := &plannerStub{cancelErr: errors.New("scheduler down")}
		trigger := &triggerStub{cancelErr: errors.New("scheduler down")}
		lifecycle := newTestLifecycle(store, planner, trigger)

		updated, err := lifecycle.UpdateStatus(context.Background(), 1, models.SessionCancelled)
		if err != nil {
			t.Fatalf("UpdateStatus: %v", err)
		}
		if updated.Status != models.SessionCancelled {
			t.Fatalf("status = %q, want cancelled", updated.Status)
		}
	})
}

func TestConcurrentTransitionLosesRace(t *testing.T) {
	store := &lifecycleStoreStub{
		session:   sessionAt(models.SessionPending, lifecycleNow.Add(48 * time.Hour)),
		updateErr: pgx.ErrNoRows,
	}
	lifecycle := newTestLifecycle(store, &plannerStub{}, &triggerStub{})

	_, err := lifecycle.UpdateStatus(context.Background(), 1, models.SessionCancelled)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on lost race, got %v", err)
	}
}

func TestCancelSession(t *testing.T) {
	t.Run("rejects unknown reasons", func(t *testing.T) {
		store := &lifecycleStoreStub{session: sessionAt(models.SessionPending, lifecycleNow.Add(48 * time.Hour))}
		lifecycle := newTestLifecycle(store, &plannerStub{}, &triggerStub{})

		_, err := lifecycle.CancelSession(context.Background(), 1, 10, "ran_out_of_coffee", nil)
		if !errors.Is(err, ErrInvalidCancelReason) {
			t.Fatalf("expected ErrInvalidCancelReason, got %v", err)
		}
	})

	t.Run("other requires reason text", func(t *testing.T) {
		store := &lifecycleStoreStub{session: sessionAt(models.SessionPending, lifecycleNow.Add(48 * time.Hour))}
		lifecycle := newTestLifecycle(store, &plannerStub{}, &triggerStub{})

		_, err := lifecycle.CancelSession(context.Background(), 1, 10, models.CancelOther, nil)
		if !errors.Is(err, ErrInvalidCancelReason) {
			t.Fatalf("expected ErrInvalidCancelReason, got %v", err)
		}
	})

	t.Run("records who cancelled and why", func(t *testing.T) {
		store := &lifecycleStoreStub{session: sessionAt(models.SessionPending, lifecycleNow.Add(48 * time.Hour))}
		lifecycle := newTestLifecycle(store, &plannerStub{}, &triggerStub{})

		updated, err := lifecycle.CancelSession(context.Background(), 1, 10, models.CancelEmergency, nil)
		if err != nil {
			t.Fatalf("CancelSession: %v", err)
		}
		if updated.Status != models.SessionCancelled {
			t.Fatalf("status = %q, want cancelled", updated.Status)
		}
		if store.cancellation == nil {
			t.Fatal("expected the cancellation record to be stored")
		}
		if store.cancellation.Reason != models.CancelEmergency || store.cancellation.CancelledBy != 10 {
			t.Fatalf("record = %+v", store.cancellation)
		}
		if updated.Cancellation == nil {
			t.Fatal("expected the returned session to carry the record")
		}
	})
}

func TestRescheduleSession(t *testing.T) {
	t.Run("rejects a new time in the past", func(t *testing.T) {
		store := &lifecycleStoreStub{session: sessionAt(models.SessionPending, lifecycleNow.Add(48 * time.Hour))}
		lifecycle := newTestLifecycle(store, &plannerStub{}, &triggerStub{})

		_, err := lifecycle.RescheduleSession(context.Background(), 1, 10, lifecycleNow.Add(-time.Hour), nil)
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("rejects a conflicting slot", func(t *testing.T) {
		store := &lifecycleStoreStub{
			session:  sessionAt(models.SessionPending, lifecycleNow.Add(48 * time.Hour)),
			conflict: true,
		}
		lifecycle := newTestLifecycle(store, &plannerStub{}, &triggerStub{})

		_, err := lifecycle.RescheduleSession(context.Background(), 1, 10, lifecycleNow.Add(72 * time.Hour), nil)
		if !errors.Is(err, ErrSchedulingConflict) {
			t.Fatalf("expected ErrSchedulingConflict, got %v", err)
		}
	})

	t.Run("moves the session and rebuilds its reminders", func(t *testing.T) {
		original := lifecycleNow.Add(48 * time.Hour)
		store := &lifecycleStoreStub{session: sessionAt(models.SessionPending, original)}
		planner := &plannerStub{}
		lifecycle := newTestLifecycle(store, planner, &triggerStub{})

		newTime := lifecycleNow.Add(72 * time.Hour)
		updated, err := lifecycle.RescheduleSession(context.Background(), 1, 10, newTime, nil)
		if err != nil {
			t.Fatalf("RescheduleSession: %v", err)
		}
		if !updated.ScheduledAt.Equal(newTime) {
			t.Fatalf("scheduled_at = %v, want %v", updated.ScheduledAt, newTime)
		}
		if store.reschedule == nil || !store.reschedule.OriginalDate.Equal(original) {
			t.Fatalf("reschedule record = %+v, want original date %v", store.reschedule, original)
		}
		if planner.rescheduled != 1 {
			t.Fatalf("rescheduled reminders %d times, want 1", planner.rescheduled)
		}
	})
}

func TestCreateSession(t *testing.T) {
	t.Run("rejects coach booking themselves", func(t *testing.T) {
		lifecycle := newTestLifecycle(&lifecycleStoreStub{}, &plannerStub{}, &triggerStub{})

		_, err := lifecycle.CreateSession(context.Background(), CreateSessionInput{
			CoachID: 10, ClientID: 10, ScheduledAt: lifecycleNow.Add(48 * time.Hour), DurationMinutes: 60,
		})
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("rejects a conflicting slot", func(t *testing.T) {
		lifecycle := newTestLifecycle(&lifecycleStoreStub{conflict: true}, &plannerStub{}, &triggerStub{})

		_, err := lifecycle.CreateSession(context.Background(), CreateSessionInput{
			CoachID: 10, ClientID: 20, ScheduledAt: lifecycleNow.Add(48 * time.Hour), DurationMinutes: 60,
		})
		if !errors.Is(err, ErrSchedulingConflict) {
			t.Fatalf("expected ErrSchedulingConflict, got %v", err)
		}
	})

	t.Run("creates pending and schedules reminders", func(t *testing.T) {
		store := &lifecycleStoreStub{}
		planner := &plannerStub{}
		lifecycle := newTestLifecycle(store, planner, &triggerStub{})

		session, err := lifecycle.CreateSession(context.Background(), CreateSessionInput{
			CoachID: 10, ClientID: 20, ScheduledAt: lifecycleNow.Add(48 * time.Hour), DurationMinutes: 60,
		})
		if err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		if session.Status != models.SessionPending {
			t.Fatalf("status = %q, want pending", session.Status)
		}
		if planner.scheduled != 1 {
			t.Fatalf("scheduled reminders %d times, want 1", planner.scheduled)
		}
	})
}

func TestDeleteSession(t *testing.T) {
	t.Run("aborts when scheduled work cannot be cancelled", func(t *testing.T) {
		store := &lifecycleStoreStub{session: sessionAt(models.SessionPending, lifecycleNow.Add(48 * time.Hour))}
		planner := &plannerStub{cancelErr: errors.New("scheduler down")}
		lifecycle := newTestLifecycle(store, planner, &triggerStub{})

		if err := lifecycle.DeleteSession(context.Background(), 1); err == nil {
			t.Fatal("expected an error")
		}
		if store.deleted {
			t.Fatal("session must not be deleted when cleanup fails")
		}
	})

	t.Run("deletes after clearing scheduled work", func(t *testing.T) {
		store := &lifecycleStoreStub{session: sessionAt(models.SessionPending, lifecycleNow.Add(48 * time.Hour))}
		planner := &plannerStub{}
		trigger := &triggerStub{}
		lifecycle := newTestLifecycle(store, planner, trigger)

		if err := lifecycle.DeleteSession(context.Background(), 1); err != nil {
			t.Fatalf("DeleteSession: %v", err)
		}
		if !store.deleted || planner.cancelled != 1 || trigger.cancelled != 1 {
			t.Fatalf("deleted=%v reminders=%d feedback=%d", store.deleted, planner.cancelled, trigger.cancelled)
		}
	})
}
