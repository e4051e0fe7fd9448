package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/marens-d/CoachDeskBack/internal/models"
)

const reminderColumns = `
	id, session_id, recipient_id, recipient_type, scheduled_for, sent, sent_at, created_at
`

type ReminderRepository struct {
	db DBTX
}

func NewReminderRepository(db DBTX) *ReminderRepository {
	return &ReminderRepository{db: db}
}

// Upsert is keyed by (session_id, recipient_id, scheduled_for); scheduling
// the same instant twice is a no-op rather than a duplicate row.
func (r *ReminderRepository) Upsert(
	ctx context.Context,
	sessionID int64,
	recipient models.Recipient,
	scheduledFor time.Time,
) error {
	query := `
		INSERT INTO scheduled_reminders (session_id, recipient_id, recipient_type, scheduled_for)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id, recipient_id, scheduled_for) DO NOTHING
	`
	_, err := r.db.Exec(ctx, query, sessionID, recipient.ID, recipient.Type, scheduledFor)
	return err
}

func (r *ReminderRepository) DeleteUnsentBySession(ctx context.Context, sessionID int64) error {
	query := `DELETE FROM scheduled_reminders WHERE session_id = $1 AND sent = FALSE`
	_, err := r.db.Exec(ctx, query, sessionID)
	return err
}

func (r *ReminderRepository) ListDueUnsent(
	ctx context.Context,
	now time.Time,
) ([]models.ScheduledReminder, error) {
	query := `
		SELECT ` + reminderColumns + `
		FROM scheduled_reminders
		WHERE sent = FALSE AND scheduled_for <= $1
		ORDER BY scheduled_for ASC, id ASC
	`
	return r.list(ctx, query, now)
}

func (r *ReminderRepository) ListUnsent(ctx context.Context) ([]models.ScheduledReminder, error) {
	query := `
		SELECT ` + reminderColumns + `
		FROM scheduled_reminders
		WHERE sent = FALSE
		ORDER BY scheduled_for ASC, id ASC
	`
	return r.list(ctx, query)
}

func (r *ReminderRepository) MarkSent(ctx context.Context, reminderID int64, sentAt time.Time) error {
	query := `UPDATE scheduled_reminders SET sent = TRUE, sent_at = $2 WHERE id = $1 AND sent = FALSE`
	tag, err := r.db.Exec(ctx, query, reminderID, sentAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ReminderRepository) DeleteSentBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM scheduled_reminders WHERE sent = TRUE AND scheduled_for < $1`
	tag, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *ReminderRepository) Counts(ctx context.Context) (pending int64, sent int64, err error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE sent = FALSE),
			COUNT(*) FILTER (WHERE sent = TRUE)
		FROM scheduled_reminders
	`
	if err := r.db.QueryRow(ctx, query).Scan(&pending, &sent); err != nil {
		return 0, 0, err
	}
	return pending, sent, nil
}

func (r *ReminderRepository) list(
	ctx context.Context,
	query string,
	args ...any,
) ([]models.ScheduledReminder, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reminders := make([]models.ScheduledReminder, 0)
	for rows.Next() {
		var reminder models.ScheduledReminder
		if err := rows.Scan(
			&reminder.ID,
			&reminder.SessionID,
			&reminder.RecipientID,
			&reminder.RecipientType,
			&reminder.ScheduledFor,
			&reminder.Sent,
			&reminder.SentAt,
			&reminder.CreatedAt,
		); err != nil {
			return nil, err
		}
		reminders = append(reminders, reminder)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reminders, nil
}
