package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/marens-d/CoachDeskBack/internal/models"
)

const feedbackColumns = `
	id, session_id, recipient_id, recipient_type, trigger_type, reminder_number,
	ab_test_group, scheduled_at, sent_at, status, created_at
`

type CreateFeedbackRequestInput struct {
	SessionID      int64
	Recipient      models.Recipient
	TriggerType    models.FeedbackTriggerType
	ReminderNumber int
	ABTestGroup    *string
	ScheduledAt    time.Time
}

type FeedbackRepository struct {
	db DBTX
}

func NewFeedbackRepository(db DBTX) *FeedbackRepository {
	return &FeedbackRepository{db: db}
}

func (r *FeedbackRepository) Create(
	ctx context.Context,
	input CreateFeedbackRequestInput,
) (*models.FeedbackRequest, error) {
	query := `
		INSERT INTO feedback_requests (
			session_id, recipient_id, recipient_type, trigger_type,
			reminder_number, ab_test_group, scheduled_at, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending')
		RETURNING ` + feedbackColumns

	row := r.db.QueryRow(
		ctx,
		query,
		input.SessionID,
		input.Recipient.ID,
		input.Recipient.Type,
		input.TriggerType,
		input.ReminderNumber,
		input.ABTestGroup,
		input.ScheduledAt,
	)
	return scanFeedbackRequest(row)
}

// HasInitial reports whether the one-per-recipient-type initial request
// already exists for the session.
func (r *FeedbackRepository) HasInitial(
	ctx context.Context,
	sessionID int64,
	recipientType models.RecipientType,
) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM feedback_requests
			WHERE session_id = $1 AND recipient_type = $2 AND trigger_type = 'initial'
		)
	`
	var exists bool
	if err := r.db.QueryRow(ctx, query, sessionID, recipientType).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *FeedbackRepository) ListDuePending(
	ctx context.Context,
	now time.Time,
) ([]models.FeedbackRequest, error) {
	query := `
		SELECT ` + feedbackColumns + `
		FROM feedback_requests
		WHERE status = 'pending' AND scheduled_at <= $1
		ORDER BY scheduled_at ASC, id ASC
	`
	rows, err := r.db.Query(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	requests := make([]models.FeedbackRequest, 0)
	for rows.Next() {
		request, err := scanFeedbackRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *request)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return requests, nil
}

func (r *FeedbackRepository) UpdateStatus(
	ctx context.Context,
	requestID int64,
	status models.FeedbackStatus,
	sentAt *time.Time,
) error {
	query := `UPDATE feedback_requests SET status = $2, sent_at = COALESCE($3, sent_at) WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, requestID, status, sentAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// DeletePendingBySession removes requests that have not been claimed yet;
// rows already picked up by the current tick run to completion.
func (r *FeedbackRepository) DeletePendingBySession(
	ctx context.Context,
	sessionID int64,
) (int64, error) {
	query := `DELETE FROM feedback_requests WHERE session_id = $1 AND status = 'pending'`
	tag, err := r.db.Exec(ctx, query, sessionID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *FeedbackRepository) MarkPendingOptedOut(
	ctx context.Context,
	recipientID int64,
) (int64, error) {
	query := `UPDATE feedback_requests SET status = 'opted_out' WHERE recipient_id = $1 AND status = 'pending'`
	tag, err := r.db.Exec(ctx, query, recipientID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteExpired drops terminal rows and anything older than the cutoff,
// whatever its status.
func (r *FeedbackRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM feedback_requests
		WHERE status IN ('completed', 'failed') OR created_at < $1
	`
	tag, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *FeedbackRepository) CountsByStatus(ctx context.Context) (map[models.FeedbackStatus]int64, error) {
	query := `SELECT status, COUNT(*) FROM feedback_requests GROUP BY status`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.FeedbackStatus]int64)
	for rows.Next() {
		var (
			status models.FeedbackStatus
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}

// HasSubmission checks the platform's feedback table so a due request for a
// recipient who already left feedback is closed instead of sent.
func (r *FeedbackRepository) HasSubmission(
	ctx context.Context,
	sessionID int64,
	recipientID int64,
) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM session_feedback
			WHERE session_id = $1 AND author_id = $2
		)
	`
	var exists bool
	if err := r.db.QueryRow(ctx, query, sessionID, recipientID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func scanFeedbackRequest(row pgx.Row) (*models.FeedbackRequest, error) {
	var request models.FeedbackRequest
	err := row.Scan(
		&request.ID,
		&request.SessionID,
		&request.RecipientID,
		&request.RecipientType,
		&request.TriggerType,
		&request.ReminderNumber,
		&request.ABTestGroup,
		&request.ScheduledAt,
		&request.SentAt,
		&request.Status,
		&request.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &request, nil
}
