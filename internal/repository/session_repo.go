package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/marens-d/CoachDeskBack/internal/models"
)

const sessionColumns = `
	id, coach_id, client_id, scheduled_at, duration_min, status, notes,
	in_progress_at, completed_at, cancelled_at, rescheduled_at,
	cancel_reason, cancel_reason_text, cancelled_by,
	original_scheduled_at, reschedule_reason, rescheduled_by,
	created_at, updated_at
`

type CreateSessionInput struct {
	CoachID         int64
	ClientID        int64
	ScheduledAt     time.Time
	DurationMinutes int
	Notes           *string
}

type SessionListFilter struct {
	ActorID   int64
	Role      string
	Status    string
	Timeframe string
}

type SessionRepository struct {
	db DBTX
}

func NewSessionRepository(db DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(
	ctx context.Context,
	input CreateSessionInput,
) (*models.Session, error) {
	query := fmt.Sprintf(`
		INSERT INTO sessions (coach_id, client_id, scheduled_at, duration_min, status, notes)
		VALUES ($1, $2, $3, $4, 'pending', $5)
		RETURNING %s
	`, sessionColumns)

	row := r.db.QueryRow(
		ctx,
		query,
		input.CoachID,
		input.ClientID,
		input.ScheduledAt,
		input.DurationMinutes,
		input.Notes,
	)
	return scanSession(row)
}

func (r *SessionRepository) GetByID(ctx context.Context, sessionID int64) (*models.Session, error) {
	query := fmt.Sprintf(`SELECT %s FROM sessions WHERE id = $1`, sessionColumns)
	return scanSession(r.db.QueryRow(ctx, query, sessionID))
}

func (r *SessionRepository) List(
	ctx context.Context,
	filter SessionListFilter,
) ([]models.Session, error) {
	actorColumn := "client_id"
	if filter.Role == "coach" {
		actorColumn = "coach_id"
	}

	args := []any{filter.ActorID}
	whereParts := []string{fmt.Sprintf("%s = $1", actorColumn)}

	if status := strings.TrimSpace(filter.Status); status != "" {
		args = append(args, status)
		whereParts = append(whereParts, fmt.Sprintf("status = $%d", len(args)))
	}

	switch strings.TrimSpace(filter.Timeframe) {
	case "upcoming":
		whereParts = append(
			whereParts,
			"(scheduled_at + (duration_min * INTERVAL '1 minute')) > NOW()",
		)
	case "past":
		whereParts = append(
			whereParts,
			"(scheduled_at + (duration_min * INTERVAL '1 minute')) <= NOW()",
		)
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM sessions
		WHERE %s
		ORDER BY scheduled_at ASC, id ASC
	`, sessionColumns, strings.Join(whereParts, " AND "))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]models.Session, 0)
	for rows.Next() {
		session, err := scanSessionValues(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sessions, nil
}

var statusTimestampColumns = map[models.SessionStatus]string{
	models.SessionInProgress:  "in_progress_at",
	models.SessionCompleted:   "completed_at",
	models.SessionCancelled:   "cancelled_at",
	models.SessionRescheduled: "rescheduled_at",
}

// UpdateStatusIfCurrent moves the row to nextStatus only if it still holds
// currentStatus, stamping the per-status timestamp column in the same
// statement. A concurrent transition loses and surfaces as pgx.ErrNoRows.
func (r *SessionRepository) UpdateStatusIfCurrent(
	ctx context.Context,
	sessionID int64,
	currentStatus models.SessionStatus,
	nextStatus models.SessionStatus,
	stampedAt time.Time,
) (*models.Session, error) {
	stampClause := ""
	if column, ok := statusTimestampColumns[nextStatus]; ok {
		stampClause = fmt.Sprintf(", %s = $4", column)
	}

	query := fmt.Sprintf(`
		UPDATE sessions
		SET status = $3, updated_at = NOW()%s
		WHERE id = $1 AND status = $2
		RETURNING %s
	`, stampClause, sessionColumns)

	args := []any{sessionID, currentStatus, nextStatus}
	if stampClause != "" {
		args = append(args, stampedAt)
	}
	return scanSession(r.db.QueryRow(ctx, query, args...))
}

func (r *SessionRepository) RecordCancellation(
	ctx context.Context,
	sessionID int64,
	record models.CancellationRecord,
) error {
	query := `
		UPDATE sessions
		SET cancel_reason = $2, cancel_reason_text = $3, cancelled_by = $4, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, sessionID, record.Reason, record.ReasonText, record.CancelledBy)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *SessionRepository) RecordReschedule(
	ctx context.Context,
	sessionID int64,
	newScheduledAt time.Time,
	record models.RescheduleRecord,
) (*models.Session, error) {
	query := fmt.Sprintf(`
		UPDATE sessions
		SET scheduled_at = $2,
			original_scheduled_at = $3,
			reschedule_reason = $4,
			rescheduled_by = $5,
			updated_at = NOW()
		WHERE id = $1
		RETURNING %s
	`, sessionColumns)

	row := r.db.QueryRow(
		ctx,
		query,
		sessionID,
		newScheduledAt,
		record.OriginalDate,
		record.Reason,
		record.RescheduledBy,
	)
	return scanSession(row)
}

func (r *SessionRepository) Delete(ctx context.Context, sessionID int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// HasConflictAt reports whether the coach already has an active session at
// exactly the requested instant, excluding the session being moved.
func (r *SessionRepository) HasConflictAt(
	ctx context.Context,
	coachID int64,
	requestedTime time.Time,
	excludedSessionID int64,
) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM sessions
			WHERE coach_id = $1
			  AND id <> $3
			  AND status IN ('pending', 'in-progress')
			  AND scheduled_at = $2
		)
	`
	var hasConflict bool
	if err := r.db.QueryRow(ctx, query, coachID, requestedTime, excludedSessionID).Scan(&hasConflict); err != nil {
		return false, err
	}
	return hasConflict, nil
}

func scanSession(row pgx.Row) (*models.Session, error) {
	return scanSessionValues(row)
}

func scanSessionValues(row pgx.Row) (*models.Session, error) {
	var (
		session       models.Session
		cancelReason  *string
		cancelText    *string
		cancelledBy   *int64
		originalAt    *time.Time
		rescheduleWhy *string
		rescheduledBy *int64
	)

	err := row.Scan(
		&session.ID,
		&session.CoachID,
		&session.ClientID,
		&session.ScheduledAt,
		&session.DurationMinutes,
		&session.Status,
		&session.Notes,
		&session.InProgressAt,
		&session.CompletedAt,
		&session.CancelledAt,
		&session.RescheduledAt,
		&cancelReason,
		&cancelText,
		&cancelledBy,
		&originalAt,
		&rescheduleWhy,
		&rescheduledBy,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if cancelReason != nil && cancelledBy != nil && session.CancelledAt != nil {
		session.Cancellation = &models.CancellationRecord{
			Reason:      models.CancellationReason(*cancelReason),
			ReasonText:  cancelText,
			CancelledBy: *cancelledBy,
			CancelledAt: *session.CancelledAt,
		}
	}
	if originalAt != nil && rescheduledBy != nil && session.RescheduledAt != nil {
		session.Reschedule = &models.RescheduleRecord{
			OriginalDate:  *originalAt,
			Reason:        rescheduleWhy,
			RescheduledBy: *rescheduledBy,
			RescheduledAt: *session.RescheduledAt,
		}
	}

	return &session, nil
}
