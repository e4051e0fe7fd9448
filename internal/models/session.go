package models

import "time"

type SessionStatus string

const (
	SessionPending     SessionStatus = "pending"
	SessionInProgress  SessionStatus = "in-progress"
	SessionCompleted   SessionStatus = "completed"
	SessionCancelled   SessionStatus = "cancelled"
	SessionRescheduled SessionStatus = "rescheduled"
)

func ValidSessionStatus(s SessionStatus) bool {
	switch s {
	case SessionPending, SessionInProgress, SessionCompleted, SessionCancelled, SessionRescheduled:
		return true
	}
	return false
}

type CancellationReason string

const (
	CancelCoachUnavailable CancellationReason = "coach_unavailable"
	CancelClientRequest    CancellationReason = "client_request"
	CancelEmergency        CancellationReason = "emergency"
	CancelRescheduled      CancellationReason = "rescheduled"
	CancelOther            CancellationReason = "other"
)

func ValidCancellationReason(r CancellationReason) bool {
	switch r {
	case CancelCoachUnavailable, CancelClientRequest, CancelEmergency, CancelRescheduled, CancelOther:
		return true
	}
	return false
}

type CancellationRecord struct {
	Reason      CancellationReason `json:"reason"`
	ReasonText  *string            `json:"reason_text,omitempty"`
	CancelledBy int64              `json:"cancelled_by"`
	CancelledAt time.Time          `json:"cancelled_at"`
}

type RescheduleRecord struct {
	OriginalDate  time.Time `json:"original_date"`
	Reason        *string   `json:"reason,omitempty"`
	RescheduledBy int64     `json:"rescheduled_by"`
	RescheduledAt time.Time `json:"rescheduled_at"`
}

type Session struct {
	ID              int64               `json:"id"`
	CoachID         int64               `json:"coach_id"`
	ClientID        int64               `json:"client_id"`
	ScheduledAt     time.Time           `json:"scheduled_at"`
	DurationMinutes int                 `json:"duration_minutes"`
	Status          SessionStatus       `json:"status"`
	Notes           *string             `json:"notes"`
	InProgressAt    *time.Time          `json:"in_progress_at,omitempty"`
	CompletedAt     *time.Time          `json:"completed_at,omitempty"`
	CancelledAt     *time.Time          `json:"cancelled_at,omitempty"`
	RescheduledAt   *time.Time          `json:"rescheduled_at,omitempty"`
	Cancellation    *CancellationRecord `json:"cancellation,omitempty"`
	Reschedule      *RescheduleRecord   `json:"reschedule,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

type RecipientType string

const (
	RecipientCoach  RecipientType = "coach"
	RecipientClient RecipientType = "client"
)

// Recipient identifies one side of a session. It is resolved once from the
// session row and carried by value, so downstream code never re-infers which
// side a bare user id belongs to.
type Recipient struct {
	ID   int64         `json:"id"`
	Type RecipientType `json:"type"`
}

func (s *Session) Recipients() []Recipient {
	return []Recipient{
		{ID: s.CoachID, Type: RecipientCoach},
		{ID: s.ClientID, Type: RecipientClient},
	}
}
