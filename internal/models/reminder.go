package models

import "time"

// ScheduledReminder is one planned pre-session notification. Rows are
// uniquely keyed by (session_id, recipient_id, scheduled_for); sent rows are
// kept until the retention purge so a re-run of the same tick cannot
// double-send.
type ScheduledReminder struct {
	ID            int64         `json:"id"`
	SessionID     int64         `json:"session_id"`
	RecipientID   int64         `json:"recipient_id"`
	RecipientType RecipientType `json:"recipient_type"`
	ScheduledFor  time.Time     `json:"scheduled_for"`
	Sent          bool          `json:"sent"`
	SentAt        *time.Time    `json:"sent_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}
