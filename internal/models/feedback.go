package models

import "time"

type FeedbackTriggerType string

const (
	FeedbackTriggerInitial  FeedbackTriggerType = "initial"
	FeedbackTriggerReminder FeedbackTriggerType = "reminder"
)

type FeedbackStatus string

const (
	FeedbackPending   FeedbackStatus = "pending"
	FeedbackSent      FeedbackStatus = "sent"
	FeedbackCompleted FeedbackStatus = "completed"
	FeedbackOptedOut  FeedbackStatus = "opted_out"
	FeedbackFailed    FeedbackStatus = "failed"
)

type FeedbackRequest struct {
	ID             int64               `json:"id"`
	SessionID      int64               `json:"session_id"`
	RecipientID    int64               `json:"recipient_id"`
	RecipientType  RecipientType       `json:"recipient_type"`
	TriggerType    FeedbackTriggerType `json:"trigger_type"`
	ReminderNumber int                 `json:"reminder_number"`
	ABTestGroup    *string             `json:"ab_test_group,omitempty"`
	ScheduledAt    time.Time           `json:"scheduled_at"`
	SentAt         *time.Time          `json:"sent_at,omitempty"`
	Status         FeedbackStatus      `json:"status"`
	CreatedAt      time.Time           `json:"created_at"`
}

// ABTestGroup is a named variant of feedback-request timing and copy.
// Weights across the configured groups must sum to 100.
type ABTestGroup struct {
	Name       string `json:"name"`
	Weight     int    `json:"weight"`
	DelayHours int    `json:"delay_hours"`
	Subject    string `json:"subject,omitempty"`
	Body       string `json:"body,omitempty"`
}
