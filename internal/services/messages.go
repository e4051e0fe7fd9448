package services

import (
	"fmt"
	"time"

	"github.com/marens-d/CoachDeskBack/internal/models"
)

const (
	KindSessionReminder = "session_reminder"
	KindFeedbackRequest = "feedback_request"
)

// NotificationMessage is the payload carried by notification and email jobs.
// Channels lists the recipient's enabled channels; the registered handler
// fans the message out to the matching senders.
type NotificationMessage struct {
	Kind        string           `json:"kind"`
	SessionID   int64            `json:"session_id"`
	Recipient   models.Recipient `json:"recipient"`
	Channels    []string         `json:"channels"`
	Subject     string           `json:"subject"`
	Body        string           `json:"body"`
	SessionTime time.Time        `json:"session_time,omitempty"`
	OptOutURL   string           `json:"opt_out_url,omitempty"`
}

func buildReminderMessage(
	session *models.Session,
	reminder models.ScheduledReminder,
	channels []string,
) NotificationMessage {
	until := session.ScheduledAt.Sub(reminder.ScheduledFor).Round(time.Hour)
	body := fmt.Sprintf(
		"Your coaching session starts at %s (in about %s). See you there!",
		session.ScheduledAt.Format("Mon, 2 Jan 2006 15:04 MST"),
		formatHours(until),
	)
	if reminder.RecipientType == models.RecipientCoach {
		body = fmt.Sprintf(
			"You have a coaching session scheduled at %s (in about %s).",
			session.ScheduledAt.Format("Mon, 2 Jan 2006 15:04 MST"),
			formatHours(until),
		)
	}
	return NotificationMessage{
		Kind:        KindSessionReminder,
		SessionID:   session.ID,
		Recipient:   models.Recipient{ID: reminder.RecipientID, Type: reminder.RecipientType},
		Channels:    channels,
		Subject:     "Upcoming coaching session",
		Body:        body,
		SessionTime: session.ScheduledAt,
	}
}

func formatHours(d time.Duration) string {
	hours := int(d.Hours())
	if hours <= 1 {
		return "an hour"
	}
	return fmt.Sprintf("%d hours", hours)
}
