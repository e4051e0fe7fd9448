package models

import "time"

type NotificationChannels struct {
	Email bool `json:"email"`
	InApp bool `json:"in_app"`
	SMS   bool `json:"sms"`
	Push  bool `json:"push"`
}

func (c NotificationChannels) Enabled() []string {
	enabled := make([]string, 0, 4)
	if c.Email {
		enabled = append(enabled, ChannelEmail)
	}
	if c.InApp {
		enabled = append(enabled, ChannelInApp)
	}
	if c.SMS {
		enabled = append(enabled, ChannelSMS)
	}
	if c.Push {
		enabled = append(enabled, ChannelPush)
	}
	return enabled
}

const (
	ChannelEmail = "email"
	ChannelInApp = "in_app"
	ChannelSMS   = "sms"
	ChannelPush  = "push"
)

// QuietHours is a recipient-local window during which non-urgent
// notifications are suppressed. Start and End are "HH:MM" in Timezone and
// the window may wrap midnight (Start > End).
type QuietHours struct {
	Enabled  bool   `json:"enabled"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone"`
}

type DigestSettings struct {
	Enabled bool `json:"enabled"`
	Hour    int  `json:"hour"`
}

type NotificationPreferences struct {
	UserID                  int64                `json:"user_id"`
	Channels                NotificationChannels `json:"channels"`
	SessionReminders        bool                 `json:"session_reminders"`
	FeedbackRequests        bool                 `json:"feedback_requests"`
	ReminderHoursBefore     int                  `json:"reminder_hours_before"`
	AdditionalReminderHours []int                `json:"additional_reminder_hours"`
	QuietHours              QuietHours           `json:"quiet_hours"`
	Digest                  DigestSettings       `json:"digest"`
	CreatedAt               time.Time            `json:"created_at"`
	UpdatedAt               time.Time            `json:"updated_at"`
}

// DefaultPreferences is what a user gets before they ever touch their
// settings: email, in-app and push on, SMS off, a single reminder 24 hours
// ahead, no quiet hours, both notification types enabled.
func DefaultPreferences(userID int64) *NotificationPreferences {
	return &NotificationPreferences{
		UserID: userID,
		Channels: NotificationChannels{
			Email: true,
			InApp: true,
			Push:  true,
		},
		SessionReminders:    true,
		FeedbackRequests:    true,
		ReminderHoursBefore: 24,
	}
}
