package repository

import (
	"context"

	"github.com/marens-d/CoachDeskBack/internal/models"
)

const preferenceColumns = `
	user_id, ch_email, ch_in_app, ch_sms, ch_push,
	session_reminders, feedback_requests,
	reminder_hours_before, additional_reminder_hours,
	quiet_enabled, quiet_start, quiet_end, quiet_tz,
	digest_enabled, digest_hour,
	created_at, updated_at
`

type PreferenceRepository struct {
	db DBTX
}

func NewPreferenceRepository(db DBTX) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

func (r *PreferenceRepository) GetByUserID(
	ctx context.Context,
	userID int64,
) (*models.NotificationPreferences, error) {
	query := `SELECT ` + preferenceColumns + ` FROM notification_preferences WHERE user_id = $1`
	return r.scan(ctx, query, userID)
}

// EnsureDefaults lazily creates the default record the first time a user's
// preferences are read. The insert is a no-op when a row already exists.
func (r *PreferenceRepository) EnsureDefaults(
	ctx context.Context,
	userID int64,
) (*models.NotificationPreferences, error) {
	defaults := models.DefaultPreferences(userID)
	query := `
		INSERT INTO notification_preferences (
			user_id, ch_email, ch_in_app, ch_sms, ch_push,
			session_reminders, feedback_requests, reminder_hours_before
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO NOTHING
	`
	_, err := r.db.Exec(
		ctx,
		query,
		userID,
		defaults.Channels.Email,
		defaults.Channels.InApp,
		defaults.Channels.SMS,
		defaults.Channels.Push,
		defaults.SessionReminders,
		defaults.FeedbackRequests,
		defaults.ReminderHoursBefore,
	)
	if err != nil {
		return nil, err
	}
	return r.GetByUserID(ctx, userID)
}

func (r *PreferenceRepository) Upsert(
	ctx context.Context,
	prefs *models.NotificationPreferences,
) (*models.NotificationPreferences, error) {
	query := `
		INSERT INTO notification_preferences (
			user_id, ch_email, ch_in_app, ch_sms, ch_push,
			session_reminders, feedback_requests,
			reminder_hours_before, additional_reminder_hours,
			quiet_enabled, quiet_start, quiet_end, quiet_tz,
			digest_enabled, digest_hour
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (user_id) DO UPDATE SET
			ch_email = EXCLUDED.ch_email,
			ch_in_app = EXCLUDED.ch_in_app,
			ch_sms = EXCLUDED.ch_sms,
			ch_push = EXCLUDED.ch_push,
			session_reminders = EXCLUDED.session_reminders,
			feedback_requests = EXCLUDED.feedback_requests,
			reminder_hours_before = EXCLUDED.reminder_hours_before,
			additional_reminder_hours = EXCLUDED.additional_reminder_hours,
			quiet_enabled = EXCLUDED.quiet_enabled,
			quiet_start = EXCLUDED.quiet_start,
			quiet_end = EXCLUDED.quiet_end,
			quiet_tz = EXCLUDED.quiet_tz,
			digest_enabled = EXCLUDED.digest_enabled,
			digest_hour = EXCLUDED.digest_hour,
			updated_at = NOW()
		RETURNING ` + preferenceColumns

	additional := make([]int32, 0, len(prefs.AdditionalReminderHours))
	for _, h := range prefs.AdditionalReminderHours {
		additional = append(additional, int32(h))
	}

	row := r.db.QueryRow(
		ctx,
		query,
		prefs.UserID,
		prefs.Channels.Email,
		prefs.Channels.InApp,
		prefs.Channels.SMS,
		prefs.Channels.Push,
		prefs.SessionReminders,
		prefs.FeedbackRequests,
		prefs.ReminderHoursBefore,
		additional,
		prefs.QuietHours.Enabled,
		prefs.QuietHours.Start,
		prefs.QuietHours.End,
		prefs.QuietHours.Timezone,
		prefs.Digest.Enabled,
		prefs.Digest.Hour,
	)
	return scanPreferences(row.Scan)
}

// SetFeedbackDisabled is the permanent opt-out switch: feedback requests
// stop for the user until they explicitly re-enable them.
func (r *PreferenceRepository) SetFeedbackDisabled(ctx context.Context, userID int64) error {
	query := `
		INSERT INTO notification_preferences (user_id, feedback_requests)
		VALUES ($1, FALSE)
		ON CONFLICT (user_id) DO UPDATE SET
			feedback_requests = FALSE,
			updated_at = NOW()
	`
	_, err := r.db.Exec(ctx, query, userID)
	return err
}

func (r *PreferenceRepository) scan(
	ctx context.Context,
	query string,
	args ...any,
) (*models.NotificationPreferences, error) {
	return scanPreferences(r.db.QueryRow(ctx, query, args...).Scan)
}

func scanPreferences(scan func(dest ...any) error) (*models.NotificationPreferences, error) {
	var (
		prefs      models.NotificationPreferences
		additional []int32
	)
	err := scan(
		&prefs.UserID,
		&prefs.Channels.Email,
		&prefs.Channels.InApp,
		&prefs.Channels.SMS,
		&prefs.Channels.Push,
		&prefs.SessionReminders,
		&prefs.FeedbackRequests,
		&prefs.ReminderHoursBefore,
		&additional,
		&prefs.QuietHours.Enabled,
		&prefs.QuietHours.Start,
		&prefs.QuietHours.End,
		&prefs.QuietHours.Timezone,
		&prefs.Digest.Enabled,
		&prefs.Digest.Hour,
		&prefs.CreatedAt,
		&prefs.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	prefs.AdditionalReminderHours = make([]int, 0, len(additional))
	for _, h := range additional {
		prefs.AdditionalReminderHours = append(prefs.AdditionalReminderHours, int(h))
	}
	return &prefs, nil
}
