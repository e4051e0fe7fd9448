package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/marens-d/CoachDeskBack/internal/models"
)

var ErrInvalidPreferences = errors.New("invalid preferences")

type preferenceStore interface {
	EnsureDefaults(ctx context.Context, userID int64) (*models.NotificationPreferences, error)
	Upsert(ctx context.Context, prefs *models.NotificationPreferences) (*models.NotificationPreferences, error)
	SetFeedbackDisabled(ctx context.Context, userID int64) error
}

type PreferenceResolver struct {
	prefs preferenceStore
}

func NewPreferenceResolver(prefs preferenceStore) *PreferenceResolver {
	return &PreferenceResolver{prefs: prefs}
}

// Resolve returns the user's notification preferences, creating the
// documented defaults on first access.
func (r *PreferenceResolver) Resolve(
	ctx context.Context,
	userID int64,
) (*models.NotificationPreferences, error) {
	return r.prefs.EnsureDefaults(ctx, userID)
}

func (r *PreferenceResolver) Update(
	ctx context.Context,
	prefs *models.NotificationPreferences,
) (*models.NotificationPreferences, error) {
	if err := validatePreferences(prefs); err != nil {
		return nil, err
	}
	return r.prefs.Upsert(ctx, prefs)
}

func (r *PreferenceResolver) DisableFeedback(ctx context.Context, userID int64) error {
	return r.prefs.SetFeedbackDisabled(ctx, userID)
}

func validatePreferences(prefs *models.NotificationPreferences) error {
	if prefs.UserID <= 0 {
		return fmt.Errorf("%w: user id is required", ErrInvalidPreferences)
	}
	if prefs.ReminderHoursBefore <= 0 {
		return fmt.Errorf("%w: reminder_hours_before must be positive", ErrInvalidPreferences)
	}
	for _, h := range prefs.AdditionalReminderHours {
		if h <= 0 {
			return fmt.Errorf("%w: additional reminder hours must be positive", ErrInvalidPreferences)
		}
	}
	if prefs.QuietHours.Enabled {
		if _, err := parseClock(prefs.QuietHours.Start); err != nil {
			return fmt.Errorf("%w: quiet hours start: %v", ErrInvalidPreferences, err)
		}
		if _, err := parseClock(prefs.QuietHours.End); err != nil {
			return fmt.Errorf("%w: quiet hours end: %v", ErrInvalidPreferences, err)
		}
		if prefs.QuietHours.Timezone != "" {
			if _, err := time.LoadLocation(prefs.QuietHours.Timezone); err != nil {
				return fmt.Errorf("%w: quiet hours timezone: %v", ErrInvalidPreferences, err)
			}
		}
	}
	if prefs.Digest.Hour < 0 || prefs.Digest.Hour > 23 {
		return fmt.Errorf("%w: digest hour must be between 0 and 23", ErrInvalidPreferences)
	}
	return nil
}

// IsQuietHour reports whether instant falls inside the user's quiet-hours
// window. Membership is [start, end); a window with start > end wraps
// midnight and matches t >= start OR t < end.
func IsQuietHour(prefs *models.NotificationPreferences, instant time.Time) bool {
	qh := prefs.QuietHours
	if !qh.Enabled {
		return false
	}

	start, err := parseClock(qh.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(qh.End)
	if err != nil {
		return false
	}

	loc := time.UTC
	if qh.Timezone != "" {
		if l, err := time.LoadLocation(qh.Timezone); err == nil {
			loc = l
		}
	}

	local := instant.In(loc)
	t := local.Hour()*60 + local.Minute()

	if start == end {
		return false
	}
	if start < end {
		return t >= start && t < end
	}
	return t >= start || t < end
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(value string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(value), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("expected HH:MM, got %q", value)
	}
	var hour, minute int
	if _, err := fmt.Sscanf(parts[0], "%d", &hour); err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", value)
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &minute); err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", value)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("clock value out of range: %q", value)
	}
	return hour*60 + minute, nil
}
