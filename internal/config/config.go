package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port      string
	DBUrl     string
	JWTSecret string
	AppEnv    string

	NATSUrl string

	OptOutSecret  string
	OptOutBaseURL string

	ReminderTick time.Duration
	FeedbackTick time.Duration
	CleanupTick  time.Duration

	FeedbackDelayHours   int
	FeedbackMaxReminders int
	ABTestEnabled        bool
	ABTestGroupsJSON     string

	EmailWorkers              int
	EmailRatePerMinute        int
	NotificationWorkers       int
	NotificationRatePerMinute int
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	jwtSecret, exists := os.LookupEnv("JWT_SECRET")
	if !exists || jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return &Config{
		Port:      getEnv("PORT", "8080"),
		DBUrl:     getEnv("DB_URL", ""),
		JWTSecret: jwtSecret,
		AppEnv:    normalizeEnv(getEnv("APP_ENV", "production")),

		NATSUrl: getEnv("NATS_URL", ""),

		OptOutSecret:  getEnv("OPT_OUT_SECRET", jwtSecret),
		OptOutBaseURL: getEnv("OPT_OUT_BASE_URL", "http://localhost:8080/api/feedback/opt-out"),

		ReminderTick: getEnvDuration("REMINDER_TICK", 15*time.Minute),
		FeedbackTick: getEnvDuration("FEEDBACK_TICK", time.Hour),
		CleanupTick:  getEnvDuration("CLEANUP_TICK", 24*time.Hour),

		FeedbackDelayHours:   getEnvInt("FEEDBACK_DELAY_HOURS", 24),
		FeedbackMaxReminders: getEnvInt("FEEDBACK_MAX_REMINDERS", 3),
		ABTestEnabled:        getEnvBool("FEEDBACK_AB_ENABLED", false),
		ABTestGroupsJSON:     getEnv("FEEDBACK_AB_GROUPS", ""),

		EmailWorkers:              getEnvInt("EMAIL_WORKERS", 2),
		EmailRatePerMinute:        getEnvInt("EMAIL_RATE_PER_MINUTE", 60),
		NotificationWorkers:       getEnvInt("NOTIFICATION_WORKERS", 4),
		NotificationRatePerMinute: getEnvInt("NOTIFICATION_RATE_PER_MINUTE", 120),
	}, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback
	}

	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func normalizeEnv(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "dev", "develop", "development", "local":
		return "development"
	case "prod", "production":
		return "production"
	case "stage", "staging":
		return "staging"
	case "test", "testing":
		return "test"
	default:
		return strings.ToLower(strings.TrimSpace(value))
	}
}
