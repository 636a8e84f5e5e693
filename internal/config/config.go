// Package config loads the orchestrator's runtime configuration from
// environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every tunable the booking pipeline and scheduler need.
type Config struct {
	Env      string
	Port     string
	LogLevel string
	SiteName string
	SiteURL  string
	Timezone string

	DatabaseURL string
	RedisURL    string

	ChatwootAPIURL string
	ChatwootToken  string
	ChatwootAccountID int
	ChatwootInboxID    int

	BedrockModelID string
	AWSRegion      string

	GoogleServiceAccountJSON string
	GoogleCalendarIDs        []string

	StripeSecretKey     string
	StripeWebhookSecret string

	ConversationQueueURL string
	OutboundQueueURL     string
	AWSEndpointOverride  string

	SESFromEmail string
	SESFromName  string
	AdminEmails  []string

	// Turn processing tunables.
	MessageWindowSize   int     // W — bounded message window kept per conversation
	IntentConfidenceTau float64 // τ — classifier confidence floor
	StateTTL            time.Duration
	AutoEscalateAfter   int // consecutive turn errors before escalation

	// Scheduler tunables.
	ConfirmationHoursBefore int
	AutoCancelHoursBefore   int
	ReminderHoursBefore     int
	SchedulerCron           string

	// Circuit breaker defaults, overridable per-breaker by callers.
	BreakerFailMax       int
	BreakerResetTimeout  time.Duration
	BreakerHalfOpenProbe int
}

// Load reads configuration from environment variables, applying the same
// defaults the system would run with in local development.
func Load() *Config {
	return &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		SiteName: getEnv("SITE_NAME", "Salón Atrévete"),
		SiteURL:  getEnv("SITE_URL", ""),
		Timezone: getEnv("TIMEZONE", "Europe/Madrid"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),

		ChatwootAPIURL:     getEnv("CHATWOOT_API_URL", ""),
		ChatwootToken:      getEnv("CHATWOOT_API_TOKEN", ""),
		ChatwootAccountID:  getEnvAsInt("CHATWOOT_ACCOUNT_ID", 0),
		ChatwootInboxID:    getEnvAsInt("CHATWOOT_INBOX_ID", 0),

		BedrockModelID: getEnv("BEDROCK_MODEL_ID", "anthropic.claude-3-haiku-20240307-v1:0"),
		AWSRegion:      getEnv("AWS_REGION", "eu-west-1"),

		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleCalendarIDs:        splitCSV(getEnv("GOOGLE_CALENDAR_IDS", "")),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),

		ConversationQueueURL: getEnv("INBOUND_QUEUE_URL", ""),
		OutboundQueueURL:     getEnv("OUTBOUND_QUEUE_URL", ""),
		AWSEndpointOverride:  getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		SESFromEmail: getEnv("SES_FROM_EMAIL", ""),
		SESFromName:  getEnv("SES_FROM_NAME", "Salón Atrévete"),
		AdminEmails:  splitCSV(getEnv("ADMIN_NOTIFICATION_EMAILS", "")),

		MessageWindowSize:   getEnvAsInt("MESSAGE_WINDOW_SIZE", 10),
		IntentConfidenceTau: getEnvAsFloat("INTENT_CONFIDENCE_TAU", 0.7),
		StateTTL:            getEnvAsDuration("STATE_TTL", time.Hour),
		AutoEscalateAfter:   getEnvAsInt("AUTO_ESCALATE_AFTER_ERRORS", 3),

		ConfirmationHoursBefore: getEnvAsInt("CONFIRMATION_HOURS_BEFORE", 48),
		AutoCancelHoursBefore:   getEnvAsInt("AUTO_CANCEL_HOURS_BEFORE", 24),
		ReminderHoursBefore:     getEnvAsInt("REMINDER_HOURS_BEFORE", 2),
		SchedulerCron:           getEnv("SCHEDULER_CRON_HOURLY", "@every 1h"),

		BreakerFailMax:       getEnvAsInt("BREAKER_FAIL_MAX", 5),
		BreakerResetTimeout:  getEnvAsDuration("BREAKER_RESET_TIMEOUT", 30*time.Second),
		BreakerHalfOpenProbe: getEnvAsInt("BREAKER_HALF_OPEN_PROBES", 1),
	}
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(raw); err == nil {
		return value
	}
	return defaultValue
}
