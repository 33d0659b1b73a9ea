package config

import (
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Application
	AppName string
	AppEnv  string
	AppURL  string
	Port    string

	// Database (optional driver switch via ENV, default: sqlite)
	DBDriver     string
	DBConnection string

	// Security
	InternalAPIKey string // Bearer for the internal capture and operator endpoints
	CronSecret     string // Bearer for the cron trigger endpoints
	AuthJWTSecret  string // HS256 secret shared with the identity provider

	// Email
	EmailFrom    string
	ResendAPIKey string

	// Payment - Stripe
	StripeSecretKey     string
	StripeWebhookSecret string
	Currency            string
	GatewayTimeout      time.Duration

	// Scheduler
	SchedulerEnabled      bool
	SettlementInterval    time.Duration
	ReminderInterval      time.Duration
	CleanupInterval       time.Duration
	SettlementMaxAttempts int

	// Retention
	NotificationRetention time.Duration
	GoalUpdateRetention   time.Duration

	// Rate limiting, in ulule "<limit>-<period>" form
	PublicRateLimit  string
	WebhookRateLimit string

	// Observability (optional)
	SentryDSN string

	// Archive (S3-compatible, optional: disabled when S3_BUCKET is empty)
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Endpoint  string
}

func Load() *Config {
	// Load .env file if it exists
	err := godotenv.Load()
	if err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg := &Config{
		// Application
		AppName: envString("APP_NAME", "Pledge"),
		AppEnv:  envRequired("APP_ENV"), // Required: 'development' or 'production'
		AppURL:  envRequired("APP_URL"), // Required: base URL for setup-session redirects
		Port:    envString("PORT", "8090"),

		// Database
		DBDriver:     envString("DB_DRIVER", "sqlite"),
		DBConnection: envString("DB_CONNECTION", "./data/pledge.db?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"),

		// Security
		InternalAPIKey: envRequired("INTERNAL_API_KEY"),
		CronSecret:     envRequired("CRON_SECRET"),
		AuthJWTSecret:  envRequired("AUTH_JWT_SECRET"),

		// Email (RESEND_API_KEY optional in development, required in production)
		EmailFrom:    envString("EMAIL_FROM", "noreply@example.com"),
		ResendAPIKey: envString("RESEND_API_KEY", ""),

		// Payment
		StripeSecretKey:     envRequired("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: envRequired("STRIPE_WEBHOOK_SECRET"),
		Currency:            strings.ToLower(envString("CURRENCY", "usd")),
		GatewayTimeout:      envDuration("GATEWAY_TIMEOUT", 20*time.Second),

		// Scheduler
		SchedulerEnabled:      envBool("SCHEDULER_ENABLED", true),
		SettlementInterval:    envDuration("SETTLEMENT_INTERVAL", 2*time.Minute),
		ReminderInterval:      envDuration("REMINDER_INTERVAL", 24*time.Hour),
		CleanupInterval:       envDuration("CLEANUP_INTERVAL", 24*time.Hour),
		SettlementMaxAttempts: envInt("SETTLEMENT_MAX_ATTEMPTS", 10),

		// Retention
		NotificationRetention: envDuration("NOTIFICATION_RETENTION", 30*24*time.Hour),
		GoalUpdateRetention:   envDuration("GOAL_UPDATE_RETENTION", 90*24*time.Hour),

		// Rate limiting
		PublicRateLimit:  envString("RATE_LIMIT_PUBLIC", "60-M"),
		WebhookRateLimit: envString("RATE_LIMIT_WEBHOOK", "600-M"),

		// Observability
		SentryDSN: envString("SENTRY_DSN", ""),

		// Archive
		S3Region:    envString("S3_REGION", "us-east-1"),
		S3Bucket:    envString("S3_BUCKET", ""),
		S3AccessKey: envString("S3_ACCESS_KEY", ""),
		S3SecretKey: envString("S3_SECRET_KEY", ""),
		S3Endpoint:  envString("S3_ENDPOINT", ""), // Optional: for non-AWS providers
	}

	validate(cfg)

	// Production: validate required services
	if cfg.IsProduction() {
		validateProduction(cfg)
	}

	return cfg
}

// validate exits on malformed values.
func validate(cfg *Config) {
	if reason := Check(cfg); reason != "" {
		slog.Error("config invalid", "reason", reason)
		os.Exit(1)
	}
}

// Check returns a non-empty reason when the config cannot be used.
func Check(cfg *Config) string {
	u, err := url.Parse(cfg.AppURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "APP_URL must be a valid absolute URL"
	}
	if !strings.HasPrefix(cfg.StripeSecretKey, "sk_") && !strings.HasPrefix(cfg.StripeSecretKey, "rk_") {
		return "STRIPE_SECRET_KEY must start with sk_"
	}
	if cfg.SettlementMaxAttempts < 1 {
		return "SETTLEMENT_MAX_ATTEMPTS must be at least 1"
	}
	return ""
}

// validateProduction ensures all required services are configured for production deployments.
// Development allows email to run in log mode for easier local testing.
func validateProduction(cfg *Config) {
	if cfg.ResendAPIKey == "" {
		slog.Error("production deployment requires RESEND_API_KEY",
			"hint", "set APP_ENV=development for local testing with email log mode")
		os.Exit(1)
	}
}

func envString(key, def string) string {
	value := os.Getenv(key)
	if value == "" {
		value = def
	}
	return value
}

func envBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("config invalid bool, using default", "key", key, "value", v, "default", def)
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("config invalid int, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("config invalid duration, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

func envRequired(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	slog.Error("config required env var missing", "key", key)
	os.Exit(1)
	return ""
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func (c *Config) ArchiveEnabled() bool {
	return c.S3Bucket != ""
}

// Sanitized returns a copy of the config with only public/safe fields.
// All secrets and credentials are excluded. Safe to log.
func (c *Config) Sanitized() *Config {
	return &Config{
		AppName:  c.AppName,
		AppEnv:   c.AppEnv,
		AppURL:   c.AppURL,
		Port:     c.Port,
		DBDriver: c.DBDriver,

		EmailFrom: c.EmailFrom,
		Currency:  c.Currency,

		SchedulerEnabled:      c.SchedulerEnabled,
		SettlementInterval:    c.SettlementInterval,
		ReminderInterval:      c.ReminderInterval,
		CleanupInterval:       c.CleanupInterval,
		SettlementMaxAttempts: c.SettlementMaxAttempts,

		PublicRateLimit:  c.PublicRateLimit,
		WebhookRateLimit: c.WebhookRateLimit,

		S3Region:   c.S3Region,
		S3Bucket:   c.S3Bucket,
		S3Endpoint: c.S3Endpoint,
	}
}
