package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port          string   `mapstructure:"PORT"`
	Env           string   `mapstructure:"ENV"`
	AuthMode      string   `mapstructure:"AUTH_MODE"`
	DatabaseURL   string   `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32    `mapstructure:"DB_MIN_CONNS"`
	DefaultTenant string   `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins   []string `mapstructure:"CORS_ORIGINS"`

	AuthIssuer     string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string        `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string        `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey string        `mapstructure:"AUTH_SIGNING_KEY"`
	PortalTokenTTL time.Duration `mapstructure:"PORTAL_TOKEN_TTL"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	RedisURL          string `mapstructure:"REDIS_URL"`
	AMQPURL           string `mapstructure:"AMQP_URL"`
	NotificationQueue string `mapstructure:"NOTIFICATION_QUEUE"`

	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     int    `mapstructure:"SMTP_PORT"`
	SMTPUser     string `mapstructure:"SMTP_USER"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom     string `mapstructure:"SMTP_FROM"`

	SMSAPIURL string `mapstructure:"SMS_API_URL"`
	SMSAPIKey string `mapstructure:"SMS_API_KEY"`
	SMSFrom   string `mapstructure:"SMS_FROM"`

	ClearinghouseURL       string `mapstructure:"CLEARINGHOUSE_URL"`
	ClearinghouseUsername  string `mapstructure:"CLEARINGHOUSE_USERNAME"`
	ClearinghousePassword  string `mapstructure:"CLEARINGHOUSE_PASSWORD"`
	ClearinghouseOfficeKey string `mapstructure:"CLEARINGHOUSE_OFFICE_KEY"`

	TelehealthAPIURL string `mapstructure:"TELEHEALTH_API_URL"`
	TelehealthAPIKey string `mapstructure:"TELEHEALTH_API_KEY"`

	MinioEndpoint  string `mapstructure:"MINIO_ENDPOINT"`
	MinioAccessKey string `mapstructure:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `mapstructure:"MINIO_SECRET_KEY"`
	MinioBucket    string `mapstructure:"MINIO_BUCKET"`
	MinioUseSSL    bool   `mapstructure:"MINIO_USE_SSL"`

	StripeSecretKey string `mapstructure:"STRIPE_SECRET_KEY"`

	ReminderCron      string `mapstructure:"REMINDER_CRON"`
	RemittanceCron    string `mapstructure:"REMITTANCE_CRON"`
	CredentialCron    string `mapstructure:"CREDENTIAL_CRON"`
	ReminderLeadTimes string `mapstructure:"REMINDER_LEAD_TIMES"`

	// ReminderCallbackSecret is the shared token SMS and email providers send
	// with delivery receipts.
	ReminderCallbackSecret string `mapstructure:"REMINDER_CALLBACK_SECRET"`
}

var envKeys = []string{
	"PORT", "ENV", "AUTH_MODE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"DEFAULT_TENANT", "CORS_ORIGINS",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY", "PORTAL_TOKEN_TTL",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"REDIS_URL", "AMQP_URL", "NOTIFICATION_QUEUE",
	"SMTP_HOST", "SMTP_PORT", "SMTP_USER", "SMTP_PASSWORD", "SMTP_FROM",
	"SMS_API_URL", "SMS_API_KEY", "SMS_FROM",
	"CLEARINGHOUSE_URL", "CLEARINGHOUSE_USERNAME", "CLEARINGHOUSE_PASSWORD", "CLEARINGHOUSE_OFFICE_KEY",
	"TELEHEALTH_API_URL", "TELEHEALTH_API_KEY",
	"MINIO_ENDPOINT", "MINIO_ACCESS_KEY", "MINIO_SECRET_KEY", "MINIO_BUCKET", "MINIO_USE_SSL",
	"STRIPE_SECRET_KEY",
	"REMINDER_CRON", "REMITTANCE_CRON", "CREDENTIAL_CRON", "REMINDER_LEAD_TIMES",
	"REMINDER_CALLBACK_SECRET",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // auto-detect: "" -> inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("PORTAL_TOKEN_TTL", "1h")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("NOTIFICATION_QUEUE", "appointment_reminders")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("MINIO_BUCKET", "ehr-documents")
	v.SetDefault("REMINDER_CRON", "@every 1m")
	v.SetDefault("REMITTANCE_CRON", "0 */4 * * *")
	v.SetDefault("CREDENTIAL_CRON", "0 6 * * *")
	v.SetDefault("REMINDER_LEAD_TIMES", "24h,2h")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active, all requests get admin access.")
		log.Println("WARNING: Do NOT use this configuration in production.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns the effective auth mode. If AUTH_MODE is explicitly
// set, it is returned. Otherwise, the mode is inferred:
//   - ENV=development → "development" (no auth, all requests get admin)
//   - AUTH_JWKS_URL set → "external" (identity provider tokens)
//   - Otherwise         → "local" (HS256 tokens signed with AUTH_SIGNING_KEY)
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	if c.AuthJWKSURL != "" {
		return "external"
	}
	return "local"
}

// ReminderLeadDurations parses REMINDER_LEAD_TIMES ("24h,2h").
func (c *Config) ReminderLeadDurations() ([]time.Duration, error) {
	var out []time.Duration
	for _, part := range strings.Split(c.ReminderLeadTimes, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := time.ParseDuration(part)
		if err != nil {
			return nil, fmt.Errorf("REMINDER_LEAD_TIMES: %w", err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("REMINDER_LEAD_TIMES: lead time %s must be positive", part)
		}
		out = append(out, d)
	}
	return out, nil
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	mode := c.ResolvedAuthMode()
	switch mode {
	case "development":
		if c.IsProduction() {
			return fmt.Errorf("AUTH_MODE=development is not allowed when ENV=production")
		}
	case "external":
		if c.AuthJWKSURL == "" || c.AuthIssuer == "" {
			return fmt.Errorf("AUTH_JWKS_URL and AUTH_ISSUER must be set when AUTH_MODE is \"external\"")
		}
	case "local":
	default:
		return fmt.Errorf("AUTH_MODE must be \"development\", \"local\", or \"external\", got %q", mode)
	}

	// The portal issues its own tokens, so a signing key is needed outside development.
	if mode != "development" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 characters")
	}
	if c.PortalTokenTTL <= 0 {
		return fmt.Errorf("PORTAL_TOKEN_TTL must be positive")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.MinioEndpoint != "" && (c.MinioAccessKey == "" || c.MinioSecretKey == "") {
		return fmt.Errorf("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required when MINIO_ENDPOINT is set")
	}
	if c.ClearinghouseURL != "" && c.ClearinghouseOfficeKey == "" {
		return fmt.Errorf("CLEARINGHOUSE_OFFICE_KEY is required when CLEARINGHOUSE_URL is set")
	}
	if _, err := c.ReminderLeadDurations(); err != nil {
		return err
	}
	if c.IsProduction() && c.ReminderCallbackSecret == "" {
		return fmt.Errorf("REMINDER_CALLBACK_SECRET is required when ENV=production")
	}
	return nil
}
