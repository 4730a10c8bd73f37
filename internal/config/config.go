package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the CallRelay server.
// Precedence: CLI flags > env vars > .env file > defaults.
type Config struct {
	DataDir     string
	HTTPPort    int
	DatabaseURL string // PostgreSQL DSN; empty selects the embedded SQLite store
	LogLevel    string
	LogFormat   string // log output format: "text" or "json"

	// WebhookSecret is the shared secret for HMAC-SHA256 signature
	// verification. The server refuses to start without it.
	WebhookSecret string

	// Rate limiting for the webhook endpoint.
	RateLimit     int
	RateWindowSec int

	// Recipient directory.
	LeadPhone        string
	ManagerPhone     string
	OnCallPhones     string // comma-separated E.164 numbers
	OnCallPushTokens string // comma-separated FCM registration tokens
	OfficeEmail      string

	// SMS provider (Twilio-compatible REST API).
	SMSBaseURL    string
	SMSAccountSID string
	SMSAuthToken  string
	SMSFromNumber string
	SMSSendRate   float64 // messages per second

	// Push notifications.
	FCMCredentialsFile string

	// Office email over SMTP.
	SMTPHost     string
	SMTPPort     string
	SMTPFrom     string
	SMTPUsername string
	SMTPPassword string
	SMTPTLS      string // "none", "starttls", "tls"

	// Classification keyword lists, comma-separated, appended to the
	// built-in defaults.
	EmergencyKeywords string
	MunicipalPrefixes string
	BusinessKeywords  string
}

// defaults
const (
	defaultDataDir       = "./data"
	defaultHTTPPort      = 8080
	defaultLogLevel      = "info"
	defaultLogFormat     = "text"
	defaultRateLimit     = 100
	defaultRateWindowSec = 60
	defaultSMSSendRate   = 1.0
	defaultSMSBaseURL    = "https://api.twilio.com/2010-04-01"
)

// envPrefix is the prefix for all CallRelay environment variables.
const envPrefix = "CALLRELAY_"

// Load parses configuration from CLI flags, environment variables, and an
// optional .env file in the working directory.
func Load() (*Config, error) {
	// .env populates the environment before overrides are read; real env
	// vars win over file values.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("could not load .env file", "error", err)
	}

	cfg := &Config{}

	fs := flag.NewFlagSet("callrelay", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the embedded database")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port")
	fs.StringVar(&cfg.DatabaseURL, "database-url", "", "PostgreSQL DSN (uses embedded SQLite when empty)")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.WebhookSecret, "webhook-secret", "", "shared secret for webhook signature verification (required)")
	fs.IntVar(&cfg.RateLimit, "rate-limit", defaultRateLimit, "max webhook requests per source per window")
	fs.IntVar(&cfg.RateWindowSec, "rate-window", defaultRateWindowSec, "rate limit window in seconds")
	fs.StringVar(&cfg.LeadPhone, "lead-phone", "", "E.164 phone number of the team lead")
	fs.StringVar(&cfg.ManagerPhone, "manager-phone", "", "E.164 phone number of the manager")
	fs.StringVar(&cfg.OnCallPhones, "oncall-phones", "", "comma-separated E.164 numbers of the on-call rotation")
	fs.StringVar(&cfg.OnCallPushTokens, "oncall-push-tokens", "", "comma-separated FCM tokens for the on-call mobile app")
	fs.StringVar(&cfg.OfficeEmail, "office-email", "", "email address receiving escalation summaries")
	fs.StringVar(&cfg.SMSBaseURL, "sms-base-url", defaultSMSBaseURL, "base URL of the Twilio-compatible SMS API")
	fs.StringVar(&cfg.SMSAccountSID, "sms-account-sid", "", "SMS provider account SID")
	fs.StringVar(&cfg.SMSAuthToken, "sms-auth-token", "", "SMS provider auth token")
	fs.StringVar(&cfg.SMSFromNumber, "sms-from-number", "", "E.164 sender number for outbound SMS")
	fs.Float64Var(&cfg.SMSSendRate, "sms-send-rate", defaultSMSSendRate, "outbound SMS messages per second")
	fs.StringVar(&cfg.FCMCredentialsFile, "fcm-credentials", "", "path to the Firebase service account JSON file")
	fs.StringVar(&cfg.SMTPHost, "smtp-host", "", "SMTP server hostname")
	fs.StringVar(&cfg.SMTPPort, "smtp-port", "587", "SMTP server port")
	fs.StringVar(&cfg.SMTPFrom, "smtp-from", "", "From address for escalation emails")
	fs.StringVar(&cfg.SMTPUsername, "smtp-username", "", "SMTP auth username")
	fs.StringVar(&cfg.SMTPPassword, "smtp-password", "", "SMTP auth password")
	fs.StringVar(&cfg.SMTPTLS, "smtp-tls", "starttls", "SMTP TLS mode (none, starttls, tls)")
	fs.StringVar(&cfg.EmergencyKeywords, "emergency-keywords", "", "extra comma-separated P1 keywords")
	fs.StringVar(&cfg.MunicipalPrefixes, "municipal-prefixes", "", "extra comma-separated P2 phone prefixes")
	fs.StringVar(&cfg.BusinessKeywords, "business-keywords", "", "extra comma-separated P3 keywords")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the
	// command line. CLI flags take precedence over env vars.
	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	envMap := map[string]string{
		"data-dir":           envPrefix + "DATA_DIR",
		"http-port":          envPrefix + "HTTP_PORT",
		"database-url":       envPrefix + "DATABASE_URL",
		"log-level":          envPrefix + "LOG_LEVEL",
		"log-format":         envPrefix + "LOG_FORMAT",
		"webhook-secret":     envPrefix + "WEBHOOK_SECRET",
		"rate-limit":         envPrefix + "RATE_LIMIT",
		"rate-window":        envPrefix + "RATE_WINDOW",
		"lead-phone":         envPrefix + "LEAD_PHONE",
		"manager-phone":      envPrefix + "MANAGER_PHONE",
		"oncall-phones":      envPrefix + "ONCALL_PHONES",
		"oncall-push-tokens": envPrefix + "ONCALL_PUSH_TOKENS",
		"office-email":       envPrefix + "OFFICE_EMAIL",
		"sms-base-url":       envPrefix + "SMS_BASE_URL",
		"sms-account-sid":    envPrefix + "SMS_ACCOUNT_SID",
		"sms-auth-token":     envPrefix + "SMS_AUTH_TOKEN",
		"sms-from-number":    envPrefix + "SMS_FROM_NUMBER",
		"sms-send-rate":      envPrefix + "SMS_SEND_RATE",
		"fcm-credentials":    envPrefix + "FCM_CREDENTIALS",
		"smtp-host":          envPrefix + "SMTP_HOST",
		"smtp-port":          envPrefix + "SMTP_PORT",
		"smtp-from":          envPrefix + "SMTP_FROM",
		"smtp-username":      envPrefix + "SMTP_USERNAME",
		"smtp-password":      envPrefix + "SMTP_PASSWORD",
		"smtp-tls":           envPrefix + "SMTP_TLS",
		"emergency-keywords": envPrefix + "EMERGENCY_KEYWORDS",
		"municipal-prefixes": envPrefix + "MUNICIPAL_PREFIXES",
		"business-keywords":  envPrefix + "BUSINESS_KEYWORDS",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "data-dir":
			cfg.DataDir = val
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "database-url":
			cfg.DatabaseURL = val
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		case "webhook-secret":
			cfg.WebhookSecret = val
		case "rate-limit":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.RateLimit = v
			}
		case "rate-window":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.RateWindowSec = v
			}
		case "lead-phone":
			cfg.LeadPhone = val
		case "manager-phone":
			cfg.ManagerPhone = val
		case "oncall-phones":
			cfg.OnCallPhones = val
		case "oncall-push-tokens":
			cfg.OnCallPushTokens = val
		case "office-email":
			cfg.OfficeEmail = val
		case "sms-base-url":
			cfg.SMSBaseURL = val
		case "sms-account-sid":
			cfg.SMSAccountSID = val
		case "sms-auth-token":
			cfg.SMSAuthToken = val
		case "sms-from-number":
			cfg.SMSFromNumber = val
		case "sms-send-rate":
			if v, err := strconv.ParseFloat(val, 64); err == nil {
				cfg.SMSSendRate = v
			}
		case "fcm-credentials":
			cfg.FCMCredentialsFile = val
		case "smtp-host":
			cfg.SMTPHost = val
		case "smtp-port":
			cfg.SMTPPort = val
		case "smtp-from":
			cfg.SMTPFrom = val
		case "smtp-username":
			cfg.SMTPUsername = val
		case "smtp-password":
			cfg.SMTPPassword = val
		case "smtp-tls":
			cfg.SMTPTLS = val
		case "emergency-keywords":
			cfg.EmergencyKeywords = val
		case "municipal-prefixes":
			cfg.MunicipalPrefixes = val
		case "business-keywords":
			cfg.BusinessKeywords = val
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	if c.WebhookSecret == "" {
		return fmt.Errorf("webhook-secret is required; set -webhook-secret or %sWEBHOOK_SECRET", envPrefix)
	}
	if c.RateLimit < 1 {
		return fmt.Errorf("rate-limit must be positive, got %d", c.RateLimit)
	}
	if c.RateWindowSec < 1 {
		return fmt.Errorf("rate-window must be positive, got %d", c.RateWindowSec)
	}
	if c.SMSSendRate <= 0 {
		return fmt.Errorf("sms-send-rate must be positive, got %g", c.SMSSendRate)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	validTLS := map[string]bool{"none": true, "starttls": true, "tls": true}
	if !validTLS[strings.ToLower(c.SMTPTLS)] {
		return fmt.Errorf("smtp-tls must be one of none, starttls, tls; got %q", c.SMTPTLS)
	}
	c.SMTPTLS = strings.ToLower(c.SMTPTLS)

	return nil
}

// RateWindow returns the rate limit window as a duration.
func (c *Config) RateWindow() time.Duration {
	return time.Duration(c.RateWindowSec) * time.Second
}

// SplitList splits a comma-separated config value into trimmed non-empty
// entries.
func SplitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
