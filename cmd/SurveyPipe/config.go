package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for SurveyPipe state data
	DefaultStateDir = "/var/lib/surveypipe"
	// DefaultAppDBFileName is the default SQLite database filename for application data
	DefaultAppDBFileName = "surveypipe.db"
	// DefaultWhatsAppDBFileName is the default SQLite database filename for whatsmeow
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// ReportsDirName holds generated reports inside the state directory
	ReportsDirName = "reports"
)

// Supported transports.
const (
	TransportWhatsApp = "whatsapp"
	TransportTwilio   = "twilio"
)

// Config holds the process configuration. Values come from the environment (and .env)
// and may be overridden by command line flags.
type Config struct {
	AdminPassword string   `env:"ADMIN_PASSWORD"`
	TimeZone      string   `env:"TZ"`
	AdminIDs      []string `env:"ADMIN_IDS" envSeparator:","`

	StateDir    string `env:"SURVEYPIPE_STATE_DIR" envDefault:"/var/lib/surveypipe"`
	DatabaseURL string `env:"DATABASE_URL"`
	WhatsAppDSN string `env:"WHATSAPP_DB_DSN"`

	Transport        string `env:"TRANSPORT"          envDefault:"whatsapp"`
	TwilioAccountSID string `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `env:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber string `env:"TWILIO_FROM_NUMBER"`
	TwilioWebhookURL string `env:"TWILIO_WEBHOOK_URL"`

	OpenAIKey     string `env:"OPENAI_API_KEY"`
	OpenAIModel   string `env:"OPENAI_MODEL"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`

	APIAddr     string `env:"API_ADDR"    envDefault:":8080"`
	ReportCron  string `env:"REPORT_CRON" envDefault:"0 23 * * *"`
	SurveyCron  string `env:"SURVEY_CRON"`
	CatalogFile string `env:"CATALOG_FILE"`

	LockoutDuration      time.Duration `env:"ADMIN_LOCKOUT_DURATION"`
	BroadcastConcurrency int           `env:"BROADCAST_CONCURRENCY" envDefault:"8"`
	WorkerCount          int           `env:"WORKER_COUNT"          envDefault:"4"`

	// Flag-only settings.
	QROutput    string `env:"-"`
	NumericCode bool   `env:"-"`

	// Location is resolved from TimeZone by Validate.
	Location *time.Location `env:"-"`
}

// loadConfig reads .env, the environment and then args.
func loadConfig(args []string) (Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}

	fs := flag.NewFlagSet("SurveyPipe", flag.ContinueOnError)
	fs.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "state directory for SurveyPipe data (overrides $SURVEYPIPE_STATE_DIR)")
	fs.StringVar(&cfg.DatabaseURL, "db-dsn", cfg.DatabaseURL, "application database DSN (overrides $DATABASE_URL)")
	fs.StringVar(&cfg.WhatsAppDSN, "whatsapp-db-dsn", cfg.WhatsAppDSN, "whatsmeow database DSN (overrides $WHATSAPP_DB_DSN)")
	fs.StringVar(&cfg.Transport, "transport", cfg.Transport, "message transport: whatsapp or twilio (overrides $TRANSPORT)")
	fs.StringVar(&cfg.OpenAIKey, "openai-api-key", cfg.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	fs.StringVar(&cfg.APIAddr, "api-addr", cfg.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&cfg.CatalogFile, "catalog", cfg.CatalogFile, "YAML question catalog (overrides $CATALOG_FILE)")
	fs.StringVar(&cfg.QROutput, "qr-output", "", "path to write login QR code")
	fs.BoolVar(&cfg.NumericCode, "numeric-code", false, "use numeric login code instead of QR code")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	cfg.resolveDefaults()
	slog.Debug("configuration loaded",
		"state_dir", cfg.StateDir,
		"transport", cfg.Transport,
		"admin_ids", len(cfg.AdminIDs),
		"openai_key_set", cfg.OpenAIKey != "",
		"api_addr", cfg.APIAddr,
		"report_cron", cfg.ReportCron,
		"survey_cron", cfg.SurveyCron,
		"catalog_file", cfg.CatalogFile)
	return cfg, nil
}

// resolveDefaults places unset databases inside the state directory.
func (c *Config) resolveDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = filepath.Join(c.StateDir, DefaultAppDBFileName)
	}
	if c.WhatsAppDSN == "" {
		c.WhatsAppDSN = "file:" + filepath.Join(c.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
	}
}

// ReportsDir returns where generated reports are written.
func (c Config) ReportsDir() string {
	return filepath.Join(c.StateDir, ReportsDirName)
}

// Validate checks required settings and resolves the time zone. Every problem is
// reported, not just the first.
func (c *Config) Validate() error {
	var errs []error
	if c.AdminPassword == "" {
		errs = append(errs, errors.New("ADMIN_PASSWORD is required"))
	}
	if c.TimeZone == "" {
		errs = append(errs, errors.New("TZ is required"))
	} else if loc, err := time.LoadLocation(c.TimeZone); err != nil {
		errs = append(errs, fmt.Errorf("TZ %q cannot be loaded: %w", c.TimeZone, err))
	} else {
		c.Location = loc
	}
	switch c.Transport {
	case TransportWhatsApp:
	case TransportTwilio:
		if c.TwilioAccountSID == "" || c.TwilioAuthToken == "" || c.TwilioFromNumber == "" {
			errs = append(errs, errors.New("TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER are required for the twilio transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown TRANSPORT %q", c.Transport))
	}
	if c.BroadcastConcurrency < 1 {
		errs = append(errs, fmt.Errorf("BROADCAST_CONCURRENCY must be positive, got %d", c.BroadcastConcurrency))
	}
	if c.WorkerCount < 1 {
		errs = append(errs, fmt.Errorf("WORKER_COUNT must be positive, got %d", c.WorkerCount))
	}
	if c.LockoutDuration < 0 {
		errs = append(errs, fmt.Errorf("ADMIN_LOCKOUT_DURATION cannot be negative"))
	}
	return errors.Join(errs...)
}
