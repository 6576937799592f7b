// Package config handles environment variable loading for connection
// strings, mailbox settings and monitoring policy.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration values for the application.
type Config struct {
	// Database connection string
	DatabaseURL string

	// Broker connection string and exchange name
	BrokerURL      string
	BrokerExchange string

	// Mailbox (IMAP) settings for the email bridge
	IMAPAddr            string
	IMAPUsername        string
	IMAPPassword        string
	IMAPMailbox         string
	IMAPMailboxProcessed string
	IMAPMailboxRejected  string
	IMAPServerID        string
	DeleteProcessedEmail bool

	// Delay before the bridge cycle restarts after a fault
	IdleFaultRetryDelay time.Duration

	// SMTP settings for operator/user alert emails
	SMTPHost      string
	SMTPPort      int
	SMTPUsername  string
	SMTPPassword  string
	AlertFrom     string
	OperatorEmail string

	// Remote dispatch (SSH) settings for supervision scripts
	SSHKeyFile       string
	SSHPort          int
	AuthorizedLogins []string

	// Monitoring policy
	DefaultWarningDelay  int64 // seconds before an unfinished job is considered late
	MaxJobPeriodFailures int
	MaxDispatchTries     int
	ExcludedTypeCodes    []string

	// Metrics listen address and optional OTLP collector endpoint
	MetricsAddr   string
	OTELCollector string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		BrokerExchange:       "simwatch.delayed",
		IMAPMailbox:          "INBOX",
		IMAPMailboxProcessed: "PROCESSED",
		IMAPMailboxRejected:  "REJECTED",
		IMAPServerID:         "primary",
		IdleFaultRetryDelay:  30 * time.Second,
		SMTPPort:             587,
		SSHPort:              22,
		DefaultWarningDelay:  3600,
		MaxJobPeriodFailures: 5,
		MaxDispatchTries:     4,
		MetricsAddr:          ":6272",
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg.BrokerURL = os.Getenv("BROKER_URL")
	if cfg.BrokerURL == "" {
		return nil, fmt.Errorf("BROKER_URL is required")
	}

	if v := os.Getenv("BROKER_EXCHANGE"); v != "" {
		cfg.BrokerExchange = v
	}

	cfg.IMAPAddr = os.Getenv("IMAP_ADDR")
	cfg.IMAPUsername = os.Getenv("IMAP_USERNAME")
	cfg.IMAPPassword = os.Getenv("IMAP_PASSWORD")
	if v := os.Getenv("IMAP_MAILBOX"); v != "" {
		cfg.IMAPMailbox = v
	}
	if v := os.Getenv("IMAP_MAILBOX_PROCESSED"); v != "" {
		cfg.IMAPMailboxProcessed = v
	}
	if v := os.Getenv("IMAP_MAILBOX_REJECTED"); v != "" {
		cfg.IMAPMailboxRejected = v
	}
	if v := os.Getenv("IMAP_SERVER_ID"); v != "" {
		cfg.IMAPServerID = v
	}
	if v := os.Getenv("DELETE_PROCESSED_EMAIL"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid DELETE_PROCESSED_EMAIL: %w", err)
		}
		cfg.DeleteProcessedEmail = b
	}
	if v := os.Getenv("IDLE_FAULT_RETRY_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid IDLE_FAULT_RETRY_DELAY: %w", err)
		}
		cfg.IdleFaultRetryDelay = d
	}

	cfg.SMTPHost = os.Getenv("SMTP_HOST")
	if v := os.Getenv("SMTP_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SMTP_PORT: %w", err)
		}
		cfg.SMTPPort = p
	}
	cfg.SMTPUsername = os.Getenv("SMTP_USERNAME")
	cfg.SMTPPassword = os.Getenv("SMTP_PASSWORD")
	cfg.AlertFrom = os.Getenv("ALERT_FROM")
	cfg.OperatorEmail = os.Getenv("OPERATOR_EMAIL")

	cfg.SSHKeyFile = os.Getenv("SSH_KEY_FILE")
	if v := os.Getenv("SSH_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SSH_PORT: %w", err)
		}
		cfg.SSHPort = p
	}
	if v := os.Getenv("AUTHORIZED_LOGINS"); v != "" {
		for _, login := range strings.Split(v, ",") {
			if login = strings.TrimSpace(login); login != "" {
				cfg.AuthorizedLogins = append(cfg.AuthorizedLogins, login)
			}
		}
	}

	if v := os.Getenv("DEFAULT_WARNING_DELAY"); v != "" {
		d, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid DEFAULT_WARNING_DELAY: %w", err)
		}
		cfg.DefaultWarningDelay = d
	}
	if v := os.Getenv("MAX_JOB_PERIOD_FAILURES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_JOB_PERIOD_FAILURES: %w", err)
		}
		cfg.MaxJobPeriodFailures = n
	}
	if v := os.Getenv("MAX_DISPATCH_TRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_DISPATCH_TRIES: %w", err)
		}
		cfg.MaxDispatchTries = n
	}
	if v := os.Getenv("EXCLUDED_TYPE_CODES"); v != "" {
		for _, code := range strings.Split(v, ",") {
			if code = strings.TrimSpace(code); code != "" {
				cfg.ExcludedTypeCodes = append(cfg.ExcludedTypeCodes, code)
			}
		}
	}

	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	cfg.OTELCollector = os.Getenv("OTEL_COLLECTOR_ADDR")

	return cfg, nil
}
