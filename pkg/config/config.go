package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcclellann/fredCredit/pkg/terms"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Log       LogConfig       `yaml:"log"`
	Credit    CreditConfig    `yaml:"credit"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	SMTP      SMTPConfig      `yaml:"smtp"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host                string `yaml:"host"`
	Port                int    `yaml:"port"`
	ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
}

// DatabaseConfig selects the storage backend. For postgres either DSN or the
// individual connection fields are used.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "sqlite", "postgres" or "memory"
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "text"
}

// CreditConfig holds the money rules applied to new credits.
type CreditConfig struct {
	DownPaymentRatio string `yaml:"down_payment_ratio"`
	InterestRate     string `yaml:"interest_rate"`
	CurrencyScale    *int32 `yaml:"currency_scale"`
	CancelReversal   string `yaml:"cancel_reversal"` // "full_obligation" or "recompute"
}

// SchedulerConfig contains cron schedule settings (with seconds, UTC)
type SchedulerConfig struct {
	Enabled           bool   `yaml:"enabled"`
	DelinquencySweep  string `yaml:"delinquency_sweep"`
	ReconcileBalances string `yaml:"reconcile_balances"`
}

// SMTPConfig contains the collections digest mail settings
type SMTPConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	User     string   `yaml:"user"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	ReversalFullObligation = "full_obligation"
	ReversalRecompute      = "recompute"
)

var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Load reads configuration from a YAML file. An empty path skips the file and
// builds the configuration from the environment and defaults only.
func Load(configPath string) (*Config, error) {
	var cfg Config
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.overrideWithEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// overrideWithEnv overrides config values with environment variables
func (c *Config) overrideWithEnv() {
	// Server
	if val := os.Getenv("SERVER_HOST"); val != "" {
		c.Server.Host = val
	}
	if val := os.Getenv("SERVER_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.Server.Port)
	}

	// Database
	if val := os.Getenv("DB_DRIVER"); val != "" {
		c.Database.Driver = val
	}
	if val := os.Getenv("DB_DSN"); val != "" {
		c.Database.DSN = val
	}
	if val := os.Getenv("DB_HOST"); val != "" {
		c.Database.Host = val
	}
	if val := os.Getenv("DB_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.Database.Port)
	}
	if val := os.Getenv("DB_USER"); val != "" {
		c.Database.User = val
	}
	if val := os.Getenv("DB_PASSWORD"); val != "" {
		c.Database.Password = val
	}
	if val := os.Getenv("DB_NAME"); val != "" {
		c.Database.Database = val
	}
	if val := os.Getenv("DB_SSL_MODE"); val != "" {
		c.Database.SSLMode = val
	}

	// Log
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = val
	}

	// Credit
	if val := os.Getenv("CREDIT_DOWN_PAYMENT_RATIO"); val != "" {
		c.Credit.DownPaymentRatio = val
	}
	if val := os.Getenv("CREDIT_INTEREST_RATE"); val != "" {
		c.Credit.InterestRate = val
	}
	if val := os.Getenv("CREDIT_CANCEL_REVERSAL"); val != "" {
		c.Credit.CancelReversal = val
	}

	// SMTP
	if val := os.Getenv("SMTP_HOST"); val != "" {
		c.SMTP.Host = val
	}
	if val := os.Getenv("SMTP_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.SMTP.Port)
	}
	if val := os.Getenv("SMTP_USER"); val != "" {
		c.SMTP.User = val
	}
	if val := os.Getenv("SMTP_PASSWORD"); val != "" {
		c.SMTP.Password = val
	}
	if val := os.Getenv("SMTP_FROM"); val != "" {
		c.SMTP.From = val
	}
	if val := os.Getenv("SMTP_TO"); val != "" {
		c.SMTP.To = strings.Split(val, ",")
	}
}

// Validate checks if the configuration is valid and fills in defaults
func (c *Config) Validate() error {
	// Server
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeoutSeconds == 0 {
		c.Server.ReadTimeoutSeconds = 15
	}
	if c.Server.WriteTimeoutSeconds == 0 {
		c.Server.WriteTimeoutSeconds = 15
	}

	// Database
	switch c.Database.Driver {
	case "":
		c.Database.Driver = DriverSQLite
		fallthrough
	case DriverSQLite:
		if c.Database.DSN == "" {
			c.Database.DSN = "credits.db"
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			if c.Database.Host == "" {
				return fmt.Errorf("database host is required")
			}
			if c.Database.User == "" {
				return fmt.Errorf("database user is required")
			}
			if c.Database.Database == "" {
				return fmt.Errorf("database name is required")
			}
			if c.Database.Port == 0 {
				c.Database.Port = 5432
			}
			if c.Database.SSLMode == "" {
				c.Database.SSLMode = "disable"
			}
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown database driver: %q", c.Database.Driver)
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	// Credit
	if c.Credit.DownPaymentRatio == "" {
		c.Credit.DownPaymentRatio = terms.DefaultDownPaymentRatio.String()
	}
	if c.Credit.InterestRate == "" {
		c.Credit.InterestRate = terms.DefaultInterestRate.String()
	}
	ratio, err := decimal.NewFromString(c.Credit.DownPaymentRatio)
	if err != nil || ratio.IsNegative() || ratio.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("down payment ratio must be a number between 0 and 1: %q", c.Credit.DownPaymentRatio)
	}
	rate, err := decimal.NewFromString(c.Credit.InterestRate)
	if err != nil || rate.IsNegative() {
		return fmt.Errorf("interest rate must be a non-negative number: %q", c.Credit.InterestRate)
	}
	if c.Credit.CurrencyScale == nil {
		scale := terms.DefaultScale
		c.Credit.CurrencyScale = &scale
	}
	if *c.Credit.CurrencyScale < 0 || *c.Credit.CurrencyScale > 8 {
		return fmt.Errorf("invalid currency scale: %d", *c.Credit.CurrencyScale)
	}
	switch c.Credit.CancelReversal {
	case "":
		c.Credit.CancelReversal = ReversalFullObligation
	case ReversalFullObligation, ReversalRecompute:
	default:
		return fmt.Errorf("unknown cancel reversal mode: %q", c.Credit.CancelReversal)
	}

	// Scheduler defaults
	if c.Scheduler.DelinquencySweep == "" {
		c.Scheduler.DelinquencySweep = "0 0 6 * * *" // 6 AM UTC
	}
	if c.Scheduler.ReconcileBalances == "" {
		c.Scheduler.ReconcileBalances = "0 30 2 * * *" // 2:30 AM UTC
	}
	for name, spec := range map[string]string{
		"delinquency_sweep":  c.Scheduler.DelinquencySweep,
		"reconcile_balances": c.Scheduler.ReconcileBalances,
	} {
		if _, err := cronParser.Parse(spec); err != nil {
			return fmt.Errorf("invalid %s schedule %q: %w", name, spec, err)
		}
	}

	// SMTP validation
	if c.SMTP.Enabled {
		if c.SMTP.Host == "" {
			return fmt.Errorf("SMTP host is required")
		}
		if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
			return fmt.Errorf("invalid SMTP port: %d", c.SMTP.Port)
		}
		if c.SMTP.From == "" {
			return fmt.Errorf("SMTP sender is required")
		}
		if len(c.SMTP.To) == 0 {
			return fmt.Errorf("at least one SMTP recipient is required")
		}
	}

	return nil
}

// Policy returns the money rules described by the credit section. Call Validate first.
func (c *Config) Policy() terms.Policy {
	policy := terms.DefaultPolicy()
	if ratio, err := decimal.NewFromString(c.Credit.DownPaymentRatio); err == nil {
		policy.DownPaymentRatio = ratio
	}
	if rate, err := decimal.NewFromString(c.Credit.InterestRate); err == nil {
		policy.InterestRate = rate
	}
	if c.Credit.CurrencyScale != nil {
		policy.Scale = *c.Credit.CurrencyScale
	}
	return policy
}

// GetDatabaseConnectionString returns the DSN for the configured driver
func (c *Config) GetDatabaseConnectionString() string {
	if c.Database.DSN != "" || c.Database.Driver != DriverPostgres {
		return c.Database.DSN
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

// GetServerAddress returns the HTTP listen address
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Server.ReadTimeoutSeconds) * time.Second
}

func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Server.WriteTimeoutSeconds) * time.Second
}
