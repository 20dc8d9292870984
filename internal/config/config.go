package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Proxy     ProxyConfig     `mapstructure:"proxy"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	SMTP      SMTPConfig      `mapstructure:"smtp"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"` // sqlite file path
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port     string `mapstructure:"port"`
	BaseURL  string `mapstructure:"base_url"`  // public URL proxy links are built from
	SiteName string `mapstructure:"site_name"` // identity included in webhook payloads
}

// ProxyConfig holds proxy fetch settings
type ProxyConfig struct {
	UserAgent           string `mapstructure:"user_agent"`
	FetchTimeoutSeconds int    `mapstructure:"fetch_timeout_seconds"`
	RateLimitPerHour    int    `mapstructure:"rate_limit_per_hour"`
}

// AlertsConfig seeds the persisted settings row on first run. After that the
// database copy is authoritative; these values are not re-read.
type AlertsConfig struct {
	WebhookURL         string `mapstructure:"webhook_url"`
	WebhookMethod      string `mapstructure:"webhook_method"` // POST or GET
	WebhookSecret      string `mapstructure:"webhook_secret"`
	AlertEmail         string `mapstructure:"alert_email"`
	HealthcheckURL     string `mapstructure:"healthcheck_url"`
	AlertWindowHours   int    `mapstructure:"alert_window_hours"`
	AlertCooldownHours int    `mapstructure:"alert_cooldown_hours"`
	LogRetentionDays   int    `mapstructure:"log_retention_days"`
}

// SMTPConfig holds the email transport settings
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// SchedulerConfig holds scheduler settings
type SchedulerConfig struct {
	CheckCron string `mapstructure:"check_cron"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json or console
	Output string `mapstructure:"output"` // stdout or file path
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	// Load .env file if present (ignore errors if not found)
	_ = godotenv.Load()
	_ = godotenv.Load(".env.local")

	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")

		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".icsmon"))
		}
	}

	// Environment variables
	v.SetEnvPrefix("ICSMON")
	v.AutomaticEnv()

	// Explicit bindings for nested keys (Viper doesn't auto-bind underscored nested keys)
	v.BindEnv("database.dsn", "ICSMON_DATABASE_DSN")
	v.BindEnv("server.port", "ICSMON_SERVER_PORT")
	v.BindEnv("server.base_url", "ICSMON_SERVER_BASE_URL")
	v.BindEnv("alerts.webhook_url", "ICSMON_ALERTS_WEBHOOK_URL")
	v.BindEnv("alerts.webhook_secret", "ICSMON_ALERTS_WEBHOOK_SECRET")
	v.BindEnv("alerts.alert_email", "ICSMON_ALERTS_ALERT_EMAIL")
	v.BindEnv("alerts.healthcheck_url", "ICSMON_ALERTS_HEALTHCHECK_URL")
	v.BindEnv("smtp.host", "ICSMON_SMTP_HOST")
	v.BindEnv("smtp.port", "ICSMON_SMTP_PORT")
	v.BindEnv("smtp.username", "ICSMON_SMTP_USERNAME")
	v.BindEnv("smtp.password", "ICSMON_SMTP_PASSWORD")
	v.BindEnv("smtp.from", "ICSMON_SMTP_FROM")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.dsn", "./data/icsmon.db")

	// Server defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.site_name", "ICS Feed Monitor")

	// Proxy defaults
	v.SetDefault("proxy.user_agent", "ICS-Feed-Monitor/1.0")
	v.SetDefault("proxy.fetch_timeout_seconds", 15)
	v.SetDefault("proxy.rate_limit_per_hour", 60)

	// Alert seed defaults
	v.SetDefault("alerts.webhook_method", "POST")
	v.SetDefault("alerts.alert_window_hours", 6)
	v.SetDefault("alerts.alert_cooldown_hours", 6)
	v.SetDefault("alerts.log_retention_days", 30)

	// SMTP defaults
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.from", "icsmon@localhost")

	// Scheduler defaults
	v.SetDefault("scheduler.check_cron", "*/5 * * * *") // Every 5 minutes

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stdout")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if m := c.Alerts.WebhookMethod; m != "POST" && m != "GET" {
		return fmt.Errorf("alerts.webhook_method must be POST or GET, got %q", m)
	}
	return nil
}
