package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	LinkedIn   LinkedInConfig   `mapstructure:"linkedin"`
	Quota      QuotaConfig      `mapstructure:"quota"`
	Delivery   DeliveryConfig   `mapstructure:"delivery"`
	Automation AutomationConfig `mapstructure:"automation"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Tracker    TrackerConfig    `mapstructure:"tracker"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite, postgres or mysql
	DSN    string `mapstructure:"dsn"`    // Connection string
}

// ServerConfig holds HTTP API settings
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// Origins allowed to call the API from a browser
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// AuthConfig holds bearer token verification settings
type AuthConfig struct {
	// JWTSecret is the HS256 secret shared with the identity provider
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"` // optional, checked when set
}

// LinkedInConfig holds settings for the LinkedIn gateway, the external
// service that owns the member sessions and talks to LinkedIn.
type LinkedInConfig struct {
	GatewayURL string        `mapstructure:"gateway_url"`
	APIToken   string        `mapstructure:"api_token"`
	Timeout    time.Duration `mapstructure:"timeout"`
	// Page size used when walking a post's comment feed
	CommentPageSize int `mapstructure:"comment_page_size"`
}

// QuotaConfig holds the daily send limits
type QuotaConfig struct {
	MessageDailyLimit int    `mapstructure:"message_daily_limit"`
	ReplyDailyLimit   int    `mapstructure:"reply_daily_limit"`
	ResetHour         int    `mapstructure:"reset_hour"`   // 0-23, wall clock in Timezone
	ResetMinute       int    `mapstructure:"reset_minute"` // 0-59
	Timezone          string `mapstructure:"timezone"`     // IANA name or "Local"
	Store             string `mapstructure:"store"`        // database or redis
}

// Location resolves the configured reset timezone.
func (q QuotaConfig) Location() (*time.Location, error) {
	if q.Timezone == "" || q.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid quota.timezone %q: %w", q.Timezone, err)
	}
	return loc, nil
}

// DeliveryConfig holds outbound retry settings
type DeliveryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// AutomationConfig holds behaviour switches for the automation engine
type AutomationConfig struct {
	// DMAfterFirstDegreeReply sends the DM right after the public reply
	// when the commenter is a 1st degree connection.
	DMAfterFirstDegreeReply bool `mapstructure:"dm_after_first_degree_reply"`
	// DrainBatchSize caps how many deferred actions one drain pass executes
	DrainBatchSize int `mapstructure:"drain_batch_size"`
}

// SchedulerConfig holds scheduler settings
type SchedulerConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ScanCron    string `mapstructure:"scan_cron"`
	Concurrency int    `mapstructure:"concurrency"`
}

// StorageConfig holds attachment upload settings
type StorageConfig struct {
	UploadDir     string `mapstructure:"upload_dir"`
	PublicBaseURL string `mapstructure:"public_base_url"` // base URL the gateway fetches attachments from
	MaxUploadMB   int64  `mapstructure:"max_upload_mb"`
}

// RedisConfig holds Redis settings (used when quota.store is redis)
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// TrackerConfig holds Google Sheets delivery export settings
type TrackerConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	SpreadsheetID      string `mapstructure:"spreadsheet_id"`
	SheetName          string `mapstructure:"sheet_name"`
	CredentialsFile    string `mapstructure:"credentials_file"`
	ServiceAccountJSON string `mapstructure:"service_account_json"`
}

// RateLimitConfig holds gateway rate limiting settings
type RateLimitConfig struct {
	GatewayReadsPerSecond  float64 `mapstructure:"gateway_reads_per_second"`
	GatewayReadBurst       int     `mapstructure:"gateway_read_burst"`
	GatewayWritesPerSecond float64 `mapstructure:"gateway_writes_per_second"`
	GatewayWriteBurst      int     `mapstructure:"gateway_write_burst"`
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

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")

		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".autodm"))
		}
	}

	v.SetEnvPrefix("AUTODM")
	v.AutomaticEnv()

	// Explicit bindings for nested keys (Viper doesn't auto-bind underscored nested keys)
	v.BindEnv("database.driver", "AUTODM_DATABASE_DRIVER")
	v.BindEnv("database.dsn", "AUTODM_DATABASE_DSN")
	v.BindEnv("server.addr", "AUTODM_SERVER_ADDR")
	v.BindEnv("auth.jwt_secret", "AUTODM_AUTH_JWT_SECRET")
	v.BindEnv("linkedin.gateway_url", "AUTODM_LINKEDIN_GATEWAY_URL")
	v.BindEnv("linkedin.api_token", "AUTODM_LINKEDIN_API_TOKEN")
	v.BindEnv("quota.message_daily_limit", "AUTODM_QUOTA_MESSAGE_DAILY_LIMIT")
	v.BindEnv("quota.reply_daily_limit", "AUTODM_QUOTA_REPLY_DAILY_LIMIT")
	v.BindEnv("quota.timezone", "AUTODM_QUOTA_TIMEZONE")
	v.BindEnv("quota.store", "AUTODM_QUOTA_STORE")
	v.BindEnv("redis.url", "AUTODM_REDIS_URL")
	v.BindEnv("storage.public_base_url", "AUTODM_STORAGE_PUBLIC_BASE_URL")
	v.BindEnv("tracker.enabled", "AUTODM_TRACKER_ENABLED")
	v.BindEnv("tracker.spreadsheet_id", "AUTODM_TRACKER_SPREADSHEET_ID")
	v.BindEnv("tracker.credentials_file", "AUTODM_TRACKER_CREDENTIALS_FILE")
	v.BindEnv("tracker.service_account_json", "AUTODM_TRACKER_SERVICE_ACCOUNT_JSON")

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
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/autodm.db")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "20s")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("linkedin.gateway_url", "http://localhost:9000")
	v.SetDefault("linkedin.timeout", "30s")
	v.SetDefault("linkedin.comment_page_size", 50)

	// LinkedIn flags accounts that message too aggressively
	v.SetDefault("quota.message_daily_limit", 50)
	v.SetDefault("quota.reply_daily_limit", 50)
	v.SetDefault("quota.reset_hour", 9)
	v.SetDefault("quota.reset_minute", 0)
	v.SetDefault("quota.timezone", "Local")
	v.SetDefault("quota.store", "database")

	v.SetDefault("delivery.max_attempts", 3)
	v.SetDefault("delivery.retry_backoff", "5s")

	v.SetDefault("automation.dm_after_first_degree_reply", true)
	v.SetDefault("automation.drain_batch_size", 200)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.scan_cron", "0 * * * *") // hourly
	v.SetDefault("scheduler.concurrency", 4)

	v.SetDefault("storage.upload_dir", "./data/uploads")
	v.SetDefault("storage.public_base_url", "http://localhost:8080/uploads")
	v.SetDefault("storage.max_upload_mb", 10)

	v.SetDefault("tracker.enabled", false)
	v.SetDefault("tracker.sheet_name", "Deliveries")

	v.SetDefault("rate_limit.gateway_reads_per_second", 2.0)
	v.SetDefault("rate_limit.gateway_read_burst", 5)
	v.SetDefault("rate_limit.gateway_writes_per_second", 0.2)
	v.SetDefault("rate_limit.gateway_write_burst", 2)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stdout")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("database.driver must be sqlite, postgres or mysql, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.LinkedIn.GatewayURL == "" {
		return fmt.Errorf("linkedin.gateway_url is required")
	}
	if c.Quota.MessageDailyLimit <= 0 || c.Quota.ReplyDailyLimit <= 0 {
		return fmt.Errorf("quota daily limits must be positive")
	}
	if c.Quota.ResetHour < 0 || c.Quota.ResetHour > 23 {
		return fmt.Errorf("quota.reset_hour must be between 0 and 23")
	}
	if c.Quota.ResetMinute < 0 || c.Quota.ResetMinute > 59 {
		return fmt.Errorf("quota.reset_minute must be between 0 and 59")
	}
	if _, err := c.Quota.Location(); err != nil {
		return err
	}
	switch c.Quota.Store {
	case "database":
	case "redis":
		if c.Redis.URL == "" {
			return fmt.Errorf("redis.url is required when quota.store is redis")
		}
	default:
		return fmt.Errorf("quota.store must be database or redis, got %q", c.Quota.Store)
	}
	if c.Delivery.MaxAttempts < 1 {
		return fmt.Errorf("delivery.max_attempts must be at least 1")
	}
	return nil
}
