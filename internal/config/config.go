package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/adhocore/gronx"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port               string `yaml:"port"`
	BaseURL            string `yaml:"base_url"`
	Env                string `yaml:"env"`
	DatabaseURL        string `yaml:"database_url"`
	RedisURL           string `yaml:"redis_url"`
	GoogleClientID     string `yaml:"google_client_id"`
	GoogleClientSecret string `yaml:"google_client_secret"`
	SessionSecret      string `yaml:"session_secret"`
	AIProvider         string `yaml:"ai_provider"`
	AIKey              string `yaml:"ai_api_key"`
	CronSecret         string `yaml:"cron_secret"`
	WorkspaceFile      string `yaml:"workspace_file"`

	SchedulerEnabled       bool    `yaml:"scheduler_enabled"`
	AutoSendCron           string  `yaml:"autosend_cron"`
	SyncCron               string  `yaml:"sync_cron"`
	AutoSendBatchLimit     int     `yaml:"autosend_batch_limit"`
	BatchTimeoutSeconds    int     `yaml:"batch_timeout_seconds"`
	StaleProcessingMinutes int     `yaml:"stale_processing_minutes"`
	SendTimeoutSeconds     int     `yaml:"send_timeout_seconds"`
	MaxSyncMessages        int     `yaml:"max_sync_messages"`
	GmailRequestsPerSecond float64 `yaml:"gmail_requests_per_second"`
	DedupTTLHours          int     `yaml:"dedup_ttl_hours"`
}

func defaults() *Config {
	return &Config{
		Port:                   "8080",
		BaseURL:                "http://localhost:8080",
		Env:                    "development",
		SessionSecret:          "175cd51c-b5e7-4218-81ed-e6832c8b53f1",
		AIProvider:             "gemini",
		WorkspaceFile:          "workspace.json",
		AutoSendCron:           "* * * * *",
		SyncCron:               "*/5 * * * *",
		AutoSendBatchLimit:     20,
		BatchTimeoutSeconds:    60,
		StaleProcessingMinutes: 10,
		SendTimeoutSeconds:     120,
		MaxSyncMessages:        50,
		GmailRequestsPerSecond: 5,
		DedupTTLHours:          24,
	}
}

// LoadConfig resolves configuration from defaults, then the optional YAML
// file named by CONFIG_FILE, then the environment (including .env).
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := defaults()

	if path := GetEnv("CONFIG_FILE", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.Port = GetEnv("PORT", cfg.Port)
	cfg.BaseURL = GetEnv("BASE_URL", cfg.BaseURL)
	cfg.Env = GetEnv("ENV", cfg.Env)
	cfg.DatabaseURL = GetEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisURL = GetEnv("REDIS_URL", cfg.RedisURL)
	cfg.GoogleClientID = GetEnv("GOOGLE_CLIENT_ID", cfg.GoogleClientID)
	cfg.GoogleClientSecret = GetEnv("GOOGLE_CLIENT_SECRET", cfg.GoogleClientSecret)
	cfg.SessionSecret = GetEnv("SESSION_SECRET", cfg.SessionSecret)
	cfg.AIProvider = GetEnv("AI_PROVIDER", cfg.AIProvider)
	cfg.AIKey = GetEnv("AI_API_KEY", cfg.AIKey)
	cfg.CronSecret = GetEnv("CRON_SECRET", cfg.CronSecret)
	cfg.WorkspaceFile = GetEnv("WORKSPACE_FILE", cfg.WorkspaceFile)
	cfg.AutoSendCron = GetEnv("AUTOSEND_CRON", cfg.AutoSendCron)
	cfg.SyncCron = GetEnv("SYNC_CRON", cfg.SyncCron)

	var err error
	if cfg.SchedulerEnabled, err = getBool("SCHEDULER_ENABLED", cfg.SchedulerEnabled); err != nil {
		return nil, err
	}
	if cfg.AutoSendBatchLimit, err = getInt("AUTOSEND_BATCH_LIMIT", cfg.AutoSendBatchLimit); err != nil {
		return nil, err
	}
	if cfg.BatchTimeoutSeconds, err = getInt("BATCH_TIMEOUT_SECONDS", cfg.BatchTimeoutSeconds); err != nil {
		return nil, err
	}
	if cfg.StaleProcessingMinutes, err = getInt("STALE_PROCESSING_MINUTES", cfg.StaleProcessingMinutes); err != nil {
		return nil, err
	}
	if cfg.SendTimeoutSeconds, err = getInt("SEND_TIMEOUT_SECONDS", cfg.SendTimeoutSeconds); err != nil {
		return nil, err
	}
	if cfg.MaxSyncMessages, err = getInt("MAX_SYNC_MESSAGES", cfg.MaxSyncMessages); err != nil {
		return nil, err
	}
	if cfg.DedupTTLHours, err = getInt("DEDUP_TTL_HOURS", cfg.DedupTTLHours); err != nil {
		return nil, err
	}
	if v, ok := os.LookupEnv("GMAIL_REQUESTS_PER_SECOND"); ok {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid GMAIL_REQUESTS_PER_SECOND: %w", err)
		}
		cfg.GmailRequestsPerSecond = rps
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

// GmailEnabled reports whether Google OAuth credentials are configured.
func (c *Config) GmailEnabled() bool {
	return c.GoogleClientID != "" || c.GoogleClientSecret != ""
}

// SecureCookies is true outside development.
func (c *Config) SecureCookies() bool {
	return c.Env != "development"
}

func (c *Config) BatchTimeout() time.Duration {
	return time.Duration(c.BatchTimeoutSeconds) * time.Second
}

func (c *Config) StaleProcessingAfter() time.Duration {
	return time.Duration(c.StaleProcessingMinutes) * time.Minute
}

// SendTimeout bounds the provider work on one claimed queue item.
func (c *Config) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}

func (c *Config) DedupTTL() time.Duration {
	return time.Duration(c.DedupTTLHours) * time.Hour
}

func (c *Config) Validate() error {
	if c.GmailEnabled() {
		if c.GoogleClientID == "" {
			return fmt.Errorf("GOOGLE_CLIENT_ID is required")
		}
		if c.GoogleClientSecret == "" {
			return fmt.Errorf("GOOGLE_CLIENT_SECRET is required")
		}
	}
	if c.SessionSecret == "" {
		return fmt.Errorf("SESSION_SECRET is required")
	}
	if c.AIKey == "" {
		return fmt.Errorf("AI_API_KEY is required")
	}
	if c.CronSecret == "" {
		return fmt.Errorf("CRON_SECRET is required")
	}
	if !gronx.IsValid(c.AutoSendCron) {
		return fmt.Errorf("invalid AUTOSEND_CRON expression: %s", c.AutoSendCron)
	}
	if !gronx.IsValid(c.SyncCron) {
		return fmt.Errorf("invalid SYNC_CRON expression: %s", c.SyncCron)
	}
	if c.AutoSendBatchLimit <= 0 {
		return fmt.Errorf("AUTOSEND_BATCH_LIMIT must be positive")
	}
	if c.StaleProcessingMinutes <= 0 {
		return fmt.Errorf("STALE_PROCESSING_MINUTES must be positive")
	}
	if c.SendTimeoutSeconds <= 0 {
		return fmt.Errorf("SEND_TIMEOUT_SECONDS must be positive")
	}
	if c.SendTimeout() >= c.StaleProcessingAfter() {
		return fmt.Errorf("SEND_TIMEOUT_SECONDS (%s) must be below STALE_PROCESSING_MINUTES (%s)", c.SendTimeout(), c.StaleProcessingAfter())
	}
	return nil
}
