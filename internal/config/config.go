package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Marketplace API
	APIBaseURL     string
	APIToken       string // optional; a session can also be opened through the local API
	RequestTimeout time.Duration
	PollInterval   time.Duration
	EnableInbox    bool // poll the general notification inbox (admin/pharmacy roles)

	// Redis config
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int
	SnapshotTTL   time.Duration

	// Manual refresh rate limit
	RefreshLimit  int
	RefreshWindow time.Duration

	// AWS Services
	AWSRegion     string
	SESFromEmail  string
	SNSEndpoint   string // LocalStack override for the transition topic
	TransitionARN string // SNS topic receiving fulfillment transitions
	AlertQueueURL string // SQS queue for alerts; bypasses direct senders when set

	// Alert recipients
	AlertEmail      string
	AlertPhone      string
	AlertWebhookURL string
	WebhookTimeout  int // seconds
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory (or envFile, when given) is applied first;
// variables already set in the environment win.
func Load(envFile ...string) (*Config, error) {
	if err := loadEnvFile(envFile...); err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		APIBaseURL:     "http://localhost:5000/api",
		RequestTimeout: 15 * time.Second,
		PollInterval:   30 * time.Second,

		RedisHost:   "localhost",
		RedisPort:   6379,
		RedisDB:     0,
		SnapshotTTL: 10 * time.Minute,

		RefreshLimit:  10,
		RefreshWindow: time.Minute,

		AWSRegion:    "us-east-1",
		SESFromEmail: "noreply@rxsync.local",

		WebhookTimeout: 30,
	}

	var err error

	if cfg.Port, err = intEnv("PORT", cfg.Port); err != nil {
		return nil, err
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	if url := os.Getenv("API_BASE_URL"); url != "" {
		cfg.APIBaseURL = url
	}

	cfg.APIToken = os.Getenv("API_TOKEN")

	if cfg.RequestTimeout, err = durationEnv("REQUEST_TIMEOUT", cfg.RequestTimeout); err != nil {
		return nil, err
	}

	if cfg.PollInterval, err = durationEnv("POLL_INTERVAL", cfg.PollInterval); err != nil {
		return nil, err
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("invalid POLL_INTERVAL: must be positive")
	}

	if v := os.Getenv("ENABLE_INBOX"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid ENABLE_INBOX: %w", err)
		}
		cfg.EnableInbox = b
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if cfg.RedisPort, err = intEnv("REDIS_PORT", cfg.RedisPort); err != nil {
		return nil, err
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if cfg.RedisDB, err = intEnv("REDIS_DB", cfg.RedisDB); err != nil {
		return nil, err
	}

	if cfg.SnapshotTTL, err = durationEnv("SNAPSHOT_TTL", cfg.SnapshotTTL); err != nil {
		return nil, err
	}

	if cfg.RefreshLimit, err = intEnv("REFRESH_LIMIT", cfg.RefreshLimit); err != nil {
		return nil, err
	}

	if cfg.RefreshWindow, err = durationEnv("REFRESH_WINDOW", cfg.RefreshWindow); err != nil {
		return nil, err
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}

	cfg.SNSEndpoint = os.Getenv("SNS_ENDPOINT")
	cfg.TransitionARN = os.Getenv("SNS_TRANSITION_TOPIC_ARN")
	cfg.AlertQueueURL = os.Getenv("SQS_ALERT_QUEUE_URL")

	cfg.AlertEmail = os.Getenv("ALERT_EMAIL")
	cfg.AlertPhone = os.Getenv("ALERT_PHONE")
	cfg.AlertWebhookURL = os.Getenv("ALERT_WEBHOOK_URL")

	if cfg.WebhookTimeout, err = intEnv("WEBHOOK_TIMEOUT", cfg.WebhookTimeout); err != nil {
		return nil, err
	}

	return cfg, nil
}

// AlertsEnabled reports whether any alert recipient is configured.
func (c *Config) AlertsEnabled() bool {
	return c.AlertEmail != "" || c.AlertPhone != "" || c.AlertWebhookURL != ""
}

func loadEnvFile(paths ...string) error {
	if len(paths) > 0 && paths[0] != "" {
		if err := godotenv.Load(paths[0]); err != nil {
			return fmt.Errorf("load env file %s: %w", paths[0], err)
		}
		return nil
	}

	// The default .env is optional.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

// durationEnv accepts Go durations ("30s") or a bare number of seconds.
func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
