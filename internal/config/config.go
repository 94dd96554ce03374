package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Scan trigger modes.
const (
	TriggerTicker = "ticker" // in-process loop over every business
	TriggerSQS    = "sqs"    // consume per-business scan requests from SQS
	TriggerOff    = "off"    // scans only via the HTTP endpoint or slotctl
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	DBMaxConns int

	// Redis config
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int
	RedisPoolSize int

	// AWS services. AWSEndpoint points every client at LocalStack when set.
	AWSRegion    string
	AWSEndpoint  string
	SQSQueueURL  string // scan requests
	SNSTopicARN  string // notification.created events
	SESFromEmail string

	WebhookTimeout time.Duration

	// Photo analysis
	AIEnabled    bool
	OpenAIAPIKey string
	OpenAIModel  string

	// Scan trigger
	ScanTrigger       string
	ScanInterval      time.Duration
	ScanRatePerSecond float64
	ScanLockTTL       time.Duration

	// Engine defaults, overridable per business
	SlotStepMinutes    int
	MaxRangeDays       int
	LookaheadDays      int
	UrgentWithin       time.Duration
	LargeGapMinutes    int
	DefaultCadenceDays int

	// HTTP
	RateLimitRequests int
	RateLimitWindow   time.Duration
	CORSOrigins       []string
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "slotwise",
		DBName:     "slotwise",
		DBSSLMode:  "disable",
		DBMaxConns: 25,

		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPoolSize: 10,

		AWSRegion:    "us-east-1",
		SESFromEmail: "noreply@slotwise.local",

		WebhookTimeout: 10 * time.Second,
		OpenAIModel:    "gpt-4o-mini",

		ScanTrigger:       TriggerTicker,
		ScanInterval:      30 * time.Minute,
		ScanRatePerSecond: 5,
		ScanLockTTL:       2 * time.Minute,

		SlotStepMinutes:    15,
		MaxRangeDays:       31,
		LookaheadDays:      14,
		UrgentWithin:       48 * time.Hour,
		LargeGapMinutes:    120,
		DefaultCadenceDays: 30,

		RateLimitRequests: 120,
		RateLimitWindow:   time.Minute,
		CORSOrigins:       []string{"*"},
	}

	strs := map[string]*string{
		"LOG_LEVEL":      &cfg.LogLevel,
		"ENV":            &cfg.Env,
		"DB_HOST":        &cfg.DBHost,
		"DB_USER":        &cfg.DBUser,
		"DB_PASSWORD":    &cfg.DBPassword,
		"DB_NAME":        &cfg.DBName,
		"DB_SSLMODE":     &cfg.DBSSLMode,
		"REDIS_HOST":     &cfg.RedisHost,
		"REDIS_PASSWORD": &cfg.RedisPassword,
		"AWS_REGION":     &cfg.AWSRegion,
		"AWS_ENDPOINT":   &cfg.AWSEndpoint,
		"SQS_QUEUE_URL":  &cfg.SQSQueueURL,
		"SNS_TOPIC_ARN":  &cfg.SNSTopicARN,
		"SES_FROM_EMAIL": &cfg.SESFromEmail,
		"OPENAI_MODEL":   &cfg.OpenAIModel,
		"SCAN_TRIGGER":   &cfg.ScanTrigger,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"PORT":                 &cfg.Port,
		"DB_PORT":              &cfg.DBPort,
		"DB_MAX_CONNS":         &cfg.DBMaxConns,
		"REDIS_PORT":           &cfg.RedisPort,
		"REDIS_DB":             &cfg.RedisDB,
		"REDIS_POOL_SIZE":      &cfg.RedisPoolSize,
		"SLOT_STEP_MINUTES":    &cfg.SlotStepMinutes,
		"MAX_RANGE_DAYS":       &cfg.MaxRangeDays,
		"LOOKAHEAD_DAYS":       &cfg.LookaheadDays,
		"LARGE_GAP_MINUTES":    &cfg.LargeGapMinutes,
		"DEFAULT_CADENCE_DAYS": &cfg.DefaultCadenceDays,
		"RATE_LIMIT_REQUESTS":  &cfg.RateLimitRequests,
	}
	for key, dst := range ints {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = n
	}

	durations := map[string]*time.Duration{
		"WEBHOOK_TIMEOUT":   &cfg.WebhookTimeout,
		"SCAN_INTERVAL":     &cfg.ScanInterval,
		"SCAN_LOCK_TTL":     &cfg.ScanLockTTL,
		"URGENT_WITHIN":     &cfg.UrgentWithin,
		"RATE_LIMIT_WINDOW": &cfg.RateLimitWindow,
	}
	for key, dst := range durations {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = d
	}

	if v := os.Getenv("SCAN_RATE_PER_SECOND"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid SCAN_RATE_PER_SECOND: %w", err)
		}
		cfg.ScanRatePerSecond = f
	}

	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.OpenAIAPIKey = key
		cfg.AIEnabled = true
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.ScanTrigger {
	case TriggerTicker, TriggerOff:
	case TriggerSQS:
		if c.SQSQueueURL == "" {
			return fmt.Errorf("SCAN_TRIGGER=sqs requires SQS_QUEUE_URL")
		}
	default:
		return fmt.Errorf("invalid SCAN_TRIGGER %q (want ticker, sqs or off)", c.ScanTrigger)
	}
	if c.ScanInterval <= 0 {
		return fmt.Errorf("SCAN_INTERVAL must be positive")
	}
	if c.ScanRatePerSecond <= 0 {
		return fmt.Errorf("SCAN_RATE_PER_SECOND must be positive")
	}
	if c.SlotStepMinutes <= 0 || c.LookaheadDays <= 0 || c.MaxRangeDays <= 0 {
		return fmt.Errorf("SLOT_STEP_MINUTES, LOOKAHEAD_DAYS and MAX_RANGE_DAYS must be positive")
	}
	return nil
}
