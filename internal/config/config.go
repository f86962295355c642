package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database (optional durable mirror; empty DB_HOST disables it)
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis (idempotency + rate limiting; empty REDIS_HOST disables both)
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// AWS delivery channels
	AWSRegion       string
	SESFromEmail    string
	SNSPushTopicARN string // topic for push fan-out; empty disables push via SNS
	SQSQueueURL     string // delivery relay queue; when set, replaces direct SES/SNS sends

	// Contact directory seeds, "recipientID=addr" pairs separated by commas.
	// A real deployment resolves contacts from the identity provider; the
	// static seed covers dev and single-tenant installs.
	RecipientEmails map[string]string
	RecipientPhones map[string]string

	// Engine tuning
	FeedBuffer      int
	JanitorInterval time.Duration

	// Rate limiting (creations per recipient per window)
	RateLimitMax    int
	RateLimitWindow time.Duration
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		// Local postgres defaults
		DBPort:    5432,
		DBUser:    "beacon",
		DBName:    "beacon",
		DBSSLMode: "disable",

		// Redis defaults
		RedisPort: 6379,

		AWSRegion:    "us-east-1",
		SESFromEmail: "noreply@beacon.local",

		RecipientEmails: map[string]string{},
		RecipientPhones: map[string]string{},

		FeedBuffer:      16,
		JanitorInterval: 15 * time.Minute,

		RateLimitMax:    120,
		RateLimitWindow: time.Minute,
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	// AWS config
	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}

	if arn := os.Getenv("SNS_PUSH_TOPIC_ARN"); arn != "" {
		cfg.SNSPushTopicARN = arn
	}

	if url := os.Getenv("SQS_QUEUE_URL"); url != "" {
		cfg.SQSQueueURL = url
	}

	// Contact directory seeds
	var err error
	if cfg.RecipientEmails, err = parsePairs(os.Getenv("RECIPIENT_EMAILS")); err != nil {
		return nil, fmt.Errorf("invalid RECIPIENT_EMAILS: %w", err)
	}
	if cfg.RecipientPhones, err = parsePairs(os.Getenv("RECIPIENT_PHONES")); err != nil {
		return nil, fmt.Errorf("invalid RECIPIENT_PHONES: %w", err)
	}

	// Engine tuning
	if buf := os.Getenv("FEED_BUFFER"); buf != "" {
		b, err := strconv.Atoi(buf)
		if err != nil || b < 1 {
			return nil, fmt.Errorf("invalid FEED_BUFFER: %q", buf)
		}
		cfg.FeedBuffer = b
	}

	if interval := os.Getenv("JANITOR_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return nil, fmt.Errorf("invalid JANITOR_INTERVAL: %w", err)
		}
		cfg.JanitorInterval = d
	}

	// Rate limit config
	if max := os.Getenv("RATE_LIMIT_MAX"); max != "" {
		m, err := strconv.Atoi(max)
		if err != nil || m < 1 {
			return nil, fmt.Errorf("invalid RATE_LIMIT_MAX: %q", max)
		}
		cfg.RateLimitMax = m
	}

	if window := os.Getenv("RATE_LIMIT_WINDOW"); window != "" {
		d, err := time.ParseDuration(window)
		if err != nil {
			return nil, fmt.Errorf("invalid RATE_LIMIT_WINDOW: %w", err)
		}
		cfg.RateLimitWindow = d
	}

	return cfg, nil
}

func parsePairs(raw string) (map[string]string, error) {
	out := map[string]string{}
	if raw == "" {
		return out, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" || value == "" {
			return nil, fmt.Errorf("malformed pair %q", pair)
		}
		out[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return out, nil
}
