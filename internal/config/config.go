package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers      []string
	KafkaSourceTopic  string
	KafkaOutcomeTopic string
	KafkaGroupID      string
	HTTPAddr          string
	LogLevel          string
	LogFormat         string
	ShutdownTimeout   time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration

	// Alert storage and dedup policy.
	SQLitePath        string
	SuppressionWindow time.Duration

	// SendGrid transport configuration. An empty API key disables real
	// delivery; alerts are then logged instead of sent.
	SendGridAPIKey    string
	SendGridFromName  string
	SendGridFromEmail string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}

	flushInterval, err := parseDuration("BATCH_FLUSH_INTERVAL", "500ms")
	if err != nil {
		return nil, err
	}

	window, err := parseDuration("SUPPRESSION_WINDOW", "6h")
	if err != nil {
		return nil, err
	}

	batchSize, err := parsePositiveInt("BATCH_SIZE", 50)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		KafkaBrokers:       parseBrokers(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic:   envOrDefault("KAFKA_SOURCE_TOPIC", "disaster-reports"),
		KafkaOutcomeTopic:  envOrDefault("KAFKA_OUTCOME_TOPIC", "alert-outcomes"),
		KafkaGroupID:       envOrDefault("KAFKA_GROUP_ID", "disaster-alerter"),
		HTTPAddr:           envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           envOrDefault("LOG_LEVEL", "info"),
		LogFormat:          envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,

		SQLitePath:        envOrDefault("SQLITE_PATH", "data/alerts.db"),
		SuppressionWindow: window,

		SendGridAPIKey:    os.Getenv("SENDGRID_API_KEY"),
		SendGridFromName:  envOrDefault("SENDGRID_FROM_NAME", "Disaster Alert Service"),
		SendGridFromEmail: os.Getenv("SENDGRID_FROM_EMAIL"),
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaSourceTopic == "" {
		return nil, errors.New("KAFKA_SOURCE_TOPIC is required")
	}
	if cfg.KafkaOutcomeTopic == "" {
		return nil, errors.New("KAFKA_OUTCOME_TOPIC is required")
	}
	if cfg.SQLitePath == "" {
		return nil, errors.New("SQLITE_PATH is required")
	}
	if cfg.SendGridAPIKey != "" && cfg.SendGridFromEmail == "" {
		return nil, errors.New("SENDGRID_API_KEY is set but SENDGRID_FROM_EMAIL is not")
	}

	return cfg, nil
}

// TransportEnabled reports whether real email delivery is configured.
func (c *Config) TransportEnabled() bool {
	return c.SendGridAPIKey != ""
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseBrokers(s string) []string {
	var brokers []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}
