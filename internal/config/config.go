// Package config centralises configuration parsing for the bulletin binaries.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config captures runtime configuration values shared by the binaries.
type Config struct {
	HTTPAddress        string
	CORSOrigin         string
	MetricsAddress     string
	PostgresURL        string // Empty selects the in-memory store.
	KafkaBrokers       []string
	SchemaRegistryURL  string
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	JWTSecret          string
	JWTIssuer          string
	DLQPollInterval    time.Duration // Interval between DLQ polling iterations.
	DLQMaxRetries      int           // Maximum number of DLQ retry attempts before quarantine.
	DLQBaseDelay       time.Duration // Base delay used for exponential backoff.
	SweepInterval      time.Duration
	RedisURL           string
	BroadcastChannel   string
	RosterURL          string
	RosterToken        string
	RosterCacheTTL     time.Duration
	StorageURL         string
	StorageToken       string
	MattermostWebhook  string
	MattermostLinkBase string
	ConsumerGroupID    string
	ConsumerTopics     []string
	DeadLetterTopic    string // Empty (CONSUMER_DEAD_LETTER_TOPIC=none) drops messages that exhaust their retries.
	HTTPClientTimeout  time.Duration
}

// Load reads environment variables into Config, applying defaults for local
// dev. A .env file in the working directory is applied first when present;
// variables already set in the environment win.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("config: ignoring .env: %v", err)
	}

	cfg := Config{
		HTTPAddress:        getEnv("HTTP_ADDRESS", ":8080"),
		CORSOrigin:         getEnv("CORS_ALLOWED_ORIGIN", "http://localhost:5173"),
		MetricsAddress:     getEnv("METRICS_ADDRESS", ""),
		PostgresURL:        getEnv("POSTGRES_URL", ""),
		SchemaRegistryURL:  getEnv("SCHEMA_REGISTRY_URL", "http://schema-registry:8081"),
		OutboxPollInterval: getDurationEnv("OUTBOX_POLL_INTERVAL", 2*time.Second),
		OutboxBatchSize:    getIntEnv("OUTBOX_BATCH_SIZE", 25),
		JWTSecret:          getEnv("JWT_SECRET", "dev-secret-change-me"),
		JWTIssuer:          getEnv("JWT_ISSUER", "bulletin.identity"),
		DLQPollInterval:    getDurationEnv("DLQ_POLL_INTERVAL", 30*time.Second),
		DLQMaxRetries:      getIntEnv("DLQ_MAX_RETRIES", 5),
		DLQBaseDelay:       getDurationEnv("DLQ_BASE_DELAY", time.Minute),
		SweepInterval:      getDurationEnv("SWEEP_INTERVAL", 30*time.Second),
		RedisURL:           getEnv("REDIS_URL", ""),
		BroadcastChannel:   getEnv("BROADCAST_CHANNEL", "bulletin:invalidations"),
		RosterURL:          getEnv("ROSTER_URL", ""),
		RosterToken:        getEnv("ROSTER_TOKEN", ""),
		RosterCacheTTL:     getDurationEnv("ROSTER_CACHE_TTL", time.Minute),
		StorageURL:         getEnv("STORAGE_URL", ""),
		StorageToken:       getEnv("STORAGE_TOKEN", ""),
		MattermostWebhook:  getEnv("MATTERMOST_WEBHOOK_URL", ""),
		MattermostLinkBase: getEnv("MATTERMOST_LINK_BASE", ""),
		ConsumerGroupID:    getEnv("CONSUMER_GROUP_ID", "bulletin-notifier"),
		DeadLetterTopic:    getEnv("CONSUMER_DEAD_LETTER_TOPIC", "activity_published.dead_letter"),
		HTTPClientTimeout:  getDurationEnv("HTTP_CLIENT_TIMEOUT", 5*time.Second),
	}

	cfg.KafkaBrokers = splitAndTrim(getEnv("KAFKA_BROKERS", "kafka:9092"))
	cfg.ConsumerTopics = splitAndTrim(getEnv("CONSUMER_TOPICS", "activity_published"))
	if cfg.DeadLetterTopic == "none" {
		cfg.DeadLetterTopic = ""
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}
