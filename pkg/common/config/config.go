package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64

	// Training backend
	TrainingBackendURL    string
	BackendRequestTimeout time.Duration
	StopRetryAttempts     int

	// Monitor
	Monitor MonitorConfig

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
	HistoryEnabled   bool

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers      []string
	KafkaGroupID      string
	KafkaSessionTopic string

	// Events
	EventsEnabled bool

	// Chart sink: "log", "redis" or "memory"
	ChartSink     string
	ChartRedisTTL time.Duration

	// Simulator
	SimEpochDelay time.Duration
	SimFailRate   float64
}

// MonitorConfig controls polling cadence and series retention.
type MonitorConfig struct {
	PollInterval         time.Duration
	RequestTimeout       time.Duration
	MaxBackoff           time.Duration
	MaxTransientFailures int
	SeriesCapacity       int
	TrackedMetrics       []string

	loadErr error
}

func Load() *Config {
	cfg := &Config{
		ServerPort:     getEnv("SERVER_PORT", "8090"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 1024*1024)),

		TrainingBackendURL:    getEnv("TRAINING_BACKEND_URL", "http://localhost:8088"),
		BackendRequestTimeout: getDuration("BACKEND_REQUEST_TIMEOUT", 10*time.Second),
		StopRetryAttempts:     getIntEnv("STOP_RETRY_ATTEMPTS", 3),

		Monitor: MonitorConfig{
			PollInterval:         getDuration("POLL_INTERVAL", 2*time.Second),
			RequestTimeout:       getDuration("POLL_REQUEST_TIMEOUT", 0),
			MaxBackoff:           getDuration("POLL_MAX_BACKOFF", 30*time.Second),
			MaxTransientFailures: getIntEnv("POLL_MAX_TRANSIENT_FAILURES", 0),
			SeriesCapacity:       getIntEnv("SERIES_CAPACITY", 20),
			TrackedMetrics: getStringSliceEnv("TRACKED_METRICS", []string{
				"training_accuracy", "validation_accuracy", "training_loss",
			}),
		},

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "trainwatch"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "trainwatch"),
		PostgresDB:       getEnv("POSTGRES_DB", "trainwatch"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		HistoryEnabled:   getBoolEnv("HISTORY_ENABLED", false),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers:      getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:      getEnv("KAFKA_GROUP_ID", "trainwatch"),
		KafkaSessionTopic: getEnv("KAFKA_SESSION_TOPIC", "training-sessions"),

		EventsEnabled: getBoolEnv("EVENTS_ENABLED", false),

		ChartSink:     strings.ToLower(getEnv("CHART_SINK", "log")),
		ChartRedisTTL: getDuration("CHART_REDIS_TTL", time.Hour),

		SimEpochDelay: getDuration("SIM_EPOCH_DELAY", 3*time.Second),
		SimFailRate:   getFloatEnv("SIM_FAIL_RATE", 0),
	}

	if path := os.Getenv("MONITOR_CONFIG_FILE"); path != "" {
		if err := cfg.Monitor.Overlay(path); err != nil {
			// Keep env values; the caller logs once the logger is up.
			cfg.Monitor.loadErr = err
		}
	}
	cfg.Monitor.normalize()
	return cfg
}

// OverlayError reports a failure to read MONITOR_CONFIG_FILE, if any.
func (c *Config) OverlayError() error {
	return c.Monitor.loadErr
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getStringSliceEnv splits a comma separated value.
func getStringSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
