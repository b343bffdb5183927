package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	HTTPAddr string

	StorageDriver string // memory | postgres
	DatabaseURL   string

	EventsBackend    string // log | kafka | redis
	KafkaBrokers     []string
	KafkaTopicPrefix string
	RedisAddr        string
	RedisPass        string

	LogLevel  string
	LogFormat string // json | console

	ShutdownTimeout time.Duration
}

// Load reads the configuration from the environment. Variables found in
// envFiles (default ".env") fill in what the environment does not set; a
// missing file is not an error.
func Load(envFiles ...string) (AppConfig, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return AppConfig{}, fmt.Errorf("load env file: %w", err)
	}

	shutdown, err := time.ParseDuration(getEnv("SHUTDOWN_TIMEOUT", "15s"))
	if err != nil {
		return AppConfig{}, fmt.Errorf("SHUTDOWN_TIMEOUT: %w", err)
	}

	cfg := AppConfig{
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		StorageDriver:    getEnv("STORAGE_DRIVER", "memory"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		EventsBackend:    getEnv("EVENTS_BACKEND", "log"),
		KafkaBrokers:     getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaTopicPrefix: getEnv("KAFKA_TOPIC_PREFIX", ""),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPass:        getEnv("REDIS_PASS", ""),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "json"),
		ShutdownTimeout:  shutdown,
	}
	return cfg, cfg.validate()
}

func (c AppConfig) validate() error {
	switch c.StorageDriver {
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORAGE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("STORAGE_DRIVER %q: want memory or postgres", c.StorageDriver)
	}

	switch c.EventsBackend {
	case "log", "kafka", "redis":
	default:
		return fmt.Errorf("EVENTS_BACKEND %q: want log, kafka or redis", c.EventsBackend)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
