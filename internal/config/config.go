package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends accepted by STORAGE_BACKEND
const (
	StorageFile     = "file"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
)

type Config struct {
	// Listeners
	ListenAddr string
	HealthAddr string

	// Persistence
	StorageBackend string
	DataDir        string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	// Fan-out and connection tuning
	BusBacklog    int
	OutboundQueue int
	IdleTimeout   time.Duration

	// Observability
	JaegerEndpoint string

	// LAN discovery
	MDNSEnabled bool
	MDNSService string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr: getEnv("LISTEN_ADDR", "0.0.0.0:4000"),
		HealthAddr: getEnv("HEALTH_ADDR", "0.0.0.0:8080"),

		StorageBackend: strings.ToLower(getEnv("STORAGE_BACKEND", StorageFile)),
		DataDir:        getEnv("DATA_DIR", "data"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "collabd"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvInt("REDIS_DB", 0),
		RedisKeyPrefix: getEnv("REDIS_KEY_PREFIX", "collabd:doc:"),

		BusBacklog:    getEnvInt("BUS_BACKLOG", 256),
		OutboundQueue: getEnvInt("OUTBOUND_QUEUE", 256),
		IdleTimeout:   getEnvDuration("IDLE_TIMEOUT", 0),

		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", ""),

		MDNSEnabled: getEnvBool("MDNS_ENABLED", false),
		MDNSService: getEnv("MDNS_SERVICE", "_collabd._tcp"),
	}

	return cfg, nil
}

// Validate checks settings that flags may have overridden after Load
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case StorageFile, StoragePostgres, StorageRedis:
	default:
		return fmt.Errorf("unknown storage backend %q (want file, postgres or redis)", c.StorageBackend)
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.BusBacklog <= 0 {
		return fmt.Errorf("BUS_BACKLOG must be positive, got %d", c.BusBacklog)
	}
	if c.OutboundQueue <= 0 {
		return fmt.Errorf("OUTBOUND_QUEUE must be positive, got %d", c.OutboundQueue)
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("IDLE_TIMEOUT must not be negative, got %s", c.IdleTimeout)
	}
	return nil
}

func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
