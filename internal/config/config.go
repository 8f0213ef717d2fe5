// Package config provides configuration management for blockmine.
// It handles loading configuration from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/bardlex/blockmine/internal/mining"
)

// Event encodings accepted by EVENT_FORMAT.
const (
	EventFormatJSON  = "json"
	EventFormatProto = "proto"
)

// Config holds the global configuration for blockmine
type Config struct {
	// Service identification
	ServiceName string
	Version     string
	Environment string

	// Miner configuration
	MinerWorkers           int
	MinerChunks            int
	MinerRangeFactor       int
	MinerCooperativeCancel bool
	ChainDifficulty        int

	// Kafka configuration
	KafkaEnabled        bool
	KafkaBrokers        []string
	KafkaGroupID        string
	KafkaPublishTimeout time.Duration
	EventFormat         string

	// InfluxDB configuration
	InfluxEnabled bool
	InfluxURL     string
	InfluxToken   string
	InfluxOrg     string
	InfluxBucket  string

	// ZeroMQ configuration
	ZMQEnabled bool
	ZMQPubAddr string
	ZMQSubAddr string

	// Delivery retries for every sink
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		// Service defaults
		ServiceName: getEnv("SERVICE_NAME", "blockmine"),
		Version:     getEnv("VERSION", "dev"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Miner defaults
		MinerWorkers:           getEnvInt("MINER_WORKERS", runtime.NumCPU()),
		MinerChunks:            getEnvInt("MINER_CHUNKS", mining.DefaultChunks),
		MinerRangeFactor:       getEnvInt("MINER_RANGE_FACTOR", mining.DefaultRangeFactor),
		MinerCooperativeCancel: getEnvBool("MINER_COOPERATIVE_CANCEL", true),
		ChainDifficulty:        getEnvInt("CHAIN_DIFFICULTY", 16),

		// Kafka defaults
		KafkaEnabled:        getEnvBool("KAFKA_ENABLED", false),
		KafkaBrokers:        getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:        getEnv("KAFKA_GROUP_ID", "blockmine"),
		KafkaPublishTimeout: getEnvDuration("KAFKA_PUBLISH_TIMEOUT", 5*time.Second),
		EventFormat:         strings.ToLower(getEnv("EVENT_FORMAT", EventFormatJSON)),

		// InfluxDB defaults
		InfluxEnabled: getEnvBool("INFLUX_ENABLED", false),
		InfluxURL:     getEnv("INFLUX_URL", "http://localhost:8086"),
		InfluxToken:   getEnv("INFLUX_TOKEN", ""),
		InfluxOrg:     getEnv("INFLUX_ORG", "blockmine"),
		InfluxBucket:  getEnv("INFLUX_BUCKET", "mining"),

		// ZeroMQ defaults
		ZMQEnabled: getEnvBool("ZMQ_ENABLED", false),
		ZMQPubAddr: getEnv("ZMQ_PUB_ADDR", "tcp://127.0.0.1:28332"),
		ZMQSubAddr: getEnv("ZMQ_SUB_ADDR", "tcp://127.0.0.1:28332"),

		// Retry defaults
		RetryMaxAttempts: getEnvInt("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:   getEnvDuration("RETRY_BASE_DELAY", 100*time.Millisecond),

		// Logging defaults
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate performs basic validation of configuration values. Callers that
// override fields after Load (command line flags) validate again.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("SERVICE_NAME cannot be empty")
	}

	if c.ChainDifficulty < 0 || c.ChainDifficulty > 255 {
		return fmt.Errorf("CHAIN_DIFFICULTY must be between 0 and 255")
	}

	if c.EventFormat != EventFormatJSON && c.EventFormat != EventFormatProto {
		return fmt.Errorf("EVENT_FORMAT must be %q or %q", EventFormatJSON, EventFormatProto)
	}

	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS cannot be empty when Kafka is enabled")
	}

	if c.InfluxEnabled && c.InfluxURL == "" {
		return fmt.Errorf("INFLUX_URL cannot be empty when InfluxDB is enabled")
	}

	if c.ZMQEnabled && c.ZMQPubAddr == "" {
		return fmt.Errorf("ZMQ_PUB_ADDR cannot be empty when ZeroMQ is enabled")
	}

	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be positive")
	}

	if c.MinerChunks < 0 || c.MinerRangeFactor < 0 {
		return fmt.Errorf("MINER_CHUNKS and MINER_RANGE_FACTOR must not be negative")
	}

	if err := c.Mining().Validate(); err != nil {
		return fmt.Errorf("miner settings invalid: %w", err)
	}

	return nil
}

// Mining returns the miner settings.
func (c *Config) Mining() mining.Config {
	return mining.Config{
		Workers:           c.MinerWorkers,
		Chunks:            uint64(max(c.MinerChunks, 0)),
		RangeFactor:       uint64(max(c.MinerRangeFactor, 0)),
		CooperativeCancel: c.MinerCooperativeCancel,
	}
}

// Difficulty returns ChainDifficulty as a block difficulty.
func (c *Config) Difficulty() uint8 {
	return uint8(c.ChainDifficulty)
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for part := range strings.SplitSeq(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
