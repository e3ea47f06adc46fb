// Package config loads application configuration from YAML files with
// environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Filter, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/errors"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Filter   FilterConfig   `yaml:"filter"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings for the health endpoints.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

type KafkaTopics struct {
	NGramRequests string `yaml:"ngramRequests"`
	NGramVerdicts string `yaml:"ngramVerdicts"`
}

// RedisConfig holds Redis connection and verdict caching parameters.
// An empty Addr disables the cache.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// FilterConfig points at the phrase source and sizes the filtering
// pipeline. SnapshotPath wins over PhrasesPath when both are set.
type FilterConfig struct {
	PhrasesPath  string `yaml:"phrasesPath"`
	SnapshotPath string `yaml:"snapshotPath"`
	Workers      int    `yaml:"workers"`
	BatchSize    int    `yaml:"batchSize"`
	BlockSize    int    `yaml:"blockSize"`
	Blocks       int    `yaml:"blocks"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the filter pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Filter.Workers < 1 {
		return fmt.Errorf("filter.workers must be positive, got %d: %w", c.Filter.Workers, apperrors.ErrInvalidInput)
	}
	if c.Filter.BatchSize < 1 {
		return fmt.Errorf("filter.batchSize must be positive, got %d: %w", c.Filter.BatchSize, apperrors.ErrInvalidInput)
	}
	if c.Filter.BlockSize < 1 || c.Filter.Blocks < 1 {
		return fmt.Errorf("filter.blockSize and filter.blocks must be positive: %w", apperrors.ErrInvalidInput)
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "lmfilter",
			User:            "lmfilter",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "lmfilter-group",
			Topics: KafkaTopics{
				NGramRequests: "ngram-requests",
				NGramVerdicts: "ngram-verdicts",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 10 * time.Minute,
		},
		Filter: FilterConfig{
			Workers:   4,
			BatchSize: 1024,
			BlockSize: 1 << 20,
			Blocks:    4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads LMF_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	setInt := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setString := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}

	setInt("LMF_SERVER_PORT", &cfg.Server.Port)
	if v := os.Getenv("LMF_POSTGRES_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Postgres.Enabled = b
		}
	}
	setString("LMF_POSTGRES_HOST", &cfg.Postgres.Host)
	setInt("LMF_POSTGRES_PORT", &cfg.Postgres.Port)
	setString("LMF_POSTGRES_DATABASE", &cfg.Postgres.Database)
	setString("LMF_POSTGRES_USER", &cfg.Postgres.User)
	setString("LMF_POSTGRES_PASSWORD", &cfg.Postgres.Password)
	setString("LMF_POSTGRES_SSLMODE", &cfg.Postgres.SSLMode)
	if v := os.Getenv("LMF_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	setString("LMF_KAFKA_CONSUMER_GROUP", &cfg.Kafka.ConsumerGroup)
	setString("LMF_REDIS_ADDR", &cfg.Redis.Addr)
	setString("LMF_REDIS_PASSWORD", &cfg.Redis.Password)
	if v := os.Getenv("LMF_REDIS_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Redis.CacheTTL = d
		}
	}
	setString("LMF_FILTER_PHRASES", &cfg.Filter.PhrasesPath)
	setString("LMF_FILTER_SNAPSHOT", &cfg.Filter.SnapshotPath)
	setInt("LMF_FILTER_WORKERS", &cfg.Filter.Workers)
	setInt("LMF_FILTER_BATCH_SIZE", &cfg.Filter.BatchSize)
	setString("LMF_LOGGING_LEVEL", &cfg.Logging.Level)
	setString("LMF_LOGGING_FORMAT", &cfg.Logging.Format)
	setInt("LMF_METRICS_PORT", &cfg.Metrics.Port)
}
