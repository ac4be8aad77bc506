// Package config loads and validates engine configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Engine, Recommend, etc.).
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Engine    EngineConfig    `yaml:"engine"`
	Recommend RecommendConfig `yaml:"recommend"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings. CORSOrigins lists origins allowed
// to call the API from a browser; WriteRateLimit is the number of mutating
// requests per minute allowed per client IP, zero disabling the limit.
// TrustedProxies lists the IPs or CIDRs whose X-Forwarded-For header names
// the client; requests from any other peer are keyed by their own address.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	CORSOrigins     []string      `yaml:"corsOrigins"`
	WriteRateLimit  int           `yaml:"writeRateLimit"`
	TrustedProxies  []string      `yaml:"trustedProxies"`
}

// PostgresConfig holds PostgreSQL connection parameters. An empty Host
// disables persistence and the engine runs purely in memory.
type PostgresConfig struct {
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

// Enabled reports whether a Postgres host is configured.
func (p PostgresConfig) Enabled() bool {
	return p.Host != ""
}

// KafkaConfig holds Kafka broker and topic settings. No brokers disables
// both the ingest consumer and the publication notifier. HandlerTimeout
// bounds one attempt at applying a consumed message.
type KafkaConfig struct {
	Brokers        []string      `yaml:"brokers"`
	ConsumerGroup  string        `yaml:"consumerGroup"`
	HandlerTimeout time.Duration `yaml:"handlerTimeout"`
	Topics         KafkaTopics   `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	PostIngest     string `yaml:"postIngest"`
	IndexPublished string `yaml:"indexPublished"`
}

// Enabled reports whether any broker is configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// RedisConfig holds Redis connection and result-caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// EngineConfig controls scoring weights and the index rebuild policy.
type EngineConfig struct {
	TagWeight        float64       `yaml:"tagWeight"`
	NounWeight       float64       `yaml:"nounWeight"`
	RebuildDebounce  time.Duration `yaml:"rebuildDebounce"`
	BootstrapTimeout time.Duration `yaml:"bootstrapTimeout"`
	NotifyBuffer     int           `yaml:"notifyBuffer"`
}

// RecommendConfig bounds the related-posts query surface.
type RecommendConfig struct {
	DefaultLimit int `yaml:"defaultLimit"`
	MaxLimit     int `yaml:"maxLimit"`
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

// Load reads a YAML config file (if provided), applies environment-variable
// overrides and validates the result.
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

// Default returns the built-in configuration without reading any file or
// environment variable.
func Default() *Config {
	return defaultConfig()
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Engine.TagWeight < 0 || c.Engine.NounWeight < 0 {
		return fmt.Errorf("engine weights must be non-negative (tag=%v, noun=%v)", c.Engine.TagWeight, c.Engine.NounWeight)
	}
	if sum := c.Engine.TagWeight + c.Engine.NounWeight; math.Abs(sum-1) > 1e-9 {
		return fmt.Errorf("engine weights must sum to 1, got %v", sum)
	}
	if c.Engine.RebuildDebounce < 0 {
		return fmt.Errorf("engine rebuildDebounce must not be negative")
	}
	if c.Server.WriteRateLimit < 0 {
		return fmt.Errorf("server writeRateLimit must not be negative")
	}
	if c.Recommend.MaxLimit > 0 && c.Recommend.DefaultLimit > c.Recommend.MaxLimit {
		return fmt.Errorf("recommend defaultLimit %d exceeds maxLimit %d", c.Recommend.DefaultLimit, c.Recommend.MaxLimit)
	}
	return nil
}

// defaultConfig returns a Config with defaults for local development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  10 * time.Second,
			WriteRateLimit:  600,
		},
		Postgres: PostgresConfig{
			Port:            5432,
			Database:        "relengine",
			User:            "relengine",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			ConsumerGroup:  "relengine-group",
			HandlerTimeout: 30 * time.Second,
			Topics: KafkaTopics{
				PostIngest:     "post-ingest",
				IndexPublished: "index-published",
			},
		},
		Redis: RedisConfig{
			DB:       0,
			PoolSize: 10,
			CacheTTL: 5 * time.Minute,
		},
		Engine: EngineConfig{
			TagWeight:        0.7,
			NounWeight:       0.3,
			RebuildDebounce:  0,
			BootstrapTimeout: 30 * time.Second,
			NotifyBuffer:     1024,
		},
		Recommend: RecommendConfig{
			DefaultLimit: 5,
			MaxLimit:     100,
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

// applyEnvOverrides reads RE_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("RE_SERVER_CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("RE_SERVER_TRUSTED_PROXIES"); v != "" {
		cfg.Server.TrustedProxies = strings.Split(v, ",")
	}
	if v := os.Getenv("RE_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("RE_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("RE_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("RE_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("RE_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("RE_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("RE_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("RE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("RE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("RE_ENGINE_TAG_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Engine.TagWeight = w
		}
	}
	if v := os.Getenv("RE_ENGINE_NOUN_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Engine.NounWeight = w
		}
	}
	if v := os.Getenv("RE_ENGINE_REBUILD_DEBOUNCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.RebuildDebounce = d
		}
	}
	if v := os.Getenv("RE_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("RE_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("RE_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}
