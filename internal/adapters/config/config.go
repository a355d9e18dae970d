package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"bizagents/pkg/errors"
)

type Config struct {
	App           AppConfig
	Engine        EngineConfig
	Postgres      PostgresConfig
	ClickHouse    ClickHouseConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	AI            AIConfig
	KPI           KPIConfig
	ErrorTracking ErrorTrackingConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"bizagents"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	Version  string `envconfig:"APP_VERSION" default:"dev"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	HTTPPort int    `envconfig:"HTTP_PORT" default:"8080"`
}

// EngineConfig tunes the orchestration engine
type EngineConfig struct {
	MaxConcurrentWorkflows int           `envconfig:"ENGINE_MAX_CONCURRENT_WORKFLOWS" default:"4"`
	StepTimeout            time.Duration `envconfig:"ENGINE_STEP_TIMEOUT" default:"2m"`
	AuditBuffer            int           `envconfig:"ENGINE_AUDIT_BUFFER" default:"1024"`
	ShutdownTimeout        time.Duration `envconfig:"ENGINE_SHUTDOWN_TIMEOUT" default:"30s"`
}

type PostgresConfig struct {
	Enabled  bool   `envconfig:"POSTGRES_ENABLED" default:"false"`
	Host     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" default:"postgres"`
	Password string `envconfig:"POSTGRES_PASSWORD"`
	Database string `envconfig:"POSTGRES_DB" default:"bizagents"`
	SSLMode  string `envconfig:"POSTGRES_SSL_MODE" default:"disable"`
	MaxConns int    `envconfig:"POSTGRES_MAX_CONNS" default:"10"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type ClickHouseConfig struct {
	Enabled     bool          `envconfig:"CLICKHOUSE_ENABLED" default:"false"`
	Host        string        `envconfig:"CLICKHOUSE_HOST" default:"localhost"`
	Port        int           `envconfig:"CLICKHOUSE_PORT" default:"9000"`
	User        string        `envconfig:"CLICKHOUSE_USER" default:"default"`
	Password    string        `envconfig:"CLICKHOUSE_PASSWORD"`
	Database    string        `envconfig:"CLICKHOUSE_DB" default:"bizagents"`
	BatchSize   int           `envconfig:"CLICKHOUSE_AUDIT_BATCH_SIZE" default:"500"`
	FlushMaxAge time.Duration `envconfig:"CLICKHOUSE_AUDIT_FLUSH_AGE" default:"5s"`
}

func (c ClickHouseConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type RedisConfig struct {
	Enabled  bool          `envconfig:"REDIS_ENABLED" default:"false"`
	Host     string        `envconfig:"REDIS_HOST" default:"localhost"`
	Port     int           `envconfig:"REDIS_PORT" default:"6379"`
	Password string        `envconfig:"REDIS_PASSWORD"`
	DB       int           `envconfig:"REDIS_DB" default:"0"`
	RunTTL   time.Duration `envconfig:"REDIS_RUN_TTL" default:"24h"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type KafkaConfig struct {
	Enabled bool     `envconfig:"KAFKA_ENABLED" default:"false"`
	Brokers []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	GroupID string   `envconfig:"KAFKA_GROUP_ID" default:"bizagents"`
}

type AIConfig struct {
	OpenAIKey         string        `envconfig:"OPENAI_API_KEY"`
	GeminiKey         string        `envconfig:"GEMINI_API_KEY"`
	DefaultProvider   string        `envconfig:"DEFAULT_AI_PROVIDER" default:"openai"`
	OpenAIModel       string        `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	GeminiModel       string        `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`
	RequestsPerMinute int           `envconfig:"AI_REQUESTS_PER_MINUTE" default:"60"`
	Timeout           time.Duration `envconfig:"AI_TIMEOUT" default:"60s"`
}

// KPIConfig points the in-memory KPI registry at its seed data
type KPIConfig struct {
	// Thresholds are "kpi:min:max" triples, e.g. "revenue:1000:,churn_rate::0.05"
	Thresholds []string `envconfig:"KPI_THRESHOLDS" default:"revenue:100000:,gross_margin:0.35:,churn_rate::0.05"`
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"false"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

// Load reads configuration from environment variables.
// A .env file is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express
func (c *Config) Validate() error {
	if c.Engine.MaxConcurrentWorkflows < 1 {
		return errors.Wrapf(errors.ErrInvalidInput, "ENGINE_MAX_CONCURRENT_WORKFLOWS must be >= 1, got %d", c.Engine.MaxConcurrentWorkflows)
	}
	if c.Engine.StepTimeout < 0 {
		return errors.Wrapf(errors.ErrInvalidInput, "ENGINE_STEP_TIMEOUT must not be negative")
	}
	if c.Engine.AuditBuffer < 1 {
		return errors.Wrapf(errors.ErrInvalidInput, "ENGINE_AUDIT_BUFFER must be >= 1, got %d", c.Engine.AuditBuffer)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.Wrap(errors.ErrInvalidInput, "KAFKA_BROKERS is required when KAFKA_ENABLED=true")
	}
	if c.ErrorTracking.Enabled && c.ErrorTracking.SentryDSN == "" {
		return errors.Wrap(errors.ErrInvalidInput, "SENTRY_DSN is required when ERROR_TRACKING_ENABLED=true")
	}
	return nil
}
