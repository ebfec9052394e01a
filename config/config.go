package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const VERSION = "1.4.0"

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Security    SecurityConfig
	Log         LogConfig
	Tracing     TracingConfig
	Webhooks    WebhookConfig
	Formulas    FormulaConfig
	Enrichment  EnrichmentConfig
	RateLimits  RateLimitConfig
	Environment string
	Version     string
}

type ServerConfig struct {
	Port            int
	Host            string
	ShutdownTimeout time.Duration
	CORSAllowOrigin string
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type SecurityConfig struct {
	// JWTSecret verifies bearer tokens issued by the identity provider
	JWTSecret string
	// SecretKey encrypts webhook secrets at rest
	SecretKey string
}

type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type TracingConfig struct {
	Enabled             bool
	ServiceName         string
	SamplingProbability float64
	TraceExporter       string // "jaeger", "zipkin", "stackdriver", "datadog", "xray" or "none"
	JaegerEndpoint      string
	ZipkinEndpoint      string

	StackdriverProjectID string
	DatadogAgentAddress  string
	DatadogAPIKey        string
	XRayRegion           string

	// MetricsExporter is a comma separated list of "prometheus", "stackdriver" and "datadog"
	MetricsExporter string
	PrometheusPort  int
}

type WebhookConfig struct {
	WorkerCount           int
	QueueSize             int
	RetryPollerEnabled    bool
	RetryPollInterval     time.Duration
	RetryBatchSize        int
	DeliveryRetentionDays int
}

type FormulaConfig struct {
	BatchConcurrency    int
	ASTCacheTTL         time.Duration
	ASTCacheSize        int
	ResultSweepInterval time.Duration
}

type EnrichmentConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

type RateLimitConfig struct {
	TriggerPerMinute  int
	EvaluatePerMinute int
}

// LoadOptions contains options for loading configuration
type LoadOptions struct {
	EnvFile string // optional env file in the working directory, e.g. ".env"
}

func Load() (*Config, error) {
	return LoadWithOptions(LoadOptions{EnvFile: ".env"})
}

func LoadWithOptions(opts LoadOptions) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if opts.EnvFile != "" {
		v.SetConfigName(opts.EnvFile)
		v.SetConfigType("env")

		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("error getting current directory: %w", err)
		}
		v.AddConfigPath(cwd)

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := &Config{
		Server: ServerConfig{
			Port:            v.GetInt("SERVER_PORT"),
			Host:            v.GetString("SERVER_HOST"),
			ShutdownTimeout: v.GetDuration("SERVER_SHUTDOWN_TIMEOUT"),
			CORSAllowOrigin: v.GetString("CORS_ALLOW_ORIGIN"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("DB_HOST"),
			Port:            v.GetInt("DB_PORT"),
			User:            v.GetString("DB_USER"),
			Password:        v.GetString("DB_PASSWORD"),
			DBName:          v.GetString("DB_NAME"),
			SSLMode:         v.GetString("DB_SSLMODE"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
		},
		Security: SecurityConfig{
			JWTSecret: v.GetString("JWT_SECRET"),
			SecretKey: v.GetString("SECRET_KEY"),
		},
		Log: LogConfig{
			Level:      v.GetString("LOG_LEVEL"),
			File:       v.GetString("LOG_FILE"),
			MaxSizeMB:  v.GetInt("LOG_FILE_MAX_SIZE_MB"),
			MaxBackups: v.GetInt("LOG_FILE_MAX_BACKUPS"),
			MaxAgeDays: v.GetInt("LOG_FILE_MAX_AGE_DAYS"),
		},
		Tracing: TracingConfig{
			Enabled:             v.GetBool("TRACING_ENABLED"),
			ServiceName:         v.GetString("TRACING_SERVICE_NAME"),
			SamplingProbability: v.GetFloat64("TRACING_SAMPLING_PROBABILITY"),
			TraceExporter:       v.GetString("TRACING_TRACE_EXPORTER"),
			JaegerEndpoint:      v.GetString("TRACING_JAEGER_ENDPOINT"),
			ZipkinEndpoint:      v.GetString("TRACING_ZIPKIN_ENDPOINT"),

			StackdriverProjectID: v.GetString("TRACING_STACKDRIVER_PROJECT_ID"),
			DatadogAgentAddress:  v.GetString("TRACING_DATADOG_AGENT_ADDRESS"),
			DatadogAPIKey:        v.GetString("TRACING_DATADOG_API_KEY"),
			XRayRegion:           v.GetString("TRACING_XRAY_REGION"),

			MetricsExporter: v.GetString("TRACING_METRICS_EXPORTER"),
			PrometheusPort:  v.GetInt("TRACING_PROMETHEUS_PORT"),
		},
		Webhooks: WebhookConfig{
			WorkerCount:           v.GetInt("WEBHOOK_WORKER_COUNT"),
			QueueSize:             v.GetInt("WEBHOOK_QUEUE_SIZE"),
			RetryPollerEnabled:    v.GetBool("WEBHOOK_RETRY_POLLER_ENABLED"),
			RetryPollInterval:     v.GetDuration("WEBHOOK_RETRY_POLL_INTERVAL"),
			RetryBatchSize:        v.GetInt("WEBHOOK_RETRY_BATCH_SIZE"),
			DeliveryRetentionDays: v.GetInt("WEBHOOK_DELIVERY_RETENTION_DAYS"),
		},
		Formulas: FormulaConfig{
			BatchConcurrency:    v.GetInt("FORMULA_BATCH_CONCURRENCY"),
			ASTCacheTTL:         v.GetDuration("FORMULA_AST_CACHE_TTL"),
			ASTCacheSize:        v.GetInt("FORMULA_AST_CACHE_SIZE"),
			ResultSweepInterval: v.GetDuration("RESULT_SWEEP_INTERVAL"),
		},
		Enrichment: EnrichmentConfig{
			Endpoint: v.GetString("ENRICHMENT_ENDPOINT"),
			APIKey:   v.GetString("ENRICHMENT_API_KEY"),
			Timeout:  v.GetDuration("ENRICHMENT_TIMEOUT"),
		},
		RateLimits: RateLimitConfig{
			TriggerPerMinute:  v.GetInt("RATE_LIMIT_TRIGGER_PER_MINUTE"),
			EvaluatePerMinute: v.GetInt("RATE_LIMIT_EVALUATE_PER_MINUTE"),
		},
		Environment: v.GetString("ENVIRONMENT"),
		Version:     v.GetString("VERSION"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENVIRONMENT", "production")
	v.SetDefault("VERSION", VERSION)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE_MAX_SIZE_MB", 100)
	v.SetDefault("LOG_FILE_MAX_BACKUPS", 5)
	v.SetDefault("LOG_FILE_MAX_AGE_DAYS", 14)

	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_SHUTDOWN_TIMEOUT", "30s")
	v.SetDefault("CORS_ALLOW_ORIGIN", "*")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "leadforge")
	v.SetDefault("DB_SSLMODE", "require")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 10)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "10m")

	v.SetDefault("TRACING_ENABLED", false)
	v.SetDefault("TRACING_SERVICE_NAME", "leadforge-api")
	v.SetDefault("TRACING_SAMPLING_PROBABILITY", 0.1)
	v.SetDefault("TRACING_TRACE_EXPORTER", "none")
	v.SetDefault("TRACING_JAEGER_ENDPOINT", "http://localhost:14268/api/traces")
	v.SetDefault("TRACING_ZIPKIN_ENDPOINT", "http://localhost:9411/api/v2/spans")
	v.SetDefault("TRACING_STACKDRIVER_PROJECT_ID", "")
	v.SetDefault("TRACING_DATADOG_AGENT_ADDRESS", "localhost:8126")
	v.SetDefault("TRACING_DATADOG_API_KEY", "")
	v.SetDefault("TRACING_XRAY_REGION", "us-west-2")
	v.SetDefault("TRACING_METRICS_EXPORTER", "none")
	v.SetDefault("TRACING_PROMETHEUS_PORT", 9464)

	v.SetDefault("WEBHOOK_WORKER_COUNT", 8)
	v.SetDefault("WEBHOOK_QUEUE_SIZE", 1000)
	v.SetDefault("WEBHOOK_RETRY_POLLER_ENABLED", true)
	v.SetDefault("WEBHOOK_RETRY_POLL_INTERVAL", "10s")
	v.SetDefault("WEBHOOK_RETRY_BATCH_SIZE", 100)
	v.SetDefault("WEBHOOK_DELIVERY_RETENTION_DAYS", 30)

	v.SetDefault("FORMULA_BATCH_CONCURRENCY", 16)
	v.SetDefault("FORMULA_AST_CACHE_TTL", "10m")
	v.SetDefault("FORMULA_AST_CACHE_SIZE", 5000)
	v.SetDefault("RESULT_SWEEP_INTERVAL", "10m")

	v.SetDefault("ENRICHMENT_TIMEOUT", "20s")

	v.SetDefault("RATE_LIMIT_TRIGGER_PER_MINUTE", 120)
	v.SetDefault("RATE_LIMIT_EVALUATE_PER_MINUTE", 600)
}

// Validate checks settings that have no safe default.
func (c *Config) Validate() error {
	if !c.IsDevelopment() {
		if c.Security.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required")
		}
		if c.Security.SecretKey == "" {
			return fmt.Errorf("SECRET_KEY is required")
		}
	}
	if c.Webhooks.WorkerCount < 1 {
		return fmt.Errorf("WEBHOOK_WORKER_COUNT must be at least 1")
	}
	if c.Webhooks.QueueSize < 0 {
		return fmt.Errorf("WEBHOOK_QUEUE_SIZE cannot be negative")
	}
	if c.Formulas.BatchConcurrency < 1 {
		return fmt.Errorf("FORMULA_BATCH_CONCURRENCY must be at least 1")
	}
	switch c.Tracing.TraceExporter {
	case "", "none", "jaeger", "zipkin", "stackdriver", "datadog", "xray":
	default:
		return fmt.Errorf("unsupported TRACING_TRACE_EXPORTER: %s", c.Tracing.TraceExporter)
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
