package domain

import (
	"time"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" yaml:"server"`

	// Tier determines which backends are used
	Tier Tier `json:"tier" yaml:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" yaml:"repository"`
	Cache      CacheConfig      `json:"cache" yaml:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" yaml:"eventBus"`

	// Scoring pipeline
	Scoring  ScoringConfig  `json:"scoring" yaml:"scoring"`
	Alerting AlertConfig    `json:"alerting" yaml:"alerting"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
	Stream   StreamConfig   `json:"stream" yaml:"stream"`
	Delivery DeliveryConfig `json:"delivery" yaml:"delivery"`
	Worker   WorkerConfig   `json:"worker" yaml:"worker"`

	// Observability
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	ReadTimeout  int    `json:"readTimeout" yaml:"readTimeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" yaml:"writeTimeout"` // seconds
	// MaxBodyBytes caps request bodies on tenant endpoints; 0 means 1 MiB.
	MaxBodyBytes int64 `json:"maxBodyBytes" yaml:"maxBodyBytes"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	ServiceName string `json:"serviceName" yaml:"serviceName"`
	// OTLPEndpoint receives spans over gRPC. Spans still get ids when empty.
	OTLPEndpoint string `json:"otlpEndpoint" yaml:"otlpEndpoint"`
}

// StreamConfig holds WebSocket ingestion settings.
type StreamConfig struct {
	Enabled         bool          `json:"enabled" yaml:"enabled"`
	QueueSize       int           `json:"queueSize" yaml:"queueSize"` // per connection
	MaxMessageBytes int64         `json:"maxMessageBytes" yaml:"maxMessageBytes"`
	WriteTimeout    time.Duration `json:"writeTimeout" yaml:"writeTimeout"`
	PingInterval    time.Duration `json:"pingInterval" yaml:"pingInterval"`
}

// DeliveryConfig controls the asynchronous side-channel queue shared by
// alert sinks, result persistence and metric persistence.
type DeliveryConfig struct {
	QueueSize       int           `json:"queueSize" yaml:"queueSize"`
	Workers         int           `json:"workers" yaml:"workers"`
	MaxAttempts     int           `json:"maxAttempts" yaml:"maxAttempts"`
	InitialInterval time.Duration `json:"initialInterval" yaml:"initialInterval"`
	MaxInterval     time.Duration `json:"maxInterval" yaml:"maxInterval"`
	AttemptTimeout  time.Duration `json:"attemptTimeout" yaml:"attemptTimeout"`
}

// WorkerConfig controls the asynchronous ingestion worker.
type WorkerConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Tenants []string `json:"tenants" yaml:"tenants"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + in-memory cache
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
			MaxBodyBytes: 1 << 20,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Scoring:  DefaultScoringConfig(),
		Alerting: DefaultAlertConfig(),
		Metrics:  DefaultMetricsConfig(),
		Stream: StreamConfig{
			Enabled:         true,
			QueueSize:       64,
			MaxMessageBytes: 64 * 1024,
			WriteTimeout:    10 * time.Second,
			PingInterval:    30 * time.Second,
		},
		Delivery: DeliveryConfig{
			QueueSize:       1024,
			Workers:         2,
			MaxAttempts:     3,
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     2 * time.Second,
			AttemptTimeout:  5 * time.Second,
		},
		Worker: WorkerConfig{
			Enabled: true,
			Tenants: []string{"default"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       5 * time.Second,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		NATSQueueGroup:    "kestrel-workers",
	}
	cfg.Tracing.Enabled = true
	return cfg
}
