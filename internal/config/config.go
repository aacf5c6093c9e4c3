// Package config assembles the runtime configuration from defaults, an
// optional YAML file and KESTREL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KESTREL_"

// Load builds the configuration. path may be empty, in which case
// KESTREL_CONFIG is consulted. The result is validated.
func Load(path string) (*domain.Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg, err := forTier(getEnv("TIER", string(domain.TierCommunity)))
	if err != nil {
		return nil, err
	}

	if path == "" {
		path = getEnv("CONFIG", "")
	}
	if path != "" {
		if err := overlayFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := overlayEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func forTier(tier string) (*domain.Config, error) {
	switch domain.Tier(strings.ToLower(tier)) {
	case domain.TierCommunity:
		return domain.DefaultConfig(), nil
	case domain.TierPro:
		return domain.ProConfig(), nil
	default:
		return nil, fmt.Errorf("unknown tier %q", tier)
	}
}

// overlayFile decodes a YAML (or JSON) document over cfg. Keys absent from
// the file keep their current values.
func overlayFile(cfg *domain.Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func overlayEnv(cfg *domain.Config) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}

	str("HOST", &cfg.Server.Host)
	integer("PORT", &cfg.Server.Port)
	if v, ok := lookup("MAX_BODY_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sMAX_BODY_BYTES: %w", EnvPrefix, err))
		} else {
			cfg.Server.MaxBodyBytes = n
		}
	}

	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)
	if debug, _ := strconv.ParseBool(getEnv("DEBUG", "false")); debug {
		cfg.Logging.Level = "debug"
	}
	boolean("TRACING", &cfg.Tracing.Enabled)
	str("OTLP_ENDPOINT", &cfg.Tracing.OTLPEndpoint)

	str("DB_DRIVER", &cfg.Repository.Driver)
	str("SQLITE_PATH", &cfg.Repository.SQLitePath)
	str("POSTGRES_HOST", &cfg.Repository.PostgresHost)
	integer("POSTGRES_PORT", &cfg.Repository.PostgresPort)
	str("POSTGRES_USER", &cfg.Repository.PostgresUser)
	str("POSTGRES_PASSWORD", &cfg.Repository.PostgresPassword)
	str("POSTGRES_DB", &cfg.Repository.PostgresDB)
	str("POSTGRES_SSLMODE", &cfg.Repository.PostgresSSLMode)

	str("CACHE_TYPE", &cfg.Cache.Type)
	str("REDIS_ADDR", &cfg.Cache.RedisAddr)
	str("REDIS_PASSWORD", &cfg.Cache.RedisPassword)
	integer("REDIS_DB", &cfg.Cache.RedisDB)

	str("BUS_TYPE", &cfg.EventBus.Type)
	str("NATS_URL", &cfg.EventBus.NATSUrl)
	str("NATS_TOKEN", &cfg.EventBus.NATSToken)
	str("NATS_QUEUE_GROUP", &cfg.EventBus.NATSQueueGroup)

	duration("MODEL_TIMEOUT", &cfg.Scoring.Timeout)
	str("TIMEZONE", &cfg.Scoring.Timezone)
	duration("LOCATION_TTL", &cfg.Scoring.LocationTTL)

	duration("ALERT_DEDUP_WINDOW", &cfg.Alerting.DedupWindow)
	boolean("DISTRIBUTED_DEDUP", &cfg.Alerting.DistributedDedup)
	str("WEBHOOK_URL", &cfg.Alerting.WebhookURL)
	boolean("METRIC_ALERTS", &cfg.Alerting.MetricAlerts)

	duration("METRICS_FLUSH_INTERVAL", &cfg.Metrics.FlushInterval)

	boolean("STREAM_ENABLED", &cfg.Stream.Enabled)
	integer("STREAM_QUEUE_SIZE", &cfg.Stream.QueueSize)

	boolean("WORKER_ENABLED", &cfg.Worker.Enabled)
	if v, ok := lookup("TENANTS"); ok {
		cfg.Worker.Tenants = splitList(v)
	}

	return errors.Join(errs...)
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func getEnv(key, defaultValue string) string {
	if v, ok := lookup(key); ok {
		return v
	}
	return defaultValue
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
