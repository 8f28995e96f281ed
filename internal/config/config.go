// Package config loads and validates coordinator configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Database   DatabaseConfig   `mapstructure:"database"`
	KV         KVConfig         `mapstructure:"kv"`
	Workers    WorkersConfig    `mapstructure:"workers"`
	Claim      ClaimConfig      `mapstructure:"claim"`
	Throughput ThroughputConfig `mapstructure:"throughput"`
	Election   ElectionConfig   `mapstructure:"election"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Upload     UploadConfig     `mapstructure:"upload"`
	Blob       BlobConfig       `mapstructure:"blob"`
	Snapshot   SnapshotConfig   `mapstructure:"snapshot"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig holds the shared keys. An empty admin key disables /admin.
type AuthConfig struct {
	AdminKey  string `mapstructure:"admin_key"`
	WorkerKey string `mapstructure:"worker_key"`
}

// DatabaseConfig selects and tunes the relational store.
type DatabaseConfig struct {
	Backend         string        `mapstructure:"backend"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// KVConfig selects the shared key-value store.
type KVConfig struct {
	Backend  string `mapstructure:"backend"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// WorkersConfig governs liveness and the lookup cache.
type WorkersConfig struct {
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ReapInterval    time.Duration `mapstructure:"reap_interval"`
	LookupCacheSize int           `mapstructure:"lookup_cache_size"`
	LookupCacheTTL  time.Duration `mapstructure:"lookup_cache_ttl"`
}

// ClaimConfig controls job selection and per-worker throttling.
type ClaimConfig struct {
	Order         string  `mapstructure:"order"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
}

// ThroughputConfig sets the ETA sampling cadence and window length.
type ThroughputConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Window   int           `mapstructure:"window"`
}

// ElectionConfig picks the singleton election strategy.
type ElectionConfig struct {
	Strategy    string        `mapstructure:"strategy"`
	Key         string        `mapstructure:"key"`
	NodeID      string        `mapstructure:"node_id"`
	TTL         time.Duration `mapstructure:"ttl"`
	SettleDelay time.Duration `mapstructure:"settle_delay"`
}

// CacheConfig sets the response cache lifetime.
type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// UploadConfig lists the targets workers push results to.
type UploadConfig struct {
	Addresses    []string `mapstructure:"addresses"`
	CPUAddresses []string `mapstructure:"cpu_addresses"`
}

// BlobConfig selects where manifests are read from and snapshots written to.
type BlobConfig struct {
	Backend string `mapstructure:"backend"`
	Bucket  string `mapstructure:"bucket"`
	BaseDir string `mapstructure:"base_dir"`
}

// SnapshotConfig controls the periodic progress export.
type SnapshotConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	Prefix   string        `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for job event notifications. Events go to an
// in-memory publisher when the project is empty.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// TelemetryConfig controls tracing.
type TelemetryConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Backend names.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COORD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("auth.admin_key", "")
	v.SetDefault("auth.worker_key", "")
	v.SetDefault("database.backend", BackendMemory)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", "30m")
	v.SetDefault("kv.backend", BackendMemory)
	v.SetDefault("kv.addr", "")
	v.SetDefault("kv.password", "")
	v.SetDefault("kv.db", 0)
	v.SetDefault("kv.prefix", "coord:")
	v.SetDefault("workers.idle_timeout", "7200s")
	v.SetDefault("workers.reap_interval", "300s")
	v.SetDefault("workers.lookup_cache_size", 256)
	v.SetDefault("workers.lookup_cache_ttl", "5s")
	v.SetDefault("claim.order", "priority")
	v.SetDefault("claim.rate_per_second", 0)
	v.SetDefault("claim.burst", 1)
	v.SetDefault("throughput.interval", "900s")
	v.SetDefault("throughput.window", 10)
	v.SetDefault("election.strategy", "lease")
	v.SetDefault("election.key", "leader")
	v.SetDefault("election.node_id", "")
	v.SetDefault("election.ttl", "30s")
	v.SetDefault("election.settle_delay", "5s")
	v.SetDefault("cache.ttl", "30s")
	v.SetDefault("upload.addresses", []string{})
	v.SetDefault("upload.cpu_addresses", []string{})
	v.SetDefault("blob.backend", BackendMemory)
	v.SetDefault("blob.bucket", "")
	v.SetDefault("blob.base_dir", "")
	v.SetDefault("snapshot.enabled", false)
	v.SetDefault("snapshot.interval", "300s")
	v.SetDefault("snapshot.prefix", "snapshots/")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "job-events")
	v.SetDefault("telemetry.service_name", "shard-coordinator")
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be > 0")
	}
	switch c.Database.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set when database.backend is postgres")
		}
	default:
		return fmt.Errorf("database.backend must be memory or postgres, got %q", c.Database.Backend)
	}
	switch c.KV.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.KV.Addr == "" {
			return fmt.Errorf("kv.addr must be set when kv.backend is redis")
		}
	default:
		return fmt.Errorf("kv.backend must be memory or redis, got %q", c.KV.Backend)
	}
	switch c.Blob.Backend {
	case BackendMemory:
	case BackendLocal:
		if c.Blob.BaseDir == "" {
			return fmt.Errorf("blob.base_dir must be set when blob.backend is local")
		}
	case BackendGCS:
		if c.Blob.Bucket == "" {
			return fmt.Errorf("blob.bucket must be set when blob.backend is gcs")
		}
	default:
		return fmt.Errorf("blob.backend must be memory, local or gcs, got %q", c.Blob.Backend)
	}
	if c.Workers.IdleTimeout <= 0 {
		return fmt.Errorf("workers.idle_timeout must be > 0")
	}
	if c.Workers.ReapInterval <= 0 {
		return fmt.Errorf("workers.reap_interval must be > 0")
	}
	if c.Claim.Order != "priority" && c.Claim.Order != "random" {
		return fmt.Errorf("claim.order must be priority or random, got %q", c.Claim.Order)
	}
	if c.Claim.RatePerSecond < 0 {
		return fmt.Errorf("claim.rate_per_second must be >= 0")
	}
	if c.Throughput.Interval <= 0 {
		return fmt.Errorf("throughput.interval must be > 0")
	}
	if c.Throughput.Window < 1 {
		return fmt.Errorf("throughput.window must be >= 1")
	}
	switch c.Election.Strategy {
	case "lease":
		if c.Election.TTL <= 0 {
			return fmt.Errorf("election.ttl must be > 0")
		}
	case "list":
		if c.Election.SettleDelay < 0 {
			return fmt.Errorf("election.settle_delay must be >= 0")
		}
	default:
		return fmt.Errorf("election.strategy must be lease or list, got %q", c.Election.Strategy)
	}
	if c.Election.Key == "" {
		return fmt.Errorf("election.key must be set")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be > 0")
	}
	if c.Snapshot.Enabled && c.Snapshot.Interval <= 0 {
		return fmt.Errorf("snapshot.interval must be > 0 when snapshot is enabled")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be between 0 and 1")
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name must be set when pubsub.project_id is set")
	}
	return nil
}
