package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config carries everything the composition root needs to wire the service.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Security SecurityConfig `mapstructure:"security"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// StorageConfig selects the persistence backend shared by all namespaces.
type StorageConfig struct {
	Kind          string `mapstructure:"kind"`   // memory, file, sql
	Path          string `mapstructure:"path"`   // directory for file backend
	Driver        string `mapstructure:"driver"` // sqlite or pgx for sql backend
	DSN           string `mapstructure:"dsn"`
	EncryptionKey string `mapstructure:"encryption_key"`
}

// CacheConfig selects the cache backend.
type CacheConfig struct {
	Kind      string        `mapstructure:"kind"` // memory, redis, none
	TTL       time.Duration `mapstructure:"ttl"`
	MaxSize   int           `mapstructure:"max_size"`
	RedisAddr string        `mapstructure:"redis_addr"`
	RedisDB   int           `mapstructure:"redis_db"`
	RedisPass string        `mapstructure:"redis_pass"`
}

// AuthConfig configures the credential service.
type AuthConfig struct {
	SigningSecret     string        `mapstructure:"signing_secret"`
	SignatureRequired bool          `mapstructure:"signature_required"`
	SignatureWindow   time.Duration `mapstructure:"signature_window"`
	DefaultKeyTTL     time.Duration `mapstructure:"default_key_ttl"`
	DefaultRole       string        `mapstructure:"default_role"`
	SeedTestKey       bool          `mapstructure:"seed_test_key"`
}

// MonitorConfig configures the security monitor and alerting.
type MonitorConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	AlertEnabled bool   `mapstructure:"alert_enabled"`
	WebhookURL   string `mapstructure:"webhook_url"`
	LogDir       string `mapstructure:"log_dir"`
	MaxEvents    int    `mapstructure:"max_events"`
}

// SecurityConfig configures the request-shaping middleware.
type SecurityConfig struct {
	RateLimitPerSecond int `mapstructure:"rate_limit_per_second"`
	RateLimitBurst     int `mapstructure:"rate_limit_burst"`
}

// Load reads configuration from an optional YAML file and UNM_* environment
// variables. Environment values win over file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("UNM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("storage.kind", "file")
	v.SetDefault("storage.path", "data")
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.encryption_key", "")
	v.SetDefault("cache.kind", "memory")
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("cache.max_size", 10000)
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.redis_pass", "")
	v.SetDefault("auth.signing_secret", "")
	v.SetDefault("auth.signature_required", false)
	v.SetDefault("auth.signature_window", 5*time.Minute)
	v.SetDefault("auth.default_key_ttl", 30*24*time.Hour)
	v.SetDefault("auth.default_role", "guest")
	v.SetDefault("auth.seed_test_key", false)
	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.alert_enabled", false)
	v.SetDefault("monitor.webhook_url", "")
	v.SetDefault("monitor.log_dir", "logs/security")
	v.SetDefault("monitor.max_events", 1000)
	v.SetDefault("security.rate_limit_per_second", 20)
	v.SetDefault("security.rate_limit_burst", 40)
}

func (c *Config) validate() error {
	switch c.Storage.Kind {
	case "memory", "file", "sql":
	default:
		return fmt.Errorf("unsupported storage kind %q", c.Storage.Kind)
	}
	switch c.Cache.Kind {
	case "memory", "redis", "none":
	default:
		return fmt.Errorf("unsupported cache kind %q", c.Cache.Kind)
	}
	if c.Storage.Kind != "memory" && c.Storage.EncryptionKey == "" {
		return fmt.Errorf("storage.encryption_key is required for %s storage", c.Storage.Kind)
	}
	if c.Storage.Kind == "sql" {
		switch c.Storage.Driver {
		case "sqlite", "pgx":
		default:
			return fmt.Errorf("unsupported sql driver %q", c.Storage.Driver)
		}
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for sql storage")
		}
	}
	if c.Auth.SignatureRequired && c.Auth.SigningSecret == "" {
		return fmt.Errorf("auth.signing_secret is required when signatures are enforced")
	}
	if c.Cache.Kind == "redis" && c.Cache.RedisAddr == "" {
		return fmt.Errorf("cache.redis_addr is required for redis cache")
	}
	return nil
}
