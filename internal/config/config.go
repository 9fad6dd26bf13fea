package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Port        int `mapstructure:"port"`
	MetricsPort int `mapstructure:"metrics_port"`
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	Database        string `mapstructure:"database"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxConnections  int    `mapstructure:"max_connections"`
	IdleConnections int    `mapstructure:"idle_connections"`
	MaxLifetimeMs   int    `mapstructure:"max_lifetime_ms"`
}

// RedisConfig holds Redis settings
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ExecutorConfig holds analysis executor settings
type ExecutorConfig struct {
	TimeoutMs int    `mapstructure:"timeout_ms"`
	Playbook  string `mapstructure:"playbook"`
}

// RegistryConfig holds session registry settings
type RegistryConfig struct {
	MaxSessions   int `mapstructure:"max_sessions"`
	HistoryWindow int `mapstructure:"history_window"`
}

// UBICConfig holds control-plane settings
type UBICConfig struct {
	DedupTTLMs     int     `mapstructure:"dedup_ttl_ms"`
	DrainTimeoutMs int     `mapstructure:"drain_timeout_ms"`
	SendRatePerSec float64 `mapstructure:"send_rate_per_sec"`
	SendBurst      int     `mapstructure:"send_burst"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RateLimitConfig holds per-client request limits
type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
}

// Config is the full service configuration loaded from features.yaml
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	UBIC      UBICConfig      `mapstructure:"ubic"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// ConfigPath returns the configured file path, honoring CONFIG_PATH
func ConfigPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "/app/config/features.yaml"
}

// Load reads configuration from ConfigPath with env overrides applied
func Load() (*Config, error) {
	return LoadFile(ConfigPath())
}

// LoadFile reads configuration from an explicit path
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file is not fatal; defaults plus env overrides still apply
		if _, ok := err.(*os.PathError); !ok {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 2112)
	v.SetDefault("database.host", "postgres")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "brick")
	v.SetDefault("database.password", "brick")
	v.SetDefault("database.database", "brick")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.idle_connections", 5)
	v.SetDefault("database.max_lifetime_ms", int(5*time.Minute/time.Millisecond))
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("executor.timeout_ms", 30000)
	v.SetDefault("registry.max_sessions", 10000)
	v.SetDefault("registry.history_window", 20)
	v.SetDefault("ubic.dedup_ttl_ms", int(24*time.Hour/time.Millisecond))
	v.SetDefault("ubic.drain_timeout_ms", 10000)
	v.SetDefault("ubic.send_rate_per_sec", 100.0)
	v.SetDefault("ubic.send_burst", 50)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("rate_limit.requests_per_minute", 60)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("POSTGRES_PORT"); v != "" {
		var p int
		_, _ = fmt.Sscanf(v, "%d", &p)
		if p > 0 {
			cfg.Database.Port = p
		}
	}
	if v := os.Getenv("POSTGRES_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("POSTGRES_DB"); v != "" {
		cfg.Database.Database = v
	}
	if v := os.Getenv("POSTGRES_SSLMODE"); v != "" {
		cfg.Database.SSLMode = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("PORT"); v != "" {
		var p int
		_, _ = fmt.Sscanf(v, "%d", &p)
		if p > 0 {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("METRICS_PORT"); v != "" {
		var p int
		_, _ = fmt.Sscanf(v, "%d", &p)
		if p > 0 {
			cfg.Server.MetricsPort = p
		}
	}
	if v := os.Getenv("EXECUTOR_TIMEOUT_MS"); v != "" {
		var p int
		_, _ = fmt.Sscanf(v, "%d", &p)
		if p > 0 {
			cfg.Executor.TimeoutMs = p
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// ExecutorTimeout returns the executor bound as a duration
func (c *Config) ExecutorTimeout() time.Duration {
	return time.Duration(c.Executor.TimeoutMs) * time.Millisecond
}

// DedupTTL returns the idempotency record retention as a duration
func (c *Config) DedupTTL() time.Duration {
	return time.Duration(c.UBIC.DedupTTLMs) * time.Millisecond
}

// DrainTimeout returns the graceful shutdown drain bound as a duration
func (c *Config) DrainTimeout() time.Duration {
	return time.Duration(c.UBIC.DrainTimeoutMs) * time.Millisecond
}
