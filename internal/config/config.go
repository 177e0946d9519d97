// Package config loads service configuration from defaults, an optional YAML
// file and BOOKMANAGER_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const envPrefix = "BOOKMANAGER"

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Circulation CirculationConfig `mapstructure:"circulation"`
	Catalog     CatalogConfig     `mapstructure:"catalog"`
	Membership  MembershipConfig  `mapstructure:"membership"`
	Log         LogConfig         `mapstructure:"log"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Audit       AuditConfig       `mapstructure:"audit"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig selects the store. An empty URL runs the service on the
// in-memory store.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type AuthConfig struct {
	JWTSecret  string        `mapstructure:"jwt_secret"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	LoginRate  float64       `mapstructure:"login_rate"`
	LoginBurst int           `mapstructure:"login_burst"`
	// RegisterRate and RegisterBurst limit self-registration per client IP.
	RegisterRate  float64 `mapstructure:"register_rate"`
	RegisterBurst int     `mapstructure:"register_burst"`
}

type CirculationConfig struct {
	LoanPeriod  time.Duration `mapstructure:"loan_period"`
	FinePerDay  string        `mapstructure:"fine_per_day"`
	MaxRenewals int           `mapstructure:"max_renewals"`
}

// Fine parses the per-day fine rate.
func (c CirculationConfig) Fine() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(c.FinePerDay)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid circulation.fine_per_day %q: %w", c.FinePerDay, err)
	}
	return d, nil
}

type CatalogConfig struct {
	MaxCodeAttempts int `mapstructure:"max_code_attempts"`
}

type MembershipConfig struct {
	DefaultBorrowLimit int `mapstructure:"default_borrow_limit"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TelemetryConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	Insecure     bool    `mapstructure:"insecure"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	ServiceName  string  `mapstructure:"service_name"`
}

type CacheConfig struct {
	RedisURL string        `mapstructure:"redis_url"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type AuditConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	// ThresholdsFile is an optional YAML file of per-check thresholds.
	ThresholdsFile string `mapstructure:"thresholds_file"`
}

// Load reads the configuration. path may be empty, in which case only
// defaults and environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 12*time.Hour)
	v.SetDefault("auth.login_rate", 0.2)
	v.SetDefault("auth.login_burst", 5)
	v.SetDefault("auth.register_rate", 0.05)
	v.SetDefault("auth.register_burst", 3)

	v.SetDefault("circulation.loan_period", 30*24*time.Hour)
	v.SetDefault("circulation.fine_per_day", "0.10")
	v.SetDefault("circulation.max_renewals", 0)

	v.SetDefault("catalog.max_code_attempts", 100)
	v.SetDefault("membership.default_borrow_limit", 3)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.sample_rate", 1.0)
	v.SetDefault("telemetry.service_name", "bookmanager")

	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.ttl", 5*time.Minute)

	v.SetDefault("audit.interval", time.Duration(0))
	v.SetDefault("audit.thresholds_file", "")
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Circulation.LoanPeriod <= 0 {
		errs = append(errs, errors.New("circulation.loan_period must be positive"))
	}
	if fine, err := c.Circulation.Fine(); err != nil {
		errs = append(errs, err)
	} else if fine.IsNegative() {
		errs = append(errs, errors.New("circulation.fine_per_day must not be negative"))
	}
	if c.Circulation.MaxRenewals < 0 {
		errs = append(errs, errors.New("circulation.max_renewals must not be negative"))
	}
	if c.Catalog.MaxCodeAttempts <= 0 {
		errs = append(errs, errors.New("catalog.max_code_attempts must be positive"))
	}
	if c.Membership.DefaultBorrowLimit <= 0 {
		errs = append(errs, errors.New("membership.default_borrow_limit must be positive"))
	}
	if c.Auth.LoginRate <= 0 || c.Auth.LoginBurst <= 0 {
		errs = append(errs, errors.New("auth.login_rate and auth.login_burst must be positive"))
	}
	if c.Auth.RegisterRate <= 0 || c.Auth.RegisterBurst <= 0 {
		errs = append(errs, errors.New("auth.register_rate and auth.register_burst must be positive"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.token_ttl must be positive"))
	}
	return errors.Join(errs...)
}
