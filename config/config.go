// Package config loads pointsd settings from the environment. Every key is
// read from a POINTS_-prefixed variable, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every key when reading the environment.
const EnvPrefix = "POINTS"

// Config holds all settings for the pointsd binary.
type Config struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	LogLevel        string        `mapstructure:"log_level"`

	// DatabaseURL selects the Postgres store. Empty runs in memory.
	DatabaseURL string `mapstructure:"database_url"`
	DBMaxConns  int32  `mapstructure:"db_max_conns"`

	// RabbitMQURL selects the broker transport. Empty delivers in process.
	RabbitMQURL      string `mapstructure:"rabbitmq_url"`
	RabbitMQExchange string `mapstructure:"rabbitmq_exchange"`
	RabbitMQQueue    string `mapstructure:"rabbitmq_queue"`

	// RedisURL selects the shared dedupe store. Empty keeps it in memory.
	RedisURL  string        `mapstructure:"redis_url"`
	DedupeTTL time.Duration `mapstructure:"dedupe_ttl"`

	MaxRenewalAttempts int           `mapstructure:"max_renewal_attempts"`
	RetryInterval      time.Duration `mapstructure:"retry_interval"`
	SweepBatch         int           `mapstructure:"sweep_batch"`
	RenewalSchedule    string        `mapstructure:"renewal_schedule"`
	ExpirySchedule     string        `mapstructure:"expiry_schedule"`
	DisableScheduler   bool          `mapstructure:"disable_scheduler"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("shutdown_timeout", 15*time.Second)
	v.SetDefault("cors_origins", []string{"https://*", "http://*"})
	v.SetDefault("log_level", "info")

	v.SetDefault("database_url", "")
	v.SetDefault("db_max_conns", 20)

	v.SetDefault("rabbitmq_url", "")
	v.SetDefault("rabbitmq_exchange", "pointledger.events")
	v.SetDefault("rabbitmq_queue", "pointledger.handlers")

	v.SetDefault("redis_url", "")
	v.SetDefault("dedupe_ttl", 24*time.Hour)

	v.SetDefault("max_renewal_attempts", 3)
	v.SetDefault("retry_interval", 24*time.Hour)
	v.SetDefault("sweep_batch", 500)
	v.SetDefault("renewal_schedule", "@hourly")
	v.SetDefault("expiry_schedule", "@daily")
	v.SetDefault("disable_scheduler", false)
}

// Load reads the .env file in dir if present, then the environment.
// Variables already set in the environment win over the file.
func Load(dir string) (Config, error) {
	if dir != "" {
		err := godotenv.Load(filepath.Join(dir, ".env"))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: read .env: %w", err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that cannot be defaulted.
func (c Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: POINTS_HTTP_ADDR must not be empty")
	}
	if c.MaxRenewalAttempts <= 0 {
		return fmt.Errorf("config: POINTS_MAX_RENEWAL_ATTEMPTS must be positive, got %d", c.MaxRenewalAttempts)
	}
	if c.RetryInterval <= 0 {
		return fmt.Errorf("config: POINTS_RETRY_INTERVAL must be positive, got %s", c.RetryInterval)
	}
	if c.SweepBatch <= 0 {
		return fmt.Errorf("config: POINTS_SWEEP_BATCH must be positive, got %d", c.SweepBatch)
	}
	if c.DBMaxConns <= 0 {
		return fmt.Errorf("config: POINTS_DB_MAX_CONNS must be positive, got %d", c.DBMaxConns)
	}
	return nil
}
