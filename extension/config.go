package extension

import (
	"time"

	"github.com/xraph/pointledger"
	"github.com/xraph/pointledger/scheduler"
)

// Store drivers understood by the extension when a grove.DB is supplied.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMongo    = "mongo"
)

// Config holds the point ledger extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.pointledger" or "pointledger" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// DisableScheduler stops the extension from running the renewal and
	// expiry sweeps on cron schedules.
	DisableScheduler bool `json:"disable_scheduler" mapstructure:"disable_scheduler" yaml:"disable_scheduler"`

	// Driver selects the grove store backend built around the grove.DB
	// passed with WithGroveDB: postgres, sqlite or mongo (default: memory).
	Driver string `json:"driver" mapstructure:"driver" yaml:"driver"`

	// MaxRenewalAttempts is how many failed debits cancel a suspended
	// subscription (default: 3).
	MaxRenewalAttempts int `json:"max_renewal_attempts" mapstructure:"max_renewal_attempts" yaml:"max_renewal_attempts"`

	// RetryInterval is the minimum gap between scheduled retries of a
	// suspended subscription (default: 24h).
	RetryInterval time.Duration `json:"retry_interval" mapstructure:"retry_interval" yaml:"retry_interval"`

	// SweepBatch bounds how many subscriptions one sweep loads (default: 500).
	SweepBatch int `json:"sweep_batch" mapstructure:"sweep_batch" yaml:"sweep_batch"`

	// RenewalSchedule and ExpirySchedule are cron expressions
	// (defaults: "@hourly" and "@daily").
	RenewalSchedule string `json:"renewal_schedule" mapstructure:"renewal_schedule" yaml:"renewal_schedule"`
	ExpirySchedule  string `json:"expiry_schedule" mapstructure:"expiry_schedule" yaml:"expiry_schedule"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Driver:             DriverMemory,
		MaxRenewalAttempts: pointledger.DefaultMaxRenewalAttempts,
		RetryInterval:      pointledger.DefaultRetryInterval,
		SweepBatch:         500,
		RenewalSchedule:    scheduler.DefaultRenewalSchedule,
		ExpirySchedule:     scheduler.DefaultExpirySchedule,
	}
}
