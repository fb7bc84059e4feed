package extension

import (
	"log/slog"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/pointledger"
	"github.com/xraph/pointledger/plugin"
	"github.com/xraph/pointledger/store"
)

// Option configures the point ledger Forge extension.
type Option func(*Extension)

// WithStore sets the store for the ledger engine. It takes precedence over
// WithGroveDB.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithGroveDB hands the extension a grove database. The store backend is
// picked from Config.Driver.
func WithGroveDB(db *grove.DB, driver string) Option {
	return func(e *Extension) {
		e.groveDB = db
		e.config.Driver = driver
	}
}

// WithLedgerOption passes a pointledger.Option through to the engine.
func WithLedgerOption(opt pointledger.Option) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, opt)
	}
}

// WithPlugin registers a ledger plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, pointledger.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithDisableScheduler turns off the cron sweeps.
func WithDisableScheduler() Option {
	return func(e *Extension) { e.config.DisableScheduler = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithMaxRenewalAttempts sets how many failed debits cancel a suspended
// subscription.
func WithMaxRenewalAttempts(n int) Option {
	return func(e *Extension) { e.config.MaxRenewalAttempts = n }
}

// WithRetryInterval sets the minimum gap between scheduled retries.
func WithRetryInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.RetryInterval = d }
}

// WithSchedules sets the cron expressions for the renewal and expiry sweeps.
func WithSchedules(renewal, expiry string) Option {
	return func(e *Extension) {
		e.config.RenewalSchedule = renewal
		e.config.ExpirySchedule = expiry
	}
}

// WithLogger sets the logger handed to the engine and scheduler.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extension) {
		if l != nil {
			e.logger = l
		}
	}
}
