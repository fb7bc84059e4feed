// Package extension provides the Forge extension adapter for the point
// ledger.
//
// It implements the forge.Extension interface to integrate the ledger
// into a Forge application with DI registration, scheduled sweeps and
// lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.pointledger" or
// "pointledger" keys.
package extension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/xraph/forge"
	"github.com/xraph/grove"
	"github.com/xraph/vessel"

	"github.com/xraph/pointledger"
	"github.com/xraph/pointledger/api"
	"github.com/xraph/pointledger/scheduler"
	"github.com/xraph/pointledger/store"
	"github.com/xraph/pointledger/store/memory"
	"github.com/xraph/pointledger/store/mongo"
	"github.com/xraph/pointledger/store/postgres"
	"github.com/xraph/pointledger/store/sqlite"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "pointledger"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Point ledger and subscription billing engine"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts the point ledger as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *pointledger.Ledger
	store      store.Store
	groveDB    *grove.DB
	sched      *scheduler.Scheduler
	ledgerOpts []pointledger.Option
	logger     *slog.Logger
}

// New creates a new point ledger Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Ledger instance.
// This is nil until Register is called.
func (e *Extension) Engine() *pointledger.Ledger { return e.engine }

// Handler returns the REST API for the engine, ready to be mounted on the
// application's router. It is nil until Register is called.
func (e *Extension) Handler() http.Handler {
	if e.engine == nil {
		return nil
	}
	return api.NewRouter(api.NewHandler(e.engine, e.logger), api.RouterConfig{})
}

// Register implements [forge.Extension]. It loads configuration,
// initializes the ledger engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if e.store == nil {
		s, err := e.buildStore()
		if err != nil {
			return err
		}
		e.store = s
	}

	e.engine = pointledger.New(e.store, e.buildLedgerOpts()...)

	if !e.config.DisableScheduler {
		e.sched = scheduler.New(e.engine, e.logger, scheduler.Config{
			RenewalSchedule: e.config.RenewalSchedule,
			ExpirySchedule:  e.config.ExpirySchedule,
		})
	}

	return vessel.Provide(fapp.Container(), func() (*pointledger.Ledger, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("pointledger: extension not initialized")
	}

	if err := e.engine.Start(ctx); err != nil {
		return err
	}
	if e.sched != nil {
		if err := e.sched.Start(); err != nil {
			return fmt.Errorf("pointledger: start scheduler: %w", err)
		}
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.sched != nil {
		e.sched.Stop()
	}
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("pointledger: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildStore picks the backend for the configured driver.
func (e *Extension) buildStore() (store.Store, error) {
	if e.groveDB == nil {
		if e.config.Driver != "" && e.config.Driver != DriverMemory {
			return nil, fmt.Errorf("pointledger: driver %q needs a grove database", e.config.Driver)
		}
		return memory.New(), nil
	}

	switch e.config.Driver {
	case DriverPostgres:
		return postgres.New(e.groveDB), nil
	case DriverSQLite:
		return sqlite.New(e.groveDB), nil
	case DriverMongo:
		return mongo.New(e.groveDB), nil
	default:
		return nil, fmt.Errorf("pointledger: unknown store driver %q", e.config.Driver)
	}
}

// buildLedgerOpts constructs pointledger.Option values from the resolved config.
func (e *Extension) buildLedgerOpts() []pointledger.Option {
	opts := make([]pointledger.Option, 0, len(e.ledgerOpts)+5)

	opts = append(opts,
		pointledger.WithLogger(e.logger),
		pointledger.WithMaxRenewalAttempts(e.config.MaxRenewalAttempts),
		pointledger.WithRetryInterval(e.config.RetryInterval),
		pointledger.WithSweepBatch(e.config.SweepBatch),
	)
	if e.config.DisableMigrate {
		opts = append(opts, pointledger.WithoutMigrate())
	}

	// Pass-through options go last so they win.
	opts = append(opts, e.ledgerOpts...)

	return opts
}

// --- Config Loading (mirrors grove/shield extension pattern) ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("pointledger: configuration is required but not found in config files; " +
				"ensure 'extensions.pointledger' or 'pointledger' key exists in your config")
		}
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("pointledger: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("disable_scheduler", e.config.DisableScheduler),
		forge.F("driver", e.config.Driver),
		forge.F("max_renewal_attempts", e.config.MaxRenewalAttempts),
		forge.F("retry_interval", e.config.RetryInterval),
		forge.F("renewal_schedule", e.config.RenewalSchedule),
		forge.F("expiry_schedule", e.config.ExpirySchedule),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()

	for _, key := range []string{"extensions.pointledger", "pointledger"} {
		if !cm.IsSet(key) {
			continue
		}
		var cfg Config
		if err := cm.Bind(key, &cfg); err != nil {
			e.Logger().Warn("pointledger: failed to bind config",
				forge.F("key", key),
				forge.F("error", err.Error()),
			)
			continue
		}
		e.Logger().Debug("pointledger: loaded config from file", forge.F("key", key))
		return cfg, true
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.Driver == "" {
		cfg.Driver = defaults.Driver
	}
	if cfg.MaxRenewalAttempts == 0 {
		cfg.MaxRenewalAttempts = defaults.MaxRenewalAttempts
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = defaults.RetryInterval
	}
	if cfg.SweepBatch == 0 {
		cfg.SweepBatch = defaults.SweepBatch
	}
	if cfg.RenewalSchedule == "" {
		cfg.RenewalSchedule = defaults.RenewalSchedule
	}
	if cfg.ExpirySchedule == "" {
		cfg.ExpirySchedule = defaults.ExpirySchedule
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic bool flags fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if programmaticConfig.DisableScheduler {
		yamlConfig.DisableScheduler = true
	}

	if yamlConfig.Driver == "" {
		yamlConfig.Driver = programmaticConfig.Driver
	}
	if yamlConfig.MaxRenewalAttempts == 0 {
		yamlConfig.MaxRenewalAttempts = programmaticConfig.MaxRenewalAttempts
	}
	if yamlConfig.RetryInterval == 0 {
		yamlConfig.RetryInterval = programmaticConfig.RetryInterval
	}
	if yamlConfig.SweepBatch == 0 {
		yamlConfig.SweepBatch = programmaticConfig.SweepBatch
	}
	if yamlConfig.RenewalSchedule == "" {
		yamlConfig.RenewalSchedule = programmaticConfig.RenewalSchedule
	}
	if yamlConfig.ExpirySchedule == "" {
		yamlConfig.ExpirySchedule = programmaticConfig.ExpirySchedule
	}

	return mergeWithDefaults(yamlConfig)
}
