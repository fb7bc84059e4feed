// Package scheduler runs the ledger's periodic sweeps on cron schedules.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/xraph/pointledger"
)

// Default schedules.
const (
	DefaultRenewalSchedule = "@hourly"
	DefaultExpirySchedule  = "@daily"
	DefaultRunTimeout      = 10 * time.Minute
)

// Sweeper is the part of the ledger the scheduler drives.
type Sweeper interface {
	ProcessAutoRenewals(ctx context.Context) (*pointledger.SweepResult, error)
	ProcessExpired(ctx context.Context) (*pointledger.SweepResult, error)
}

// Config holds the cron expressions for each sweep. Empty fields fall back
// to the defaults.
type Config struct {
	RenewalSchedule string
	ExpirySchedule  string
	RunTimeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.RenewalSchedule == "" {
		c.RenewalSchedule = DefaultRenewalSchedule
	}
	if c.ExpirySchedule == "" {
		c.ExpirySchedule = DefaultExpirySchedule
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = DefaultRunTimeout
	}
	return c
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron    *cron.Cron
	sweeper Sweeper
	logger  *slog.Logger
	config  Config

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler. Runs that are still going when their next tick
// fires are skipped, and a panicking run is recovered and logged.
func New(sweeper Sweeper, logger *slog.Logger, cfg Config) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger),
		cron.SkipIfStillRunning(cronLogger),
	))

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    c,
		sweeper: sweeper,
		logger:  logger,
		config:  cfg.withDefaults(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.config.RenewalSchedule, s.RunRenewals); err != nil {
		return err
	}
	s.logger.Info("scheduled auto-renewal sweep", "schedule", s.config.RenewalSchedule)

	if _, err := s.cron.AddFunc(s.config.ExpirySchedule, s.RunExpiry); err != nil {
		return err
	}
	s.logger.Info("scheduled expiry sweep", "schedule", s.config.ExpirySchedule)

	s.cron.Start()
	return nil
}

// Stop cancels any running sweep and waits for it to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

// RunRenewals runs one auto-renewal sweep.
func (s *Scheduler) RunRenewals() {
	s.run("auto-renewal", s.sweeper.ProcessAutoRenewals)
}

// RunExpiry runs one expiry sweep.
func (s *Scheduler) RunExpiry() {
	s.run("expiry", s.sweeper.ProcessExpired)
}

func (s *Scheduler) run(name string, sweep func(context.Context) (*pointledger.SweepResult, error)) {
	ctx, cancel := context.WithTimeout(s.ctx, s.config.RunTimeout)
	defer cancel()

	start := time.Now()
	res, err := sweep(ctx)
	if err != nil {
		s.logger.Error("sweep failed", "sweep", name, "error", err)
		return
	}
	s.logger.Debug("sweep completed",
		"sweep", name,
		"scanned", res.Scanned,
		"duration", time.Since(start),
	)
}
