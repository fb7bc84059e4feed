package extension

import (
	"testing"
	"time"

	"github.com/xraph/pointledger/store/memory"
)

func TestMergeWithDefaults(t *testing.T) {
	cfg := mergeWithDefaults(Config{MaxRenewalAttempts: 5})

	if cfg.MaxRenewalAttempts != 5 {
		t.Errorf("MaxRenewalAttempts = %d, want 5", cfg.MaxRenewalAttempts)
	}
	if cfg.RetryInterval != 24*time.Hour {
		t.Errorf("RetryInterval = %s, want 24h", cfg.RetryInterval)
	}
	if cfg.Driver != DriverMemory {
		t.Errorf("Driver = %q, want %q", cfg.Driver, DriverMemory)
	}
	if cfg.RenewalSchedule != "@hourly" || cfg.ExpirySchedule != "@daily" {
		t.Errorf("schedules = %q/%q", cfg.RenewalSchedule, cfg.ExpirySchedule)
	}
}

func TestMergeConfigurations(t *testing.T) {
	yaml := Config{RetryInterval: time.Hour, RenewalSchedule: "*/15 * * * *"}
	prog := Config{RetryInterval: 2 * time.Hour, MaxRenewalAttempts: 7, DisableScheduler: true}

	cfg := mergeConfigurations(yaml, prog)

	if cfg.RetryInterval != time.Hour {
		t.Errorf("file value should win, got %s", cfg.RetryInterval)
	}
	if cfg.MaxRenewalAttempts != 7 {
		t.Errorf("programmatic value should fill the gap, got %d", cfg.MaxRenewalAttempts)
	}
	if !cfg.DisableScheduler {
		t.Error("programmatic DisableScheduler should carry over")
	}
	if cfg.RenewalSchedule != "*/15 * * * *" {
		t.Errorf("RenewalSchedule = %q", cfg.RenewalSchedule)
	}
	if cfg.ExpirySchedule != "@daily" {
		t.Errorf("ExpirySchedule = %q, want default", cfg.ExpirySchedule)
	}
}

func TestBuildStore(t *testing.T) {
	e := New()
	s, err := e.buildStore()
	if err != nil {
		t.Fatalf("buildStore: %v", err)
	}
	if _, ok := s.(*memory.Store); !ok {
		t.Errorf("expected memory store without a grove database, got %T", s)
	}

	e = New(WithConfig(Config{Driver: DriverPostgres}))
	if _, err := e.buildStore(); err == nil {
		t.Error("expected error for postgres driver without a grove database")
	}
}

func TestBuildLedgerOpts(t *testing.T) {
	e := New(WithDisableMigrate())
	e.config = mergeWithDefaults(e.config)

	// logger, attempts, retry interval, sweep batch, skip migrate
	if got := len(e.buildLedgerOpts()); got != 5 {
		t.Errorf("len(opts) = %d, want 5", got)
	}
}
