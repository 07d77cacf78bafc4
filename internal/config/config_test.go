package config

import (
	"flag"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ConfirmationTimeout() != 5*time.Minute {
		t.Fatalf("expected 5m window, got %v", cfg.ConfirmationTimeout())
	}
	if cfg.DesignerConcurrencyCap != 0 {
		t.Fatalf("expected unbounded cap, got %d", cfg.DesignerConcurrencyCap)
	}
	if cfg.Sweep.Schedule != "@every 30s" {
		t.Fatalf("unexpected schedule %q", cfg.Sweep.Schedule)
	}
	if !strings.HasPrefix(cfg.InstanceID, "dispatch-") {
		t.Fatalf("unexpected instance id %q", cfg.InstanceID)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "memory store needs no dsn", mutate: func(c *Config) { c.Store = StoreMemory }},
		{name: "postgres needs dsn", mutate: func(c *Config) { c.DSN = "" }, wantErr: "dsn is required"},
		{name: "unknown store", mutate: func(c *Config) { c.Store = "redis" }, wantErr: "store must be"},
		{name: "zero timeout", mutate: func(c *Config) { c.ConfirmationTimeoutMinutes = 0 }, wantErr: "confirmation_timeout_minutes"},
		{name: "negative cap", mutate: func(c *Config) { c.DesignerConcurrencyCap = -1 }, wantErr: "designer_concurrency_cap"},
		{name: "zero base price", mutate: func(c *Config) { c.Pricing.BasePriceMinor = 0 }, wantErr: "base_price_minor"},
		{name: "express below one", mutate: func(c *Config) { c.Pricing.ExpressMultiplier = 0.5 }, wantErr: "express_multiplier"},
		{name: "urgent below one", mutate: func(c *Config) { c.Pricing.UrgentMultiplier = 0.9 }, wantErr: "urgent_multiplier"},
		{name: "bad cron", mutate: func(c *Config) { c.Sweep.Schedule = "every now and then" }, wantErr: "invalid sweep.schedule"},
		{name: "five field cron", mutate: func(c *Config) { c.Sweep.Schedule = "*/5 * * * *" }},
		{name: "zero batch", mutate: func(c *Config) { c.Sweep.BatchSize = 0 }, wantErr: "batch_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.DSN = "postgres://localhost/dispatch"
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestBindFlagsOverrides(t *testing.T) {
	cfg := DefaultConfig()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg.BindFlags(fs)

	args := []string{
		"--store", "memory",
		"--concurrency-cap", "2",
		"--confirmation-timeout", "15",
		"--kafka-brokers", "a:9092, b:9092",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if cfg.Store != StoreMemory || cfg.DesignerConcurrencyCap != 2 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.ConfirmationTimeout() != 15*time.Minute {
		t.Fatalf("expected 15m, got %v", cfg.ConfirmationTimeout())
	}
	if !reflect.DeepEqual(cfg.Kafka.Brokers, []string{"a:9092", "b:9092"}) {
		t.Fatalf("unexpected brokers %v", cfg.Kafka.Brokers)
	}
}

func TestApplyEnvPrefixedAndBare(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://bare/dispatch")
	t.Setenv("DISPATCH_DESIGNER_CONCURRENCY_CAP", "4")
	t.Setenv("DISPATCH_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("DISPATCH_OPS_AUTH_WINDOW", "2m")

	env, err := LoadEnv()
	if err != nil {
		t.Fatalf("load env: %v", err)
	}
	cfg := DefaultConfig()
	ApplyEnv(cfg, env)

	if cfg.DSN != "postgres://bare/dispatch" {
		t.Fatalf("expected bare DATABASE_URL, got %q", cfg.DSN)
	}
	if cfg.DesignerConcurrencyCap != 4 {
		t.Fatalf("expected cap 4, got %d", cfg.DesignerConcurrencyCap)
	}
	if !reflect.DeepEqual(cfg.Kafka.Brokers, []string{"k1:9092", "k2:9092"}) {
		t.Fatalf("unexpected brokers %v", cfg.Kafka.Brokers)
	}
	if cfg.Ops.AuthWindow != 2*time.Minute {
		t.Fatalf("expected 2m window, got %v", cfg.Ops.AuthWindow)
	}
	if cfg.ConfirmationTimeoutMinutes != 5 {
		t.Fatalf("expected default timeout untouched, got %d", cfg.ConfirmationTimeoutMinutes)
	}
}

func TestApplyEnvInvalidValue(t *testing.T) {
	t.Setenv("DISPATCH_SWEEP_BATCH_SIZE", "lots")
	if _, err := LoadEnv(); err == nil {
		t.Fatal("expected error for non-numeric batch size")
	}
}
