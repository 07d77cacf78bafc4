package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	DSN                        string
	Store                      string // "postgres" or "memory"
	ConfirmationTimeoutMinutes int
	DesignerConcurrencyCap     int // 0 means unbounded
	Pricing                    PricingConfig
	Sweep                      SweepConfig
	Ops                        OpsConfig
	Kafka                      KafkaConfig
	NotifyBuffer               int
	LogLevel                   string
	InstanceID                 string
}

type PricingConfig struct {
	BasePriceMinor    int64
	ExpressMultiplier float64
	UrgentMultiplier  float64
}

type SweepConfig struct {
	Schedule  string
	BatchSize int
}

type OpsConfig struct {
	Addr       string
	AuthToken  string
	AuthLimit  int
	AuthWindow time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

func DefaultConfig() *Config {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "localhost"
	}
	return &Config{
		Store:                      StorePostgres,
		ConfirmationTimeoutMinutes: 5,
		Pricing: PricingConfig{
			BasePriceMinor:    4900,
			ExpressMultiplier: 2.0,
			UrgentMultiplier:  4.0,
		},
		Sweep: SweepConfig{
			Schedule:  "@every 30s",
			BatchSize: 100,
		},
		Ops: OpsConfig{
			Addr:       "127.0.0.1:9100",
			AuthLimit:  30,
			AuthWindow: time.Minute,
		},
		Kafka: KafkaConfig{
			Topic: "dispatch.events",
		},
		NotifyBuffer: 256,
		LogLevel:     "info",
		InstanceID:   fmt.Sprintf("dispatch-%s-%d", hostname, os.Getpid()),
	}
}

// ConfirmationTimeout is the offer window as a duration.
func (c *Config) ConfirmationTimeout() time.Duration {
	return time.Duration(c.ConfirmationTimeoutMinutes) * time.Minute
}

func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.DSN, "dsn", c.DSN, "Postgres connection string")
	fs.StringVar(&c.Store, "store", c.Store, "Storage backend (postgres|memory)")
	fs.IntVar(&c.ConfirmationTimeoutMinutes, "confirmation-timeout", c.ConfirmationTimeoutMinutes, "Minutes a designer has to confirm an offer")
	fs.IntVar(&c.DesignerConcurrencyCap, "concurrency-cap", c.DesignerConcurrencyCap, "Max open tasks per designer (0 = unbounded)")
	fs.StringVar(&c.Sweep.Schedule, "sweep-schedule", c.Sweep.Schedule, "Cron expression pacing the sweeper")
	fs.IntVar(&c.Sweep.BatchSize, "sweep-batch", c.Sweep.BatchSize, "Max offers and tasks handled per sweep phase")
	fs.StringVar(&c.Ops.Addr, "ops-addr", c.Ops.Addr, "HTTP address for health, metrics and events")
	fs.StringVar(&c.Ops.AuthToken, "ops-auth-token", c.Ops.AuthToken, "Bearer token required by the ops endpoints")
	fs.Func("kafka-brokers", "Comma-separated Kafka brokers for notifications", func(value string) error {
		c.Kafka.Brokers = splitList(value)
		return nil
	})
	fs.StringVar(&c.Kafka.Topic, "kafka-topic", c.Kafka.Topic, "Kafka topic for notifications")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug|info|warn|error)")
	fs.StringVar(&c.InstanceID, "instance-id", c.InstanceID, "Identifier attached to every log line")
}

func (c *Config) Validate() error {
	switch c.Store {
	case StorePostgres:
		if c.DSN == "" {
			return fmt.Errorf("dsn is required when store is %q", StorePostgres)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("store must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store)
	}
	if c.ConfirmationTimeoutMinutes <= 0 {
		return fmt.Errorf("confirmation_timeout_minutes must be > 0")
	}
	if c.DesignerConcurrencyCap < 0 {
		return fmt.Errorf("designer_concurrency_cap must be >= 0")
	}
	if c.Pricing.BasePriceMinor <= 0 {
		return fmt.Errorf("pricing.base_price_minor must be > 0")
	}
	if c.Pricing.ExpressMultiplier < 1 {
		return fmt.Errorf("pricing.express_multiplier must be >= 1")
	}
	if c.Pricing.UrgentMultiplier < 1 {
		return fmt.Errorf("pricing.urgent_multiplier must be >= 1")
	}
	if c.Sweep.BatchSize <= 0 {
		return fmt.Errorf("sweep.batch_size must be > 0")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(c.Sweep.Schedule); err != nil {
		return fmt.Errorf("invalid sweep.schedule %q: %w", c.Sweep.Schedule, err)
	}
	if c.NotifyBuffer <= 0 {
		return fmt.Errorf("notify.buffer must be > 0")
	}
	return nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
