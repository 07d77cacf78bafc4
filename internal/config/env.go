package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const namespace = "DISPATCH"

// Env holds the environment layer. Every key is read as DISPATCH_<KEY>
// first and then as the bare <KEY>. Nil pointers mean the variable is unset.
type Env struct {
	DSN                        *string        `envconfig:"DATABASE_URL"`
	Store                      *string        `envconfig:"STORE"`
	ConfirmationTimeoutMinutes *int           `envconfig:"CONFIRMATION_TIMEOUT_MINUTES"`
	DesignerConcurrencyCap     *int           `envconfig:"DESIGNER_CONCURRENCY_CAP"`
	BasePriceMinor             *int64         `envconfig:"BASE_PRICE_MINOR"`
	ExpressMultiplier          *float64       `envconfig:"EXPRESS_MULTIPLIER"`
	UrgentMultiplier           *float64       `envconfig:"URGENT_MULTIPLIER"`
	SweepSchedule              *string        `envconfig:"SWEEP_SCHEDULE"`
	SweepBatchSize             *int           `envconfig:"SWEEP_BATCH_SIZE"`
	OpsAddr                    *string        `envconfig:"OPS_ADDR"`
	OpsAuthToken               *string        `envconfig:"OPS_AUTH_TOKEN"`
	OpsAuthLimit               *int           `envconfig:"OPS_AUTH_LIMIT"`
	OpsAuthWindow              *time.Duration `envconfig:"OPS_AUTH_WINDOW"`
	KafkaBrokers               *[]string      `envconfig:"KAFKA_BROKERS"`
	KafkaTopic                 *string        `envconfig:"KAFKA_TOPIC"`
	NotifyBuffer               *int           `envconfig:"NOTIFY_BUFFER"`
	LogLevel                   *string        `envconfig:"LOG_LEVEL"`
	InstanceID                 *string        `envconfig:"INSTANCE_ID"`
}

func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	return &env, nil
}

func ApplyEnv(cfg *Config, env *Env) {
	if env == nil {
		return
	}
	pick(&cfg.DSN, env.DSN)
	pick(&cfg.Store, env.Store)
	pick(&cfg.ConfirmationTimeoutMinutes, env.ConfirmationTimeoutMinutes)
	pick(&cfg.DesignerConcurrencyCap, env.DesignerConcurrencyCap)
	pick(&cfg.Pricing.BasePriceMinor, env.BasePriceMinor)
	pick(&cfg.Pricing.ExpressMultiplier, env.ExpressMultiplier)
	pick(&cfg.Pricing.UrgentMultiplier, env.UrgentMultiplier)
	pick(&cfg.Sweep.Schedule, env.SweepSchedule)
	pick(&cfg.Sweep.BatchSize, env.SweepBatchSize)
	pick(&cfg.Ops.Addr, env.OpsAddr)
	pick(&cfg.Ops.AuthToken, env.OpsAuthToken)
	pick(&cfg.Ops.AuthLimit, env.OpsAuthLimit)
	pick(&cfg.Ops.AuthWindow, env.OpsAuthWindow)
	pick(&cfg.Kafka.Brokers, env.KafkaBrokers)
	pick(&cfg.Kafka.Topic, env.KafkaTopic)
	pick(&cfg.NotifyBuffer, env.NotifyBuffer)
	pick(&cfg.LogLevel, env.LogLevel)
	pick(&cfg.InstanceID, env.InstanceID)
}

func pick[T any](dst *T, value *T) {
	if value != nil {
		*dst = *value
	}
}

// Load builds a Config from defaults, the resolved config file and the
// environment. Flags are bound by the caller afterwards.
func Load(args []string) (*Config, error) {
	cfg := DefaultConfig()
	path, err := ResolveConfigPath(args)
	if err != nil {
		return nil, err
	}
	fileCfg, err := LoadFileConfig(path)
	if err != nil {
		return nil, err
	}
	if err := ApplyFileConfig(cfg, fileCfg); err != nil {
		return nil, err
	}
	env, err := LoadEnv()
	if err != nil {
		return nil, err
	}
	ApplyEnv(cfg, env)
	return cfg, nil
}
