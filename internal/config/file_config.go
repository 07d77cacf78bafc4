package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

var defaultConfigFilenames = []string{
	"dispatch.yaml",
	"dispatch.yml",
	"dispatch.toml",
	".dispatch.yaml",
	".dispatch.yml",
	".dispatch.toml",
}

// FileConfig mirrors Config with optional fields so that an absent key
// keeps the value from the previous layer.
type FileConfig struct {
	DSN                        string            `yaml:"dsn" toml:"dsn"`
	Store                      string            `yaml:"store" toml:"store"`
	ConfirmationTimeoutMinutes *int              `yaml:"confirmation_timeout_minutes" toml:"confirmation_timeout_minutes"`
	DesignerConcurrencyCap     *int              `yaml:"designer_concurrency_cap" toml:"designer_concurrency_cap"`
	Pricing                    PricingFileConfig `yaml:"pricing" toml:"pricing"`
	Sweep                      SweepFileConfig   `yaml:"sweep" toml:"sweep"`
	Ops                        OpsFileConfig     `yaml:"ops" toml:"ops"`
	Kafka                      KafkaFileConfig   `yaml:"kafka" toml:"kafka"`
	Notify                     NotifyFileConfig  `yaml:"notify" toml:"notify"`
	LogLevel                   string            `yaml:"log_level" toml:"log_level"`
	InstanceID                 string            `yaml:"instance_id" toml:"instance_id"`
}

type PricingFileConfig struct {
	BasePriceMinor    *int64   `yaml:"base_price_minor" toml:"base_price_minor"`
	ExpressMultiplier *float64 `yaml:"express_multiplier" toml:"express_multiplier"`
	UrgentMultiplier  *float64 `yaml:"urgent_multiplier" toml:"urgent_multiplier"`
}

type SweepFileConfig struct {
	Schedule  string `yaml:"schedule" toml:"schedule"`
	BatchSize *int   `yaml:"batch_size" toml:"batch_size"`
}

type OpsFileConfig struct {
	Addr       string `yaml:"addr" toml:"addr"`
	AuthToken  string `yaml:"auth_token" toml:"auth_token"`
	AuthLimit  *int   `yaml:"auth_limit" toml:"auth_limit"`
	AuthWindow string `yaml:"auth_window" toml:"auth_window"`
}

type KafkaFileConfig struct {
	Brokers []string `yaml:"brokers" toml:"brokers"`
	Topic   string   `yaml:"topic" toml:"topic"`
}

type NotifyFileConfig struct {
	Buffer *int `yaml:"buffer" toml:"buffer"`
}

func ResolveConfigPath(args []string) (string, error) {
	path, ok, err := parseConfigFlag(args)
	if err != nil {
		return "", err
	}
	if ok {
		return path, nil
	}
	if env := os.Getenv("DISPATCH_CONFIG"); env != "" {
		return env, nil
	}
	for _, name := range defaultConfigFilenames {
		if fileExists(name) {
			return name, nil
		}
	}
	return "", nil
}

func LoadFileConfig(path string) (*FileConfig, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg FileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse yaml config: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse toml config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config extension: %s", filepath.Ext(path))
	}

	return &cfg, nil
}

func ApplyFileConfig(cfg *Config, fileCfg *FileConfig) error {
	if fileCfg == nil {
		return nil
	}

	setString(&cfg.DSN, fileCfg.DSN)
	setString(&cfg.Store, fileCfg.Store)
	setInt(&cfg.ConfirmationTimeoutMinutes, fileCfg.ConfirmationTimeoutMinutes)
	setInt(&cfg.DesignerConcurrencyCap, fileCfg.DesignerConcurrencyCap)

	if fileCfg.Pricing.BasePriceMinor != nil {
		cfg.Pricing.BasePriceMinor = *fileCfg.Pricing.BasePriceMinor
	}
	setFloat(&cfg.Pricing.ExpressMultiplier, fileCfg.Pricing.ExpressMultiplier)
	setFloat(&cfg.Pricing.UrgentMultiplier, fileCfg.Pricing.UrgentMultiplier)

	setString(&cfg.Sweep.Schedule, fileCfg.Sweep.Schedule)
	setInt(&cfg.Sweep.BatchSize, fileCfg.Sweep.BatchSize)

	setString(&cfg.Ops.Addr, fileCfg.Ops.Addr)
	setString(&cfg.Ops.AuthToken, fileCfg.Ops.AuthToken)
	setInt(&cfg.Ops.AuthLimit, fileCfg.Ops.AuthLimit)
	if fileCfg.Ops.AuthWindow != "" {
		parsed, err := parseDurationField("ops.auth_window", fileCfg.Ops.AuthWindow)
		if err != nil {
			return err
		}
		cfg.Ops.AuthWindow = parsed
	}

	if len(fileCfg.Kafka.Brokers) > 0 {
		cfg.Kafka.Brokers = append([]string{}, fileCfg.Kafka.Brokers...)
	}
	setString(&cfg.Kafka.Topic, fileCfg.Kafka.Topic)
	setInt(&cfg.NotifyBuffer, fileCfg.Notify.Buffer)

	setString(&cfg.LogLevel, fileCfg.LogLevel)
	setString(&cfg.InstanceID, fileCfg.InstanceID)
	return nil
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func setInt(dst *int, value *int) {
	if value != nil {
		*dst = *value
	}
}

func setFloat(dst *float64, value *float64) {
	if value != nil {
		*dst = *value
	}
}

func parseConfigFlag(args []string) (string, bool, error) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--config" || arg == "-config" {
			if i+1 >= len(args) || args[i+1] == "" {
				return "", true, fmt.Errorf("missing value for --config")
			}
			return args[i+1], true, nil
		}
		if strings.HasPrefix(arg, "--config=") {
			value := strings.TrimPrefix(arg, "--config=")
			if value == "" {
				return "", true, fmt.Errorf("missing value for --config")
			}
			return value, true, nil
		}
	}
	return "", false, nil
}

func parseDurationField(field, value string) (time.Duration, error) {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", field, err)
	}
	return parsed, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
