// Package config loads register and scope settings from YAML files and
// ATOM_* environment variables, and builds a scope from them.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	atom "github.com/pumped-fn/pumped-atom"
	"github.com/pumped-fn/pumped-atom/pkg/journal"
)

var validate = validator.New()

// Config is the top-level configuration
type Config struct {
	Update        UpdateConfig        `yaml:"update"`
	Journal       JournalConfig       `yaml:"journal"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// UpdateConfig bounds update retry loops
type UpdateConfig struct {
	// MaxRetries bounds every update issued through UpdateOptions.
	// -1 means unbounded.
	MaxRetries int `yaml:"max_retries" validate:"gte=-1"`
}

// JournalConfig enables snapshot persistence
type JournalConfig struct {
	Enabled      bool           `yaml:"enabled"`
	Codec        string         `yaml:"codec" validate:"oneof=gob json"`
	CompactEvery uint64         `yaml:"compact_every"`
	Store        journal.Config `yaml:"store" validate:"-"`
}

// ObservabilityConfig selects the extensions installed on the scope
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level" validate:"oneof=debug info warn error"`
	LoggingEnabled bool   `yaml:"logging_enabled"`
	DebugEnabled   bool   `yaml:"debug_enabled"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	TracingEnabled bool   `yaml:"tracing_enabled"`
	Namespace      string `yaml:"namespace" validate:"required,alphanum"`
}

// Default returns the default configuration
func Default() Config {
	return Config{
		Update: UpdateConfig{
			MaxRetries: -1,
		},
		Journal: JournalConfig{
			Enabled:      false,
			Codec:        "gob",
			CompactEvery: 64,
			Store:        journal.InMemoryConfig(),
		},
		Observability: ObservabilityConfig{
			LogLevel:       "info",
			LoggingEnabled: true,
			Namespace:      "atom",
		},
	}
}

// Load loads configuration with priority: env > file > defaults.
// A missing file is not an error.
func Load(path string) (Config, error) {
	return load(path, false)
}

func load(path string, requireFile bool) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, requireFile, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := loadEnv(&cfg); err != nil {
		return cfg, fmt.Errorf("load config env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func loadFile(path string, requireFile bool, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !requireFile {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func loadEnv(cfg *Config) error {
	if v, ok := os.LookupEnv("ATOM_MAX_RETRIES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ATOM_MAX_RETRIES: %w", err)
		}
		cfg.Update.MaxRetries = n
	}
	if v, ok := os.LookupEnv("ATOM_JOURNAL_PATH"); ok {
		cfg.Journal.Enabled = true
		cfg.Journal.Store.Path = v
		cfg.Journal.Store.InMemory = false
	}
	if v, ok := os.LookupEnv("ATOM_LOG_LEVEL"); ok {
		cfg.Observability.LogLevel = strings.ToLower(v)
	}
	if v, ok := os.LookupEnv("ATOM_METRICS_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ATOM_METRICS_ENABLED: %w", err)
		}
		cfg.Observability.MetricsEnabled = b
	}
	if v, ok := os.LookupEnv("ATOM_TRACING_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ATOM_TRACING_ENABLED: %w", err)
		}
		cfg.Observability.TracingEnabled = b
	}
	return nil
}

// Validate checks the configuration
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Journal.Enabled {
		if err := c.Journal.Store.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// UpdateOptions returns the update options implied by the configuration
func (c Config) UpdateOptions() []atom.UpdateOption {
	if c.Update.MaxRetries < 0 {
		return nil
	}
	return []atom.UpdateOption{atom.WithMaxRetries(c.Update.MaxRetries)}
}

// Level returns the configured slog level
func (c ObservabilityConfig) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// PayloadCodec returns the journal payload codec
func (c JournalConfig) PayloadCodec() journal.Codec {
	if c.Codec == "json" {
		return journal.JSONCodec{}
	}
	return journal.GobCodec{}
}
