package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/roach88/glyph/internal/store"
	"github.com/roach88/glyph/internal/store/badgerstore"
	"github.com/roach88/glyph/internal/txn"
)

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

var (
	_ txn.Storage = (*store.Store)(nil)
	_ txn.Storage = (*badgerstore.Store)(nil)
)

// Config is the optional YAML file named by --config.
//
//	limits:
//	  max_depth: 1000
//	  max_actions: 10000
//	storage:
//	  backend: sqlite    # sqlite | badger | memory
//	  path: ./glyph.db   # file for sqlite, directory for badger
//	parallelism: 4
type Config struct {
	Limits      LimitsConfig  `yaml:"limits"`
	Storage     StorageConfig `yaml:"storage"`
	Parallelism int           `yaml:"parallelism" validate:"gte=0"`
}

// LimitsConfig holds the rule engine ceilings. Zero keeps the kernel
// default.
type LimitsConfig struct {
	MaxDepth   int `yaml:"max_depth" validate:"gte=0"`
	MaxActions int `yaml:"max_actions" validate:"gte=0"`
}

// StorageConfig selects the durability backend.
type StorageConfig struct {
	Backend    string `yaml:"backend" validate:"oneof=sqlite badger memory"`
	Path       string `yaml:"path" validate:"required_unless=Backend memory"`
	SyncWrites bool   `yaml:"sync_writes"`
}

// DefaultConfig is used when no config file is given.
func DefaultConfig() *Config {
	return &Config{
		Storage:     StorageConfig{Backend: BackendSQLite, Path: "glyph.db"},
		Parallelism: 1,
	}
}

// LoadConfig reads a config file over the defaults. An empty path
// returns the defaults. Unknown fields are errors.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// configValidate reports fields by their YAML names.
var configValidate *validator.Validate

func init() {
	configValidate = validator.New()
	configValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

// validate checks the struct tags and reports the first failure as a
// sentence naming the dotted YAML path.
func (c *Config) validate() error {
	err := configValidate.Struct(c)
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) || len(fields) == 0 {
		return err
	}
	fe := fields[0]
	_, field, _ := strings.Cut(fe.Namespace(), ".")
	switch fe.Tag() {
	case "oneof":
		return fmt.Errorf("%s must be one of %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "required_unless":
		return fmt.Errorf("%s is required for the %s backend", field, c.Storage.Backend)
	case "gte":
		return fmt.Errorf("%s must be non-negative", field)
	}
	return fmt.Errorf("%s fails %s", field, fe.Tag())
}

// OpenStorage opens the configured backend. The memory backend has no
// storage and returns nil.
func (c *Config) OpenStorage(logger *slog.Logger) (txn.Storage, error) {
	switch c.Storage.Backend {
	case BackendSQLite:
		st, err := store.Open(c.Storage.Path)
		if err != nil {
			return nil, err
		}
		return st, nil
	case BackendBadger:
		st, err := badgerstore.Open(badgerstore.Config{
			Path:       c.Storage.Path,
			SyncWrites: c.Storage.SyncWrites,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		return st, nil
	case BackendMemory:
		return nil, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
}

// ManagerOptions translates the config into transaction manager options.
func (c *Config) ManagerOptions(storage txn.Storage, logger *slog.Logger) []txn.Option {
	opts := []txn.Option{txn.WithLogger(logger)}
	if storage != nil {
		opts = append(opts, txn.WithStorage(storage))
	}
	if c.Limits.MaxDepth > 0 {
		opts = append(opts, txn.WithMaxDepth(c.Limits.MaxDepth))
	}
	if c.Limits.MaxActions > 0 {
		opts = append(opts, txn.WithMaxActions(c.Limits.MaxActions))
	}
	if c.Parallelism > 0 {
		opts = append(opts, txn.WithParallelism(c.Parallelism))
	}
	return opts
}

// resolveConfig loads --config and applies a --db override. Failures are
// command errors.
func resolveConfig(opts *RootOptions, db string) (*Config, error) {
	cfg, err := LoadConfig(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, ErrCodeBadConfig, err)
	}
	if db != "" {
		cfg.Storage.Path = db
	}
	return cfg, nil
}
