// Package config handles stitch runtime configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Datastore kinds understood by orm.Open.
const (
	KindSQLite = "sqlite"
	KindMemory = "memory"
	KindBadger = "badger"
)

// Config represents a stitch configuration file.
type Config struct {
	// Engine tunes the batch executor.
	Engine EngineConfig `toml:"engine"`

	// Log controls the global logger.
	Log LogConfig `toml:"log"`

	// Datastores names the backing stores entities are assigned to.
	Datastores []DatastoreConfig `toml:"datastore"`
}

// EngineConfig tunes the batch executor.
type EngineConfig struct {
	// DefaultLimit is the limit applied when a query gives none.
	DefaultLimit int `toml:"default_limit"`

	// BatchSize is the page size used when paging through an adapter.
	BatchSize int `toml:"batch_size"`

	// Concurrency bounds how many sibling associations are fetched at once.
	Concurrency int `toml:"concurrency"`

	// MaxFetches bounds the adapter fetches of one query. 0 disables it.
	MaxFetches int `toml:"max_fetches"`
}

// LogConfig controls the global logger.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DatastoreConfig declares one named datastore.
type DatastoreConfig struct {
	Name string `toml:"name"`

	// Kind is one of sqlite, memory or badger.
	Kind string `toml:"kind"`

	// Path is the database file (sqlite) or directory (badger).
	// Empty means in-memory for both.
	Path string `toml:"path"`
}

// Default returns the configuration used when no file is given:
// one in-memory datastore named "default".
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			DefaultLimit: 30,
			BatchSize:    100,
			Concurrency:  4,
			MaxFetches:   10000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Datastores: []DatastoreConfig{
			{Name: "default", Kind: KindMemory},
		},
	}
}

// Load loads the configuration from path.
// Returns the default config if path is empty or the file doesn't exist.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return LoadFrom(path)
}

// LoadFrom loads the configuration from a specific path. Unset fields keep
// their defaults; relative datastore paths resolve against the file's
// directory.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	cfg.Datastores = nil

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config %s: unknown key %q", path, undecoded[0].String())
	}
	if len(cfg.Datastores) == 0 {
		cfg.Datastores = Default().Datastores
	}

	base := filepath.Dir(path)
	for i, ds := range cfg.Datastores {
		if ds.Path != "" && !filepath.IsAbs(ds.Path) {
			cfg.Datastores[i].Path = filepath.Join(base, ds.Path)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges and datastore declarations.
func (c *Config) Validate() error {
	var errs []error
	if c.Engine.DefaultLimit < 0 {
		errs = append(errs, fmt.Errorf("engine.default_limit must be >= 0, got %d", c.Engine.DefaultLimit))
	}
	if c.Engine.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("engine.batch_size must be > 0, got %d", c.Engine.BatchSize))
	}
	if c.Engine.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("engine.concurrency must be > 0, got %d", c.Engine.Concurrency))
	}
	if c.Engine.MaxFetches < 0 {
		errs = append(errs, fmt.Errorf("engine.max_fetches must be >= 0, got %d", c.Engine.MaxFetches))
	}

	seen := make(map[string]bool, len(c.Datastores))
	for i, ds := range c.Datastores {
		if ds.Name == "" {
			errs = append(errs, fmt.Errorf("datastore[%d]: name is required", i))
		} else if seen[ds.Name] {
			errs = append(errs, fmt.Errorf("datastore %q declared twice", ds.Name))
		}
		seen[ds.Name] = true

		switch ds.Kind {
		case KindSQLite, KindMemory, KindBadger:
		default:
			errs = append(errs, fmt.Errorf("datastore %q: unknown kind %q", ds.Name, ds.Kind))
		}
	}
	return errors.Join(errs...)
}

// Datastore returns the datastore declaration with the given name.
func (c *Config) Datastore(name string) (DatastoreConfig, bool) {
	for _, ds := range c.Datastores {
		if ds.Name == name {
			return ds, true
		}
	}
	return DatastoreConfig{}, false
}

// Encode renders the configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// Save writes the configuration to path.
func (c *Config) Save(path string) error {
	data, err := c.Encode()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
