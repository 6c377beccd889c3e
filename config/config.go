// Package config loads the identistore configuration surface from
// YAML, with IDENTISTORE_* environment overrides taking precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the complete identistore configuration.
type Config struct {
	// IndexName is the backing index (default "users").
	IndexName string `yaml:"index_name" json:"index_name"`

	// ForceRecreate drops and recreates the index on first use.
	// Destructive: every stored user is lost. Test/bootstrap only.
	ForceRecreate bool `yaml:"force_recreate" json:"force_recreate"`

	// StrictNotFound surfaces missing-document lookups as errors
	// instead of empty results.
	StrictNotFound bool `yaml:"strict_not_found" json:"strict_not_found"`

	Engine EngineConfig `yaml:"engine" json:"engine"`
}

// EngineConfig configures the embedded engine.
type EngineConfig struct {
	// Path is the root directory for persistent indexes. Empty means
	// in-memory.
	Path string `yaml:"path" json:"path"`
	// CacheSize bounds the get-by-id cache. 0 disables it.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// DefaultConfig returns the defaults: the "users" index, non-strict
// lookups, an in-memory engine with a small cache.
func DefaultConfig() Config {
	return Config{
		IndexName: "users",
		Engine: EngineConfig{
			CacheSize: 512,
		},
	}
}

// Load reads a YAML config file over the defaults, applies environment
// overrides, and validates the result. A missing file is not an error:
// defaults plus environment apply.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv applies IDENTISTORE_* environment overrides, the highest
// priority configuration source.
func applyEnv(cfg *Config) {
	if v := os.Getenv("IDENTISTORE_INDEX_NAME"); v != "" {
		cfg.IndexName = v
	}
	if v := os.Getenv("IDENTISTORE_FORCE_RECREATE"); v != "" {
		cfg.ForceRecreate = isTruthy(v)
	}
	if v := os.Getenv("IDENTISTORE_STRICT_NOT_FOUND"); v != "" {
		cfg.StrictNotFound = isTruthy(v)
	}
	if v := os.Getenv("IDENTISTORE_ENGINE_PATH"); v != "" {
		cfg.Engine.Path = v
	}
	if v := os.Getenv("IDENTISTORE_ENGINE_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.CacheSize = n
		}
	}
}

func isTruthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Validate checks the configuration for values the store would reject
// later anyway, so misconfiguration fails at load time.
func (c Config) Validate() error {
	if c.IndexName == "" {
		return fmt.Errorf("index_name must not be empty")
	}
	if c.IndexName != strings.ToLower(c.IndexName) {
		return fmt.Errorf("index_name must be lowercase, got %q", c.IndexName)
	}
	if strings.ContainsAny(c.IndexName, " /\\") {
		return fmt.Errorf("index_name must not contain spaces or path separators, got %q", c.IndexName)
	}
	if c.Engine.CacheSize < 0 {
		return fmt.Errorf("engine.cache_size must not be negative, got %d", c.Engine.CacheSize)
	}
	return nil
}
