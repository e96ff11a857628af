// Package config holds the tunable heuristics of the shape subsystem.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config groups every tunable. None of them affects correctness, only
// how early sharing is abandoned and how storage grows.
type Config struct {
	Shapes  Shapes  `toml:"shapes" yaml:"shapes"`
	Storage Storage `toml:"storage" yaml:"storage"`
	Cache   Cache   `toml:"cache" yaml:"cache"`
	Frames  Frames  `toml:"frames" yaml:"frames"`
}

// Shapes tunes the transition graph.
type Shapes struct {
	// MaxTransitionLength bounds the depth of a transition chain before
	// additions fall back to dictionary mode.
	MaxTransitionLength int `toml:"max_transition_length" yaml:"max_transition_length"`
	// SpecificThrashLimit is how many despecializations a lineage tolerates
	// before it stops recording specific values at all.
	SpecificThrashLimit int `toml:"specific_thrash_limit" yaml:"specific_thrash_limit"`
	// MinTableSize is the initial slot count of a property table.
	MinTableSize int `toml:"min_table_size" yaml:"min_table_size"`
}

// Storage tunes object property storage growth.
type Storage struct {
	InlineCapacity    int `toml:"inline_capacity" yaml:"inline_capacity"`
	OutOfLineCapacity int `toml:"out_of_line_capacity" yaml:"out_of_line_capacity"`
}

// Cache tunes inline property caches.
type Cache struct {
	PolymorphicEntries int `toml:"polymorphic_entries" yaml:"polymorphic_entries"`
}

// Frames tunes the register file.
type Frames struct {
	RegisterFileSize int `toml:"register_file_size" yaml:"register_file_size"`
}

// Default returns the stock tunables.
func Default() Config {
	return Config{
		Shapes: Shapes{
			MaxTransitionLength: 64,
			SpecificThrashLimit: 3,
			MinTableSize:        16,
		},
		Storage: Storage{
			InlineCapacity:    4,
			OutOfLineCapacity: 16,
		},
		Cache: Cache{
			PolymorphicEntries: 4,
		},
		Frames: Frames{
			RegisterFileSize: 8192,
		},
	}
}

// Validate checks ranges.
func (c Config) Validate() error {
	var errs []error
	positive := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	positive("shapes.max_transition_length", c.Shapes.MaxTransitionLength)
	positive("shapes.min_table_size", c.Shapes.MinTableSize)
	positive("storage.inline_capacity", c.Storage.InlineCapacity)
	positive("storage.out_of_line_capacity", c.Storage.OutOfLineCapacity)
	positive("cache.polymorphic_entries", c.Cache.PolymorphicEntries)
	positive("frames.register_file_size", c.Frames.RegisterFileSize)
	if c.Shapes.SpecificThrashLimit < 0 {
		errs = append(errs, fmt.Errorf("shapes.specific_thrash_limit must not be negative, got %d", c.Shapes.SpecificThrashLimit))
	}
	if n := c.Shapes.MinTableSize; n > 0 && n&(n-1) != 0 {
		errs = append(errs, fmt.Errorf("shapes.min_table_size must be a power of two, got %d", n))
	}
	if c.Storage.OutOfLineCapacity < c.Storage.InlineCapacity {
		errs = append(errs, fmt.Errorf("storage.out_of_line_capacity (%d) is below storage.inline_capacity (%d)",
			c.Storage.OutOfLineCapacity, c.Storage.InlineCapacity))
	}
	return errors.Join(errs...)
}

// Load reads path as TOML or YAML depending on its extension. Keys absent
// from the file keep their default values.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		cfg, err = DecodeTOML(data)
	case ".yaml", ".yml":
		cfg, err = DecodeYAML(data)
	default:
		return Config{}, fmt.Errorf("%s: unsupported config extension (expected .toml, .yaml or .yml)", path)
	}
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// DecodeTOML decodes TOML over the defaults and validates the result.
func DecodeTOML(data []byte) (Config, error) {
	cfg := Default()
	meta, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse TOML: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DecodeYAML decodes YAML over the defaults and validates the result.
func DecodeYAML(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
