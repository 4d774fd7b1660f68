// Package config holds the functional-options and YAML-key-map
// configuration surface for an HNSW index, following the prior version's
// libravdb/options.go functional-options shape.
package config

import (
	"fmt"
	"math"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/codingwatching/zvec-sub004/internal/kernel"
)

// Config is the builder/searcher parameter set named in of the
// specification: hnsw.builder.* and hnsw.searcher.* configuration keys.
type Config struct {
	Dimension int
	ElementType kernel.ElementType
	MetricName string

	M int
	M0 int
	EfConstruction int
	MaxLevel int
	Seed uint64
	ThreadCount int

	EfSearch int
	BruteForceThreshold int
	InvertToForwardRatio float64
	BruteForceByKeysRatio float64

	MemoryLimitBytes int64
}

// Option mutates a Config during construction, matching the prior version's
// `Option func(*Config) error` convention.
type Option func(*Config) error

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		ElementType: kernel.FP32,
		MetricName: "InnerProduct",
		M: 16,
		M0: 32,
		EfConstruction: 200,
		MaxLevel: 16,
		Seed: 0,
		ThreadCount: runtime.GOMAXPROCS(0),
		EfSearch: 32,
		BruteForceThreshold: 1000,
		InvertToForwardRatio: 0,
		BruteForceByKeysRatio: 0,
		MemoryLimitBytes: 0,
	}
}

// New applies opts over the default configuration.
func New(opts ...Option) (*Config, error) {
	cfg := Default()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("apply config option: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func WithDimension(d int) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("dimension must be positive, got %d", d)
		}
		c.Dimension = d
		return nil
	}
}

func WithElementType(t kernel.ElementType) Option {
	return func(c *Config) error { c.ElementType = t; return nil }
}

func WithMetric(name string) Option {
	return func(c *Config) error {
		if name == "" {
			return fmt.Errorf("metric name must not be empty")
		}
		c.MetricName = name
		return nil
	}
}

func WithHNSW(m, efConstruction, efSearch int) Option {
	return func(c *Config) error {
		if m <= 0 {
			return fmt.Errorf("M must be positive, got %d", m)
		}
		c.M = m
		c.M0 = 2 * m
		c.EfConstruction = efConstruction
		c.EfSearch = efSearch
		return nil
	}
}

func WithSeed(seed uint64) Option {
	return func(c *Config) error { c.Seed = seed; return nil }
}

func WithThreadCount(n int) Option {
	return func(c *Config) error {
		if n <= 0 {
			return fmt.Errorf("thread count must be positive, got %d", n)
		}
		c.ThreadCount = n
		return nil
	}
}

func WithBruteForceThreshold(n int) Option {
	return func(c *Config) error { c.BruteForceThreshold = n; return nil }
}

func WithMemoryLimitBytes(n int64) Option {
	return func(c *Config) error { c.MemoryLimitBytes = n; return nil }
}

// Validate checks the invariants the builder/searcher assume hold.
func (c *Config) Validate() error {
	if c.Dimension <= 0 {
		return fmt.Errorf("dimension must be positive, got %d", c.Dimension)
	}
	if c.M <= 0 {
		return fmt.Errorf("M must be positive, got %d", c.M)
	}
	if c.M0 <= 0 {
		c.M0 = 2 * c.M
	}
	if c.EfConstruction <= 0 {
		return fmt.Errorf("EfConstruction must be positive, got %d", c.EfConstruction)
	}
	if c.EfSearch <= 0 {
		return fmt.Errorf("EfSearch must be positive, got %d", c.EfSearch)
	}
	if c.MaxLevel <= 0 {
		c.MaxLevel = 16
	}
	if c.ThreadCount <= 0 {
		c.ThreadCount = runtime.GOMAXPROCS(0)
	}
	if c.InvertToForwardRatio < 0 || c.InvertToForwardRatio > 1 {
		return fmt.Errorf("invert_to_forward_scan_ratio must be in [0,1], got %f", c.InvertToForwardRatio)
	}
	if c.BruteForceByKeysRatio < 0 || c.BruteForceByKeysRatio > 1 {
		return fmt.Errorf("brute_force_by_keys_ratio must be in [0,1], got %f", c.BruteForceByKeysRatio)
	}
	return nil
}

// ML returns the level-generation factor 1/ln(M) used by the level draw.
func (c *Config) ML() float64 {
	return 1.0 / math.Log(float64(c.M))
}

// yamlDoc mirrors the dotted configuration keys as a nested YAML
// document, e.g.:
//
//	hnsw:
//	  builder:
//	    M: 16
//	    ef_construction: 200
//	  searcher:
//	    ef_search: 32
type yamlDoc struct {
	HNSW struct {
		Builder struct {
			M int `yaml:"M"`
			M0 int `yaml:"M0"`
			EfConstruction int `yaml:"ef_construction"`
			MaxLevel int `yaml:"max_level"`
			Seed uint64 `yaml:"seed"`
			ThreadCount int `yaml:"thread_count"`
		} `yaml:"builder"`
		Searcher struct {
			EfSearch int `yaml:"ef_search"`
			BruteForceThreshold int `yaml:"brute_force_threshold"`
			InvertToForwardRatio float64 `yaml:"invert_to_forward_scan_ratio"`
			BruteForceByKeysRatio float64 `yaml:"brute_force_by_keys_ratio"`
		} `yaml:"searcher"`
	} `yaml:"hnsw"`
}

// LoadYAML parses a configuration document of the dotted keys into
// a Config, starting from Default for any key left unset.
func LoadYAML(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return ParseYAML(raw)
}

// ParseYAML parses in-memory YAML bytes into a Config.
func ParseYAML(raw []byte) (*Config, error) {
	var doc yamlDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg := Default()
	b := doc.HNSW.Builder
	if b.M > 0 {
		cfg.M = b.M
		cfg.M0 = 2 * b.M
	}
	if b.M0 > 0 {
		cfg.M0 = b.M0
	}
	if b.EfConstruction > 0 {
		cfg.EfConstruction = b.EfConstruction
	}
	if b.MaxLevel > 0 {
		cfg.MaxLevel = b.MaxLevel
	}
	cfg.Seed = b.Seed
	if b.ThreadCount > 0 {
		cfg.ThreadCount = b.ThreadCount
	}
	s := doc.HNSW.Searcher
	if s.EfSearch > 0 {
		cfg.EfSearch = s.EfSearch
	}
	if s.BruteForceThreshold > 0 {
		cfg.BruteForceThreshold = s.BruteForceThreshold
	}
	cfg.InvertToForwardRatio = s.InvertToForwardRatio
	cfg.BruteForceByKeysRatio = s.BruteForceByKeysRatio
	return cfg, cfg.Validate()
}
