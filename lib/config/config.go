// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the lake's configuration.
//
// Configuration comes from a single YAML file named by the CDL_CONFIG
// environment variable or the --config flag; without either, the
// defaults apply. Files ending in .json or .jsonc are accepted too
// (comments and trailing commas allowed). String values may reference
// environment variables as ${VAR} or ${VAR:-default}; the defaults use
// this to pick up the standard AWS variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Config is the complete lake configuration.
type Config struct {
	Paths PathsConfig `yaml:"paths"`
	Cache CacheConfig `yaml:"cache"`
	Copy  CopyConfig  `yaml:"copy"`
	Retry RetryConfig `yaml:"retry"`
	S3    S3Config    `yaml:"s3"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// State holds one catalog database per opened namespace.
	State string `yaml:"state"`
}

// CacheConfig configures the shared byte cache.
type CacheConfig struct {
	// MaxSize is the capacity. 0 disables retention.
	MaxSize ByteSize `yaml:"max_size"`

	// MaxConcurrentFetches bounds backend fetches across all keys.
	MaxConcurrentFetches int `yaml:"max_concurrent_fetches"`

	// MinObjectSize keeps smaller objects out of the cache.
	MinObjectSize ByteSize `yaml:"min_object_size"`
}

// CopyConfig configures copy_to.
type CopyConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// RetryConfig bounds retries of transient backend failures.
type RetryConfig struct {
	MaxAttempts int      `yaml:"max_attempts"`
	BaseDelay   Duration `yaml:"base_delay"`
	MaxDelay    Duration `yaml:"max_delay"`
}

// S3Config configures s3:// and s3a:// backends.
type S3Config struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`

	// PathStyle addresses buckets as a path component rather than a
	// subdomain, as most self-hosted object stores require.
	PathStyle bool `yaml:"path_style"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			State: "${XDG_STATE_HOME:-${HOME}/.local/state}/cdl",
		},
		Cache: CacheConfig{
			MaxSize:              1 << 30,
			MaxConcurrentFetches: 16,
		},
		Copy: CopyConfig{Concurrency: 8},
		Retry: RetryConfig{
			MaxAttempts: 5,
			BaseDelay:   Duration(100 * time.Millisecond),
			MaxDelay:    Duration(5 * time.Second),
		},
		S3: S3Config{
			Endpoint:        "${AWS_ENDPOINT_URL:-http://object-storage}",
			Region:          "${AWS_REGION:-auto}",
			AccessKeyID:     "${AWS_ACCESS_KEY_ID}",
			SecretAccessKey: "${AWS_SECRET_ACCESS_KEY}",
			PathStyle:       true,
		},
	}
}

// Load loads the file named by CDL_CONFIG, or the defaults when it is
// unset.
func Load() (*Config, error) {
	if path := os.Getenv("CDL_CONFIG"); path != "" {
		return LoadFile(path)
	}
	cfg := Default()
	cfg.expandVariables()
	return cfg, nil
}

// LoadFile loads configuration from path over the defaults. Fields the
// file does not mention keep their default values.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// JSON is a subset of YAML once comments are gone.
		data = jsonc.ToJSON(data)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) expandVariables() {
	c.Paths.State = expandVars(c.Paths.State)
	c.S3.Endpoint = expandVars(c.S3.Endpoint)
	c.S3.Region = expandVars(c.S3.Region)
	c.S3.AccessKeyID = expandVars(c.S3.AccessKeyID)
	c.S3.SecretAccessKey = expandVars(c.S3.SecretAccessKey)
}

var varPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^{}]*))?\}`)

// maxExpansionDepth bounds nested ${...} references.
const maxExpansionDepth = 8

// expandVars expands ${VAR} and ${VAR:-default}, innermost first, so a
// default may itself reference a variable.
func expandVars(s string) string {
	for range maxExpansionDepth {
		expanded := varPattern.ReplaceAllStringFunc(s, func(match string) string {
			parts := varPattern.FindStringSubmatch(match)
			if value := os.Getenv(parts[1]); value != "" {
				return value
			}
			return parts[2]
		})
		if expanded == s {
			return expanded
		}
		s = expanded
	}
	return s
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Paths.State == "" {
		errs = append(errs, errors.New("paths.state is required"))
	}
	if c.Cache.MaxSize < 0 {
		errs = append(errs, errors.New("cache.max_size must not be negative"))
	}
	if c.Cache.MinObjectSize < 0 {
		errs = append(errs, errors.New("cache.min_object_size must not be negative"))
	}
	if c.Cache.MaxConcurrentFetches < 1 {
		errs = append(errs, errors.New("cache.max_concurrent_fetches must be at least 1"))
	}
	if c.Copy.Concurrency < 1 {
		errs = append(errs, errors.New("copy.concurrency must be at least 1"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be at least 1"))
	}
	if c.Retry.BaseDelay <= 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		errs = append(errs, errors.New("retry delays must satisfy 0 < base_delay <= max_delay"))
	}
	if (c.S3.AccessKeyID == "") != (c.S3.SecretAccessKey == "") {
		errs = append(errs, errors.New("s3.access_key_id and s3.secret_access_key must be set together"))
	}

	return errors.Join(errs...)
}

// EnsurePaths creates the configured directories.
func (c *Config) EnsurePaths() error {
	if err := os.MkdirAll(c.Paths.State, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", c.Paths.State, err)
	}
	return nil
}

// ByteSize is a byte count that reads from YAML as a plain integer or
// with a binary unit suffix: "512MiB", "2GiB", "64k".
type ByteSize int64

var byteUnits = map[string]int64{
	"":  1,
	"b": 1,
	"k": 1 << 10, "kb": 1 << 10, "kib": 1 << 10,
	"m": 1 << 20, "mb": 1 << 20, "mib": 1 << 20,
	"g": 1 << 30, "gb": 1 << 30, "gib": 1 << 30,
	"t": 1 << 40, "tb": 1 << 40, "tib": 1 << 40,
}

// ParseByteSize parses the textual forms ByteSize accepts.
func ParseByteSize(text string) (ByteSize, error) {
	text = strings.TrimSpace(text)
	split := strings.IndexFunc(text, func(r rune) bool {
		return (r < '0' || r > '9') && r != '-'
	})
	number, unit := text, ""
	if split >= 0 {
		number, unit = text[:split], strings.ToLower(strings.TrimSpace(text[split:]))
	}
	value, err := strconv.ParseInt(number, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q", text)
	}
	multiplier, ok := byteUnits[unit]
	if !ok {
		return 0, fmt.Errorf("invalid byte size unit %q", unit)
	}
	return ByteSize(value * multiplier), nil
}

func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseByteSize(node.Value)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// Duration is a time.Duration that reads from YAML as "250ms", "5s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) String() string { return time.Duration(d).String() }
