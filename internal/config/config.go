// Package config loads tool configuration from defaults, an optional
// s3mp.yaml file, S3MP_* environment variables, and bound command-line
// flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Service constants for AWS S3 multipart uploads.
const (
	// MinPartSize is the service minimum for non-final parts (5 MiB).
	MinPartSize = 5 * 1024 * 1024

	// DefaultDirectThreshold is the size at or under which whole-object
	// transfer is used instead of multipart (100 MB).
	DefaultDirectThreshold = 100 * 1024 * 1024

	// MaxSimpleCopySize is the service limit for a single CopyObject call
	// (5 GiB). Copies above it must go multipart regardless of the
	// configured threshold.
	MaxSimpleCopySize = 5 * 1024 * 1024 * 1024
)

// Config holds one invocation's settings.
type Config struct {
	// Concurrency is the number of concurrent part transfers.
	Concurrency int `mapstructure:"concurrency"`

	// SplitMB is the target part size in megabytes.
	SplitMB int `mapstructure:"split"`

	// DirectThreshold is the whole-object transfer cutoff in bytes.
	DirectThreshold uint64 `mapstructure:"direct-threshold"`

	// RetryAttempts is the per-part attempt budget, counting the first try.
	RetryAttempts uint `mapstructure:"retry-attempts"`

	// RetryInterval is the fixed delay between part retry attempts.
	RetryInterval time.Duration `mapstructure:"retry-interval"`

	// Region selects the AWS region; empty uses the SDK credential chain.
	Region string `mapstructure:"region"`

	// Endpoint overrides the S3 endpoint for S3-compatible services.
	Endpoint string `mapstructure:"endpoint"`

	// PathStyle forces path-style addressing (needed by some S3 clones).
	PathStyle bool `mapstructure:"path-style"`

	// Force allows overwriting an existing destination.
	Force bool `mapstructure:"force"`

	// ReducedRedundancy selects REDUCED_REDUNDANCY storage for new objects.
	ReducedRedundancy bool `mapstructure:"reduced-redundancy"`

	// Verbose enables debug logging.
	Verbose bool `mapstructure:"verbose"`
}

// PartSize returns the target part size in bytes.
func (c *Config) PartSize() uint64 {
	return uint64(c.SplitMB) * 1024 * 1024
}

// Validate rejects settings no transfer could run with.
func (c *Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.PartSize() < MinPartSize {
		return fmt.Errorf("split size %dMB is below the %dMB service minimum",
			c.SplitMB, MinPartSize/(1024*1024))
	}
	if c.RetryAttempts == 0 {
		return errors.New("retry-attempts must be at least 1")
	}
	return nil
}

// Load builds the configuration. Flags already parsed into fs take
// precedence over environment variables, which take precedence over an
// optional s3mp.yaml in the working directory or $HOME.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.SetDefault("concurrency", 2)
	v.SetDefault("split", 50)
	v.SetDefault("direct-threshold", uint64(DefaultDirectThreshold))
	v.SetDefault("retry-attempts", 3)
	v.SetDefault("retry-interval", time.Second)
	v.SetDefault("region", "")
	v.SetDefault("endpoint", "")
	v.SetDefault("path-style", false)
	v.SetDefault("force", false)
	v.SetDefault("reduced-redundancy", false)
	v.SetDefault("verbose", false)

	v.SetEnvPrefix("S3MP")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("s3mp")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
