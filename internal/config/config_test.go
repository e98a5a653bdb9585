package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Concurrency)
	assert.Equal(t, 50, cfg.SplitMB)
	assert.Equal(t, uint64(50*1024*1024), cfg.PartSize())
	assert.Equal(t, uint64(DefaultDirectThreshold), cfg.DirectThreshold)
	assert.Equal(t, uint64(100*1024*1024), cfg.DirectThreshold,
		"default threshold must leave multipart engaged for large objects")
	assert.Equal(t, uint(3), cfg.RetryAttempts)
	assert.Equal(t, time.Second, cfg.RetryInterval)
	assert.False(t, cfg.Force)
}

func TestLoad_FlagsOverrideDefaults(t *testing.T) {
	fs := pflag.NewFlagSet("upload", pflag.ContinueOnError)
	fs.IntP("concurrency", "n", 2, "")
	fs.IntP("split", "s", 50, "")
	fs.BoolP("force", "f", false, "")
	require.NoError(t, fs.Parse([]string{"-n", "8", "-s", "64", "-f"}))

	cfg, err := Load(fs)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, 64, cfg.SplitMB)
	assert.True(t, cfg.Force)
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("S3MP_CONCURRENCY", "6")
	t.Setenv("S3MP_RETRY_ATTEMPTS", "5")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Concurrency)
	assert.Equal(t, uint(5), cfg.RetryAttempts)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "zero concurrency",
			mutate:  func(c *Config) { c.Concurrency = 0 },
			wantErr: "concurrency",
		},
		{
			name:    "split below service minimum",
			mutate:  func(c *Config) { c.SplitMB = 4 },
			wantErr: "service minimum",
		},
		{
			name:    "zero retry attempts",
			mutate:  func(c *Config) { c.RetryAttempts = 0 },
			wantErr: "retry-attempts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Concurrency: 2, SplitMB: 50, RetryAttempts: 3}
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
