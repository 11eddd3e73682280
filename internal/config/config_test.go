package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "json", cfg.Store.Serializer)
	assert.Equal(t, 128, cfg.Store.PageSize)
	assert.Equal(t, 100, cfg.Store.TrackedStreams)
	assert.Equal(t, time.Second, cfg.Polling.Interval)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pupstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  driver: sqlite
  dsn: /var/lib/pupstore.db
  serializer: bson
  compress: true
polling:
  interval: 250ms
relay:
  kafka:
    brokers: [localhost:9092]
    topic: commits
`), 0o600))
	t.Setenv("PUPSTORE_POLLING_BUCKET", "tenant-1")
	t.Setenv("PUPSTORE_STORE_PAGE_SIZE", "16")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "/var/lib/pupstore.db", cfg.Store.DSN)
	assert.Equal(t, "bson", cfg.Store.Serializer)
	assert.True(t, cfg.Store.Compress)
	assert.Equal(t, 16, cfg.Store.PageSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Polling.Interval)
	assert.Equal(t, "tenant-1", cfg.Polling.Bucket)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Relay.Kafka.Brokers)
	assert.Equal(t, "commits", cfg.Relay.Kafka.Topic)
}

func TestValidate(t *testing.T) {
	valid := Config{
		Store:   StoreConfig{Driver: "memory", PageSize: 1},
		Polling: PollingConfig{Interval: time.Second},
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Store.Driver = "oracle" }},
		{"missing dsn", func(c *Config) { c.Store.Driver = "postgres" }},
		{"page size", func(c *Config) { c.Store.PageSize = 0 }},
		{"interval", func(c *Config) { c.Polling.Interval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_FlagsTakePrecedence(t *testing.T) {
	t.Setenv("PUPSTORE_STORE_DRIVER", "postgres")
	t.Setenv("PUPSTORE_STORE_DSN", "postgres://localhost/pupstore")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("driver", "", "")
	flags.String("dsn", "", "")
	require.NoError(t, flags.Parse([]string{"--driver", "sqlite", "--dsn", "commits.db"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "commits.db", cfg.Store.DSN)

	unset := pflag.NewFlagSet("test", pflag.ContinueOnError)
	unset.String("driver", "", "")
	cfg, err = Load("", unset)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Store.Driver, "an unset flag leaves the environment in charge")
}
