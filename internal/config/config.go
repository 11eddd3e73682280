// Package config loads the settings of the pupstore command.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. PUPSTORE_STORE_DSN.
const EnvPrefix = "pupstore"

type Config struct {
	Store     StoreConfig     `mapstructure:"store"`
	Polling   PollingConfig   `mapstructure:"polling"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type StoreConfig struct {
	// Driver is one of memory, sqlite, postgres or mysql.
	Driver         string `mapstructure:"driver"`
	DSN            string `mapstructure:"dsn"`
	Serializer     string `mapstructure:"serializer"`
	Compress       bool   `mapstructure:"compress"`
	PageSize       int    `mapstructure:"page_size"`
	TrackedStreams int    `mapstructure:"tracked_streams"`
}

type PollingConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	// Bucket restricts delivery to one bucket. Empty means every bucket.
	Bucket string `mapstructure:"bucket"`
}

type RelayConfig struct {
	Kafka KafkaConfig `mapstructure:"kafka"`
	AMQP  AMQPConfig  `mapstructure:"amqp"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type AMQPConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

type TelemetryConfig struct {
	Stdout bool `mapstructure:"stdout"`
}

var drivers = []string{"memory", "sqlite", "postgres", "mysql"}

// FlagKeys maps command-line flags to the config keys they override.
var FlagKeys = map[string]string{
	"driver": "store.driver",
	"dsn":    "store.dsn",
	"bucket": "polling.bucket",
}

// Load reads path, when not empty, and PUPSTORE_* environment variables on
// top of the defaults. Flags of FlagKeys found in flags take precedence when set.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		for name, key := range FlagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.serializer", "json")
	v.SetDefault("store.compress", false)
	v.SetDefault("store.page_size", 128)
	v.SetDefault("store.tracked_streams", 100)
	v.SetDefault("polling.interval", time.Second)
	v.SetDefault("polling.bucket", "")
	v.SetDefault("relay.kafka.brokers", []string{})
	v.SetDefault("relay.kafka.topic", "")
	v.SetDefault("relay.amqp.url", "")
	v.SetDefault("relay.amqp.exchange", "")
	v.SetDefault("telemetry.stdout", false)
}

func (c Config) Validate() error {
	if !slices.Contains(drivers, c.Store.Driver) {
		return fmt.Errorf("store.driver must be one of %s, got %q", strings.Join(drivers, ", "), c.Store.Driver)
	}
	if c.Store.Driver != "memory" && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required for driver %s", c.Store.Driver)
	}
	if c.Store.PageSize <= 0 {
		return errors.New("store.page_size must be positive")
	}
	if c.Polling.Interval <= 0 {
		return errors.New("polling.interval must be positive")
	}
	return nil
}
