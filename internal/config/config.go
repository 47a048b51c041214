// This file defines the configuration structure for the application.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration settings for the application.
// It maps directly to the structure of config.yml.
type Config struct {
	Port     int `mapstructure:"port"`
	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`
	Log struct {
		Level  string `mapstructure:"level"`
		Pretty bool   `mapstructure:"pretty"`
	} `mapstructure:"log"`
	Scan      ScanConfig      `mapstructure:"scan"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// ScanConfig tunes the posts scan.
type ScanConfig struct {
	BatchSize        int           `mapstructure:"batch_size"`
	QueueTTL         time.Duration `mapstructure:"queue_ttl"`
	FollowUpDelay    time.Duration `mapstructure:"follow_up_delay"`
	LeaseTimeout     time.Duration `mapstructure:"lease_timeout"`
	ItemTimeout      time.Duration `mapstructure:"item_timeout"`
	MetaKey          string        `mapstructure:"meta_key"`
	DefaultPostTypes []string      `mapstructure:"default_post_types"`
}

// SchedulerConfig controls the recurring trigger. DailyAt is "HH:MM" in UTC.
type SchedulerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DailyAt string `mapstructure:"daily_at"`
}

// Default returns a Config populated with the built-in defaults.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("database.path", "./postscan.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("scan.batch_size", 20)
	v.SetDefault("scan.queue_ttl", "10m")
	v.SetDefault("scan.follow_up_delay", "60s")
	v.SetDefault("scan.lease_timeout", "30s")
	v.SetDefault("scan.item_timeout", "5s")
	v.SetDefault("scan.meta_key", "postscan_last_scan")
	v.SetDefault("scan.default_post_types", []string{"post", "page"})
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.daily_at", "03:00")
}

// Load reads configuration from a file named "config.yml" in the
// current directory and unmarshals it into a Config struct.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.AddConfigPath(".")

	// POSTSCAN_DATABASE_PATH overrides `database.path`.
	v.SetEnvPrefix("POSTSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the scan cannot run with.
func (c *Config) Validate() error {
	if c.Scan.BatchSize < 0 {
		return fmt.Errorf("scan.batch_size must not be negative, got %d", c.Scan.BatchSize)
	}
	if c.Scan.MetaKey == "" {
		return fmt.Errorf("scan.meta_key must not be empty")
	}
	if _, err := time.Parse("15:04", c.Scheduler.DailyAt); c.Scheduler.Enabled && err != nil {
		return fmt.Errorf("scheduler.daily_at must be HH:MM: %w", err)
	}
	return nil
}
