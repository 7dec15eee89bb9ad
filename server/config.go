package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mhbvr/gallery"
	"github.com/mhbvr/gallery/bufpool"
	"github.com/mhbvr/gallery/job"
	"github.com/mhbvr/gallery/reload"
)

// Config is the server configuration. Every key can be set in the config
// file or through a GALLERY_ prefixed environment variable, e.g.
// GALLERY_DB_TYPE=pebble.
type Config struct {
	Verbose  bool   `mapstructure:"verbose"`
	HTTPAddr string `mapstructure:"http_addr"`
	GRPCAddr string `mapstructure:"grpc_addr"`

	DB struct {
		Type string `mapstructure:"type"`
		Path string `mapstructure:"path"`
	} `mapstructure:"db"`

	Cache struct {
		Type    string `mapstructure:"type"`
		Path    string `mapstructure:"path"`
		Entries int    `mapstructure:"entries"`
	} `mapstructure:"cache"`

	Pool struct {
		Capacity   int    `mapstructure:"capacity"`
		BufferSize int    `mapstructure:"buffer_size"`
		Policy     string `mapstructure:"policy"`
	} `mapstructure:"pool"`

	Jobs struct {
		MaxInFlight int `mapstructure:"max_in_flight"`
	} `mapstructure:"jobs"`

	Sizes struct {
		Thumbnail int `mapstructure:"thumbnail"`
		Micro     int `mapstructure:"micro"`
	} `mapstructure:"sizes"`

	Reload struct {
		Delay time.Duration `mapstructure:"delay"`
	} `mapstructure:"reload"`

	Tracing struct {
		Service     string  `mapstructure:"service"`
		SampleRatio float64 `mapstructure:"sample_ratio"`
	} `mapstructure:"tracing"`

	LoadReport struct {
		Threshold int `mapstructure:"threshold"`
	} `mapstructure:"load_report"`
}

var configKeys = map[string]interface{}{
	"verbose":               false,
	"http_addr":             ":8080",
	"grpc_addr":             ":8081",
	"db.type":               "bolt",
	"db.path":               "gallery.db",
	"cache.type":            "memory",
	"cache.path":            "",
	"cache.entries":         1024,
	"pool.capacity":         bufpool.DefaultCapacity,
	"pool.buffer_size":      bufpool.DefaultBufferSize,
	"pool.policy":           bufpool.Block.String(),
	"jobs.max_in_flight":    job.DefaultMaxInFlight,
	"sizes.thumbnail":       gallery.ThumbnailTargetSize,
	"sizes.micro":           gallery.MicroThumbnailTargetSize,
	"reload.delay":          reload.DefaultDelay,
	"tracing.service":       "gallery",
	"tracing.sample_ratio":  1.0,
	"load_report.threshold": 10,
}

// LoadConfig reads the defaults, then the optional config file at path,
// then the environment.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	for key, value := range configKeys {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix("GALLERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DB.Type {
	case "filetree", "bolt", "pebble":
	default:
		return fmt.Errorf("unknown database type: %s (must be 'filetree', 'bolt', or 'pebble')", c.DB.Type)
	}
	switch c.Cache.Type {
	case "none":
	case "memory":
		if c.Cache.Entries <= 0 {
			return fmt.Errorf("cache.entries must be positive for a memory cache, got %d", c.Cache.Entries)
		}
	case "bolt":
		if c.Cache.Path == "" {
			return fmt.Errorf("cache.path is required for a bolt cache")
		}
	default:
		return fmt.Errorf("unknown cache type: %s (must be 'memory', 'bolt', or 'none')", c.Cache.Type)
	}
	if _, err := bufpool.ParsePolicy(c.Pool.Policy); err != nil {
		return err
	}
	if c.Sizes.Thumbnail <= 0 || c.Sizes.Micro <= 0 {
		return fmt.Errorf("sizes must be positive, got %d/%d", c.Sizes.Thumbnail, c.Sizes.Micro)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1], got %v", c.Tracing.SampleRatio)
	}
	if c.Reload.Delay < 0 {
		return fmt.Errorf("reload.delay must not be negative")
	}
	return nil
}
