// Package config loads go-pathsync settings from the environment.
package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/teslashibe/go-pathsync/pkg/tracking"
)

// Config holds every setting for the collector and the simulator.
type Config struct {
	// Collector
	ServerPort    string `mapstructure:"SERVER_PORT"`
	PostgresURL   string `mapstructure:"POSTGRES_URL"`
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	Debug         bool   `mapstructure:"DEBUG"`

	// Tracker client
	CollectorURL string `mapstructure:"COLLECTOR_URL"`
	SessionID    string `mapstructure:"SESSION_ID"`
	UserID       string `mapstructure:"USER_ID"`
	OutageURL    string `mapstructure:"OUTAGE_URL"`

	// Logging
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	// Tracking timing
	TickInterval   time.Duration `mapstructure:"TICK_INTERVAL"`
	SampleInterval time.Duration `mapstructure:"SAMPLE_INTERVAL"`
	FlushInterval  time.Duration `mapstructure:"FLUSH_INTERVAL"`
	AckTimeout     time.Duration `mapstructure:"ACK_TIMEOUT"`
}

// Load reads the configuration from environment variables, falling back to
// development defaults.
func Load() Config {
	v := viper.New()
	v.AutomaticEnv()

	def := tracking.DefaultConfig()
	v.SetDefault("SERVER_PORT", ":8080")
	v.SetDefault("POSTGRES_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("DEBUG", false)
	v.SetDefault("COLLECTOR_URL", "ws://localhost:8080")
	v.SetDefault("SESSION_ID", "")
	v.SetDefault("USER_ID", "")
	v.SetDefault("OUTAGE_URL", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "")
	v.SetDefault("TICK_INTERVAL", def.TickInterval)
	v.SetDefault("SAMPLE_INTERVAL", def.SampleInterval)
	v.SetDefault("FLUSH_INTERVAL", def.FlushInterval)
	v.SetDefault("ACK_TIMEOUT", def.AckTimeout)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return cfg
}

// TrackingConfig returns the tracker defaults with the timing overrides
// applied. Zero durations keep the default.
func (c Config) TrackingConfig() tracking.Config {
	tc := tracking.DefaultConfig()
	if c.TickInterval > 0 {
		tc.TickInterval = c.TickInterval
	}
	if c.SampleInterval > 0 {
		tc.SampleInterval = c.SampleInterval
	}
	if c.FlushInterval > 0 {
		tc.FlushInterval = c.FlushInterval
	}
	if c.AckTimeout > 0 {
		tc.AckTimeout = c.AckTimeout
	}
	return tc
}
