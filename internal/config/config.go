// Package config loads orchestrator configuration from an optional YAML file
// and the environment.
package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the configuration for the orchestrator process.
type Config struct {
	Redis struct {
		URL            string `mapstructure:"url"`
		MaxConnections int    `mapstructure:"max_connections"`
	} `mapstructure:"redis"`

	Channels struct {
		Action        string `mapstructure:"action"`
		Generation    string `mapstructure:"generation"`
		Review        string `mapstructure:"review"`
		Notifications string `mapstructure:"notifications"`
		Updates       string `mapstructure:"updates"`
	} `mapstructure:"channels"`

	Workflow struct {
		MaxRetries            int `mapstructure:"max_retries"`
		StepTimeoutSeconds    int `mapstructure:"step_timeout_seconds"`
		BackoffCeilingSeconds int `mapstructure:"backoff_ceiling_seconds"`
	} `mapstructure:"workflow"`

	Journal struct {
		// Path of the SQLite event journal; empty disables journaling.
		Path string `mapstructure:"path"`
	} `mapstructure:"journal"`

	LogLevel string `mapstructure:"log_level"`
}

// Load reads config.yaml (from the working directory or ./config) when
// present and applies CHATFLOW_* environment overrides on top of defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("chatflow")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.max_connections", 10)
	v.SetDefault("channels.action", "action_requests")
	v.SetDefault("channels.generation", "generation_requests")
	v.SetDefault("channels.review", "review_requests")
	v.SetDefault("channels.notifications", "final_notifications")
	v.SetDefault("channels.updates", "operation_updates")
	v.SetDefault("workflow.max_retries", 3)
	v.SetDefault("workflow.step_timeout_seconds", 300)
	v.SetDefault("workflow.backoff_ceiling_seconds", 0)
	v.SetDefault("journal.path", "")
	v.SetDefault("log_level", "info")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		// No config file is fine; defaults and environment apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
