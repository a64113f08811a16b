// Package config loads the server's tunable parameters from the
// environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
)

// Config lists the tunable parameters for the Item Reminder server.
type Config struct {
	HTTPPort     int    `env:"ITEMREMINDER_HTTP_PORT" envDefault:"8080"`
	DatabasePath string `env:"ITEMREMINDER_DATABASE_PATH" envDefault:"data/itemreminder.db"`
	LogLevel     string `env:"ITEMREMINDER_LOG_LEVEL" envDefault:"info"`

	MQTTBrokerURL string `env:"ITEMREMINDER_MQTT_BROKER" envDefault:"tcp://localhost:1883"`
	MQTTUsername  string `env:"ITEMREMINDER_MQTT_USER"`
	MQTTPassword  string `env:"ITEMREMINDER_MQTT_PASSWORD"`
	WeightTopic   string `env:"ITEMREMINDER_WEIGHT_TOPIC" envDefault:"itemreminder/weight"`
	StatusTopic   string `env:"ITEMREMINDER_STATUS_TOPIC" envDefault:"itemreminder/status"`
	CommandTopic  string `env:"ITEMREMINDER_COMMAND_TOPIC" envDefault:"itemreminder/command"`

	FCMServerKey   string `env:"ITEMREMINDER_FCM_SERVER_KEY"`
	SendGridAPIKey string `env:"ITEMREMINDER_SENDGRID_API_KEY"`
	FromEmail      string `env:"ITEMREMINDER_FROM_EMAIL" envDefault:"alerts@itemreminder.local"`
	FromName       string `env:"ITEMREMINDER_FROM_NAME" envDefault:"Item Reminder"`

	MDNSEnabled bool `env:"ITEMREMINDER_MDNS" envDefault:"true"`

	AlertRetention   time.Duration `env:"ITEMREMINDER_ALERT_RETENTION" envDefault:"720h"`
	ReadingRetention time.Duration `env:"ITEMREMINDER_READING_RETENTION" envDefault:"2160h"`
	PurgeInterval    time.Duration `env:"ITEMREMINDER_PURGE_INTERVAL" envDefault:"1h"`
}

// Load parses configuration from environment variables, falling back to
// defaults.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.HTTPPort < 1 || cfg.HTTPPort > 65535 {
		return Config{}, fmt.Errorf("invalid ITEMREMINDER_HTTP_PORT: %d", cfg.HTTPPort)
	}

	return cfg, nil
}
