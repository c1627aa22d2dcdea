// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config holds the application configuration.
type Config struct {
	SlackBotToken      string   `env:"SLACK_BOT_TOKEN,notEmpty"`
	SlackSigningSecret string   `env:"SLACK_SIGNING_SECRET"`
	DatabaseURL        string   `env:"DATABASE_URL" envDefault:"./data/bot.db"`
	ListenAddr         string   `env:"LISTEN_ADDR" envDefault:":8080"`
	LogLevel           string   `env:"LOG_LEVEL" envDefault:"info"`
	Workers            int      `env:"WORKERS" envDefault:"4"`
	QueueSize          int      `env:"QUEUE_SIZE" envDefault:"256"`
	NotifyConcurrency  int      `env:"NOTIFY_CONCURRENCY" envDefault:"8"`
	AllowedUsers       []string `env:"ALLOWED_USERS"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	var users []string
	for _, u := range cfg.AllowedUsers {
		if u = strings.TrimSpace(u); u != "" {
			users = append(users, u)
		}
	}
	cfg.AllowedUsers = users

	switch {
	case cfg.Workers < 1:
		return nil, fmt.Errorf("WORKERS must be positive, got %d", cfg.Workers)
	case cfg.QueueSize < 1:
		return nil, fmt.Errorf("QUEUE_SIZE must be positive, got %d", cfg.QueueSize)
	case cfg.NotifyConcurrency < 1:
		return nil, fmt.Errorf("NOTIFY_CONCURRENCY must be positive, got %d", cfg.NotifyConcurrency)
	}

	return &cfg, nil
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID string) bool {
	return len(c.AllowedUsers) == 0 || slices.Contains(c.AllowedUsers, userID)
}
