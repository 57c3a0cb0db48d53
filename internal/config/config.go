// Sentinelgate - Threat Detection and Incident Response Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinelgate

// Package config defines the engine's configuration and its layered loader:
// built-in defaults, an optional YAML file, then environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the full engine configuration.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Store   StoreConfig   `koanf:"store"`
	Geo     GeoConfig     `koanf:"geo"`
	NATS    NATSConfig    `koanf:"nats"`
	Rules   RulesConfig   `koanf:"rules"`
	Logging LoggingConfig `koanf:"logging"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"min=1s"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"min=1s"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"min=1s"`

	// RateLimitRequests per RateLimitWindow per client IP; 0 disables.
	RateLimitRequests int           `koanf:"rate_limit_requests" validate:"min=0"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
}

// StoreConfig configures the durable KV store.
type StoreConfig struct {
	// Path is the Badger data directory. Ignored when InMemory is set.
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`

	// GCInterval controls Badger value-log garbage collection.
	GCInterval time.Duration `koanf:"gc_interval" validate:"min=1m"`
}

// GeoConfig configures the geolocation resolver.
type GeoConfig struct {
	Enabled bool `koanf:"enabled"`

	// Endpoint is the lookup service base URL; the source address is
	// appended as the final path element.
	Endpoint string        `koanf:"endpoint" validate:"omitempty,url"`
	Timeout  time.Duration `koanf:"timeout" validate:"min=100ms"`
}

// NATSConfig configures the optional JetStream mirror of the notification
// bus.
type NATSConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// RulesConfig configures the threat rule set.
type RulesConfig struct {
	// WebhookURL is wired into the built-in credential-access rule.
	WebhookURL string `koanf:"webhook_url" validate:"omitempty,url"`

	// Path optionally points to a YAML file of rule definitions that
	// replaces the built-in set.
	Path string `koanf:"path"`
}

// LoggingConfig configures zerolog output.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration with struct tags plus cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	if !c.Store.InMemory && c.Store.Path == "" {
		return fmt.Errorf("config validation: store.path required unless store.in_memory is set")
	}
	if c.Server.RateLimitRequests > 0 && c.Server.RateLimitWindow <= 0 {
		return fmt.Errorf("config validation: server.rate_limit_window required when rate limiting is enabled")
	}
	if c.Geo.Enabled && c.Geo.Endpoint == "" {
		return fmt.Errorf("config validation: geo.endpoint required when geo.enabled is set")
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("config validation: nats.url required when nats.enabled is set")
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
