// Package config loads process configuration from the environment and
// the optional whiteboard configuration file.
package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all process configuration.
type Config struct {
	Server     ServerConfig
	Logging    LogConfig
	RateLimit  RateLimitConfig
	CORS       CORSConfig
	Whiteboard WhiteboardFileConfig
}

// ServerConfig holds the serving runtime's listener settings.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds per-client rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// CORSConfig toggles the permissive CORS middleware.
type CORSConfig struct {
	Enabled bool `envconfig:"CORS_ENABLED" default:"true"`
}

// WhiteboardFileConfig points at the optional YAML file declaring named
// whiteboard contexts. Without one only the default context runs.
type WhiteboardFileConfig struct {
	File string `envconfig:"WHITEBOARD_CONFIG" default:""`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
			Host: "0.0.0.0",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		CORS: CORSConfig{Enabled: true},
	}
}

// WhiteboardConfig declares one whiteboard context.
type WhiteboardConfig struct {
	Name   string `yaml:"name"`
	Target string `yaml:"target"`
	Base   string `yaml:"base"`
}

type whiteboardFile struct {
	Whiteboards []WhiteboardConfig `yaml:"whiteboards"`
}

// LoadWhiteboards reads the named context declarations from a YAML file.
// An empty path yields just the default context.
func LoadWhiteboards(path string) ([]WhiteboardConfig, error) {
	if path == "" {
		return []WhiteboardConfig{{Name: "default"}}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read whiteboard config: %w", err)
	}
	var file whiteboardFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse whiteboard config %s: %w", path, err)
	}
	if len(file.Whiteboards) == 0 {
		return []WhiteboardConfig{{Name: "default"}}, nil
	}

	seen := make(map[string]bool, len(file.Whiteboards))
	for i := range file.Whiteboards {
		if file.Whiteboards[i].Name == "" {
			file.Whiteboards[i].Name = "default"
		}
		name := file.Whiteboards[i].Name
		if seen[name] {
			return nil, fmt.Errorf("whiteboard config %s: duplicate context %q", path, name)
		}
		seen[name] = true
	}
	// Named contexts run in addition to the default one, never instead
	// of it; a file entry named "default" overrides its settings.
	if !seen["default"] {
		file.Whiteboards = append(file.Whiteboards, WhiteboardConfig{Name: "default"})
	}
	return file.Whiteboards, nil
}
