package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete chat relay configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Liveness LivenessConfig `yaml:"liveness"`
	HTTP     HTTPConfig     `yaml:"http"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains UDP relay configuration
type ServerConfig struct {
	UDPPort     int    `yaml:"udp_port"`
	BindAddress string `yaml:"bind_address"`
	BufferSize  int    `yaml:"buffer_size"`
	MaxSessions int    `yaml:"max_sessions"`
}

// LivenessConfig contains the keepalive schedule
type LivenessConfig struct {
	PingInterval    int `yaml:"ping_interval"`    // seconds
	EvictionTimeout int `yaml:"eviction_timeout"` // seconds
}

// HTTPConfig contains HTTP admin API configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used when no file overrides a value
func Default() Config {
	return Config{
		Server: ServerConfig{
			UDPPort:     2000,
			BindAddress: "0.0.0.0",
			BufferSize:  2048,
			MaxSessions: 100,
		},
		Liveness: LivenessConfig{
			PingInterval:    3,
			EvictionTimeout: 6,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "127.0.0.1",
			Enabled: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads the configuration file on top of Default and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs validation of every section
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Liveness.Validate(); err != nil {
		return fmt.Errorf("liveness config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.UDPPort < 1 || s.UDPPort > 65535 {
		return fmt.Errorf("udp_port must be between 1 and 65535, got %d", s.UDPPort)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.BufferSize < 600 {
		return fmt.Errorf("buffer_size must be at least 600 bytes, got %d", s.BufferSize)
	}

	if s.MaxSessions < 1 || s.MaxSessions > 65535 {
		return fmt.Errorf("max_sessions must be between 1 and 65535, got %d", s.MaxSessions)
	}

	return nil
}

// Validate validates the keepalive schedule
func (l *LivenessConfig) Validate() error {
	if l.PingInterval < 1 {
		return fmt.Errorf("ping_interval must be at least 1 second, got %d", l.PingInterval)
	}

	if l.EvictionTimeout < l.PingInterval {
		return fmt.Errorf("eviction_timeout (%d) must not be shorter than ping_interval (%d)",
			l.EvictionTimeout, l.PingInterval)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration. Any output other than stdout or
// stderr is treated as a file path.
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetPingInterval returns the liveness challenge period as a time.Duration
func (l *LivenessConfig) GetPingInterval() time.Duration {
	return time.Duration(l.PingInterval) * time.Second
}

// GetEvictionTimeout returns the silence allowed before eviction as a time.Duration
func (l *LivenessConfig) GetEvictionTimeout() time.Duration {
	return time.Duration(l.EvictionTimeout) * time.Second
}
