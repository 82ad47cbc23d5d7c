// Package config loads gateway configuration with sensible defaults, an
// optional YAML file, and environment-variable overrides. Environment
// variables always win.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListen         = "localhost:8000"
	defaultRelayHost      = "localhost"
	defaultRelayPort      = "25"
	defaultConnectTimeout = 10 * time.Second
	defaultCommandTimeout = 30 * time.Second
)

// Duration is a time.Duration that unmarshals from YAML strings like "10s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}

	*d = Duration(parsed)
	return nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Config holds the complete gateway configuration.
type Config struct {
	Listen      string        `yaml:"listen"`
	Relay       RelayConfig   `yaml:"relay"`
	DKIM        DKIMConfig    `yaml:"dkim"`
	Credentials []string      `yaml:"credentials"`
	Logging     LoggingConfig `yaml:"logging"`
}

// RelayConfig describes the downstream mail transfer agent.
type RelayConfig struct {
	Host           string   `yaml:"host"`
	Port           string   `yaml:"port"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
	CommandTimeout Duration `yaml:"command_timeout"`
}

// DKIMConfig enables outbound DKIM signing when KeyFile is set.
type DKIMConfig struct {
	Domain   string `yaml:"domain"`
	Selector string `yaml:"selector"`
	KeyFile  string `yaml:"key_file"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	LokiURL    string `yaml:"loki_url"`
	EnableLoki bool   `yaml:"enable_loki"`
}

// Load loads configuration from environment variables over defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads a YAML file as the base layer, then applies environment
// variable overrides.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvVars()

	return cfg, nil
}

func (c *Config) applyDefaults() {
	c.Listen = defaultListen
	c.Relay.Host = defaultRelayHost
	c.Relay.Port = defaultRelayPort
	c.Relay.ConnectTimeout = Duration(defaultConnectTimeout)
	c.Relay.CommandTimeout = Duration(defaultCommandTimeout)
	c.Logging.Level = "info"
}

func (c *Config) applyEnvVars() {
	if v := os.Getenv("GATEWAY_LISTEN"); v != "" {
		c.Listen = v
	}

	if v := os.Getenv("GATEWAY_RELAY_HOST"); v != "" {
		c.Relay.Host = v
	}
	if v := os.Getenv("GATEWAY_RELAY_PORT"); v != "" {
		c.Relay.Port = v
	}
	if v := os.Getenv("GATEWAY_RELAY_CONNECT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Relay.ConnectTimeout = Duration(d)
		}
	}
	if v := os.Getenv("GATEWAY_RELAY_COMMAND_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Relay.CommandTimeout = Duration(d)
		}
	}

	if v := os.Getenv("GATEWAY_DKIM_DOMAIN"); v != "" {
		c.DKIM.Domain = v
	}
	if v := os.Getenv("GATEWAY_DKIM_SELECTOR"); v != "" {
		c.DKIM.Selector = v
	}
	if v := os.Getenv("GATEWAY_DKIM_KEY_FILE"); v != "" {
		c.DKIM.KeyFile = v
	}

	// GATEWAY_CREDENTIALS is a comma-separated list of email=digest pairs.
	if v := os.Getenv("GATEWAY_CREDENTIALS"); v != "" {
		c.Credentials = nil
		for _, pair := range strings.Split(v, ",") {
			pair = strings.TrimSpace(pair)
			if pair != "" {
				c.Credentials = append(c.Credentials, pair)
			}
		}
	}

	if v := os.Getenv("GATEWAY_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("GATEWAY_LOKI_URL"); v != "" {
		c.Logging.LokiURL = v
	}
	if v := os.Getenv("GATEWAY_ENABLE_LOKI"); v != "" {
		c.Logging.EnableLoki = v == "true" || v == "1"
	}
}
