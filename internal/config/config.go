// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the bulkmail client and dispatch service.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultEndpoint is the dispatch service base URL used when none is configured.
const DefaultEndpoint = "http://localhost:5000"

// defaultConcurrency bounds the number of deliveries in flight per request.
const defaultConcurrency = 8

// Config holds the complete application configuration.
type Config struct {
	Client   ClientConfig   `yaml:"client"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Provider string         `yaml:"provider"`
	SES      SESConfig      `yaml:"ses"`
	Graph    GraphConfig    `yaml:"graph"`
	Resend   ResendConfig   `yaml:"resend"`
	TLS      TLSConfig      `yaml:"tls"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ClientConfig holds settings for the bulkmail command-line client.
type ClientConfig struct {
	Endpoint string `yaml:"endpoint"`
	// Timeout of zero means no local timeout.
	Timeout time.Duration `yaml:"timeout"`
	// GateDroppedFiles applies the file-type gate to dropped files as well
	// as to files picked explicitly.
	GateDroppedFiles bool `yaml:"gate_dropped_files"`
}

// DispatchConfig holds settings for the /sendemail service.
type DispatchConfig struct {
	Listen      string `yaml:"listen"`
	Subject     string `yaml:"subject"`
	Sender      string `yaml:"sender"`
	Concurrency int    `yaml:"concurrency"`
}

// SESConfig holds AWS SES v2 configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Sender       string `yaml:"sender"`
}

// ResendConfig holds Resend API configuration.
type ResendConfig struct {
	APIKey string `yaml:"api_key"`
	Sender string `yaml:"sender"`
}

// TLSConfig holds TLS settings for the dispatch service.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
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

	// Environment variables always override YAML values
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SESConfigured returns true if the SES region and sender are set.
// Credentials are optional and fall back to the default AWS chain.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.SES.Sender != ""
}

// GraphConfigured returns true if all four Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != "" &&
		c.Graph.Sender != ""
}

// ResendConfigured returns true if the Resend API key and sender are set.
func (c *Config) ResendConfigured() bool {
	return c.Resend.APIKey != "" && c.Resend.Sender != ""
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Client.Endpoint = DefaultEndpoint
	c.Client.GateDroppedFiles = true
	c.Dispatch.Listen = ":5000"
	c.Dispatch.Subject = "BulkMail"
	c.Dispatch.Concurrency = defaultConcurrency
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() error {
	if v := os.Getenv("CLIENT_ENDPOINT"); v != "" {
		c.Client.Endpoint = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("CLIENT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid CLIENT_TIMEOUT %q: %w", v, err)
		}
		c.Client.Timeout = d
	}
	if v := os.Getenv("CLIENT_GATE_DROPPED_FILES"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid CLIENT_GATE_DROPPED_FILES %q: %w", v, err)
		}
		c.Client.GateDroppedFiles = b
	}

	if v := os.Getenv("DISPATCH_LISTEN"); v != "" {
		c.Dispatch.Listen = v
	}
	if v := os.Getenv("DISPATCH_SUBJECT"); v != "" {
		c.Dispatch.Subject = v
	}
	if v := os.Getenv("DISPATCH_SENDER"); v != "" {
		c.Dispatch.Sender = v
	}
	if v := os.Getenv("DISPATCH_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid DISPATCH_CONCURRENCY %q: %w", v, err)
		}
		if n <= 0 {
			return fmt.Errorf("invalid DISPATCH_CONCURRENCY %q: must be positive", v)
		}
		c.Dispatch.Concurrency = n
	}

	if v := os.Getenv("PROVIDER"); v != "" {
		c.Provider = strings.ToLower(v)
	}

	if v := os.Getenv("SES_REGION"); v != "" {
		c.SES.Region = v
	}
	if v := os.Getenv("SES_ACCESS_KEY_ID"); v != "" {
		c.SES.AccessKeyID = v
	}
	if v := os.Getenv("SES_SECRET_ACCESS_KEY"); v != "" {
		c.SES.SecretAccessKey = v
	}
	if v := os.Getenv("SES_SENDER"); v != "" {
		c.SES.Sender = v
	}

	if v := os.Getenv("GRAPH_TENANT_ID"); v != "" {
		c.Graph.TenantID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_ID"); v != "" {
		c.Graph.ClientID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_SECRET"); v != "" {
		c.Graph.ClientSecret = v
	}
	if v := os.Getenv("GRAPH_SENDER"); v != "" {
		c.Graph.Sender = v
	}

	if v := os.Getenv("RESEND_API_KEY"); v != "" {
		c.Resend.APIKey = v
	}
	if v := os.Getenv("RESEND_SENDER"); v != "" {
		c.Resend.Sender = v
	}

	if v := os.Getenv("TLS_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid TLS_ENABLED %q: %w", v, err)
		}
		c.TLS.Enabled = b
	}
	if v := os.Getenv("TLS_CERT_FILE"); v != "" {
		c.TLS.CertFile = v
	}
	if v := os.Getenv("TLS_KEY_FILE"); v != "" {
		c.TLS.KeyFile = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}

	return nil
}
