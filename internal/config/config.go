// Package config provides configuration management for the credential
// manager. It handles loading and parsing the YAML configuration file and
// provides structured access to settings such as the credential directory,
// proxy configuration, and flow timeouts.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// AuthDir is the directory where the credential file and usage cache
	// are stored.
	AuthDir string `yaml:"auth-dir"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug"`

	// LoggingToFile redirects logs to a rotating file under AuthDir.
	LoggingToFile bool `yaml:"logging-to-file"`

	// ProxyURL is the URL of an optional proxy server for outbound
	// requests. Supports socks5, http, and https schemes.
	ProxyURL string `yaml:"proxy-url"`

	// CallbackTimeoutSeconds bounds the wait for the OAuth browser
	// redirect. Zero means the 5-minute default.
	CallbackTimeoutSeconds int `yaml:"callback-timeout-seconds"`

	// UsageTimeoutSeconds bounds each provider's usage query. Zero means
	// the 15-second default.
	UsageTimeoutSeconds int `yaml:"usage-timeout-seconds"`
}

// LoadConfig reads a YAML configuration file from the given path,
// unmarshals it into a Config struct, applies environment variable
// overrides and defaults, and returns it. A missing file yields the
// defaults rather than an error.
func LoadConfig(configFile string) (*Config, error) {
	var config Config

	data, err := os.ReadFile(configFile)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err == nil {
		if err = yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if proxy := os.Getenv("AGENTAUTH_PROXY_URL"); proxy != "" {
		config.ProxyURL = proxy
	}
	if authDir := os.Getenv("AGENTAUTH_AUTH_DIR"); authDir != "" {
		config.AuthDir = authDir
	}

	if config.AuthDir == "" {
		home, errHome := os.UserHomeDir()
		if errHome != nil {
			return nil, fmt.Errorf("failed to determine home directory: %w", errHome)
		}
		config.AuthDir = filepath.Join(home, ".agentauth")
	}

	return &config, nil
}

// CredentialFile returns the path of the persisted credential file.
func (c *Config) CredentialFile() string {
	return filepath.Join(c.AuthDir, "credentials.json")
}

// UsageCacheFile returns the path of the usage snapshot cache.
func (c *Config) UsageCacheFile() string {
	return filepath.Join(c.AuthDir, "usage-cache.db")
}

// CallbackTimeout returns the configured callback timeout, or zero when
// the component default should apply.
func (c *Config) CallbackTimeout() time.Duration {
	return time.Duration(c.CallbackTimeoutSeconds) * time.Second
}

// UsageTimeout returns the configured per-provider usage timeout, or zero
// when the component default should apply.
func (c *Config) UsageTimeout() time.Duration {
	return time.Duration(c.UsageTimeoutSeconds) * time.Second
}
