package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// TokenEnv is the environment variable carrying the directory access token.
const TokenEnv = "ENTRAPROV_TOKEN"

// Config holds persistent CLI settings.
type Config struct {
	// Tenant, when set, must match the session's tenant id or a verified
	// domain, or the run is refused. The --tenant flag overrides it.
	Tenant string `yaml:"tenant,omitempty"`

	GraphURL string `yaml:"graph_url,omitempty"`
	MailURL  string `yaml:"mail_url,omitempty"`
	ARMURL   string `yaml:"arm_url,omitempty"`

	// Settle is the propagation wait after consent grants.
	Settle time.Duration `yaml:"settle,omitempty"`

	// AuditLog is the NDJSON audit trail path. Empty disables the file emitter.
	AuditLog string `yaml:"audit_log,omitempty"`

	// DBPath overrides the run-history database location.
	DBPath string `yaml:"db_path,omitempty"`
}

// ConfigPath returns the active config file location.
func ConfigPath() string {
	if configPath != "" {
		return configPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "entraprov", "config.yaml")
}

// LoadConfig reads the config file. A missing file yields a zero config.
func LoadConfig() (*Config, error) {
	path := ConfigPath()
	if path == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// SaveConfig writes the config file, creating its directory if needed.
func SaveConfig(cfg *Config) error {
	path := ConfigPath()
	if path == "" {
		return fmt.Errorf("cannot determine config path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
