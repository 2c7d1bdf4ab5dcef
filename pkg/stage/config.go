package stage

import (
	"encoding/json"
	"fmt"
	"os"
)

// DefaultConfigFile is the conventional connection-config filename.
const DefaultConfigFile = "braman-stage.json"

// LoadConfig loads a connection configuration from the default config file.
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(DefaultConfigFile)
}

// LoadConfigFrom loads a connection configuration from a specific file.
// Stage names are validated against the registry so a typo fails here
// rather than at Open.
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config JSON: %w", err)
	}
	for i, ac := range cfg.Axes {
		if ac.Stage == "" {
			continue
		}
		if _, err := StageByName(ac.Stage); err != nil {
			return nil, fmt.Errorf("channel %d: %w", i+1, err)
		}
	}
	return &cfg, nil
}

// Save writes the configuration to the default config file.
func (c *Config) Save() error {
	return c.SaveTo(DefaultConfigFile)
}

// SaveTo writes the configuration to a specific file.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ConfigExists returns true if the default config file exists.
func ConfigExists() bool {
	_, err := os.Stat(DefaultConfigFile)
	return err == nil
}
