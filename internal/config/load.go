package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// LoadConfig reads and validates the yaml config at path.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("WARDSYNC")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the fields that have no usable default.
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database.database is required")
	}
	if c.Ward.ID == "" {
		return fmt.Errorf("ward.id is required")
	}
	if len(c.Sync.Tables) == 0 {
		return fmt.Errorf("sync.tables must list at least one table")
	}
	seen := make(map[string]bool)
	for _, t := range c.Sync.Tables {
		if t.Name == "" {
			return fmt.Errorf("sync.tables entries must have a name")
		}
		if seen[t.Name] {
			return fmt.Errorf("sync.tables lists %q twice", t.Name)
		}
		seen[t.Name] = true
	}
	return nil
}
