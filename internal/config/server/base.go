package server

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type BaseServerConfig struct {
	ShutdownTimeout string `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	Log        LogServerConfig        `mapstructure:"log"        yaml:"log"`
	Store      StoreServerConfig      `mapstructure:"store"      yaml:"store"`
	Backup     BackupServerConfig     `mapstructure:"backup"     yaml:"backup"`
	Metadata   MetadataServerConfig   `mapstructure:"metadata"   yaml:"metadata"`
	References ReferencesServerConfig `mapstructure:"references" yaml:"references"`
	HTTP       HTTPServerConfig       `mapstructure:"http"       yaml:"http"`
	Runs       RunsServerConfig       `mapstructure:"runs"       yaml:"runs"`
}

func LoadServerConfig() (*BaseServerConfig, error) {
	cfg := &BaseServerConfig{}

	setDefaults()

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	return cfg, nil
}

// parseDuration falls back to def when value is empty or malformed.
func parseDuration(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return def
	}
	return d
}
