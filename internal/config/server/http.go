package server

import "time"

// HTTPServerConfig holds the API listener configuration
type HTTPServerConfig struct {
	Address      string `mapstructure:"address"       yaml:"address"`
	ReadTimeout  string `mapstructure:"read_timeout"  yaml:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout" yaml:"write_timeout"`
}

func (c HTTPServerConfig) ReadTimeoutDuration() time.Duration {
	return parseDuration(c.ReadTimeout, 30*time.Second)
}

// WriteTimeoutDuration is zero (no timeout) unless configured.
func (c HTTPServerConfig) WriteTimeoutDuration() time.Duration {
	return parseDuration(c.WriteTimeout, 0)
}

// RunsServerConfig controls how long finished transfer runs stay addressable
type RunsServerConfig struct {
	Retention string `mapstructure:"retention" yaml:"retention"`
}

func (c RunsServerConfig) RetentionDuration() time.Duration {
	return parseDuration(c.Retention, time.Hour)
}
