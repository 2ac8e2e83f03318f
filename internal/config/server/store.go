package server

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// StoreServerConfig holds the local blob store configuration
type StoreServerConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
	Hash string `mapstructure:"hash" yaml:"hash"` // "sha256", "blake3" or "blake2b"
}

// BackupServerConfig holds the optional backup location configuration
type BackupServerConfig struct {
	Enabled        bool   `mapstructure:"enabled"          yaml:"enabled"`
	Path           string `mapstructure:"path"             yaml:"path"`
	BandwidthLimit string `mapstructure:"bandwidth_limit"  yaml:"bandwidth_limit"` // e.g. "50 MB", "0" for unlimited
	Concurrency    int    `mapstructure:"concurrency"      yaml:"concurrency"`
	StatusCacheTTL string `mapstructure:"status_cache_ttl" yaml:"status_cache_ttl"`
}

// MaxBackupConcurrency caps parallel transfers against the backup location.
const MaxBackupConcurrency = 4

// BandwidthBytes returns the bandwidth limit in bytes per second, 0 meaning unlimited.
func (c BackupServerConfig) BandwidthBytes() (int64, error) {
	if c.BandwidthLimit == "" || c.BandwidthLimit == "0" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(c.BandwidthLimit)
	if err != nil {
		return 0, fmt.Errorf("invalid backup bandwidth limit %q: %w", c.BandwidthLimit, err)
	}
	return int64(n), nil
}

// Workers returns the transfer concurrency clamped to 1..MaxBackupConcurrency.
func (c BackupServerConfig) Workers() int {
	return min(max(c.Concurrency, 1), MaxBackupConcurrency)
}

func (c BackupServerConfig) StatusTTL() time.Duration {
	return parseDuration(c.StatusCacheTTL, 5*time.Second)
}

// ReferencesServerConfig selects where pack lock state is read from
type ReferencesServerConfig struct {
	Source  string `mapstructure:"source"   yaml:"source"` // "sqlite" or "lockdir"
	LockDir string `mapstructure:"lock_dir" yaml:"lock_dir"`
}
