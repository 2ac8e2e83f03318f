package server

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg, err := LoadServerConfig()
	require.NoError(t, err)

	defaults := GetServerDefault()
	assert.Equal(t, defaults, *cfg)
	assert.Equal(t, "sha256", cfg.Store.Hash)
	assert.False(t, cfg.Backup.Enabled)
}

func TestLoadServerConfig_Overrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.Set("backup.enabled", true)
	viper.Set("backup.path", "/mnt/nas/models")
	viper.Set("backup.concurrency", 9)
	viper.Set("references.source", "lockdir")

	cfg, err := LoadServerConfig()
	require.NoError(t, err)

	assert.True(t, cfg.Backup.Enabled)
	assert.Equal(t, "/mnt/nas/models", cfg.Backup.Path)
	assert.Equal(t, MaxBackupConcurrency, cfg.Backup.Workers())
	assert.Equal(t, "lockdir", cfg.References.Source)
}

func TestBackupServerConfig_BandwidthBytes(t *testing.T) {
	n, err := BackupServerConfig{BandwidthLimit: "0"}.BandwidthBytes()
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = BackupServerConfig{BandwidthLimit: "50 MB"}.BandwidthBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(50_000_000), n)

	n, err = BackupServerConfig{BandwidthLimit: "2MiB"}.BandwidthBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(2*1024*1024), n)

	_, err = BackupServerConfig{BandwidthLimit: "fast"}.BandwidthBytes()
	assert.Error(t, err)
}

func TestDurations(t *testing.T) {
	assert.Equal(t, 5*time.Second, BackupServerConfig{}.StatusTTL())
	assert.Equal(t, time.Hour, RunsServerConfig{Retention: "bogus"}.RetentionDuration())
	assert.Equal(t, 10*time.Minute, RunsServerConfig{Retention: "10m"}.RetentionDuration())
	assert.Equal(t, time.Duration(0), HTTPServerConfig{}.WriteTimeoutDuration())
}
