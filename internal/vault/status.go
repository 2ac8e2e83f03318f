package vault

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

const backupStatusKey = "backup"

type BackupStatus struct {
	Enabled   bool      `json:"enabled"`
	Connected bool      `json:"connected"`
	Path      string    `json:"path,omitempty"`
	FreeBytes int64     `json:"free_bytes"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// BackupStatus probes the backup location. Results are cached for the
// configured status TTL.
func (v *Vault) BackupStatus(ctx context.Context) BackupStatus {
	if v.backup == nil {
		return BackupStatus{FreeBytes: -1, CheckedAt: time.Now().UTC()}
	}
	if item := v.status.Get(backupStatusKey); item != nil {
		return item.Value()
	}

	status := BackupStatus{
		Enabled:   true,
		Path:      v.backup.Root(),
		FreeBytes: -1,
		CheckedAt: time.Now().UTC(),
	}
	if err := v.backup.Available(ctx); err != nil {
		status.Error = err.Error()
	} else {
		status.Connected = true
		free, err := v.backup.FreeSpace(ctx)
		if err != nil {
			v.log.Warn("Failed to read free space of backup store: %v", err)
		} else {
			status.FreeBytes = free
		}
	}

	v.status.Set(backupStatusKey, status, ttlcache.DefaultTTL)
	return status
}
