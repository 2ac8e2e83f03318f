package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/mwantia/goblob/internal/inventory"
	"github.com/mwantia/goblob/internal/syncer"
	"github.com/mwantia/goblob/pkg/blobstore"
	"github.com/mwantia/goblob/pkg/digest"
)

func (v *Vault) Inventory(ctx context.Context) (*inventory.Summary, error) {
	return v.inventory.BuildSummary(ctx)
}

func (v *Vault) Item(ctx context.Context, d digest.Digest) (inventory.Item, error) {
	return v.inventory.Item(ctx, d)
}

func (v *Vault) Impact(ctx context.Context, d digest.Digest, target inventory.Target) (*inventory.Impact, error) {
	return v.analyzer.Analyze(ctx, d, target)
}

// Transfer is the result of a single-digest backup or restore.
type Transfer struct {
	Digest    digest.Digest    `json:"digest"`
	Direction syncer.Direction `json:"direction"`
	Bytes     int64            `json:"bytes"`
	Skipped   bool             `json:"skipped"`
	Note      string           `json:"note,omitempty"`
}

// Backup copies one digest from the local store to the backup store.
func (v *Vault) Backup(ctx context.Context, d digest.Digest) (*Transfer, error) {
	return v.transferOne(ctx, syncer.ToBackup, d)
}

// Restore copies one digest from the backup store to the local store.
func (v *Vault) Restore(ctx context.Context, d digest.Digest) (*Transfer, error) {
	return v.transferOne(ctx, syncer.FromBackup, d)
}

func (v *Vault) transferOne(ctx context.Context, direction syncer.Direction, d digest.Digest) (*Transfer, error) {
	outcome, err := v.syncer.TransferOne(ctx, direction, d)
	if err != nil {
		return nil, err
	}
	v.status.Delete(backupStatusKey)
	return &Transfer{
		Digest:    d,
		Direction: direction,
		Bytes:     outcome.Bytes,
		Skipped:   outcome.Skipped,
		Note:      outcome.Note,
	}, nil
}

// Deletion reports which copies a delete removed.
type Deletion struct {
	Digest     digest.Digest        `json:"digest"`
	Target     inventory.Target     `json:"target"`
	Removed    []blobstore.Location `json:"removed"`
	BytesFreed int64                `json:"bytes_freed"`
	Forced     bool                 `json:"forced"`
	Warning    string               `json:"warning,omitempty"`
}

// Delete removes the copies of d selected by target. Unless force is set,
// deleting the last copy of a referenced blob fails with a ConflictError
// carrying the referencing packs.
func (v *Vault) Delete(ctx context.Context, d digest.Digest, target inventory.Target, force bool) (*Deletion, error) {
	if target == "" {
		target = inventory.TargetBoth
	}
	if target == inventory.TargetBackup && v.backup == nil {
		return nil, fmt.Errorf("%w: no backup location configured", ErrUnavailable)
	}
	// An unreachable backup lists as empty, so it must be probed first.
	if target.Removes(blobstore.LocationBackup) && v.backup != nil {
		if err := v.backup.Available(ctx); err != nil {
			return nil, fmt.Errorf("cannot delete %s from %s: %w", d.Short(), target, err)
		}
	}

	impact, err := v.analyzer.Analyze(ctx, d, target)
	if err != nil {
		return nil, err
	}

	var stores []blobstore.Store
	if impact.Location.HasLocal() && target.Removes(blobstore.LocationLocal) {
		stores = append(stores, v.local)
	}
	if impact.Location.HasBackup() && target.Removes(blobstore.LocationBackup) {
		stores = append(stores, v.backup)
	}
	if len(stores) == 0 {
		return nil, fmt.Errorf("%w: no copy of %s at %s", ErrNotFound, d, target)
	}

	if !impact.SafeToDelete {
		if !force {
			return nil, &ConflictError{Digest: d, Target: target, Packs: impact.Packs}
		}
		v.log.Warn("Force deleting last copy of %s, still referenced by %v", d.Short(), impact.Packs)
	}

	deletion := &Deletion{
		Digest:  d,
		Target:  target,
		Removed: []blobstore.Location{},
		Forced:  force && !impact.SafeToDelete,
		Warning: impact.Warning,
	}
	for _, store := range stores {
		if err := store.Remove(ctx, d); err != nil {
			if errors.Is(err, blobstore.ErrNotFound) {
				continue
			}
			return deletion, fmt.Errorf("failed to delete %s from %s: %w", d.Short(), store.Location(), err)
		}
		deletion.Removed = append(deletion.Removed, store.Location())
		deletion.BytesFreed += impact.Size
		v.forgetVerification(ctx, d, store.Location())
		v.log.Info("Deleted %s from %s", d.Short(), store.Location())
	}

	if target.Removes(blobstore.LocationBackup) {
		v.status.Delete(backupStatusKey)
	}
	return deletion, nil
}

func (v *Vault) forgetVerification(ctx context.Context, d digest.Digest, location blobstore.Location) {
	if v.metadata == nil {
		return
	}
	if err := v.metadata.DeleteVerification(ctx, string(d), string(location)); err != nil {
		v.log.Warn("Failed to drop verification record of %s at %s: %v", d.Short(), location, err)
	}
}
