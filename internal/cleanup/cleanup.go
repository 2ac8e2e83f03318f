// Package cleanup removes blobs that no pack references anymore.
package cleanup

import (
	"context"
	"errors"
	"fmt"

	"github.com/mwantia/goblob/internal/inventory"
	"github.com/mwantia/goblob/internal/transfer"
	"github.com/mwantia/goblob/pkg/blobstore"
	"github.com/mwantia/goblob/pkg/digest"
	"github.com/mwantia/goblob/pkg/log"
)

// Scope selects which copies of orphaned blobs are removed. By default
// only local copies go; backup copies may be deliberately kept archives
// and are only removed when IncludeBackup is set.
type Scope struct {
	IncludeBackup bool `json:"include_backup"`
}

func (s Scope) String() string {
	if s.IncludeBackup {
		return "local+backup"
	}
	return "local"
}

// Report is the read-only result of a scan.
type Report struct {
	Scope        string           `json:"scope"`
	Items        []inventory.Item `json:"items"`
	OrphansFound int              `json:"orphans_found"`
	BytesFreed   int64            `json:"bytes_freed"`
}

type Result struct {
	RunID        string               `json:"run_id"`
	Scope        string               `json:"scope"`
	Status       transfer.RunStatus   `json:"status"`
	Deleted      int                  `json:"deleted"`
	BytesFreed   int64                `json:"bytes_freed"`
	SkippedItems int                  `json:"skipped_items"`
	FailedItems  int                  `json:"failed_items"`
	Errors       []transfer.ItemError `json:"errors,omitempty"`
	Items        []transfer.Item      `json:"items,omitempty"`
}

func ResultFrom(run transfer.Run) *Result {
	result := &Result{
		RunID:        run.RunID,
		Scope:        run.Scope,
		Status:       run.Status,
		SkippedItems: run.SkippedItems,
		FailedItems:  run.FailedItems,
		Errors:       run.Failures(),
		Items:        run.Items,
	}
	for _, item := range run.Items {
		if item.Status == transfer.ItemCompleted && !item.Skipped {
			result.Deleted++
			result.BytesFreed += item.Bytes
		}
	}
	return result
}

// VerificationForgetter drops integrity records of removed copies.
type VerificationForgetter interface {
	DeleteVerification(ctx context.Context, digest, location string) error
}

type Options struct {
	Recorder      transfer.Recorder
	Verifications VerificationForgetter
	Logger        log.LoggerService
}

type Engine struct {
	inventory *inventory.Service
	opts      Options
	log       log.LoggerService
}

func New(inv *inventory.Service, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	return &Engine{
		inventory: inv,
		opts:      opts,
		log:       opts.Logger,
	}
}

// Scan lists orphans within scope without touching any store.
func (e *Engine) Scan(ctx context.Context, scope Scope) (*Report, error) {
	snapshot, err := e.inventory.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if scope.IncludeBackup && snapshot.Backup().Enabled && !snapshot.Backup().Connected {
		e.log.Warn("Backup store unavailable, scanning local orphans only")
	}

	report := &Report{Scope: scope.String()}
	report.Items = snapshot.Filter(func(item inventory.Item) bool {
		return copiesInScope(item, scope) > 0
	})
	for _, item := range report.Items {
		report.OrphansFound++
		report.BytesFreed += freed(item, scope)
	}
	return report, nil
}

// Start scans and returns the operation that deletes the orphans found.
func (e *Engine) Start(ctx context.Context, scope Scope) (*transfer.Operation, *Report, error) {
	report, err := e.Scan(ctx, scope)
	if err != nil {
		return nil, nil, err
	}

	items := make([]transfer.Item, 0, len(report.Items))
	for _, item := range report.Items {
		items = append(items, transfer.Item{Digest: item.Digest, Size: freed(item, scope)})
	}

	op := transfer.New(items, func(ctx context.Context, item transfer.Item) (transfer.Outcome, error) {
		return e.remove(ctx, item.Digest, scope)
	}, transfer.Options{
		Kind:     transfer.KindCleanup,
		Scope:    scope.String(),
		Recorder: e.opts.Recorder,
		Logger:   e.log,
	})
	return op, report, nil
}

func (e *Engine) Execute(ctx context.Context, scope Scope) (*Result, error) {
	op, _, err := e.Start(ctx, scope)
	if err != nil {
		return nil, err
	}
	run, err := op.Run(ctx)
	if err != nil {
		return nil, err
	}
	return ResultFrom(run), nil
}

// remove re-evaluates the orphan predicate right before deleting, so a
// digest that gained a reference since the scan is left alone.
func (e *Engine) remove(ctx context.Context, d digest.Digest, scope Scope) (transfer.Outcome, error) {
	item, err := e.inventory.Item(ctx, d)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return transfer.Outcome{Skipped: true, Note: "already removed"}, nil
		}
		return transfer.Outcome{}, err
	}
	if item.RefCount > 0 {
		return transfer.Outcome{Skipped: true, Note: fmt.Sprintf("now referenced by %d pack(s)", item.RefCount)}, nil
	}

	var stores []blobstore.Store
	if item.Location.HasLocal() {
		stores = append(stores, e.inventory.Local())
	}
	if scope.IncludeBackup && item.Location.HasBackup() {
		stores = append(stores, e.inventory.Backup())
	}
	if len(stores) == 0 {
		return transfer.Outcome{Skipped: true, Note: "no copy left in scope"}, nil
	}

	var removed int64
	for _, store := range stores {
		if err := store.Remove(ctx, d); err != nil {
			if errors.Is(err, blobstore.ErrNotFound) {
				continue
			}
			return transfer.Outcome{Bytes: removed}, fmt.Errorf("failed to remove %s from %s: %w", d.Short(), store.Location(), err)
		}
		removed += item.Size
		e.forget(ctx, d, store.Location())
		e.log.Info("Removed orphan %s (%d bytes) from %s", d.Short(), item.Size, store.Location())
	}
	return transfer.Outcome{Bytes: removed}, nil
}

func (e *Engine) forget(ctx context.Context, d digest.Digest, location blobstore.Location) {
	if e.opts.Verifications == nil {
		return
	}
	if err := e.opts.Verifications.DeleteVerification(ctx, string(d), string(location)); err != nil {
		e.log.Warn("Failed to drop verification record of %s at %s: %v", d.Short(), location, err)
	}
}

// copiesInScope counts the copies of an unreferenced item that scope
// allows deleting.
func copiesInScope(item inventory.Item, scope Scope) int64 {
	if item.RefCount > 0 {
		return 0
	}
	var copies int64
	if item.Location.HasLocal() {
		copies++
	}
	if scope.IncludeBackup && item.Location.HasBackup() {
		copies++
	}
	return copies
}

func freed(item inventory.Item, scope Scope) int64 {
	return item.Size * copiesInScope(item, scope)
}
