// Package syncer mirrors blobs between the local and the backup store.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mwantia/goblob/internal/inventory"
	"github.com/mwantia/goblob/internal/transfer"
	"github.com/mwantia/goblob/pkg/blobstore"
	"github.com/mwantia/goblob/pkg/digest"
	"github.com/mwantia/goblob/pkg/log"
	"golang.org/x/time/rate"
)

type Direction string

const (
	ToBackup   Direction = "to_backup"
	FromBackup Direction = "from_backup"
)

func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case ToBackup:
		return ToBackup, nil
	case FromBackup:
		return FromBackup, nil
	default:
		return "", fmt.Errorf("unknown sync direction '%s'", s)
	}
}

// Scope limits a sync to one pack's blobs. The zero value is the whole
// store.
type Scope struct {
	Pack string
}

func (s Scope) String() string {
	if s.Pack == "" {
		return "all"
	}
	return "pack:" + s.Pack
}

type Plan struct {
	Direction   Direction        `json:"direction"`
	Scope       string           `json:"scope"`
	Items       []inventory.Item `json:"items"`
	BlobsToSync int              `json:"blobs_to_sync"`
	BytesToSync int64            `json:"bytes_to_sync"`
}

type Result struct {
	RunID        string               `json:"run_id"`
	Direction    Direction            `json:"direction"`
	Scope        string               `json:"scope"`
	Status       transfer.RunStatus   `json:"status"`
	BlobsSynced  int                  `json:"blobs_synced"`
	BytesSynced  int64                `json:"bytes_synced"`
	SkippedItems int                  `json:"skipped_items"`
	FailedItems  int                  `json:"failed_items"`
	Errors       []transfer.ItemError `json:"errors,omitempty"`
	Items        []transfer.Item      `json:"items,omitempty"`
}

// ResultFrom summarizes a sync run. Skipped items count as done but not
// as synced.
func ResultFrom(run transfer.Run) *Result {
	result := &Result{
		RunID:        run.RunID,
		Direction:    Direction(run.Direction),
		Scope:        run.Scope,
		Status:       run.Status,
		SkippedItems: run.SkippedItems,
		FailedItems:  run.FailedItems,
		Errors:       run.Failures(),
		Items:        run.Items,
	}
	for _, item := range run.Items {
		if item.Status == transfer.ItemCompleted && !item.Skipped {
			result.BlobsSynced++
			result.BytesSynced += item.Bytes
		}
	}
	return result
}

type Options struct {
	// BandwidthLimit caps transfer throughput in bytes per second; zero
	// means unlimited.
	BandwidthLimit int64
	Concurrency    int
	Recorder       transfer.Recorder
	Logger         log.LoggerService
}

type Engine struct {
	inventory *inventory.Service
	limiter   *rate.Limiter
	opts      Options
	log       log.LoggerService
}

func New(inv *inventory.Service, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	return &Engine{
		inventory: inv,
		limiter:   newLimiter(opts.BandwidthLimit),
		opts:      opts,
		log:       opts.Logger,
	}
}

// Preview selects the digests a sync would transfer. Execute uses the
// same selection.
func (e *Engine) Preview(ctx context.Context, direction Direction, scope Scope) (*Plan, error) {
	if e.inventory.Backup() == nil {
		return nil, fmt.Errorf("%w: no backup location configured", blobstore.ErrUnavailable)
	}

	snapshot, err := e.inventory.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if !snapshot.Backup().Connected {
		return nil, fmt.Errorf("%w: backup store at %s", blobstore.ErrUnavailable, e.inventory.Backup().Root())
	}

	var inScope func(digest.Digest) bool
	if scope.Pack != "" {
		refs := snapshot.References()
		if !refs.HasPack(scope.Pack) {
			return nil, fmt.Errorf("%w: pack '%s' has no dependencies", blobstore.ErrNotFound, scope.Pack)
		}
		digests := make(map[digest.Digest]bool)
		for _, d := range refs.PackDigests(scope.Pack) {
			digests[d] = true
		}
		inScope = func(d digest.Digest) bool { return digests[d] }
	}

	wanted := inventory.LocationLocalOnly
	if direction == FromBackup {
		wanted = inventory.LocationBackupOnly
	}

	plan := &Plan{Direction: direction, Scope: scope.String()}
	plan.Items = snapshot.Filter(func(item inventory.Item) bool {
		return item.Location == wanted && (inScope == nil || inScope(item.Digest))
	})
	for _, item := range plan.Items {
		plan.BlobsToSync++
		plan.BytesToSync += item.Size
	}
	return plan, nil
}

// Start plans a sync and returns the operation that executes it. The
// caller decides whether to run it inline or in the background.
func (e *Engine) Start(ctx context.Context, direction Direction, scope Scope) (*transfer.Operation, *Plan, error) {
	plan, err := e.Preview(ctx, direction, scope)
	if err != nil {
		return nil, nil, err
	}

	items := make([]transfer.Item, 0, len(plan.Items))
	for _, item := range plan.Items {
		items = append(items, transfer.Item{Digest: item.Digest, Size: item.Size})
	}

	op := transfer.New(items, func(ctx context.Context, item transfer.Item) (transfer.Outcome, error) {
		return e.TransferOne(ctx, direction, item.Digest)
	}, transfer.Options{
		Kind:        transfer.KindSync,
		Direction:   string(direction),
		Scope:       plan.Scope,
		Concurrency: e.opts.Concurrency,
		Recorder:    e.opts.Recorder,
		Logger:      e.log,
	})
	return op, plan, nil
}

// Execute runs a sync to completion. Per-item failures are reported in
// the result and do not abort the run.
func (e *Engine) Execute(ctx context.Context, direction Direction, scope Scope) (*Result, error) {
	op, _, err := e.Start(ctx, direction, scope)
	if err != nil {
		return nil, err
	}
	run, err := op.Run(ctx)
	if err != nil {
		return nil, err
	}
	return ResultFrom(run), nil
}

// TransferOne copies a single digest after re-checking where it lives. A
// digest already present at the destination is reported as skipped.
func (e *Engine) TransferOne(ctx context.Context, direction Direction, d digest.Digest) (transfer.Outcome, error) {
	source, destination := e.inventory.Local(), e.inventory.Backup()
	if direction == FromBackup {
		source, destination = destination, source
	}
	if e.inventory.Backup() == nil {
		return transfer.Outcome{}, fmt.Errorf("%w: no backup location configured", blobstore.ErrUnavailable)
	}
	if err := e.inventory.Backup().Available(ctx); err != nil {
		return transfer.Outcome{}, err
	}

	item, err := e.inventory.Item(ctx, d)
	if err != nil {
		return transfer.Outcome{}, err
	}

	atDestination := item.Location.HasBackup()
	atSource := item.Location.HasLocal()
	if direction == FromBackup {
		atDestination, atSource = atSource, atDestination
	}
	if atDestination {
		return transfer.Outcome{Skipped: true, Note: fmt.Sprintf("already present at %s", destination.Location())}, nil
	}
	if !atSource {
		return transfer.Outcome{}, fmt.Errorf("%w: %s at %s", blobstore.ErrNotFound, d, source.Location())
	}

	reader, err := source.Get(ctx, d)
	if err != nil {
		return transfer.Outcome{}, err
	}
	defer reader.Close()

	written, err := destination.Put(ctx, d, e.throttle(ctx, reader))
	if err != nil {
		return transfer.Outcome{}, fmt.Errorf("failed to copy %s to %s: %w", d.Short(), destination.Location(), err)
	}

	e.copyManifest(ctx, source, destination, d)

	e.log.Info("Copied %s (%d bytes) from %s to %s", d.Short(), written, source.Location(), destination.Location())
	return transfer.Outcome{Bytes: written}, nil
}

// copyManifest carries the write-once manifest along with the content. A
// failure here leaves the content in place; the manifest is only a
// display fallback.
func (e *Engine) copyManifest(ctx context.Context, source, destination blobstore.Store, d digest.Digest) {
	manifest, err := source.ReadManifest(ctx, d)
	if err != nil {
		e.log.Warn("Failed to read manifest of %s at %s: %v", d.Short(), source.Location(), err)
		return
	}
	if manifest == nil {
		return
	}
	if _, err := destination.WriteManifestIfAbsent(ctx, d, manifest); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		e.log.Warn("Failed to write manifest of %s at %s: %v", d.Short(), destination.Location(), err)
	}
}
