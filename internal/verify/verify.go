// Package verify rehashes stored content and reports mismatches. It never
// repairs or deletes anything.
package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mwantia/goblob/internal/inventory"
	"github.com/mwantia/goblob/internal/transfer"
	"github.com/mwantia/goblob/pkg/blobstore"
	"github.com/mwantia/goblob/pkg/db/models"
	"github.com/mwantia/goblob/pkg/digest"
	"github.com/mwantia/goblob/pkg/log"
)

const (
	noteValid   = "valid"
	noteInvalid = "invalid"
)

// AllLocations checks every stored copy, local and backup.
const AllLocations blobstore.Location = "both"

// Scope selects the copies to check. The zero value checks every local
// blob.
type Scope struct {
	Pack     string             `json:"pack,omitempty"`
	Location blobstore.Location `json:"location,omitempty"`
}

func (s Scope) location() blobstore.Location {
	if s.Location == "" {
		return blobstore.LocationLocal
	}
	return s.Location
}

func (s Scope) String() string {
	scope := string(s.location())
	if s.Pack != "" {
		scope += ":pack:" + s.Pack
	}
	return scope
}

type Report struct {
	RunID    string               `json:"run_id"`
	Scope    string               `json:"scope"`
	Location blobstore.Location   `json:"location"`
	Status   transfer.RunStatus   `json:"status"`
	Valid    []digest.Digest      `json:"valid"`
	Invalid  []digest.Digest      `json:"invalid"`
	Errors   []transfer.ItemError `json:"errors,omitempty"`
}

func ReportFrom(run transfer.Run, location blobstore.Location) *Report {
	report := &Report{
		RunID:    run.RunID,
		Scope:    run.Scope,
		Location: location,
		Status:   run.Status,
		Valid:    []digest.Digest{},
		Invalid:  []digest.Digest{},
		Errors:   run.Failures(),
	}
	for _, item := range run.Items {
		if item.Status != transfer.ItemCompleted {
			continue
		}
		switch item.Note {
		case noteValid:
			report.Valid = append(report.Valid, item.Digest)
		case noteInvalid:
			report.Invalid = append(report.Invalid, item.Digest)
		}
	}
	return report
}

// ResultStore persists the outcome of every check.
type ResultStore interface {
	SaveVerification(ctx context.Context, verification *models.Verification) error
}

type Options struct {
	Results  ResultStore
	Recorder transfer.Recorder
	Logger   log.LoggerService
	Now      func() time.Time
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
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		inventory: inv,
		opts:      opts,
		log:       opts.Logger,
	}
}

func (e *Engine) stores(location blobstore.Location) ([]blobstore.Store, error) {
	local, backup := e.inventory.Local(), e.inventory.Backup()
	switch location {
	case blobstore.LocationLocal:
		return []blobstore.Store{local}, nil
	case blobstore.LocationBackup:
		if backup == nil {
			return nil, fmt.Errorf("%w: no backup location configured", blobstore.ErrUnavailable)
		}
		return []blobstore.Store{backup}, nil
	case AllLocations:
		if backup == nil {
			return []blobstore.Store{local}, nil
		}
		return []blobstore.Store{local, backup}, nil
	default:
		return nil, fmt.Errorf("unknown location '%s'", location)
	}
}

func holds(location inventory.Location, store blobstore.Store) bool {
	if store.Location() == blobstore.LocationBackup {
		return location.HasBackup()
	}
	return location.HasLocal()
}

// Start selects every copy within scope and returns the operation that
// checks them. A digest stored at several selected locations is one item
// covering all of its copies.
func (e *Engine) Start(ctx context.Context, scope Scope) (*transfer.Operation, error) {
	stores, err := e.stores(scope.location())
	if err != nil {
		return nil, err
	}
	for _, store := range stores {
		if err := store.Available(ctx); err != nil {
			return nil, err
		}
	}

	snapshot, err := e.inventory.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	var inScope map[digest.Digest]bool
	if scope.Pack != "" {
		refs := snapshot.References()
		if !refs.HasPack(scope.Pack) {
			return nil, fmt.Errorf("%w: pack '%s' has no dependencies", blobstore.ErrNotFound, scope.Pack)
		}
		inScope = make(map[digest.Digest]bool)
		for _, d := range refs.PackDigests(scope.Pack) {
			inScope[d] = true
		}
	}

	copies := make(map[digest.Digest][]blobstore.Store)
	items := []transfer.Item{}
	for _, item := range snapshot.Items() {
		if inScope != nil && !inScope[item.Digest] {
			continue
		}
		for _, store := range stores {
			if holds(item.Location, store) {
				copies[item.Digest] = append(copies[item.Digest], store)
			}
		}
		if n := len(copies[item.Digest]); n > 0 {
			items = append(items, transfer.Item{Digest: item.Digest, Size: item.Size * int64(n)})
		}
	}

	return transfer.New(items, func(ctx context.Context, item transfer.Item) (transfer.Outcome, error) {
		return e.check(ctx, copies[item.Digest], item)
	}, transfer.Options{
		Kind:     transfer.KindVerify,
		Scope:    scope.String(),
		Recorder: e.opts.Recorder,
		Logger:   e.log,
	}), nil
}

func (e *Engine) Verify(ctx context.Context, scope Scope) (*Report, error) {
	op, err := e.Start(ctx, scope)
	if err != nil {
		return nil, err
	}
	run, err := op.Run(ctx)
	if err != nil {
		return nil, err
	}
	return ReportFrom(run, scope.location()), nil
}

func (e *Engine) check(ctx context.Context, stores []blobstore.Store, item transfer.Item) (transfer.Outcome, error) {
	checked, valid := 0, true
	for _, store := range stores {
		ok, err := store.Verify(ctx, item.Digest)
		if err != nil {
			if errors.Is(err, blobstore.ErrNotFound) {
				continue
			}
			return transfer.Outcome{}, err
		}
		checked++
		e.record(ctx, store.Location(), item.Digest, ok)

		if !ok {
			e.log.Error("Content of %s at %s does not match its digest", item.Digest, store.Location())
			valid = false
		}
	}

	if checked == 0 {
		return transfer.Outcome{Skipped: true, Note: "no longer stored"}, nil
	}
	if !valid {
		return transfer.Outcome{Bytes: item.Size, Note: noteInvalid}, nil
	}
	return transfer.Outcome{Bytes: item.Size, Note: noteValid}, nil
}

func (e *Engine) record(ctx context.Context, location blobstore.Location, d digest.Digest, ok bool) {
	if e.opts.Results == nil {
		return
	}
	record := &models.Verification{
		Digest:     string(d),
		Location:   string(location),
		OK:         ok,
		VerifiedAt: e.opts.Now().UTC(),
	}
	if err := e.opts.Results.SaveVerification(ctx, record); err != nil {
		e.log.Warn("Failed to save verification of %s: %v", d.Short(), err)
	}
}
