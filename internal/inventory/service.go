// Package inventory joins the local and backup blob stores with the
// reference index into one per-digest view. It is the read path every
// write path re-validates against before mutating.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/mwantia/goblob/internal/refindex"
	"github.com/mwantia/goblob/pkg/blobstore"
	"github.com/mwantia/goblob/pkg/db/models"
	"github.com/mwantia/goblob/pkg/digest"
	"github.com/mwantia/goblob/pkg/log"
)

// Item is the computed view of one digest. It is never persisted.
type Item struct {
	Digest     digest.Digest  `json:"digest"`
	Size       int64          `json:"size"`
	Location   Location       `json:"location"`
	Status     Status         `json:"status"`
	Packs      []string       `json:"packs"`
	RefCount   int            `json:"ref_count"`
	Name       string         `json:"name"`
	Kind       blobstore.Kind `json:"kind"`
	Verified   Verified       `json:"verified"`
	VerifiedAt *time.Time     `json:"verified_at,omitempty"`
}

// BackupState reports whether a backup location is configured and whether
// it could be reached while the view was built.
type BackupState struct {
	Enabled   bool `json:"enabled"`
	Connected bool `json:"connected"`
}

// VerificationSource provides the persisted integrity check results.
type VerificationSource interface {
	ListVerifications(ctx context.Context) ([]models.Verification, error)
}

type Service struct {
	local         blobstore.Store
	backup        blobstore.Store
	refs          *refindex.Index
	verifications VerificationSource
	log           log.LoggerService
}

// NewService builds the inventory over local and the optional backup
// store. verifications may be nil, in which case every item reports an
// unknown verification state.
func NewService(local, backup blobstore.Store, refs *refindex.Index, verifications VerificationSource, logger log.LoggerService) *Service {
	return &Service{
		local:         local,
		backup:        backup,
		refs:          refs,
		verifications: verifications,
		log:           logger,
	}
}

func (s *Service) Local() blobstore.Store {
	return s.local
}

// Backup returns nil when no backup location is configured.
func (s *Service) Backup() blobstore.Store {
	return s.backup
}

func (s *Service) References() *refindex.Index {
	return s.refs
}

// Snapshot enumerates the union of digests known to the local store, the
// backup store and the reference index.
func (s *Service) Snapshot(ctx context.Context) (*Snapshot, error) {
	refs, err := s.refs.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	local, err := collect(ctx, s.local)
	if err != nil {
		return nil, fmt.Errorf("failed to list local store: %w", err)
	}

	state := BackupState{Enabled: s.backup != nil}
	var backup map[digest.Digest]bool
	if s.backup != nil {
		backup, err = collect(ctx, s.backup)
		switch {
		case errors.Is(err, blobstore.ErrUnavailable):
			s.log.Warn("Backup store unavailable, reporting local state only: %v", err)
		case err != nil:
			return nil, fmt.Errorf("failed to list backup store: %w", err)
		default:
			state.Connected = true
		}
	}

	verified, err := s.loadVerifications(ctx)
	if err != nil {
		return nil, err
	}

	union := make(map[digest.Digest]struct{}, len(local)+len(backup))
	for d := range local {
		union[d] = struct{}{}
	}
	for d := range backup {
		union[d] = struct{}{}
	}
	for _, d := range refs.Digests() {
		union[d] = struct{}{}
	}

	snapshot := &Snapshot{
		items:  make(map[digest.Digest]Item, len(union)),
		order:  slices.Sorted(maps.Keys(union)),
		backup: state,
		refs:   refs,
	}
	for _, d := range snapshot.order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item, err := s.describe(ctx, d, refs, local[d], backup[d], verified)
		if err != nil {
			return nil, err
		}
		snapshot.items[d] = item
	}

	return snapshot, nil
}

// BuildSummary returns every item plus aggregates by status and kind.
func (s *Service) BuildSummary(ctx context.Context) (*Summary, error) {
	snapshot, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snapshot.Summarize(), nil
}

// Item computes a fresh view of a single digest. It returns ErrNotFound
// when the digest is neither stored nor referenced.
func (s *Service) Item(ctx context.Context, d digest.Digest) (Item, error) {
	refs, err := s.refs.Snapshot(ctx)
	if err != nil {
		return Item{}, err
	}

	onLocal, err := s.local.Exists(ctx, d)
	if err != nil {
		return Item{}, fmt.Errorf("failed to check local store: %w", err)
	}

	onBackup := false
	if s.backup != nil {
		onBackup, err = s.backup.Exists(ctx, d)
		if err != nil {
			if !errors.Is(err, blobstore.ErrUnavailable) {
				return Item{}, fmt.Errorf("failed to check backup store: %w", err)
			}
			onBackup = false
		}
	}

	if !onLocal && !onBackup && refs.RefCount(d) == 0 {
		return Item{}, fmt.Errorf("%w: %s is neither stored nor referenced", blobstore.ErrNotFound, d)
	}

	verified, err := s.loadVerifications(ctx)
	if err != nil {
		return Item{}, err
	}
	return s.describe(ctx, d, refs, onLocal, onBackup, verified)
}

// BackupState probes the backup location without listing it.
func (s *Service) BackupState(ctx context.Context) BackupState {
	if s.backup == nil {
		return BackupState{}
	}
	return BackupState{
		Enabled:   true,
		Connected: s.backup.Available(ctx) == nil,
	}
}

func (s *Service) describe(ctx context.Context, d digest.Digest, refs *refindex.Snapshot, onLocal, onBackup bool, verified verificationIndex) (Item, error) {
	location := DeriveLocation(onLocal, onBackup)
	item := Item{
		Digest:   d,
		Location: location,
		Packs:    refs.Packs(d),
		RefCount: refs.RefCount(d),
		Verified: VerifiedUnknown,
	}
	item.Status = DeriveStatus(item.RefCount, location)

	// Size comes from whichever copy is present; a missing blob falls back
	// to what its pack declared.
	var stores []blobstore.Store
	if onLocal {
		stores = append(stores, s.local)
	}
	if onBackup {
		stores = append(stores, s.backup)
	}
	for _, store := range stores {
		info, err := store.Stat(ctx, d)
		if err == nil {
			item.Size = info.Size
			break
		}
		if !errors.Is(err, blobstore.ErrNotFound) && !errors.Is(err, blobstore.ErrUnavailable) {
			return Item{}, fmt.Errorf("failed to stat %s at %s: %w", d, store.Location(), err)
		}
	}

	if dependency, ok := refs.Display(d); ok {
		item.Name = dependency.Name
		if dependency.Kind != blobstore.KindUnknown {
			item.Kind = dependency.Kind
		}
		if item.Size == 0 {
			item.Size = dependency.Size
		}
	}
	// Fields the reference leaves empty fall back to the manifest.
	if item.Name == "" || item.Kind == "" {
		for _, store := range stores {
			manifest, err := store.ReadManifest(ctx, d)
			if err != nil {
				s.log.Warn("Failed to read manifest of %s at %s: %v", d.Short(), store.Location(), err)
				continue
			}
			if manifest != nil {
				if item.Name == "" {
					item.Name = manifest.Filename
				}
				if item.Kind == "" {
					item.Kind = manifest.Kind
				}
				break
			}
		}
	}
	if item.Name == "" {
		item.Name = d.Short()
	}
	if item.Kind == "" {
		item.Kind = blobstore.KindUnknown
	}

	if record, ok := verified.lookup(d, location); ok {
		at := record.VerifiedAt
		item.VerifiedAt = &at
		item.Verified = VerifiedInvalid
		if record.OK {
			item.Verified = VerifiedValid
		}
	}

	return item, nil
}

type verificationIndex map[string]models.Verification

// lookup prefers the local record and only consults locations that still
// hold a copy.
func (v verificationIndex) lookup(d digest.Digest, location Location) (models.Verification, bool) {
	if location.HasLocal() {
		if record, ok := v[string(d)+"@"+string(blobstore.LocationLocal)]; ok {
			return record, true
		}
	}
	if location.HasBackup() {
		if record, ok := v[string(d)+"@"+string(blobstore.LocationBackup)]; ok {
			return record, true
		}
	}
	return models.Verification{}, false
}

func (s *Service) loadVerifications(ctx context.Context) (verificationIndex, error) {
	if s.verifications == nil {
		return nil, nil
	}
	records, err := s.verifications.ListVerifications(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load verification records: %w", err)
	}
	index := make(verificationIndex, len(records))
	for _, record := range records {
		index[record.Digest+"@"+record.Location] = record
	}
	return index, nil
}

func collect(ctx context.Context, store blobstore.Store) (map[digest.Digest]bool, error) {
	present := make(map[digest.Digest]bool)
	for d, err := range store.List(ctx) {
		if err != nil {
			return nil, err
		}
		present[d] = true
	}
	return present, nil
}
