// Package refindex derives, for every digest, the set of packs whose lock
// state currently declares it. Nothing is cached across calls: each
// Snapshot re-reads the source so callers deciding whether a blob is safe
// to delete never act on stale references.
package refindex

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/mwantia/goblob/pkg/blobstore"
	"github.com/mwantia/goblob/pkg/digest"
	"github.com/mwantia/goblob/pkg/log"
)

// Dependency is one (pack, digest) reference together with the display
// metadata the pack declares for it.
type Dependency struct {
	Pack   string         `json:"pack"`
	Name   string         `json:"name"`
	Kind   blobstore.Kind `json:"kind"`
	Digest digest.Digest  `json:"digest"`
	Size   int64          `json:"size,omitempty"`
}

// Source reads the current lock state of every pack.
type Source interface {
	Dependencies(ctx context.Context) ([]Dependency, error)
}

// Writer is implemented by sources whose lock state this process owns.
type Writer interface {
	AddDependency(ctx context.Context, dependency Dependency) error
	RemoveDependency(ctx context.Context, pack string, d digest.Digest) error
	RemovePack(ctx context.Context, pack string) error
}

type Index struct {
	source Source
	log    log.LoggerService
}

func New(source Source, logger log.LoggerService) *Index {
	return &Index{
		source: source,
		log:    logger,
	}
}

// Source exposes the underlying source, e.g. to check for Writer.
func (idx *Index) Source() Source {
	return idx.source
}

// Snapshot reads the lock state once. The result is only valid for the
// logical operation that requested it.
func (idx *Index) Snapshot(ctx context.Context) (*Snapshot, error) {
	dependencies, err := idx.source.Dependencies(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read pack lock state: %w", err)
	}
	return newSnapshot(dependencies), nil
}

// Lookup returns the packs currently referencing d.
func (idx *Index) Lookup(ctx context.Context, d digest.Digest) ([]string, error) {
	snapshot, err := idx.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snapshot.Packs(d), nil
}

// Snapshot is an immutable view of references at one point in time.
type Snapshot struct {
	byDigest map[digest.Digest][]Dependency
	byPack   map[string][]digest.Digest
}

func newSnapshot(dependencies []Dependency) *Snapshot {
	s := &Snapshot{
		byDigest: make(map[digest.Digest][]Dependency),
		byPack:   make(map[string][]digest.Digest),
	}

	seen := make(map[string]bool)
	for _, dependency := range dependencies {
		key := dependency.Pack + "\x00" + string(dependency.Digest)
		if seen[key] {
			continue
		}
		seen[key] = true

		s.byDigest[dependency.Digest] = append(s.byDigest[dependency.Digest], dependency)
		s.byPack[dependency.Pack] = append(s.byPack[dependency.Pack], dependency.Digest)
	}

	for d := range s.byDigest {
		slices.SortFunc(s.byDigest[d], func(a, b Dependency) int {
			return strings.Compare(a.Pack, b.Pack)
		})
	}
	for pack := range s.byPack {
		slices.Sort(s.byPack[pack])
	}

	return s
}

// Packs returns the distinct pack names referencing d, sorted.
func (s *Snapshot) Packs(d digest.Digest) []string {
	dependencies := s.byDigest[d]
	packs := make([]string, 0, len(dependencies))
	for _, dependency := range dependencies {
		packs = append(packs, dependency.Pack)
	}
	return packs
}

func (s *Snapshot) RefCount(d digest.Digest) int {
	return len(s.byDigest[d])
}

// Display returns the declaration of the first referencing pack by name.
func (s *Snapshot) Display(d digest.Digest) (Dependency, bool) {
	dependencies := s.byDigest[d]
	if len(dependencies) == 0 {
		return Dependency{}, false
	}
	return dependencies[0], true
}

// Digests returns every referenced digest, sorted.
func (s *Snapshot) Digests() []digest.Digest {
	digests := make([]digest.Digest, 0, len(s.byDigest))
	for d := range s.byDigest {
		digests = append(digests, d)
	}
	slices.Sort(digests)
	return digests
}

func (s *Snapshot) HasPack(pack string) bool {
	_, ok := s.byPack[pack]
	return ok
}

// PackDigests returns the digests locked by pack.
func (s *Snapshot) PackDigests(pack string) []digest.Digest {
	return slices.Clone(s.byPack[pack])
}

// PackNames lists every pack with at least one dependency, sorted.
func (s *Snapshot) PackNames() []string {
	names := make([]string, 0, len(s.byPack))
	for pack := range s.byPack {
		names = append(names, pack)
	}
	slices.Sort(names)
	return names
}
