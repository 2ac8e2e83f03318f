package refindex

import (
	"context"
	"errors"
	"fmt"

	"github.com/mwantia/goblob/pkg/blobstore"
	"github.com/mwantia/goblob/pkg/db/models"
	"github.com/mwantia/goblob/pkg/db/store"
	"github.com/mwantia/goblob/pkg/digest"
	"github.com/mwantia/goblob/pkg/log"
)

// SQLSource reads lock state from the metadata database.
type SQLSource struct {
	db        store.MetadataStore
	algorithm digest.Algorithm
	log       log.LoggerService
}

var (
	_ Source = (*SQLSource)(nil)
	_ Writer = (*SQLSource)(nil)
)

func NewSQLSource(db store.MetadataStore, algorithm digest.Algorithm, logger log.LoggerService) *SQLSource {
	return &SQLSource{db: db, algorithm: algorithm, log: logger}
}

func (s *SQLSource) Dependencies(ctx context.Context) ([]Dependency, error) {
	rows, err := s.db.ListDependencies(ctx)
	if err != nil {
		return nil, err
	}

	dependencies := make([]Dependency, 0, len(rows))
	for _, row := range rows {
		d, err := digest.ParseFor(row.Digest, s.algorithm)
		if err != nil {
			return nil, fmt.Errorf("dependency '%s' of pack '%s': %w", row.Name, row.Pack.Name, err)
		}
		dependencies = append(dependencies, Dependency{
			Pack:   row.Pack.Name,
			Name:   row.Name,
			Kind:   blobstore.ParseKind(row.Kind),
			Digest: d,
			Size:   row.Size,
		})
	}
	s.log.Debug("Read %d dependencies from metadata store", len(dependencies))
	return dependencies, nil
}

func (s *SQLSource) AddDependency(ctx context.Context, dependency Dependency) error {
	if dependency.Pack == "" {
		return fmt.Errorf("dependency %s has no pack", dependency.Digest)
	}
	kind := dependency.Kind
	if kind == "" {
		kind = blobstore.KindUnknown
	}
	return s.db.UpsertDependency(ctx, dependency.Pack, &models.PackDependency{
		Digest: string(dependency.Digest),
		Name:   dependency.Name,
		Kind:   string(kind),
		Size:   dependency.Size,
	})
}

func (s *SQLSource) RemoveDependency(ctx context.Context, pack string, d digest.Digest) error {
	if err := s.db.DeleteDependency(ctx, pack, string(d)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: pack '%s' does not lock %s", blobstore.ErrNotFound, pack, d)
		}
		return err
	}
	return nil
}

func (s *SQLSource) RemovePack(ctx context.Context, pack string) error {
	if err := s.db.DeletePack(ctx, pack); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: pack '%s'", blobstore.ErrNotFound, pack)
		}
		return err
	}
	return nil
}
