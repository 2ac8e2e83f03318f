package store

import (
	"context"
	"errors"

	"github.com/mwantia/goblob/pkg/db/migrations"
	"github.com/mwantia/goblob/pkg/db/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// MetadataStore defines the interface for database operations
type MetadataStore interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	Migrations(ctx context.Context) ([]migrations.MigrationStatus, error)
	Health(ctx context.Context) error

	// Pack operations
	GetPack(ctx context.Context, name string) (*models.Pack, error)
	DeletePack(ctx context.Context, name string) error

	// Dependency (lock state) operations
	UpsertDependency(ctx context.Context, packName string, dependency *models.PackDependency) error
	DeleteDependency(ctx context.Context, packName, digest string) error
	ListDependencies(ctx context.Context) ([]models.PackDependency, error)

	// Verification operations
	SaveVerification(ctx context.Context, verification *models.Verification) error
	ListVerifications(ctx context.Context) ([]models.Verification, error)
	DeleteVerification(ctx context.Context, digest, location string) error

	// Transfer run operations
	SaveTransferRun(ctx context.Context, run *models.TransferRun) error
	GetTransferRun(ctx context.Context, id string) (*models.TransferRun, error)
	ListTransferRuns(ctx context.Context, limit int) ([]models.TransferRun, error)
}
