package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/mwantia/goblob/pkg/db/migrations"
	"github.com/mwantia/goblob/pkg/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// SQLiteStore implements MetadataStore using SQLite
type SQLiteStore struct {
	db   *gorm.DB
	path string
}

var _ MetadataStore = (*SQLiteStore)(nil)

// DB returns the underlying GORM database instance
func (s *SQLiteStore) DB() *gorm.DB {
	return s.db
}

// SQLiteConfig holds SQLite-specific configuration
type SQLiteConfig struct {
	Path         string
	MaxOpenConns int
	LogLevel     logger.LogLevel
}

// NewSQLiteStore creates a new SQLite-backed metadata store
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	// Default to silent logging
	if cfg.LogLevel == 0 {
		cfg.LogLevel = logger.Silent
	}

	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: logger.Default.LogMode(cfg.LogLevel),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	return &SQLiteStore{
		db:   db,
		path: cfg.Path,
	}, nil
}

// Connect initializes the database connection
func (s *SQLiteStore) Connect(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(1) // SQLite only supports 1 writer
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.Close()
}

// Migrate runs all pending versioned migrations
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	return migrations.NewMigrator(s.db).Migrate(ctx)
}

// Migrations reports every known migration and whether it was applied
func (s *SQLiteStore) Migrations(ctx context.Context) ([]migrations.MigrationStatus, error) {
	return migrations.NewMigrator(s.db).Status(ctx)
}

// Health checks database connectivity
func (s *SQLiteStore) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

func wrapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// Pack operations

func (s *SQLiteStore) GetPack(ctx context.Context, name string) (*models.Pack, error) {
	var pack models.Pack
	err := s.db.WithContext(ctx).
		Preload("Dependencies").
		Where("name = ?", name).
		First(&pack).Error
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &pack, nil
}

func (s *SQLiteStore) DeletePack(ctx context.Context, name string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pack models.Pack
		if err := tx.Where("name = ?", name).First(&pack).Error; err != nil {
			return wrapNotFound(err)
		}
		if err := tx.Where("pack_id = ?", pack.ID).Delete(&models.PackDependency{}).Error; err != nil {
			return err
		}
		return tx.Delete(&pack).Error
	})
}

// Dependency operations

func (s *SQLiteStore) UpsertDependency(ctx context.Context, packName string, dependency *models.PackDependency) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pack := models.Pack{Name: packName}
		if err := tx.Where("name = ?", packName).FirstOrCreate(&pack).Error; err != nil {
			return err
		}

		dependency.PackID = pack.ID
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "pack_id"}, {Name: "digest"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "kind", "size", "updated_at"}),
		}).Create(dependency).Error
	})
}

func (s *SQLiteStore) DeleteDependency(ctx context.Context, packName, digest string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pack models.Pack
		if err := tx.Where("name = ?", packName).First(&pack).Error; err != nil {
			return wrapNotFound(err)
		}
		result := tx.Where("pack_id = ? AND digest = ?", pack.ID, digest).Delete(&models.PackDependency{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *SQLiteStore) ListDependencies(ctx context.Context) ([]models.PackDependency, error) {
	var dependencies []models.PackDependency
	err := s.db.WithContext(ctx).Joins("Pack").Find(&dependencies).Error
	return dependencies, err
}

// Verification operations

func (s *SQLiteStore) SaveVerification(ctx context.Context, verification *models.Verification) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "digest"}, {Name: "location"}},
		DoUpdates: clause.AssignmentColumns([]string{"ok", "verified_at"}),
	}).Create(verification).Error
}

func (s *SQLiteStore) ListVerifications(ctx context.Context) ([]models.Verification, error) {
	var verifications []models.Verification
	err := s.db.WithContext(ctx).Find(&verifications).Error
	return verifications, err
}

func (s *SQLiteStore) DeleteVerification(ctx context.Context, digest, location string) error {
	return s.db.WithContext(ctx).
		Where("digest = ? AND location = ?", digest, location).
		Delete(&models.Verification{}).Error
}

// Transfer run operations

// SaveTransferRun inserts or replaces a run together with its items.
func (s *SQLiteStore) SaveTransferRun(ctx context.Context, run *models.TransferRun) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", run.ID).Delete(&models.TransferItem{}).Error; err != nil {
			return err
		}
		if err := tx.Omit("Items").Save(run).Error; err != nil {
			return err
		}
		if len(run.Items) == 0 {
			return nil
		}
		for i := range run.Items {
			run.Items[i].ID = 0
			run.Items[i].RunID = run.ID
		}
		return tx.Omit("Run").Create(&run.Items).Error
	})
}

func (s *SQLiteStore) GetTransferRun(ctx context.Context, id string) (*models.TransferRun, error) {
	var run models.TransferRun
	err := s.db.WithContext(ctx).Preload("Items").Where("id = ?", id).First(&run).Error
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &run, nil
}

func (s *SQLiteStore) ListTransferRuns(ctx context.Context, limit int) ([]models.TransferRun, error) {
	var runs []models.TransferRun
	query := s.db.WithContext(ctx).Order("started_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&runs).Error
	return runs, err
}
