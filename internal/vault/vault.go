// Package vault is the store handle. It builds every component from
// configuration and exposes the operations external callers use.
package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	config "github.com/mwantia/goblob/internal/config/server"
	"github.com/mwantia/goblob/internal/cleanup"
	"github.com/mwantia/goblob/internal/inventory"
	"github.com/mwantia/goblob/internal/refindex"
	"github.com/mwantia/goblob/internal/syncer"
	"github.com/mwantia/goblob/internal/transfer"
	"github.com/mwantia/goblob/internal/verify"
	"github.com/mwantia/goblob/pkg/blobstore"
	"github.com/mwantia/goblob/pkg/db/migrations"
	"github.com/mwantia/goblob/pkg/db/store"
	"github.com/mwantia/goblob/pkg/digest"
	"github.com/mwantia/goblob/pkg/log"
)

// Components are the collaborators a Vault is assembled from. Backup and
// Metadata are optional.
type Components struct {
	Addresser  *digest.Addresser
	Local      blobstore.Store
	Backup     blobstore.Store
	Metadata   store.MetadataStore
	References refindex.Source

	BandwidthLimit int64
	Concurrency    int
	StatusCacheTTL time.Duration
	RunRetention   time.Duration
}

type Vault struct {
	log       log.LoggerService
	addresser *digest.Addresser
	local     blobstore.Store
	backup    blobstore.Store
	metadata  store.MetadataStore
	refs      *refindex.Index
	writer    refindex.Writer

	inventory *inventory.Service
	analyzer  *inventory.Analyzer
	syncer    *syncer.Engine
	cleanup   *cleanup.Engine
	verifier  *verify.Engine

	runs   *transfer.Registry
	status *ttlcache.Cache[string, BackupStatus]

	background context.Context
	stop       context.CancelFunc
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// Open builds a Vault from configuration: the local store, the optional
// backup store, the metadata database and the configured reference
// source.
func Open(ctx context.Context, cfg *config.BaseServerConfig, logger log.LoggerService) (*Vault, error) {
	addresser, err := digest.NewAddresser(digest.Algorithm(cfg.Store.Hash))
	if err != nil {
		return nil, invalid("store.hash: %v", err)
	}

	local, err := blobstore.NewFileStore(blobstore.Options{
		Location:   blobstore.LocationLocal,
		Root:       cfg.Store.Path,
		Addresser:  addresser,
		CreateRoot: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	var backup blobstore.Store
	if cfg.Backup.Enabled {
		backup, err = blobstore.NewFileStore(blobstore.Options{
			Location:  blobstore.LocationBackup,
			Root:      cfg.Backup.Path,
			Addresser: addresser,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open backup store: %w", err)
		}
		if err := backup.Available(ctx); err != nil {
			logger.Warn("Backup store is not reachable yet: %v", err)
		}
	}

	bandwidth, err := cfg.Backup.BandwidthBytes()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	if cfg.Metadata.Type != "" && cfg.Metadata.Type != "sqlite" {
		return nil, invalid("unsupported metadata type '%s'", cfg.Metadata.Type)
	}
	metadata, err := store.NewSQLiteStore(store.SQLiteConfig{Path: cfg.Metadata.SQLite.Path})
	if err != nil {
		return nil, err
	}
	if err := metadata.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to metadata store: %w", err)
	}
	if err := metadata.Migrate(ctx); err != nil {
		metadata.Close()
		return nil, fmt.Errorf("failed to migrate metadata store: %w", err)
	}

	var source refindex.Source
	switch cfg.References.Source {
	case "", "sqlite":
		source = refindex.NewSQLSource(metadata, addresser.Algorithm(), logger.Named("refs"))
	case "lockdir":
		source = refindex.NewLockDirSource(cfg.References.LockDir, addresser.Algorithm(), logger.Named("refs"))
	default:
		metadata.Close()
		return nil, invalid("unsupported reference source '%s'", cfg.References.Source)
	}

	return New(Components{
		Addresser:      addresser,
		Local:          local,
		Backup:         backup,
		Metadata:       metadata,
		References:     source,
		BandwidthLimit: bandwidth,
		Concurrency:    cfg.Backup.Workers(),
		StatusCacheTTL: cfg.Backup.StatusTTL(),
		RunRetention:   cfg.Runs.RetentionDuration(),
	}, logger), nil
}

// New assembles a Vault from ready-made components.
func New(c Components, logger log.LoggerService) *Vault {
	if c.Addresser == nil {
		c.Addresser, _ = digest.NewAddresser(digest.SHA256)
	}
	if c.StatusCacheTTL <= 0 {
		c.StatusCacheTTL = 5 * time.Second
	}
	if c.RunRetention <= 0 {
		c.RunRetention = time.Hour
	}

	v := &Vault{
		log:       logger,
		addresser: c.Addresser,
		local:     c.Local,
		backup:    c.Backup,
		metadata:  c.Metadata,
		refs:      refindex.New(c.References, logger.Named("refs")),
		runs:      transfer.NewRegistry(c.RunRetention),
		status: ttlcache.New[string, BackupStatus](
			ttlcache.WithTTL[string, BackupStatus](c.StatusCacheTTL),
			ttlcache.WithDisableTouchOnHit[string, BackupStatus](),
		),
	}
	v.background, v.stop = context.WithCancel(context.Background())

	if writer, ok := c.References.(refindex.Writer); ok {
		v.writer = writer
	}

	var (
		verifications inventory.VerificationSource
		recorder      transfer.Recorder
		results       verify.ResultStore
		forgetter     cleanup.VerificationForgetter
	)
	if c.Metadata != nil {
		verifications = c.Metadata
		recorder = transfer.NewStoreRecorder(c.Metadata)
		results = c.Metadata
		forgetter = c.Metadata
	}

	v.inventory = inventory.NewService(c.Local, c.Backup, v.refs, verifications, logger.Named("inventory"))
	v.analyzer = inventory.NewAnalyzer(v.inventory)
	v.syncer = syncer.New(v.inventory, syncer.Options{
		BandwidthLimit: c.BandwidthLimit,
		Concurrency:    c.Concurrency,
		Recorder:       recorder,
		Logger:         logger.Named("sync"),
	})
	v.cleanup = cleanup.New(v.inventory, cleanup.Options{
		Recorder:      recorder,
		Verifications: forgetter,
		Logger:        logger.Named("cleanup"),
	})
	v.verifier = verify.New(v.inventory, verify.Options{
		Results:  results,
		Recorder: recorder,
		Logger:   logger.Named("verify"),
	})

	go v.status.Start()
	return v
}

// Close cancels background runs, waits for their in-flight items and
// closes the metadata store.
func (v *Vault) Close() error {
	var err error
	v.closeOnce.Do(func() {
		v.stop()
		v.wg.Wait()
		v.runs.Stop()
		v.status.Stop()
		if v.metadata != nil {
			err = v.metadata.Close()
		}
	})
	return err
}

// Health reports whether the local store and metadata database respond.
func (v *Vault) Health(ctx context.Context) error {
	if err := v.local.Available(ctx); err != nil {
		return err
	}
	if v.metadata != nil {
		if err := v.metadata.Health(ctx); err != nil {
			return fmt.Errorf("metadata store: %w", err)
		}
	}
	return nil
}

func (v *Vault) Migrations(ctx context.Context) ([]migrations.MigrationStatus, error) {
	if v.metadata == nil {
		return nil, fmt.Errorf("%w: no metadata store configured", ErrUnavailable)
	}
	return v.metadata.Migrations(ctx)
}

// launch runs op in the background and keeps it addressable by id.
func (v *Vault) launch(op *transfer.Operation) {
	v.runs.Track(op)
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		if _, err := op.Run(v.background); err != nil && !errors.Is(err, transfer.ErrAlreadyStarted) {
			v.log.Error("Background run %s failed: %v", op.ID(), err)
		}
	}()
}

// runInline executes op on the caller's context while keeping it
// addressable for cancellation from elsewhere.
func (v *Vault) runInline(ctx context.Context, op *transfer.Operation) (transfer.Run, error) {
	v.runs.Track(op)
	return op.Run(ctx)
}
