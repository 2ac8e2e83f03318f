package blobstore

import (
	"context"
	"io"
	"iter"
	"time"

	"github.com/mwantia/goblob/pkg/digest"
)

// Location identifies which copy of the store an instance manages.
type Location string

const (
	LocationLocal  Location = "local"
	LocationBackup Location = "backup"
)

// Info describes stored content without reading it.
type Info struct {
	Digest  digest.Digest
	Size    int64
	ModTime time.Time
}

// Store owns the physical content for one location.
type Store interface {
	Location() Location
	Root() string

	// Available reports ErrUnavailable when the location cannot be reached.
	Available(ctx context.Context) error

	// Put writes r under d and returns the content size. The content only
	// becomes visible once it has been verified to hash to d. Putting a
	// digest that is already present is a no-op.
	Put(ctx context.Context, d digest.Digest, r io.Reader) (int64, error)
	Get(ctx context.Context, d digest.Digest) (io.ReadCloser, error)
	Exists(ctx context.Context, d digest.Digest) (bool, error)
	Stat(ctx context.Context, d digest.Digest) (Info, error)

	// Remove deletes content and its manifest together.
	Remove(ctx context.Context, d digest.Digest) error

	// ReadManifest returns nil without error when no manifest exists.
	ReadManifest(ctx context.Context, d digest.Digest) (*Manifest, error)
	// WriteManifestIfAbsent reports whether m was written. A manifest that
	// already exists is never replaced.
	WriteManifestIfAbsent(ctx context.Context, d digest.Digest, m *Manifest) (bool, error)

	// List yields every stored digest. Each call starts a fresh listing.
	List(ctx context.Context) iter.Seq2[digest.Digest, error]

	// Verify rehashes stored content and reports whether it matches d.
	Verify(ctx context.Context, d digest.Digest) (bool, error)

	// FreeSpace returns available bytes, or -1 when unknown.
	FreeSpace(ctx context.Context) (int64, error)
}
