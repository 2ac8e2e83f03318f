// Package storetest builds isolated in-memory blob stores for tests.
package storetest

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"github.com/mwantia/goblob/pkg/blobstore"
	"github.com/mwantia/goblob/pkg/digest"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// NewStore returns a FileStore for location on its own MemMapFs.
func NewStore(t testing.TB, location blobstore.Location) *blobstore.FileStore {
	t.Helper()
	store, err := blobstore.NewFileStore(blobstore.Options{
		Location:   location,
		Root:       "/stores/" + string(location),
		Fs:         afero.NewMemMapFs(),
		CreateRoot: true,
	})
	require.NoError(t, err)
	return store
}

// NewUnmounted returns a backup store whose root does not exist.
func NewUnmounted(t testing.TB) *blobstore.FileStore {
	t.Helper()
	store, err := blobstore.NewFileStore(blobstore.Options{
		Location: blobstore.LocationBackup,
		Root:     "/mnt/unmounted",
		Fs:       afero.NewMemMapFs(),
	})
	require.NoError(t, err)
	return store
}

// Content returns size deterministic bytes derived from seed.
func Content(seed string, size int) []byte {
	pattern := []byte(seed)
	if len(pattern) == 0 {
		pattern = []byte{0}
	}
	return bytes.Repeat(pattern, size/len(pattern)+1)[:size]
}

func Digest(t testing.TB, content []byte) digest.Digest {
	t.Helper()
	addresser, err := digest.NewAddresser(digest.SHA256)
	require.NoError(t, err)
	d, _, err := addresser.Digest(bytes.NewReader(content))
	require.NoError(t, err)
	return d
}

// Put stores content in every given store and returns its digest.
func Put(t testing.TB, content []byte, stores ...blobstore.Store) digest.Digest {
	t.Helper()
	d := Digest(t, content)
	for _, store := range stores {
		_, err := store.Put(context.Background(), d, bytes.NewReader(content))
		require.NoError(t, err)
	}
	return d
}

func Exists(t testing.TB, store blobstore.Store, d digest.Digest) bool {
	t.Helper()
	exists, err := store.Exists(context.Background(), d)
	require.NoError(t, err)
	return exists
}

// FailingStore wraps a Store and fails Put for selected digests.
type FailingStore struct {
	blobstore.Store

	mu       sync.Mutex
	failures map[digest.Digest]error
	puts     []digest.Digest
}

func NewFailingStore(store blobstore.Store) *FailingStore {
	return &FailingStore{
		Store:    store,
		failures: make(map[digest.Digest]error),
	}
}

// FailPut makes every Put of d return err until cleared with a nil err.
func (f *FailingStore) FailPut(d digest.Digest, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, d)
		return
	}
	f.failures[d] = err
}

// Puts lists the digests Put was called with, in call order.
func (f *FailingStore) Puts() []digest.Digest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]digest.Digest(nil), f.puts...)
}

func (f *FailingStore) Put(ctx context.Context, d digest.Digest, r io.Reader) (int64, error) {
	f.mu.Lock()
	f.puts = append(f.puts, d)
	err := f.failures[d]
	f.mu.Unlock()

	if err != nil {
		// Drain like a real transfer would before failing.
		io.Copy(io.Discard, r)
		return 0, err
	}
	return f.Store.Put(ctx, d, r)
}
