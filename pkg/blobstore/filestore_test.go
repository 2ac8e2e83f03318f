package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mwantia/goblob/pkg/digest"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemStore(t *testing.T, location Location) *FileStore {
	t.Helper()
	store, err := NewFileStore(Options{
		Location:   location,
		Root:       "/stores/" + string(location),
		Fs:         afero.NewMemMapFs(),
		CreateRoot: true,
	})
	require.NoError(t, err)
	return store
}

func digestOf(t *testing.T, content []byte) digest.Digest {
	t.Helper()
	a, err := digest.NewAddresser(digest.SHA256)
	require.NoError(t, err)
	d, _, err := a.Digest(bytes.NewReader(content))
	require.NoError(t, err)
	return d
}

func readAll(t *testing.T, s Store, d digest.Digest) []byte {
	t.Helper()
	r, err := s.Get(context.Background(), d)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return data
}

func TestFileStore_PutGetRoundtrip(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(t, LocationLocal)

	content := bytes.Repeat([]byte("weights"), 10_000)
	d := digestOf(t, content)

	size, err := store.Put(ctx, d, bytes.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), size)

	exists, err := store.Exists(ctx, d)
	require.NoError(t, err)
	assert.True(t, exists)

	assert.Equal(t, content, readAll(t, store, d))

	info, err := store.Stat(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), info.Size)
}

func TestFileStore_PutOnDisk(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "local")
	store, err := NewFileStore(Options{Location: LocationLocal, Root: root, CreateRoot: true})
	require.NoError(t, err)

	content := []byte("a tiny embedding")
	d := digestOf(t, content)

	_, err = store.Put(ctx, d, bytes.NewReader(content))
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, "blobs", d.Shard(), string(d)))

	free, err := store.FreeSpace(ctx)
	require.NoError(t, err)
	assert.NotZero(t, free)
}

func TestFileStore_PutRejectsMismatch(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(t, LocationBackup)

	claimed := digestOf(t, []byte("what the caller promised"))
	_, err := store.Put(ctx, claimed, bytes.NewReader([]byte("what actually arrived")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIntegrity))

	var integrityErr *IntegrityError
	require.True(t, errors.As(err, &integrityErr))
	assert.Equal(t, claimed, integrityErr.Digest)
	assert.Equal(t, LocationBackup, integrityErr.Location)

	exists, err := store.Exists(ctx, claimed)
	require.NoError(t, err)
	assert.False(t, exists)

	leftovers, err := afero.ReadDir(store.fs, store.tmpPath())
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestFileStore_PutShortCircuitsExisting(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(t, LocationLocal)

	content := []byte("already here")
	d := digestOf(t, content)

	_, err := store.Put(ctx, d, bytes.NewReader(content))
	require.NoError(t, err)

	past := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.fs.Chtimes(store.contentPath(d), past, past))

	// The reader is never consumed when the digest already exists.
	size, err := store.Put(ctx, d, iotest{t: t})
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), size)

	info, err := store.Stat(ctx, d)
	require.NoError(t, err)
	assert.True(t, info.ModTime.Equal(past), "content was rewritten: modtime %s", info.ModTime)
}

type iotest struct {
	t *testing.T
}

func (r iotest) Read([]byte) (int, error) {
	r.t.Error("reader consumed for an existing digest")
	return 0, io.EOF
}

func TestFileStore_ConcurrentPutsOfSameDigest(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(t, LocationLocal)

	content := bytes.Repeat([]byte{7}, 64*1024)
	d := digestOf(t, content)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.Put(ctx, d, bytes.NewReader(content))
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, content, readAll(t, store, d))
}

func TestFileStore_GetMissing(t *testing.T) {
	store := newMemStore(t, LocationLocal)

	_, err := store.Get(context.Background(), digestOf(t, []byte("nope")))
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = store.Stat(context.Background(), digestOf(t, []byte("nope")))
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFileStore_ManifestWriteOnce(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(t, LocationLocal)

	content := []byte("lora bytes")
	d := digestOf(t, content)

	// No content yet: manifests cannot exist without a blob.
	_, err := store.WriteManifestIfAbsent(ctx, d, &Manifest{Filename: "early.safetensors"})
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = store.Put(ctx, d, bytes.NewReader(content))
	require.NoError(t, err)

	manifest, err := store.ReadManifest(ctx, d)
	require.NoError(t, err)
	assert.Nil(t, manifest)

	written, err := store.WriteManifestIfAbsent(ctx, d, &Manifest{
		Filename: "first.safetensors",
		Kind:     KindLora,
		Origin:   &Origin{Provider: "civitai", Identifiers: []string{"1234", "5678"}},
	})
	require.NoError(t, err)
	assert.True(t, written)

	written, err = store.WriteManifestIfAbsent(ctx, d, &Manifest{Filename: "second.safetensors", Kind: KindCheckpoint})
	require.NoError(t, err)
	assert.False(t, written)

	manifest, err = store.ReadManifest(ctx, d)
	require.NoError(t, err)
	require.NotNil(t, manifest)
	assert.Equal(t, "first.safetensors", manifest.Filename)
	assert.Equal(t, KindLora, manifest.Kind)
	assert.Equal(t, ManifestVersion, manifest.Version)
	assert.False(t, manifest.CreatedAt.IsZero())
	require.NotNil(t, manifest.Origin)
	assert.Equal(t, []string{"1234", "5678"}, manifest.Origin.Identifiers)
}

func TestFileStore_ManifestRejectsTooManyIdentifiers(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(t, LocationLocal)

	content := []byte("x")
	d := digestOf(t, content)
	_, err := store.Put(ctx, d, bytes.NewReader(content))
	require.NoError(t, err)

	_, err = store.WriteManifestIfAbsent(ctx, d, &Manifest{
		Origin: &Origin{Provider: "hf", Identifiers: []string{"a", "b", "c", "d", "e"}},
	})
	assert.Error(t, err)
}

func TestFileStore_RemoveDeletesManifest(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(t, LocationLocal)

	content := []byte("vae")
	d := digestOf(t, content)
	_, err := store.Put(ctx, d, bytes.NewReader(content))
	require.NoError(t, err)
	_, err = store.WriteManifestIfAbsent(ctx, d, &Manifest{Filename: "vae.pt", Kind: KindVAE})
	require.NoError(t, err)

	require.NoError(t, store.Remove(ctx, d))

	exists, err := afero.Exists(store.fs, store.manifestPath(d))
	require.NoError(t, err)
	assert.False(t, exists)

	err = store.Remove(ctx, d)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFileStore_ListSkipsManifestsAndStrays(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(t, LocationLocal)

	want := map[digest.Digest]bool{}
	for _, content := range []string{"one", "two", "three"} {
		d := digestOf(t, []byte(content))
		_, err := store.Put(ctx, d, bytes.NewReader([]byte(content)))
		require.NoError(t, err)
		_, err = store.WriteManifestIfAbsent(ctx, d, &Manifest{Filename: content})
		require.NoError(t, err)
		want[d] = true
	}
	require.NoError(t, store.fs.MkdirAll(filepath.Join(store.blobPath(), "ab"), 0o755))
	require.NoError(t, afero.WriteFile(store.fs, filepath.Join(store.blobPath(), "ab", "notes.txt"), []byte("hi"), 0o644))

	list := func() map[digest.Digest]bool {
		got := map[digest.Digest]bool{}
		for d, err := range store.List(ctx) {
			require.NoError(t, err)
			got[d] = true
		}
		return got
	}

	assert.Equal(t, want, list())
	// Listing is restartable.
	assert.Equal(t, want, list())
}

func TestFileStore_VerifyDetectsCorruption(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(t, LocationLocal)

	content := []byte("checkpoint data that will rot")
	d := digestOf(t, content)
	_, err := store.Put(ctx, d, bytes.NewReader(content))
	require.NoError(t, err)

	ok, err := store.Verify(ctx, d)
	require.NoError(t, err)
	assert.True(t, ok)

	corrupted := append([]byte(nil), content...)
	corrupted[3] ^= 0xff
	require.NoError(t, afero.WriteFile(store.fs, store.contentPath(d), corrupted, 0o644))

	ok, err = store.Verify(ctx, d)
	require.NoError(t, err)
	assert.False(t, ok)

	// Verification never touches the stored bytes.
	assert.Equal(t, corrupted, readAll(t, store, d))
}

func TestFileStore_UnavailableBackup(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(Options{
		Location: LocationBackup,
		Root:     "/mnt/not-mounted",
		Fs:       afero.NewMemMapFs(),
	})
	require.NoError(t, err)

	assert.True(t, errors.Is(store.Available(ctx), ErrUnavailable))

	_, err = store.Exists(ctx, digestOf(t, []byte("x")))
	assert.True(t, errors.Is(err, ErrUnavailable))

	for _, err := range store.List(ctx) {
		assert.True(t, errors.Is(err, ErrUnavailable))
	}
}

func TestParseKind(t *testing.T) {
	assert.Equal(t, KindUnknown, ParseKind(""))
	assert.Equal(t, KindLora, ParseKind("LoRA"))
	assert.Equal(t, KindEmbedding, ParseKind("TextualInversion"))
	assert.Equal(t, KindOther, ParseKind("motion-module"))
}
