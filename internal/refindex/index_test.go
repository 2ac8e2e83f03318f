package refindex

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mwantia/goblob/pkg/blobstore"
	"github.com/mwantia/goblob/pkg/db/store"
	"github.com/mwantia/goblob/pkg/digest"
	"github.com/mwantia/goblob/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	d1 = digest.MustParse(strings.Repeat("a1", 32))
	d2 = digest.MustParse(strings.Repeat("b2", 32))
	d3 = digest.MustParse(strings.Repeat("c3", 32))
)

func TestSnapshot_Derivation(t *testing.T) {
	source := NewMemorySource(
		Dependency{Pack: "zeta", Name: "z.safetensors", Kind: blobstore.KindLora, Digest: d1},
		Dependency{Pack: "alpha", Name: "a.safetensors", Kind: blobstore.KindCheckpoint, Digest: d1},
		Dependency{Pack: "alpha", Name: "dup.safetensors", Kind: blobstore.KindCheckpoint, Digest: d1},
		Dependency{Pack: "alpha", Name: "vae.pt", Kind: blobstore.KindVAE, Digest: d2},
	)
	idx := New(source, log.Discard())

	snapshot, err := idx.Snapshot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"alpha", "zeta"}, snapshot.Packs(d1))
	assert.Equal(t, 2, snapshot.RefCount(d1))
	assert.Equal(t, 1, snapshot.RefCount(d2))
	assert.Zero(t, snapshot.RefCount(d3))
	assert.Empty(t, snapshot.Packs(d3))

	display, ok := snapshot.Display(d1)
	require.True(t, ok)
	assert.Equal(t, "a.safetensors", display.Name)

	assert.Equal(t, []digest.Digest{d1, d2}, snapshot.Digests())
	assert.ElementsMatch(t, []digest.Digest{d1, d2}, snapshot.PackDigests("alpha"))
	assert.True(t, snapshot.HasPack("zeta"))
	assert.False(t, snapshot.HasPack("missing"))
	assert.Equal(t, []string{"alpha", "zeta"}, snapshot.PackNames())
}

func TestIndex_ReflectsCurrentState(t *testing.T) {
	ctx := context.Background()
	source := NewMemorySource(Dependency{Pack: "P", Digest: d1})
	idx := New(source, log.Discard())

	packs, err := idx.Lookup(ctx, d1)
	require.NoError(t, err)
	assert.Equal(t, []string{"P"}, packs)

	require.NoError(t, source.RemovePack(ctx, "P"))

	packs, err = idx.Lookup(ctx, d1)
	require.NoError(t, err)
	assert.Empty(t, packs)
}

func TestLockDirSource(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "portraits.lock.yaml"), []byte(`
dependencies:
  - name: face.safetensors
    kind: LoRA
    digest: `+strings.ToUpper(string(d1))+`
    size: 10
  - name: style.safetensors
    digest: sha256:`+string(d3)+`
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.lock.json"), []byte(
		`{"pack": "renamed", "dependencies": [{"name": "base.ckpt", "kind": "checkpoint", "digest": "`+string(d2)+`"}]}`,
	), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("not a lock"), 0o644))

	source := NewLockDirSource(dir, digest.SHA256, log.Discard())
	dependencies, err := source.Dependencies(context.Background())
	require.NoError(t, err)
	require.Len(t, dependencies, 3)

	byName := map[string]Dependency{}
	for _, dependency := range dependencies {
		byName[dependency.Name] = dependency
	}
	assert.Equal(t, d1, byName["face.safetensors"].Digest)
	assert.Equal(t, blobstore.KindLora, byName["face.safetensors"].Kind)
	assert.Equal(t, "portraits", byName["style.safetensors"].Pack)
	assert.Equal(t, d3, byName["style.safetensors"].Digest)
	assert.Equal(t, "renamed", byName["base.ckpt"].Pack)
	assert.Equal(t, d2, byName["base.ckpt"].Digest)
}

func TestLockDirSource_UnresolvableDigestFails(t *testing.T) {
	tests := map[string]string{
		"garbage":         "not-a-digest",
		"other algorithm": "blake3:" + string(d1),
		"short hex":       "sha256:abcd",
	}

	for name, value := range tests {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, "P.lock.yaml"), []byte(`
dependencies:
  - name: kept.safetensors
    digest: `+string(d2)+`
  - name: odd.safetensors
    digest: `+value+`
`), 0o644))

			_, err := NewLockDirSource(dir, digest.SHA256, log.Discard()).Dependencies(context.Background())
			assert.ErrorContains(t, err, "odd.safetensors")
		})
	}
}

func TestLockDirSource_MissingDirectory(t *testing.T) {
	source := NewLockDirSource(filepath.Join(t.TempDir(), "absent"), digest.SHA256, log.Discard())
	dependencies, err := source.Dependencies(context.Background())
	require.NoError(t, err)
	assert.Empty(t, dependencies)
}

func TestLockDirSource_MalformedFileFails(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.lock.yaml"), []byte("dependencies: [::"), 0o644))

	_, err := NewLockDirSource(dir, digest.SHA256, log.Discard()).Dependencies(context.Background())
	assert.Error(t, err)
}

func TestSQLSource(t *testing.T) {
	ctx := context.Background()
	db, err := store.NewSQLiteStore(store.SQLiteConfig{Path: filepath.Join(t.TempDir(), "refs.db")})
	require.NoError(t, err)
	require.NoError(t, db.Connect(ctx))
	require.NoError(t, db.Migrate(ctx))
	t.Cleanup(func() { db.Close() })

	source := NewSQLSource(db, digest.SHA256, log.Discard())
	require.NoError(t, source.AddDependency(ctx, Dependency{Pack: "P", Name: "a", Kind: blobstore.KindLora, Digest: d1, Size: 3}))
	require.NoError(t, source.AddDependency(ctx, Dependency{Pack: "Q", Name: "b", Digest: d1}))

	snapshot, err := New(source, log.Discard()).Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"P", "Q"}, snapshot.Packs(d1))

	require.NoError(t, source.RemoveDependency(ctx, "Q", d1))
	assert.ErrorIs(t, source.RemoveDependency(ctx, "Q", d1), blobstore.ErrNotFound)
	assert.ErrorIs(t, source.RemovePack(ctx, "nope"), blobstore.ErrNotFound)

	snapshot, err = New(source, log.Discard()).Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"P"}, snapshot.Packs(d1))
}
