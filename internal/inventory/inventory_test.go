package inventory

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mwantia/goblob/internal/refindex"
	"github.com/mwantia/goblob/internal/storetest"
	"github.com/mwantia/goblob/pkg/blobstore"
	"github.com/mwantia/goblob/pkg/db/models"
	"github.com/mwantia/goblob/pkg/digest"
	"github.com/mwantia/goblob/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticVerifications []models.Verification

func (s staticVerifications) ListVerifications(context.Context) ([]models.Verification, error) {
	return s, nil
}

func TestDeriveLocation(t *testing.T) {
	assert.Equal(t, LocationBoth, DeriveLocation(true, true))
	assert.Equal(t, LocationLocalOnly, DeriveLocation(true, false))
	assert.Equal(t, LocationBackupOnly, DeriveLocation(false, true))
	assert.Equal(t, LocationNowhere, DeriveLocation(false, false))
}

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		refCount int
		location Location
		expected Status
	}{
		{1, LocationLocalOnly, StatusReferenced},
		{2, LocationBackupOnly, StatusReferenced},
		{1, LocationBoth, StatusReferenced},
		{3, LocationNowhere, StatusMissing},
		{0, LocationBackupOnly, StatusBackupOnly},
		{0, LocationLocalOnly, StatusOrphan},
		{0, LocationBoth, StatusOrphan},
	}

	for _, tt := range tests {
		t.Run(string(tt.location)+"/"+string(tt.expected), func(t *testing.T) {
			assert.Equal(t, tt.expected, DeriveStatus(tt.refCount, tt.location))
		})
	}
}

type fixture struct {
	local  *blobstore.FileStore
	backup *blobstore.FileStore
	refs   *refindex.MemorySource
	svc    *Service
}

func newFixture(t *testing.T, verifications VerificationSource) *fixture {
	f := &fixture{
		local:  storetest.NewStore(t, blobstore.LocationLocal),
		backup: storetest.NewStore(t, blobstore.LocationBackup),
		refs:   refindex.NewMemorySource(),
	}
	f.svc = NewService(f.local, f.backup, refindex.New(f.refs, log.Discard()), verifications, log.Discard())
	return f
}

func TestBuildSummary_EveryDigestHasOneLocationAndStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	referencedLocal := storetest.Put(t, storetest.Content("a", 10), f.local)
	orphanBoth := storetest.Put(t, storetest.Content("b", 20), f.local, f.backup)
	backupOnly := storetest.Put(t, storetest.Content("c", 30), f.backup)
	missing := digest.MustParse(strings.Repeat("0f", 32))

	require.NoError(t, f.refs.AddDependency(ctx, refindex.Dependency{Pack: "P", Name: "a.safetensors", Kind: blobstore.KindLora, Digest: referencedLocal}))
	require.NoError(t, f.refs.AddDependency(ctx, refindex.Dependency{Pack: "Q", Name: "gone.ckpt", Kind: blobstore.KindCheckpoint, Digest: missing, Size: 99}))

	summary, err := f.svc.BuildSummary(ctx)
	require.NoError(t, err)
	require.Len(t, summary.Items, 4)

	byDigest := map[digest.Digest]Item{}
	for _, item := range summary.Items {
		byDigest[item.Digest] = item
	}

	assert.Equal(t, LocationLocalOnly, byDigest[referencedLocal].Location)
	assert.Equal(t, StatusReferenced, byDigest[referencedLocal].Status)
	assert.Equal(t, "a.safetensors", byDigest[referencedLocal].Name)
	assert.Equal(t, int64(10), byDigest[referencedLocal].Size)

	assert.Equal(t, LocationBoth, byDigest[orphanBoth].Location)
	assert.Equal(t, StatusOrphan, byDigest[orphanBoth].Status)
	assert.Equal(t, orphanBoth.Short(), byDigest[orphanBoth].Name)
	assert.Equal(t, blobstore.KindUnknown, byDigest[orphanBoth].Kind)

	assert.Equal(t, StatusBackupOnly, byDigest[backupOnly].Status)

	assert.Equal(t, LocationNowhere, byDigest[missing].Location)
	assert.Equal(t, StatusMissing, byDigest[missing].Status)
	assert.Equal(t, int64(99), byDigest[missing].Size)

	assert.Equal(t, Totals{Count: 1, Bytes: 20}, summary.ByStatus[StatusOrphan])
	assert.Equal(t, Totals{Count: 1, Bytes: 10}, summary.ByKind[blobstore.KindLora])
	assert.Equal(t, 4, summary.Total.Count)
	assert.Equal(t, BackupState{Enabled: true, Connected: true}, summary.Backup)
}

func TestBuildSummary_DisplayFallsBackToManifest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	d := storetest.Put(t, storetest.Content("m", 8), f.backup)
	_, err := f.backup.WriteManifestIfAbsent(ctx, d, &blobstore.Manifest{Filename: "upscale.pth", Kind: blobstore.KindUpscaler})
	require.NoError(t, err)

	item, err := f.svc.Item(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, "upscale.pth", item.Name)
	assert.Equal(t, blobstore.KindUpscaler, item.Kind)

	// An active reference shadows the manifest.
	require.NoError(t, f.refs.AddDependency(ctx, refindex.Dependency{Pack: "P", Name: "4x.pth", Kind: blobstore.KindOther, Digest: d}))
	item, err = f.svc.Item(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, "4x.pth", item.Name)
	assert.Equal(t, blobstore.KindOther, item.Kind)
}

func TestItem_PartialReferenceFallsBackToManifest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	d := storetest.Put(t, storetest.Content("partial", 16), f.local)
	_, err := f.local.WriteManifestIfAbsent(ctx, d, &blobstore.Manifest{Filename: "real.safetensors", Kind: blobstore.KindLora})
	require.NoError(t, err)

	require.NoError(t, f.refs.AddDependency(ctx, refindex.Dependency{Pack: "P", Digest: d}))
	item, err := f.svc.Item(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, "real.safetensors", item.Name)
	assert.Equal(t, blobstore.KindLora, item.Kind)

	require.NoError(t, f.refs.RemovePack(ctx, "P"))
	require.NoError(t, f.refs.AddDependency(ctx, refindex.Dependency{Pack: "P", Name: "alias.safetensors", Kind: blobstore.KindUnknown, Digest: d}))
	item, err = f.svc.Item(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, "alias.safetensors", item.Name)
	assert.Equal(t, blobstore.KindLora, item.Kind)
}

func TestBuildSummary_UnreachableBackup(t *testing.T) {
	ctx := context.Background()
	local := storetest.NewStore(t, blobstore.LocationLocal)
	d := storetest.Put(t, storetest.Content("x", 4), local)

	svc := NewService(local, storetest.NewUnmounted(t), refindex.New(refindex.NewMemorySource(), log.Discard()), nil, log.Discard())

	summary, err := svc.BuildSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, BackupState{Enabled: true, Connected: false}, summary.Backup)
	require.Len(t, summary.Items, 1)
	assert.Equal(t, d, summary.Items[0].Digest)
	assert.Equal(t, LocationLocalOnly, summary.Items[0].Location)

	item, err := svc.Item(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, LocationLocalOnly, item.Location)
}

func TestItem_UnknownDigest(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Item(context.Background(), digest.MustParse(strings.Repeat("ee", 32)))
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestItem_VerificationState(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	local := storetest.NewStore(t, blobstore.LocationLocal)
	good := storetest.Put(t, storetest.Content("good", 16), local)
	bad := storetest.Put(t, storetest.Content("bad", 16), local)
	unchecked := storetest.Put(t, storetest.Content("new", 16), local)

	records := staticVerifications{
		{Digest: string(good), Location: "local", OK: true, VerifiedAt: at},
		{Digest: string(bad), Location: "local", OK: false, VerifiedAt: at},
		// Only consulted when the blob has a backup copy.
		{Digest: string(unchecked), Location: "backup", OK: true, VerifiedAt: at},
	}
	svc := NewService(local, nil, refindex.New(refindex.NewMemorySource(), log.Discard()), records, log.Discard())

	item, err := svc.Item(ctx, good)
	require.NoError(t, err)
	assert.Equal(t, VerifiedValid, item.Verified)
	require.NotNil(t, item.VerifiedAt)
	assert.True(t, at.Equal(*item.VerifiedAt))

	item, err = svc.Item(ctx, bad)
	require.NoError(t, err)
	assert.Equal(t, VerifiedInvalid, item.Verified)

	item, err = svc.Item(ctx, unchecked)
	require.NoError(t, err)
	assert.Equal(t, VerifiedUnknown, item.Verified)
	assert.Nil(t, item.VerifiedAt)
}

func TestAnalyze_ReferencedLocalOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	d1 := storetest.Put(t, storetest.Content("d1", 1024), f.local)
	require.NoError(t, f.refs.AddDependency(ctx, refindex.Dependency{Pack: "P", Digest: d1}))

	analyzer := NewAnalyzer(f.svc)

	impact, err := analyzer.Analyze(ctx, d1, "")
	require.NoError(t, err)
	assert.Equal(t, TargetBoth, impact.Target)
	assert.False(t, impact.SafeToDelete)
	assert.Equal(t, []string{"P"}, impact.Packs)
	assert.NotEmpty(t, impact.Warning)

	impact, err = analyzer.Analyze(ctx, d1, TargetLocal)
	require.NoError(t, err)
	assert.False(t, impact.SafeToDelete)
}

func TestAssess(t *testing.T) {
	d := digest.MustParse(strings.Repeat("aa", 32))
	referenced := func(location Location) Item {
		return Item{Digest: d, Location: location, RefCount: 1, Packs: []string{"P"}, Status: DeriveStatus(1, location)}
	}

	tests := []struct {
		name   string
		item   Item
		target Target
		safe   bool
		warn   bool
	}{
		{"one side of both", referenced(LocationBoth), TargetLocal, true, false},
		{"other side of both", referenced(LocationBoth), TargetBackup, true, false},
		{"both sides of both", referenced(LocationBoth), TargetBoth, false, true},
		{"only local copy", referenced(LocationLocalOnly), TargetLocal, false, true},
		{"backup of local only", referenced(LocationLocalOnly), TargetBackup, true, true},
		{"orphan", Item{Digest: d, Location: LocationLocalOnly, Status: StatusOrphan}, TargetBoth, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			impact := Assess(tt.item, tt.target)
			assert.Equal(t, tt.safe, impact.SafeToDelete)
			assert.Equal(t, tt.warn, impact.Warning != "")
		})
	}
}

func TestParseTarget(t *testing.T) {
	target, err := ParseTarget("")
	require.NoError(t, err)
	assert.Equal(t, TargetBoth, target)

	target, err = ParseTarget("Backup")
	require.NoError(t, err)
	assert.Equal(t, TargetBackup, target)

	_, err = ParseTarget("elsewhere")
	assert.Error(t, err)
}
