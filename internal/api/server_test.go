package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mwantia/goblob/internal/inventory"
	"github.com/mwantia/goblob/internal/refindex"
	"github.com/mwantia/goblob/internal/storetest"
	"github.com/mwantia/goblob/internal/transfer"
	"github.com/mwantia/goblob/internal/vault"
	"github.com/mwantia/goblob/pkg/blobstore"
	"github.com/mwantia/goblob/pkg/digest"
	"github.com/mwantia/goblob/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	local   *blobstore.FileStore
	backup  *storetest.FailingStore
	refs    *refindex.MemorySource
	handler *Handler
}

func newFixture(t *testing.T, withBackup bool) *fixture {
	f := &fixture{
		local: storetest.NewStore(t, blobstore.LocationLocal),
		refs:  refindex.NewMemorySource(),
	}
	components := vault.Components{
		Local:      f.local,
		References: f.refs,
	}
	if withBackup {
		f.backup = storetest.NewFailingStore(storetest.NewStore(t, blobstore.LocationBackup))
		components.Backup = f.backup
	}

	v := vault.New(components, log.Discard())
	t.Cleanup(func() { v.Close() })
	f.handler = NewHandler(v, log.Discard())
	return f
}

func (f *fixture) reference(t *testing.T, pack string, d digest.Digest) {
	require.NoError(t, f.refs.AddDependency(context.Background(), refindex.Dependency{Pack: pack, Digest: d}))
}

func (f *fixture) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestInventory(t *testing.T) {
	f := newFixture(t, true)
	d1 := storetest.Put(t, storetest.Content("d1", 1024), f.local, f.backup)
	storetest.Put(t, storetest.Content("d2", 512), f.local)
	f.reference(t, "P", d1)

	rec := f.do(t, http.MethodGet, "/v1/inventory", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	summary := decode[inventory.Summary](t, rec)
	assert.Len(t, summary.Items, 2)
	assert.Equal(t, 1, summary.ByStatus[inventory.StatusReferenced].Count)
	assert.Equal(t, 1, summary.ByStatus[inventory.StatusOrphan].Count)
	assert.Equal(t, int64(1536), summary.Total.Bytes)
	assert.True(t, summary.Backup.Connected)
}

func TestDelete_ConflictCarriesPacks(t *testing.T) {
	f := newFixture(t, true)
	d1 := storetest.Put(t, storetest.Content("d1", 2048), f.local)
	f.reference(t, "P", d1)

	rec := f.do(t, http.MethodGet, "/v1/blobs/"+string(d1)+"/impact?target=local", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	impact := decode[inventory.Impact](t, rec)
	assert.False(t, impact.SafeToDelete)
	assert.Equal(t, []string{"P"}, impact.Packs)

	rec = f.do(t, http.MethodDelete, "/v1/blobs/"+string(d1)+"?target=local", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decode[errorResponse](t, rec)
	assert.Equal(t, []string{"P"}, resp.Packs)
	assert.Equal(t, string(d1), resp.Digest)
	assert.True(t, storetest.Exists(t, f.local, d1))

	rec = f.do(t, http.MethodDelete, "/v1/blobs/"+string(d1)+"?target=local&force=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	deletion := decode[vault.Deletion](t, rec)
	assert.True(t, deletion.Forced)
	assert.Equal(t, []blobstore.Location{blobstore.LocationLocal}, deletion.Removed)
	assert.False(t, storetest.Exists(t, f.local, d1))
}

func TestBadRequests(t *testing.T) {
	f := newFixture(t, true)
	d1 := storetest.Put(t, storetest.Content("d1", 64), f.local)

	tests := []struct {
		name   string
		method string
		target string
		body   any
	}{
		{"malformed digest", http.MethodGet, "/v1/blobs/sha256:xyz/impact", nil},
		{"unknown target", http.MethodDelete, "/v1/blobs/" + string(d1) + "?target=remote", nil},
		{"bad force flag", http.MethodDelete, "/v1/blobs/" + string(d1) + "?force=maybe", nil},
		{"unknown direction", http.MethodPost, "/v1/backup-sync", map[string]any{"direction": "sideways"}},
		{"unknown field", http.MethodPost, "/v1/cleanup-orphans", map[string]any{"dryrun": true}},
		{"unknown location", http.MethodPost, "/v1/verify", map[string]any{"location": "cloud"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.target, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
	assert.True(t, storetest.Exists(t, f.local, d1))
}

func TestNotFound(t *testing.T) {
	f := newFixture(t, true)
	unknown := storetest.Digest(t, []byte("never stored"))

	rec := f.do(t, http.MethodGet, "/v1/blobs/"+string(unknown)+"/impact", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/blobs/"+string(unknown)+"/backup", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/runs/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBackupUnavailable(t *testing.T) {
	f := newFixture(t, false)
	d1 := storetest.Put(t, storetest.Content("d1", 64), f.local)

	rec := f.do(t, http.MethodPost, "/v1/backup-sync", vault.SyncRequest{Direction: "to_backup", DryRun: true})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/blobs/"+string(d1)+"/backup", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = f.do(t, http.MethodDelete, "/v1/blobs/"+string(d1)+"?target=backup", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/backup-status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[vault.BackupStatus](t, rec)
	assert.False(t, status.Enabled)
	assert.False(t, status.Connected)
}

func TestBackupAndRestore(t *testing.T) {
	f := newFixture(t, true)
	d1 := storetest.Put(t, storetest.Content("d1", 4096), f.local)

	rec := f.do(t, http.MethodPost, "/v1/blobs/"+string(d1)+"/backup", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	result := decode[vault.Transfer](t, rec)
	assert.Equal(t, int64(4096), result.Bytes)
	assert.True(t, storetest.Exists(t, f.backup, d1))

	rec = f.do(t, http.MethodDelete, "/v1/blobs/"+string(d1)+"?target=local", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/blobs/"+string(d1)+"/restore", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, storetest.Exists(t, f.local, d1))
}

func TestCleanupOrphans(t *testing.T) {
	f := newFixture(t, true)
	d2 := storetest.Put(t, storetest.Content("d2", 5<<10), f.local, f.backup)

	rec := f.do(t, http.MethodPost, "/v1/cleanup-orphans", vault.CleanupRequest{DryRun: true})
	require.Equal(t, http.StatusOK, rec.Code)
	preview := decode[vault.CleanupResponse](t, rec)
	require.NotNil(t, preview.Report)
	assert.Equal(t, 1, preview.Report.OrphansFound)
	assert.Equal(t, int64(5<<10), preview.Report.BytesFreed)
	assert.True(t, storetest.Exists(t, f.local, d2))

	rec = f.do(t, http.MethodPost, "/v1/cleanup-orphans", vault.CleanupRequest{})
	require.Equal(t, http.StatusOK, rec.Code)
	executed := decode[vault.CleanupResponse](t, rec)
	require.NotNil(t, executed.Result)
	assert.Equal(t, transfer.RunCompleted, executed.Result.Status)
	assert.Equal(t, 1, executed.Result.Deleted)
	assert.False(t, storetest.Exists(t, f.local, d2))
	assert.True(t, storetest.Exists(t, f.backup, d2))
}

func TestBackupSync_PartialFailureIsReported(t *testing.T) {
	f := newFixture(t, true)
	d1 := storetest.Put(t, storetest.Content("d1", 1024), f.local)
	d2 := storetest.Put(t, storetest.Content("d2", 2048), f.local)
	f.reference(t, "Q", d1)
	f.reference(t, "Q", d2)
	f.backup.FailPut(d2, errors.New("device full"))

	rec := f.do(t, http.MethodPost, "/v1/backup-sync", vault.SyncRequest{Direction: "to_backup", Pack: "Q"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[vault.SyncResponse](t, rec)
	require.NotNil(t, resp.Result)
	assert.Equal(t, transfer.RunFailed, resp.Result.Status)
	assert.Equal(t, 1, resp.Result.BlobsSynced)
	assert.Equal(t, 1, resp.Result.FailedItems)
	assert.True(t, storetest.Exists(t, f.backup, d1))

	f.backup.FailPut(d2, nil)
	rec = f.do(t, http.MethodPost, "/v1/runs/"+resp.Result.RunID+"/retry", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	retry := decode[transfer.Run](t, rec)
	assert.Equal(t, resp.Result.RunID, retry.ParentRunID)
	assert.Equal(t, transfer.RunCompleted, retry.Status)

	rec = f.do(t, http.MethodGet, "/v1/runs/"+resp.Result.RunID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	parent := decode[transfer.Run](t, rec)
	assert.Equal(t, 2, parent.CompletedItems)
	assert.Equal(t, 0, parent.FailedItems)
}

func TestBackupSync_AsyncRunIsAddressable(t *testing.T) {
	f := newFixture(t, true)
	d1 := storetest.Put(t, storetest.Content("d1", 1024), f.local)

	rec := f.do(t, http.MethodPost, "/v1/backup-sync", vault.SyncRequest{Direction: "to_backup", Async: true})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[vault.SyncResponse](t, rec)
	require.NotNil(t, resp.Run)
	assert.Equal(t, 1, resp.Run.Items)

	require.Eventually(t, func() bool {
		rec := f.do(t, http.MethodGet, "/v1/runs/"+resp.Run.RunID, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		return decode[transfer.Run](t, rec).Status == transfer.RunCompleted
	}, 5*time.Second, 10*time.Millisecond)
	assert.True(t, storetest.Exists(t, f.backup, d1))

	rec = f.do(t, http.MethodPost, "/v1/runs/"+resp.Run.RunID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestVerify(t *testing.T) {
	f := newFixture(t, true)
	storetest.Put(t, storetest.Content("d1", 1024), f.local)
	storetest.Put(t, storetest.Content("d2", 1024), f.local)

	rec := f.do(t, http.MethodPost, "/v1/verify", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[vault.VerifyResponse](t, rec)
	require.NotNil(t, resp.Report)
	assert.Len(t, resp.Report.Valid, 2)
	assert.Empty(t, resp.Report.Invalid)
}
