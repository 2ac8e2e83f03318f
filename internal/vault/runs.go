package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/mwantia/goblob/internal/cleanup"
	"github.com/mwantia/goblob/internal/syncer"
	"github.com/mwantia/goblob/internal/transfer"
	"github.com/mwantia/goblob/internal/verify"
	"github.com/mwantia/goblob/pkg/blobstore"
	"github.com/mwantia/goblob/pkg/db/store"
)

// RunStarted is returned by asynchronous bulk requests.
type RunStarted struct {
	RunID  string             `json:"run_id"`
	Kind   transfer.Kind      `json:"kind"`
	Status transfer.RunStatus `json:"status"`
	Items  int                `json:"items"`
}

func started(op *transfer.Operation) *RunStarted {
	progress := op.Progress()
	return &RunStarted{
		RunID:  progress.RunID,
		Kind:   progress.Kind,
		Status: progress.Status,
		Items:  progress.TotalItems,
	}
}

type CleanupRequest struct {
	DryRun        bool `json:"dry_run"`
	IncludeBackup bool `json:"include_backup"`
	Async         bool `json:"async"`
}

// CleanupResponse carries exactly one of Report (dry run), Result
// (synchronous execute) or Run (asynchronous execute).
type CleanupResponse struct {
	DryRun bool            `json:"dry_run"`
	Report *cleanup.Report `json:"report,omitempty"`
	Result *cleanup.Result `json:"result,omitempty"`
	Run    *RunStarted     `json:"run,omitempty"`
}

// CleanupOrphans scans for or removes unreferenced blobs. A synchronous
// execute that ends with failed items returns the result together with a
// PartialFailureError.
func (v *Vault) CleanupOrphans(ctx context.Context, req CleanupRequest) (*CleanupResponse, error) {
	scope := cleanup.Scope{IncludeBackup: req.IncludeBackup}

	if req.DryRun {
		report, err := v.cleanup.Scan(ctx, scope)
		if err != nil {
			return nil, err
		}
		return &CleanupResponse{DryRun: true, Report: report}, nil
	}

	op, _, err := v.cleanup.Start(ctx, scope)
	if err != nil {
		return nil, err
	}
	if req.Async {
		v.launch(op)
		return &CleanupResponse{Run: started(op)}, nil
	}

	run, err := v.runInline(ctx, op)
	if err != nil {
		return nil, err
	}
	if scope.IncludeBackup {
		v.status.Delete(backupStatusKey)
	}
	return &CleanupResponse{Result: cleanup.ResultFrom(run)}, partialFailure(run)
}

type SyncRequest struct {
	Direction string `json:"direction"`
	DryRun    bool   `json:"dry_run"`
	Pack      string `json:"pack"`
	Async     bool   `json:"async"`
}

type SyncResponse struct {
	DryRun bool           `json:"dry_run"`
	Plan   *syncer.Plan   `json:"plan,omitempty"`
	Result *syncer.Result `json:"result,omitempty"`
	Run    *RunStarted    `json:"run,omitempty"`
}

func (v *Vault) BackupSync(ctx context.Context, req SyncRequest) (*SyncResponse, error) {
	direction, err := syncer.ParseDirection(req.Direction)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	scope := syncer.Scope{Pack: req.Pack}

	if req.DryRun {
		plan, err := v.syncer.Preview(ctx, direction, scope)
		if err != nil {
			return nil, err
		}
		return &SyncResponse{DryRun: true, Plan: plan}, nil
	}

	op, _, err := v.syncer.Start(ctx, direction, scope)
	if err != nil {
		return nil, err
	}
	v.status.Delete(backupStatusKey)
	if req.Async {
		v.launch(op)
		return &SyncResponse{Run: started(op)}, nil
	}

	run, err := v.runInline(ctx, op)
	if err != nil {
		return nil, err
	}
	return &SyncResponse{Result: syncer.ResultFrom(run)}, partialFailure(run)
}

type VerifyRequest struct {
	Pack     string `json:"pack"`
	Location string `json:"location"`
	Async    bool   `json:"async"`
}

type VerifyResponse struct {
	Report *verify.Report `json:"report,omitempty"`
	Run    *RunStarted    `json:"run,omitempty"`
}

// Verify rehashes stored copies. Mismatches are reported in the result,
// they are not failures of the run.
func (v *Vault) Verify(ctx context.Context, req VerifyRequest) (*VerifyResponse, error) {
	var location blobstore.Location
	switch req.Location {
	case "", string(blobstore.LocationLocal):
		location = blobstore.LocationLocal
	case string(blobstore.LocationBackup):
		location = blobstore.LocationBackup
	case string(verify.AllLocations):
		location = verify.AllLocations
	default:
		return nil, invalid("unknown location '%s'", req.Location)
	}

	op, err := v.verifier.Start(ctx, verify.Scope{Pack: req.Pack, Location: location})
	if err != nil {
		return nil, err
	}
	if req.Async {
		v.launch(op)
		return &VerifyResponse{Run: started(op)}, nil
	}

	run, err := v.runInline(ctx, op)
	if err != nil {
		return nil, err
	}
	return &VerifyResponse{Report: verify.ReportFrom(run, location)}, partialFailure(run)
}

// Run returns a live run or, once it left the registry, its recorded
// history.
func (v *Vault) Run(ctx context.Context, id string) (transfer.Run, error) {
	if op, ok := v.runs.Get(id); ok {
		return op.Snapshot(), nil
	}
	if v.metadata == nil {
		return transfer.Run{}, fmt.Errorf("%w: run %s", ErrNotFound, id)
	}

	record, err := v.metadata.GetTransferRun(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return transfer.Run{}, fmt.Errorf("%w: run %s", ErrNotFound, id)
		}
		return transfer.Run{}, fmt.Errorf("failed to load run %s: %w", id, err)
	}
	return transfer.FromModel(record), nil
}

// CancelRun stops a live run from scheduling further items.
func (v *Vault) CancelRun(id string) (transfer.Run, error) {
	op, ok := v.runs.Get(id)
	if !ok {
		return transfer.Run{}, fmt.Errorf("%w: run %s is not active", ErrNotFound, id)
	}
	if !op.Cancel() {
		return op.Snapshot(), fmt.Errorf("%w: run %s already finished", ErrConflict, id)
	}
	v.log.Info("Cancellation requested for run %s", id)
	return op.Snapshot(), nil
}

// RetryRun starts a sub-run over the failed items of a finished run.
// Successful items are merged back into the original run.
func (v *Vault) RetryRun(ctx context.Context, id string, async bool) (transfer.Run, error) {
	op, ok := v.runs.Get(id)
	if !ok {
		if _, err := v.Run(ctx, id); err != nil {
			return transfer.Run{}, err
		}
		return transfer.Run{}, fmt.Errorf("%w: run %s is no longer retryable", ErrConflict, id)
	}

	child, err := op.Retry()
	if err != nil {
		if errors.Is(err, transfer.ErrNotFinished) || errors.Is(err, transfer.ErrNothingToRetry) {
			return transfer.Run{}, fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return transfer.Run{}, err
	}

	if async {
		v.launch(child)
		return child.Snapshot(), nil
	}
	run, err := v.runInline(ctx, child)
	if err != nil {
		return transfer.Run{}, err
	}
	return run, partialFailure(run)
}

// History lists recorded runs, newest first, without their items.
func (v *Vault) History(ctx context.Context, limit int) ([]transfer.Progress, error) {
	if v.metadata == nil {
		return nil, fmt.Errorf("%w: no metadata store configured", ErrUnavailable)
	}

	records, err := v.metadata.ListTransferRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	history := make([]transfer.Progress, 0, len(records))
	for i := range records {
		history = append(history, transfer.FromModel(&records[i]).Progress)
	}
	return history, nil
}
