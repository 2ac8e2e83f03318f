package transfer

import (
	"context"

	"github.com/mwantia/goblob/pkg/db/models"
	"github.com/mwantia/goblob/pkg/db/store"
	"github.com/mwantia/goblob/pkg/digest"
)

// StoreRecorder persists terminal runs into the metadata store.
type StoreRecorder struct {
	db store.MetadataStore
}

var _ Recorder = (*StoreRecorder)(nil)

func NewStoreRecorder(db store.MetadataStore) *StoreRecorder {
	return &StoreRecorder{db: db}
}

func (r *StoreRecorder) Record(ctx context.Context, run Run) error {
	return r.db.SaveTransferRun(ctx, ToModel(run))
}

func ToModel(run Run) *models.TransferRun {
	record := &models.TransferRun{
		ID:             run.RunID,
		ParentRunID:    run.ParentRunID,
		Kind:           string(run.Kind),
		Direction:      run.Direction,
		Scope:          run.Scope,
		Status:         string(run.Status),
		TotalItems:     run.TotalItems,
		CompletedItems: run.CompletedItems,
		FailedItems:    run.FailedItems,
		SkippedItems:   run.SkippedItems,
		TotalBytes:     run.TotalBytes,
		BytesDone:      run.BytesDone,
		Items:          make([]models.TransferItem, 0, len(run.Items)),
	}
	if run.StartedAt != nil {
		record.StartedAt = *run.StartedAt
	}
	if run.FinishedAt != nil {
		record.FinishedAt = *run.FinishedAt
	}

	for _, item := range run.Items {
		record.Items = append(record.Items, models.TransferItem{
			RunID:    run.RunID,
			Digest:   string(item.Digest),
			Size:     item.Size,
			Bytes:    item.Bytes,
			Status:   string(item.Status),
			Skipped:  item.Skipped,
			Attempts: item.Attempts,
			Error:    item.Error,
			Note:     item.Note,
		})
	}
	return record
}

// FromModel restores a run snapshot from history.
func FromModel(record *models.TransferRun) Run {
	run := Run{
		Progress: Progress{
			RunID:          record.ID,
			ParentRunID:    record.ParentRunID,
			Kind:           Kind(record.Kind),
			Direction:      record.Direction,
			Scope:          record.Scope,
			Status:         RunStatus(record.Status),
			TotalItems:     record.TotalItems,
			CompletedItems: record.CompletedItems,
			FailedItems:    record.FailedItems,
			SkippedItems:   record.SkippedItems,
			TotalBytes:     record.TotalBytes,
			BytesDone:      record.BytesDone,
		},
		Items: make([]Item, 0, len(record.Items)),
	}
	if !record.StartedAt.IsZero() {
		started := record.StartedAt
		run.StartedAt = &started
	}
	if !record.FinishedAt.IsZero() {
		finished := record.FinishedAt
		run.FinishedAt = &finished
		if run.StartedAt != nil {
			run.Elapsed = finished.Sub(*run.StartedAt)
		}
	}

	for _, row := range record.Items {
		run.Items = append(run.Items, Item{
			Digest:   digest.Digest(row.Digest),
			Size:     row.Size,
			Status:   ItemStatus(row.Status),
			Bytes:    row.Bytes,
			Skipped:  row.Skipped,
			Note:     row.Note,
			Error:    row.Error,
			Attempts: row.Attempts,
		})
	}
	return run
}
