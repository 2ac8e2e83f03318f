package transfer

import (
	"time"

	"github.com/mwantia/goblob/pkg/digest"
)

// Progress aggregates the item states of a run.
type Progress struct {
	RunID       string    `json:"run_id"`
	ParentRunID string    `json:"parent_run_id,omitempty"`
	Kind        Kind      `json:"kind"`
	Direction   string    `json:"direction,omitempty"`
	Scope       string    `json:"scope,omitempty"`
	Status      RunStatus `json:"status"`

	TotalItems      int `json:"total_items"`
	PendingItems    int `json:"pending_items"`
	InProgressItems int `json:"in_progress_items"`
	CompletedItems  int `json:"completed_items"`
	FailedItems     int `json:"failed_items"`
	SkippedItems    int `json:"skipped_items"`

	TotalBytes int64 `json:"total_bytes"`
	BytesDone  int64 `json:"bytes_done"`

	Current []digest.Digest `json:"current,omitempty"`

	StartedAt  *time.Time    `json:"started_at,omitempty"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Elapsed    time.Duration `json:"elapsed"`
	// Remaining is estimated from the byte rate so far; zero when unknown.
	Remaining time.Duration `json:"remaining,omitempty"`
}

// Run is a progress snapshot together with the item list.
type Run struct {
	Progress
	Items []Item `json:"items"`
}

// Failures lists the failed items of the snapshot.
func (r Run) Failures() []ItemError {
	return failures(r.Items)
}

func (op *Operation) progressLocked() Progress {
	p := Progress{
		RunID:       op.id,
		ParentRunID: op.parentID,
		Kind:        op.opts.Kind,
		Direction:   op.opts.Direction,
		Scope:       op.opts.Scope,
		Status:      op.status,
		TotalItems:  len(op.items),
	}

	for _, item := range op.items {
		p.TotalBytes += item.Size
		switch item.Status {
		case ItemPending:
			p.PendingItems++
		case ItemInProgress:
			p.InProgressItems++
			p.Current = append(p.Current, item.Digest)
		case ItemCompleted:
			p.CompletedItems++
			p.BytesDone += item.Bytes
			if item.Skipped {
				p.SkippedItems++
			}
		case ItemFailed:
			p.FailedItems++
		}
	}

	if op.started {
		started := op.startedAt
		p.StartedAt = &started

		end := time.Now().UTC()
		if !op.finishedAt.IsZero() {
			finished := op.finishedAt
			p.FinishedAt = &finished
			end = finished
		}
		p.Elapsed = end.Sub(started)

		if p.FinishedAt == nil && p.BytesDone > 0 && p.TotalBytes > p.BytesDone {
			rate := float64(p.BytesDone) / p.Elapsed.Seconds()
			p.Remaining = time.Duration(float64(p.TotalBytes-p.BytesDone) / rate * float64(time.Second))
		}
	}

	return p
}
