package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mwantia/goblob/pkg/digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testItems(n int) []Item {
	items := make([]Item, n)
	for i := range items {
		items[i] = Item{
			Digest: digest.MustParse(strings.Repeat(fmt.Sprintf("%02x", i+1), 32)),
			Size:   int64(10 * (i + 1)),
		}
	}
	return items
}

type memoryRecorder struct {
	mu   sync.Mutex
	runs map[string]Run
}

func (r *memoryRecorder) Record(_ context.Context, run Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runs == nil {
		r.runs = make(map[string]Run)
	}
	r.runs[run.RunID] = run
	return nil
}

func (r *memoryRecorder) get(id string) (Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	return run, ok
}

func TestOperation_CompletesSequentially(t *testing.T) {
	items := testItems(3)

	var order []digest.Digest
	exec := func(_ context.Context, item Item) (Outcome, error) {
		order = append(order, item.Digest)
		return Outcome{Bytes: item.Size}, nil
	}

	var completed []int
	op := New(items, exec, Options{
		Kind: KindSync,
		Observer: func(p Progress) {
			completed = append(completed, p.CompletedItems)
		},
	})

	run, err := op.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, RunCompleted, run.Status)
	assert.Equal(t, 3, run.CompletedItems)
	assert.Equal(t, int64(60), run.BytesDone)
	assert.Equal(t, run.TotalBytes, run.BytesDone)
	assert.Equal(t, []digest.Digest{items[0].Digest, items[1].Digest, items[2].Digest}, order)
	assert.IsNonDecreasing(t, completed)
	assert.NotNil(t, run.FinishedAt)

	_, err = op.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestOperation_FailedItemFailsRun(t *testing.T) {
	items := testItems(2)
	exec := func(_ context.Context, item Item) (Outcome, error) {
		if item.Digest == items[1].Digest {
			return Outcome{}, errors.New("disk full")
		}
		return Outcome{Bytes: item.Size}, nil
	}

	run, err := New(items, exec, Options{Kind: KindSync}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, RunFailed, run.Status)
	assert.Equal(t, 1, run.CompletedItems)
	assert.Equal(t, 1, run.FailedItems)
	assert.Equal(t, []ItemError{{Digest: items[1].Digest, Error: "disk full"}}, run.Failures())
}

func TestOperation_SkippedItemsComplete(t *testing.T) {
	exec := func(context.Context, Item) (Outcome, error) {
		return Outcome{Skipped: true, Note: "already present"}, nil
	}
	run, err := New(testItems(2), exec, Options{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, RunCompleted, run.Status)
	assert.Equal(t, 2, run.SkippedItems)
	assert.Equal(t, "already present", run.Items[0].Note)
}

func TestOperation_CancelKeepsCompletedItems(t *testing.T) {
	items := testItems(3)

	var op *Operation
	exec := func(ctx context.Context, item Item) (Outcome, error) {
		op.Cancel()
		// The in-flight item still finishes after cancellation.
		assert.NoError(t, ctx.Err())
		return Outcome{Bytes: item.Size}, nil
	}
	op = New(items, exec, Options{})

	run, err := op.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, RunCancelled, run.Status)
	assert.Equal(t, 1, run.CompletedItems)
	assert.Equal(t, 2, run.PendingItems)
	assert.Equal(t, ItemCompleted, run.Items[0].Status)
	assert.False(t, op.Cancel())
}

func TestOperation_ContextCancellationStopsScheduling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := func(context.Context, Item) (Outcome, error) {
		cancel()
		return Outcome{}, nil
	}

	run, err := New(testItems(4), exec, Options{}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, RunCancelled, run.Status)
	assert.Equal(t, 1, run.CompletedItems)
}

func TestOperation_ConcurrencyIsBounded(t *testing.T) {
	var running, peak atomic.Int32
	exec := func(context.Context, Item) (Outcome, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return Outcome{}, nil
	}

	run, err := New(testItems(12), exec, Options{Concurrency: 3}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, run.CompletedItems)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestOperation_RetryFailedUpdatesParentInPlace(t *testing.T) {
	items := testItems(3)
	recorder := &memoryRecorder{}

	var broken atomic.Bool
	broken.Store(true)
	exec := func(_ context.Context, item Item) (Outcome, error) {
		if item.Digest == items[2].Digest && broken.Load() {
			return Outcome{}, errors.New("connection reset")
		}
		return Outcome{Bytes: item.Size}, nil
	}

	parent := New(items, exec, Options{Kind: KindSync, Recorder: recorder})
	run, err := parent.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, RunFailed, run.Status)

	broken.Store(false)
	child, err := parent.RetryFailed(context.Background())
	require.NoError(t, err)

	childRun := child.Snapshot()
	assert.Equal(t, parent.ID(), childRun.ParentRunID)
	assert.Equal(t, RunCompleted, childRun.Status)
	require.Len(t, childRun.Items, 1)
	assert.Equal(t, 2, childRun.Items[0].Attempts)

	updated := parent.Snapshot()
	assert.Equal(t, RunCompleted, updated.Status)
	assert.Equal(t, 3, updated.CompletedItems)
	assert.Zero(t, updated.FailedItems)

	// Both runs are recorded; the parent record reflects the merge.
	recorded, ok := recorder.get(parent.ID())
	require.True(t, ok)
	assert.Equal(t, RunCompleted, recorded.Status)
	_, ok = recorder.get(child.ID())
	assert.True(t, ok)

	_, err = parent.Retry()
	assert.ErrorIs(t, err, ErrNothingToRetry)
}

func TestOperation_RetryBeforeFinish(t *testing.T) {
	op := New(testItems(1), func(context.Context, Item) (Outcome, error) { return Outcome{}, nil }, Options{})
	_, err := op.Retry()
	assert.ErrorIs(t, err, ErrNotFinished)
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry(time.Hour)
	t.Cleanup(registry.Stop)

	op := New(testItems(1), func(context.Context, Item) (Outcome, error) { return Outcome{}, nil }, Options{})
	registry.Track(op)

	found, ok := registry.Get(op.ID())
	require.True(t, ok)
	assert.Same(t, op, found)

	_, ok = registry.Get("unknown")
	assert.False(t, ok)
}

func TestModelRoundtrip(t *testing.T) {
	items := testItems(2)
	exec := func(_ context.Context, item Item) (Outcome, error) {
		if item.Digest == items[0].Digest {
			return Outcome{Skipped: true, Note: "already at backup"}, nil
		}
		return Outcome{}, errors.New("boom")
	}
	run, err := New(items, exec, Options{Kind: KindCleanup, Scope: "local"}).Run(context.Background())
	require.NoError(t, err)

	restored := FromModel(ToModel(run))
	assert.Equal(t, run.RunID, restored.RunID)
	assert.Equal(t, RunFailed, restored.Status)
	assert.Equal(t, KindCleanup, restored.Kind)
	require.Len(t, restored.Items, 2)
	assert.True(t, restored.Items[0].Skipped)
	assert.Equal(t, "boom", restored.Items[1].Error)
}
