// Package transfer implements the run state machine shared by sync,
// cleanup and verify. A run owns one item per digest, executes them with
// bounded concurrency, honours cooperative cancellation and can spawn a
// retry sub-run over its failed items.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mwantia/goblob/pkg/digest"
	"github.com/mwantia/goblob/pkg/log"
	"golang.org/x/sync/errgroup"
)

// MaxConcurrency bounds the worker pool of a single run.
const MaxConcurrency = 4

var (
	ErrAlreadyStarted = errors.New("run already started")
	ErrNotFinished    = errors.New("run has not finished")
	ErrNothingToRetry = errors.New("run has no failed items")
)

type Kind string

const (
	KindSync    Kind = "sync"
	KindCleanup Kind = "cleanup"
	KindVerify  Kind = "verify"
)

type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemInProgress ItemStatus = "in_progress"
	ItemCompleted  ItemStatus = "completed"
	ItemFailed     ItemStatus = "failed"
)

type RunStatus string

const (
	RunInProgress RunStatus = "in_progress"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
	RunCancelled  RunStatus = "cancelled"
)

func (s RunStatus) Terminal() bool {
	return s != RunInProgress
}

type Item struct {
	Digest   digest.Digest `json:"digest"`
	Size     int64         `json:"size"`
	Status   ItemStatus    `json:"status"`
	Bytes    int64         `json:"bytes"`
	Skipped  bool          `json:"skipped,omitempty"`
	Note     string        `json:"note,omitempty"`
	Error    string        `json:"error,omitempty"`
	Attempts int           `json:"attempts"`
}

// Outcome is what an executor reports for a completed item. Skipped marks
// items that turned out to be already done or no longer eligible.
type Outcome struct {
	Bytes   int64
	Skipped bool
	Note    string
}

// Executor processes one item. The context it receives is not cancelled
// by Cancel, so an item that started is allowed to finish.
type Executor func(ctx context.Context, item Item) (Outcome, error)

// Observer receives a progress snapshot after every item transition.
type Observer func(Progress)

// Recorder persists a run once it reached a terminal state.
type Recorder interface {
	Record(ctx context.Context, run Run) error
}

type Options struct {
	Kind        Kind
	Direction   string
	Scope       string
	Concurrency int
	Observer    Observer
	Recorder    Recorder
	Logger      log.LoggerService
}

// ItemError is the recorded failure of one item.
type ItemError struct {
	Digest digest.Digest `json:"digest"`
	Error  string        `json:"error"`
}

type Operation struct {
	id       string
	parentID string
	exec     Executor
	opts     Options

	mu         sync.Mutex
	items      []Item
	status     RunStatus
	started    bool
	cancelled  bool
	startedAt  time.Time
	finishedAt time.Time
	retry      *Operation
	onFinish   []func(*Operation)
	done       chan struct{}
}

func New(items []Item, exec Executor, opts Options) *Operation {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Concurrency > MaxConcurrency {
		opts.Concurrency = MaxConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}

	op := &Operation{
		id:     uuid.NewString(),
		exec:   exec,
		opts:   opts,
		items:  make([]Item, len(items)),
		status: RunInProgress,
		done:   make(chan struct{}),
	}
	for i, item := range items {
		item.Status = ItemPending
		item.Error = ""
		item.Bytes = 0
		item.Skipped = false
		item.Note = ""
		op.items[i] = item
	}
	return op
}

func (op *Operation) ID() string {
	return op.id
}

func (op *Operation) ParentID() string {
	return op.parentID
}

func (op *Operation) Kind() Kind {
	return op.opts.Kind
}

// Done is closed once the run reached a terminal state.
func (op *Operation) Done() <-chan struct{} {
	return op.done
}

// Run executes every pending item and returns the terminal snapshot. A
// cancelled ctx acts like Cancel.
func (op *Operation) Run(ctx context.Context) (Run, error) {
	op.mu.Lock()
	if op.started {
		op.mu.Unlock()
		return op.Snapshot(), ErrAlreadyStarted
	}
	op.started = true
	op.startedAt = time.Now().UTC()
	op.mu.Unlock()

	op.opts.Logger.Info("Starting %s run %s with %d items", op.opts.Kind, op.id, len(op.items))

	execCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(op.opts.Concurrency)
	for i := range op.items {
		if op.stopRequested(ctx) {
			break
		}
		g.Go(func() error {
			item, ok := op.begin(ctx, i)
			if !ok {
				return nil
			}
			outcome, err := op.exec(execCtx, item)
			op.finish(i, outcome, err)
			return nil
		})
	}
	g.Wait()

	op.complete(execCtx)
	return op.Snapshot(), nil
}

// Cancel stops scheduling new items. Items already completed are kept.
// It reports false when the run had already finished.
func (op *Operation) Cancel() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.status.Terminal() {
		return false
	}
	op.cancelled = true
	return true
}

// Retry prepares a sub-run over the items last recorded as failed. Items
// the sub-run completes are merged back into this run's item list once it
// finishes.
func (op *Operation) Retry() (*Operation, error) {
	op.mu.Lock()
	defer op.mu.Unlock()

	if !op.status.Terminal() {
		return nil, ErrNotFinished
	}
	if op.retry != nil && !op.retry.finished() {
		return nil, fmt.Errorf("%w: retry %s is still running", ErrNotFinished, op.retry.id)
	}

	var failed []Item
	for _, item := range op.items {
		if item.Status == ItemFailed {
			failed = append(failed, item)
		}
	}
	if len(failed) == 0 {
		return nil, ErrNothingToRetry
	}

	child := New(failed, op.exec, op.opts)
	child.parentID = op.id
	child.onFinish = append(child.onFinish, op.merge)
	op.retry = child
	return child, nil
}

// RetryFailed runs Retry to completion.
func (op *Operation) RetryFailed(ctx context.Context) (*Operation, error) {
	child, err := op.Retry()
	if err != nil {
		return nil, err
	}
	if _, err := child.Run(ctx); err != nil {
		return nil, err
	}
	return child, nil
}

// Items returns a copy of the current item list.
func (op *Operation) Items() []Item {
	op.mu.Lock()
	defer op.mu.Unlock()
	return append([]Item(nil), op.items...)
}

// Failures lists the items currently recorded as failed.
func (op *Operation) Failures() []ItemError {
	op.mu.Lock()
	defer op.mu.Unlock()
	return failures(op.items)
}

func (op *Operation) Progress() Progress {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.progressLocked()
}

func (op *Operation) Snapshot() Run {
	op.mu.Lock()
	defer op.mu.Unlock()
	return Run{
		Progress: op.progressLocked(),
		Items:    append([]Item(nil), op.items...),
	}
}

func (op *Operation) finished() bool {
	select {
	case <-op.done:
		return true
	default:
		return false
	}
}

func (op *Operation) stopRequested(ctx context.Context) bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	if ctx.Err() != nil {
		op.cancelled = true
	}
	return op.cancelled
}

// begin moves item i to in_progress unless cancellation was observed while
// the worker waited for a slot.
func (op *Operation) begin(ctx context.Context, i int) (Item, bool) {
	op.mu.Lock()
	if ctx.Err() != nil {
		op.cancelled = true
	}
	if op.cancelled {
		op.mu.Unlock()
		return Item{}, false
	}
	op.items[i].Status = ItemInProgress
	op.items[i].Attempts++
	item := op.items[i]
	progress := op.progressLocked()
	op.mu.Unlock()

	op.notify(progress)
	return item, true
}

func (op *Operation) finish(i int, outcome Outcome, err error) {
	op.mu.Lock()
	item := &op.items[i]
	if err != nil {
		item.Status = ItemFailed
		item.Error = err.Error()
	} else {
		item.Status = ItemCompleted
		item.Error = ""
		item.Bytes = outcome.Bytes
		item.Skipped = outcome.Skipped
		item.Note = outcome.Note
	}
	d := item.Digest
	progress := op.progressLocked()
	op.mu.Unlock()

	if err != nil {
		op.opts.Logger.Warn("Item %s of %s run %s failed: %v", d.Short(), op.opts.Kind, op.id, err)
	} else {
		op.opts.Logger.Debug("Item %s of %s run %s completed", d.Short(), op.opts.Kind, op.id)
	}
	op.notify(progress)
}

func (op *Operation) complete(ctx context.Context) {
	op.mu.Lock()
	op.status = deriveStatus(op.items, op.cancelled)
	op.finishedAt = time.Now().UTC()
	run := Run{Progress: op.progressLocked(), Items: append([]Item(nil), op.items...)}
	hooks := op.onFinish
	op.mu.Unlock()

	op.opts.Logger.Info("Finished %s run %s: %s (%d completed, %d failed, %d skipped)",
		op.opts.Kind, op.id, run.Status, run.CompletedItems, run.FailedItems, run.SkippedItems)

	op.record(ctx, run)
	for _, hook := range hooks {
		hook(op)
	}
	close(op.done)
	op.notify(run.Progress)
}

// merge applies the results of a finished retry sub-run in place.
func (op *Operation) merge(child *Operation) {
	results := make(map[digest.Digest]Item)
	for _, item := range child.Items() {
		results[item.Digest] = item
	}

	op.mu.Lock()
	for i, item := range op.items {
		if item.Status != ItemFailed {
			continue
		}
		if result, ok := results[item.Digest]; ok && result.Status != ItemPending {
			op.items[i] = result
		}
	}
	op.status = deriveStatus(op.items, op.cancelled)
	run := Run{Progress: op.progressLocked(), Items: append([]Item(nil), op.items...)}
	op.mu.Unlock()

	op.record(context.Background(), run)
}

func (op *Operation) record(ctx context.Context, run Run) {
	if op.opts.Recorder == nil {
		return
	}
	if err := op.opts.Recorder.Record(ctx, run); err != nil {
		op.opts.Logger.Error("Failed to record %s run %s: %v", op.opts.Kind, op.id, err)
	}
}

func (op *Operation) notify(progress Progress) {
	if op.opts.Observer != nil {
		op.opts.Observer(progress)
	}
}

// deriveStatus: a run that left items pending was cancelled; otherwise
// any failed item fails the whole run.
func deriveStatus(items []Item, cancelled bool) RunStatus {
	failed := false
	for _, item := range items {
		switch item.Status {
		case ItemPending, ItemInProgress:
			if cancelled {
				return RunCancelled
			}
		case ItemFailed:
			failed = true
		}
	}
	if failed {
		return RunFailed
	}
	return RunCompleted
}

func failures(items []Item) []ItemError {
	var errs []ItemError
	for _, item := range items {
		if item.Status == ItemFailed {
			errs = append(errs, ItemError{Digest: item.Digest, Error: item.Error})
		}
	}
	return errs
}
