package vault

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mwantia/goblob/internal/inventory"
	"github.com/mwantia/goblob/internal/transfer"
	"github.com/mwantia/goblob/pkg/blobstore"
	"github.com/mwantia/goblob/pkg/digest"
)

var (
	ErrNotFound    = blobstore.ErrNotFound
	ErrIntegrity   = blobstore.ErrIntegrity
	ErrUnavailable = blobstore.ErrUnavailable

	// ErrConflict means the request would destroy the last copy of a
	// referenced blob, or does not fit the current state of a run.
	ErrConflict = errors.New("conflict")

	// ErrPartialFailure is returned alongside the result of a bulk run that
	// finished with failed items.
	ErrPartialFailure = errors.New("run finished with failed items")

	ErrInvalidArgument = errors.New("invalid argument")
)

// ConflictError rejects deleting the last surviving copy of a blob that
// packs still reference.
type ConflictError struct {
	Digest digest.Digest
	Target inventory.Target
	Packs  []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("refusing to delete %s from %s: last copy is referenced by %s",
		e.Digest, e.Target, strings.Join(e.Packs, ", "))
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

type PartialFailureError struct {
	RunID  string
	Failed []transfer.ItemError
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("run %s finished with %d failed item(s)", e.RunID, len(e.Failed))
}

func (e *PartialFailureError) Unwrap() error {
	return ErrPartialFailure
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// ParseDigest validates user input as a digest.
func ParseDigest(s string) (digest.Digest, error) {
	d, err := digest.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return d, nil
}

func partialFailure(run transfer.Run) error {
	if run.Status != transfer.RunFailed {
		return nil
	}
	return &PartialFailureError{RunID: run.RunID, Failed: run.Failures()}
}
