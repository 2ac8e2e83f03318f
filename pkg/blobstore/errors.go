package blobstore

import (
	"errors"
	"fmt"

	"github.com/mwantia/goblob/pkg/digest"
)

var (
	// ErrNotFound means the digest is absent at the requested location.
	// Callers may fall back to the other location.
	ErrNotFound = errors.New("blob not found")

	// ErrIntegrity means bytes did not hash to the digest they were stored
	// or offered under.
	ErrIntegrity = errors.New("integrity check failed")

	// ErrUnavailable means the location cannot be reached. Retryable.
	ErrUnavailable = errors.New("location unavailable")
)

// IntegrityError carries the expected and computed digests of a rejected
// write or a failed verification.
type IntegrityError struct {
	Location Location
	Digest   digest.Digest
	Actual   digest.Digest
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for %s at %s: content hashes to %s", e.Digest, e.Location, e.Actual)
}

func (e *IntegrityError) Unwrap() error {
	return ErrIntegrity
}

func notFound(location Location, d digest.Digest) error {
	return fmt.Errorf("%w: %s at %s", ErrNotFound, d, location)
}

func unavailable(location Location, root string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: %s store at %s", ErrUnavailable, location, root)
	}
	return fmt.Errorf("%w: %s store at %s: %v", ErrUnavailable, location, root, cause)
}
