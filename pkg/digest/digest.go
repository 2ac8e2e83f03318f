package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
)

// Algorithm names the hash function used to address blob content. A store
// uses exactly one algorithm for its whole lifetime.
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	BLAKE3 Algorithm = "blake3"
	BLAKE2 Algorithm = "blake2b"
)

// Length is the number of hex characters in a digest. Every supported
// algorithm produces a 32-byte sum.
const Length = 64

// Digest is the canonical lowercase hex form of a content hash.
type Digest string

// Parse normalizes s into a Digest. Comparison is case-insensitive, so the
// input is lowercased before validation.
func Parse(s string) (Digest, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != Length {
		return "", fmt.Errorf("invalid digest %q: expected %d hex characters, got %d", s, Length, len(s))
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("invalid digest %q: %w", s, err)
	}
	return Digest(s), nil
}

// ParseFor is Parse for digests that may carry an "<algorithm>:" prefix, as
// lock files written by other tools often do. The prefix must name
// algorithm.
func ParseFor(s string, algorithm Algorithm) (Digest, error) {
	prefix, rest, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Parse(s)
	}
	if algorithm == "" {
		algorithm = SHA256
	}
	if !strings.EqualFold(prefix, string(algorithm)) {
		return "", fmt.Errorf("invalid digest %q: algorithm %q does not match store algorithm %q", s, prefix, algorithm)
	}
	return Parse(rest)
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Digest {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Digest) String() string {
	return string(d)
}

// Short returns the first 12 hex characters, used as a display name when
// nothing better is known.
func (d Digest) Short() string {
	if len(d) < 12 {
		return string(d)
	}
	return string(d[:12])
}

// Shard returns the bucket directory name for d.
func (d Digest) Shard() string {
	if len(d) < 2 {
		return "00"
	}
	return string(d[:2])
}

// Addresser computes digests for byte streams with a fixed algorithm.
type Addresser struct {
	algorithm Algorithm
}

func NewAddresser(algorithm Algorithm) (*Addresser, error) {
	switch Algorithm(strings.ToLower(string(algorithm))) {
	case SHA256, "":
		return &Addresser{algorithm: SHA256}, nil
	case BLAKE3:
		return &Addresser{algorithm: BLAKE3}, nil
	case BLAKE2:
		return &Addresser{algorithm: BLAKE2}, nil
	default:
		return nil, fmt.Errorf("unsupported digest algorithm %q", algorithm)
	}
}

func (a *Addresser) Algorithm() Algorithm {
	return a.algorithm
}

// Parse accepts a bare or "<algorithm>:"-prefixed digest of this
// addresser's algorithm.
func (a *Addresser) Parse(s string) (Digest, error) {
	return ParseFor(s, a.algorithm)
}

// NewHasher returns an incremental hasher for the addresser's algorithm.
func (a *Addresser) NewHasher() *Hasher {
	var h hash.Hash
	switch a.algorithm {
	case BLAKE3:
		h = blake3.New()
	case BLAKE2:
		// New256 only fails for oversized keys.
		h, _ = blake2b.New256(nil)
	default:
		h = sha256.New()
	}
	return &Hasher{h: h}
}

// Digest consumes r to EOF and returns its digest and length. If reading
// fails part-way no digest is returned.
func (a *Addresser) Digest(r io.Reader) (Digest, int64, error) {
	hasher := a.NewHasher()
	if _, err := io.Copy(hasher, r); err != nil {
		return "", 0, fmt.Errorf("failed to hash content: %w", err)
	}
	return hasher.Sum(), hasher.Size(), nil
}

// Hasher accumulates a digest over everything written to it.
type Hasher struct {
	h    hash.Hash
	size int64
}

func (h *Hasher) Write(p []byte) (int, error) {
	n, err := h.h.Write(p)
	h.size += int64(n)
	return n, err
}

func (h *Hasher) Sum() Digest {
	return Digest(hex.EncodeToString(h.h.Sum(nil)))
}

func (h *Hasher) Size() int64 {
	return h.size
}
