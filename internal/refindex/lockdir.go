package refindex

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/mwantia/goblob/pkg/blobstore"
	"github.com/mwantia/goblob/pkg/digest"
	"github.com/mwantia/goblob/pkg/log"
	"gopkg.in/yaml.v3"
)

var lockSuffixes = []string{".lock.yaml", ".lock.yml", ".lock.json"}

// LockFile is the on-disk lock state of one pack, written by the tool
// that owns the pack:
//
//	pack: portraits
//	dependencies:
//	  - name: face.safetensors
//	    kind: lora
//	    digest: 3f2a...
//	    size: 151108832
type LockFile struct {
	Pack         string           `yaml:"pack"`
	Dependencies []LockDependency `yaml:"dependencies"`
}

type LockDependency struct {
	Name   string `yaml:"name"`
	Kind   string `yaml:"kind"`
	Digest string `yaml:"digest"`
	Size   int64  `yaml:"size"`
}

// LockDirSource reads one lock file per pack from a directory. The files
// are re-read on every call.
type LockDirSource struct {
	dir       string
	algorithm digest.Algorithm
	log       log.LoggerService
}

var _ Source = (*LockDirSource)(nil)

// NewLockDirSource reads lock files from dir. Locked digests may be bare hex
// or prefixed with algorithm, e.g. "sha256:3f2a...".
func NewLockDirSource(dir string, algorithm digest.Algorithm, logger log.LoggerService) *LockDirSource {
	return &LockDirSource{dir: dir, algorithm: algorithm, log: logger}
}

func (s *LockDirSource) Dependencies(ctx context.Context) ([]Dependency, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read lock directory %s: %w", s.dir, err)
	}

	var dependencies []Dependency
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() {
			continue
		}

		stem, ok := lockStem(entry.Name())
		if !ok {
			continue
		}

		lock, err := readLockFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			// An unreadable lock file means references are unknown; refusing
			// here keeps cleanup from treating its blobs as orphans.
			return nil, err
		}

		pack := lock.Pack
		if pack == "" {
			pack = stem
		}

		for _, locked := range lock.Dependencies {
			d, err := digest.ParseFor(locked.Digest, s.algorithm)
			if err != nil {
				// Same as an unreadable file: the blob is referenced even if
				// its digest cannot be resolved.
				return nil, fmt.Errorf("dependency '%s' in %s: %w", locked.Name, entry.Name(), err)
			}
			dependencies = append(dependencies, Dependency{
				Pack:   pack,
				Name:   locked.Name,
				Kind:   blobstore.ParseKind(locked.Kind),
				Digest: d,
				Size:   locked.Size,
			})
		}
	}

	s.log.Debug("Read %d locked dependencies from %s", len(dependencies), s.dir)
	return dependencies, nil
}

func lockStem(name string) (string, bool) {
	lower := strings.ToLower(name)
	if i := slices.IndexFunc(lockSuffixes, func(suffix string) bool {
		return strings.HasSuffix(lower, suffix)
	}); i >= 0 {
		return name[:len(name)-len(lockSuffixes[i])], true
	}
	return "", false
}

func readLockFile(path string) (*LockFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lock file %s: %w", path, err)
	}
	var lock LockFile
	if err := yaml.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("failed to parse lock file %s: %w", path, err)
	}
	return &lock, nil
}
