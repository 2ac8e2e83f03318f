package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"path/filepath"
	"sync"
	"time"

	"github.com/mwantia/goblob/pkg/digest"
	"github.com/spf13/afero"
)

// Directory names within a store root.
const (
	blobDir = "blobs"
	tmpDir  = "tmp"
)

const manifestSuffix = ".manifest"

// Options configures a FileStore.
type Options struct {
	Location  Location
	Root      string
	Addresser *digest.Addresser

	// Fs defaults to the operating system filesystem.
	Fs afero.Fs

	// CreateRoot creates Root when missing. Backup stores leave this off so
	// that an unmounted destination reads as unavailable instead of being
	// silently recreated on the mount point.
	CreateRoot bool

	Now func() time.Time
}

// FileStore keeps blobs in a sharded directory tree:
//
//	<root>/blobs/<hex[:2]>/<digest>
//	<root>/blobs/<hex[:2]>/<digest>.manifest
//	<root>/tmp/
//
// Writes go through tmp and are renamed into place after verification.
type FileStore struct {
	fs        afero.Fs
	root      string
	location  Location
	addresser *digest.Addresser
	now       func() time.Time
	locks     keyedMutex
}

var _ Store = (*FileStore)(nil)

func NewFileStore(opts Options) (*FileStore, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("%s store root is required", opts.Location)
	}
	if opts.Location == "" {
		opts.Location = LocationLocal
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Addresser == nil {
		addresser, err := digest.NewAddresser(digest.SHA256)
		if err != nil {
			return nil, err
		}
		opts.Addresser = addresser
	}

	s := &FileStore{
		fs:        opts.Fs,
		root:      filepath.Clean(opts.Root),
		location:  opts.Location,
		addresser: opts.Addresser,
		now:       opts.Now,
	}

	if opts.CreateRoot {
		for _, dir := range []string{s.root, s.blobPath(), s.tmpPath()} {
			if err := s.fs.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create %s store directory %s: %w", s.location, dir, err)
			}
		}
	}

	return s, nil
}

func (s *FileStore) Location() Location {
	return s.location
}

func (s *FileStore) Root() string {
	return s.root
}

func (s *FileStore) Available(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := s.fs.Stat(s.root)
	if err != nil {
		return unavailable(s.location, s.root, err)
	}
	if !info.IsDir() {
		return unavailable(s.location, s.root, errors.New("root is not a directory"))
	}
	return nil
}

func (s *FileStore) Put(ctx context.Context, d digest.Digest, r io.Reader) (int64, error) {
	if err := s.Available(ctx); err != nil {
		return 0, err
	}

	unlock := s.locks.lock(d)
	defer unlock()

	finalPath := s.contentPath(d)
	if info, err := s.fs.Stat(finalPath); err == nil {
		return info.Size(), nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("failed to stat %s blob %s: %w", s.location, d, err)
	}

	if err := s.fs.MkdirAll(s.tmpPath(), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create %s temp directory: %w", s.location, err)
	}

	tmpFile, err := afero.TempFile(s.fs, s.tmpPath(), "put-*.partial")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file in %s store: %w", s.location, err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			s.fs.Remove(tmpPath)
		}
	}()

	hasher := s.addresser.NewHasher()
	size, err := io.Copy(io.MultiWriter(tmpFile, hasher), r)
	if err != nil {
		tmpFile.Close()
		return 0, fmt.Errorf("failed to write %s to %s store: %w", d, s.location, err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return 0, fmt.Errorf("failed to sync %s in %s store: %w", d, s.location, err)
	}
	if err := tmpFile.Close(); err != nil {
		return 0, fmt.Errorf("failed to close temp file for %s: %w", d, err)
	}

	if actual := hasher.Sum(); actual != d {
		return 0, &IntegrityError{Location: s.location, Digest: d, Actual: actual}
	}

	if err := s.fs.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create shard directory for %s: %w", d, err)
	}
	if err := s.fs.Rename(tmpPath, finalPath); err != nil {
		return 0, fmt.Errorf("failed to move %s into place: %w", d, err)
	}

	success = true
	return size, nil
}

func (s *FileStore) Get(ctx context.Context, d digest.Digest) (io.ReadCloser, error) {
	if err := s.Available(ctx); err != nil {
		return nil, err
	}
	file, err := s.fs.Open(s.contentPath(d))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(s.location, d)
		}
		return nil, fmt.Errorf("failed to open %s blob %s: %w", s.location, d, err)
	}
	return file, nil
}

func (s *FileStore) Exists(ctx context.Context, d digest.Digest) (bool, error) {
	if err := s.Available(ctx); err != nil {
		return false, err
	}
	exists, err := afero.Exists(s.fs, s.contentPath(d))
	if err != nil {
		return false, fmt.Errorf("failed to stat %s blob %s: %w", s.location, d, err)
	}
	return exists, nil
}

func (s *FileStore) Stat(ctx context.Context, d digest.Digest) (Info, error) {
	if err := s.Available(ctx); err != nil {
		return Info{}, err
	}
	info, err := s.fs.Stat(s.contentPath(d))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Info{}, notFound(s.location, d)
		}
		return Info{}, fmt.Errorf("failed to stat %s blob %s: %w", s.location, d, err)
	}
	return Info{Digest: d, Size: info.Size(), ModTime: info.ModTime()}, nil
}

func (s *FileStore) Remove(ctx context.Context, d digest.Digest) error {
	if err := s.Available(ctx); err != nil {
		return err
	}

	unlock := s.locks.lock(d)
	defer unlock()

	if err := s.fs.Remove(s.contentPath(d)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return notFound(s.location, d)
		}
		return fmt.Errorf("failed to remove %s blob %s: %w", s.location, d, err)
	}
	if err := s.fs.Remove(s.manifestPath(d)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s manifest %s: %w", s.location, d, err)
	}
	return nil
}

func (s *FileStore) ReadManifest(ctx context.Context, d digest.Digest) (*Manifest, error) {
	if err := s.Available(ctx); err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, s.manifestPath(d))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s manifest %s: %w", s.location, d, err)
	}
	manifest, err := decodeManifest(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s manifest %s: %w", s.location, d, err)
	}
	return manifest, nil
}

func (s *FileStore) WriteManifestIfAbsent(ctx context.Context, d digest.Digest, m *Manifest) (bool, error) {
	if m == nil {
		return false, fmt.Errorf("manifest for %s is nil", d)
	}
	if err := m.validate(); err != nil {
		return false, err
	}
	if err := s.Available(ctx); err != nil {
		return false, err
	}

	unlock := s.locks.lock(d)
	defer unlock()

	if exists, err := afero.Exists(s.fs, s.contentPath(d)); err != nil {
		return false, fmt.Errorf("failed to stat %s blob %s: %w", s.location, d, err)
	} else if !exists {
		return false, notFound(s.location, d)
	}

	finalPath := s.manifestPath(d)
	if exists, err := afero.Exists(s.fs, finalPath); err != nil {
		return false, fmt.Errorf("failed to stat %s manifest %s: %w", s.location, d, err)
	} else if exists {
		return false, nil
	}

	record := *m
	if record.Version == 0 {
		record.Version = ManifestVersion
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now().UTC()
	}
	if record.Kind == "" {
		record.Kind = KindUnknown
	}

	data, err := encodeManifest(&record)
	if err != nil {
		return false, fmt.Errorf("failed to encode manifest for %s: %w", d, err)
	}

	tmpFile, err := afero.TempFile(s.fs, s.tmpPath(), "manifest-*.cbor")
	if err != nil {
		return false, fmt.Errorf("failed to create temp manifest in %s store: %w", s.location, err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			s.fs.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return false, fmt.Errorf("failed to write manifest for %s: %w", d, err)
	}
	if err := tmpFile.Close(); err != nil {
		return false, fmt.Errorf("failed to close temp manifest for %s: %w", d, err)
	}
	if err := s.fs.Rename(tmpPath, finalPath); err != nil {
		return false, fmt.Errorf("failed to move manifest for %s into place: %w", d, err)
	}

	success = true
	return true, nil
}

func (s *FileStore) List(ctx context.Context) iter.Seq2[digest.Digest, error] {
	return func(yield func(digest.Digest, error) bool) {
		if err := s.Available(ctx); err != nil {
			yield("", err)
			return
		}

		shards, err := afero.ReadDir(s.fs, s.blobPath())
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				yield("", fmt.Errorf("failed to list %s store: %w", s.location, err))
			}
			return
		}

		for _, shard := range shards {
			if !shard.IsDir() || len(shard.Name()) != 2 {
				continue
			}
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}

			entries, err := afero.ReadDir(s.fs, filepath.Join(s.blobPath(), shard.Name()))
			if err != nil {
				if !yield("", fmt.Errorf("failed to list %s shard %s: %w", s.location, shard.Name(), err)) {
					return
				}
				continue
			}

			for _, entry := range entries {
				if entry.IsDir() {
					continue
				}
				// Manifests, temp leftovers and foreign files never parse as a
				// canonical digest in their own shard.
				d, err := digest.Parse(entry.Name())
				if err != nil || string(d) != entry.Name() || d.Shard() != shard.Name() {
					continue
				}
				if !yield(d, nil) {
					return
				}
			}
		}
	}
}

func (s *FileStore) Verify(ctx context.Context, d digest.Digest) (bool, error) {
	reader, err := s.Get(ctx, d)
	if err != nil {
		return false, err
	}
	defer reader.Close()

	actual, _, err := s.addresser.Digest(reader)
	if err != nil {
		return false, fmt.Errorf("failed to verify %s blob %s: %w", s.location, d, err)
	}
	return actual == d, nil
}

func (s *FileStore) FreeSpace(ctx context.Context) (int64, error) {
	if err := s.Available(ctx); err != nil {
		return -1, err
	}
	if _, ok := s.fs.(*afero.OsFs); !ok {
		return -1, nil
	}
	return diskFree(s.root)
}

func (s *FileStore) blobPath() string {
	return filepath.Join(s.root, blobDir)
}

func (s *FileStore) tmpPath() string {
	return filepath.Join(s.root, tmpDir)
}

func (s *FileStore) contentPath(d digest.Digest) string {
	return filepath.Join(s.root, blobDir, d.Shard(), string(d))
}

func (s *FileStore) manifestPath(d digest.Digest) string {
	return s.contentPath(d) + manifestSuffix
}

// keyedMutex serializes writers per digest so two concurrent puts of the
// same new digest do not both transfer the content.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[digest.Digest]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(d digest.Digest) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[digest.Digest]*keyedLock)
	}
	l, ok := k.locks[d]
	if !ok {
		l = &keyedLock{}
		k.locks[d] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, d)
		}
		k.mu.Unlock()
	}
}
