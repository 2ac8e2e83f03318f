package vault

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mwantia/goblob/internal/refindex"
	"github.com/mwantia/goblob/pkg/blobstore"
	"github.com/mwantia/goblob/pkg/digest"
)

type ImportOptions struct {
	// Pack, when set, records the imported file as a dependency of it.
	Pack   string
	Name   string
	Kind   blobstore.Kind
	Origin *blobstore.Origin
}

type Imported struct {
	Digest          digest.Digest  `json:"digest"`
	Size            int64          `json:"size"`
	Name            string         `json:"name"`
	Kind            blobstore.Kind `json:"kind"`
	Pack            string         `json:"pack,omitempty"`
	ManifestWritten bool           `json:"manifest_written"`
}

// Import hashes a file, stores it in the local store and writes its
// manifest unless one exists. The first import of a digest decides the
// manifest; later imports only add references.
func (v *Vault) Import(ctx context.Context, path string, opts ImportOptions) (*Imported, error) {
	if opts.Pack != "" && v.writer == nil {
		return nil, invalid("the configured reference source is read-only")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	d, size, err := v.addresser.Digest(file)
	if err != nil {
		return nil, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind %s: %w", path, err)
	}

	if _, err := v.local.Put(ctx, d, file); err != nil {
		return nil, err
	}

	name := opts.Name
	if name == "" {
		name = filepath.Base(path)
	}
	kind := opts.Kind
	if kind == "" {
		kind = blobstore.KindUnknown
	}

	written, err := v.local.WriteManifestIfAbsent(ctx, d, &blobstore.Manifest{
		Filename: name,
		Kind:     kind,
		Origin:   opts.Origin,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to write manifest for %s: %w", d.Short(), err)
	}

	if opts.Pack != "" {
		if err := v.writer.AddDependency(ctx, refindex.Dependency{
			Pack:   opts.Pack,
			Name:   name,
			Kind:   kind,
			Digest: d,
			Size:   size,
		}); err != nil {
			return nil, fmt.Errorf("failed to record dependency of pack '%s': %w", opts.Pack, err)
		}
	}

	v.log.Info("Imported %s as %s (%d bytes)", name, d.Short(), size)
	return &Imported{
		Digest:          d,
		Size:            size,
		Name:            name,
		Kind:            kind,
		Pack:            opts.Pack,
		ManifestWritten: written,
	}, nil
}

type PackInfo struct {
	Name         string          `json:"name"`
	Dependencies int             `json:"dependencies"`
	Digests      []digest.Digest `json:"digests"`
}

func (v *Vault) Packs(ctx context.Context) ([]PackInfo, error) {
	snapshot, err := v.refs.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	var packs []PackInfo
	for _, name := range snapshot.PackNames() {
		digests := snapshot.PackDigests(name)
		packs = append(packs, PackInfo{
			Name:         name,
			Dependencies: len(digests),
			Digests:      digests,
		})
	}
	return packs, nil
}

func (v *Vault) AddDependency(ctx context.Context, dependency refindex.Dependency) error {
	if v.writer == nil {
		return invalid("the configured reference source is read-only")
	}
	if dependency.Pack == "" {
		return invalid("pack name is required")
	}
	if dependency.Kind == "" {
		dependency.Kind = blobstore.KindUnknown
	}
	return v.writer.AddDependency(ctx, dependency)
}

func (v *Vault) RemoveDependency(ctx context.Context, pack string, d digest.Digest) error {
	if v.writer == nil {
		return invalid("the configured reference source is read-only")
	}
	return v.writer.RemoveDependency(ctx, pack, d)
}

// RemovePack drops a pack's lock state. Blobs only it referenced become
// orphans.
func (v *Vault) RemovePack(ctx context.Context, pack string) error {
	if v.writer == nil {
		return invalid("the configured reference source is read-only")
	}
	return v.writer.RemovePack(ctx, pack)
}
