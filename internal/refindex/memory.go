package refindex

import (
	"context"
	"sync"

	"github.com/mwantia/goblob/pkg/digest"
)

// MemorySource keeps lock state in memory. It backs embedded use and tests.
type MemorySource struct {
	mu           sync.RWMutex
	dependencies []Dependency
}

var (
	_ Source = (*MemorySource)(nil)
	_ Writer = (*MemorySource)(nil)
)

func NewMemorySource(dependencies ...Dependency) *MemorySource {
	return &MemorySource{dependencies: append([]Dependency(nil), dependencies...)}
}

func (m *MemorySource) Dependencies(ctx context.Context) ([]Dependency, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Dependency(nil), m.dependencies...), nil
}

func (m *MemorySource) AddDependency(_ context.Context, dependency Dependency) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, existing := range m.dependencies {
		if existing.Pack == dependency.Pack && existing.Digest == dependency.Digest {
			m.dependencies[i] = dependency
			return nil
		}
	}
	m.dependencies = append(m.dependencies, dependency)
	return nil
}

func (m *MemorySource) RemoveDependency(_ context.Context, pack string, d digest.Digest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.dependencies[:0]
	for _, existing := range m.dependencies {
		if existing.Pack == pack && existing.Digest == d {
			continue
		}
		kept = append(kept, existing)
	}
	m.dependencies = kept
	return nil
}

func (m *MemorySource) RemovePack(_ context.Context, pack string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.dependencies[:0]
	for _, existing := range m.dependencies {
		if existing.Pack != pack {
			kept = append(kept, existing)
		}
	}
	m.dependencies = kept
	return nil
}
