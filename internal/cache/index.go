package cache

import (
	"context"
	"sync"
	"time"

	"github.com/book-expert/narrator/internal/core"
)

// Entry is the metadata kept for one cached blob.
type Entry struct {
	CreatedAt      time.Time
	LastAccessedAt time.Time
	Fingerprint    core.Fingerprint
	Engine         string
	Size           int64
	SampleRate     int
	Channels       int
}

// Index persists entry metadata next to the blob store.
type Index interface {
	Load(ctx context.Context) ([]Entry, error)
	Upsert(ctx context.Context, entry Entry) error
	Touch(ctx context.Context, fp core.Fingerprint, at time.Time) error
	Remove(ctx context.Context, fp core.Fingerprint) error
	Clear(ctx context.Context) error
	Close() error
}

// MemoryIndex keeps metadata for the life of the process only.
type MemoryIndex struct {
	entries map[core.Fingerprint]Entry
	mu      sync.Mutex
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[core.Fingerprint]Entry)}
}

func (m *MemoryIndex) Load(_ context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := make([]Entry, 0, len(m.entries))
	for _, entry := range m.entries {
		entries = append(entries, entry)
	}

	return entries, nil
}

func (m *MemoryIndex) Upsert(_ context.Context, entry Entry) error {
	m.mu.Lock()
	m.entries[entry.Fingerprint] = entry
	m.mu.Unlock()

	return nil
}

func (m *MemoryIndex) Touch(_ context.Context, fp core.Fingerprint, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.entries[fp]; ok {
		entry.LastAccessedAt = at
		m.entries[fp] = entry
	}

	return nil
}

func (m *MemoryIndex) Remove(_ context.Context, fp core.Fingerprint) error {
	m.mu.Lock()
	delete(m.entries, fp)
	m.mu.Unlock()

	return nil
}

func (m *MemoryIndex) Clear(_ context.Context) error {
	m.mu.Lock()
	clear(m.entries)
	m.mu.Unlock()

	return nil
}

func (m *MemoryIndex) Close() error { return nil }
