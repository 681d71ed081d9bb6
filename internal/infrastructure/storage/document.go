package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Collection names, one JSON array each.
const (
	CollectionRuns          = "pipeline_runs"
	CollectionFindings      = "research_findings"
	CollectionVerifications = "verification_results"
	CollectionPolicies      = "policies"
)

// ErrClosed is returned by stores used after Close.
var ErrClosed = errors.New("document store is closed")

// DocumentStore is a whole-collection JSON store: a collection is read and
// written as one document. Read returns nil for a collection never written.
// Implementations do not coordinate writers across processes.
type DocumentStore interface {
	Read(ctx context.Context, collection string) ([]byte, error)
	Write(ctx context.Context, collection string, data []byte) error
	Close() error
}

// Document is a record addressable by id inside a collection.
type Document interface {
	DocumentID() string
}

// Collection is a typed view over one collection of a DocumentStore.
type Collection[T Document] struct {
	store DocumentStore
	name  string
}

// NewCollection binds a collection name to a store.
func NewCollection[T Document](store DocumentStore, name string) Collection[T] {
	return Collection[T]{store: store, name: name}
}

// ReadAll decodes the whole collection in stored order.
func (c Collection[T]) ReadAll(ctx context.Context) ([]T, error) {
	raw, err := c.store.Read(ctx, c.name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", c.name, err)
	}
	if len(raw) == 0 {
		return []T{}, nil
	}
	var items []T
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode %s: %w", c.name, err)
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

// WriteAll replaces the whole collection.
func (c Collection[T]) WriteAll(ctx context.Context, items []T) error {
	if items == nil {
		items = []T{}
	}
	raw, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", c.name, err)
	}
	if err := c.store.Write(ctx, c.name, raw); err != nil {
		return fmt.Errorf("write %s: %w", c.name, err)
	}
	return nil
}

// UpsertMany replaces records with matching ids in place and appends the rest.
func (c Collection[T]) UpsertMany(ctx context.Context, records ...T) error {
	if len(records) == 0 {
		return nil
	}
	items, err := c.ReadAll(ctx)
	if err != nil {
		return err
	}
	index := make(map[string]int, len(items))
	for i, item := range items {
		index[item.DocumentID()] = i
	}
	for _, rec := range records {
		if pos, ok := index[rec.DocumentID()]; ok {
			items[pos] = rec
			continue
		}
		index[rec.DocumentID()] = len(items)
		items = append(items, rec)
	}
	return c.WriteAll(ctx, items)
}

// Upsert is UpsertMany for a single record.
func (c Collection[T]) Upsert(ctx context.Context, record T) error {
	return c.UpsertMany(ctx, record)
}

// MemoryStore keeps collections in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	docs   map[string][]byte
	closed bool
}

var _ DocumentStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: map[string][]byte{}}
}

func (m *MemoryStore) Read(_ context.Context, collection string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	data, ok := m.docs[collection]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *MemoryStore) Write(_ context.Context, collection string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	m.docs[collection] = buf
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
