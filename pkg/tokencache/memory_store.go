package tokencache

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory WritableStore intended for tests and short-lived processes.
type MemoryStore struct {
	mutex   sync.Mutex
	entries map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]string)}
}

// Get returns the value stored under key.
func (store *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	value, ok := store.entries[key]
	return value, ok, nil
}

// Set stores value under key.
func (store *MemoryStore) Set(ctx context.Context, key string, value string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.entries == nil {
		store.entries = make(map[string]string)
	}
	store.entries[key] = value
	return nil
}

// Delete removes key; deleting a missing key is not an error.
func (store *MemoryStore) Delete(ctx context.Context, key string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	delete(store.entries, key)
	return nil
}

// Driver identifies the backend.
func (store *MemoryStore) Driver() string {
	return "memory"
}

// Close is a no-op.
func (store *MemoryStore) Close() error {
	return nil
}

// Len returns the number of stored entries.
func (store *MemoryStore) Len() int {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return len(store.entries)
}
