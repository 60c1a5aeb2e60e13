// Package store holds the scratch key/value area shared by every driver
// talking to the bridge. Values live for the lifetime of the process.
package store

import (
	"encoding/json"
	"sync"

	"github.com/xkilldash9x/extbridge/api/schemas"
)

// MemoryStore is a concurrency-safe, last-write-wins map of raw JSON values.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]json.RawMessage
}

var _ schemas.ScratchStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]json.RawMessage)}
}

// Get returns a copy of the value stored under key. A key set to undefined
// reports (nil, true).
func (s *MemoryStore) Get(key string) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return clone(v), ok
}

// Set stores a copy of value under key.
func (s *MemoryStore) Set(key string, value json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = clone(value)
}

// Len reports how many keys have been set.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

func clone(v json.RawMessage) json.RawMessage {
	if v == nil {
		return nil
	}
	return append(json.RawMessage(nil), v...)
}
