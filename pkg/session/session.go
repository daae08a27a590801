// Package session owns the per-tab visitor session identifier.
//
// A Context is created once per tab from a Store, which stands in for the
// tab's ephemeral storage. The identifier is generated on first access and
// read back on every later access.
package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// StorageKey is the per-tab storage key holding the session identifier
const StorageKey = "visitor_session_id"

// MaxIDLength bounds identifiers accepted from clients
const MaxIDLength = 64

// Store is per-tab key/value storage
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string)
}

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (s *MemoryStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *MemoryStore) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Context carries the session identifier into every capture call
type Context struct {
	ID string
}

// Resolve returns the tab's session, generating and storing a new random
// identifier only when the store has none.
func Resolve(store Store) Context {
	if id, ok := store.Get(StorageKey); ok && id != "" {
		return Context{ID: id}
	}
	id := uuid.NewString()
	store.Set(StorageKey, id)
	return Context{ID: id}
}

// Valid reports whether id is an acceptable client-supplied identifier
func Valid(id string) bool {
	return id != "" && len(id) <= MaxIDLength
}

type ctxKey struct{}

// NewContext returns a copy of ctx carrying s
func NewContext(ctx context.Context, s Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session stored in ctx, if any
func FromContext(ctx context.Context) (Context, bool) {
	s, ok := ctx.Value(ctxKey{}).(Context)
	return s, ok
}
