package storage

import (
	"context"
	"sync"
)

// MockSource is an in-memory TokenSource for tests and dry runs
type MockSource struct {
	mu     sync.RWMutex
	tokens map[string][]byte
	reads  int
}

// NewMockSource creates a mock seeded with tokens
func NewMockSource(tokens map[string]string) *MockSource {
	m := &MockSource{tokens: make(map[string][]byte)}
	for ref, tok := range tokens {
		m.tokens[ref] = []byte(tok)
	}
	return m
}

// Put stores a token under ref
func (m *MockSource) Put(ref string, token []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[ref] = append([]byte(nil), token...)
}

// Read implements TokenSource
func (m *MockSource) Read(ctx context.Context, ref string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++

	tok, ok := m.tokens[ref]
	if !ok {
		return nil, &ErrNotFound{Ref: ref}
	}
	// Return a copy to prevent external mutation
	return append([]byte(nil), tok...), nil
}

// Reads returns how many times Read was called
func (m *MockSource) Reads() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reads
}
