// Package session holds per-conversation state: the confirmed entity mappings
// accumulated while a user disambiguates names. Memory is append-only within a
// session and discarded when the conversation ends; it is never shared across
// conversations.
package session

import (
	"sync"

	"github.com/google/uuid"
)

// Memory stores confirmed raw-input → canonical-value mappings for one
// conversation. Writers for distinct keys never block each other beyond the
// mutex hold; a key, once confirmed, is never rewritten.
type Memory struct {
	id string

	mu        sync.RWMutex
	confirmed map[string]string
}

// New creates an empty session memory with a fresh session ID.
func New() *Memory {
	return &Memory{
		id:        uuid.NewString(),
		confirmed: make(map[string]string),
	}
}

// ID returns the session identifier.
func (m *Memory) ID() string {
	return m.id
}

// Confirm records a user-confirmed mapping. The memory grows monotonically:
// the first confirmation for a key wins and later calls return the stored
// value, so concurrent confirmations of the same key cannot diverge.
func (m *Memory) Confirm(rawInput, canonical string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.confirmed[rawInput]; ok {
		return existing
	}
	m.confirmed[rawInput] = canonical
	return canonical
}

// Lookup returns the confirmed canonical value for rawInput, if any.
func (m *Memory) Lookup(rawInput string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.confirmed[rawInput]
	return v, ok
}

// Len reports how many mappings have been confirmed this session.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.confirmed)
}
