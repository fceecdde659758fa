// Package citations implements C5: a process-wide mapping from session ID
// to citation ID to evidence record, populated once when a final answer is
// assembled and read back via GET /citation/{id} (spec.md §4.5).
package citations

import (
	"errors"
	"sync"
	"time"

	"github.com/haasonsaas/nexus/pkg/evidence"
)

// ErrNotFound is returned by Get when the (sessionID, id) pair is unknown or
// has been evicted, mapped by the gateway to HTTP 404 (spec.md's
// CitationNotFound).
var ErrNotFound = errors.New("citation not found")

// Store is C5's contract. Implementations must be safe for concurrent use.
type Store interface {
	// Put records an evidence record under (sessionID, id). Writes happen
	// at most once per citation, when the final answer is assembled.
	Put(sessionID, id string, rec evidence.EvidenceRecord) error

	// Get returns the evidence record, or ErrNotFound if unknown or expired.
	Get(sessionID, id string) (evidence.EvidenceRecord, error)

	// MarkTerminal records when sessionID reached a terminal status, the
	// reference point eviction timestamps are computed from.
	MarkTerminal(sessionID string, at time.Time)

	// Sweep evicts every session whose terminal mark is older than the
	// configured TTL as of now. Called periodically by a background ticker;
	// Get separately evicts the one session it looks up (lazy eviction).
	Sweep(now time.Time)
}

// sessionEntry holds one session's citations plus the terminal-status
// timestamp eviction is computed from.
type sessionEntry struct {
	citations  map[string]evidence.EvidenceRecord
	terminalAt *time.Time
}

// MemoryStore is the default Store implementation: a sync.RWMutex-guarded
// nested map, grounded on the teacher's internal/sessions/memory.go
// MemoryStore (same mutex discipline — guard only O(1) operations, never
// held across a suspension point, per spec.md §5).
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry
	ttl      time.Duration
}

// NewMemoryStore constructs a MemoryStore with the given eviction TTL
// (spec.md's CITATION_TTL_SECONDS, default 1 hour).
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*sessionEntry),
		ttl:      ttl,
	}
}

func (m *MemoryStore) Put(sessionID, id string, rec evidence.EvidenceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.sessions[sessionID]
	if !ok {
		entry = &sessionEntry{citations: make(map[string]evidence.EvidenceRecord)}
		m.sessions[sessionID] = entry
	}
	entry.citations[id] = rec
	return nil
}

func (m *MemoryStore) Get(sessionID, id string) (evidence.EvidenceRecord, error) {
	m.evictExpired(sessionID, time.Now())

	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.sessions[sessionID]
	if !ok {
		return evidence.EvidenceRecord{}, ErrNotFound
	}
	rec, ok := entry.citations[id]
	if !ok {
		return evidence.EvidenceRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryStore) MarkTerminal(sessionID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.sessions[sessionID]
	if !ok {
		entry = &sessionEntry{citations: make(map[string]evidence.EvidenceRecord)}
		m.sessions[sessionID] = entry
	}
	t := at
	entry.terminalAt = &t
}

// Sweep evicts every session whose terminal mark is older than ttl as of
// now. Intended to be called from a background ticker in the gateway.
func (m *MemoryStore) Sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for sessionID, entry := range m.sessions {
		if entry.terminalAt != nil && now.Sub(*entry.terminalAt) > m.ttl {
			delete(m.sessions, sessionID)
		}
	}
}

// evictExpired is the lazy half of eviction: a single session's entry is
// checked and dropped on access, without waiting for the periodic sweep.
func (m *MemoryStore) evictExpired(sessionID string, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	if entry.terminalAt != nil && now.Sub(*entry.terminalAt) > m.ttl {
		delete(m.sessions, sessionID)
	}
}
