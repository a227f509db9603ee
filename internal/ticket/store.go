package ticket

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
)

// SQLStore persists tickets in a SQLite database, usually the same file as
// the task store.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore ensures the ticket schema and returns a store over db.
func NewSQLStore(db *sql.DB) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle is required")
	}
	schema := `
CREATE TABLE IF NOT EXISTS escalation_ticket (
	id TEXT PRIMARY KEY,
	sop_id TEXT,
	order_id TEXT,
	correlation_id TEXT,
	query TEXT,
	summary TEXT,
	evidence TEXT,
	created_at TEXT NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create ticket schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Save persists one ticket.
func (s *SQLStore) Save(ctx context.Context, t Ticket) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO escalation_ticket (id, sop_id, order_id, correlation_id, query, summary, evidence, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Context.SopID, t.Context.OrderID, t.Context.CorrelationID,
		t.Context.Query, t.Context.Summary, string(t.Context.Evidence),
		t.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
	)
	if err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}
	return nil
}

// Get fetches one ticket by id; sql.ErrNoRows when absent.
func (s *SQLStore) Get(ctx context.Context, id string) (*Ticket, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, sop_id, order_id, correlation_id, query, summary, evidence, created_at
FROM escalation_ticket WHERE id = ?`, id)

	var t Ticket
	var evidence, createdAt string
	err := row.Scan(&t.ID, &t.Context.SopID, &t.Context.OrderID, &t.Context.CorrelationID,
		&t.Context.Query, &t.Context.Summary, &evidence, &createdAt)
	if err != nil {
		return nil, err
	}
	if evidence != "" {
		t.Context.Evidence = json.RawMessage(evidence)
	}
	return &t, nil
}

// MemoryStore keeps tickets in memory, for tests and ephemeral setups.
type MemoryStore struct {
	mu      sync.Mutex
	tickets map[string]Ticket

	// failWith, when set, makes Save fail. Test hook.
	failWith error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tickets: make(map[string]Ticket)}
}

// Save stores the ticket, rejecting duplicate ids.
func (m *MemoryStore) Save(_ context.Context, t Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	if _, exists := m.tickets[t.ID]; exists {
		return fmt.Errorf("duplicate ticket id %s", t.ID)
	}
	m.tickets[t.ID] = t
	return nil
}

// Len reports the number of stored tickets.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tickets)
}
