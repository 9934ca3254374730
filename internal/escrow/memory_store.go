package escrow

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atticswap/atticswap/internal/idgen"
)

// MemoryStore is an in-memory escrow record store for demo/development mode.
type MemoryStore struct {
	records map[string]*Record
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory escrow record store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Open(ctx context.Context, transactionID string, amount decimal.Decimal) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.records {
		if r.TransactionID == transactionID && r.Status == StatusHeld {
			return nil, ErrDuplicateHold
		}
	}

	rec := &Record{
		ID:            idgen.WithPrefix("esc_"),
		TransactionID: transactionID,
		Amount:        amount,
		Status:        StatusHeld,
		CreatedAt:     time.Now(),
	}
	m.records[rec.ID] = rec

	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) Close(ctx context.Context, escrowID string, outcome Status) (*Record, error) {
	if outcome != StatusReleased && outcome != StatusRefunded {
		return nil, ErrInvalidOutcome
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[escrowID]
	if !ok {
		return nil, ErrRecordNotFound
	}

	if rec.IsTerminal() {
		if rec.Status == outcome {
			// Retried close with the same outcome, treat as success.
			cp := *rec
			return &cp, nil
		}
		return nil, ErrNotHeld
	}

	now := time.Now()
	rec.Status = outcome
	rec.ClosedAt = &now

	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) Get(ctx context.Context, escrowID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[escrowID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) HeldByTransaction(ctx context.Context, transactionID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.records {
		if r.TransactionID == transactionID && r.Status == StatusHeld {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrRecordNotFound
}

// Snapshot captures the store's state for unit-of-work rollback.
type Snapshot struct {
	records map[string]Record
}

func (m *MemoryStore) Snapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make(map[string]Record, len(m.records))
	for id, r := range m.records {
		records[id] = *r
	}
	return &Snapshot{records: records}
}

// Restore discards every mutation made since the snapshot was taken.
func (m *MemoryStore) Restore(s *Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = make(map[string]*Record, len(s.records))
	for id, r := range s.records {
		cp := r
		m.records[id] = &cp
	}
}
