package trade

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/atticswap/atticswap/internal/escrow"
	"github.com/atticswap/atticswap/internal/ledger"
)

// MemoryStore is an in-memory transaction store for demo/development mode.
// Units of work hold a store-wide mutex, so settlement operations are
// fully serialized. Rollback restores the transaction and escrow snapshots
// and undoes ledger writes through a journal, so account signups that land
// while a unit of work is open survive its rollback.
type MemoryStore struct {
	txns   map[string]*Transaction
	ledger *ledger.MemoryStore
	escrow *escrow.MemoryStore
	mu     sync.Mutex
}

// NewMemoryStore creates an in-memory transaction store bound to the
// given ledger and escrow stores.
func NewMemoryStore(l *ledger.MemoryStore, e *escrow.MemoryStore) *MemoryStore {
	return &MemoryStore{
		txns:   make(map[string]*Transaction),
		ledger: l,
		escrow: e,
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Begin(ctx context.Context) (UnitOfWork, error) {
	m.mu.Lock()

	txns := make(map[string]Transaction, len(m.txns))
	for id, t := range m.txns {
		txns[id] = *t
	}
	return &memoryUnitOfWork{
		store:      m,
		txnSnap:    txns,
		ledgerTx:   m.ledger.Journal(),
		escrowSnap: m.escrow.Snapshot(),
	}, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(id)
}

// get assumes the caller holds the mutex.
func (m *MemoryStore) get(id string) (*Transaction, error) {
	txn, ok := m.txns[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	cp := *txn
	return &cp, nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*Transaction
	for _, t := range m.txns {
		if t.BuyerID == userID || t.SellerID == userID {
			cp := *t
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []*Transaction
	for _, t := range m.txns {
		if t.Status == StatusEscrowed && t.CreatedAt.Before(before) {
			expired = append(expired, t)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].CreatedAt.Before(expired[j].CreatedAt)
	})
	if len(expired) > limit {
		expired = expired[:limit]
	}

	ids := make([]string, len(expired))
	for i, t := range expired {
		ids[i] = t.ID
	}
	return ids, nil
}

type memoryUnitOfWork struct {
	store      *MemoryStore
	txnSnap    map[string]Transaction
	ledgerTx   *ledger.Journal
	escrowSnap *escrow.Snapshot
	done       bool
}

var _ UnitOfWork = (*memoryUnitOfWork)(nil)

func (u *memoryUnitOfWork) Get(ctx context.Context, id string) (*Transaction, error) {
	return u.store.get(id)
}

func (u *memoryUnitOfWork) FindOpenByPair(ctx context.Context, buyerID, sellerID string) (*Transaction, error) {
	for _, t := range u.store.txns {
		if t.BuyerID == buyerID && t.SellerID == sellerID && t.Status == StatusEscrowed {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrTransactionNotFound
}

// Insert enforces the one-open-transaction-per-pair rule the Postgres
// store backs with a partial unique index.
func (u *memoryUnitOfWork) Insert(ctx context.Context, txn *Transaction) error {
	if txn.Status == StatusEscrowed {
		for _, t := range u.store.txns {
			if t.BuyerID == txn.BuyerID && t.SellerID == txn.SellerID && t.Status == StatusEscrowed {
				return ErrDuplicateOpenPair
			}
		}
	}
	cp := *txn
	u.store.txns[txn.ID] = &cp
	return nil
}

func (u *memoryUnitOfWork) Update(ctx context.Context, txn *Transaction) error {
	if _, ok := u.store.txns[txn.ID]; !ok {
		return ErrTransactionNotFound
	}
	cp := *txn
	u.store.txns[txn.ID] = &cp
	return nil
}

// LockAccounts is a no-op: the store-wide mutex already serializes every
// unit of work.
func (u *memoryUnitOfWork) LockAccounts(ctx context.Context, userIDs ...string) error {
	return nil
}

func (u *memoryUnitOfWork) Ledger() ledger.Store {
	return u.ledgerTx
}

func (u *memoryUnitOfWork) Escrow() escrow.Store {
	return u.store.escrow
}

func (u *memoryUnitOfWork) Commit() error {
	if u.done {
		return nil
	}
	u.done = true
	u.store.mu.Unlock()
	return nil
}

func (u *memoryUnitOfWork) Rollback() error {
	if u.done {
		return nil
	}
	u.done = true

	u.store.txns = make(map[string]*Transaction, len(u.txnSnap))
	for id, t := range u.txnSnap {
		cp := t
		u.store.txns[id] = &cp
	}
	u.ledgerTx.Rollback()
	u.store.escrow.Restore(u.escrowSnap)

	u.store.mu.Unlock()
	return nil
}
