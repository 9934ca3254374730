package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atticswap/atticswap/internal/idgen"
)

// MemoryStore is an in-memory account store for demo/development mode.
type MemoryStore struct {
	accounts map[string]*Account
	entries  []*Entry
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory account store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*Account),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) CreateAccount(ctx context.Context, userID string, initial decimal.Decimal) (*Account, error) {
	return m.createAccount(nil, userID, initial)
}

func (m *MemoryStore) createAccount(j *Journal, userID string, initial decimal.Decimal) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[userID]; ok {
		return nil, ErrDuplicateAccount
	}
	j.recordAccount(userID, nil)

	now := time.Now()
	acct := &Account{
		UserID:    userID,
		Total:     initial,
		Escrowed:  decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.accounts[userID] = acct

	if initial.IsPositive() {
		j.recordEntry(m.appendEntry(userID, EntryGrant, initial, "signup"))
	}

	cp := *acct
	return &cp, nil
}

func (m *MemoryStore) GetAccount(ctx context.Context, userID string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acct, ok := m.accounts[userID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *acct
	return &cp, nil
}

func (m *MemoryStore) Reserve(ctx context.Context, userID string, amount decimal.Decimal, reference string) error {
	return m.reserve(nil, userID, amount, reference)
}

func (m *MemoryStore) reserve(j *Journal, userID string, amount decimal.Decimal, reference string) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[userID]
	if !ok {
		return ErrAccountNotFound
	}
	if acct.Available().LessThan(amount) {
		return ErrInsufficientFunds
	}
	j.recordAccount(userID, acct)

	acct.Escrowed = acct.Escrowed.Add(amount)
	acct.UpdatedAt = time.Now()
	j.recordEntry(m.appendEntry(userID, EntryReserve, amount, reference))
	return nil
}

func (m *MemoryStore) Settle(ctx context.Context, debitID, creditID string, amount decimal.Decimal, reference string) error {
	return m.settle(nil, debitID, creditID, amount, reference)
}

func (m *MemoryStore) settle(j *Journal, debitID, creditID string, amount decimal.Decimal, reference string) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	debit, ok := m.accounts[debitID]
	if !ok {
		return ErrAccountNotFound
	}
	credit, ok := m.accounts[creditID]
	if !ok {
		return ErrAccountNotFound
	}
	if debit.Escrowed.LessThan(amount) {
		return ErrInsufficientFunds
	}
	j.recordAccount(debitID, debit)
	j.recordAccount(creditID, credit)

	now := time.Now()
	debit.Total = debit.Total.Sub(amount)
	debit.Escrowed = debit.Escrowed.Sub(amount)
	debit.UpdatedAt = now
	credit.Total = credit.Total.Add(amount)
	credit.UpdatedAt = now

	j.recordEntry(m.appendEntry(debitID, EntrySettleOut, amount, reference))
	j.recordEntry(m.appendEntry(creditID, EntrySettleIn, amount, reference))
	return nil
}

func (m *MemoryStore) Release(ctx context.Context, userID string, amount decimal.Decimal, reference string) error {
	return m.release(nil, userID, amount, reference)
}

func (m *MemoryStore) release(j *Journal, userID string, amount decimal.Decimal, reference string) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[userID]
	if !ok {
		return ErrAccountNotFound
	}
	if acct.Escrowed.LessThan(amount) {
		return ErrInsufficientFunds
	}
	j.recordAccount(userID, acct)

	acct.Escrowed = acct.Escrowed.Sub(amount)
	acct.UpdatedAt = time.Now()
	j.recordEntry(m.appendEntry(userID, EntryRelease, amount, reference))
	return nil
}

func (m *MemoryStore) History(ctx context.Context, userID string, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Entry
	for _, e := range m.entries {
		if e.UserID == userID {
			cp := *e
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

// appendEntry records an audit entry and returns it. Caller must hold the
// write lock.
func (m *MemoryStore) appendEntry(userID, typ string, amount decimal.Decimal, reference string) *Entry {
	e := &Entry{
		ID:        idgen.New(),
		UserID:    userID,
		Type:      typ,
		Amount:    amount,
		Reference: reference,
		CreatedAt: time.Now(),
	}
	m.entries = append(m.entries, e)
	return e
}

// Journal is a Store view over a MemoryStore that remembers the pre-image
// of every account its own calls mutate, and the audit entries they append.
// Rollback undoes exactly those writes. Accounts other callers create or
// touch while the journal is open are left alone, so an aborted settlement
// cannot erase an unrelated signup.
type Journal struct {
	store   *MemoryStore
	pre     map[string]*Account // nil value: account absent at first touch
	entries map[string]bool
}

// Journal opens a journalled view of the store for one unit of work.
func (m *MemoryStore) Journal() *Journal {
	return &Journal{
		store:   m,
		pre:     make(map[string]*Account),
		entries: make(map[string]bool),
	}
}

var _ Store = (*Journal)(nil)

func (j *Journal) CreateAccount(ctx context.Context, userID string, initial decimal.Decimal) (*Account, error) {
	return j.store.createAccount(j, userID, initial)
}

func (j *Journal) GetAccount(ctx context.Context, userID string) (*Account, error) {
	return j.store.GetAccount(ctx, userID)
}

func (j *Journal) Reserve(ctx context.Context, userID string, amount decimal.Decimal, reference string) error {
	return j.store.reserve(j, userID, amount, reference)
}

func (j *Journal) Settle(ctx context.Context, debitID, creditID string, amount decimal.Decimal, reference string) error {
	return j.store.settle(j, debitID, creditID, amount, reference)
}

func (j *Journal) Release(ctx context.Context, userID string, amount decimal.Decimal, reference string) error {
	return j.store.release(j, userID, amount, reference)
}

func (j *Journal) History(ctx context.Context, userID string, limit int) ([]*Entry, error) {
	return j.store.History(ctx, userID, limit)
}

// recordAccount captures an account's pre-image on first touch. nil means
// the account did not exist. Caller must hold the store's write lock.
// Safe on a nil journal so the plain Store methods share the mutation code.
func (j *Journal) recordAccount(userID string, acct *Account) {
	if j == nil {
		return
	}
	if _, seen := j.pre[userID]; seen {
		return
	}
	if acct == nil {
		j.pre[userID] = nil
		return
	}
	cp := *acct
	j.pre[userID] = &cp
}

func (j *Journal) recordEntry(e *Entry) {
	if j == nil {
		return
	}
	j.entries[e.ID] = true
}

// Rollback restores the pre-image of every account mutated through the
// journal and removes the audit entries it appended. Idempotent.
func (j *Journal) Rollback() {
	m := j.store
	m.mu.Lock()
	defer m.mu.Unlock()

	for userID, pre := range j.pre {
		if pre == nil {
			delete(m.accounts, userID)
			continue
		}
		cp := *pre
		m.accounts[userID] = &cp
	}
	if len(j.entries) > 0 {
		kept := m.entries[:0]
		for _, e := range m.entries {
			if !j.entries[e.ID] {
				kept = append(kept, e)
			}
		}
		m.entries = kept
	}

	j.pre = make(map[string]*Account)
	j.entries = make(map[string]bool)
}
