package trade

import (
	"context"
	"time"

	"github.com/atticswap/atticswap/internal/escrow"
	"github.com/atticswap/atticswap/internal/ledger"
)

// Store persists transactions and opens units of work over them.
type Store interface {
	// Begin opens a unit of work. Every mutation inside it either commits
	// as a whole or leaves no trace.
	Begin(ctx context.Context) (UnitOfWork, error)

	Get(ctx context.Context, id string) (*Transaction, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*Transaction, error)
	// ListExpired returns ids of escrowed transactions created before the
	// cutoff, oldest first.
	ListExpired(ctx context.Context, before time.Time, limit int) ([]string, error)
}

// UnitOfWork scopes one settlement operation. Reads take the locks the
// operation needs; the ledger and escrow stores it exposes are bound to
// the same storage transaction, so their writes commit or roll back with
// the transaction row.
type UnitOfWork interface {
	// Get reads a transaction and locks it for the rest of the unit of
	// work. Two concurrent operations on the same transaction serialize
	// here.
	Get(ctx context.Context, id string) (*Transaction, error)
	// FindOpenByPair returns the escrowed transaction for a buyer/seller
	// pair, locked, or ErrTransactionNotFound.
	FindOpenByPair(ctx context.Context, buyerID, sellerID string) (*Transaction, error)
	Insert(ctx context.Context, txn *Transaction) error
	Update(ctx context.Context, txn *Transaction) error

	// LockAccounts locks the given account rows in ascending user-id
	// order before a balance mutation touching more than one account.
	LockAccounts(ctx context.Context, userIDs ...string) error

	Ledger() ledger.Store
	Escrow() escrow.Store

	Commit() error
	Rollback() error
}
