package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/atticswap/atticswap/internal/idgen"
)

// DBTX is the subset of *sql.DB and *sql.Tx the store needs. Binding the
// store to a *sql.Tx lets a settlement unit of work span ledger, escrow
// and transaction writes in one database transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db DBTX
}

// NewPostgresStore creates a PostgreSQL-backed account store. db may be a
// *sql.DB for standalone use or a *sql.Tx inside a unit of work.
func NewPostgresStore(db DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

// LockAccounts takes row-level locks on the given accounts in ascending
// user-id order. Settlement units of work call this before mutating two
// accounts so concurrent trades sharing a user cannot deadlock.
func (p *PostgresStore) LockAccounts(ctx context.Context, userIDs ...string) error {
	rows, err := p.db.QueryContext(ctx, `
		SELECT user_id FROM accounts
		WHERE user_id = ANY($1)
		ORDER BY user_id
		FOR UPDATE
	`, pq.Array(userIDs))
	if err != nil {
		return fmt.Errorf("lock accounts: %w", err)
	}
	defer rows.Close()

	locked := 0
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		locked++
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if locked != len(userIDs) {
		return ErrAccountNotFound
	}
	return nil
}

func (p *PostgresStore) CreateAccount(ctx context.Context, userID string, initial decimal.Decimal) (*Account, error) {
	acct := &Account{UserID: userID, Total: initial, Escrowed: decimal.Zero}

	err := p.db.QueryRowContext(ctx, `
		INSERT INTO accounts (user_id, total, escrowed, created_at, updated_at)
		VALUES ($1, $2::NUMERIC(20,2), 0, NOW(), NOW())
		RETURNING created_at, updated_at
	`, userID, initial).Scan(&acct.CreatedAt, &acct.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return nil, ErrDuplicateAccount
		}
		return nil, fmt.Errorf("create account: %w", err)
	}

	if initial.IsPositive() {
		if err := p.insertEntry(ctx, userID, EntryGrant, initial, "signup"); err != nil {
			return nil, err
		}
	}
	return acct, nil
}

func (p *PostgresStore) GetAccount(ctx context.Context, userID string) (*Account, error) {
	acct := &Account{UserID: userID}

	err := p.db.QueryRowContext(ctx, `
		SELECT total, escrowed, created_at, updated_at
		FROM accounts WHERE user_id = $1
	`, userID).Scan(&acct.Total, &acct.Escrowed, &acct.CreatedAt, &acct.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// Reserve locks part of a user's balance. The conditional UPDATE and the
// CHECK constraint (escrowed <= total) together make overdraft impossible
// even under concurrent reserves.
func (p *PostgresStore) Reserve(ctx context.Context, userID string, amount decimal.Decimal, reference string) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	result, err := p.db.ExecContext(ctx, `
		UPDATE accounts SET
			escrowed   = escrowed + $2::NUMERIC(20,2),
			updated_at = NOW()
		WHERE user_id = $1
		  AND total - escrowed >= $2::NUMERIC(20,2)
	`, userID, amount)
	if err != nil {
		return fmt.Errorf("reserve: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return p.missReason(ctx, userID)
	}

	return p.insertEntry(ctx, userID, EntryReserve, amount, reference)
}

// Settle moves a held amount from the debit account's balance to the
// credit account. Callers must have locked both accounts first.
func (p *PostgresStore) Settle(ctx context.Context, debitID, creditID string, amount decimal.Decimal, reference string) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	result, err := p.db.ExecContext(ctx, `
		UPDATE accounts SET
			total      = total    - $2::NUMERIC(20,2),
			escrowed   = escrowed - $2::NUMERIC(20,2),
			updated_at = NOW()
		WHERE user_id = $1
		  AND escrowed >= $2::NUMERIC(20,2)
	`, debitID, amount)
	if err != nil {
		return fmt.Errorf("settle debit: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return p.missReason(ctx, debitID)
	}

	result, err = p.db.ExecContext(ctx, `
		UPDATE accounts SET
			total      = total + $2::NUMERIC(20,2),
			updated_at = NOW()
		WHERE user_id = $1
	`, creditID, amount)
	if err != nil {
		return fmt.Errorf("settle credit: %w", err)
	}
	rows, _ = result.RowsAffected()
	if rows == 0 {
		return ErrAccountNotFound
	}

	if err := p.insertEntry(ctx, debitID, EntrySettleOut, amount, reference); err != nil {
		return err
	}
	return p.insertEntry(ctx, creditID, EntrySettleIn, amount, reference)
}

// Release returns a held amount to the user's spendable balance.
func (p *PostgresStore) Release(ctx context.Context, userID string, amount decimal.Decimal, reference string) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	result, err := p.db.ExecContext(ctx, `
		UPDATE accounts SET
			escrowed   = escrowed - $2::NUMERIC(20,2),
			updated_at = NOW()
		WHERE user_id = $1
		  AND escrowed >= $2::NUMERIC(20,2)
	`, userID, amount)
	if err != nil {
		return fmt.Errorf("release: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return p.missReason(ctx, userID)
	}

	return p.insertEntry(ctx, userID, EntryRelease, amount, reference)
}

func (p *PostgresStore) History(ctx context.Context, userID string, limit int) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, type, amount, reference, created_at
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		var reference sql.NullString
		if err := rows.Scan(&e.ID, &e.UserID, &e.Type, &e.Amount, &reference, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Reference = reference.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// missReason distinguishes "no such account" from "guard failed" after a
// conditional UPDATE touched zero rows.
func (p *PostgresStore) missReason(ctx context.Context, userID string) error {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM accounts WHERE user_id = $1)
	`, userID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return ErrAccountNotFound
	}
	return ErrInsufficientFunds
}

func (p *PostgresStore) insertEntry(ctx context.Context, userID, typ string, amount decimal.Decimal, reference string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, user_id, type, amount, reference, created_at)
		VALUES ($1, $2, $3, $4::NUMERIC(20,2), $5, NOW())
	`, idgen.New(), userID, typ, amount, reference)
	if err != nil {
		return fmt.Errorf("record ledger entry: %w", err)
	}
	return nil
}
