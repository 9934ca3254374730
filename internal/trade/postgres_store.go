package trade

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/atticswap/atticswap/internal/escrow"
	"github.com/atticswap/atticswap/internal/ledger"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed transaction store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

const txnColumns = `
	id, buyer_id, seller_id, item_id, amount, status,
	buyer_confirmed, seller_confirmed,
	created_at, updated_at, completed_at, cancelled_at, cancellation_reason
`

// Begin opens one database transaction and binds ledger and escrow
// stores to it. Everything a settlement operation writes commits or
// rolls back together.
func (p *PostgresStore) Begin(ctx context.Context) (UnitOfWork, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &postgresUnitOfWork{
		tx:     tx,
		ledger: ledger.NewPostgresStore(tx),
		escrow: escrow.NewPostgresStore(tx),
	}, nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+txnColumns+`
		FROM transactions WHERE id = $1
	`, id)
	return scanTransaction(row)
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+txnColumns+`
		FROM transactions
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []*Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

func (p *PostgresStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id FROM transactions
		WHERE status = 'escrowed' AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type postgresUnitOfWork struct {
	tx     *sql.Tx
	ledger *ledger.PostgresStore
	escrow *escrow.PostgresStore
}

var _ UnitOfWork = (*postgresUnitOfWork)(nil)

// Get reads the transaction row FOR UPDATE, serializing concurrent
// operations on the same transaction at the database.
func (u *postgresUnitOfWork) Get(ctx context.Context, id string) (*Transaction, error) {
	row := u.tx.QueryRowContext(ctx, `
		SELECT `+txnColumns+`
		FROM transactions WHERE id = $1
		FOR UPDATE
	`, id)
	return scanTransaction(row)
}

func (u *postgresUnitOfWork) FindOpenByPair(ctx context.Context, buyerID, sellerID string) (*Transaction, error) {
	row := u.tx.QueryRowContext(ctx, `
		SELECT `+txnColumns+`
		FROM transactions
		WHERE buyer_id = $1 AND seller_id = $2 AND status = 'escrowed'
		FOR UPDATE
	`, buyerID, sellerID)
	return scanTransaction(row)
}

func (u *postgresUnitOfWork) Insert(ctx context.Context, txn *Transaction) error {
	_, err := u.tx.ExecContext(ctx, `
		INSERT INTO transactions (
			id, buyer_id, seller_id, item_id, amount, status,
			buyer_confirmed, seller_confirmed, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5::NUMERIC(20,2), $6, $7, $8, $9, $10)
	`, txn.ID, txn.BuyerID, txn.SellerID, nullString(txn.ItemID), txn.Amount,
		string(txn.Status), txn.BuyerConfirmed, txn.SellerConfirmed,
		txn.CreatedAt, txn.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" && pqErr.Constraint == "idx_transactions_open_pair" {
			return ErrDuplicateOpenPair
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (u *postgresUnitOfWork) Update(ctx context.Context, txn *Transaction) error {
	result, err := u.tx.ExecContext(ctx, `
		UPDATE transactions SET
			status              = $2,
			buyer_confirmed     = $3,
			seller_confirmed    = $4,
			updated_at          = $5,
			completed_at        = $6,
			cancelled_at        = $7,
			cancellation_reason = $8
		WHERE id = $1
	`, txn.ID, string(txn.Status), txn.BuyerConfirmed, txn.SellerConfirmed,
		txn.UpdatedAt, nullTime(txn.CompletedAt), nullTime(txn.CancelledAt),
		nullString(txn.CancellationReason))
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (u *postgresUnitOfWork) LockAccounts(ctx context.Context, userIDs ...string) error {
	return u.ledger.LockAccounts(ctx, userIDs...)
}

func (u *postgresUnitOfWork) Ledger() ledger.Store {
	return u.ledger
}

func (u *postgresUnitOfWork) Escrow() escrow.Store {
	return u.escrow
}

func (u *postgresUnitOfWork) Commit() error {
	return u.tx.Commit()
}

func (u *postgresUnitOfWork) Rollback() error {
	err := u.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (*Transaction, error) {
	txn := &Transaction{}
	var itemID, reason sql.NullString
	var completedAt, cancelledAt sql.NullTime
	var status string

	err := row.Scan(
		&txn.ID, &txn.BuyerID, &txn.SellerID, &itemID, &txn.Amount, &status,
		&txn.BuyerConfirmed, &txn.SellerConfirmed,
		&txn.CreatedAt, &txn.UpdatedAt, &completedAt, &cancelledAt, &reason,
	)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}

	txn.Status = Status(status)
	txn.ItemID = itemID.String
	txn.CancellationReason = reason.String
	if completedAt.Valid {
		txn.CompletedAt = &completedAt.Time
	}
	if cancelledAt.Valid {
		txn.CancelledAt = &cancelledAt.Time
	}
	return txn, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
