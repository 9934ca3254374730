package escrow

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/atticswap/atticswap/internal/idgen"
)

// DBTX is the subset of *sql.DB and *sql.Tx the store needs.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db DBTX
}

// NewPostgresStore creates a PostgreSQL-backed escrow record store. db may
// be a *sql.DB for standalone use or a *sql.Tx inside a unit of work.
func NewPostgresStore(db DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

// Open creates a held record. The partial unique index on transaction_id
// WHERE status='held' backs the one-active-hold invariant under
// concurrent opens.
func (p *PostgresStore) Open(ctx context.Context, transactionID string, amount decimal.Decimal) (*Record, error) {
	rec := &Record{
		ID:            idgen.WithPrefix("esc_"),
		TransactionID: transactionID,
		Amount:        amount,
		Status:        StatusHeld,
	}

	err := p.db.QueryRowContext(ctx, `
		INSERT INTO escrow_records (id, transaction_id, amount, status, created_at)
		VALUES ($1, $2, $3::NUMERIC(20,2), 'held', NOW())
		RETURNING created_at
	`, rec.ID, transactionID, amount).Scan(&rec.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return nil, ErrDuplicateHold
		}
		return nil, fmt.Errorf("open escrow record: %w", err)
	}
	return rec, nil
}

func (p *PostgresStore) Close(ctx context.Context, escrowID string, outcome Status) (*Record, error) {
	if outcome != StatusReleased && outcome != StatusRefunded {
		return nil, ErrInvalidOutcome
	}

	rec := &Record{ID: escrowID, Status: outcome}
	var closedAt time.Time
	err := p.db.QueryRowContext(ctx, `
		UPDATE escrow_records SET
			status    = $2,
			closed_at = NOW()
		WHERE id = $1 AND status = 'held'
		RETURNING transaction_id, amount, created_at, closed_at
	`, escrowID, string(outcome)).Scan(&rec.TransactionID, &rec.Amount, &rec.CreatedAt, &closedAt)
	if err == nil {
		rec.ClosedAt = &closedAt
		return rec, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("close escrow record: %w", err)
	}

	// Nothing was held. A retried close with the same outcome is benign.
	existing, err := p.Get(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if existing.Status == outcome {
		return existing, nil
	}
	return nil, ErrNotHeld
}

func (p *PostgresStore) Get(ctx context.Context, escrowID string) (*Record, error) {
	rec := &Record{ID: escrowID}
	var closedAt sql.NullTime
	err := p.db.QueryRowContext(ctx, `
		SELECT transaction_id, amount, status, created_at, closed_at
		FROM escrow_records WHERE id = $1
	`, escrowID).Scan(&rec.TransactionID, &rec.Amount, &rec.Status, &rec.CreatedAt, &closedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	if closedAt.Valid {
		rec.ClosedAt = &closedAt.Time
	}
	return rec, nil
}

func (p *PostgresStore) HeldByTransaction(ctx context.Context, transactionID string) (*Record, error) {
	rec := &Record{TransactionID: transactionID, Status: StatusHeld}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, amount, created_at
		FROM escrow_records
		WHERE transaction_id = $1 AND status = 'held'
	`, transactionID).Scan(&rec.ID, &rec.Amount, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}
