// Package escrow keeps the durable record of every token hold.
//
// A record is created when a trade locks the buyer's tokens and closed
// exactly once when the trade reaches a terminal state: Released when the
// tokens settle to the seller, Refunded when they return to the buyer.
// The records survive independently of the transaction row so a crash
// mid-settlement leaves an auditable trail.
package escrow

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrDuplicateHold  = errors.New("a held escrow record already exists for this transaction")
	ErrNotHeld        = errors.New("escrow record is not held")
	ErrRecordNotFound = errors.New("escrow record not found")
	ErrInvalidOutcome = errors.New("invalid escrow outcome")
)

// Status represents the state of an escrow record.
type Status string

const (
	StatusHeld     Status = "held"     // Tokens locked, trade open
	StatusReleased Status = "released" // Tokens settled to the seller
	StatusRefunded Status = "refunded" // Tokens returned to the buyer
)

// Record is one token hold tied to a transaction.
type Record struct {
	ID            string          `json:"id"`
	TransactionID string          `json:"transactionId"`
	Amount        decimal.Decimal `json:"amount"`
	Status        Status          `json:"status"`
	CreatedAt     time.Time       `json:"createdAt"`
	ClosedAt      *time.Time      `json:"closedAt,omitempty"`
}

// IsTerminal returns true if the record has been closed.
func (r *Record) IsTerminal() bool {
	return r.Status == StatusReleased || r.Status == StatusRefunded
}

// Store persists escrow records.
//
// At most one record per transaction may be held at a time; Open enforces
// this with ErrDuplicateHold. Close transitions a held record to Released
// or Refunded; closing an already-terminal record with the same outcome is
// a benign success so retried settlements stay idempotent, any other
// transition fails with ErrNotHeld.
type Store interface {
	Open(ctx context.Context, transactionID string, amount decimal.Decimal) (*Record, error)
	Close(ctx context.Context, escrowID string, outcome Status) (*Record, error)
	Get(ctx context.Context, escrowID string) (*Record, error)
	HeldByTransaction(ctx context.Context, transactionID string) (*Record, error)
}
