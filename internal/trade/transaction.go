// Package trade implements the buyer/seller settlement engine.
//
// A trade moves through a small state machine:
//
//	Escrowed ──confirm (both parties)──▶ Confirmed
//	    └─────cancel / expiry sweep────▶ Cancelled
//
// Opening a trade locks the buyer's tokens; mutual confirmation settles
// them to the seller; cancellation returns them to the buyer. Confirmed
// and Cancelled are terminal, repeated calls against a terminal trade are
// benign no-ops so callers can retry safely.
package trade

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrDuplicateOpenPair reports that an escrowed transaction already
	// exists for a buyer/seller pair. Surfaces from Insert when another
	// server instance wins the race for the same pair.
	ErrDuplicateOpenPair = errors.New("open transaction already exists for this pair")
)

// Status represents the state of a transaction.
type Status string

const (
	StatusEscrowed  Status = "escrowed"  // Tokens held, awaiting both confirmations
	StatusConfirmed Status = "confirmed" // Settled to the seller
	StatusCancelled Status = "cancelled" // Hold returned to the buyer
)

// Transaction is a single buyer/seller trade.
type Transaction struct {
	ID                 string          `json:"id"`
	BuyerID            string          `json:"buyerId"`
	SellerID           string          `json:"sellerId"`
	ItemID             string          `json:"itemId"`
	Amount             decimal.Decimal `json:"amount"`
	Status             Status          `json:"status"`
	BuyerConfirmed     bool            `json:"buyerConfirmed"`
	SellerConfirmed    bool            `json:"sellerConfirmed"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
	CompletedAt        *time.Time      `json:"completedAt,omitempty"`
	CancelledAt        *time.Time      `json:"cancelledAt,omitempty"`
	CancellationReason string          `json:"cancellationReason,omitempty"`
}

// IsTerminal returns true once the transaction is confirmed or cancelled.
func (t *Transaction) IsTerminal() bool {
	return t.Status == StatusConfirmed || t.Status == StatusCancelled
}

// IsParty returns true if the user is the buyer or the seller.
func (t *Transaction) IsParty(userID string) bool {
	return userID == t.BuyerID || userID == t.SellerID
}

// Kind classifies the outcome of a settlement operation.
type Kind string

const (
	KindOK                  Kind = "ok"
	KindInsufficientFunds   Kind = "insufficient_funds"
	KindAccountNotFound     Kind = "account_not_found"
	KindTransactionNotFound Kind = "transaction_not_found"
	KindUnauthorized        Kind = "unauthorized"
	KindAlreadyTerminal     Kind = "already_terminal"
	KindInvalidRequest      Kind = "invalid_request"
)

// Result is the outcome of a settlement operation. Expected business
// rejections (insufficient funds, unauthorized actor, already-terminal
// trade) are Results, not errors; only storage faults surface as Go
// errors, and those always roll back the whole unit of work.
type Result struct {
	OK          bool         `json:"success"`
	Kind        Kind         `json:"kind"`
	Message     string       `json:"message"`
	Transaction *Transaction `json:"transaction,omitempty"`
}

func ok(msg string, txn *Transaction) Result {
	return Result{OK: true, Kind: KindOK, Message: msg, Transaction: txn}
}

func alreadyTerminal(txn *Transaction) Result {
	msg := "transaction already confirmed"
	if txn.Status == StatusCancelled {
		msg = "transaction already cancelled"
	}
	return Result{OK: true, Kind: KindAlreadyTerminal, Message: msg, Transaction: txn}
}

func rejected(kind Kind, msg string) Result {
	return Result{OK: false, Kind: kind, Message: msg}
}
