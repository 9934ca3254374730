// Package ledger holds authoritative token balances for atticswap users.
//
// Every account tracks a total balance and the portion of it locked in
// open escrows. Balances move only through three primitives:
//
//  1. Reserve: lock part of the buyer's balance for an open trade
//  2. Settle: transfer locked tokens from buyer to seller on mutual confirm
//  3. Release: return locked tokens to the buyer on cancellation
//
// Each mutation writes an audit entry; the entries are the history surface
// exposed to users.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientFunds = errors.New("insufficient available balance")
	ErrAccountNotFound   = errors.New("account not found")
	ErrDuplicateAccount  = errors.New("account already exists")
	ErrInvalidAmount     = errors.New("invalid amount")
)

// Entry types recorded in the audit trail.
const (
	EntryGrant     = "grant"
	EntryReserve   = "reserve"
	EntryRelease   = "release"
	EntrySettleOut = "settle_out"
	EntrySettleIn  = "settle_in"
)

// Account is a user's token-custody record.
type Account struct {
	UserID    string          `json:"userId"`
	Total     decimal.Decimal `json:"total"`
	Escrowed  decimal.Decimal `json:"escrowed"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Available is the spendable portion of the balance.
func (a *Account) Available() decimal.Decimal {
	return a.Total.Sub(a.Escrowed)
}

// Entry is one audit record for a balance mutation.
type Entry struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	Type      string          `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Store persists accounts and their audit trail.
//
// Reserve, Settle and Release are called inside a settlement unit of work;
// implementations must fail rather than leave a balance partially updated.
type Store interface {
	CreateAccount(ctx context.Context, userID string, initial decimal.Decimal) (*Account, error)
	GetAccount(ctx context.Context, userID string) (*Account, error)
	Reserve(ctx context.Context, userID string, amount decimal.Decimal, reference string) error
	Settle(ctx context.Context, debitID, creditID string, amount decimal.Decimal, reference string) error
	Release(ctx context.Context, userID string, amount decimal.Decimal, reference string) error
	History(ctx context.Context, userID string, limit int) ([]*Entry, error)
}

// Service wraps a Store with input validation for the account-facing API.
type Service struct {
	store       Store
	signupGrant decimal.Decimal
}

// NewService creates an account service. signupGrant is credited to every
// newly created account.
func NewService(store Store, signupGrant decimal.Decimal) *Service {
	return &Service{store: store, signupGrant: signupGrant}
}

// CreateAccount provisions an account with the signup grant.
func (s *Service) CreateAccount(ctx context.Context, userID string) (*Account, error) {
	if userID == "" {
		return nil, ErrAccountNotFound
	}
	return s.store.CreateAccount(ctx, userID, s.signupGrant)
}

// GetBalance returns a user's account.
func (s *Service) GetBalance(ctx context.Context, userID string) (*Account, error) {
	return s.store.GetAccount(ctx, userID)
}

// GetHistory returns the most recent audit entries for a user.
func (s *Service) GetHistory(ctx context.Context, userID string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.History(ctx, userID, limit)
}
