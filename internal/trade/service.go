package trade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atticswap/atticswap/internal/escrow"
	"github.com/atticswap/atticswap/internal/idgen"
	"github.com/atticswap/atticswap/internal/ledger"
	"github.com/atticswap/atticswap/internal/logging"
	"github.com/atticswap/atticswap/internal/metrics"
	"github.com/atticswap/atticswap/internal/syncutil"
	"github.com/atticswap/atticswap/internal/traces"
)

// ItemCatalog verifies that an item belongs to a seller before tokens are
// held for it. Abstracted so trade doesn't import catalog.
type ItemCatalog interface {
	VerifySeller(ctx context.Context, itemID, sellerID string) (bool, error)
}

// EventSink receives settlement outcomes for external collaborators
// (notifications, quest progression, realtime feeds). Delivery is
// fire-and-forget; a sink must not block settlement.
type EventSink interface {
	TradeOpened(ctx context.Context, txn *Transaction)
	TradeConfirmed(ctx context.Context, txn *Transaction)
	TradeCancelled(ctx context.Context, txn *Transaction)
}

// OpenRequest contains the parameters for opening an escrow.
type OpenRequest struct {
	BuyerID  string
	SellerID string
	ItemID   string
	Amount   decimal.Decimal
}

// Service is the settlement engine. Each operation runs in one unit of
// work; no partial state is ever observable.
type Service struct {
	store   Store
	locks   *syncutil.ContextShardedMutex
	catalog ItemCatalog
	sink    EventSink
}

// NewService creates a settlement service.
func NewService(store Store) *Service {
	return &Service{
		store: store,
		locks: syncutil.NewContextShardedMutex(),
	}
}

// WithCatalog adds item-ownership verification to OpenEscrow.
func (s *Service) WithCatalog(c ItemCatalog) *Service {
	s.catalog = c
	return s
}

// WithEvents adds an event sink for settlement outcomes.
func (s *Service) WithEvents(sink EventSink) *Service {
	s.sink = sink
	return s
}

// OpenEscrow locks the buyer's tokens for a trade with the seller. If the
// pair already has an open escrowed transaction the existing one is
// returned and no second hold is placed.
func (s *Service) OpenEscrow(ctx context.Context, req OpenRequest) (Result, error) {
	ctx, span := traces.StartSpan(ctx, "trade.OpenEscrow",
		traces.UserID(req.BuyerID), traces.Amount(req.Amount.String()))
	defer span.End()

	if req.BuyerID == "" || req.SellerID == "" {
		return rejected(KindInvalidRequest, "buyer and seller are required"), nil
	}
	if req.BuyerID == req.SellerID {
		return rejected(KindInvalidRequest, "buyer and seller must be different users"), nil
	}
	if !req.Amount.IsPositive() {
		return rejected(KindInvalidRequest, "amount must be greater than zero"), nil
	}

	if s.catalog != nil && req.ItemID != "" {
		belongs, err := s.catalog.VerifySeller(ctx, req.ItemID, req.SellerID)
		if err != nil {
			return Result{}, fmt.Errorf("verify item ownership: %w", err)
		}
		if !belongs {
			return rejected(KindInvalidRequest, "item does not belong to the seller"), nil
		}
	}

	unlock, err := s.locks.LockContext(ctx, pairKey(req.BuyerID, req.SellerID))
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	uow, err := s.store.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("begin unit of work: %w", err)
	}
	defer uow.Rollback()

	existing, err := uow.FindOpenByPair(ctx, req.BuyerID, req.SellerID)
	if err == nil {
		s.record("open", "reused")
		return ok("escrow already open for this buyer and seller", existing), nil
	}
	if !errors.Is(err, ErrTransactionNotFound) {
		return Result{}, fmt.Errorf("find open transaction: %w", err)
	}

	// Resolve the seller before holding buyer funds.
	if _, err := uow.Ledger().GetAccount(ctx, req.SellerID); err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			s.record("open", "account_not_found")
			return rejected(KindAccountNotFound, "seller account not found"), nil
		}
		return Result{}, fmt.Errorf("resolve seller account: %w", err)
	}

	now := time.Now()
	txn := &Transaction{
		ID:        idgen.WithPrefix("txn_"),
		BuyerID:   req.BuyerID,
		SellerID:  req.SellerID,
		ItemID:    req.ItemID,
		Amount:    req.Amount,
		Status:    StatusEscrowed,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := uow.Ledger().Reserve(ctx, req.BuyerID, req.Amount, txn.ID); err != nil {
		switch {
		case errors.Is(err, ledger.ErrInsufficientFunds):
			s.record("open", "insufficient_funds")
			return rejected(KindInsufficientFunds, "insufficient available balance"), nil
		case errors.Is(err, ledger.ErrAccountNotFound):
			s.record("open", "account_not_found")
			return rejected(KindAccountNotFound, "buyer account not found"), nil
		case errors.Is(err, ledger.ErrInvalidAmount):
			return rejected(KindInvalidRequest, "amount must be greater than zero"), nil
		}
		return Result{}, fmt.Errorf("reserve buyer funds: %w", err)
	}

	if err := uow.Insert(ctx, txn); err != nil {
		if errors.Is(err, ErrDuplicateOpenPair) {
			// Another instance opened the pair between our check and the
			// insert; the unique index on the pair broke the tie. Reuse
			// the winner's transaction.
			_ = uow.Rollback()
			return s.reuseOpenPair(ctx, req.BuyerID, req.SellerID)
		}
		return Result{}, fmt.Errorf("insert transaction: %w", err)
	}
	if _, err := uow.Escrow().Open(ctx, txn.ID, req.Amount); err != nil {
		return Result{}, fmt.Errorf("open escrow record: %w", err)
	}
	if err := uow.Commit(); err != nil {
		return Result{}, fmt.Errorf("commit escrow open: %w", err)
	}

	metrics.EscrowOpenedTotal.Inc()
	s.record("open", "ok")
	logging.L(ctx).Info("escrow opened",
		"transactionId", txn.ID,
		"buyerId", txn.BuyerID,
		"sellerId", txn.SellerID,
		"amount", txn.Amount.String())
	if s.sink != nil {
		s.sink.TradeOpened(ctx, txn)
	}
	return ok("escrow opened", txn), nil
}

// reuseOpenPair re-reads the escrowed transaction for a pair after a
// concurrent open won the unique index race, and returns it as the
// idempotent-open result.
func (s *Service) reuseOpenPair(ctx context.Context, buyerID, sellerID string) (Result, error) {
	uow, err := s.store.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("begin unit of work: %w", err)
	}
	defer uow.Rollback()

	existing, err := uow.FindOpenByPair(ctx, buyerID, sellerID)
	if err != nil {
		return Result{}, fmt.Errorf("find open transaction: %w", err)
	}
	s.record("open", "reused")
	return ok("escrow already open for this buyer and seller", existing), nil
}

// Confirm records one party's confirmation. When both parties have
// confirmed, the held tokens settle to the seller in the same unit of
// work that flips the transaction to Confirmed.
func (s *Service) Confirm(ctx context.Context, transactionID, actorID string) (Result, error) {
	ctx, span := traces.StartSpan(ctx, "trade.Confirm",
		traces.TransactionID(transactionID), traces.UserID(actorID))
	defer span.End()

	unlock, err := s.locks.LockContext(ctx, transactionID)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	uow, err := s.store.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("begin unit of work: %w", err)
	}
	defer uow.Rollback()

	txn, err := uow.Get(ctx, transactionID)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			s.record("confirm", "not_found")
			return rejected(KindTransactionNotFound, "transaction not found"), nil
		}
		return Result{}, fmt.Errorf("load transaction: %w", err)
	}

	if txn.IsTerminal() {
		s.record("confirm", "already_terminal")
		return alreadyTerminal(txn), nil
	}

	if !txn.IsParty(actorID) {
		logging.L(ctx).Warn("confirm attempt by non-party",
			"transactionId", txn.ID, "actorId", actorID)
		s.record("confirm", "unauthorized")
		return rejected(KindUnauthorized, "only the buyer or the seller may confirm"), nil
	}

	alreadyConfirmed := (actorID == txn.BuyerID && txn.BuyerConfirmed) ||
		(actorID == txn.SellerID && txn.SellerConfirmed)
	if alreadyConfirmed {
		s.record("confirm", "repeat")
		return ok("confirmation already recorded, awaiting the other party", txn), nil
	}

	if actorID == txn.BuyerID {
		txn.BuyerConfirmed = true
	} else {
		txn.SellerConfirmed = true
	}
	txn.UpdatedAt = time.Now()

	if !(txn.BuyerConfirmed && txn.SellerConfirmed) {
		if err := uow.Update(ctx, txn); err != nil {
			return Result{}, fmt.Errorf("record confirmation: %w", err)
		}
		if err := uow.Commit(); err != nil {
			return Result{}, fmt.Errorf("commit confirmation: %w", err)
		}
		s.record("confirm", "partial")
		return ok("confirmation recorded, awaiting the other party", txn), nil
	}

	// Both parties confirmed: settle in this unit of work.
	if err := uow.LockAccounts(ctx, txn.BuyerID, txn.SellerID); err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			s.record("confirm", "account_not_found")
			return rejected(KindAccountNotFound, "account not found"), nil
		}
		return Result{}, fmt.Errorf("lock accounts: %w", err)
	}
	if err := uow.Ledger().Settle(ctx, txn.BuyerID, txn.SellerID, txn.Amount, txn.ID); err != nil {
		return Result{}, fmt.Errorf("settle tokens: %w", err)
	}
	rec, err := uow.Escrow().HeldByTransaction(ctx, txn.ID)
	if err != nil {
		return Result{}, fmt.Errorf("locate held escrow record: %w", err)
	}
	if _, err := uow.Escrow().Close(ctx, rec.ID, escrow.StatusReleased); err != nil {
		return Result{}, fmt.Errorf("release escrow record: %w", err)
	}

	now := time.Now()
	txn.Status = StatusConfirmed
	txn.CompletedAt = &now
	txn.UpdatedAt = now
	if err := uow.Update(ctx, txn); err != nil {
		return Result{}, fmt.Errorf("finalize transaction: %w", err)
	}
	if err := uow.Commit(); err != nil {
		return Result{}, fmt.Errorf("commit settlement: %w", err)
	}

	metrics.TradesConfirmedTotal.Inc()
	metrics.TradeDuration.Observe(now.Sub(txn.CreatedAt).Seconds())
	s.record("confirm", "settled")
	logging.L(ctx).Info("trade confirmed",
		"transactionId", txn.ID,
		"buyerId", txn.BuyerID,
		"sellerId", txn.SellerID,
		"amount", txn.Amount.String())
	if s.sink != nil {
		s.sink.TradeConfirmed(ctx, txn)
	}
	return ok("trade confirmed, tokens settled to the seller", txn), nil
}

// Cancel aborts an escrowed trade and returns the hold to the buyer.
// Safe at any point before the trade is confirmed.
func (s *Service) Cancel(ctx context.Context, transactionID, actorID, reason string) (Result, error) {
	return s.cancel(ctx, transactionID, actorID, reason, false)
}

// CancelExpired cancels a trade under system authority. Used by the
// expiry sweeper; no party check is applied.
func (s *Service) CancelExpired(ctx context.Context, transactionID string) (Result, error) {
	return s.cancel(ctx, transactionID, "system", "escrow expired", true)
}

func (s *Service) cancel(ctx context.Context, transactionID, actorID, reason string, system bool) (Result, error) {
	ctx, span := traces.StartSpan(ctx, "trade.Cancel",
		traces.TransactionID(transactionID), traces.UserID(actorID))
	defer span.End()

	unlock, err := s.locks.LockContext(ctx, transactionID)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	uow, err := s.store.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("begin unit of work: %w", err)
	}
	defer uow.Rollback()

	txn, err := uow.Get(ctx, transactionID)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			s.record("cancel", "not_found")
			return rejected(KindTransactionNotFound, "transaction not found"), nil
		}
		return Result{}, fmt.Errorf("load transaction: %w", err)
	}

	if txn.IsTerminal() {
		s.record("cancel", "already_terminal")
		return alreadyTerminal(txn), nil
	}

	if !system && !txn.IsParty(actorID) {
		logging.L(ctx).Warn("cancel attempt by non-party",
			"transactionId", txn.ID, "actorId", actorID)
		s.record("cancel", "unauthorized")
		return rejected(KindUnauthorized, "only the buyer or the seller may cancel"), nil
	}

	if err := uow.Ledger().Release(ctx, txn.BuyerID, txn.Amount, txn.ID); err != nil {
		return Result{}, fmt.Errorf("release buyer hold: %w", err)
	}
	rec, err := uow.Escrow().HeldByTransaction(ctx, txn.ID)
	if err != nil {
		return Result{}, fmt.Errorf("locate held escrow record: %w", err)
	}
	if _, err := uow.Escrow().Close(ctx, rec.ID, escrow.StatusRefunded); err != nil {
		return Result{}, fmt.Errorf("refund escrow record: %w", err)
	}

	now := time.Now()
	txn.Status = StatusCancelled
	txn.CancelledAt = &now
	txn.UpdatedAt = now
	txn.CancellationReason = reason
	if err := uow.Update(ctx, txn); err != nil {
		return Result{}, fmt.Errorf("finalize transaction: %w", err)
	}
	if err := uow.Commit(); err != nil {
		return Result{}, fmt.Errorf("commit cancellation: %w", err)
	}

	metrics.TradesCancelledTotal.Inc()
	s.record("cancel", "ok")
	logging.L(ctx).Info("trade cancelled",
		"transactionId", txn.ID,
		"actorId", actorID,
		"reason", reason)
	if s.sink != nil {
		s.sink.TradeCancelled(ctx, txn)
	}
	return ok("trade cancelled, hold returned to the buyer", txn), nil
}

// Get returns a transaction by id.
func (s *Service) Get(ctx context.Context, id string) (*Transaction, error) {
	return s.store.Get(ctx, id)
}

// ListByUser returns transactions involving a user (as buyer or seller).
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByUser(ctx, userID, limit)
}

func (s *Service) record(op, outcome string) {
	metrics.SettlementsTotal.WithLabelValues(op, outcome).Inc()
}

func pairKey(buyerID, sellerID string) string {
	return buyerID + "|" + sellerID
}
