package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/atticswap/atticswap/internal/idgen"
	"github.com/atticswap/atticswap/internal/trade"
)

// Emitter translates settlement outcomes into webhook events.
// All methods are fire-and-forget: errors are logged but never returned,
// so delivery problems cannot stall or fail a settlement.
type Emitter struct {
	d      *Dispatcher
	logger *slog.Logger
}

// NewEmitter creates a new webhook emitter.
func NewEmitter(d *Dispatcher, logger *slog.Logger) *Emitter {
	return &Emitter{d: d, logger: logger}
}

var _ trade.EventSink = (*Emitter)(nil)

// TradeOpened emits a trade.opened event.
func (e *Emitter) TradeOpened(ctx context.Context, txn *trade.Transaction) {
	e.emit(ctx, EventTradeOpened, map[string]any{
		"transactionId": txn.ID,
		"buyerId":       txn.BuyerID,
		"sellerId":      txn.SellerID,
		"itemId":        txn.ItemID,
		"amount":        txn.Amount.String(),
	})
}

// TradeConfirmed emits a trade.confirmed event.
func (e *Emitter) TradeConfirmed(ctx context.Context, txn *trade.Transaction) {
	e.emit(ctx, EventTradeConfirmed, map[string]any{
		"transactionId": txn.ID,
		"buyerId":       txn.BuyerID,
		"sellerId":      txn.SellerID,
		"amount":        txn.Amount.String(),
	})
}

// TradeCancelled emits a trade.cancelled event.
func (e *Emitter) TradeCancelled(ctx context.Context, txn *trade.Transaction) {
	e.emit(ctx, EventTradeCancelled, map[string]any{
		"transactionId": txn.ID,
		"buyerId":       txn.BuyerID,
		"sellerId":      txn.SellerID,
		"amount":        txn.Amount.String(),
		"reason":        txn.CancellationReason,
	})
}

func (e *Emitter) emit(ctx context.Context, eventType EventType, data map[string]any) {
	if e == nil || e.d == nil {
		return
	}
	event := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
	// Deliveries must survive the settlement request's context; each HTTP
	// attempt is bounded by the dispatcher's client timeout.
	ctx = context.WithoutCancel(ctx)
	if err := e.d.Dispatch(ctx, event); err != nil {
		e.logger.Warn("webhook emit failed", "event", eventType, "error", err)
	}
}
