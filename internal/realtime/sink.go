package realtime

import (
	"context"
	"time"

	"github.com/atticswap/atticswap/internal/trade"
)

// Sink feeds settlement outcomes into the hub's broadcast stream.
type Sink struct {
	hub *Hub
}

// NewSink creates a sink that broadcasts trade events via the hub.
func NewSink(hub *Hub) *Sink {
	return &Sink{hub: hub}
}

var _ trade.EventSink = (*Sink)(nil)

func (s *Sink) TradeOpened(ctx context.Context, txn *trade.Transaction) {
	s.broadcast(EventTradeOpened, txn)
}

func (s *Sink) TradeConfirmed(ctx context.Context, txn *trade.Transaction) {
	s.broadcast(EventTradeConfirmed, txn)
}

func (s *Sink) TradeCancelled(ctx context.Context, txn *trade.Transaction) {
	s.broadcast(EventTradeCancelled, txn)
}

func (s *Sink) broadcast(eventType EventType, txn *trade.Transaction) {
	if s == nil || s.hub == nil {
		return
	}
	data := map[string]any{
		"transactionId": txn.ID,
		"buyerId":       txn.BuyerID,
		"sellerId":      txn.SellerID,
		"amount":        txn.Amount.String(),
		"status":        string(txn.Status),
	}
	if txn.CancellationReason != "" {
		data["reason"] = txn.CancellationReason
	}
	s.hub.Broadcast(&Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	})
}
