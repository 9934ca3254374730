package trade

import (
	"context"
	"time"

	"github.com/atticswap/atticswap/internal/logging"
	"github.com/atticswap/atticswap/internal/metrics"
)

// sweepBatchSize caps how many expired trades one sweep pass cancels.
const sweepBatchSize = 100

// Sweeper periodically cancels escrowed trades older than a TTL. The
// engine itself never expires anything; the sweeper is the external
// expiry layer, built on the guarantee that Cancel is safe at any point
// before a trade is confirmed.
type Sweeper struct {
	service  *Service
	store    Store
	ttl      time.Duration
	interval time.Duration
}

// NewSweeper creates a sweeper. A zero ttl disables it.
func NewSweeper(service *Service, store Store, ttl, interval time.Duration) *Sweeper {
	return &Sweeper{
		service:  service,
		store:    store,
		ttl:      ttl,
		interval: interval,
	}
}

// Run sweeps until the context is cancelled. Call in a goroutine.
func (s *Sweeper) Run(ctx context.Context) {
	if s.ttl <= 0 {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.ttl)
	ids, err := s.store.ListExpired(ctx, cutoff, sweepBatchSize)
	if err != nil {
		logging.L(ctx).Error("expiry sweep: list expired trades", "error", err)
		return
	}

	for _, id := range ids {
		result, err := s.service.CancelExpired(ctx, id)
		if err != nil {
			logging.L(ctx).Error("expiry sweep: cancel trade", "transactionId", id, "error", err)
			continue
		}
		// A trade confirmed or cancelled between listing and cancelling
		// comes back as a benign already-terminal result; skip it.
		if result.Kind == KindAlreadyTerminal {
			continue
		}
		metrics.TradesSweptTotal.Inc()
		logging.L(ctx).Info("expiry sweep: trade cancelled", "transactionId", id)
	}
}
