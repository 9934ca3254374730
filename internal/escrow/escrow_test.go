package escrow

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestOpen(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec, err := store.Open(ctx, "txn_1", dec("40"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if rec.Status != StatusHeld {
		t.Errorf("expected held, got %s", rec.Status)
	}
	if !rec.Amount.Equal(dec("40")) {
		t.Errorf("expected amount 40, got %s", rec.Amount)
	}
}

func TestOpen_DuplicateHold(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Open(ctx, "txn_1", dec("40")); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := store.Open(ctx, "txn_1", dec("40")); !errors.Is(err, ErrDuplicateHold) {
		t.Fatalf("expected ErrDuplicateHold, got %v", err)
	}
}

func TestOpen_AfterClose(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec, _ := store.Open(ctx, "txn_1", dec("40"))
	if _, err := store.Close(ctx, rec.ID, StatusRefunded); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Once the hold is closed the transaction may hold again.
	if _, err := store.Open(ctx, "txn_1", dec("40")); err != nil {
		t.Fatalf("Open after close failed: %v", err)
	}
}

func TestClose(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec, _ := store.Open(ctx, "txn_1", dec("40"))
	closed, err := store.Close(ctx, rec.ID, StatusReleased)
	if err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if closed.Status != StatusReleased {
		t.Errorf("expected released, got %s", closed.Status)
	}
	if closed.ClosedAt == nil {
		t.Error("expected closedAt to be set")
	}
}

func TestClose_IdempotentSameOutcome(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec, _ := store.Open(ctx, "txn_1", dec("40"))
	if _, err := store.Close(ctx, rec.ID, StatusReleased); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}

	again, err := store.Close(ctx, rec.ID, StatusReleased)
	if err != nil {
		t.Fatalf("retried close with same outcome must succeed, got %v", err)
	}
	if again.Status != StatusReleased {
		t.Errorf("expected released, got %s", again.Status)
	}
}

func TestClose_ConflictingOutcome(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec, _ := store.Open(ctx, "txn_1", dec("40"))
	if _, err := store.Close(ctx, rec.ID, StatusReleased); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := store.Close(ctx, rec.ID, StatusRefunded); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("expected ErrNotHeld for conflicting outcome, got %v", err)
	}
}

func TestClose_InvalidOutcome(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec, _ := store.Open(ctx, "txn_1", dec("40"))
	if _, err := store.Close(ctx, rec.ID, StatusHeld); !errors.Is(err, ErrInvalidOutcome) {
		t.Fatalf("expected ErrInvalidOutcome, got %v", err)
	}
}

func TestClose_NotFound(t *testing.T) {
	store := NewMemoryStore()

	if _, err := store.Close(context.Background(), "esc_missing", StatusReleased); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestHeldByTransaction(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec, _ := store.Open(ctx, "txn_1", dec("40"))

	found, err := store.HeldByTransaction(ctx, "txn_1")
	if err != nil {
		t.Fatalf("HeldByTransaction failed: %v", err)
	}
	if found.ID != rec.ID {
		t.Errorf("expected record %s, got %s", rec.ID, found.ID)
	}

	_, _ = store.Close(ctx, rec.ID, StatusRefunded)
	if _, err := store.HeldByTransaction(ctx, "txn_1"); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("closed record must not be reported as held, got %v", err)
	}
}

func TestSnapshotRestore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec, _ := store.Open(ctx, "txn_1", dec("40"))
	snap := store.Snapshot()

	_, _ = store.Close(ctx, rec.ID, StatusReleased)
	_, _ = store.Open(ctx, "txn_2", dec("10"))

	store.Restore(snap)

	got, err := store.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusHeld {
		t.Errorf("restore must undo the close, got %s", got.Status)
	}
	if _, err := store.HeldByTransaction(ctx, "txn_2"); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("restore must drop records opened after the snapshot")
	}
}
