package escrow

import (
	"context"
	"errors"
	"testing"

	"github.com/atticswap/atticswap/internal/testutil"
)

func TestPostgresStore_OpenClose(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPostgresStore(db)

	rec, err := store.Open(ctx, "txn_pg_esc1", dec("40"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if _, err := store.Open(ctx, "txn_pg_esc1", dec("40")); !errors.Is(err, ErrDuplicateHold) {
		t.Fatalf("expected ErrDuplicateHold, got %v", err)
	}

	closed, err := store.Close(ctx, rec.ID, StatusReleased)
	if err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if closed.Status != StatusReleased || closed.ClosedAt == nil {
		t.Errorf("close did not finalize the record: %+v", closed)
	}

	// Retried close with the same outcome is benign.
	if _, err := store.Close(ctx, rec.ID, StatusReleased); err != nil {
		t.Fatalf("retried close must succeed, got %v", err)
	}
	// Conflicting outcome is not.
	if _, err := store.Close(ctx, rec.ID, StatusRefunded); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("expected ErrNotHeld, got %v", err)
	}
}

func TestPostgresStore_HeldByTransaction(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPostgresStore(db)

	rec, err := store.Open(ctx, "txn_pg_esc2", dec("15.25"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	found, err := store.HeldByTransaction(ctx, "txn_pg_esc2")
	if err != nil {
		t.Fatalf("HeldByTransaction failed: %v", err)
	}
	if found.ID != rec.ID || !found.Amount.Equal(dec("15.25")) {
		t.Errorf("unexpected record: %+v", found)
	}
}
