package trade

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/atticswap/atticswap/internal/ledger"
	"github.com/atticswap/atticswap/internal/testutil"
)

func TestPostgres_FullSettlement(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	accounts := ledger.NewPostgresStore(db)
	if _, err := accounts.CreateAccount(ctx, "pg_buyer", dec("100")); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	if _, err := accounts.CreateAccount(ctx, "pg_seller", dec("10")); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	store := NewPostgresStore(db)
	svc := NewService(store)

	result, err := svc.OpenEscrow(ctx, OpenRequest{
		BuyerID: "pg_buyer", SellerID: "pg_seller", Amount: dec("40"),
	})
	if err != nil {
		t.Fatalf("OpenEscrow failed: %v", err)
	}
	if !result.OK {
		t.Fatalf("OpenEscrow rejected: %+v", result)
	}
	txnID := result.Transaction.ID

	// Idempotent re-open returns the same transaction.
	again, err := svc.OpenEscrow(ctx, OpenRequest{
		BuyerID: "pg_buyer", SellerID: "pg_seller", Amount: dec("40"),
	})
	if err != nil || !again.OK || again.Transaction.ID != txnID {
		t.Fatalf("re-open must return the existing transaction: %+v err=%v", again, err)
	}

	if _, err := svc.Confirm(ctx, txnID, "pg_buyer"); err != nil {
		t.Fatalf("Confirm(buyer) failed: %v", err)
	}
	final, err := svc.Confirm(ctx, txnID, "pg_seller")
	if err != nil {
		t.Fatalf("Confirm(seller) failed: %v", err)
	}
	if final.Transaction.Status != StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", final.Transaction.Status)
	}

	buyer, _ := accounts.GetAccount(ctx, "pg_buyer")
	seller, _ := accounts.GetAccount(ctx, "pg_seller")
	if !buyer.Total.Equal(dec("60")) || !buyer.Escrowed.IsZero() {
		t.Errorf("buyer: total=%s escrowed=%s, want 60/0", buyer.Total, buyer.Escrowed)
	}
	if !seller.Total.Equal(dec("50")) {
		t.Errorf("seller: total=%s, want 50", seller.Total)
	}
}

func TestPostgres_CancelRestoresHold(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	accounts := ledger.NewPostgresStore(db)
	if _, err := accounts.CreateAccount(ctx, "pg_cbuyer", dec("100")); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	if _, err := accounts.CreateAccount(ctx, "pg_cseller", dec("0")); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	svc := NewService(NewPostgresStore(db))
	result, err := svc.OpenEscrow(ctx, OpenRequest{
		BuyerID: "pg_cbuyer", SellerID: "pg_cseller", Amount: dec("25"),
	})
	if err != nil || !result.OK {
		t.Fatalf("OpenEscrow failed: %+v err=%v", result, err)
	}

	cancelled, err := svc.Cancel(ctx, result.Transaction.ID, "pg_cbuyer", "changed mind")
	if err != nil || !cancelled.OK {
		t.Fatalf("Cancel failed: %+v err=%v", cancelled, err)
	}

	buyer, _ := accounts.GetAccount(ctx, "pg_cbuyer")
	if !buyer.Total.Equal(dec("100")) || !buyer.Escrowed.IsZero() {
		t.Errorf("cancel must restore the hold: total=%s escrowed=%s", buyer.Total, buyer.Escrowed)
	}

	// Retried cancel is a benign no-op at the database too.
	retry, err := svc.Cancel(ctx, result.Transaction.ID, "pg_cbuyer", "")
	if err != nil || !retry.OK || retry.Kind != KindAlreadyTerminal {
		t.Fatalf("retried cancel must be benign: %+v err=%v", retry, err)
	}
}

// Concurrent final confirms against the database settle exactly once.
func TestPostgres_ConcurrentConfirm(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	accounts := ledger.NewPostgresStore(db)
	if _, err := accounts.CreateAccount(ctx, "pg_rbuyer", dec("100")); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	if _, err := accounts.CreateAccount(ctx, "pg_rseller", dec("0")); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	svc := NewService(NewPostgresStore(db))
	result, err := svc.OpenEscrow(ctx, OpenRequest{
		BuyerID: "pg_rbuyer", SellerID: "pg_rseller", Amount: dec("40"),
	})
	if err != nil || !result.OK {
		t.Fatalf("OpenEscrow failed: %+v err=%v", result, err)
	}
	txnID := result.Transaction.ID

	var wg sync.WaitGroup
	for _, actor := range []string{"pg_rbuyer", "pg_rseller"} {
		wg.Add(1)
		go func(actor string) {
			defer wg.Done()
			if _, err := svc.Confirm(ctx, txnID, actor); err != nil {
				t.Errorf("Confirm(%s) failed: %v", actor, err)
			}
		}(actor)
	}
	wg.Wait()

	seller, _ := accounts.GetAccount(ctx, "pg_rseller")
	if !seller.Total.Equal(dec("40")) {
		t.Errorf("seller settled more than once: total=%s, want 40", seller.Total)
	}
}

func TestPostgres_ListExpired(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	accounts := ledger.NewPostgresStore(db)
	if _, err := accounts.CreateAccount(ctx, "pg_ebuyer", dec("100")); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	if _, err := accounts.CreateAccount(ctx, "pg_eseller", dec("0")); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	store := NewPostgresStore(db)
	svc := NewService(store)
	result, err := svc.OpenEscrow(ctx, OpenRequest{
		BuyerID: "pg_ebuyer", SellerID: "pg_eseller", Amount: dec("10"),
	})
	if err != nil || !result.OK {
		t.Fatalf("OpenEscrow failed: %+v err=%v", result, err)
	}

	ids, err := store.ListExpired(ctx, time.Now().Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("ListExpired failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != result.Transaction.ID {
		t.Errorf("expected the open trade to be listed, got %v", ids)
	}

	ids, err = store.ListExpired(ctx, time.Now().Add(-time.Minute), 10)
	if err != nil {
		t.Fatalf("ListExpired failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("fresh trade listed as expired: %v", ids)
	}
}
