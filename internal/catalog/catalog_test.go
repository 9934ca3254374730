package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func listItem(t *testing.T, svc *Service, id, sellerID, status string) {
	t.Helper()
	err := svc.Create(context.Background(), &Item{
		ID:         id,
		SellerID:   sellerID,
		Title:      "old lamp",
		TokenPrice: decimal.RequireFromString("12.50"),
		Status:     status,
		CreatedAt:  time.Now(),
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
}

func TestCreateAndGet(t *testing.T) {
	svc := NewService(NewMemoryStore())
	listItem(t, svc, "itm_1", "seller", StatusListed)

	item, err := svc.Get(context.Background(), "itm_1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if item.SellerID != "seller" || item.Status != StatusListed {
		t.Errorf("unexpected item: %+v", item)
	}

	if _, err := svc.Get(context.Background(), "itm_missing"); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("expected ErrItemNotFound, got %v", err)
	}
}

func TestVerifySeller(t *testing.T) {
	svc := NewService(NewMemoryStore())
	listItem(t, svc, "itm_1", "seller", StatusListed)
	listItem(t, svc, "itm_2", "seller", StatusRemoved)
	ctx := context.Background()

	cases := []struct {
		name     string
		itemID   string
		sellerID string
		want     bool
	}{
		{"owned and listed", "itm_1", "seller", true},
		{"wrong seller", "itm_1", "someone_else", false},
		{"removed item", "itm_2", "seller", false},
		{"missing item", "itm_ghost", "seller", false},
	}
	for _, tc := range cases {
		got, err := svc.VerifySeller(ctx, tc.itemID, tc.sellerID)
		if err != nil {
			t.Fatalf("%s: VerifySeller failed: %v", tc.name, err)
		}
		if got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestListBySeller(t *testing.T) {
	svc := NewService(NewMemoryStore())
	listItem(t, svc, "itm_1", "seller", StatusListed)
	listItem(t, svc, "itm_2", "seller", StatusListed)
	listItem(t, svc, "itm_3", "other", StatusListed)

	items, err := svc.ListBySeller(context.Background(), "seller", 10)
	if err != nil {
		t.Fatalf("ListBySeller failed: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("expected 2 items, got %d", len(items))
	}
}
