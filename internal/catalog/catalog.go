// Package catalog is the item registry trades settle against. The
// settlement engine only reads it, to check that the item a buyer pays
// for actually belongs to the seller.
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrItemNotFound = errors.New("item not found")
)

// Item status values.
const (
	StatusListed  = "listed"
	StatusRemoved = "removed"
)

// Item is one physical item offered for tokens.
type Item struct {
	ID          string          `json:"id"`
	SellerID    string          `json:"sellerId"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	TokenPrice  decimal.Decimal `json:"tokenPrice"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Store persists catalog items.
type Store interface {
	Create(ctx context.Context, item *Item) error
	Get(ctx context.Context, id string) (*Item, error)
	ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Item, error)
}

// Service implements catalog business logic.
type Service struct {
	store Store
}

// NewService creates a catalog service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Create lists a new item for the seller.
func (s *Service) Create(ctx context.Context, item *Item) error {
	return s.store.Create(ctx, item)
}

// Get returns an item by id.
func (s *Service) Get(ctx context.Context, id string) (*Item, error) {
	return s.store.Get(ctx, id)
}

// ListBySeller returns a seller's items.
func (s *Service) ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Item, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListBySeller(ctx, sellerID, limit)
}

// VerifySeller reports whether the item exists, is listed, and belongs to
// the seller. Used by the settlement engine before holding buyer tokens.
func (s *Service) VerifySeller(ctx context.Context, itemID, sellerID string) (bool, error) {
	item, err := s.store.Get(ctx, itemID)
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return false, nil
		}
		return false, err
	}
	return item.SellerID == sellerID && item.Status == StatusListed, nil
}
