package catalog

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory item store for demo/development mode.
type MemoryStore struct {
	items map[string]*Item
	mu    sync.RWMutex
}

// NewMemoryStore creates a new in-memory item store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]*Item),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Create(ctx context.Context, item *Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *item
	m.items[item.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.items[id]
	if !ok {
		return nil, ErrItemNotFound
	}
	cp := *item
	return &cp, nil
}

func (m *MemoryStore) ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Item
	for _, item := range m.items {
		if item.SellerID == sellerID {
			cp := *item
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
