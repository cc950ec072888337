package handler

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

// memStore serialises transactions with mu, which is the row lock for every product.
type memStore struct {
	mu       sync.Mutex
	products map[uuid.UUID]*domain.Product
	order    []uuid.UUID
}

func newMemStore(products ...domain.Product) *memStore {
	s := &memStore{products: make(map[uuid.UUID]*domain.Product)}
	for _, p := range products {
		p := p
		s.products[p.ID] = &p
		s.order = append(s.order, p.ID)
	}
	return s
}

func (s *memStore) count(id uuid.UUID) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id].InventoryCount
}

func (s *memStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) ListPage(ctx context.Context, offset, limit int) ([]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Product
	for i := offset; i < len(s.order) && len(out) < limit; i++ {
		out = append(out, *s.products[s.order[i]])
	}
	return out, nil
}

func (s *memStore) RunInTx(ctx context.Context, fn func(tx port.ProductTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s, pending: make(map[uuid.UUID]int64)}
	if err := fn(tx); err != nil {
		return err
	}
	for id, c := range tx.pending {
		s.products[id].InventoryCount = c
	}
	return nil
}

func (s *memStore) Ping(ctx context.Context) error {
	return nil
}

type memTx struct {
	store   *memStore
	pending map[uuid.UUID]int64
}

func (t *memTx) LockInventory(ctx context.Context, id uuid.UUID) (int64, bool, error) {
	if c, ok := t.pending[id]; ok {
		return c, true, nil
	}
	p, ok := t.store.products[id]
	if !ok {
		return 0, false, nil
	}
	return p.InventoryCount, true, nil
}

func (t *memTx) ConditionalDecrement(ctx context.Context, id uuid.UUID, amount int64) (int64, bool, error) {
	c, ok, _ := t.LockInventory(ctx, id)
	if !ok || c-amount < 0 {
		return 0, false, nil
	}
	t.pending[id] = c - amount
	return c - amount, true, nil
}

type memKeys struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func (m *memKeys) Reserve(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.keys == nil {
		m.keys = make(map[string]struct{})
	}
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = struct{}{}
	return true, nil
}

func (m *memKeys) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.keys, key)
	return nil
}
