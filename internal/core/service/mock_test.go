package service

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

// mockProductRepo holds mu for the whole of RunInTx, which stands in for the
// row lock a real store takes. Writes are buffered and applied on commit.
type mockProductRepo struct {
	mu       sync.Mutex
	products map[uuid.UUID]*domain.Product
	order    []uuid.UUID
	commits  int
	lockErr  error
	listErr  error
}

func newMockProductRepo(products ...domain.Product) *mockProductRepo {
	m := &mockProductRepo{products: make(map[uuid.UUID]*domain.Product)}
	for _, p := range products {
		p := p
		m.products[p.ID] = &p
		m.order = append(m.order, p.ID)
	}
	return m
}

func (m *mockProductRepo) count(id uuid.UUID) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id].InventoryCount
}

func (m *mockProductRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *mockProductRepo) ListPage(ctx context.Context, offset, limit int) ([]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.listErr != nil {
		return nil, m.listErr
	}

	var out []domain.Product
	for i := offset; i < len(m.order) && len(out) < limit; i++ {
		out = append(out, *m.products[m.order[i]])
	}
	return out, nil
}

func (m *mockProductRepo) RunInTx(ctx context.Context, fn func(tx port.ProductTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &mockTx{repo: m, pending: make(map[uuid.UUID]int64)}
	if err := fn(tx); err != nil {
		return err
	}

	for id, c := range tx.pending {
		m.products[id].InventoryCount = c
	}
	if len(tx.pending) > 0 {
		m.commits++
	}
	return nil
}

func (m *mockProductRepo) Ping(ctx context.Context) error {
	return nil
}

type mockTx struct {
	repo    *mockProductRepo
	pending map[uuid.UUID]int64
}

func (t *mockTx) current(id uuid.UUID) (int64, bool) {
	if c, ok := t.pending[id]; ok {
		return c, true
	}
	p, ok := t.repo.products[id]
	if !ok {
		return 0, false
	}
	return p.InventoryCount, true
}

func (t *mockTx) LockInventory(ctx context.Context, id uuid.UUID) (int64, bool, error) {
	if t.repo.lockErr != nil {
		return 0, false, t.repo.lockErr
	}
	c, ok := t.current(id)
	return c, ok, nil
}

func (t *mockTx) ConditionalDecrement(ctx context.Context, id uuid.UUID, amount int64) (int64, bool, error) {
	c, ok := t.current(id)
	if !ok || c-amount < 0 {
		return 0, false, nil
	}
	t.pending[id] = c - amount
	return c - amount, true, nil
}

type mockIdempotencyStore struct {
	mu       sync.Mutex
	keys     map[string]bool
	released []string
}

func newMockIdempotencyStore() *mockIdempotencyStore {
	return &mockIdempotencyStore{keys: make(map[string]bool)}
}

func (m *mockIdempotencyStore) Reserve(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.keys[key] {
		return false, nil
	}
	m.keys[key] = true
	return true, nil
}

func (m *mockIdempotencyStore) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.keys, key)
	m.released = append(m.released, key)
	return nil
}
