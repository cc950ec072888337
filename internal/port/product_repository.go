package port

import (
	"context"

	"github.com/google/uuid"

	"github.com/rl1809/storefront/internal/core/domain"
)

type ProductRepository interface {
	// GetByID returns nil without error when the product does not exist
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Product, error)

	// ListPage returns up to limit products in primary key order, skipping offset rows
	ListPage(ctx context.Context, offset, limit int) ([]domain.Product, error)

	// RunInTx runs fn inside one transaction, rolling back if fn returns an error
	RunInTx(ctx context.Context, fn func(tx ProductTx) error) error

	Ping(ctx context.Context) error
}

// ProductTx is the set of writes the purchase path may issue inside RunInTx.
type ProductTx interface {
	// LockInventory reads inventory_count and holds the row lock until the tx ends
	LockInventory(ctx context.Context, id uuid.UUID) (count int64, found bool, err error)

	// ConditionalDecrement subtracts amount only if the result stays non-negative.
	// ok is false when the guard rejected the write.
	ConditionalDecrement(ctx context.Context, id uuid.UUID, amount int64) (newCount int64, ok bool, err error)
}
