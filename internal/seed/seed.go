// Package seed generates the deterministic development catalog.
package seed

import (
	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"

	"github.com/rl1809/storefront/internal/core/domain"
)

const (
	DefaultCount     = 10
	maxInventory     = 1000
	minSentenceWords = 4
	maxSentenceWords = 9
)

// SequentialID returns 00000000-0000-0000-0000-<n as 12 hex digits>.
func SequentialID(n uint64) uuid.UUID {
	var id uuid.UUID
	for i := 15; i >= 10; i-- {
		id[i] = byte(n)
		n >>= 8
	}
	return id
}

// Products returns count products with sequential ids, one lorem ipsum
// sentence as the name and inventory in [0, 1000). The same non-zero seed
// yields the same catalog; gofakeit picks a random seed for 0.
func Products(count int, seed uint64) []domain.Product {
	f := gofakeit.New(seed)

	products := make([]domain.Product, count)
	for i := range products {
		products[i] = domain.Product{
			ID:             SequentialID(uint64(i)),
			Name:           name(f),
			InventoryCount: int64(f.IntRange(0, maxInventory-1)),
		}
	}
	return products
}

func name(f *gofakeit.Faker) string {
	s := f.LoremIpsumSentence(f.IntRange(minSentenceWords, maxSentenceWords))
	if len(s) > domain.MaxNameLength {
		s = s[:domain.MaxNameLength]
	}
	return s
}
