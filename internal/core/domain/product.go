package domain

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

const MaxNameLength = 255

var (
	ErrProductNotFound  = errors.New("product not found")
	ErrOutOfStock       = errors.New("out of stock")
	ErrDuplicateRequest = errors.New("duplicate request")
)

type Product struct {
	ID             uuid.UUID `json:"id" db:"id"`
	Name           string    `json:"name" db:"name"`
	InventoryCount int64     `json:"inventory_count" db:"inventory_count"`
}

// FieldError describes one rejected field of a request payload.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationError struct {
	Details []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		if d.Field == "" {
			msgs = append(msgs, d.Message)
			continue
		}
		msgs = append(msgs, d.Field+": "+d.Message)
	}
	return "validation error: " + strings.Join(msgs, "; ")
}
