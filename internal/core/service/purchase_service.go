package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

const instrumentationName = "github.com/rl1809/storefront/internal/core/service"

const idempotencyKeyPrefix = "idempotency:purchase:"

// PurchaseService owns every write to inventory_count.
type PurchaseService struct {
	products    port.ProductRepository
	idempotency port.IdempotencyStore
	logger      *zap.Logger
	tracer      trace.Tracer
	outcomes    metric.Int64Counter
}

// NewPurchaseService wires the executor. idempotency may be nil, in which case
// PurchaseOnce behaves like Purchase.
func NewPurchaseService(products port.ProductRepository, idempotency port.IdempotencyStore, logger *zap.Logger) *PurchaseService {
	outcomes, err := otel.Meter(instrumentationName).Int64Counter(
		"storefront.purchases",
		metric.WithDescription("Purchase attempts by outcome"),
	)
	if err != nil {
		logger.Warn("purchase counter unavailable", zap.Error(err))
		outcomes = noop.Int64Counter{}
	}

	return &PurchaseService{
		products:    products,
		idempotency: idempotency,
		logger:      logger,
		tracer:      otel.Tracer(instrumentationName),
		outcomes:    outcomes,
	}
}

// Purchase decrements the inventory of productID by quantity and returns the
// committed count. The read, the guard and the write share one transaction and
// the row stays locked between them.
func (s *PurchaseService) Purchase(ctx context.Context, productID uuid.UUID, quantity int64) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "purchase", trace.WithAttributes(
		attribute.String("product_id", productID.String()),
		attribute.Int64("quantity", quantity),
	))
	defer span.End()

	if quantity < 0 {
		err := &domain.ValidationError{Details: []domain.FieldError{
			{Field: "inventory_count", Message: "must be greater than or equal to 0"},
		}}
		s.record(ctx, span, err)
		return 0, err
	}

	var newCount int64
	err := s.products.RunInTx(ctx, func(tx port.ProductTx) error {
		current, found, err := tx.LockInventory(ctx, productID)
		if err != nil {
			return fmt.Errorf("lock inventory: %w", err)
		}
		if !found {
			return domain.ErrProductNotFound
		}
		if current == 0 {
			return domain.ErrOutOfStock
		}

		candidate := current - quantity
		count, ok, err := tx.ConditionalDecrement(ctx, productID, quantity)
		if err != nil {
			return fmt.Errorf("decrement inventory: %w", err)
		}
		if !ok {
			s.logger.Debug("purchase rejected by guard",
				zap.Stringer("product_id", productID),
				zap.Int64("current", current),
				zap.Int64("candidate", candidate),
			)
			return domain.ErrOutOfStock
		}

		newCount = count
		return nil
	})

	s.record(ctx, span, err)
	if err != nil {
		return 0, err
	}

	s.logger.Info("purchase committed",
		zap.Stringer("product_id", productID),
		zap.Int64("quantity", quantity),
		zap.Int64("inventory_count", newCount),
	)
	return newCount, nil
}

// PurchaseOnce runs Purchase at most once per requestKey. A reservation is
// released when the purchase fails so a corrected request can reuse the key.
func (s *PurchaseService) PurchaseOnce(ctx context.Context, requestKey string, productID uuid.UUID, quantity int64) (int64, error) {
	if requestKey == "" || s.idempotency == nil {
		return s.Purchase(ctx, productID, quantity)
	}

	key := idempotencyKeyPrefix + productID.String() + ":" + requestKey

	ok, err := s.idempotency.Reserve(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("idempotency check failed: %w", err)
	}
	if !ok {
		s.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "duplicate")))
		return 0, domain.ErrDuplicateRequest
	}

	count, err := s.Purchase(ctx, productID, quantity)
	if err != nil {
		if relErr := s.idempotency.Release(context.WithoutCancel(ctx), key); relErr != nil {
			s.logger.Warn("failed to release idempotency key", zap.String("key", key), zap.Error(relErr))
		}
		return 0, err
	}

	return count, nil
}

func (s *PurchaseService) record(ctx context.Context, span trace.Span, err error) {
	outcome := outcomeOf(err)
	s.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	span.SetAttributes(attribute.String("outcome", outcome))

	if outcome == "error" {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("purchase failed", zap.Error(err))
	}
}

func outcomeOf(err error) string {
	var verr *domain.ValidationError
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrOutOfStock):
		return "out_of_stock"
	case errors.Is(err, domain.ErrProductNotFound):
		return "not_found"
	case errors.As(err, &verr):
		return "validation_error"
	default:
		return "error"
	}
}
