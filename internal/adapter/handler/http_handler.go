package handler

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
)

const IdempotencyKeyHeader = "Idempotency-Key"

const maxPurchaseBodyBytes = 1 << 10

// ProductCatalog is the read side served by the product routes.
type ProductCatalog interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	ListProducts(ctx context.Context, skip int) ([]domain.Product, error)
}

// PurchaseExecutor runs a purchase, at most once per non-empty request key.
type PurchaseExecutor interface {
	PurchaseOnce(ctx context.Context, requestKey string, productID uuid.UUID, quantity int64) (int64, error)
}

type HTTPHandler struct {
	catalog   ProductCatalog
	purchases PurchaseExecutor
	logger    *zap.Logger
}

type PurchaseHTTPRequest struct {
	InventoryCount *int64 `json:"inventory_count" binding:"required,min=0"`
}

type PurchaseHTTPResponse struct {
	InventoryCount int64 `json:"inventory_count"`
}

type ErrorHTTPResponse struct {
	Error   string              `json:"error"`
	Details []domain.FieldError `json:"details,omitempty"`
}

func NewHTTPHandler(catalog ProductCatalog, purchases PurchaseExecutor, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{catalog: catalog, purchases: purchases, logger: logger}
}

func (h *HTTPHandler) ListProducts(c *gin.Context) {
	products, err := h.catalog.ListProducts(c.Request.Context(), parseSkip(c.Query("skip")))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, products)
}

func (h *HTTPHandler) GetProduct(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}

	product, err := h.catalog.GetProduct(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, product)
}

func (h *HTTPHandler) Purchase(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}

	req, err := decodePurchase(http.MaxBytesReader(c.Writer, c.Request.Body, maxPurchaseBodyBytes))
	if err != nil {
		h.writeError(c, err)
		return
	}

	count, err := h.purchases.PurchaseOnce(c.Request.Context(), c.GetHeader(IdempotencyKeyHeader), id, *req.InventoryCount)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, PurchaseHTTPResponse{InventoryCount: count})
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Store renders the storefront with the first page of products, most stocked first.
func (h *HTTPHandler) Store(c *gin.Context) {
	products, err := h.catalog.ListProducts(c.Request.Context(), 0)
	if err != nil {
		h.logger.Error("storefront listing failed", zap.Error(err))
		c.HTML(http.StatusInternalServerError, storeTemplate, gin.H{"Error": true})
		return
	}

	slices.SortStableFunc(products, func(a, b domain.Product) int {
		return cmp.Compare(b.InventoryCount, a.InventoryCount)
	})
	c.HTML(http.StatusOK, storeTemplate, gin.H{"Products": products})
}

func (h *HTTPHandler) writeError(c *gin.Context, err error) {
	var verr *domain.ValidationError

	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, ErrorHTTPResponse{Error: "validation_error", Details: verr.Details})
	case errors.Is(err, domain.ErrOutOfStock):
		c.JSON(http.StatusBadRequest, ErrorHTTPResponse{Error: "out_of_stock"})
	case errors.Is(err, domain.ErrProductNotFound):
		c.Status(http.StatusNotFound)
	case errors.Is(err, domain.ErrDuplicateRequest):
		c.JSON(http.StatusConflict, ErrorHTTPResponse{Error: "duplicate_request"})
	case errors.Is(err, context.DeadlineExceeded), errors.Is(c.Request.Context().Err(), context.DeadlineExceeded):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, ErrorHTTPResponse{Error: "timeout"})
	default:
		h.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, ErrorHTTPResponse{Error: "internal_error"})
	}
}

// parseSkip reads the offset leniently: absent, malformed and negative values mean 0.
func parseSkip(raw string) int {
	skip, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || skip < 0 {
		return 0
	}
	return skip
}

func decodePurchase(body io.Reader) (*PurchaseHTTPRequest, error) {
	var req PurchaseHTTPRequest

	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return nil, &domain.ValidationError{Details: []domain.FieldError{decodeFieldError(err)}}
	}
	// The body must hold exactly one JSON value.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		fe := domain.FieldError{Message: "malformed JSON"}
		if tooLarge(err) {
			fe = decodeFieldError(err)
		}
		return nil, &domain.ValidationError{Details: []domain.FieldError{fe}}
	}

	if err := binding.Validator.ValidateStruct(&req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return nil, &domain.ValidationError{Details: []domain.FieldError{{Message: err.Error()}}}
		}
		details := make([]domain.FieldError, 0, len(verrs))
		for _, fe := range verrs {
			details = append(details, domain.FieldError{
				Field:   jsonFieldName(req, fe.StructField()),
				Message: ruleMessage(fe),
			})
		}
		return nil, &domain.ValidationError{Details: details}
	}

	return &req, nil
}

func decodeFieldError(err error) domain.FieldError {
	var typeErr *json.UnmarshalTypeError
	var syntaxErr *json.SyntaxError

	switch {
	case tooLarge(err):
		return domain.FieldError{Message: "request body too large"}
	case errors.Is(err, io.EOF):
		return domain.FieldError{Message: "request body is required"}
	case errors.As(err, &typeErr):
		return domain.FieldError{Field: typeErr.Field, Message: "must be an integer"}
	case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
		return domain.FieldError{Message: "malformed JSON"}
	}

	// encoding/json reports unknown fields only through the message text.
	if name, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
		return domain.FieldError{Field: strings.Trim(name, `"`), Message: "unknown field"}
	}
	return domain.FieldError{Message: err.Error()}
}

func tooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be greater than or equal to " + fe.Param()
	default:
		return "failed " + fe.Tag() + " rule"
	}
}

func jsonFieldName(v any, structField string) string {
	if f, ok := reflect.TypeOf(v).FieldByName(structField); ok {
		if name, _, _ := strings.Cut(f.Tag.Get("json"), ","); name != "" {
			return name
		}
	}
	return structField
}
