package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/storefront-checkout/internal/api/middleware"
	"github.com/example/storefront-checkout/internal/checkout"
	"github.com/example/storefront-checkout/internal/domain/inventory"
	"github.com/example/storefront-checkout/internal/domain/order"
	"github.com/example/storefront-checkout/internal/infrastructure/store"
	"github.com/example/storefront-checkout/internal/query"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// OrderPlacer is the checkout entry point.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req checkout.Request) (*order.Order, error)
}

type OrderQueries interface {
	GetOrder(ctx context.Context, id string) (*query.OrderView, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]query.OrderView, error)
}

type Handlers struct {
	checkout  OrderPlacer
	queries   OrderQueries
	inventory store.InventoryAdmin
	logger    zerolog.Logger
}

func NewHandlers(placer OrderPlacer, queries OrderQueries, inventory store.InventoryAdmin, logger zerolog.Logger) *Handlers {
	return &Handlers{
		checkout:  placer,
		queries:   queries,
		inventory: inventory,
		logger:    logger,
	}
}

type checkoutRequest struct {
	Items            []checkout.Item       `json:"items"`
	ShippingAddress  order.ShippingAddress `json:"shipping_address"`
	PaymentMethod    order.PaymentMethod   `json:"payment_method"`
	PaymentReference string                `json:"payment_reference,omitempty"`
}

type checkoutResponse struct {
	OrderID     string `json:"order_id"`
	Status      string `json:"status"`
	TotalAmount string `json:"total_amount"`
}

// Checkout Handlers

// PlaceOrder handles POST /checkout. The buyer comes from the verified token,
// never from the body.
func (h *Handlers) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized", "unauthorized")
		return
	}

	var body checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, checkout.KindValidation, "malformed request body: "+err.Error())
		return
	}

	placed, err := h.checkout.PlaceOrder(r.Context(), checkout.Request{
		UserID:           claims.UserID,
		Email:            claims.Email,
		Items:            body.Items,
		ShippingAddress:  body.ShippingAddress,
		PaymentMethod:    body.PaymentMethod,
		PaymentReference: body.PaymentReference,
	})
	if err != nil {
		respondCheckoutError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusCreated, checkoutResponse{
		OrderID:     placed.ID,
		Status:      string(placed.Status),
		TotalAmount: placed.TotalAmount.StringFixed(2),
	})
}

// Order Handlers

func (h *Handlers) GetOrders(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	orders, err := h.queries.ListOrdersByUser(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, checkout.KindStorageUnavailable, "order history unavailable")
		return
	}
	respondJSON(w, http.StatusOK, orders)
}

// GetOrder returns one order. Users may only read their own orders, admins any.
func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "orderID")

	view, err := h.queries.GetOrder(r.Context(), id)
	if errors.Is(err, order.ErrOrderNotFound) {
		respondError(w, http.StatusNotFound, "NotFound", "order not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, checkout.KindStorageUnavailable, "order history unavailable")
		return
	}

	claims, _ := middleware.GetUserFromContext(r.Context())
	if claims == nil || (view.UserID != claims.UserID && !claims.IsAdmin()) {
		respondError(w, http.StatusForbidden, "Forbidden", "forbidden")
		return
	}

	respondJSON(w, http.StatusOK, view)
}

// Admin Handlers

type inventoryRequest struct {
	StockCount *int `json:"stock_count"`
}

type inventoryResponse struct {
	ProductID  string `json:"product_id"`
	StockCount int    `json:"stock_count"`
	Version    int    `json:"version"`
}

func newInventoryResponse(rec inventory.Record) inventoryResponse {
	return inventoryResponse{ProductID: rec.ProductID, StockCount: rec.StockCount, Version: rec.Version}
}

// PutInventory seeds or overwrites a product's stock count.
func (h *Handlers) PutInventory(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")

	var body inventoryRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.StockCount == nil {
		respondError(w, http.StatusBadRequest, checkout.KindValidation, "stock_count is required")
		return
	}

	err := h.inventory.PutInventory(r.Context(), productID, *body.StockCount)
	if errors.Is(err, store.ErrNegativeStock) {
		respondError(w, http.StatusBadRequest, checkout.KindValidation, "stock_count must not be negative")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("product_id", productID).Msg("failed to put inventory")
		respondError(w, http.StatusServiceUnavailable, checkout.KindStorageUnavailable, "inventory unavailable")
		return
	}

	rec, err := h.inventory.GetInventory(r.Context(), productID)
	if err != nil {
		h.logger.Error().Err(err).Str("product_id", productID).Msg("failed to read back inventory")
		respondError(w, http.StatusServiceUnavailable, checkout.KindStorageUnavailable, "inventory unavailable")
		return
	}
	h.logger.Info().Str("product_id", productID).Int("stock_count", rec.StockCount).Msg("inventory updated")
	respondJSON(w, http.StatusOK, newInventoryResponse(rec))
}

func (h *Handlers) GetInventory(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")

	rec, err := h.inventory.GetInventory(r.Context(), productID)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "NotFound", "inventory not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, checkout.KindStorageUnavailable, "inventory unavailable")
		return
	}
	respondJSON(w, http.StatusOK, newInventoryResponse(rec))
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
