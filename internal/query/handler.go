package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/storefront-checkout/internal/domain/order"
	"github.com/example/storefront-checkout/internal/infrastructure/store"
	"github.com/rs/zerolog"
)

// Handler serves order history straight from the ledger.
type Handler struct {
	orders store.OrderReader
	logger zerolog.Logger
}

func NewHandler(orders store.OrderReader, logger zerolog.Logger) *Handler {
	return &Handler{orders: orders, logger: logger}
}

// GetOrder returns order.ErrOrderNotFound when the ledger has no such order.
func (h *Handler) GetOrder(ctx context.Context, id string) (*OrderView, error) {
	o, err := h.orders.GetOrder(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", id, order.ErrOrderNotFound)
	}
	if err != nil {
		h.logger.Error().Err(err).Str("order_id", id).Msg("error getting order")
		return nil, err
	}
	view := NewOrderView(o)
	return &view, nil
}

// ListOrdersByUser returns the user's orders newest first, never nil.
func (h *Handler) ListOrdersByUser(ctx context.Context, userID string) ([]OrderView, error) {
	orders, err := h.orders.ListOrdersByUser(ctx, userID)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("error listing orders")
		return nil, err
	}
	views := make([]OrderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, NewOrderView(o))
	}
	return views, nil
}
