package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/example/storefront-checkout/internal/domain/order"
	"github.com/example/storefront-checkout/internal/email"
	"github.com/example/storefront-checkout/internal/infrastructure/store"
	"github.com/rs/zerolog"
)

// Sender delivers an order confirmation.
type Sender interface {
	SendOrderConfirmation(to, orderID, total string, items []email.OrderItem) error
}

// Handler processes events for sending notifications
type Handler struct {
	sender Sender
	logger zerolog.Logger
}

func NewHandler(sender Sender, logger zerolog.Logger) *Handler {
	return &Handler{sender: sender, logger: logger}
}

// HandleEvent processes an event envelope from Kafka. Events other than
// OrderPlaced are ignored.
func (h *Handler) HandleEvent(ctx context.Context, key, value []byte) error {
	var event store.Event
	if err := json.Unmarshal(value, &event); err != nil {
		h.logger.Error().Err(err).Str("key", string(key)).Msg("failed to unmarshal event")
		return fmt.Errorf("decode envelope: %w", err)
	}

	if event.EventType == order.EventOrderPlaced {
		return h.handleOrderPlaced(event)
	}
	return nil
}

func (h *Handler) handleOrderPlaced(event store.Event) error {
	var e order.OrderPlaced
	if err := json.Unmarshal(event.Data, &e); err != nil {
		h.logger.Error().Err(err).Str("event_id", event.ID).Msg("failed to unmarshal OrderPlaced event")
		return fmt.Errorf("decode OrderPlaced %s: %w", event.ID, err)
	}

	if e.CustomerEmail == "" {
		h.logger.Info().Str("order_id", e.OrderID).Str("user_id", e.UserID).Msg("no customer email, skipping confirmation")
		return nil
	}

	items := make([]email.OrderItem, len(e.Items))
	for i, item := range e.Items {
		items[i] = email.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			Price:     item.Price,
		}
	}

	if err := h.sender.SendOrderConfirmation(e.CustomerEmail, e.OrderID, e.Total, items); err != nil {
		h.logger.Error().Err(err).Str("order_id", e.OrderID).Msg("failed to send confirmation email")
		return err
	}

	h.logger.Info().Str("order_id", e.OrderID).Str("to", e.CustomerEmail).Msg("order confirmation email sent")
	return nil
}
