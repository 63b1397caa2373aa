package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/marketvine/settlement-service/internal/domain"
	"github.com/marketvine/settlement-service/internal/store"
)

// OrderPlacedConsumer opens ledger entries for order.placed events published
// by the order service. Creation is idempotent on order id, so redelivered
// messages are harmless.
type OrderPlacedConsumer struct {
	service *Service
}

// OrderPlacedConsumer returns the consumer bound to this service instance.
func (s *Service) OrderPlacedConsumer() *OrderPlacedConsumer {
	return &OrderPlacedConsumer{service: s}
}

// HandleMessage processes one order.placed message. The returned bool drives
// ack/requeue: malformed payloads are acked (retrying cannot fix them), while
// transient failures are requeued.
func (c *OrderPlacedConsumer) HandleMessage(body []byte) bool {
	var event domain.OrderPlacedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=order_consumer msg=\"failed to unmarshal payload; acknowledging to drop\" err=%v", err)
		return true
	}
	if event.OrderID == uuid.Nil {
		log.Printf("level=warn component=order_consumer msg=\"missing order id in event; acknowledging to drop\"")
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	_, err := c.service.CreateForOrder(ctx, domain.CreateOrderSettlementRequest{
		OrderID:    event.OrderID,
		SellerID:   event.SellerID,
		GrossValue: event.GrossValue,
		Modality:   event.Modality,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidOrderRequest) {
			log.Printf("level=warn component=order_consumer msg=\"invalid order event; acknowledging to drop\" order_id=%s err=%v", event.OrderID, err)
			return true
		}
		if errors.Is(err, store.ErrFeeScheduleNotConfigured) {
			// A missing fee schedule is an operator problem, not a bad message.
			log.Printf("level=error component=order_consumer msg=\"fee schedule not configured; re-queuing\" order_id=%s modality=%s", event.OrderID, event.Modality)
			return false
		}
		log.Printf("level=error component=order_consumer msg=\"processing error; re-queuing\" order_id=%s err=%v", event.OrderID, err)
		return false
	}
	return true
}
