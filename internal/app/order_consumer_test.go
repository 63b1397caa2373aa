package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/marketvine/settlement-service/internal/domain"
	"github.com/marketvine/settlement-service/internal/store"
)

type consumerRepoStub struct {
	store.Repository

	feeErr    error
	createErr error
	created   bool
}

func (s *consumerRepoStub) GetDefaultFeeSchedule(ctx context.Context, modality domain.Modality) (*domain.FeeSchedule, error) {
	if s.feeErr != nil {
		return nil, s.feeErr
	}
	return &domain.FeeSchedule{Modality: modality}, nil
}

func (s *consumerRepoStub) CreateTransactionForOrder(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, bool, error) {
	if s.createErr != nil {
		return nil, false, s.createErr
	}
	s.created = true
	return tx, true, nil
}

func orderEventBody(t *testing.T, event domain.OrderPlacedEvent) []byte {
	t.Helper()
	body, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}
	return body
}

func TestOrderConsumer_AcksValidEvent(t *testing.T) {
	repo := &consumerRepoStub{}
	consumer := newTestService(repo, &publisherStub{}).OrderPlacedConsumer()

	body := orderEventBody(t, domain.OrderPlacedEvent{
		OrderID:    uuid.New(),
		SellerID:   uuid.New(),
		GrossValue: mustDecimal(t, "100.00"),
		Modality:   "D+1",
	})
	if !consumer.HandleMessage(body) {
		t.Fatal("expected a valid event to be acked")
	}
	if !repo.created {
		t.Fatal("expected a transaction to be created")
	}
}

func TestOrderConsumer_DropsMalformedPayloads(t *testing.T) {
	repo := &consumerRepoStub{}
	consumer := newTestService(repo, &publisherStub{}).OrderPlacedConsumer()

	if !consumer.HandleMessage([]byte("{not json")) {
		t.Fatal("expected malformed json to be acked and dropped")
	}
	if repo.created {
		t.Fatal("did not expect a transaction for a malformed payload")
	}
}

func TestOrderConsumer_DropsEventsWithoutOrderID(t *testing.T) {
	repo := &consumerRepoStub{}
	consumer := newTestService(repo, &publisherStub{}).OrderPlacedConsumer()

	body := orderEventBody(t, domain.OrderPlacedEvent{
		SellerID:   uuid.New(),
		GrossValue: mustDecimal(t, "100.00"),
		Modality:   "D+1",
	})
	if !consumer.HandleMessage(body) {
		t.Fatal("expected an event without an order id to be acked and dropped")
	}
	if repo.created {
		t.Fatal("did not expect a transaction without an order id")
	}
}

func TestOrderConsumer_DropsInvalidOrders(t *testing.T) {
	repo := &consumerRepoStub{}
	consumer := newTestService(repo, &publisherStub{}).OrderPlacedConsumer()

	body := orderEventBody(t, domain.OrderPlacedEvent{
		OrderID:    uuid.New(),
		SellerID:   uuid.New(),
		GrossValue: mustDecimal(t, "100.00"),
		Modality:   "D+7",
	})
	if !consumer.HandleMessage(body) {
		t.Fatal("expected an unknown modality to be acked and dropped; a retry cannot fix it")
	}
}

func TestOrderConsumer_RequeuesOnMissingFeeSchedule(t *testing.T) {
	repo := &consumerRepoStub{feeErr: store.ErrFeeScheduleNotConfigured}
	consumer := newTestService(repo, &publisherStub{}).OrderPlacedConsumer()

	body := orderEventBody(t, domain.OrderPlacedEvent{
		OrderID:    uuid.New(),
		SellerID:   uuid.New(),
		GrossValue: mustDecimal(t, "100.00"),
		Modality:   "D+1",
	})
	if consumer.HandleMessage(body) {
		t.Fatal("expected a missing fee schedule to requeue the message")
	}
}

func TestOrderConsumer_RequeuesOnTransientErrors(t *testing.T) {
	repo := &consumerRepoStub{createErr: errors.New("connection reset")}
	consumer := newTestService(repo, &publisherStub{}).OrderPlacedConsumer()

	body := orderEventBody(t, domain.OrderPlacedEvent{
		OrderID:    uuid.New(),
		SellerID:   uuid.New(),
		GrossValue: mustDecimal(t, "100.00"),
		Modality:   "D+30",
	})
	if consumer.HandleMessage(body) {
		t.Fatal("expected a transient store error to requeue the message")
	}
}
