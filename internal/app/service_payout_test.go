package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/marketvine/settlement-service/internal/domain"
	"github.com/marketvine/settlement-service/internal/store"
	"github.com/marketvine/settlement-service/pkg/rabbitmq"
	"github.com/shopspring/decimal"
)

type payoutRepoStub struct {
	store.Repository

	transactions map[uuid.UUID]*domain.Transaction
	pool         []domain.Transaction
	payout       *domain.Payout

	createdMembers [][]uuid.UUID
	failOnSeller   *uuid.UUID
	deleteCalled   bool
	revertedCount  int64
}

func (s *payoutRepoStub) FindTransactionByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	tx, ok := s.transactions[id]
	if !ok {
		return nil, store.ErrTransactionNotFound
	}
	copied := *tx
	return &copied, nil
}

func (s *payoutRepoStub) CreatePayoutWithMembers(ctx context.Context, payout *domain.Payout, memberIDs []uuid.UUID) (*domain.Payout, error) {
	if s.failOnSeller != nil && payout.SellerID == *s.failOnSeller {
		return nil, store.ErrPayoutMemberStateConflict
	}
	s.createdMembers = append(s.createdMembers, memberIDs)

	created := *payout
	created.TotalValue = decimal.Zero
	created.TransactionCount = len(memberIDs)
	created.TransactionIDs = memberIDs
	for _, id := range memberIDs {
		created.TotalValue = created.TotalValue.Add(s.transactions[id].NetValue)
		s.transactions[id].Status = domain.StatusPaid
		s.transactions[id].PayoutID = &created.ID
	}
	return &created, nil
}

func (s *payoutRepoStub) DeletePayout(ctx context.Context, id uuid.UUID) (int64, error) {
	s.deleteCalled = true
	return s.revertedCount, nil
}

func (s *payoutRepoStub) FindPayoutByID(ctx context.Context, id uuid.UUID) (*domain.Payout, error) {
	if s.payout == nil || s.payout.ID != id {
		return nil, store.ErrPayoutNotFound
	}
	copied := *s.payout
	return &copied, nil
}

func (s *payoutRepoStub) FindPendingForPayout(ctx context.Context, sellerID uuid.UUID) ([]domain.Transaction, error) {
	var matched []domain.Transaction
	for _, tx := range s.pool {
		if tx.SellerID == sellerID {
			matched = append(matched, tx)
		}
	}
	return matched, nil
}

func (s *payoutRepoStub) FindAllPendingForPayout(ctx context.Context) ([]domain.Transaction, error) {
	return s.pool, nil
}

func releasedTx(t *testing.T, sellerID uuid.UUID, net string) *domain.Transaction {
	t.Helper()
	return &domain.Transaction{
		ID:       uuid.New(),
		OrderID:  uuid.New(),
		SellerID: sellerID,
		NetValue: mustDecimal(t, net),
		Status:   domain.StatusReleased,
	}
}

func stubWith(txs ...*domain.Transaction) *payoutRepoStub {
	s := &payoutRepoStub{transactions: make(map[uuid.UUID]*domain.Transaction)}
	for _, tx := range txs {
		s.transactions[tx.ID] = tx
	}
	return s
}

func TestPartitionBySeller_GroupsAndPreservesOrder(t *testing.T) {
	alice := uuid.New()
	bob := uuid.New()
	a1 := domain.Transaction{ID: uuid.New(), SellerID: alice}
	b1 := domain.Transaction{ID: uuid.New(), SellerID: bob}
	a2 := domain.Transaction{ID: uuid.New(), SellerID: alice}

	groups := partitionBySeller([]domain.Transaction{a1, b1, a2})
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if groups[0].sellerID != alice || groups[1].sellerID != bob {
		t.Fatal("expected groups ordered by first appearance")
	}
	if len(groups[0].members) != 2 || groups[0].members[0].ID != a1.ID || groups[0].members[1].ID != a2.ID {
		t.Fatal("expected selection order preserved within the group")
	}
	if len(groups[1].members) != 1 || groups[1].members[0].ID != b1.ID {
		t.Fatal("expected bob's group to hold exactly his transaction")
	}
}

func TestCreatePayout_SplitsSelectionPerSeller(t *testing.T) {
	alice := uuid.New()
	bob := uuid.New()
	a1 := releasedTx(t, alice, "50.00")
	a2 := releasedTx(t, alice, "25.50")
	b1 := releasedTx(t, bob, "10.00")
	repo := stubWith(a1, a2, b1)
	producer := &publisherStub{}
	svc := newTestService(repo, producer)

	payouts, err := svc.CreatePayout(context.Background(), domain.CreatePayoutRequest{
		TransactionIDs: []uuid.UUID{a1.ID, b1.ID, a2.ID},
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(payouts) != 2 {
		t.Fatalf("expected one payout per seller, got %d", len(payouts))
	}
	if payouts[0].SellerID != alice || payouts[1].SellerID != bob {
		t.Fatal("expected payouts ordered by first appearance in the selection")
	}
	if !payouts[0].TotalValue.Equal(mustDecimal(t, "75.50")) {
		t.Fatalf("expected alice's total 75.50, got %s", payouts[0].TotalValue)
	}
	if payouts[0].TransactionCount != 2 || payouts[1].TransactionCount != 1 {
		t.Fatalf("expected member counts 2 and 1, got %d and %d", payouts[0].TransactionCount, payouts[1].TransactionCount)
	}
	if repo.transactions[a1.ID].Status != domain.StatusPaid || repo.transactions[b1.ID].Status != domain.StatusPaid {
		t.Fatal("expected all members flipped to paid")
	}

	var createdKeys, paidKeys int
	for _, key := range producer.routingKeys() {
		switch key {
		case rabbitmq.RoutingKeyPayoutCreated:
			createdKeys++
		case rabbitmq.RoutingKeyTransactionPaid:
			paidKeys++
		}
	}
	if createdKeys != 2 || paidKeys != 3 {
		t.Fatalf("expected 2 payout.created and 3 transaction.paid events, got %d and %d", createdKeys, paidKeys)
	}
}

func TestCreatePayout_RejectsBadSelections(t *testing.T) {
	alice := uuid.New()
	bob := uuid.New()
	released := releasedTx(t, alice, "40.00")
	pending := releasedTx(t, alice, "15.00")
	pending.Status = domain.StatusPending
	blocked := releasedTx(t, alice, "20.00")
	blocked.Blocked = true
	alreadyBatched := releasedTx(t, alice, "30.00")
	existingPayout := uuid.New()
	alreadyBatched.PayoutID = &existingPayout
	repo := stubWith(released, pending, blocked, alreadyBatched)
	svc := newTestService(repo, &publisherStub{})

	tests := []struct {
		name    string
		req     domain.CreatePayoutRequest
		wantErr error
	}{
		{
			name:    "empty selection",
			req:     domain.CreatePayoutRequest{},
			wantErr: ErrEmptyPayoutSelection,
		},
		{
			name:    "duplicate ids",
			req:     domain.CreatePayoutRequest{TransactionIDs: []uuid.UUID{released.ID, released.ID}},
			wantErr: ErrDuplicatePayoutSelection,
		},
		{
			name:    "unknown transaction",
			req:     domain.CreatePayoutRequest{TransactionIDs: []uuid.UUID{uuid.New()}},
			wantErr: store.ErrTransactionNotFound,
		},
		{
			name:    "seller mismatch",
			req:     domain.CreatePayoutRequest{SellerID: &bob, TransactionIDs: []uuid.UUID{released.ID}},
			wantErr: ErrSellerMismatch,
		},
		{
			name:    "pending member",
			req:     domain.CreatePayoutRequest{TransactionIDs: []uuid.UUID{pending.ID}},
			wantErr: ErrNotEligibleForPayout,
		},
		{
			name:    "blocked member",
			req:     domain.CreatePayoutRequest{TransactionIDs: []uuid.UUID{blocked.ID}},
			wantErr: ErrNotEligibleForPayout,
		},
		{
			name:    "already batched member",
			req:     domain.CreatePayoutRequest{TransactionIDs: []uuid.UUID{alreadyBatched.ID}},
			wantErr: ErrNotEligibleForPayout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreatePayout(context.Background(), tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if len(repo.createdMembers) != 0 {
				t.Fatal("did not expect any payout to be created")
			}
		})
	}
}

func TestCreatePayout_KeepsEarlierGroupsOnMidBatchFailure(t *testing.T) {
	alice := uuid.New()
	bob := uuid.New()
	a1 := releasedTx(t, alice, "50.00")
	b1 := releasedTx(t, bob, "10.00")
	repo := stubWith(a1, b1)
	repo.failOnSeller = &bob
	svc := newTestService(repo, &publisherStub{})

	payouts, err := svc.CreatePayout(context.Background(), domain.CreatePayoutRequest{
		TransactionIDs: []uuid.UUID{a1.ID, b1.ID},
	})
	if !errors.Is(err, ErrNotEligibleForPayout) {
		t.Fatalf("expected the member conflict surfaced as ErrNotEligibleForPayout, got %v", err)
	}
	if len(payouts) != 1 || payouts[0].SellerID != alice {
		t.Fatalf("expected alice's payout to survive the failure, got %v", payouts)
	}
	if repo.transactions[b1.ID].Status != domain.StatusReleased {
		t.Fatal("expected bob's transaction untouched and retryable")
	}
}

func TestDeletePayout_RevertsMembers(t *testing.T) {
	sellerID := uuid.New()
	payout := &domain.Payout{ID: uuid.New(), SellerID: sellerID, TotalValue: mustDecimal(t, "75.50"), TransactionCount: 2}
	repo := stubWith()
	repo.payout = payout
	repo.revertedCount = 2
	producer := &publisherStub{}
	svc := newTestService(repo, producer)

	reverted, err := svc.DeletePayout(context.Background(), payout.ID.String())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if reverted != 2 {
		t.Fatalf("expected 2 reverted members, got %d", reverted)
	}
	if keys := producer.routingKeys(); len(keys) != 1 || keys[0] != rabbitmq.RoutingKeyPayoutDeleted {
		t.Fatalf("expected one payout.deleted event, got %v", keys)
	}
}

func TestDeletePayout_RejectsVirtualAndMalformedIDs(t *testing.T) {
	repo := stubWith()
	svc := newTestService(repo, &publisherStub{})

	_, err := svc.DeletePayout(context.Background(), domain.VirtualPayoutID(uuid.New()))
	if !errors.Is(err, ErrNotARealPayout) {
		t.Fatalf("expected ErrNotARealPayout, got %v", err)
	}
	if repo.deleteCalled {
		t.Fatal("did not expect a virtual id to reach the repository")
	}

	_, err = svc.DeletePayout(context.Background(), "not-a-uuid")
	if !errors.Is(err, store.ErrPayoutNotFound) {
		t.Fatalf("expected ErrPayoutNotFound for a malformed id, got %v", err)
	}
}

func TestComputeVirtualPayouts_GroupsReleasedPool(t *testing.T) {
	alice := uuid.New()
	bob := uuid.New()
	a1 := releasedTx(t, alice, "50.00")
	a2 := releasedTx(t, alice, "25.50")
	b1 := releasedTx(t, bob, "10.00")
	repo := stubWith(a1, a2, b1)
	repo.pool = []domain.Transaction{*a1, *a2, *b1}
	svc := newTestService(repo, &publisherStub{})

	virtual, err := svc.ComputeVirtualPayouts(context.Background(), nil)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(virtual) != 2 {
		t.Fatalf("expected one virtual payout per seller, got %d", len(virtual))
	}
	if virtual[0].ID != domain.VirtualPayoutID(alice) {
		t.Fatalf("expected synthetic id for alice, got %s", virtual[0].ID)
	}
	if !domain.IsVirtualPayoutID(virtual[0].ID) {
		t.Fatalf("expected %s to be recognized as virtual", virtual[0].ID)
	}
	if !virtual[0].TotalValue.Equal(mustDecimal(t, "75.50")) {
		t.Fatalf("expected alice's virtual total 75.50, got %s", virtual[0].TotalValue)
	}
	if virtual[1].TransactionCount != 1 {
		t.Fatalf("expected bob's virtual payout with one member, got %d", virtual[1].TransactionCount)
	}

	filtered, err := svc.ComputeVirtualPayouts(context.Background(), &bob)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(filtered) != 1 || filtered[0].SellerID != bob {
		t.Fatalf("expected only bob's virtual payout, got %v", filtered)
	}
}
