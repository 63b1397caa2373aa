/**
 * @description
 * This file contains the core business logic for the settlement-service. The `Service`
 * struct orchestrates the settlement ledger: opening transactions for placed orders
 * with a fee snapshot, advancing them through the release lifecycle, applying
 * admin overrides, and batching released transactions into payouts.
 *
 * Key features:
 * - Idempotent ledger creation keyed on order id.
 * - Guarded state transitions delegated to the repository so concurrent callers
 *   cannot double-process a transaction.
 * - Per-seller payout partitioning as a pure function, shared with the virtual
 *   grouping view.
 * - Publishes lifecycle events to RabbitMQ; publish failures never roll back a
 *   ledger mutation.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - github.com/shopspring/decimal: For monetary values.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/rabbitmq: For event publishing.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/marketvine/settlement-service/internal/domain"
	"github.com/marketvine/settlement-service/internal/store"
	"github.com/marketvine/settlement-service/pkg/rabbitmq"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidOrderRequest      = errors.New("invalid order settlement request")
	ErrUnknownModality          = errors.New("unknown settlement modality")
	ErrInvalidFeeValues         = errors.New("fee percentage must be between 0 and 100 and fixed amount must be non-negative")
	ErrEmptyBlockReason         = errors.New("block reason must not be empty")
	ErrAlreadyBlocked           = errors.New("transaction is already blocked")
	ErrNotBlockable             = errors.New("only pending or released transactions can be blocked")
	ErrNotBlocked               = errors.New("transaction is not blocked")
	ErrAlreadyPaid              = errors.New("transaction has already been paid out")
	ErrNotAnticipated           = errors.New("transaction has no anticipation override to revert")
	ErrMissingAnticipationDate  = errors.New("custom anticipation requires a date")
	ErrPastAnticipationDate     = errors.New("custom anticipation date must not be in the past")
	ErrUnknownAnticipationMode  = errors.New("anticipation mode must be 'today' or 'custom'")
	ErrEmptyPayoutSelection     = errors.New("payout selection must contain at least one transaction")
	ErrDuplicatePayoutSelection = errors.New("payout selection contains duplicate transaction ids")
	ErrSellerMismatch           = errors.New("transaction does not belong to the given seller")
	ErrNotEligibleForPayout     = errors.New("transaction is not released, is blocked, or already belongs to a payout")
	ErrNotARealPayout           = errors.New("virtual payouts are display-only and cannot be deleted or edited")
)

// Service provides the core business logic for the settlement engine.
type Service struct {
	repo          store.Repository
	eventProducer rabbitmq.Publisher
	eventExchange string
	now           func() time.Time
}

// NewService creates a new settlement service instance.
func NewService(repo store.Repository, producer rabbitmq.Publisher, eventExchange string) *Service {
	return &Service{
		repo:          repo,
		eventProducer: producer,
		eventExchange: eventExchange,
		now:           time.Now,
	}
}

// --- Fee Schedule Registry ---

// GetFeeSchedule returns the current default fee for a modality.
func (s *Service) GetFeeSchedule(ctx context.Context, modality string) (*domain.FeeSchedule, error) {
	parsed, ok := domain.ParseModality(modality)
	if !ok {
		return nil, ErrUnknownModality
	}
	return s.repo.GetDefaultFeeSchedule(ctx, parsed)
}

// UpdateFeeSchedule rewrites the effective fee for every seller under a
// modality as one atomic operation and returns the number of seller rows
// touched. Existing transactions keep their snapshot.
func (s *Service) UpdateFeeSchedule(ctx context.Context, modality string, percentage, fixedAmount decimal.Decimal) (int64, error) {
	parsed, ok := domain.ParseModality(modality)
	if !ok {
		return 0, ErrUnknownModality
	}
	if percentage.IsNegative() || percentage.GreaterThan(decimal.NewFromInt(100)) || fixedAmount.IsNegative() {
		return 0, ErrInvalidFeeValues
	}

	affected, err := s.repo.BulkUpdateFeeSchedule(ctx, parsed, percentage, fixedAmount)
	if err != nil {
		return 0, err
	}
	log.Printf("level=info component=settlement msg=\"fee schedule updated\" modality=%s percentage=%s fixed=%s affected=%d",
		parsed, percentage, fixedAmount, affected)
	return affected, nil
}

// SeedFeeSchedules inserts the configured default fee per modality when none
// exists yet. Called once at bootstrap; already-seeded modalities are untouched.
func (s *Service) SeedFeeSchedules(ctx context.Context, defaults []domain.FeeSchedule) error {
	for _, schedule := range defaults {
		if err := s.repo.SeedDefaultFeeSchedule(ctx, schedule); err != nil {
			return fmt.Errorf("failed to seed fee schedule for %s: %w", schedule.Modality, err)
		}
	}
	return nil
}

// --- Transaction Ledger ---

// CreateForOrder opens the ledger entry for a placed order. Idempotent: a
// retry for an order that already has a transaction returns the existing
// record unchanged.
func (s *Service) CreateForOrder(ctx context.Context, req domain.CreateOrderSettlementRequest) (*domain.Transaction, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOrderRequest, err)
	}
	modality, _ := domain.ParseModality(req.Modality)

	fee, err := s.repo.GetDefaultFeeSchedule(ctx, modality)
	if err != nil {
		return nil, err
	}

	today := domain.DateOnlyUTC(s.now())
	tx := &domain.Transaction{
		ID:                   uuid.New(),
		OrderID:              req.OrderID,
		SellerID:             req.SellerID,
		GrossValue:           req.GrossValue,
		FeePercentage:        fee.Percentage,
		FeeFixedAmount:       fee.FixedAmount,
		NetValue:             domain.ComputeNetValue(req.GrossValue, fee.Percentage, fee.FixedAmount),
		Modality:             modality,
		ScheduledReleaseDate: today.AddDate(0, 0, modality.ReleaseDelayDays()),
		Status:               domain.StatusPending,
	}

	persisted, created, err := s.repo.CreateTransactionForOrder(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to create settlement transaction: %w", err)
	}
	if created {
		log.Printf("level=info component=settlement msg=\"transaction created\" tx_id=%s order_id=%s seller_id=%s net=%s release=%s",
			persisted.ID, persisted.OrderID, persisted.SellerID, persisted.NetValue, persisted.ScheduledReleaseDate.Format("2006-01-02"))
	} else {
		log.Printf("level=info component=settlement msg=\"duplicate order settlement request; returning existing transaction\" order_id=%s tx_id=%s",
			persisted.OrderID, persisted.ID)
	}
	return persisted, nil
}

// GetTransaction retrieves one ledger record.
func (s *Service) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return s.repo.FindTransactionByID(ctx, id)
}

// ListSellerTransactions lists a seller's ledger with optional filters.
func (s *Service) ListSellerTransactions(ctx context.Context, sellerID uuid.UUID, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	return s.repo.FindTransactionsBySeller(ctx, sellerID, filter)
}

// GetSellerLedgerSummary computes on-demand aggregates for a seller.
func (s *Service) GetSellerLedgerSummary(ctx context.Context, sellerID uuid.UUID) (*domain.LedgerSummary, error) {
	return s.repo.GetSellerLedgerSummary(ctx, sellerID)
}

// --- Release Transitioner ---

// RunReleaseSweep promotes every eligible pending transaction to 'released'
// and returns their ids. Safe to invoke repeatedly and concurrently; the
// underlying transition is a guarded compare-and-set on status.
func (s *Service) RunReleaseSweep(ctx context.Context) ([]uuid.UUID, error) {
	released, err := s.repo.ReleaseDueTransactions(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("release sweep failed: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(released))
	for i := range released {
		ids = append(ids, released[i].ID)
		s.publishTransactionEvent(ctx, rabbitmq.RoutingKeyTransactionReleased, &released[i])
	}
	if len(ids) > 0 {
		log.Printf("level=info component=settlement msg=\"release sweep promoted transactions\" count=%d", len(ids))
	}
	return ids, nil
}

// --- Override Controller ---

// BlockTransaction withholds a pending or released transaction from automatic
// release and payout selection.
func (s *Service) BlockTransaction(ctx context.Context, id uuid.UUID, reason string) (*domain.Transaction, error) {
	if reason == "" {
		return nil, ErrEmptyBlockReason
	}

	current, err := s.repo.FindTransactionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Blocked {
		return nil, ErrAlreadyBlocked
	}
	if current.Status == domain.StatusPaid {
		return nil, ErrNotBlockable
	}

	blocked, err := s.repo.BlockTransaction(ctx, id, reason)
	if err != nil {
		if errors.Is(err, store.ErrTransactionStateConflict) {
			return nil, ErrAlreadyBlocked
		}
		return nil, err
	}

	s.publishTransactionEvent(ctx, rabbitmq.RoutingKeyTransactionBlocked, blocked)
	log.Printf("level=info component=settlement msg=\"transaction blocked\" tx_id=%s reason=%q", id, reason)
	return blocked, nil
}

// UnblockTransaction clears a block; status and scheduling are untouched.
func (s *Service) UnblockTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	current, err := s.repo.FindTransactionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.Blocked {
		return nil, ErrNotBlocked
	}

	unblocked, err := s.repo.UnblockTransaction(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrTransactionStateConflict) {
			return nil, ErrNotBlocked
		}
		return nil, err
	}

	s.publishTransactionEvent(ctx, rabbitmq.RoutingKeyTransactionUnblocked, unblocked)
	log.Printf("level=info component=settlement msg=\"transaction unblocked\" tx_id=%s", id)
	return unblocked, nil
}

// AnticipateTransaction moves a transaction's effective release date earlier.
// Mode 'today' releases immediately: the override sets the effective date to
// today and this same call performs the inline release check, so the caller
// never waits for the next sweep. Mode 'custom' only schedules, unless the
// custom date is today.
func (s *Service) AnticipateTransaction(ctx context.Context, id uuid.UUID, mode domain.AnticipationMode, customDate *time.Time) (*domain.Transaction, error) {
	current, err := s.repo.FindTransactionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == domain.StatusPaid {
		return nil, ErrAlreadyPaid
	}

	today := domain.DateOnlyUTC(s.now())
	var targetDate time.Time
	switch mode {
	case domain.AnticipateToday:
		targetDate = today
	case domain.AnticipateCustom:
		if customDate == nil {
			return nil, ErrMissingAnticipationDate
		}
		targetDate = domain.DateOnlyUTC(*customDate)
		if targetDate.Before(today) {
			return nil, ErrPastAnticipationDate
		}
	default:
		return nil, ErrUnknownAnticipationMode
	}

	anticipated, err := s.repo.AnticipateTransaction(ctx, id, targetDate)
	if err != nil {
		if errors.Is(err, store.ErrTransactionStateConflict) {
			return nil, ErrAlreadyPaid
		}
		return nil, err
	}

	if !targetDate.After(today) {
		flipped, err := s.repo.ReleaseTransactionIfDue(ctx, id, s.now())
		if err != nil {
			return nil, fmt.Errorf("inline release after anticipation failed: %w", err)
		}
		if flipped {
			anticipated, err = s.repo.FindTransactionByID(ctx, id)
			if err != nil {
				return nil, err
			}
			s.publishTransactionEvent(ctx, rabbitmq.RoutingKeyTransactionReleased, anticipated)
		}
	}

	log.Printf("level=info component=settlement msg=\"transaction anticipated\" tx_id=%s mode=%s date=%s status=%s",
		id, mode, targetDate.Format("2006-01-02"), anticipated.Status)
	return anticipated, nil
}

// RevertAnticipation clears an anticipation override so the original scheduled
// date governs again. It never rolls back an already-released status.
func (s *Service) RevertAnticipation(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	current, err := s.repo.FindTransactionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == domain.StatusPaid {
		return nil, ErrAlreadyPaid
	}
	if !current.Anticipated {
		return nil, ErrNotAnticipated
	}

	reverted, err := s.repo.RevertTransactionAnticipation(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrTransactionStateConflict) {
			return nil, ErrNotAnticipated
		}
		return nil, err
	}

	log.Printf("level=info component=settlement msg=\"anticipation reverted\" tx_id=%s scheduled=%s",
		id, reverted.ScheduledReleaseDate.Format("2006-01-02"))
	return reverted, nil
}

// --- Payout Batch Builder ---

// sellerGroup is one seller's share of a payout selection, in selection order.
type sellerGroup struct {
	sellerID uuid.UUID
	members  []domain.Transaction
}

// partitionBySeller splits a selection into per-seller groups, preserving the
// caller's selection order within each group. Pure function: the payout
// builder and the virtual grouping view both rely on it.
func partitionBySeller(transactions []domain.Transaction) []sellerGroup {
	index := make(map[uuid.UUID]int)
	var groups []sellerGroup
	for _, tx := range transactions {
		i, ok := index[tx.SellerID]
		if !ok {
			i = len(groups)
			index[tx.SellerID] = i
			groups = append(groups, sellerGroup{sellerID: tx.SellerID})
		}
		groups[i].members = append(groups[i].members, tx)
	}
	return groups
}

// CreatePayout validates a caller-supplied selection of released transactions,
// partitions it by seller, and creates one payout per seller. Each seller
// group is atomic: either all of its members flip to 'paid' and the payout is
// persisted, or none do. Payouts created before a failing group remain; the
// operation is safe to retry with the unpaid remainder.
func (s *Service) CreatePayout(ctx context.Context, req domain.CreatePayoutRequest) ([]domain.Payout, error) {
	if len(req.TransactionIDs) == 0 {
		return nil, ErrEmptyPayoutSelection
	}
	seen := make(map[uuid.UUID]bool, len(req.TransactionIDs))
	for _, id := range req.TransactionIDs {
		if seen[id] {
			return nil, ErrDuplicatePayoutSelection
		}
		seen[id] = true
	}

	selection := make([]domain.Transaction, 0, len(req.TransactionIDs))
	for _, id := range req.TransactionIDs {
		tx, err := s.repo.FindTransactionByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if req.SellerID != nil && tx.SellerID != *req.SellerID {
			return nil, ErrSellerMismatch
		}
		if tx.Status != domain.StatusReleased || tx.Blocked || tx.PayoutID != nil {
			return nil, ErrNotEligibleForPayout
		}
		selection = append(selection, *tx)
	}

	var payouts []domain.Payout
	for _, group := range partitionBySeller(selection) {
		memberIDs := make([]uuid.UUID, len(group.members))
		for i, member := range group.members {
			memberIDs[i] = member.ID
		}

		payout := &domain.Payout{
			ID:       uuid.New(),
			SellerID: group.sellerID,
			Notes:    req.Notes,
		}
		created, err := s.repo.CreatePayoutWithMembers(ctx, payout, memberIDs)
		if err != nil {
			if errors.Is(err, store.ErrPayoutMemberStateConflict) {
				err = ErrNotEligibleForPayout
			}
			if len(payouts) > 0 {
				log.Printf("level=warn component=settlement msg=\"payout batch partially created\" created=%d failed_seller=%s err=%v",
					len(payouts), group.sellerID, err)
			}
			return payouts, err
		}

		payouts = append(payouts, *created)
		s.publishPayoutEvent(ctx, rabbitmq.RoutingKeyPayoutCreated, created)
		for i := range group.members {
			member := group.members[i]
			member.Status = domain.StatusPaid
			member.PayoutID = &created.ID
			s.publishTransactionEvent(ctx, rabbitmq.RoutingKeyTransactionPaid, &member)
		}
		log.Printf("level=info component=settlement msg=\"payout created\" payout_id=%s seller_id=%s total=%s members=%d",
			created.ID, created.SellerID, created.TotalValue, created.TransactionCount)
	}
	return payouts, nil
}

// DeletePayout reverts every member of a real payout to 'released' and removes
// the payout record. Virtual ids are rejected before any lookup.
func (s *Service) DeletePayout(ctx context.Context, rawID string) (int64, error) {
	if domain.IsVirtualPayoutID(rawID) {
		return 0, ErrNotARealPayout
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return 0, store.ErrPayoutNotFound
	}

	payout, err := s.repo.FindPayoutByID(ctx, id)
	if err != nil {
		return 0, err
	}

	reverted, err := s.repo.DeletePayout(ctx, id)
	if err != nil {
		return 0, err
	}

	s.publishPayoutEvent(ctx, rabbitmq.RoutingKeyPayoutDeleted, payout)
	log.Printf("level=info component=settlement msg=\"payout deleted\" payout_id=%s seller_id=%s reverted=%d",
		id, payout.SellerID, reverted)
	return reverted, nil
}

// GetPayout retrieves a persisted payout with its member ids.
func (s *Service) GetPayout(ctx context.Context, id uuid.UUID) (*domain.Payout, error) {
	return s.repo.FindPayoutByID(ctx, id)
}

// ListPendingForPayout returns a seller's candidate pool for payout creation.
func (s *Service) ListPendingForPayout(ctx context.Context, sellerID uuid.UUID) ([]domain.Transaction, error) {
	return s.repo.FindPendingForPayout(ctx, sellerID)
}

// --- Virtual Grouping View ---

// ComputeVirtualPayouts groups released-but-unbatched transactions per seller
// as if they were already payouts, without writing anything. The synthetic id
// pattern keeps them distinguishable from real payouts.
func (s *Service) ComputeVirtualPayouts(ctx context.Context, sellerFilter *uuid.UUID) ([]domain.VirtualPayout, error) {
	var (
		pool []domain.Transaction
		err  error
	)
	if sellerFilter != nil {
		pool, err = s.repo.FindPendingForPayout(ctx, *sellerFilter)
	} else {
		pool, err = s.repo.FindAllPendingForPayout(ctx)
	}
	if err != nil {
		return nil, err
	}

	var virtual []domain.VirtualPayout
	for _, group := range partitionBySeller(pool) {
		vp := domain.VirtualPayout{
			ID:               domain.VirtualPayoutID(group.sellerID),
			SellerID:         group.sellerID,
			TotalValue:       decimal.Zero,
			TransactionCount: len(group.members),
		}
		for _, member := range group.members {
			vp.TotalValue = vp.TotalValue.Add(member.NetValue)
			vp.TransactionIDs = append(vp.TransactionIDs, member.ID)
		}
		virtual = append(virtual, vp)
	}
	return virtual, nil
}

// --- Event publishing (fire-and-forget) ---

func (s *Service) publishTransactionEvent(ctx context.Context, routingKey string, tx *domain.Transaction) {
	if s.eventProducer == nil {
		return
	}
	event := rabbitmq.TransactionEvent{
		TransactionID: tx.ID,
		OrderID:       tx.OrderID,
		SellerID:      tx.SellerID,
		Status:        string(tx.Status),
		NetValue:      tx.NetValue,
		Blocked:       tx.Blocked,
		BlockReason:   tx.BlockReason,
		Timestamp:     s.now(),
	}
	if err := s.eventProducer.Publish(ctx, s.eventExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=settlement msg=\"transaction event publish failed\" routing_key=%s tx_id=%s err=%v",
			routingKey, tx.ID, err)
	}
}

func (s *Service) publishPayoutEvent(ctx context.Context, routingKey string, payout *domain.Payout) {
	if s.eventProducer == nil {
		return
	}
	event := rabbitmq.PayoutEvent{
		PayoutID:         payout.ID,
		SellerID:         payout.SellerID,
		TotalValue:       payout.TotalValue,
		TransactionCount: payout.TransactionCount,
		Timestamp:        s.now(),
	}
	if err := s.eventProducer.Publish(ctx, s.eventExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=settlement msg=\"payout event publish failed\" routing_key=%s payout_id=%s err=%v",
			routingKey, payout.ID, err)
	}
}
