/**
 * @description
 * This file defines the core domain models for the settlement-service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Monetary values and fee percentages use `decimal.Decimal` (backed by NUMERIC
 *   columns) so that net-value arithmetic is exact and free of float drift.
 * - Release dates are date-only values normalized to midnight UTC; all eligibility
 *   comparisons go through EffectiveReleaseDate so the sweep and every read model
 *   apply the same rule.
 */

package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Modality is a settlement speed class determining the default release delay.
type Modality string

const (
	ModalityD1  Modality = "D+1"
	ModalityD15 Modality = "D+15"
	ModalityD30 Modality = "D+30"
)

// ParseModality normalizes and validates a modality string.
func ParseModality(raw string) (Modality, bool) {
	switch Modality(strings.ToUpper(strings.TrimSpace(raw))) {
	case ModalityD1:
		return ModalityD1, true
	case ModalityD15:
		return ModalityD15, true
	case ModalityD30:
		return ModalityD30, true
	}
	return "", false
}

// ReleaseDelayDays returns the number of days between order creation and the
// scheduled release date for this modality.
func (m Modality) ReleaseDelayDays() int {
	switch m {
	case ModalityD1:
		return 1
	case ModalityD15:
		return 15
	case ModalityD30:
		return 30
	}
	return 0
}

// TransactionStatus is the release lifecycle state of a settlement transaction.
type TransactionStatus string

const (
	StatusPending  TransactionStatus = "pending"
	StatusReleased TransactionStatus = "released"
	StatusPaid     TransactionStatus = "paid"
)

// ParseTransactionStatus normalizes and validates a status string.
func ParseTransactionStatus(raw string) (TransactionStatus, bool) {
	switch TransactionStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusPending:
		return StatusPending, true
	case StatusReleased:
		return StatusReleased, true
	case StatusPaid:
		return StatusPaid, true
	}
	return "", false
}

// FeeSchedule holds the current default fee applied to orders settled under a modality.
type FeeSchedule struct {
	Modality    Modality        `json:"modality"`
	Percentage  decimal.Decimal `json:"percentage"`
	FixedAmount decimal.Decimal `json:"fixed_amount"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Transaction is the central ledger record: one per order, carrying the fee
// snapshot taken at creation, the computed net value owed to the seller, and
// the release lifecycle state. This struct maps directly to the
// `settlement_transactions` table.
type Transaction struct {
	ID                     uuid.UUID         `json:"id"`
	OrderID                uuid.UUID         `json:"order_id"`
	SellerID               uuid.UUID         `json:"seller_id"`
	GrossValue             decimal.Decimal   `json:"gross_value"`
	FeePercentage          decimal.Decimal   `json:"fee_percentage"`
	FeeFixedAmount         decimal.Decimal   `json:"fee_fixed_amount"`
	NetValue               decimal.Decimal   `json:"net_value"`
	Modality               Modality          `json:"modality"`
	ScheduledReleaseDate   time.Time         `json:"scheduled_release_date"`
	AnticipatedReleaseDate *time.Time        `json:"anticipated_release_date,omitempty"`
	Anticipated            bool              `json:"anticipated"`
	Blocked                bool              `json:"blocked"`
	BlockReason            *string           `json:"block_reason,omitempty"`
	Status                 TransactionStatus `json:"status"`
	PayoutID               *uuid.UUID        `json:"payout_id,omitempty"`
	CreatedAt              time.Time         `json:"created_at"`
	UpdatedAt              time.Time         `json:"updated_at"`
}

// Payout is a persisted batch of released transactions grouped per seller and
// marked as paid together. Maps to the `payouts` table.
type Payout struct {
	ID               uuid.UUID       `json:"id"`
	SellerID         uuid.UUID       `json:"seller_id"`
	TotalValue       decimal.Decimal `json:"total_value"`
	TransactionCount int             `json:"transaction_count"`
	TransactionIDs   []uuid.UUID     `json:"transaction_ids"`
	Notes            *string         `json:"notes,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// VirtualPayout is a display-only grouping of released-but-unbatched
// transactions. It is never persisted; its synthetic id pattern distinguishes
// it from real payouts so mutation endpoints can reject it.
type VirtualPayout struct {
	ID               string          `json:"id"`
	SellerID         uuid.UUID       `json:"seller_id"`
	TotalValue       decimal.Decimal `json:"total_value"`
	TransactionCount int             `json:"transaction_count"`
	TransactionIDs   []uuid.UUID     `json:"transaction_ids"`
}

const virtualPayoutIDPrefix = "virtual-"

// VirtualPayoutID builds the synthetic id for a seller's virtual grouping.
func VirtualPayoutID(sellerID uuid.UUID) string {
	return virtualPayoutIDPrefix + sellerID.String()
}

// IsVirtualPayoutID reports whether an id string follows the synthetic
// virtual-payout pattern.
func IsVirtualPayoutID(id string) bool {
	return strings.HasPrefix(strings.TrimSpace(id), virtualPayoutIDPrefix)
}

// ComputeNetValue applies the fee snapshot to a gross order value:
// net = gross - (gross * percentage/100 + fixed), rounded to 2 decimal places.
func ComputeNetValue(gross, percentage, fixedAmount decimal.Decimal) decimal.Decimal {
	percentageFee := gross.Mul(percentage).Div(decimal.NewFromInt(100))
	return gross.Sub(percentageFee).Sub(fixedAmount).Round(2)
}

// DateOnlyUTC truncates a timestamp to midnight UTC. Release scheduling works
// on whole days.
func DateOnlyUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// EffectiveReleaseDate resolves the date that governs release eligibility:
// the anticipated date when an anticipation override is active, otherwise the
// originally scheduled date. Every eligibility check in the service goes
// through this function.
func EffectiveReleaseDate(tx *Transaction) time.Time {
	if tx.Anticipated && tx.AnticipatedReleaseDate != nil {
		return *tx.AnticipatedReleaseDate
	}
	return tx.ScheduledReleaseDate
}

// ReleasableAt reports whether a transaction is eligible for automatic release
// at the given instant: pending, unblocked, and past its effective date.
func ReleasableAt(tx *Transaction, now time.Time) bool {
	if tx.Status != StatusPending || tx.Blocked {
		return false
	}
	return !EffectiveReleaseDate(tx).After(DateOnlyUTC(now))
}

// TransactionFilter narrows seller ledger listings. Nil fields are ignored.
type TransactionFilter struct {
	Status   *TransactionStatus
	Modality *Modality
	From     *time.Time
	To       *time.Time
}

// LedgerSummary carries on-demand aggregates for a seller's ledger, computed
// from the transactions table at read time and never cached.
type LedgerSummary struct {
	SellerID      uuid.UUID       `json:"seller_id"`
	PendingCount  int64           `json:"pending_count"`
	ReleasedCount int64           `json:"released_count"`
	PaidCount     int64           `json:"paid_count"`
	BlockedCount  int64           `json:"blocked_count"`
	PendingNet    decimal.Decimal `json:"pending_net"`
	ReleasedNet   decimal.Decimal `json:"released_net"`
	PaidNet       decimal.Decimal `json:"paid_net"`
}

// CreateOrderSettlementRequest is the DTO consumed from order placement, via
// the internal HTTP endpoint or the order-events queue.
type CreateOrderSettlementRequest struct {
	OrderID    uuid.UUID       `json:"order_id"`
	SellerID   uuid.UUID       `json:"seller_id"`
	GrossValue decimal.Decimal `json:"gross_value"`
	Modality   string          `json:"modality"`
}

// Validate performs structural validation on an order settlement request.
func (r CreateOrderSettlementRequest) Validate() error {
	if r.OrderID == uuid.Nil {
		return fmt.Errorf("order_id is required")
	}
	if r.SellerID == uuid.Nil {
		return fmt.Errorf("seller_id is required")
	}
	if r.GrossValue.Sign() <= 0 {
		return fmt.Errorf("gross_value must be positive")
	}
	if _, ok := ParseModality(r.Modality); !ok {
		return fmt.Errorf("unknown modality %q", r.Modality)
	}
	return nil
}

// AnticipationMode selects how an anticipation override picks its date.
type AnticipationMode string

const (
	AnticipateToday  AnticipationMode = "today"
	AnticipateCustom AnticipationMode = "custom"
)

// CreatePayoutRequest is the DTO for batching released transactions into payouts.
// SellerID is optional: when absent, the service partitions the selection by
// seller and produces one payout per seller.
type CreatePayoutRequest struct {
	SellerID       *uuid.UUID  `json:"seller_id,omitempty"`
	TransactionIDs []uuid.UUID `json:"transaction_ids"`
	Notes          *string     `json:"notes,omitempty"`
}
