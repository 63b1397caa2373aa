/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the settlement-service. By defining an interface,
 * we decouple the application's business logic from the specific database implementation
 * (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - github.com/shopspring/decimal: For monetary values.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/marketvine/settlement-service/internal/domain"
	"github.com/shopspring/decimal"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Fee schedule methods
	GetDefaultFeeSchedule(ctx context.Context, modality domain.Modality) (*domain.FeeSchedule, error)
	SeedDefaultFeeSchedule(ctx context.Context, schedule domain.FeeSchedule) error
	BulkUpdateFeeSchedule(ctx context.Context, modality domain.Modality, percentage, fixedAmount decimal.Decimal) (int64, error)

	// Ledger methods
	CreateTransactionForOrder(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, bool, error)
	FindTransactionByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	FindTransactionsBySeller(ctx context.Context, sellerID uuid.UUID, filter domain.TransactionFilter) ([]domain.Transaction, error)
	GetSellerLedgerSummary(ctx context.Context, sellerID uuid.UUID) (*domain.LedgerSummary, error)

	// Release methods
	ReleaseDueTransactions(ctx context.Context, now time.Time) ([]domain.Transaction, error)
	ReleaseTransactionIfDue(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)

	// Override methods (guarded conditional updates)
	BlockTransaction(ctx context.Context, id uuid.UUID, reason string) (*domain.Transaction, error)
	UnblockTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	AnticipateTransaction(ctx context.Context, id uuid.UUID, releaseDate time.Time) (*domain.Transaction, error)
	RevertTransactionAnticipation(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)

	// Payout methods
	CreatePayoutWithMembers(ctx context.Context, payout *domain.Payout, memberIDs []uuid.UUID) (*domain.Payout, error)
	DeletePayout(ctx context.Context, id uuid.UUID) (int64, error)
	FindPayoutByID(ctx context.Context, id uuid.UUID) (*domain.Payout, error)
	FindPendingForPayout(ctx context.Context, sellerID uuid.UUID) ([]domain.Transaction, error)
	FindAllPendingForPayout(ctx context.Context) ([]domain.Transaction, error)
}
