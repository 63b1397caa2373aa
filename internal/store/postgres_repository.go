/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables
 * related to fee schedules, settlement transactions, and payouts.
 *
 * Every lifecycle mutation is a guarded conditional UPDATE keyed on the row's
 * current state (or a SELECT ... FOR UPDATE inside a transaction), so two
 * concurrent callers can never both succeed in moving the same transaction
 * through conflicting transitions.
 *
 * @dependencies
 * - context, errors, fmt, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/marketvine/settlement-service/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	ErrTransactionNotFound       = errors.New("settlement transaction not found")
	ErrPayoutNotFound            = errors.New("payout not found")
	ErrFeeScheduleNotConfigured  = errors.New("fee schedule not configured for modality")
	ErrTransactionStateConflict  = errors.New("settlement transaction state conflict")
	ErrPayoutMemberStateConflict = errors.New("payout member is not in a payable state")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const transactionColumns = `
	id, order_id, seller_id, gross_value, fee_percentage, fee_fixed_amount, net_value,
	modality, scheduled_release_date, anticipated_release_date, anticipated,
	blocked, block_reason, status, payout_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	err := row.Scan(
		&tx.ID, &tx.OrderID, &tx.SellerID, &tx.GrossValue, &tx.FeePercentage,
		&tx.FeeFixedAmount, &tx.NetValue, &tx.Modality, &tx.ScheduledReleaseDate,
		&tx.AnticipatedReleaseDate, &tx.Anticipated, &tx.Blocked, &tx.BlockReason,
		&tx.Status, &tx.PayoutID, &tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// GetDefaultFeeSchedule returns the current platform default fee for a modality.
func (r *PostgresRepository) GetDefaultFeeSchedule(ctx context.Context, modality domain.Modality) (*domain.FeeSchedule, error) {
	var schedule domain.FeeSchedule
	query := `SELECT modality, percentage, fixed_amount, updated_at FROM fee_schedules WHERE modality = $1`
	err := r.db.QueryRow(ctx, query, string(modality)).Scan(
		&schedule.Modality, &schedule.Percentage, &schedule.FixedAmount, &schedule.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrFeeScheduleNotConfigured
		}
		return nil, err
	}
	return &schedule, nil
}

// SeedDefaultFeeSchedule inserts a fee schedule for a modality if none exists yet.
// An already-seeded modality is left untouched; bulk update is the only mutation path.
func (r *PostgresRepository) SeedDefaultFeeSchedule(ctx context.Context, schedule domain.FeeSchedule) error {
	query := `
		INSERT INTO fee_schedules (modality, percentage, fixed_amount, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (modality) DO NOTHING
	`
	_, err := r.db.Exec(ctx, query, string(schedule.Modality), schedule.Percentage, schedule.FixedAmount)
	return err
}

// BulkUpdateFeeSchedule rewrites the platform default and every seller-level fee
// row for a modality in one database transaction. It returns the number of
// seller-level rows touched. Existing settlement transactions keep their fee
// snapshot and are never affected.
func (r *PostgresRepository) BulkUpdateFeeSchedule(ctx context.Context, modality domain.Modality, percentage, fixedAmount decimal.Decimal) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	defaultQuery := `
		INSERT INTO fee_schedules (modality, percentage, fixed_amount, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (modality) DO UPDATE
		SET percentage = EXCLUDED.percentage, fixed_amount = EXCLUDED.fixed_amount, updated_at = NOW()
	`
	if _, err := tx.Exec(ctx, defaultQuery, string(modality), percentage, fixedAmount); err != nil {
		return 0, fmt.Errorf("failed to update default fee schedule: %w", err)
	}

	sellerQuery := `
		UPDATE seller_fee_schedules
		SET percentage = $2, fixed_amount = $3, updated_at = NOW()
		WHERE modality = $1
	`
	result, err := tx.Exec(ctx, sellerQuery, string(modality), percentage, fixedAmount)
	if err != nil {
		return 0, fmt.Errorf("failed to update seller fee schedules: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

// CreateTransactionForOrder inserts the ledger record for an order. The unique
// constraint on order_id makes this idempotent under concurrent retries: when a
// record already exists, the existing one is returned unchanged and the bool
// result is false.
func (r *PostgresRepository) CreateTransactionForOrder(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, bool, error) {
	query := `
		INSERT INTO settlement_transactions (
			id, order_id, seller_id, gross_value, fee_percentage, fee_fixed_amount,
			net_value, modality, scheduled_release_date, status, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'pending', NOW(), NOW())
		ON CONFLICT (order_id) DO NOTHING
		RETURNING ` + transactionColumns
	created, err := scanTransaction(r.db.QueryRow(ctx, query,
		tx.ID, tx.OrderID, tx.SellerID, tx.GrossValue, tx.FeePercentage,
		tx.FeeFixedAmount, tx.NetValue, string(tx.Modality), tx.ScheduledReleaseDate,
	))
	if err == nil {
		return created, true, nil
	}
	if err != pgx.ErrNoRows {
		return nil, false, err
	}

	// Conflict path: another caller won the insert. Return the existing record.
	existing, err := r.findTransactionByOrderID(ctx, tx.OrderID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *PostgresRepository) findTransactionByOrderID(ctx context.Context, orderID uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM settlement_transactions WHERE order_id = $1`
	tx, err := scanTransaction(r.db.QueryRow(ctx, query, orderID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return tx, nil
}

// FindTransactionByID retrieves a single settlement transaction.
func (r *PostgresRepository) FindTransactionByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM settlement_transactions WHERE id = $1`
	tx, err := scanTransaction(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return tx, nil
}

// FindTransactionsBySeller lists a seller's ledger, newest first, applying any
// status, modality, and creation date-range filters.
func (r *PostgresRepository) FindTransactionsBySeller(ctx context.Context, sellerID uuid.UUID, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM settlement_transactions WHERE seller_id = $1`
	args := []any{sellerID}

	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Modality != nil {
		args = append(args, string(*filter.Modality))
		query += fmt.Sprintf(" AND modality = $%d", len(args))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *tx)
	}
	return transactions, rows.Err()
}

// GetSellerLedgerSummary computes per-status counts and net totals for a seller
// directly from the ledger. Nothing is cached.
func (r *PostgresRepository) GetSellerLedgerSummary(ctx context.Context, sellerID uuid.UUID) (*domain.LedgerSummary, error) {
	summary := domain.LedgerSummary{SellerID: sellerID}
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'released'),
			COUNT(*) FILTER (WHERE status = 'paid'),
			COUNT(*) FILTER (WHERE blocked),
			COALESCE(SUM(net_value) FILTER (WHERE status = 'pending'), 0),
			COALESCE(SUM(net_value) FILTER (WHERE status = 'released'), 0),
			COALESCE(SUM(net_value) FILTER (WHERE status = 'paid'), 0)
		FROM settlement_transactions
		WHERE seller_id = $1
	`
	err := r.db.QueryRow(ctx, query, sellerID).Scan(
		&summary.PendingCount, &summary.ReleasedCount, &summary.PaidCount, &summary.BlockedCount,
		&summary.PendingNet, &summary.ReleasedNet, &summary.PaidNet,
	)
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

// ReleaseDueTransactions flips every pending, unblocked transaction whose
// effective release date has arrived to 'released' in a single guarded UPDATE.
// Safe to run repeatedly and concurrently: rows already released or paid never
// match the guard.
func (r *PostgresRepository) ReleaseDueTransactions(ctx context.Context, now time.Time) ([]domain.Transaction, error) {
	query := `
		UPDATE settlement_transactions
		SET status = 'released', updated_at = NOW()
		WHERE status = 'pending'
		  AND blocked = FALSE
		  AND (CASE WHEN anticipated THEN anticipated_release_date ELSE scheduled_release_date END) <= $1
		RETURNING ` + transactionColumns
	rows, err := r.db.Query(ctx, query, domain.DateOnlyUTC(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var released []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		released = append(released, *tx)
	}
	return released, rows.Err()
}

// ReleaseTransactionIfDue applies the sweep guard to one transaction. It
// returns true when this call performed the pending -> released flip.
func (r *PostgresRepository) ReleaseTransactionIfDue(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	query := `
		UPDATE settlement_transactions
		SET status = 'released', updated_at = NOW()
		WHERE id = $1
		  AND status = 'pending'
		  AND blocked = FALSE
		  AND (CASE WHEN anticipated THEN anticipated_release_date ELSE scheduled_release_date END) <= $2
	`
	result, err := r.db.Exec(ctx, query, id, domain.DateOnlyUTC(now))
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

// guardedUpdate runs a conditional single-row UPDATE ... RETURNING. When the
// guard does not match, it distinguishes a missing row from a state conflict.
func (r *PostgresRepository) guardedUpdate(ctx context.Context, id uuid.UUID, query string, args ...any) (*domain.Transaction, error) {
	tx, err := scanTransaction(r.db.QueryRow(ctx, query, args...))
	if err == nil {
		return tx, nil
	}
	if err != pgx.ErrNoRows {
		return nil, err
	}
	if _, lookupErr := r.FindTransactionByID(ctx, id); lookupErr != nil {
		return nil, lookupErr
	}
	return nil, ErrTransactionStateConflict
}

// BlockTransaction sets the block flag on a pending or released, not yet
// blocked transaction.
func (r *PostgresRepository) BlockTransaction(ctx context.Context, id uuid.UUID, reason string) (*domain.Transaction, error) {
	query := `
		UPDATE settlement_transactions
		SET blocked = TRUE, block_reason = $2, updated_at = NOW()
		WHERE id = $1 AND blocked = FALSE AND status IN ('pending', 'released')
		RETURNING ` + transactionColumns
	return r.guardedUpdate(ctx, id, query, id, reason)
}

// UnblockTransaction clears the block flag and reason. Status and dates are untouched.
func (r *PostgresRepository) UnblockTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := `
		UPDATE settlement_transactions
		SET blocked = FALSE, block_reason = NULL, updated_at = NOW()
		WHERE id = $1 AND blocked = TRUE
		RETURNING ` + transactionColumns
	return r.guardedUpdate(ctx, id, query, id)
}

// AnticipateTransaction records an anticipation override on a not-yet-paid
// transaction. Whether the new date triggers an immediate release is decided
// by the caller via ReleaseTransactionIfDue.
func (r *PostgresRepository) AnticipateTransaction(ctx context.Context, id uuid.UUID, releaseDate time.Time) (*domain.Transaction, error) {
	query := `
		UPDATE settlement_transactions
		SET anticipated = TRUE, anticipated_release_date = $2, updated_at = NOW()
		WHERE id = $1 AND status <> 'paid'
		RETURNING ` + transactionColumns
	return r.guardedUpdate(ctx, id, query, id, domain.DateOnlyUTC(releaseDate))
}

// RevertTransactionAnticipation clears an anticipation override so the
// transaction is governed by its original scheduled date again. Status is
// never changed: reverting only affects future scheduling.
func (r *PostgresRepository) RevertTransactionAnticipation(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := `
		UPDATE settlement_transactions
		SET anticipated = FALSE, anticipated_release_date = NULL, updated_at = NOW()
		WHERE id = $1 AND anticipated = TRUE AND status <> 'paid'
		RETURNING ` + transactionColumns
	return r.guardedUpdate(ctx, id, query, id)
}

// CreatePayoutWithMembers persists a payout and flips its member transactions
// to 'paid' as one atomic unit. Member rows are locked and revalidated inside
// the transaction, so a concurrent block or competing payout cannot slip in
// between validation and the flip.
func (r *PostgresRepository) CreatePayoutWithMembers(ctx context.Context, payout *domain.Payout, memberIDs []uuid.UUID) (*domain.Payout, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	lockQuery := `
		SELECT id, seller_id, net_value, status, blocked, payout_id
		FROM settlement_transactions
		WHERE id = ANY($1)
		FOR UPDATE
	`
	rows, err := tx.Query(ctx, lockQuery, memberIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to lock payout members: %w", err)
	}

	total := decimal.Zero
	seen := make(map[uuid.UUID]bool, len(memberIDs))
	for rows.Next() {
		var (
			memberID uuid.UUID
			sellerID uuid.UUID
			netValue decimal.Decimal
			status   string
			blocked  bool
			payoutID *uuid.UUID
		)
		if err := rows.Scan(&memberID, &sellerID, &netValue, &status, &blocked, &payoutID); err != nil {
			rows.Close()
			return nil, err
		}
		if sellerID != payout.SellerID || status != string(domain.StatusReleased) || blocked || payoutID != nil {
			rows.Close()
			return nil, ErrPayoutMemberStateConflict
		}
		seen[memberID] = true
		total = total.Add(netValue)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(seen) != len(memberIDs) {
		return nil, ErrTransactionNotFound
	}

	insertQuery := `
		INSERT INTO payouts (id, seller_id, total_value, transaction_count, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING created_at
	`
	err = tx.QueryRow(ctx, insertQuery,
		payout.ID, payout.SellerID, total, len(memberIDs), payout.Notes,
	).Scan(&payout.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert payout: %w", err)
	}

	flipQuery := `
		UPDATE settlement_transactions
		SET status = 'paid', payout_id = $1, updated_at = NOW()
		WHERE id = ANY($2)
	`
	result, err := tx.Exec(ctx, flipQuery, payout.ID, memberIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to mark payout members paid: %w", err)
	}
	if result.RowsAffected() != int64(len(memberIDs)) {
		return nil, ErrPayoutMemberStateConflict
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	payout.TotalValue = total
	payout.TransactionCount = len(memberIDs)
	payout.TransactionIDs = memberIDs
	return payout, nil
}

// DeletePayout reverts every member transaction to 'released' with no payout
// reference and removes the payout record, all in one database transaction.
// It returns the number of reverted transactions.
func (r *PostgresRepository) DeletePayout(ctx context.Context, id uuid.UUID) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var sellerID uuid.UUID
	err = tx.QueryRow(ctx, `SELECT seller_id FROM payouts WHERE id = $1 FOR UPDATE`, id).Scan(&sellerID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, ErrPayoutNotFound
		}
		return 0, err
	}

	revertQuery := `
		UPDATE settlement_transactions
		SET status = 'released', payout_id = NULL, updated_at = NOW()
		WHERE payout_id = $1 AND status = 'paid'
	`
	result, err := tx.Exec(ctx, revertQuery, id)
	if err != nil {
		return 0, fmt.Errorf("failed to revert payout members: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM payouts WHERE id = $1`, id); err != nil {
		return 0, fmt.Errorf("failed to delete payout: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

// FindPayoutByID retrieves a payout together with its member transaction ids.
func (r *PostgresRepository) FindPayoutByID(ctx context.Context, id uuid.UUID) (*domain.Payout, error) {
	var payout domain.Payout
	query := `SELECT id, seller_id, total_value, transaction_count, notes, created_at FROM payouts WHERE id = $1`
	err := r.db.QueryRow(ctx, query, id).Scan(
		&payout.ID, &payout.SellerID, &payout.TotalValue, &payout.TransactionCount,
		&payout.Notes, &payout.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPayoutNotFound
		}
		return nil, err
	}

	memberQuery := `SELECT id FROM settlement_transactions WHERE payout_id = $1 ORDER BY created_at`
	rows, err := r.db.Query(ctx, memberQuery, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var memberID uuid.UUID
		if err := rows.Scan(&memberID); err != nil {
			return nil, err
		}
		payout.TransactionIDs = append(payout.TransactionIDs, memberID)
	}
	return &payout, rows.Err()
}

const pendingForPayoutCondition = `status = 'released' AND blocked = FALSE AND payout_id IS NULL`

// FindPendingForPayout returns a seller's candidate pool for payout creation:
// released, unblocked, unbatched transactions.
func (r *PostgresRepository) FindPendingForPayout(ctx context.Context, sellerID uuid.UUID) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM settlement_transactions
		WHERE seller_id = $1 AND ` + pendingForPayoutCondition + `
		ORDER BY created_at`
	rows, err := r.db.Query(ctx, query, sellerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// FindAllPendingForPayout returns the candidate pool across all sellers,
// ordered so the virtual grouping view can partition it per seller.
func (r *PostgresRepository) FindAllPendingForPayout(ctx context.Context) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM settlement_transactions
		WHERE ` + pendingForPayoutCondition + `
		ORDER BY seller_id, created_at`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func collectTransactions(rows pgx.Rows) ([]domain.Transaction, error) {
	var transactions []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *tx)
	}
	return transactions, rows.Err()
}
