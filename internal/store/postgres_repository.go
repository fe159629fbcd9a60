/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables
 * related to apartments, fee categories, and payment transactions.
 *
 * The conditional-transition methods rely on single-statement UPDATEs with a
 * status predicate: Postgres row-level locking makes the read-check-write
 * atomic, which is what keeps duplicate callback delivery safe across multiple
 * service instances.
 *
 * @dependencies
 * - context, time, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/trngnhan/apartment-payment-service/internal/domain"
)

var (
	ErrApartmentNotFound   = errors.New("apartment not found")
	ErrCategoryNotFound    = errors.New("fee category not found")
	ErrTransactionNotFound = errors.New("transaction not found")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindApartmentIDByOwner resolves the apartment owned by a resident.
func (r *PostgresRepository) FindApartmentIDByOwner(ctx context.Context, residentID uuid.UUID) (uuid.UUID, error) {
	var id uuid.UUID
	query := `SELECT id FROM apartments WHERE owner_id = $1 AND active = TRUE ORDER BY created_at LIMIT 1`
	err := r.db.QueryRow(ctx, query, residentID).Scan(&id)
	if err != nil {
		if err == pgx.ErrNoRows {
			return uuid.Nil, ErrApartmentNotFound
		}
		return uuid.Nil, err
	}
	return id, nil
}

// CreateFeeCategory inserts a new fee category. TotalAmount is expected to be
// computed by the caller before the save.
func (r *PostgresRepository) CreateFeeCategory(ctx context.Context, category *domain.FeeCategory) error {
	query := `
		INSERT INTO fee_categories
			(id, name, amount, tax_percentage, total_amount, is_recurring, frequency,
			 category_type, description, grace_period, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, TRUE, NOW(), NOW())
		RETURNING active, created_at, updated_at
	`
	return r.db.QueryRow(ctx, query,
		category.ID, category.Name, category.Amount, category.TaxPercentage,
		category.TotalAmount, category.IsRecurring, category.Frequency,
		category.CategoryType, category.Description, category.GracePeriod,
	).Scan(&category.Active, &category.CreatedAt, &category.UpdatedAt)
}

// UpdateFeeCategory rewrites a fee category, including its cached total.
func (r *PostgresRepository) UpdateFeeCategory(ctx context.Context, category *domain.FeeCategory) error {
	query := `
		UPDATE fee_categories
		SET name = $2, amount = $3, tax_percentage = $4, total_amount = $5,
		    is_recurring = $6, frequency = $7, category_type = $8,
		    description = $9, grace_period = $10, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.Exec(ctx, query,
		category.ID, category.Name, category.Amount, category.TaxPercentage,
		category.TotalAmount, category.IsRecurring, category.Frequency,
		category.CategoryType, category.Description, category.GracePeriod,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrCategoryNotFound
	}
	return nil
}

// FindFeeCategoryByID retrieves a single active fee category.
func (r *PostgresRepository) FindFeeCategoryByID(ctx context.Context, categoryID uuid.UUID) (*domain.FeeCategory, error) {
	var c domain.FeeCategory
	query := `
		SELECT id, name, amount, tax_percentage, total_amount, is_recurring, frequency,
		       category_type, description, grace_period, active, created_at, updated_at
		FROM fee_categories
		WHERE id = $1 AND active = TRUE
	`
	err := r.db.QueryRow(ctx, query, categoryID).Scan(
		&c.ID, &c.Name, &c.Amount, &c.TaxPercentage, &c.TotalAmount, &c.IsRecurring,
		&c.Frequency, &c.CategoryType, &c.Description, &c.GracePeriod,
		&c.Active, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrCategoryNotFound
		}
		return nil, err
	}
	return &c, nil
}

// ListFeeCategories returns fee categories, newest first.
func (r *PostgresRepository) ListFeeCategories(ctx context.Context, activeOnly bool) ([]domain.FeeCategory, error) {
	query := `
		SELECT id, name, amount, tax_percentage, total_amount, is_recurring, frequency,
		       category_type, description, grace_period, active, created_at, updated_at
		FROM fee_categories
		WHERE ($1 = FALSE OR active = TRUE)
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []domain.FeeCategory
	for rows.Next() {
		var c domain.FeeCategory
		err := rows.Scan(
			&c.ID, &c.Name, &c.Amount, &c.TaxPercentage, &c.TotalAmount, &c.IsRecurring,
			&c.Frequency, &c.CategoryType, &c.Description, &c.GracePeriod,
			&c.Active, &c.CreatedAt, &c.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// CreateTransaction inserts a new PENDING transaction. Transactions are never
// deleted afterwards; the active flag is the only soft-removal mechanism.
func (r *PostgresRepository) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO payment_transactions
			(id, apartment_id, category_id, amount, method, status, transaction_fee,
			 active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, NOW(), NOW())
		RETURNING active, created_at, updated_at
	`
	return r.db.QueryRow(ctx, query,
		tx.ID, tx.ApartmentID, tx.CategoryID, tx.Amount, tx.Method, tx.Status, tx.TransactionFee,
	).Scan(&tx.Active, &tx.CreatedAt, &tx.UpdatedAt)
}

const transactionColumns = `
	id, apartment_id, category_id, amount, method, gateway_txn_ref, status,
	paid_date, transaction_fee, active, created_at, updated_at
`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var tx domain.Transaction
	err := row.Scan(
		&tx.ID, &tx.ApartmentID, &tx.CategoryID, &tx.Amount, &tx.Method,
		&tx.GatewayTxnRef, &tx.Status, &tx.PaidDate, &tx.TransactionFee,
		&tx.Active, &tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &tx, nil
}

// FindTransactionByID retrieves a transaction by its local id.
func (r *PostgresRepository) FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM payment_transactions WHERE id = $1`
	return scanTransaction(r.db.QueryRow(ctx, query, transactionID))
}

// FindTransactionByIDAndOwner retrieves a transaction scoped to the resident
// who owns the billed apartment.
func (r *PostgresRepository) FindTransactionByIDAndOwner(ctx context.Context, transactionID uuid.UUID, residentID uuid.UUID) (*domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM payment_transactions
		WHERE id = $1
		  AND apartment_id IN (SELECT id FROM apartments WHERE owner_id = $2)
	`
	return scanTransaction(r.db.QueryRow(ctx, query, transactionID, residentID))
}

// ListTransactionsByOwner returns a resident's transaction history, newest first.
func (r *PostgresRepository) ListTransactionsByOwner(ctx context.Context, residentID uuid.UUID, opts domain.TransactionListOptions) ([]domain.Transaction, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT ` + transactionColumns + `
		FROM payment_transactions
		WHERE apartment_id IN (SELECT id FROM apartments WHERE owner_id = $1)
		  AND active = TRUE
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.db.Query(ctx, query, residentID, opts.Status, limit, offset)
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

// CompleteTransactionIfPending moves a PENDING transaction to COMPLETED,
// recording the gateway reference and the paid timestamp. The status predicate
// and the update execute as one statement, so only one caller can win.
func (r *PostgresRepository) CompleteTransactionIfPending(ctx context.Context, transactionID uuid.UUID, gatewayTxnRef string, paidAt time.Time) (bool, error) {
	query := `
		UPDATE payment_transactions
		SET status = $2, gateway_txn_ref = $3, paid_date = $4, updated_at = NOW()
		WHERE id = $1 AND status = $5
	`
	result, err := r.db.Exec(ctx, query, transactionID, domain.StatusCompleted, gatewayTxnRef, paidAt, domain.StatusPending)
	if err != nil {
		return false, err
	}
	if result.RowsAffected() > 0 {
		return true, nil
	}
	return false, r.checkTransactionExists(ctx, transactionID)
}

// FailTransactionIfPending moves a PENDING transaction to FAILED, storing the
// gateway reference. The paid timestamp stays unset.
func (r *PostgresRepository) FailTransactionIfPending(ctx context.Context, transactionID uuid.UUID, gatewayTxnRef string) (bool, error) {
	query := `
		UPDATE payment_transactions
		SET status = $2, gateway_txn_ref = NULLIF($3, ''), updated_at = NOW()
		WHERE id = $1 AND status = $4
	`
	result, err := r.db.Exec(ctx, query, transactionID, domain.StatusFailed, gatewayTxnRef, domain.StatusPending)
	if err != nil {
		return false, err
	}
	if result.RowsAffected() > 0 {
		return true, nil
	}
	return false, r.checkTransactionExists(ctx, transactionID)
}

// RefundTransactionIfCompleted moves a COMPLETED transaction to REFUNDED. Only
// the admin refund flow calls this; callbacks can never reach REFUNDED.
func (r *PostgresRepository) RefundTransactionIfCompleted(ctx context.Context, transactionID uuid.UUID) (bool, error) {
	query := `
		UPDATE payment_transactions
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`
	result, err := r.db.Exec(ctx, query, transactionID, domain.StatusRefunded, domain.StatusCompleted)
	if err != nil {
		return false, err
	}
	if result.RowsAffected() > 0 {
		return true, nil
	}
	return false, r.checkTransactionExists(ctx, transactionID)
}

// OverrideTransactionStatus sets a status unconditionally. Admin-only.
func (r *PostgresRepository) OverrideTransactionStatus(ctx context.Context, transactionID uuid.UUID, status string) error {
	query := `UPDATE payment_transactions SET status = $2, updated_at = NOW() WHERE id = $1`
	result, err := r.db.Exec(ctx, query, transactionID, status)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// checkTransactionExists distinguishes "row in another state" (nil) from "no
// such row" (ErrTransactionNotFound) after a conditional update matched
// nothing. Rows are never deleted and terminal statuses never revert, so this
// follow-up read cannot race the original predicate.
func (r *PostgresRepository) checkTransactionExists(ctx context.Context, transactionID uuid.UUID) error {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payment_transactions WHERE id = $1)`, transactionID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return ErrTransactionNotFound
	}
	return nil
}
