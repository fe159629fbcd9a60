/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the apartment-payment-service. By defining an
 * interface, we decouple the reconciliation logic from the specific database
 * implementation (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * The three *IfPending / *IfCompleted methods are the idempotency linchpin:
 * each performs its status check and update as one atomic unit, so two
 * concurrent callbacks for the same transaction can never both observe PENDING
 * and both win.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/trngnhan/apartment-payment-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Apartment methods
	// Resolve the apartment owned by a resident; transactions are billed per apartment.
	FindApartmentIDByOwner(ctx context.Context, residentID uuid.UUID) (uuid.UUID, error)

	// Fee category methods
	CreateFeeCategory(ctx context.Context, category *domain.FeeCategory) error
	UpdateFeeCategory(ctx context.Context, category *domain.FeeCategory) error
	FindFeeCategoryByID(ctx context.Context, categoryID uuid.UUID) (*domain.FeeCategory, error)
	ListFeeCategories(ctx context.Context, activeOnly bool) ([]domain.FeeCategory, error)

	// Transaction methods
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error)
	FindTransactionByIDAndOwner(ctx context.Context, transactionID uuid.UUID, residentID uuid.UUID) (*domain.Transaction, error)
	ListTransactionsByOwner(ctx context.Context, residentID uuid.UUID, opts domain.TransactionListOptions) ([]domain.Transaction, error)

	// Atomic conditional transitions. Each returns (false, nil) when the row
	// exists but is no longer in the expected state, and ErrTransactionNotFound
	// when no row exists for the id.
	CompleteTransactionIfPending(ctx context.Context, transactionID uuid.UUID, gatewayTxnRef string, paidAt time.Time) (bool, error)
	FailTransactionIfPending(ctx context.Context, transactionID uuid.UUID, gatewayTxnRef string) (bool, error)
	RefundTransactionIfCompleted(ctx context.Context, transactionID uuid.UUID) (bool, error)

	// OverrideTransactionStatus is the unconditional admin escape hatch. It
	// bypasses the terminal-state guard and is never called from the callback paths.
	OverrideTransactionStatus(ctx context.Context, transactionID uuid.UUID, status string) error
}
