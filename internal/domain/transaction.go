/**
 * @description
 * This file defines the core domain models for the apartment-payment-service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Amounts are stored as `int64` whole VND (the gateway's currency has no
 *   subunit); the VNPay wire format transmits amounts multiplied by 100.
 * - Transaction status is a closed set: PENDING is the only non-terminal state.
 *   COMPLETED and FAILED are reached exclusively through the callback
 *   reconciliation; REFUNDED only through an explicit admin action.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Transaction statuses. PENDING is the only state the reconciliation state
// machine will transition away from.
const (
	StatusPending   = "PENDING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
	StatusRefunded  = "REFUNDED"
)

// Payment methods accepted by the platform.
const (
	MethodVNPay = "VNPAY"
	MethodMoMo  = "MOMO"
)

// IsTerminalStatus reports whether callbacks may no longer mutate a transaction.
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

// IsValidStatus reports whether status is one of the four known transaction states.
func IsValidStatus(status string) bool {
	return status == StatusPending || IsTerminalStatus(status)
}

// Transaction is the unit of reconciliation: one fee payment attempt by one
// apartment. Its id doubles as the gateway reference (vnp_TxnRef).
type Transaction struct {
	ID             uuid.UUID  `json:"id"`
	ApartmentID    uuid.UUID  `json:"apartment_id"`
	CategoryID     uuid.UUID  `json:"category_id"`
	Amount         int64      `json:"amount"` // whole VND
	Method         string     `json:"method"`
	GatewayTxnRef  *string    `json:"gateway_txn_ref,omitempty"` // vnp_TransactionNo, set on confirmation
	Status         string     `json:"status"`
	PaidDate       *time.Time `json:"paid_date,omitempty"`
	TransactionFee int64      `json:"transaction_fee"`
	Active         bool       `json:"active"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// FeeCategory is a read-only input to transaction creation. TotalAmount is
// computed and cached when the category is saved, not at transaction time.
type FeeCategory struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Amount        int64     `json:"amount"` // whole VND, pre-tax
	TaxPercentage float64   `json:"tax_percentage"`
	TotalAmount   int64     `json:"total_amount"` // amount * (1 + tax/100), round half up
	IsRecurring   bool      `json:"is_recurring"`
	Frequency     string    `json:"frequency"`     // ONE_TIME, MONTHLY, QUARTERLY, YEARLY
	CategoryType  string    `json:"category_type"` // MAINTENANCE, UTILITY, SERVICE
	Description   *string   `json:"description,omitempty"`
	GracePeriod   int       `json:"grace_period"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// SaveFeeCategoryPayload is the DTO for creating or updating a fee category.
type SaveFeeCategoryPayload struct {
	Name          string  `json:"name"`
	Amount        int64   `json:"amount"`
	TaxPercentage float64 `json:"tax_percentage"`
	IsRecurring   bool    `json:"is_recurring"`
	Frequency     string  `json:"frequency"`
	CategoryType  string  `json:"category_type"`
	Description   *string `json:"description,omitempty"`
	GracePeriod   int     `json:"grace_period"`
}

// CallbackEvent is the ephemeral inbound parameter set from either callback
// channel (synchronous browser return or asynchronous IPN). Two instances may
// describe the same real-world payment and must reconcile idempotently.
type CallbackEvent struct {
	// Params holds every gateway field as received, including the signature
	// fields; the verifier strips those before re-deriving the digest.
	Params map[string]string
	// Channel identifies the delivery path, for logging only. The state
	// machine treats both channels identically.
	Channel string
}

// Callback delivery channels.
const (
	ChannelReturn = "return"
	ChannelIPN    = "ipn"
)

// Well-known VNPay callback field names used by the state machine.
const (
	FieldTxnRef        = "vnp_TxnRef"
	FieldAmount        = "vnp_Amount"
	FieldResponseCode  = "vnp_ResponseCode"
	FieldTransactionNo = "vnp_TransactionNo"
	FieldPayDate       = "vnp_PayDate"
	FieldSecureHash    = "vnp_SecureHash"
)

// CreatePaymentResponse is returned to the resident client after a PENDING
// transaction has been created and the signed redirect URL built.
type CreatePaymentResponse struct {
	PaymentURL    string    `json:"payment_url"`
	TransactionID uuid.UUID `json:"transaction_id"`
	Amount        int64     `json:"amount"`
	Message       string    `json:"message"`
}

// TransactionListOptions controls filtering for transaction history queries.
type TransactionListOptions struct {
	Status string
	Limit  int
	Offset int
}
