/**
 * @description
 * This file contains the core business logic for the apartment-payment-service.
 * The `Service` struct orchestrates the payment lifecycle: creating PENDING
 * transactions and their signed redirect URLs, fee-category management, and the
 * admin-only refund and status-override operations. Callback reconciliation
 * lives in reconcile.go.
 *
 * @dependencies
 * - context, errors, fmt, log, math, time: Standard Go libraries.
 * - github.com/google/uuid: For transaction id generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/vnpay, pkg/rabbitmq: For gateway communication and event publishing.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/trngnhan/apartment-payment-service/internal/domain"
	"github.com/trngnhan/apartment-payment-service/internal/store"
	"github.com/trngnhan/apartment-payment-service/pkg/rabbitmq"
	"github.com/trngnhan/apartment-payment-service/pkg/vnpay"
)

var (
	ErrNotRefundable   = errors.New("transaction is not in a refundable state")
	ErrRefundRejected  = errors.New("gateway rejected the refund request")
	ErrInvalidStatus   = errors.New("invalid transaction status")
	ErrInvalidCategory = errors.New("invalid fee category payload")
	ErrMissingClientIP = errors.New("client ip is required to build a payment request")
)

const (
	orderTypeApartmentFee = "apartment_fee"
	defaultLocale         = "vn"
	refundTypeFull        = "02"
	eventsExchange        = "apartment.events"
)

var validFrequencies = map[string]bool{
	"ONE_TIME": true, "MONTHLY": true, "QUARTERLY": true, "YEARLY": true,
}

var validCategoryTypes = map[string]bool{
	"MAINTENANCE": true, "UTILITY": true, "SERVICE": true,
}

// Service provides the core business logic for payments.
type Service struct {
	repo          store.Repository
	gateway       *vnpay.Client
	eventProducer rabbitmq.Publisher
}

// NewService creates a new payment service instance.
func NewService(repo store.Repository, gateway *vnpay.Client, producer rabbitmq.Publisher) *Service {
	return &Service{
		repo:          repo,
		gateway:       gateway,
		eventProducer: producer,
	}
}

// InitiatePayment creates a PENDING transaction for the caller's apartment and
// fee category, then builds the signed VNPay redirect URL. The transaction is
// persisted exactly once, before the redirect is issued; building the URL
// itself mutates nothing.
func (s *Service) InitiatePayment(ctx context.Context, residentID uuid.UUID, categoryID uuid.UUID, clientIP string) (*domain.CreatePaymentResponse, error) {
	if strings.TrimSpace(clientIP) == "" {
		return nil, ErrMissingClientIP
	}

	apartmentID, err := s.repo.FindApartmentIDByOwner(ctx, residentID)
	if err != nil {
		return nil, fmt.Errorf("resolve apartment: %w", err)
	}

	category, err := s.repo.FindFeeCategoryByID(ctx, categoryID)
	if err != nil {
		return nil, fmt.Errorf("resolve fee category: %w", err)
	}

	// Validate the amount range before persisting anything, so a bad category
	// cannot leave an orphan PENDING row behind.
	if err := vnpay.ValidateAmount(category.TotalAmount); err != nil {
		return nil, err
	}

	tx := &domain.Transaction{
		ID:          uuid.New(),
		ApartmentID: apartmentID,
		CategoryID:  category.ID,
		Amount:      category.TotalAmount,
		Method:      domain.MethodVNPay,
		Status:      domain.StatusPending,
	}
	if err := s.repo.CreateTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("create transaction record: %w", err)
	}

	payURL, err := s.gateway.BuildPaymentURL(vnpay.PayRequest{
		TxnRef:     tx.ID.String(),
		Amount:     tx.Amount,
		OrderInfo:  fmt.Sprintf("Thanh toan phi %s", category.Name),
		OrderType:  orderTypeApartmentFee,
		Locale:     defaultLocale,
		ClientIP:   clientIP,
		CreateDate: time.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("build payment url: %w", err)
	}

	log.Printf("level=info component=service flow=initiate_payment transaction_id=%s apartment_id=%s category_id=%s amount=%d", tx.ID, apartmentID, category.ID, tx.Amount)

	return &domain.CreatePaymentResponse{
		PaymentURL:    payURL,
		TransactionID: tx.ID,
		Amount:        tx.Amount,
		Message:       "Vui long thanh toan qua VNPay.",
	}, nil
}

// GetMyTransaction returns a single transaction scoped to the calling resident.
func (s *Service) GetMyTransaction(ctx context.Context, residentID uuid.UUID, transactionID uuid.UUID) (*domain.Transaction, error) {
	return s.repo.FindTransactionByIDAndOwner(ctx, transactionID, residentID)
}

// ListMyPayments returns the calling resident's transaction history.
func (s *Service) ListMyPayments(ctx context.Context, residentID uuid.UUID, opts domain.TransactionListOptions) ([]domain.Transaction, error) {
	if opts.Status != "" && !domain.IsValidStatus(opts.Status) {
		return nil, ErrInvalidStatus
	}
	return s.repo.ListTransactionsByOwner(ctx, residentID, opts)
}

// CategoryTotal computes the tax-inclusive total for a fee category: amount
// plus amount*tax/100, rounded half up to a whole VND.
func CategoryTotal(amount int64, taxPercentage float64) int64 {
	total := float64(amount) * (1 + taxPercentage/100)
	return int64(math.Floor(total + 0.5))
}

// CreateFeeCategory persists a new fee category with its cached total.
func (s *Service) CreateFeeCategory(ctx context.Context, payload domain.SaveFeeCategoryPayload) (*domain.FeeCategory, error) {
	category, err := buildFeeCategory(uuid.New(), payload)
	if err != nil {
		return nil, err
	}
	if err := s.repo.CreateFeeCategory(ctx, category); err != nil {
		return nil, fmt.Errorf("create fee category: %w", err)
	}
	return category, nil
}

// UpdateFeeCategory rewrites a fee category, recomputing its cached total.
func (s *Service) UpdateFeeCategory(ctx context.Context, categoryID uuid.UUID, payload domain.SaveFeeCategoryPayload) (*domain.FeeCategory, error) {
	category, err := buildFeeCategory(categoryID, payload)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateFeeCategory(ctx, category); err != nil {
		return nil, err
	}
	return category, nil
}

// ListFeeCategories returns fee categories, optionally active only.
func (s *Service) ListFeeCategories(ctx context.Context, activeOnly bool) ([]domain.FeeCategory, error) {
	return s.repo.ListFeeCategories(ctx, activeOnly)
}

func buildFeeCategory(id uuid.UUID, payload domain.SaveFeeCategoryPayload) (*domain.FeeCategory, error) {
	if strings.TrimSpace(payload.Name) == "" || payload.Amount <= 0 || payload.TaxPercentage < 0 {
		return nil, ErrInvalidCategory
	}
	if !validFrequencies[payload.Frequency] || !validCategoryTypes[payload.CategoryType] {
		return nil, ErrInvalidCategory
	}

	return &domain.FeeCategory{
		ID:            id,
		Name:          payload.Name,
		Amount:        payload.Amount,
		TaxPercentage: payload.TaxPercentage,
		TotalAmount:   CategoryTotal(payload.Amount, payload.TaxPercentage),
		IsRecurring:   payload.IsRecurring,
		Frequency:     payload.Frequency,
		CategoryType:  payload.CategoryType,
		Description:   payload.Description,
		GracePeriod:   payload.GracePeriod,
	}, nil
}

// RefundPayment reverses a COMPLETED transaction through the gateway's refund
// command and, on gateway confirmation, moves the local record to REFUNDED.
// This is the only path into REFUNDED; callbacks can never reach it.
func (s *Service) RefundPayment(ctx context.Context, transactionID uuid.UUID, operator string, clientIP string) (*domain.Transaction, error) {
	tx, err := s.repo.FindTransactionByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.Status != domain.StatusCompleted || tx.GatewayTxnRef == nil {
		return nil, ErrNotRefundable
	}

	resp, err := s.gateway.RefundTransaction(ctx, vnpay.RefundRequest{
		RequestID:       uuid.New().String(),
		TxnRef:          tx.ID.String(),
		Amount:          tx.Amount,
		TransactionNo:   *tx.GatewayTxnRef,
		TransactionDate: tx.CreatedAt.Format("20060102150405"),
		TransactionType: refundTypeFull,
		CreateBy:        operator,
		OrderInfo:       fmt.Sprintf("Hoan tien giao dich %s", tx.ID),
		ClientIP:        clientIP,
		CreateDate:      time.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("gateway refund call: %w", err)
	}
	if resp.ResponseCode() != gatewaySuccessCode {
		log.Printf("level=warn component=service flow=refund outcome=rejected transaction_id=%s response_code=%s msg=%q", tx.ID, resp.ResponseCode(), resp.Message())
		return nil, fmt.Errorf("%w: code %s", ErrRefundRejected, resp.ResponseCode())
	}

	moved, err := s.repo.RefundTransactionIfCompleted(ctx, tx.ID)
	if err != nil {
		return nil, fmt.Errorf("persist refund: %w", err)
	}
	if !moved {
		// Another operator refunded concurrently; the gateway call was
		// idempotent on their side, so report the current state.
		return nil, ErrNotRefundable
	}

	tx.Status = domain.StatusRefunded
	log.Printf("level=info component=service flow=refund outcome=refunded transaction_id=%s operator=%s", tx.ID, operator)
	s.publishStatusEvent(ctx, tx, "payment.transaction.refunded")

	return tx, nil
}

// QueryPayment asks the gateway for its view of a transaction. Informational
// only; it never drives the local state machine.
func (s *Service) QueryPayment(ctx context.Context, transactionID uuid.UUID, clientIP string) (vnpay.CommandResponse, error) {
	tx, err := s.repo.FindTransactionByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	return s.gateway.QueryTransaction(ctx, vnpay.QueryRequest{
		RequestID:       uuid.New().String(),
		TxnRef:          tx.ID.String(),
		TransactionDate: tx.CreatedAt.Format("20060102150405"),
		OrderInfo:       fmt.Sprintf("Truy van giao dich %s", tx.ID),
		ClientIP:        clientIP,
		CreateDate:      time.Now(),
	})
}

// OverrideTransactionStatus is the admin escape hatch for manual corrections.
// It bypasses the terminal-state guard and must stay behind admin authorization.
func (s *Service) OverrideTransactionStatus(ctx context.Context, transactionID uuid.UUID, status string) error {
	if !domain.IsValidStatus(status) {
		return ErrInvalidStatus
	}
	if err := s.repo.OverrideTransactionStatus(ctx, transactionID, status); err != nil {
		return err
	}
	log.Printf("level=info component=service flow=override transaction_id=%s status=%s", transactionID, status)
	return nil
}

func (s *Service) publishStatusEvent(ctx context.Context, tx *domain.Transaction, routingKey string) {
	if s.eventProducer == nil {
		return
	}

	event := rabbitmq.PaymentStatusEvent{
		TransactionID: tx.ID,
		ApartmentID:   tx.ApartmentID,
		CategoryID:    tx.CategoryID,
		Amount:        tx.Amount,
		Status:        tx.Status,
		OccurredAt:    time.Now().UTC(),
	}
	if tx.GatewayTxnRef != nil {
		event.GatewayTxnRef = *tx.GatewayTxnRef
	}

	if err := s.eventProducer.Publish(ctx, eventsExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=service msg=\"event publish failed\" routing_key=%s transaction_id=%s err=%v", routingKey, tx.ID, err)
	}
}
