/**
 * @description
 * This file contains the reconciliation state machine for inbound gateway
 * callbacks. VNPay reports the outcome of a payment on two independent
 * channels — the synchronous browser return and the asynchronous IPN — with no
 * ordering, dedup, or delivery guarantees between them. Both channels feed the
 * single HandleCallback entry point, which validates the event and applies an
 * at-most-once status transition through the store's compare-and-set
 * primitives.
 *
 * Key properties:
 * - A signature failure, unknown transaction, or amount mismatch never
 *   mutates state.
 * - Losing the CAS race is not an error: the duplicate channel receives an
 *   AlreadyProcessed outcome, which the HTTP layer acknowledges idempotently.
 * - The CAS is the durability boundary; acknowledgments are informational and
 *   re-derivable by re-reading current status.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/trngnhan/apartment-payment-service/internal/domain"
	"github.com/trngnhan/apartment-payment-service/internal/store"
	"github.com/trngnhan/apartment-payment-service/pkg/vnpay"
)

// CallbackOutcome classifies how a callback event was resolved.
type CallbackOutcome string

const (
	// OutcomeCompleted: this channel won the race and confirmed the payment.
	OutcomeCompleted CallbackOutcome = "completed"
	// OutcomeFailed: this channel won the race and recorded a gateway-declared failure.
	OutcomeFailed CallbackOutcome = "failed"
	// OutcomeAlreadyProcessed: duplicate delivery for a terminal transaction;
	// acknowledged idempotently, never re-applied.
	OutcomeAlreadyProcessed CallbackOutcome = "already_processed"
	// OutcomeSignatureInvalid: the event could not be authenticated.
	OutcomeSignatureInvalid CallbackOutcome = "signature_invalid"
	// OutcomeUnknownTransaction: the event references an id we never issued.
	OutcomeUnknownTransaction CallbackOutcome = "unknown_transaction"
	// OutcomeInvalidAmount: authenticated event whose amount does not match
	// the stored transaction total.
	OutcomeInvalidAmount CallbackOutcome = "invalid_amount"
)

const gatewaySuccessCode = "00"

const payDateLayout = "20060102150405"

// ReconcileResult reports the resolution of one callback event.
type ReconcileResult struct {
	Outcome      CallbackOutcome
	ResponseCode string              // gateway result code from the event, when present
	Transaction  *domain.Transaction // populated for every outcome that located a record
}

// HandleCallback validates and reconciles one callback event from either
// channel. It returns an error only for infrastructure failures (database
// unavailable); every protocol-level rejection is expressed as an outcome.
func (s *Service) HandleCallback(ctx context.Context, event domain.CallbackEvent) (*ReconcileResult, error) {
	params := vnpay.Params(event.Params)

	if !s.gateway.VerifyCallback(params) {
		log.Printf("level=warn component=reconcile channel=%s outcome=signature_invalid txn_ref=%q", event.Channel, params[domain.FieldTxnRef])
		return &ReconcileResult{Outcome: OutcomeSignatureInvalid}, nil
	}

	responseCode := params[domain.FieldResponseCode]
	txnRef := params[domain.FieldTxnRef]

	transactionID, err := uuid.Parse(txnRef)
	if err != nil {
		log.Printf("level=warn component=reconcile channel=%s outcome=unknown_transaction reason=unparseable_ref txn_ref=%q", event.Channel, txnRef)
		return &ReconcileResult{Outcome: OutcomeUnknownTransaction, ResponseCode: responseCode}, nil
	}

	tx, err := s.repo.FindTransactionByID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			log.Printf("level=warn component=reconcile channel=%s outcome=unknown_transaction txn_ref=%s", event.Channel, transactionID)
			return &ReconcileResult{Outcome: OutcomeUnknownTransaction, ResponseCode: responseCode}, nil
		}
		return nil, fmt.Errorf("lookup transaction: %w", err)
	}

	// The gateway transmits amounts x100. A mismatch on an authenticated
	// event means the callback does not describe this transaction.
	if rawAmount, ok := params[domain.FieldAmount]; ok {
		amount, parseErr := strconv.ParseInt(rawAmount, 10, 64)
		if parseErr != nil || amount != tx.Amount*100 {
			log.Printf("level=warn component=reconcile channel=%s outcome=invalid_amount transaction_id=%s got=%q want=%d", event.Channel, tx.ID, rawAmount, tx.Amount*100)
			return &ReconcileResult{Outcome: OutcomeInvalidAmount, ResponseCode: responseCode, Transaction: tx}, nil
		}
	}

	gatewayRef := params[domain.FieldTransactionNo]

	if responseCode == gatewaySuccessCode {
		return s.applyCompletion(ctx, event.Channel, tx, gatewayRef, params[domain.FieldPayDate], responseCode)
	}
	return s.applyFailure(ctx, event.Channel, tx, gatewayRef, responseCode)
}

func (s *Service) applyCompletion(ctx context.Context, channel string, tx *domain.Transaction, gatewayRef, payDate, responseCode string) (*ReconcileResult, error) {
	paidAt := parsePayDate(payDate)

	won, err := s.repo.CompleteTransactionIfPending(ctx, tx.ID, gatewayRef, paidAt)
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			return &ReconcileResult{Outcome: OutcomeUnknownTransaction, ResponseCode: responseCode}, nil
		}
		return nil, fmt.Errorf("complete transaction: %w", err)
	}
	if !won {
		log.Printf("level=info component=reconcile channel=%s outcome=already_processed transaction_id=%s status=%s", channel, tx.ID, tx.Status)
		return &ReconcileResult{Outcome: OutcomeAlreadyProcessed, ResponseCode: responseCode, Transaction: tx}, nil
	}

	tx.Status = domain.StatusCompleted
	tx.GatewayTxnRef = &gatewayRef
	tx.PaidDate = &paidAt
	log.Printf("level=info component=reconcile channel=%s outcome=completed transaction_id=%s gateway_txn_ref=%s", channel, tx.ID, gatewayRef)
	s.publishStatusEvent(ctx, tx, "payment.transaction.completed")

	return &ReconcileResult{Outcome: OutcomeCompleted, ResponseCode: responseCode, Transaction: tx}, nil
}

func (s *Service) applyFailure(ctx context.Context, channel string, tx *domain.Transaction, gatewayRef, responseCode string) (*ReconcileResult, error) {
	won, err := s.repo.FailTransactionIfPending(ctx, tx.ID, gatewayRef)
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			return &ReconcileResult{Outcome: OutcomeUnknownTransaction, ResponseCode: responseCode}, nil
		}
		return nil, fmt.Errorf("fail transaction: %w", err)
	}
	if !won {
		log.Printf("level=info component=reconcile channel=%s outcome=already_processed transaction_id=%s status=%s", channel, tx.ID, tx.Status)
		return &ReconcileResult{Outcome: OutcomeAlreadyProcessed, ResponseCode: responseCode, Transaction: tx}, nil
	}

	tx.Status = domain.StatusFailed
	if gatewayRef != "" {
		tx.GatewayTxnRef = &gatewayRef
	}
	log.Printf("level=info component=reconcile channel=%s outcome=failed transaction_id=%s response_code=%s", channel, tx.ID, responseCode)
	s.publishStatusEvent(ctx, tx, "payment.transaction.failed")

	return &ReconcileResult{Outcome: OutcomeFailed, ResponseCode: responseCode, Transaction: tx}, nil
}

// parsePayDate parses the gateway's YYYYMMDDHHmmss timestamp. The gateway
// clock runs in Vietnam time; fall back to the current time when the field is
// missing or malformed rather than rejecting an otherwise valid confirmation.
func parsePayDate(raw string) time.Time {
	if raw == "" {
		return time.Now().UTC()
	}
	loc, err := time.LoadLocation("Asia/Ho_Chi_Minh")
	if err != nil {
		loc = time.FixedZone("ICT", 7*60*60)
	}
	parsed, err := time.ParseInLocation(payDateLayout, raw, loc)
	if err != nil {
		return time.Now().UTC()
	}
	return parsed.UTC()
}
