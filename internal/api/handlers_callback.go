/**
 * @description
 * This file contains the handlers for the two unauthenticated VNPay callback
 * endpoints: the synchronous browser return and the asynchronous IPN. Both
 * feed the same reconciliation entry point; only the response contract
 * differs. The IPN endpoint answers with the gateway's fixed JSON
 * acknowledgment shape and stable RspCode values so VNPay stops retrying; the
 * return endpoint answers the resident's browser with a human-oriented
 * payment result.
 *
 * Acknowledgments are informational: the conditional status update inside the
 * reconciliation is the durability boundary, and a lost acknowledgment simply
 * means the gateway redelivers into an idempotent endpoint.
 */

package api

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/trngnhan/apartment-payment-service/internal/app"
	"github.com/trngnhan/apartment-payment-service/internal/domain"
)

// ipnResponse is the fixed acknowledgment shape VNPay expects from the IPN
// endpoint.
type ipnResponse struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

// IPN acknowledgment codes. These are part of the gateway contract and must
// stay stable.
const (
	ipnCodeSuccess          = "00"
	ipnCodeOrderNotFound    = "01"
	ipnCodeAlreadyConfirmed = "02"
	ipnCodeInvalidAmount    = "04"
	ipnCodeInvalidSignature = "97"
	ipnCodeUnknownError     = "99"
)

func ipnAck(outcome app.CallbackOutcome) ipnResponse {
	switch outcome {
	case app.OutcomeCompleted, app.OutcomeFailed:
		// Both are successful reconciliations from the gateway's point of
		// view: we recorded the result it reported.
		return ipnResponse{RspCode: ipnCodeSuccess, Message: "Confirm Success"}
	case app.OutcomeAlreadyProcessed:
		return ipnResponse{RspCode: ipnCodeAlreadyConfirmed, Message: "Order already confirmed"}
	case app.OutcomeUnknownTransaction:
		return ipnResponse{RspCode: ipnCodeOrderNotFound, Message: "Order not found"}
	case app.OutcomeInvalidAmount:
		return ipnResponse{RspCode: ipnCodeInvalidAmount, Message: "Invalid amount"}
	case app.OutcomeSignatureInvalid:
		return ipnResponse{RspCode: ipnCodeInvalidSignature, Message: "Invalid signature"}
	}
	return ipnResponse{RspCode: ipnCodeUnknownError, Message: "Unknown error"}
}

// callbackEvent flattens the request query into a callback event for the
// reconciliation. VNPay delivers both channels as GET query strings.
func callbackEvent(r *http.Request, channel string) domain.CallbackEvent {
	params := make(map[string]string)
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	return domain.CallbackEvent{Params: params, Channel: channel}
}

// allowCallback applies the distributed per-source rate limit to a callback
// request. Limiter failures fail open: dropping a legitimate IPN costs more
// than letting a burst through, since the state machine is idempotent anyway.
func (h *PaymentHandlers) allowCallback(w http.ResponseWriter, r *http.Request, scope string) bool {
	if h.limiter == nil || h.callbackRateLimit <= 0 {
		return true
	}

	count, retryAfter, err := h.limiter.ConsumeRateLimit(
		r.Context(), scope, clientIP(r),
		h.callbackRateLimit, time.Duration(h.callbackRateWindow)*time.Second,
	)
	if err != nil {
		log.Printf("level=warn component=api scope=%s msg=\"rate limiter unavailable; failing open\" err=%v", scope, err)
		return true
	}
	if count > h.callbackRateLimit {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		h.writeError(w, http.StatusTooManyRequests, "Too many requests")
		return false
	}
	return true
}

// VNPayIPNHandler is the asynchronous server-to-server confirmation endpoint.
// It always answers 200 with a gateway acknowledgment body; the RspCode
// carries the actual result.
func (h *PaymentHandlers) VNPayIPNHandler(w http.ResponseWriter, r *http.Request) {
	if !h.allowCallback(w, r, "vnpay_ipn") {
		return
	}

	result, err := h.service.HandleCallback(r.Context(), callbackEvent(r, domain.ChannelIPN))
	if err != nil {
		// Infrastructure failure: answer 99 so the gateway retries later.
		log.Printf("level=error component=api endpoint=vnpay_ipn err=%v", err)
		h.writeJSON(w, http.StatusOK, ipnResponse{RspCode: ipnCodeUnknownError, Message: "Unknown error"})
		return
	}

	h.writeJSON(w, http.StatusOK, ipnAck(result.Outcome))
}

// returnResponse is rendered to the resident's browser after the hosted
// payment page redirects back.
type returnResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	TransactionID string `json:"transaction_id,omitempty"`
	Status        string `json:"status,omitempty"`
	ResponseCode  string `json:"response_code,omitempty"`
}

// VNPayReturnHandler is the synchronous browser-return endpoint. It races the
// IPN channel through the same reconciliation; a duplicate here is a normal
// outcome, reported to the resident as the final transaction state.
func (h *PaymentHandlers) VNPayReturnHandler(w http.ResponseWriter, r *http.Request) {
	if !h.allowCallback(w, r, "vnpay_return") {
		return
	}

	result, err := h.service.HandleCallback(r.Context(), callbackEvent(r, domain.ChannelReturn))
	if err != nil {
		log.Printf("level=error component=api endpoint=vnpay_return err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Could not process payment result")
		return
	}

	resp := returnResponse{ResponseCode: result.ResponseCode}
	if result.Transaction != nil {
		resp.TransactionID = result.Transaction.ID.String()
		resp.Status = result.Transaction.Status
	}

	switch result.Outcome {
	case app.OutcomeCompleted:
		resp.Success = true
		resp.Message = "Thanh toan thanh cong."
		h.writeJSON(w, http.StatusOK, resp)
	case app.OutcomeAlreadyProcessed:
		resp.Success = result.Transaction != nil && result.Transaction.Status == domain.StatusCompleted
		resp.Message = "Giao dich da duoc xu ly."
		h.writeJSON(w, http.StatusOK, resp)
	case app.OutcomeFailed:
		resp.Message = "Thanh toan that bai."
		h.writeJSON(w, http.StatusOK, resp)
	case app.OutcomeUnknownTransaction:
		resp.Message = "Khong tim thay giao dich."
		h.writeJSON(w, http.StatusNotFound, resp)
	case app.OutcomeInvalidAmount:
		resp.Message = "So tien khong hop le."
		h.writeJSON(w, http.StatusBadRequest, resp)
	case app.OutcomeSignatureInvalid:
		resp.Message = "Chu ky khong hop le."
		h.writeJSON(w, http.StatusBadRequest, resp)
	default:
		h.writeError(w, http.StatusInternalServerError, "Unknown payment outcome")
	}
}
