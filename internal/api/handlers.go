/**
 * @description
 * This file contains the HTTP handlers for the apartment-payment-service's API
 * endpoints. Handlers are responsible for parsing incoming requests, calling
 * the appropriate methods on the application service, and writing the HTTP
 * response. They act as the bridge between the web layer and the business
 * logic layer. The gateway callback endpoints live in handlers_callback.go.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: For URL parameter extraction.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/trngnhan/apartment-payment-service/internal/app"
	"github.com/trngnhan/apartment-payment-service/internal/domain"
	"github.com/trngnhan/apartment-payment-service/internal/store"
	"github.com/trngnhan/apartment-payment-service/pkg/vnpay"
)

// PaymentHandlers holds the application service that handlers will use.
type PaymentHandlers struct {
	service *app.Service
	limiter *app.RedisCallbackRateLimiter

	callbackRateLimit  int
	callbackRateWindow int // seconds
}

// NewPaymentHandlers creates a new instance of PaymentHandlers. The limiter
// may be nil, which disables callback rate limiting.
func NewPaymentHandlers(service *app.Service, limiter *app.RedisCallbackRateLimiter, callbackRateLimit, callbackRateWindowSeconds int) *PaymentHandlers {
	return &PaymentHandlers{
		service:            service,
		limiter:            limiter,
		callbackRateLimit:  callbackRateLimit,
		callbackRateWindow: callbackRateWindowSeconds,
	}
}

// authenticatedUserID pulls the caller's id out of the request context and
// parses it as a UUID, writing the error response itself on failure.
func (h *PaymentHandlers) authenticatedUserID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userIDStr, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid user ID format")
		return uuid.Nil, false
	}
	return userID, true
}

func urlUUID(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, name))
}

// clientIP extracts the originating client address, honoring proxy headers.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, ok := strings.Cut(fwd, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// CreateVNPayPaymentHandler creates a PENDING transaction for a fee category
// and returns the signed redirect URL for the hosted payment page.
func (h *PaymentHandlers) CreateVNPayPaymentHandler(w http.ResponseWriter, r *http.Request) {
	residentID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}

	categoryID, err := urlUUID(r, "categoryID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid category ID")
		return
	}

	resp, err := h.service.InitiatePayment(r.Context(), residentID, categoryID, clientIP(r))
	if err != nil {
		switch {
		case errors.Is(err, store.ErrApartmentNotFound):
			h.writeError(w, http.StatusNotFound, "No apartment found for this resident")
		case errors.Is(err, store.ErrCategoryNotFound):
			h.writeError(w, http.StatusNotFound, "Fee category not found")
		case errors.Is(err, vnpay.ErrInvalidAmount):
			h.writeError(w, http.StatusUnprocessableEntity, "Fee amount is outside the gateway's accepted range")
		default:
			log.Printf("level=error component=api endpoint=create_payment err=%v", err)
			h.writeError(w, http.StatusInternalServerError, "Could not create payment")
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, resp)
}

// ListMyPaymentsHandler returns the calling resident's transaction history.
func (h *PaymentHandlers) ListMyPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	residentID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}

	opts := domain.TransactionListOptions{
		Status: strings.ToUpper(r.URL.Query().Get("status")),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		opts.Limit, _ = strconv.Atoi(raw)
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		opts.Offset, _ = strconv.Atoi(raw)
	}

	transactions, err := h.service.ListMyPayments(r.Context(), residentID, opts)
	if err != nil {
		if errors.Is(err, app.ErrInvalidStatus) {
			h.writeError(w, http.StatusBadRequest, "Unknown status filter")
			return
		}
		log.Printf("level=error component=api endpoint=list_payments err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Could not list payments")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": transactions})
}

// GetMyTransactionHandler returns one transaction, scoped to the caller.
func (h *PaymentHandlers) GetMyTransactionHandler(w http.ResponseWriter, r *http.Request) {
	residentID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}

	transactionID, err := urlUUID(r, "transactionID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid transaction ID")
		return
	}

	tx, err := h.service.GetMyTransaction(r.Context(), residentID, transactionID)
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			h.writeError(w, http.StatusNotFound, "Transaction not found")
			return
		}
		log.Printf("level=error component=api endpoint=get_payment err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Could not load transaction")
		return
	}

	h.writeJSON(w, http.StatusOK, tx)
}

// RefundPaymentHandler reverses a COMPLETED transaction. Admin only.
func (h *PaymentHandlers) RefundPaymentHandler(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	transactionID, err := urlUUID(r, "transactionID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid transaction ID")
		return
	}

	tx, err := h.service.RefundPayment(r.Context(), transactionID, operatorID, clientIP(r))
	if err != nil {
		switch {
		case errors.Is(err, store.ErrTransactionNotFound):
			h.writeError(w, http.StatusNotFound, "Transaction not found")
		case errors.Is(err, app.ErrNotRefundable):
			h.writeError(w, http.StatusConflict, "Only completed transactions can be refunded")
		case errors.Is(err, app.ErrRefundRejected):
			h.writeError(w, http.StatusBadGateway, "Gateway rejected the refund")
		default:
			log.Printf("level=error component=api endpoint=refund_payment transaction_id=%s err=%v", transactionID, err)
			h.writeError(w, http.StatusInternalServerError, "Could not refund transaction")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, tx)
}

// QueryPaymentHandler asks the gateway for its view of a transaction. Admin only.
func (h *PaymentHandlers) QueryPaymentHandler(w http.ResponseWriter, r *http.Request) {
	transactionID, err := urlUUID(r, "transactionID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid transaction ID")
		return
	}

	resp, err := h.service.QueryPayment(r.Context(), transactionID, clientIP(r))
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			h.writeError(w, http.StatusNotFound, "Transaction not found")
			return
		}
		log.Printf("level=error component=api endpoint=query_payment transaction_id=%s err=%v", transactionID, err)
		h.writeError(w, http.StatusBadGateway, "Gateway query failed")
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type overrideStatusRequest struct {
	Status string `json:"status"`
}

// OverrideStatusHandler is the admin escape hatch for manual status corrections.
func (h *PaymentHandlers) OverrideStatusHandler(w http.ResponseWriter, r *http.Request) {
	transactionID, err := urlUUID(r, "transactionID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid transaction ID")
		return
	}

	var req overrideStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.OverrideTransactionStatus(r.Context(), transactionID, strings.ToUpper(req.Status)); err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidStatus):
			h.writeError(w, http.StatusBadRequest, "Unknown transaction status")
		case errors.Is(err, store.ErrTransactionNotFound):
			h.writeError(w, http.StatusNotFound, "Transaction not found")
		default:
			log.Printf("level=error component=api endpoint=override_status transaction_id=%s err=%v", transactionID, err)
			h.writeError(w, http.StatusInternalServerError, "Could not update transaction")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": strings.ToUpper(req.Status)})
}

// CreateFeeCategoryHandler creates a new fee category. Admin/management only.
func (h *PaymentHandlers) CreateFeeCategoryHandler(w http.ResponseWriter, r *http.Request) {
	var payload domain.SaveFeeCategoryPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	category, err := h.service.CreateFeeCategory(r.Context(), payload)
	if err != nil {
		if errors.Is(err, app.ErrInvalidCategory) {
			h.writeError(w, http.StatusBadRequest, "Invalid fee category payload")
			return
		}
		log.Printf("level=error component=api endpoint=create_category err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Could not create fee category")
		return
	}

	h.writeJSON(w, http.StatusCreated, category)
}

// UpdateFeeCategoryHandler rewrites a fee category. Admin/management only.
func (h *PaymentHandlers) UpdateFeeCategoryHandler(w http.ResponseWriter, r *http.Request) {
	categoryID, err := urlUUID(r, "categoryID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid category ID")
		return
	}

	var payload domain.SaveFeeCategoryPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	category, err := h.service.UpdateFeeCategory(r.Context(), categoryID, payload)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidCategory):
			h.writeError(w, http.StatusBadRequest, "Invalid fee category payload")
		case errors.Is(err, store.ErrCategoryNotFound):
			h.writeError(w, http.StatusNotFound, "Fee category not found")
		default:
			log.Printf("level=error component=api endpoint=update_category category_id=%s err=%v", categoryID, err)
			h.writeError(w, http.StatusInternalServerError, "Could not update fee category")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, category)
}

// ListFeeCategoriesHandler returns fee categories visible to residents.
func (h *PaymentHandlers) ListFeeCategoriesHandler(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("all") == ""
	categories, err := h.service.ListFeeCategories(r.Context(), activeOnly)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_categories err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Could not list fee categories")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"categories": categories})
}

// writeJSON is a helper for writing JSON responses.
func (h *PaymentHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *PaymentHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
