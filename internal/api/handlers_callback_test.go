package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/trngnhan/apartment-payment-service/internal/app"
	"github.com/trngnhan/apartment-payment-service/internal/domain"
	"github.com/trngnhan/apartment-payment-service/internal/store"
	"github.com/trngnhan/apartment-payment-service/pkg/vnpay"
)

const testHashSecret = "CALLBACKTESTSECRET00000000000000"

// callbackRepo embeds the Repository interface and implements just the
// methods the callback paths touch.
type callbackRepo struct {
	store.Repository

	transactions map[uuid.UUID]*domain.Transaction
}

func newCallbackRepo(txs ...*domain.Transaction) *callbackRepo {
	r := &callbackRepo{transactions: make(map[uuid.UUID]*domain.Transaction)}
	for _, tx := range txs {
		r.transactions[tx.ID] = tx
	}
	return r
}

func (r *callbackRepo) FindTransactionByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	tx, ok := r.transactions[id]
	if !ok {
		return nil, store.ErrTransactionNotFound
	}
	cp := *tx
	return &cp, nil
}

func (r *callbackRepo) CompleteTransactionIfPending(ctx context.Context, id uuid.UUID, gatewayTxnRef string, paidAt time.Time) (bool, error) {
	tx, ok := r.transactions[id]
	if !ok {
		return false, store.ErrTransactionNotFound
	}
	if tx.Status != domain.StatusPending {
		return false, nil
	}
	tx.Status = domain.StatusCompleted
	tx.GatewayTxnRef = &gatewayTxnRef
	tx.PaidDate = &paidAt
	return true, nil
}

func (r *callbackRepo) FailTransactionIfPending(ctx context.Context, id uuid.UUID, gatewayTxnRef string) (bool, error) {
	tx, ok := r.transactions[id]
	if !ok {
		return false, store.ErrTransactionNotFound
	}
	if tx.Status != domain.StatusPending {
		return false, nil
	}
	tx.Status = domain.StatusFailed
	return true, nil
}

func callbackTestServer(repo store.Repository) *httptest.Server {
	gateway := vnpay.NewClient("", "", "https://example.com/payments/vnpay/return", "TESTTMN1", testHashSecret)
	service := app.NewService(repo, gateway, nil)
	handlers := NewPaymentHandlers(service, nil, 0, 60)

	r := chi.NewRouter()
	r.Get("/payments/vnpay/return", handlers.VNPayReturnHandler)
	r.Get("/payments/vnpay/ipn", handlers.VNPayIPNHandler)
	return httptest.NewServer(r)
}

func signedQuery(tx *domain.Transaction, responseCode string) string {
	params := vnpay.Params{
		"vnp_TmnCode":       "TESTTMN1",
		"vnp_TxnRef":        tx.ID.String(),
		"vnp_Amount":        strconv.FormatInt(tx.Amount*100, 10),
		"vnp_ResponseCode":  responseCode,
		"vnp_TransactionNo": "14226112",
		"vnp_PayDate":       "20250101120000",
	}
	hash := vnpay.Sign(testHashSecret, params.HashData("&"))
	return params.EncodedQuery() + "&vnp_SecureHash=" + url.QueryEscape(hash)
}

func pendingTx() *domain.Transaction {
	return &domain.Transaction{
		ID:          uuid.New(),
		ApartmentID: uuid.New(),
		CategoryID:  uuid.New(),
		Amount:      550000,
		Method:      domain.MethodVNPay,
		Status:      domain.StatusPending,
	}
}

func getIPN(t *testing.T, server *httptest.Server, query string) ipnResponse {
	t.Helper()
	resp, err := http.Get(server.URL + "/payments/vnpay/ipn?" + query)
	if err != nil {
		t.Fatalf("ipn request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ipn must always answer 200, got %d", resp.StatusCode)
	}
	var body ipnResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode ipn response: %v", err)
	}
	return body
}

func TestIPNAcknowledgesSuccessfulConfirmation(t *testing.T) {
	tx := pendingTx()
	repo := newCallbackRepo(tx)
	server := callbackTestServer(repo)
	defer server.Close()

	body := getIPN(t, server, signedQuery(tx, "00"))
	if body.RspCode != "00" {
		t.Fatalf("RspCode = %q, want 00", body.RspCode)
	}
	if repo.transactions[tx.ID].Status != domain.StatusCompleted {
		t.Fatalf("stored status = %s", repo.transactions[tx.ID].Status)
	}
}

func TestIPNAcknowledgesDuplicateWith02(t *testing.T) {
	tx := pendingTx()
	repo := newCallbackRepo(tx)
	server := callbackTestServer(repo)
	defer server.Close()

	query := signedQuery(tx, "00")
	getIPN(t, server, query)
	body := getIPN(t, server, query)
	if body.RspCode != "02" {
		t.Fatalf("duplicate RspCode = %q, want 02", body.RspCode)
	}
}

func TestIPNAnswers01ForUnknownOrder(t *testing.T) {
	server := callbackTestServer(newCallbackRepo())
	defer server.Close()

	body := getIPN(t, server, signedQuery(pendingTx(), "00"))
	if body.RspCode != "01" {
		t.Fatalf("RspCode = %q, want 01", body.RspCode)
	}
}

func TestIPNAnswers04ForAmountMismatch(t *testing.T) {
	tx := pendingTx()
	repo := newCallbackRepo(tx)
	server := callbackTestServer(repo)
	defer server.Close()

	wrong := *tx
	wrong.Amount = tx.Amount + 1
	body := getIPN(t, server, signedQuery(&wrong, "00"))
	if body.RspCode != "04" {
		t.Fatalf("RspCode = %q, want 04", body.RspCode)
	}
	if repo.transactions[tx.ID].Status != domain.StatusPending {
		t.Fatal("amount mismatch must not mutate the transaction")
	}
}

func TestIPNAnswers97ForBadSignature(t *testing.T) {
	tx := pendingTx()
	repo := newCallbackRepo(tx)
	server := callbackTestServer(repo)
	defer server.Close()

	body := getIPN(t, server, signedQuery(tx, "00")+"&vnp_BankCode=NCB")
	if body.RspCode != "97" {
		t.Fatalf("RspCode = %q, want 97", body.RspCode)
	}
	if repo.transactions[tx.ID].Status != domain.StatusPending {
		t.Fatal("unauthenticated events must not mutate the transaction")
	}
}

func TestReturnEndpointReportsResultToBrowser(t *testing.T) {
	tx := pendingTx()
	repo := newCallbackRepo(tx)
	server := callbackTestServer(repo)
	defer server.Close()

	resp, err := http.Get(server.URL + "/payments/vnpay/return?" + signedQuery(tx, "00"))
	if err != nil {
		t.Fatalf("return request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body returnResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode return response: %v", err)
	}
	if !body.Success {
		t.Fatal("successful payment must report success to the browser")
	}
	if body.TransactionID != tx.ID.String() || body.Status != domain.StatusCompleted {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestReturnAfterIPNReportsFinalState(t *testing.T) {
	tx := pendingTx()
	repo := newCallbackRepo(tx)
	server := callbackTestServer(repo)
	defer server.Close()

	query := signedQuery(tx, "00")
	getIPN(t, server, query)

	resp, err := http.Get(server.URL + "/payments/vnpay/return?" + query)
	if err != nil {
		t.Fatalf("return request: %v", err)
	}
	defer resp.Body.Close()

	var body returnResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode return response: %v", err)
	}
	if !body.Success {
		t.Fatal("duplicate of a completed payment must still read as success")
	}
}

func TestClientIPPrefersForwardedHeader(t *testing.T) {
	r := httptest.NewRequest("GET", "/payments/vnpay/ipn", nil)
	r.RemoteAddr = "10.0.0.1:4444"
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := clientIP(r); got != "203.0.113.7" {
		t.Fatalf("clientIP = %q", got)
	}

	r.Header.Del("X-Forwarded-For")
	if got := clientIP(r); got != "10.0.0.1" {
		t.Fatalf("clientIP = %q", got)
	}
}
