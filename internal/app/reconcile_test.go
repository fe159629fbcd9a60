package app

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/trngnhan/apartment-payment-service/internal/domain"
	"github.com/trngnhan/apartment-payment-service/internal/store"
	"github.com/trngnhan/apartment-payment-service/pkg/vnpay"
)

const testHashSecret = "RECONCILETESTSECRET0000000000000"

func testGateway() *vnpay.Client {
	return vnpay.NewClient(
		"https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
		"https://sandbox.vnpayment.vn/merchant_webapi/api/transaction",
		"https://example.com/payments/vnpay/return",
		"TESTTMN1",
		testHashSecret,
	)
}

// stubRepo embeds the Repository interface so tests only implement the
// methods a scenario touches; anything else panics loudly.
type stubRepo struct {
	store.Repository

	transactions map[uuid.UUID]*domain.Transaction

	completeCalls int
	failCalls     int
	completeWins  bool
	failWins      bool

	lastGatewayRef string
	lastPaidAt     time.Time
}

func newStubRepo(txs ...*domain.Transaction) *stubRepo {
	r := &stubRepo{transactions: make(map[uuid.UUID]*domain.Transaction)}
	for _, tx := range txs {
		r.transactions[tx.ID] = tx
	}
	return r
}

func (r *stubRepo) FindTransactionByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	tx, ok := r.transactions[id]
	if !ok {
		return nil, store.ErrTransactionNotFound
	}
	cp := *tx
	return &cp, nil
}

func (r *stubRepo) CompleteTransactionIfPending(ctx context.Context, id uuid.UUID, gatewayTxnRef string, paidAt time.Time) (bool, error) {
	r.completeCalls++
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
	r.completeWins = true
	r.lastGatewayRef = gatewayTxnRef
	r.lastPaidAt = paidAt
	return true, nil
}

func (r *stubRepo) FailTransactionIfPending(ctx context.Context, id uuid.UUID, gatewayTxnRef string) (bool, error) {
	r.failCalls++
	tx, ok := r.transactions[id]
	if !ok {
		return false, store.ErrTransactionNotFound
	}
	if tx.Status != domain.StatusPending {
		return false, nil
	}
	tx.Status = domain.StatusFailed
	if gatewayTxnRef != "" {
		tx.GatewayTxnRef = &gatewayTxnRef
	}
	r.failWins = true
	r.lastGatewayRef = gatewayTxnRef
	return true, nil
}

func pendingTransaction(amount int64) *domain.Transaction {
	return &domain.Transaction{
		ID:          uuid.New(),
		ApartmentID: uuid.New(),
		CategoryID:  uuid.New(),
		Amount:      amount,
		Method:      domain.MethodVNPay,
		Status:      domain.StatusPending,
		CreatedAt:   time.Now(),
	}
}

// signedCallback builds a callback parameter set signed the way the gateway
// signs it, so VerifyCallback accepts the event.
func signedCallback(tx *domain.Transaction, responseCode string, overrides map[string]string) domain.CallbackEvent {
	params := vnpay.Params{
		"vnp_TmnCode":       "TESTTMN1",
		"vnp_TxnRef":        tx.ID.String(),
		"vnp_Amount":        "",
		"vnp_ResponseCode":  responseCode,
		"vnp_TransactionNo": "14226112",
		"vnp_BankCode":      "NCB",
		"vnp_PayDate":       "20250101120000",
		"vnp_OrderInfo":     "Thanh toan phi quan ly",
	}
	params["vnp_Amount"] = strconv.FormatInt(tx.Amount*100, 10)
	for k, v := range overrides {
		params[k] = v
	}
	params["vnp_SecureHash"] = vnpay.Sign(testHashSecret, params.HashData("&"))
	return domain.CallbackEvent{Params: map[string]string(params), Channel: domain.ChannelIPN}
}

func TestHandleCallbackCompletesPendingOnSuccess(t *testing.T) {
	tx := pendingTransaction(500000)
	repo := newStubRepo(tx)
	svc := NewService(repo, testGateway(), nil)

	event := signedCallback(tx, "00", map[string]string{"vnp_Amount": "50000000"})
	res, err := svc.HandleCallback(context.Background(), event)
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("expected completed, got %s", res.Outcome)
	}
	if repo.lastGatewayRef != "14226112" {
		t.Fatalf("gateway ref not recorded, got %q", repo.lastGatewayRef)
	}
	if res.Transaction.PaidDate == nil {
		t.Fatal("paid date must be set on completion")
	}
	if repo.transactions[tx.ID].Status != domain.StatusCompleted {
		t.Fatalf("stored status = %s", repo.transactions[tx.ID].Status)
	}
}

func TestHandleCallbackFailsPendingOnGatewayDecline(t *testing.T) {
	tx := pendingTransaction(500000)
	repo := newStubRepo(tx)
	svc := NewService(repo, testGateway(), nil)

	event := signedCallback(tx, "24", map[string]string{"vnp_Amount": "50000000"})
	res, err := svc.HandleCallback(context.Background(), event)
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if res.Outcome != OutcomeFailed {
		t.Fatalf("expected failed, got %s", res.Outcome)
	}
	if res.ResponseCode != "24" {
		t.Fatalf("response code = %q", res.ResponseCode)
	}
	stored := repo.transactions[tx.ID]
	if stored.Status != domain.StatusFailed {
		t.Fatalf("stored status = %s", stored.Status)
	}
	if stored.PaidDate != nil {
		t.Fatal("paid date must stay unset on failure")
	}
	if stored.GatewayTxnRef == nil || *stored.GatewayTxnRef != "14226112" {
		t.Fatal("gateway ref from the failure event must be recorded")
	}
}

func TestHandleCallbackDuplicateDeliveryIsAlreadyProcessed(t *testing.T) {
	tx := pendingTransaction(500000)
	repo := newStubRepo(tx)
	svc := NewService(repo, testGateway(), nil)

	event := signedCallback(tx, "00", map[string]string{"vnp_Amount": "50000000"})
	if res, err := svc.HandleCallback(context.Background(), event); err != nil || res.Outcome != OutcomeCompleted {
		t.Fatalf("first delivery: res=%v err=%v", res, err)
	}

	res, err := svc.HandleCallback(context.Background(), event)
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if res.Outcome != OutcomeAlreadyProcessed {
		t.Fatalf("expected already_processed, got %s", res.Outcome)
	}
	if repo.completeCalls != 2 {
		t.Fatalf("both deliveries must attempt the conditional update, got %d", repo.completeCalls)
	}
}

func TestHandleCallbackFailureNeverOverwritesCompleted(t *testing.T) {
	tx := pendingTransaction(500000)
	repo := newStubRepo(tx)
	svc := NewService(repo, testGateway(), nil)

	success := signedCallback(tx, "00", map[string]string{"vnp_Amount": "50000000"})
	if _, err := svc.HandleCallback(context.Background(), success); err != nil {
		t.Fatalf("success delivery: %v", err)
	}

	failure := signedCallback(tx, "24", map[string]string{"vnp_Amount": "50000000"})
	res, err := svc.HandleCallback(context.Background(), failure)
	if err != nil {
		t.Fatalf("failure delivery: %v", err)
	}
	if res.Outcome != OutcomeAlreadyProcessed {
		t.Fatalf("expected already_processed, got %s", res.Outcome)
	}
	if repo.transactions[tx.ID].Status != domain.StatusCompleted {
		t.Fatalf("completed must be final, got %s", repo.transactions[tx.ID].Status)
	}
}

func TestHandleCallbackUnknownTransactionNeverCreatesRecords(t *testing.T) {
	repo := newStubRepo()
	svc := NewService(repo, testGateway(), nil)

	ghost := pendingTransaction(500000)
	event := signedCallback(ghost, "00", map[string]string{"vnp_Amount": "50000000"})
	res, err := svc.HandleCallback(context.Background(), event)
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if res.Outcome != OutcomeUnknownTransaction {
		t.Fatalf("expected unknown_transaction, got %s", res.Outcome)
	}
	if len(repo.transactions) != 0 {
		t.Fatal("reconciliation must never create transaction records")
	}
}

func TestHandleCallbackUnparseableRefIsUnknownTransaction(t *testing.T) {
	repo := newStubRepo()
	svc := NewService(repo, testGateway(), nil)

	params := vnpay.Params{
		"vnp_TxnRef":       "not-a-uuid",
		"vnp_ResponseCode": "00",
	}
	params["vnp_SecureHash"] = vnpay.Sign(testHashSecret, params.HashData("&"))

	res, err := svc.HandleCallback(context.Background(), domain.CallbackEvent{Params: map[string]string(params), Channel: domain.ChannelReturn})
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if res.Outcome != OutcomeUnknownTransaction {
		t.Fatalf("expected unknown_transaction, got %s", res.Outcome)
	}
}

func TestHandleCallbackInvalidSignatureNeverTouchesRepo(t *testing.T) {
	tx := pendingTransaction(500000)
	repo := newStubRepo(tx)
	svc := NewService(repo, testGateway(), nil)

	event := signedCallback(tx, "00", map[string]string{"vnp_Amount": "50000000"})
	event.Params["vnp_Amount"] = "99999999" // tamper after signing

	res, err := svc.HandleCallback(context.Background(), event)
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if res.Outcome != OutcomeSignatureInvalid {
		t.Fatalf("expected signature_invalid, got %s", res.Outcome)
	}
	if repo.completeCalls != 0 || repo.failCalls != 0 {
		t.Fatal("unauthenticated events must never reach the conditional updates")
	}
	if repo.transactions[tx.ID].Status != domain.StatusPending {
		t.Fatalf("status mutated by unauthenticated event: %s", repo.transactions[tx.ID].Status)
	}
}

func TestHandleCallbackAmountMismatchDoesNotMutate(t *testing.T) {
	tx := pendingTransaction(500000)
	repo := newStubRepo(tx)
	svc := NewService(repo, testGateway(), nil)

	// Properly signed event carrying the wrong amount.
	event := signedCallback(tx, "00", map[string]string{"vnp_Amount": "1234500"})
	res, err := svc.HandleCallback(context.Background(), event)
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if res.Outcome != OutcomeInvalidAmount {
		t.Fatalf("expected invalid_amount, got %s", res.Outcome)
	}
	if repo.completeCalls != 0 || repo.failCalls != 0 {
		t.Fatal("amount-mismatched events must not reach the conditional updates")
	}
	if repo.transactions[tx.ID].Status != domain.StatusPending {
		t.Fatalf("status mutated by mismatched event: %s", repo.transactions[tx.ID].Status)
	}
}

func TestHandleCallbackParsesGatewayPayDate(t *testing.T) {
	tx := pendingTransaction(500000)
	repo := newStubRepo(tx)
	svc := NewService(repo, testGateway(), nil)

	event := signedCallback(tx, "00", map[string]string{
		"vnp_Amount":  "50000000",
		"vnp_PayDate": "20250615143000",
	})
	res, err := svc.HandleCallback(context.Background(), event)
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("expected completed, got %s", res.Outcome)
	}

	// 2025-06-15 14:30:00 ICT is 07:30:00 UTC.
	want := time.Date(2025, 6, 15, 7, 30, 0, 0, time.UTC)
	if !repo.lastPaidAt.Equal(want) {
		t.Fatalf("paid date = %v, want %v", repo.lastPaidAt, want)
	}
}

// raceRepo is a minimal in-memory repository whose conditional transition is a
// real mutex-guarded compare-and-set, so two goroutines can genuinely race.
type raceRepo struct {
	store.Repository

	mu sync.Mutex
	tx *domain.Transaction
}

func (r *raceRepo) FindTransactionByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tx == nil || r.tx.ID != id {
		return nil, store.ErrTransactionNotFound
	}
	cp := *r.tx
	return &cp, nil
}

func (r *raceRepo) CompleteTransactionIfPending(ctx context.Context, id uuid.UUID, gatewayTxnRef string, paidAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tx == nil || r.tx.ID != id {
		return false, store.ErrTransactionNotFound
	}
	if r.tx.Status != domain.StatusPending {
		return false, nil
	}
	r.tx.Status = domain.StatusCompleted
	r.tx.GatewayTxnRef = &gatewayTxnRef
	r.tx.PaidDate = &paidAt
	return true, nil
}

func TestConcurrentCallbacksExactlyOneWinner(t *testing.T) {
	tx := pendingTransaction(500000)
	repo := &raceRepo{tx: tx}
	svc := NewService(repo, testGateway(), nil)
	event := signedCallback(tx, "00", map[string]string{"vnp_Amount": "50000000"})

	var wg sync.WaitGroup
	outcomes := make(chan CallbackOutcome, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.HandleCallback(context.Background(), event)
			if err != nil {
				t.Errorf("HandleCallback: %v", err)
				return
			}
			outcomes <- res.Outcome
		}()
	}
	wg.Wait()
	close(outcomes)

	counts := map[CallbackOutcome]int{}
	for o := range outcomes {
		counts[o]++
	}
	if counts[OutcomeCompleted] != 1 || counts[OutcomeAlreadyProcessed] != 1 {
		t.Fatalf("expected exactly one winner and one duplicate, got %v", counts)
	}
	if repo.tx.Status != domain.StatusCompleted {
		t.Fatalf("final status = %s", repo.tx.Status)
	}
}
