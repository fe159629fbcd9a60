/**
 * @description
 * This package provides a client for the VNPay payment gateway. It builds the
 * signed redirect URL for the hosted payment page and issues the out-of-band
 * query/refund commands against the merchant API endpoint.
 *
 * The pay request and the callback channels sign an ampersand-joined sorted
 * parameter string; the query/refund commands sign a pipe-joined ordered field
 * list. Both routes go through the same Sign primitive.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package vnpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// Version is the VNPay API version this client speaks.
	Version = "2.1.0"
	// CurrencyCode is the only currency the gateway accepts from us.
	CurrencyCode = "VND"

	commandPay    = "pay"
	commandQuery  = "querydr"
	commandRefund = "refund"

	// maxAmountVND is the gateway's documented per-transaction ceiling
	// (amounts of one billion VND and above are rejected).
	maxAmountVND = 1_000_000_000

	dateLayout = "20060102150405"
)

// ErrInvalidAmount is returned when a pay or refund amount is outside the
// gateway's accepted range.
var ErrInvalidAmount = errors.New("vnpay: amount must be positive and below 1,000,000,000 VND")

// ValidateAmount checks a whole-VND amount against the gateway's accepted range.
func ValidateAmount(amount int64) error {
	if amount <= 0 || amount >= maxAmountVND {
		return ErrInvalidAmount
	}
	return nil
}

// Client talks to the VNPay gateway.
type Client struct {
	PayURL     string // hosted payment page, target of the signed redirect
	APIURL     string // merchant API endpoint for querydr/refund
	ReturnURL  string // our synchronous return endpoint, embedded in pay requests
	TmnCode    string
	HashSecret string
	HTTPClient *http.Client
}

// NewClient creates a new VNPay client.
func NewClient(payURL, apiURL, returnURL, tmnCode, hashSecret string) *Client {
	return &Client{
		PayURL:     payURL,
		APIURL:     apiURL,
		ReturnURL:  returnURL,
		TmnCode:    tmnCode,
		HashSecret: hashSecret,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// PayRequest carries everything needed to build a signed redirect URL for one
// PENDING transaction. CreateDate and ClientIP are explicit inputs so the
// builder stays pure.
type PayRequest struct {
	TxnRef     string // local transaction id, echoed back in callbacks
	Amount     int64  // whole VND; transmitted x100 per gateway contract
	OrderInfo  string
	OrderType  string
	Locale     string
	ClientIP   string
	CreateDate time.Time
}

// BuildPaymentURL assembles the full pay parameter set, signs it, and returns
// the redirect URL. It performs no I/O and never mutates transaction state.
func (c *Client) BuildPaymentURL(req PayRequest) (string, error) {
	if err := ValidateAmount(req.Amount); err != nil {
		return "", err
	}
	if strings.TrimSpace(req.TxnRef) == "" {
		return "", errors.New("vnpay: transaction reference is required")
	}

	params := Params{
		"vnp_Version":    Version,
		"vnp_Command":    commandPay,
		"vnp_TmnCode":    c.TmnCode,
		"vnp_Amount":     strconv.FormatInt(req.Amount*100, 10),
		"vnp_CurrCode":   CurrencyCode,
		"vnp_TxnRef":     req.TxnRef,
		"vnp_OrderInfo":  req.OrderInfo,
		"vnp_OrderType":  req.OrderType,
		"vnp_Locale":     req.Locale,
		"vnp_CreateDate": req.CreateDate.Format(dateLayout),
		"vnp_IpAddr":     req.ClientIP,
		"vnp_ReturnUrl":  c.ReturnURL,
	}

	secureHash := Sign(c.HashSecret, params.HashData(PayConvention.Separator))
	return c.PayURL + "?" + params.EncodedQuery() + "&vnp_SecureHash=" + secureHash, nil
}

// VerifyCallback checks the signature of an inbound callback parameter set
// against the client's hash secret.
func (c *Client) VerifyCallback(params Params) bool {
	return VerifySignature(c.HashSecret, params, params["vnp_SecureHash"], PayConvention)
}

// CommandResponse is the parsed body of a querydr/refund response. VNPay
// returns a flat JSON object of string fields.
type CommandResponse map[string]string

// ResponseCode returns the gateway result code ("00" means success).
func (r CommandResponse) ResponseCode() string { return r["vnp_ResponseCode"] }

// Message returns the human-readable gateway message, if any.
func (r CommandResponse) Message() string { return r["vnp_Message"] }

// QueryRequest carries the inputs for a querydr command.
type QueryRequest struct {
	RequestID       string
	TxnRef          string
	TransactionDate string // original vnp_CreateDate of the transaction, YYYYMMDDHHmmss
	OrderInfo       string
	ClientIP        string
	CreateDate      time.Time
}

// QueryTransaction asks the gateway for the current state of a transaction.
// The result is informational; it never drives the local state machine
// directly.
func (c *Client) QueryTransaction(ctx context.Context, req QueryRequest) (CommandResponse, error) {
	createDate := req.CreateDate.Format(dateLayout)

	// querydr signs a pipe-joined ordered field list, not the sorted map form.
	signingString := strings.Join([]string{
		req.RequestID, Version, commandQuery, c.TmnCode, req.TxnRef,
		req.TransactionDate, createDate, req.ClientIP, req.OrderInfo,
	}, "|")

	payload := map[string]string{
		"vnp_RequestId":       req.RequestID,
		"vnp_Version":         Version,
		"vnp_Command":         commandQuery,
		"vnp_TmnCode":         c.TmnCode,
		"vnp_TxnRef":          req.TxnRef,
		"vnp_TransactionDate": req.TransactionDate,
		"vnp_CreateDate":      createDate,
		"vnp_IpAddr":          req.ClientIP,
		"vnp_OrderInfo":       req.OrderInfo,
		"vnp_SecureHash":      Sign(c.HashSecret, signingString),
	}

	return c.doCommand(ctx, commandQuery, payload)
}

// RefundRequest carries the inputs for a refund command.
type RefundRequest struct {
	RequestID       string
	TxnRef          string
	Amount          int64  // whole VND
	TransactionNo   string // gateway transaction reference from the confirmation
	TransactionDate string // original vnp_CreateDate, YYYYMMDDHHmmss
	TransactionType string // "02" full refund, "03" partial
	CreateBy        string // operator identifier for the gateway audit trail
	OrderInfo       string
	ClientIP        string
	CreateDate      time.Time
}

// RefundTransaction issues a reversal for a confirmed transaction. The caller
// decides whether to move the local record to REFUNDED based on the response.
func (c *Client) RefundTransaction(ctx context.Context, req RefundRequest) (CommandResponse, error) {
	if err := ValidateAmount(req.Amount); err != nil {
		return nil, err
	}

	createDate := req.CreateDate.Format(dateLayout)
	amount := strconv.FormatInt(req.Amount*100, 10)

	signingString := strings.Join([]string{
		req.RequestID, Version, commandRefund, c.TmnCode, req.TransactionType,
		req.TxnRef, amount, req.TransactionNo, req.TransactionDate,
		req.CreateBy, createDate, req.ClientIP, req.OrderInfo,
	}, "|")

	payload := map[string]string{
		"vnp_RequestId":       req.RequestID,
		"vnp_Version":         Version,
		"vnp_Command":         commandRefund,
		"vnp_TmnCode":         c.TmnCode,
		"vnp_TransactionType": req.TransactionType,
		"vnp_TxnRef":          req.TxnRef,
		"vnp_Amount":          amount,
		"vnp_TransactionNo":   req.TransactionNo,
		"vnp_TransactionDate": req.TransactionDate,
		"vnp_CreateBy":        req.CreateBy,
		"vnp_CreateDate":      createDate,
		"vnp_IpAddr":          req.ClientIP,
		"vnp_OrderInfo":       req.OrderInfo,
		"vnp_SecureHash":      Sign(c.HashSecret, signingString),
	}

	return c.doCommand(ctx, commandRefund, payload)
}

// doCommand executes a signed synchronous POST against the merchant API.
func (c *Client) doCommand(ctx context.Context, command string, payload map[string]string) (CommandResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", command, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.APIURL, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", command, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute %s request: %w", command, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", command, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("level=warn component=vnpay_client op=%s status=%d msg=\"non-2xx response\"", command, resp.StatusCode)
		return nil, fmt.Errorf("vnpay %s returned status %d", command, resp.StatusCode)
	}

	var parsed CommandResponse
	if err := json.Unmarshal(bodyBytes, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", command, err)
	}

	return parsed, nil
}
