package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Lagnajit09/swiftpay-infraops-sub000/internal/domain"
)

// DownstreamError is a non-2xx response from a collaborator service,
// carrying its error taxonomy through to the saga.
type DownstreamError struct {
	Service string
	Status  int
	Kind    domain.ErrorKind
	Message string
}

func (e *DownstreamError) Error() string {
	return fmt.Sprintf("%s returned %d (%s): %s", e.Service, e.Status, e.Kind, e.Message)
}

// LedgerMutation is the ledger engine's response to a credit or debit.
type LedgerMutation struct {
	WalletID      string `json:"walletId"`
	Balance       int64  `json:"balance"`
	LedgerEntryID string `json:"ledgerEntryId"`
}

// LedgerTransfer is the ledger engine's response to a P2P transfer.
type LedgerTransfer struct {
	SenderWallet     string `json:"senderWallet"`
	RecipientWallet  string `json:"recipientWallet"`
	SenderBalance    int64  `json:"senderBalance"`
	RecipientBalance int64  `json:"recipientBalance"`
	LedgerEntryID    struct {
		DebitLedgerEntryID  string `json:"debitLedgerEntryId"`
		CreditLedgerEntryID string `json:"creditLedgerEntryId"`
	} `json:"ledgerEntryId"`
}

// LedgerClient is the orchestrator's view of the wallet ledger engine.
type LedgerClient interface {
	GetWallet(ctx context.Context, userID string) (*domain.Wallet, error)
	Credit(ctx context.Context, userID string, amount int64, description, referenceID, idemKey string) (*LedgerMutation, error)
	Debit(ctx context.Context, userID string, amount int64, description, referenceID, idemKey string) (*LedgerMutation, error)
	P2PTransfer(ctx context.Context, senderUserID, recipientUserID string, amount int64, description, debitRef, creditRef, idemKey string) (*LedgerTransfer, error)
	ListEntries(ctx context.Context, walletID string, limit int) ([]domain.LedgerEntry, error)
}

// GatewayRequest is the orchestrator's call to the payment gateway adapter.
type GatewayRequest struct {
	UserID         string                `json:"userId"`
	WalletID       string                `json:"walletId"`
	TransactionID  string                `json:"transactionId"`
	Amount         int64                 `json:"amount"`
	Currency       string                `json:"currency"`
	AccountDetails domain.AccountDetails `json:"accountDetails"`
	IdempotencyKey string                `json:"idempotencyKey"`
}

// GatewayResult mirrors the adapter's response contract.
type GatewayResult struct {
	Success bool            `json:"success"`
	Payment *domain.Payment `json:"payment,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}

// GatewayClient is the orchestrator's view of the payment gateway adapter.
type GatewayClient interface {
	OnRamp(ctx context.Context, req GatewayRequest) (*GatewayResult, error)
	OffRamp(ctx context.Context, req GatewayRequest) (*GatewayResult, error)
}

// HTTPLedgerClient talks to the ledger engine over HTTP+JSON. All calls
// carry the client's bounded timeout; the saga never holds a database
// transaction across these calls.
type HTTPLedgerClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPLedgerClient(baseURL string, timeout time.Duration) *HTTPLedgerClient {
	return &HTTPLedgerClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPLedgerClient) GetWallet(ctx context.Context, userID string) (*domain.Wallet, error) {
	var w domain.Wallet
	if err := c.call(ctx, "GET", "/wallet", userID, "", nil, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (c *HTTPLedgerClient) Credit(ctx context.Context, userID string, amount int64, description, referenceID, idemKey string) (*LedgerMutation, error) {
	return c.mutate(ctx, "/wallet/credit", userID, amount, description, referenceID, idemKey)
}

func (c *HTTPLedgerClient) Debit(ctx context.Context, userID string, amount int64, description, referenceID, idemKey string) (*LedgerMutation, error) {
	return c.mutate(ctx, "/wallet/debit", userID, amount, description, referenceID, idemKey)
}

func (c *HTTPLedgerClient) mutate(ctx context.Context, path, userID string, amount int64, description, referenceID, idemKey string) (*LedgerMutation, error) {
	body := map[string]any{
		"amount":      amount,
		"description": description,
		"referenceId": referenceID,
	}
	var out LedgerMutation
	if err := c.call(ctx, "POST", path, userID, idemKey, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPLedgerClient) P2PTransfer(ctx context.Context, senderUserID, recipientUserID string, amount int64, description, debitRef, creditRef, idemKey string) (*LedgerTransfer, error) {
	body := map[string]any{
		"recipientUserId": recipientUserID,
		"amount":          amount,
		"description":     description,
		"referenceId": map[string]string{
			"debitReferenceId":  debitRef,
			"creditReferenceId": creditRef,
		},
	}
	var out LedgerTransfer
	if err := c.call(ctx, "POST", "/wallet/p2p", senderUserID, idemKey, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPLedgerClient) ListEntries(ctx context.Context, walletID string, limit int) ([]domain.LedgerEntry, error) {
	var out []domain.LedgerEntry
	path := fmt.Sprintf("/wallet/%s/entries?limit=%d", walletID, limit)
	if err := c.call(ctx, "GET", path, "", "", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPLedgerClient) call(ctx context.Context, method, path, userID, idemKey string, body, out any) error {
	return doJSON(ctx, c.client, "ledger", method, c.baseURL+path, userID, idemKey, body, out)
}

// HTTPGatewayClient talks to the payment gateway adapter over HTTP+JSON.
type HTTPGatewayClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPGatewayClient(baseURL string, timeout time.Duration) *HTTPGatewayClient {
	return &HTTPGatewayClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPGatewayClient) OnRamp(ctx context.Context, req GatewayRequest) (*GatewayResult, error) {
	return c.ramp(ctx, "/payment/on-ramp", req)
}

func (c *HTTPGatewayClient) OffRamp(ctx context.Context, req GatewayRequest) (*GatewayResult, error) {
	return c.ramp(ctx, "/payment/off-ramp", req)
}

func (c *HTTPGatewayClient) ramp(ctx context.Context, path string, req GatewayRequest) (*GatewayResult, error) {
	var out GatewayResult
	if err := doJSON(ctx, c.client, "gateway", "POST", c.baseURL+path, "", req.IdempotencyKey, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func doJSON(ctx context.Context, client *http.Client, service, method, url, userID, idemKey string, body, out any) error {
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			return fmt.Errorf("%s request encode failed: %w", service, err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
	}
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return &DownstreamError{
			Service: service,
			Status:  0,
			Kind:    domain.KindExternal,
			Message: err.Error(),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var errBody domain.ErrorResponse
		if derr := json.NewDecoder(resp.Body).Decode(&errBody); derr != nil || errBody.Kind == "" {
			errBody = domain.ErrorResponse{Kind: domain.KindExternal, Error: resp.Status}
		}
		return &DownstreamError{
			Service: service,
			Status:  resp.StatusCode,
			Kind:    errBody.Kind,
			Message: errBody.Error,
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s response decode failed: %w", service, err)
	}
	return nil
}
