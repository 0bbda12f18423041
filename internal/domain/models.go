package domain

import (
	"time"
)

// WalletStatus controls whether a wallet may be mutated.
type WalletStatus string

const (
	WalletActive    WalletStatus = "ACTIVE"
	WalletSuspended WalletStatus = "SUSPENDED"
	WalletClosed    WalletStatus = "CLOSED"
)

// EntryType is the direction of a ledger entry relative to the wallet.
type EntryType string

const (
	EntryCredit EntryType = "CREDIT"
	EntryDebit  EntryType = "DEBIT"
)

// Wallet holds a user's balance in minor currency units.
// Balance must always equal the signed sum of the wallet's ledger entries.
type Wallet struct {
	ID        string       `json:"id"`
	UserID    string       `json:"user_id"`
	Currency  string       `json:"currency"`
	Balance   int64        `json:"balance"`
	Status    WalletStatus `json:"status"`
	Version   int64        `json:"version"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// LedgerEntry is the immutable record of one balance-affecting event.
// BalanceAfter is captured at write time so an idempotent replay can return
// the result of the original application.
type LedgerEntry struct {
	ID             string            `json:"id"`
	WalletID       string            `json:"wallet_id"`
	Type           EntryType         `json:"type"`
	Amount         int64             `json:"amount"`
	BalanceAfter   int64             `json:"balance_after"`
	ReferenceID    string            `json:"reference_id,omitempty"`
	Description    string            `json:"description,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// TransactionFlow distinguishes how money enters, leaves, or moves inside
// the platform.
type TransactionFlow string

const (
	FlowP2P     TransactionFlow = "P2P"
	FlowOnRamp  TransactionFlow = "ONRAMP"
	FlowOffRamp TransactionFlow = "OFFRAMP"
)

// TransactionStatus is the orchestrator-visible lifecycle state.
type TransactionStatus string

const (
	TxnPending   TransactionStatus = "PENDING"
	TxnSuccess   TransactionStatus = "SUCCESS"
	TxnFailed    TransactionStatus = "FAILED"
	TxnCancelled TransactionStatus = "CANCELLED"
	TxnReversed  TransactionStatus = "REVERSED"
)

// Transaction is the orchestrator's record of one logical money movement.
// A P2P transfer produces two rows (debit + credit) linked via RelatedTxnID.
type Transaction struct {
	ID                 string            `json:"id"`
	UserID             string            `json:"user_id"`
	WalletID           string            `json:"wallet_id,omitempty"`
	Amount             int64             `json:"amount"`
	Currency           string            `json:"currency"`
	Type               EntryType         `json:"type"`
	Flow               TransactionFlow   `json:"flow"`
	Status             TransactionStatus `json:"status"`
	Description        string            `json:"description,omitempty"`
	PaymentMethodID    string            `json:"payment_method_id,omitempty"`
	IdempotencyKey     string            `json:"idempotency_key,omitempty"`
	LedgerReferenceID  string            `json:"ledger_reference_id,omitempty"`
	PaymentReferenceID string            `json:"payment_reference_id,omitempty"`
	RelatedTxnID       string            `json:"related_txn_id,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// IsTerminal reports whether no further status transition is allowed.
func (t *Transaction) IsTerminal() bool {
	return t.Status == TxnSuccess || t.Status == TxnFailed ||
		t.Status == TxnCancelled || t.Status == TxnReversed
}

// NeedsReconciliation reports whether the payment leg committed but the
// ledger leg did not.
func (t *Transaction) NeedsReconciliation() bool {
	return t.Status == TxnPending && t.Metadata["needsReconciliation"] == "true"
}

// PaymentStatus is the gateway adapter's lifecycle state for a payment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentSuccess   PaymentStatus = "SUCCESS"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentCancelled PaymentStatus = "CANCELLED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
)

// PaymentType mirrors the ramp direction at the gateway.
type PaymentType string

const (
	PaymentOnRamp  PaymentType = "ONRAMP"
	PaymentOffRamp PaymentType = "OFFRAMP"
)

// Payment is the gateway adapter's record of one ramp request.
type Payment struct {
	ID               string        `json:"id"`
	UserID           string        `json:"user_id"`
	WalletID         string        `json:"wallet_id"`
	TransactionID    string        `json:"transaction_id"`
	Amount           int64         `json:"amount"`
	Currency         string        `json:"currency"`
	Status           PaymentStatus `json:"status"`
	Type             PaymentType   `json:"type"`
	GatewayReference string        `json:"gateway_reference,omitempty"`
	IdempotencyKey   string        `json:"idempotency_key"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// AttemptStatus tracks one outbound call to the external gateway.
type AttemptStatus string

const (
	AttemptInitiated AttemptStatus = "INITIATED"
	AttemptSuccess   AttemptStatus = "SUCCESS"
	AttemptFailed    AttemptStatus = "FAILED"
	AttemptRetrying  AttemptStatus = "RETRYING"
)

// PaymentAttempt is the audit trail of one gateway invocation. Rows are
// append-only; only status and response fields on the same attempt are
// updated after the call returns.
type PaymentAttempt struct {
	ID            string        `json:"id"`
	PaymentID     string        `json:"payment_id"`
	Gateway       string        `json:"gateway"`
	Status        AttemptStatus `json:"status"`
	RawRequest    string        `json:"raw_request,omitempty"`
	RawResponse   string        `json:"raw_response,omitempty"`
	ErrorCode     string        `json:"error_code,omitempty"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	AttemptNumber int           `json:"attempt_number"`
	CreatedAt     time.Time     `json:"created_at"`
}

// AccountDetails identifies the external destination or source of a ramp.
// At least one of AccountNumber or UpiID must be present.
type AccountDetails struct {
	AccountNumber string `json:"account_number,omitempty"`
	IFSC          string `json:"ifsc,omitempty"`
	UpiID         string `json:"upi_id,omitempty"`
	HolderName    string `json:"holder_name,omitempty"`
}
