package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Lagnajit09/swiftpay-infraops-sub000/internal/domain"
)

var (
	ErrValidation       = errors.New("invalid request")
	ErrKeyReuseMismatch = errors.New("idempotency key reused with a different payload")
)

// Outcome is the three-way result of a ramp saga. Failed means nothing
// moved and the request is safe to retry with a new key;
// PendingReconciliation means the payment leg committed but the ledger leg
// did not, and the caller must not retry blindly.
type Outcome string

const (
	OutcomeSuccess               Outcome = "SUCCESS"
	OutcomeFailed                Outcome = "FAILED"
	OutcomePendingReconciliation Outcome = "PENDING_RECONCILIATION"
	// OutcomeInProgress is only ever produced by a replay: the stored
	// transaction is still PENDING without the reconciliation flag, so the
	// wallet was not necessarily touched yet.
	OutcomeInProgress Outcome = "IN_PROGRESS"
)

// RampResult reports an on-ramp or off-ramp saga run.
type RampResult struct {
	Outcome      Outcome
	Transaction  *domain.Transaction
	Balance      int64
	ErrorCode    string
	ErrorMessage string
	Replayed     bool
}

// P2PResult reports a wallet-to-wallet transfer saga run.
type P2PResult struct {
	Outcome          Outcome
	DebitTxn         *domain.Transaction
	CreditTxn        *domain.Transaction
	SenderBalance    int64
	RecipientBalance int64
	ErrorCode        string
	ErrorMessage     string
	Replayed         bool
}

// Service owns the Transaction record and sequences the saga: payment
// gateway first, ledger second, terminal status last. It never holds a
// database transaction across a remote call.
type Service struct {
	store   Store
	ledger  LedgerClient
	gateway GatewayClient
}

func NewService(store Store, ledger LedgerClient, gateway GatewayClient) *Service {
	return &Service{store: store, ledger: ledger, gateway: gateway}
}

// RampParams describes a client's add-money or withdraw request.
type RampParams struct {
	UserID          string
	Amount          int64
	Currency        string
	Description     string
	PaymentMethodID string
	Account         domain.AccountDetails
	IdempotencyKey  string
}

// OnRamp moves money into the platform: gateway settle, then ledger credit.
func (s *Service) OnRamp(ctx context.Context, p RampParams) (*RampResult, error) {
	return s.ramp(ctx, domain.FlowOnRamp, p)
}

// OffRamp moves money out of the platform: gateway settle, then ledger debit.
func (s *Service) OffRamp(ctx context.Context, p RampParams) (*RampResult, error) {
	return s.ramp(ctx, domain.FlowOffRamp, p)
}

func (s *Service) ramp(ctx context.Context, flow domain.TransactionFlow, p RampParams) (*RampResult, error) {
	if p.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if p.Account.AccountNumber == "" && p.Account.UpiID == "" {
		return nil, fmt.Errorf("%w: account number or UPI id required", ErrValidation)
	}

	reqHash := rampRequestHash(flow, p)

	if p.IdempotencyKey != "" {
		prior, err := s.store.FindByKey(ctx, p.UserID, p.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			if prior.Metadata["requestHash"] != reqHash {
				return nil, ErrKeyReuseMismatch
			}
			return s.rampReplay(prior), nil
		}
	}

	wallet, err := s.ledger.GetWallet(ctx, p.UserID)
	if err != nil {
		return nil, err
	}

	entryType := domain.EntryCredit
	if flow == domain.FlowOffRamp {
		entryType = domain.EntryDebit
	}
	txn := &domain.Transaction{
		ID:              uuid.NewString(),
		UserID:          p.UserID,
		WalletID:        wallet.ID,
		Amount:          p.Amount,
		Currency:        p.Currency,
		Type:            entryType,
		Flow:            flow,
		Status:          domain.TxnPending,
		Description:     p.Description,
		PaymentMethodID: p.PaymentMethodID,
		IdempotencyKey:  p.IdempotencyKey,
		Metadata:        map[string]string{"requestHash": reqHash},
	}
	if txn.Currency == "" {
		txn.Currency = wallet.Currency
	}
	if err := s.store.Create(ctx, txn); err != nil {
		if errors.Is(err, ErrDuplicateTxn) {
			prior, ferr := s.store.FindByKey(ctx, p.UserID, p.IdempotencyKey)
			if ferr != nil {
				return nil, ferr
			}
			if prior == nil {
				return nil, err
			}
			return s.rampReplay(prior), nil
		}
		return nil, err
	}

	// Step 1: payment gateway. A failure here is terminal; the wallet was
	// never touched.
	gwReq := GatewayRequest{
		UserID:         p.UserID,
		WalletID:       wallet.ID,
		TransactionID:  txn.ID,
		Amount:         p.Amount,
		Currency:       txn.Currency,
		AccountDetails: p.Account,
		IdempotencyKey: paymentKey(txn),
	}
	var gw *GatewayResult
	if flow == domain.FlowOnRamp {
		gw, err = s.gateway.OnRamp(ctx, gwReq)
	} else {
		gw, err = s.gateway.OffRamp(ctx, gwReq)
	}
	if err != nil {
		s.apply(ctx, txn, Update{
			Status: domain.TxnFailed,
			Metadata: map[string]string{
				"paymentError": err.Error(),
				"failedStage":  "payment",
			},
		})
		sagaOutcomes.WithLabelValues(string(flow), "failed").Inc()
		return &RampResult{
			Outcome:      OutcomeFailed,
			Transaction:  txn,
			ErrorCode:    "GATEWAY_ERROR",
			ErrorMessage: err.Error(),
		}, nil
	}
	if !gw.Success {
		u := Update{
			Status: domain.TxnFailed,
			Metadata: map[string]string{
				"paymentErrorCode": gw.Error,
				"paymentError":     gw.Message,
				"failedStage":      "payment",
			},
		}
		if gw.Payment != nil {
			u.PaymentReferenceID = gw.Payment.ID
		}
		s.apply(ctx, txn, u)
		sagaOutcomes.WithLabelValues(string(flow), "failed").Inc()
		return &RampResult{
			Outcome:      OutcomeFailed,
			Transaction:  txn,
			ErrorCode:    gw.Error,
			ErrorMessage: gw.Message,
		}, nil
	}

	u := Update{Metadata: map[string]string{}}
	if gw.Payment != nil {
		u.PaymentReferenceID = gw.Payment.ID
		u.Metadata["gatewayReference"] = gw.Payment.GatewayReference
		txn.PaymentReferenceID = gw.Payment.ID
	}
	s.apply(ctx, txn, u)

	// Step 2: ledger. Money already moved at the gateway, so a failure
	// here leaves the transaction PENDING for reconciliation rather than
	// failing it.
	ledgerCall := s.ledger.Credit
	if flow == domain.FlowOffRamp {
		ledgerCall = s.ledger.Debit
	}
	mut, err := ledgerCall(ctx, p.UserID, p.Amount, p.Description, txn.ID, ledgerKey(txn))
	if err != nil {
		s.apply(ctx, txn, Update{
			Metadata: map[string]string{
				"needsReconciliation": "true",
				"ledgerError":         err.Error(),
				"failedAt":            time.Now().UTC().Format(time.RFC3339),
			},
		})
		sagaOutcomes.WithLabelValues(string(flow), "pending_reconciliation").Inc()
		zap.L().Error("ledger leg failed after gateway success",
			zap.String("transaction_id", txn.ID),
			zap.String("flow", string(flow)),
			zap.Error(err))
		return &RampResult{
			Outcome:      OutcomePendingReconciliation,
			Transaction:  txn,
			ErrorCode:    "LEDGER_UNRESOLVED",
			ErrorMessage: err.Error(),
		}, nil
	}

	s.apply(ctx, txn, Update{
		Status:            domain.TxnSuccess,
		LedgerReferenceID: mut.LedgerEntryID,
		Metadata:          map[string]string{"balance": fmt.Sprintf("%d", mut.Balance)},
	})
	txn.Status = domain.TxnSuccess
	txn.LedgerReferenceID = mut.LedgerEntryID
	sagaOutcomes.WithLabelValues(string(flow), "success").Inc()
	zap.L().Info("ramp saga completed",
		zap.String("transaction_id", txn.ID),
		zap.String("flow", string(flow)),
		zap.Int64("amount", p.Amount),
		zap.Int64("balance", mut.Balance))
	return &RampResult{Outcome: OutcomeSuccess, Transaction: txn, Balance: mut.Balance}, nil
}

// P2PParams describes a wallet-to-wallet transfer request.
type P2PParams struct {
	SenderUserID    string
	RecipientUserID string
	Amount          int64
	Description     string
	IdempotencyKey  string
}

// P2P transfers between two wallets: no gateway leg, one atomic ledger
// call, two linked Transaction rows that always reach the same terminal
// status.
func (s *Service) P2P(ctx context.Context, p P2PParams) (*P2PResult, error) {
	if p.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if p.RecipientUserID == "" {
		return nil, fmt.Errorf("%w: recipient required", ErrValidation)
	}
	if p.RecipientUserID == p.SenderUserID {
		return nil, fmt.Errorf("%w: cannot transfer to self", ErrValidation)
	}

	if p.IdempotencyKey != "" {
		prior, err := s.store.FindByKey(ctx, p.SenderUserID, p.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			return s.p2pReplay(ctx, prior), nil
		}
	}

	senderWallet, err := s.ledger.GetWallet(ctx, p.SenderUserID)
	if err != nil {
		return nil, err
	}
	recipientWallet, err := s.ledger.GetWallet(ctx, p.RecipientUserID)
	if err != nil {
		return nil, err
	}

	debitID, creditID := uuid.NewString(), uuid.NewString()
	debit := &domain.Transaction{
		ID:             debitID,
		UserID:         p.SenderUserID,
		WalletID:       senderWallet.ID,
		Amount:         p.Amount,
		Currency:       senderWallet.Currency,
		Type:           domain.EntryDebit,
		Flow:           domain.FlowP2P,
		Status:         domain.TxnPending,
		Description:    p.Description,
		IdempotencyKey: p.IdempotencyKey,
		RelatedTxnID:   creditID,
		Metadata:       map[string]string{},
	}
	credit := &domain.Transaction{
		ID:           creditID,
		UserID:       p.RecipientUserID,
		WalletID:     recipientWallet.ID,
		Amount:       p.Amount,
		Currency:     senderWallet.Currency,
		Type:         domain.EntryCredit,
		Flow:         domain.FlowP2P,
		Status:       domain.TxnPending,
		Description:  p.Description,
		RelatedTxnID: debitID,
		Metadata:     map[string]string{},
	}
	if err := s.store.CreatePair(ctx, debit, credit); err != nil {
		if errors.Is(err, ErrDuplicateTxn) {
			prior, ferr := s.store.FindByKey(ctx, p.SenderUserID, p.IdempotencyKey)
			if ferr != nil {
				return nil, ferr
			}
			if prior == nil {
				return nil, err
			}
			return s.p2pReplay(ctx, prior), nil
		}
		return nil, err
	}

	transfer, err := s.ledger.P2PTransfer(ctx, p.SenderUserID, p.RecipientUserID,
		p.Amount, p.Description, debitID, creditID, "txn:"+debitID)
	if err != nil {
		// The ledger operation is atomic across both wallets, so both
		// rows fail together.
		failMeta := map[string]string{"ledgerError": err.Error(), "failedStage": "ledger"}
		s.apply(ctx, debit, Update{Status: domain.TxnFailed, Metadata: failMeta})
		s.apply(ctx, credit, Update{Status: domain.TxnFailed, Metadata: failMeta})
		sagaOutcomes.WithLabelValues("P2P", "failed").Inc()
		return &P2PResult{
			Outcome:      OutcomeFailed,
			DebitTxn:     debit,
			CreditTxn:    credit,
			ErrorCode:    "LEDGER_ERROR",
			ErrorMessage: err.Error(),
		}, nil
	}

	s.apply(ctx, debit, Update{
		Status:            domain.TxnSuccess,
		LedgerReferenceID: transfer.LedgerEntryID.DebitLedgerEntryID,
		Metadata:          map[string]string{"balance": fmt.Sprintf("%d", transfer.SenderBalance)},
	})
	s.apply(ctx, credit, Update{
		Status:            domain.TxnSuccess,
		LedgerReferenceID: transfer.LedgerEntryID.CreditLedgerEntryID,
		Metadata:          map[string]string{"balance": fmt.Sprintf("%d", transfer.RecipientBalance)},
	})
	debit.Status, credit.Status = domain.TxnSuccess, domain.TxnSuccess
	debit.LedgerReferenceID = transfer.LedgerEntryID.DebitLedgerEntryID
	credit.LedgerReferenceID = transfer.LedgerEntryID.CreditLedgerEntryID
	sagaOutcomes.WithLabelValues("P2P", "success").Inc()
	zap.L().Info("p2p saga completed",
		zap.String("debit_txn", debitID),
		zap.String("credit_txn", creditID),
		zap.Int64("amount", p.Amount))
	return &P2PResult{
		Outcome:          OutcomeSuccess,
		DebitTxn:         debit,
		CreditTxn:        credit,
		SenderBalance:    transfer.SenderBalance,
		RecipientBalance: transfer.RecipientBalance,
	}, nil
}

// apply updates the stored row and mirrors the metadata onto the in-memory
// copy; a lost status write is logged, not fatal, since the caller already
// holds the outcome.
func (s *Service) apply(ctx context.Context, t *domain.Transaction, u Update) {
	if err := s.store.Apply(ctx, t.ID, u); err != nil {
		zap.L().Error("transaction update failed",
			zap.String("transaction_id", t.ID), zap.Error(err))
	}
	if u.Status != "" {
		t.Status = u.Status
	}
	if t.Metadata == nil {
		t.Metadata = map[string]string{}
	}
	for k, v := range u.Metadata {
		t.Metadata[k] = v
	}
}

func (s *Service) rampReplay(t *domain.Transaction) *RampResult {
	res := &RampResult{Transaction: t, Replayed: true}
	switch {
	case t.Status == domain.TxnSuccess:
		res.Outcome = OutcomeSuccess
		fmt.Sscanf(t.Metadata["balance"], "%d", &res.Balance)
	case t.NeedsReconciliation():
		res.Outcome = OutcomePendingReconciliation
		res.ErrorCode = "LEDGER_UNRESOLVED"
		res.ErrorMessage = t.Metadata["ledgerError"]
	case t.Status == domain.TxnPending:
		res.Outcome = OutcomeInProgress
	default:
		res.Outcome = OutcomeFailed
		res.ErrorCode = t.Metadata["paymentErrorCode"]
		res.ErrorMessage = t.Metadata["paymentError"]
	}
	return res
}

func (s *Service) p2pReplay(ctx context.Context, debit *domain.Transaction) *P2PResult {
	res := &P2PResult{DebitTxn: debit, Replayed: true}
	if credit, err := s.store.Get(ctx, debit.RelatedTxnID); err == nil {
		res.CreditTxn = credit
		fmt.Sscanf(credit.Metadata["balance"], "%d", &res.RecipientBalance)
	}
	switch {
	case debit.Status == domain.TxnSuccess:
		res.Outcome = OutcomeSuccess
		fmt.Sscanf(debit.Metadata["balance"], "%d", &res.SenderBalance)
	case debit.NeedsReconciliation():
		res.Outcome = OutcomePendingReconciliation
	case debit.Status == domain.TxnPending:
		res.Outcome = OutcomeInProgress
	default:
		res.Outcome = OutcomeFailed
		res.ErrorCode = "LEDGER_ERROR"
		res.ErrorMessage = debit.Metadata["ledgerError"]
	}
	return res
}

// paymentKey derives the gateway idempotency key so a client retry with the
// same caller key reaches the gateway with the same derived key.
func paymentKey(t *domain.Transaction) string {
	if t.IdempotencyKey != "" {
		return t.IdempotencyKey + ":payment"
	}
	return "txn:" + t.ID + ":payment"
}

func ledgerKey(t *domain.Transaction) string {
	return "txn:" + t.ID + ":ledger"
}

func rampRequestHash(flow domain.TransactionFlow, p RampParams) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s|%s|%s|%s",
		flow, p.Amount, p.Currency, p.Account.AccountNumber, p.Account.UpiID, p.PaymentMethodID)))
	return hex.EncodeToString(h[:])
}
