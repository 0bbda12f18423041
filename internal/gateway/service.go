package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Lagnajit09/swiftpay-infraops-sub000/internal/domain"
)

var (
	ErrInvalidAmount  = errors.New("amount must be positive")
	ErrInvalidAccount = errors.New("account number or UPI id required")
	ErrMissingKey     = errors.New("idempotency key required")
)

// RampParams describes one on-ramp or off-ramp request from the
// orchestrator.
type RampParams struct {
	UserID         string
	WalletID       string
	TransactionID  string
	Amount         int64
	Currency       string
	Account        domain.AccountDetails
	IdempotencyKey string
}

// RampResult is the adapter's verdict. Replayed is true when the
// idempotency key had already fixed an outcome and no new attempt was made.
type RampResult struct {
	Success      bool
	Payment      *domain.Payment
	ErrorCode    string
	ErrorMessage string
	Replayed     bool
}

// Service persists the Payment/PaymentAttempt audit trail around each bank
// call. Validation failures never create a gateway attempt.
type Service struct {
	store Store
	bank  Bank
}

func NewService(store Store, bank Bank) *Service {
	return &Service{store: store, bank: bank}
}

func (s *Service) ProcessOnRamp(ctx context.Context, p RampParams) (*RampResult, error) {
	return s.process(ctx, domain.PaymentOnRamp, p)
}

func (s *Service) ProcessOffRamp(ctx context.Context, p RampParams) (*RampResult, error) {
	return s.process(ctx, domain.PaymentOffRamp, p)
}

func (s *Service) process(ctx context.Context, typ domain.PaymentType, p RampParams) (*RampResult, error) {
	if p.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if p.Account.AccountNumber == "" && p.Account.UpiID == "" {
		return nil, ErrInvalidAccount
	}
	if p.IdempotencyKey == "" {
		return nil, ErrMissingKey
	}

	// Replay check before any side effect: a key already used for this
	// wallet returns the prior outcome unchanged, no re-settlement.
	prior, err := s.store.FindPaymentByKey(ctx, p.WalletID, p.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		return replayedResult(prior), nil
	}

	payment := domain.Payment{
		ID:             uuid.NewString(),
		UserID:         p.UserID,
		WalletID:       p.WalletID,
		TransactionID:  p.TransactionID,
		Amount:         p.Amount,
		Currency:       p.Currency,
		Status:         domain.PaymentPending,
		Type:           typ,
		IdempotencyKey: p.IdempotencyKey,
	}

	bankReq := BankRequest{
		Direction: typ,
		Amount:    p.Amount,
		Currency:  p.Currency,
		Account:   p.Account,
	}
	rawReq, err := json.Marshal(bankReq)
	if err != nil {
		return nil, fmt.Errorf("request marshal failed: %w", err)
	}
	attempt := domain.PaymentAttempt{
		ID:            uuid.NewString(),
		PaymentID:     payment.ID,
		Gateway:       s.bank.Name(),
		Status:        domain.AttemptInitiated,
		RawRequest:    string(rawReq),
		AttemptNumber: 1,
	}

	if err := s.store.CreatePayment(ctx, payment, attempt); err != nil {
		if errors.Is(err, ErrDuplicatePayment) {
			// Lost a race with a concurrent request carrying the same key.
			prior, ferr := s.store.FindPaymentByKey(ctx, p.WalletID, p.IdempotencyKey)
			if ferr != nil {
				return nil, ferr
			}
			if prior == nil {
				return nil, fmt.Errorf("duplicate payment without stored row: %w", err)
			}
			return replayedResult(prior), nil
		}
		return nil, err
	}

	resp, err := s.bank.Settle(ctx, bankReq)
	if err != nil {
		// Transport failure: the caller cannot know whether the bank acted,
		// but for the simulated contract a failed call settles nothing.
		if ferr := s.store.FinishAttempt(ctx, attempt.ID, domain.AttemptFailed, "", "GATEWAY_UNREACHABLE", err.Error()); ferr != nil {
			zap.L().Error("attempt update failed",
				zap.String("payment_id", payment.ID), zap.Error(ferr))
		}
		if ferr := s.store.FinalizePayment(ctx, payment.ID, domain.PaymentFailed, ""); ferr != nil {
			zap.L().Error("payment finalize failed",
				zap.String("payment_id", payment.ID), zap.Error(ferr))
		}
		payment.Status = domain.PaymentFailed
		zap.L().Warn("bank call failed",
			zap.String("payment_id", payment.ID), zap.Error(err))
		return &RampResult{
			Success:      false,
			Payment:      &payment,
			ErrorCode:    "GATEWAY_UNREACHABLE",
			ErrorMessage: err.Error(),
		}, nil
	}

	rawResp, _ := json.Marshal(resp)
	if !resp.Approved {
		if ferr := s.store.FinishAttempt(ctx, attempt.ID, domain.AttemptFailed, string(rawResp), resp.Code, resp.Message); ferr != nil {
			zap.L().Error("attempt update failed",
				zap.String("payment_id", payment.ID), zap.Error(ferr))
		}
		if ferr := s.store.FinalizePayment(ctx, payment.ID, domain.PaymentFailed, ""); ferr != nil {
			zap.L().Error("payment finalize failed",
				zap.String("payment_id", payment.ID), zap.Error(ferr))
		}
		payment.Status = domain.PaymentFailed
		zap.L().Info("payment declined",
			zap.String("payment_id", payment.ID), zap.String("code", resp.Code))
		return &RampResult{
			Success:      false,
			Payment:      &payment,
			ErrorCode:    resp.Code,
			ErrorMessage: resp.Message,
		}, nil
	}

	if err := s.store.FinishAttempt(ctx, attempt.ID, domain.AttemptSuccess, string(rawResp), "", ""); err != nil {
		return nil, err
	}
	if err := s.store.FinalizePayment(ctx, payment.ID, domain.PaymentSuccess, resp.Reference); err != nil {
		return nil, err
	}
	payment.Status = domain.PaymentSuccess
	payment.GatewayReference = resp.Reference
	zap.L().Info("payment settled",
		zap.String("payment_id", payment.ID),
		zap.String("gateway_reference", resp.Reference),
		zap.Int64("amount", p.Amount))
	return &RampResult{Success: true, Payment: &payment}, nil
}

func replayedResult(p *domain.Payment) *RampResult {
	res := &RampResult{
		Success:  p.Status == domain.PaymentSuccess,
		Payment:  p,
		Replayed: true,
	}
	if !res.Success {
		res.ErrorCode = "REPLAYED_FAILURE"
		res.ErrorMessage = fmt.Sprintf("payment %s previously resolved as %s", p.ID, p.Status)
	}
	return res
}
