package gateway

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/Lagnajit09/swiftpay-infraops-sub000/internal/domain"
)

// BankRequest is the outbound settlement request sent to the external bank.
type BankRequest struct {
	Direction domain.PaymentType    `json:"direction"`
	Amount    int64                 `json:"amount"`
	Currency  string                `json:"currency"`
	Account   domain.AccountDetails `json:"account"`
}

// BankResponse is the bank's settlement verdict.
type BankResponse struct {
	Approved  bool   `json:"approved"`
	Reference string `json:"reference,omitempty"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Bank settles ramp requests with the external institution. The real
// integration lives behind this interface; the platform ships with a
// deterministic simulator.
type Bank interface {
	Name() string
	Settle(ctx context.Context, req BankRequest) (*BankResponse, error)
}

// SimulatedBank approves everything except a few magic account values,
// which lets the decline and failure paths be exercised end to end.
type SimulatedBank struct{}

func (SimulatedBank) Name() string { return "simulated-bank" }

func (SimulatedBank) Settle(_ context.Context, req BankRequest) (*BankResponse, error) {
	if req.Account.AccountNumber == "0000000000" || strings.HasSuffix(req.Account.UpiID, "@fail") {
		return &BankResponse{
			Approved: false,
			Code:     "GATEWAY_DECLINED",
			Message:  "settlement declined by bank",
		}, nil
	}
	return &BankResponse{
		Approved:  true,
		Reference: "SIM-" + uuid.NewString(),
	}, nil
}
