package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Lagnajit09/swiftpay-infraops-sub000/internal/domain"
)

var (
	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orchestrator_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"method", "endpoint"})

	sagaOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_saga_outcomes_total",
		Help: "Saga runs by flow and outcome",
	}, []string{"flow", "outcome"})
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Register mounts the transaction routes. Static paths are registered
// before the {id} catch-all.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/transaction/p2p", h.P2P).Methods("POST")
	r.HandleFunc("/transaction/on-ramp", h.OnRamp).Methods("POST")
	r.HandleFunc("/transaction/off-ramp", h.OffRamp).Methods("POST")
	r.HandleFunc("/transaction/all", h.ListAll).Methods("GET")
	r.HandleFunc("/transaction/summary", h.Summary).Methods("GET")
	r.HandleFunc("/transaction/pending", h.ListPending).Methods("GET")
	r.HandleFunc("/transaction/wallet/{walletId}", h.ListByWallet).Methods("GET")
	r.HandleFunc("/transaction/{id}", h.Get).Methods("GET")
	r.HandleFunc("/transaction/{id}/cancel", h.Cancel).Methods("PATCH")
}

type rampRequest struct {
	Amount          int64                 `json:"amount"`
	Currency        string                `json:"currency,omitempty"`
	Description     string                `json:"description,omitempty"`
	PaymentMethodID string                `json:"paymentMethodId,omitempty"`
	AccountDetails  domain.AccountDetails `json:"accountDetails"`
}

type p2pRequest struct {
	RecipientUserID string `json:"recipientUserId"`
	Amount          int64  `json:"amount"`
	Description     string `json:"description,omitempty"`
}

type rampResponse struct {
	Status              string              `json:"status"`
	Transaction         *domain.Transaction `json:"transaction"`
	Balance             int64               `json:"balance,omitempty"`
	NeedsReconciliation bool                `json:"needs_reconciliation,omitempty"`
	Error               string              `json:"error,omitempty"`
	Message             string              `json:"message,omitempty"`
}

type p2pResponse struct {
	Status           string              `json:"status"`
	DebitTxn         *domain.Transaction `json:"debit_transaction"`
	CreditTxn        *domain.Transaction `json:"credit_transaction,omitempty"`
	SenderBalance    int64               `json:"sender_balance,omitempty"`
	RecipientBalance int64               `json:"recipient_balance,omitempty"`
	Error            string              `json:"error,omitempty"`
	Message          string              `json:"message,omitempty"`
}

func (h *Handler) OnRamp(w http.ResponseWriter, r *http.Request) {
	h.ramp(w, r, "/transaction/on-ramp", h.service.OnRamp)
}

func (h *Handler) OffRamp(w http.ResponseWriter, r *http.Request) {
	h.ramp(w, r, "/transaction/off-ramp", h.service.OffRamp)
}

func (h *Handler) ramp(w http.ResponseWriter, r *http.Request, endpoint string,
	run func(ctx context.Context, p RampParams) (*RampResult, error)) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		h.respondError(w, http.StatusBadRequest, domain.KindValidation, "Missing X-User-Id header", "", "POST", endpoint)
		return
	}
	var req rampRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, domain.KindValidation, "Invalid JSON", "", "POST", endpoint)
		return
	}

	res, err := run(r.Context(), RampParams{
		UserID:          userID,
		Amount:          req.Amount,
		Currency:        req.Currency,
		Description:     req.Description,
		PaymentMethodID: req.PaymentMethodID,
		Account:         req.AccountDetails,
		IdempotencyKey:  r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.respondSagaError(w, err, "POST", endpoint)
		return
	}
	h.respondRamp(w, res, endpoint)
}

func (h *Handler) respondRamp(w http.ResponseWriter, res *RampResult, endpoint string) {
	switch res.Outcome {
	case OutcomeSuccess:
		h.respondJSON(w, http.StatusOK, rampResponse{
			Status:      string(domain.TxnSuccess),
			Transaction: res.Transaction,
			Balance:     res.Balance,
		}, "POST", endpoint)
	case OutcomePendingReconciliation:
		// Money moved at the gateway but is not yet reflected in the
		// balance: accepted, not failed.
		h.respondJSON(w, http.StatusAccepted, rampResponse{
			Status:              string(domain.TxnPending),
			Transaction:         res.Transaction,
			NeedsReconciliation: true,
			Error:               res.ErrorCode,
			Message:             res.ErrorMessage,
		}, "POST", endpoint)
	case OutcomeInProgress:
		h.respondJSON(w, http.StatusAccepted, rampResponse{
			Status:      string(domain.TxnPending),
			Transaction: res.Transaction,
		}, "POST", endpoint)
	default:
		h.respondJSON(w, http.StatusUnprocessableEntity, rampResponse{
			Status:      string(domain.TxnFailed),
			Transaction: res.Transaction,
			Error:       res.ErrorCode,
			Message:     res.ErrorMessage,
		}, "POST", endpoint)
	}
}

func (h *Handler) P2P(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", "/transaction/p2p"))
	defer timer.ObserveDuration()

	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		h.respondError(w, http.StatusBadRequest, domain.KindValidation, "Missing X-User-Id header", "", "POST", "/transaction/p2p")
		return
	}
	var req p2pRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, domain.KindValidation, "Invalid JSON", "", "POST", "/transaction/p2p")
		return
	}

	res, err := h.service.P2P(r.Context(), P2PParams{
		SenderUserID:    userID,
		RecipientUserID: req.RecipientUserID,
		Amount:          req.Amount,
		Description:     req.Description,
		IdempotencyKey:  r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.respondSagaError(w, err, "POST", "/transaction/p2p")
		return
	}

	resp := p2pResponse{
		DebitTxn:         res.DebitTxn,
		CreditTxn:        res.CreditTxn,
		SenderBalance:    res.SenderBalance,
		RecipientBalance: res.RecipientBalance,
		Error:            res.ErrorCode,
		Message:          res.ErrorMessage,
	}
	switch res.Outcome {
	case OutcomeSuccess:
		resp.Status = string(domain.TxnSuccess)
		h.respondJSON(w, http.StatusOK, resp, "POST", "/transaction/p2p")
	case OutcomePendingReconciliation, OutcomeInProgress:
		resp.Status = string(domain.TxnPending)
		h.respondJSON(w, http.StatusAccepted, resp, "POST", "/transaction/p2p")
	default:
		resp.Status = string(domain.TxnFailed)
		h.respondJSON(w, http.StatusUnprocessableEntity, resp, "POST", "/transaction/p2p")
	}
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	enriched, err := h.service.GetTransaction(r.Context(), id)
	if err != nil {
		h.respondSagaError(w, err, "GET", "/transaction/{id}")
		return
	}
	h.respondJSON(w, http.StatusOK, enriched, "GET", "/transaction/{id}")
}

func (h *Handler) ListAll(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		h.respondError(w, http.StatusBadRequest, domain.KindValidation, "Missing X-User-Id header", "", "GET", "/transaction/all")
		return
	}
	limit, offset := pagination(r)
	txns, err := h.service.ListTransactions(r.Context(), userID, limit, offset)
	if err != nil {
		h.respondSagaError(w, err, "GET", "/transaction/all")
		return
	}
	if txns == nil {
		txns = []domain.Transaction{}
	}
	h.respondJSON(w, http.StatusOK, txns, "GET", "/transaction/all")
}

func (h *Handler) ListByWallet(w http.ResponseWriter, r *http.Request) {
	walletID := mux.Vars(r)["walletId"]
	limit, offset := pagination(r)
	txns, err := h.service.ListByWallet(r.Context(), walletID, limit, offset)
	if err != nil {
		h.respondSagaError(w, err, "GET", "/transaction/wallet/{walletId}")
		return
	}
	if txns == nil {
		txns = []domain.Transaction{}
	}
	h.respondJSON(w, http.StatusOK, txns, "GET", "/transaction/wallet/{walletId}")
}

func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	txns, err := h.service.ListPending(r.Context(), limit, offset)
	if err != nil {
		h.respondSagaError(w, err, "GET", "/transaction/pending")
		return
	}
	if txns == nil {
		txns = []domain.Transaction{}
	}
	h.respondJSON(w, http.StatusOK, txns, "GET", "/transaction/pending")
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		h.respondError(w, http.StatusBadRequest, domain.KindValidation, "Missing X-User-Id header", "", "GET", "/transaction/summary")
		return
	}
	rows, err := h.service.Summary(r.Context(), userID)
	if err != nil {
		h.respondSagaError(w, err, "GET", "/transaction/summary")
		return
	}
	if rows == nil {
		rows = []SummaryRow{}
	}
	h.respondJSON(w, http.StatusOK, rows, "GET", "/transaction/summary")
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		h.respondError(w, http.StatusBadRequest, domain.KindValidation, "Missing X-User-Id header", "", "PATCH", "/transaction/{id}/cancel")
		return
	}
	id := mux.Vars(r)["id"]
	t, err := h.service.Cancel(r.Context(), id, userID)
	if err != nil {
		h.respondSagaError(w, err, "PATCH", "/transaction/{id}/cancel")
		return
	}
	h.respondJSON(w, http.StatusOK, t, "PATCH", "/transaction/{id}/cancel")
}

func (h *Handler) respondSagaError(w http.ResponseWriter, err error, method, endpoint string) {
	var down *DownstreamError
	switch {
	case errors.Is(err, ErrValidation):
		h.respondError(w, http.StatusBadRequest, domain.KindValidation, err.Error(), "", method, endpoint)
	case errors.Is(err, ErrKeyReuseMismatch):
		h.respondError(w, http.StatusUnprocessableEntity, domain.KindConflict, err.Error(), "", method, endpoint)
	case errors.Is(err, ErrTxnNotFound):
		h.respondError(w, http.StatusNotFound, domain.KindNotFound, err.Error(), "", method, endpoint)
	case errors.Is(err, ErrNotCancellable):
		h.respondError(w, http.StatusConflict, domain.KindConflict, err.Error(), "", method, endpoint)
	case errors.As(err, &down):
		h.respondError(w, http.StatusBadGateway, down.Kind, down.Message, "", method, endpoint)
	default:
		h.respondError(w, http.StatusInternalServerError, domain.KindInternal, "Internal error", "", method, endpoint)
	}
}

func pagination(r *http.Request) (int, int) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}

func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload interface{}, method, endpoint string) {
	httpReqTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func (h *Handler) respondError(w http.ResponseWriter, code int, kind domain.ErrorKind, msg, txnID, method, endpoint string) {
	h.respondJSON(w, code, domain.ErrorResponse{Kind: kind, Error: msg, TransactionID: txnID}, method, endpoint)
}
