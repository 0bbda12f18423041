package ledger

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

// Metrics
var (
	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"method", "endpoint"})

	casConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_cas_conflicts_total",
		Help: "Balance updates aborted by a version conflict",
	}, []string{"operation"})

	idempotentReplays = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_idempotent_replays_total",
		Help: "Mutations short-circuited by a previously used idempotency key",
	})
)

type Handler struct {
	engine *Engine
}

func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// Register mounts the wallet routes on the router.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/wallet", h.GetWallet).Methods("GET")
	r.HandleFunc("/wallet/credit", h.Credit).Methods("POST")
	r.HandleFunc("/wallet/debit", h.Debit).Methods("POST")
	r.HandleFunc("/wallet/p2p", h.P2PTransfer).Methods("POST")
	r.HandleFunc("/wallet/{id}/entries", h.ListEntries).Methods("GET")
	r.HandleFunc("/wallet/{id}/status", h.SetStatus).Methods("PATCH")
}

type mutationRequest struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description,omitempty"`
	ReferenceID string `json:"referenceId,omitempty"`
}

type p2pRequest struct {
	RecipientUserID string `json:"recipientUserId"`
	Amount          int64  `json:"amount"`
	Description     string `json:"description,omitempty"`
	ReferenceID     struct {
		DebitReferenceID  string `json:"debitReferenceId,omitempty"`
		CreditReferenceID string `json:"creditReferenceId,omitempty"`
	} `json:"referenceId"`
}

type mutationResponse struct {
	WalletID      string `json:"walletId"`
	Balance       int64  `json:"balance"`
	LedgerEntryID string `json:"ledgerEntryId"`
}

type p2pResponse struct {
	SenderWallet     string `json:"senderWallet"`
	RecipientWallet  string `json:"recipientWallet"`
	SenderBalance    int64  `json:"senderBalance"`
	RecipientBalance int64  `json:"recipientBalance"`
	LedgerEntryID    struct {
		DebitLedgerEntryID  string `json:"debitLedgerEntryId"`
		CreditLedgerEntryID string `json:"creditLedgerEntryId"`
	} `json:"ledgerEntryId"`
}

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		h.respondError(w, http.StatusBadRequest, domain.KindValidation, "Missing X-User-Id header", "GET", "/wallet")
		return
	}
	wallet, err := h.engine.GetOrCreateWallet(r.Context(), userID, r.URL.Query().Get("currency"))
	if err != nil {
		h.respondEngineError(w, err, "GET", "/wallet")
		return
	}
	h.respondJSON(w, http.StatusOK, wallet, "GET", "/wallet")
}

func (h *Handler) Credit(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "/wallet/credit", h.engine.Credit)
}

func (h *Handler) Debit(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "/wallet/debit", h.engine.Debit)
}

func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, endpoint string,
	op func(ctx context.Context, p MutationParams) (*MutationResult, error)) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		h.respondError(w, http.StatusBadRequest, domain.KindValidation, "Missing X-User-Id header", "POST", endpoint)
		return
	}

	var req mutationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, domain.KindValidation, "Invalid JSON", "POST", endpoint)
		return
	}
	if req.Amount <= 0 {
		h.respondError(w, http.StatusBadRequest, domain.KindValidation, "Amount must be positive", "POST", endpoint)
		return
	}

	wallet, err := h.engine.GetOrCreateWallet(r.Context(), userID, "")
	if err != nil {
		h.respondEngineError(w, err, "POST", endpoint)
		return
	}

	res, err := op(r.Context(), MutationParams{
		WalletID:       wallet.ID,
		Amount:         req.Amount,
		Description:    req.Description,
		ReferenceID:    req.ReferenceID,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.respondEngineError(w, err, "POST", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, mutationResponse{
		WalletID:      res.WalletID,
		Balance:       res.Balance,
		LedgerEntryID: res.EntryID,
	}, "POST", endpoint)
}

func (h *Handler) P2PTransfer(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", "/wallet/p2p"))
	defer timer.ObserveDuration()

	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		h.respondError(w, http.StatusBadRequest, domain.KindValidation, "Missing X-User-Id header", "POST", "/wallet/p2p")
		return
	}

	var req p2pRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, domain.KindValidation, "Invalid JSON", "POST", "/wallet/p2p")
		return
	}
	if req.Amount <= 0 {
		h.respondError(w, http.StatusBadRequest, domain.KindValidation, "Amount must be positive", "POST", "/wallet/p2p")
		return
	}
	if req.RecipientUserID == "" {
		h.respondError(w, http.StatusBadRequest, domain.KindValidation, "Recipient user id required", "POST", "/wallet/p2p")
		return
	}
	if req.RecipientUserID == userID {
		h.respondError(w, http.StatusBadRequest, domain.KindValidation, "Cannot transfer to self", "POST", "/wallet/p2p")
		return
	}

	sender, err := h.engine.GetOrCreateWallet(r.Context(), userID, "")
	if err != nil {
		h.respondEngineError(w, err, "POST", "/wallet/p2p")
		return
	}
	recipient, err := h.engine.GetOrCreateWallet(r.Context(), req.RecipientUserID, sender.Currency)
	if err != nil {
		h.respondEngineError(w, err, "POST", "/wallet/p2p")
		return
	}

	res, err := h.engine.P2PTransfer(r.Context(), TransferParams{
		SenderWalletID:    sender.ID,
		RecipientWalletID: recipient.ID,
		Amount:            req.Amount,
		Description:       req.Description,
		DebitReferenceID:  req.ReferenceID.DebitReferenceID,
		CreditReferenceID: req.ReferenceID.CreditReferenceID,
		IdempotencyKey:    r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.respondEngineError(w, err, "POST", "/wallet/p2p")
		return
	}

	resp := p2pResponse{
		SenderWallet:     res.SenderWalletID,
		RecipientWallet:  res.RecipientWalletID,
		SenderBalance:    res.SenderBalance,
		RecipientBalance: res.RecipientBalance,
	}
	resp.LedgerEntryID.DebitLedgerEntryID = res.DebitEntryID
	resp.LedgerEntryID.CreditLedgerEntryID = res.CreditEntryID
	h.respondJSON(w, http.StatusOK, resp, "POST", "/wallet/p2p")
}

func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	walletID := mux.Vars(r)["id"]
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	entries, err := h.engine.ListEntries(r.Context(), walletID, limit, offset)
	if err != nil {
		h.respondEngineError(w, err, "GET", "/wallet/{id}/entries")
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	h.respondJSON(w, http.StatusOK, entries, "GET", "/wallet/{id}/entries")
}

func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	walletID := mux.Vars(r)["id"]
	var req struct {
		Status domain.WalletStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, domain.KindValidation, "Invalid JSON", "PATCH", "/wallet/{id}/status")
		return
	}
	if err := h.engine.SetWalletStatus(r.Context(), walletID, req.Status); err != nil {
		h.respondEngineError(w, err, "PATCH", "/wallet/{id}/status")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"wallet_id": walletID, "status": string(req.Status)}, "PATCH", "/wallet/{id}/status")
}

func (h *Handler) respondEngineError(w http.ResponseWriter, err error, method, endpoint string) {
	switch {
	case errors.Is(err, ErrWalletNotFound):
		h.respondError(w, http.StatusNotFound, domain.KindNotFound, err.Error(), method, endpoint)
	case errors.Is(err, ErrWalletNotActive):
		h.respondError(w, http.StatusForbidden, domain.KindAuthorization, err.Error(), method, endpoint)
	case errors.Is(err, ErrInsufficientFunds), errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrSameWallet), errors.Is(err, ErrInvalidStatus):
		h.respondError(w, http.StatusBadRequest, domain.KindValidation, err.Error(), method, endpoint)
	case errors.Is(err, ErrConcurrencyConflict):
		h.respondError(w, http.StatusConflict, domain.KindConflict, err.Error(), method, endpoint)
	default:
		h.respondError(w, http.StatusServiceUnavailable, domain.KindExternal, "Ledger store unavailable", method, endpoint)
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload interface{}, method, endpoint string) {
	httpReqTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func (h *Handler) respondError(w http.ResponseWriter, code int, kind domain.ErrorKind, msg, method, endpoint string) {
	h.respondJSON(w, code, domain.ErrorResponse{Kind: kind, Error: msg}, method, endpoint)
}
