package gateway

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
		Name: "gateway_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"method", "endpoint"})

	settlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_settlements_total",
		Help: "Settlement outcomes by direction and result",
	}, []string{"direction", "result"})
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/payment/on-ramp", h.OnRamp).Methods("POST")
	r.HandleFunc("/payment/off-ramp", h.OffRamp).Methods("POST")
}

type rampRequest struct {
	UserID         string                `json:"userId"`
	WalletID       string                `json:"walletId"`
	TransactionID  string                `json:"transactionId"`
	Amount         int64                 `json:"amount"`
	Currency       string                `json:"currency"`
	AccountDetails domain.AccountDetails `json:"accountDetails"`
	IdempotencyKey string                `json:"idempotencyKey"`
}

type rampResponse struct {
	Success bool            `json:"success"`
	Payment *domain.Payment `json:"payment,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}

func (h *Handler) OnRamp(w http.ResponseWriter, r *http.Request) {
	h.ramp(w, r, "/payment/on-ramp", h.service.ProcessOnRamp, "onramp")
}

func (h *Handler) OffRamp(w http.ResponseWriter, r *http.Request) {
	h.ramp(w, r, "/payment/off-ramp", h.service.ProcessOffRamp, "offramp")
}

func (h *Handler) ramp(w http.ResponseWriter, r *http.Request, endpoint string,
	process func(ctx context.Context, p RampParams) (*RampResult, error), direction string) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	var req rampRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, domain.KindValidation, "Invalid JSON", "POST", endpoint)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	res, err := process(r.Context(), RampParams{
		UserID:         req.UserID,
		WalletID:       req.WalletID,
		TransactionID:  req.TransactionID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Account:        req.AccountDetails,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidAccount), errors.Is(err, ErrMissingKey):
			h.respondError(w, http.StatusBadRequest, domain.KindValidation, err.Error(), "POST", endpoint)
		default:
			h.respondError(w, http.StatusServiceUnavailable, domain.KindExternal, "Payment store unavailable", "POST", endpoint)
		}
		return
	}

	if res.Success {
		settlements.WithLabelValues(direction, "success").Inc()
		h.respondJSON(w, http.StatusOK, rampResponse{Success: true, Payment: res.Payment}, "POST", endpoint)
		return
	}
	settlements.WithLabelValues(direction, "failed").Inc()
	h.respondJSON(w, http.StatusOK, rampResponse{
		Success: false,
		Payment: res.Payment,
		Error:   res.ErrorCode,
		Message: res.ErrorMessage,
	}, "POST", endpoint)
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
