// Package server exposes the payment engine over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vitwit/x402pay/logger"
	"github.com/vitwit/x402pay/types"
	"github.com/vitwit/x402pay/utils"
)

// PaymentHeader carries the base64 payment claim.
const PaymentHeader = "X-Payment"

const maxBodyBytes = 1 << 20

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "x402pay",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "x402pay",
		Name:      "http_request_duration_seconds",
		Help:      "Latency distribution of HTTP requests",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 60},
	}, []string{"method", "endpoint"})
)

// Engine is the part of the payment engine the handlers use.
type Engine interface {
	Pricing() []types.Plan
	Quote(ctx context.Context, req *types.QuoteRequest) (*types.PaymentQuote, *types.PaymentRequirements, error)
	Settle(ctx context.Context, header string, req *types.SettleRequest) (*types.SettlementResult, error)
	GetQuote(ctx context.Context, id, userID string) (*types.PaymentQuote, error)
	ListQuotes(ctx context.Context, userID string, limit int) ([]*types.PaymentQuote, error)
	Account(ctx context.Context, userID string) (*types.Account, error)
}

type Handler struct {
	engine Engine
	logger logger.Logger
}

func NewHandler(engine Engine, log logger.Logger) *Handler {
	if log == nil {
		log = logger.NoopLogger{}
	}
	return &Handler{engine: engine, logger: log}
}

// Router registers every route, including /health and /metrics.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/pricing", h.PricingHandler).Methods("GET")
	api.HandleFunc("/payment/quote", h.QuoteHandler).Methods("POST")
	api.HandleFunc("/payment/process", h.ProcessHandler).Methods("POST")
	api.HandleFunc("/payment/quotes/{id}", h.GetQuoteHandler).Methods("GET")
	api.HandleFunc("/users/{userId}/transactions", h.TransactionsHandler).Methods("GET")
	api.HandleFunc("/users/{userId}/account", h.AccountHandler).Methods("GET")
	return r
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) PricingHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/pricing"
	plans := h.engine.Pricing()
	out := make(map[string]types.Plan, len(plans))
	for _, p := range plans {
		out[p.Key] = p
	}
	h.respond(w, "GET", endpoint, http.StatusOK, out)
}

// QuoteHandler answers 402 Payment Required with the requirements the payer
// must meet.
func (h *Handler) QuoteHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/payment/quote"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.respondError(w, "POST", endpoint, types.NewError(types.ErrInvalidRequest, "failed to read body"))
		return
	}
	req, err := utils.ParseQuoteRequest(body)
	if err != nil {
		h.respondError(w, "POST", endpoint, err)
		return
	}

	_, requirements, err := h.engine.Quote(r.Context(), req)
	if err != nil {
		h.respondError(w, "POST", endpoint, err)
		return
	}
	h.respond(w, "POST", endpoint, http.StatusPaymentRequired, requirements)
}

func (h *Handler) ProcessHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/payment/process"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	header := r.Header.Get(PaymentHeader)
	if header == "" {
		h.respondError(w, "POST", endpoint, types.NewError(types.ErrMalformedClaim, "missing %s header", PaymentHeader))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.respondError(w, "POST", endpoint, types.NewError(types.ErrInvalidRequest, "failed to read body"))
		return
	}
	req, err := utils.ParseSettleRequest(body)
	if err != nil {
		h.respondError(w, "POST", endpoint, err)
		return
	}

	result, err := h.engine.Settle(r.Context(), header, req)
	if err != nil {
		var xe *types.X402Error
		if errors.As(err, &xe) && xe.Code == types.ErrAlreadyCompleted {
			sig, _ := xe.Data.(string)
			h.respond(w, "POST", endpoint, http.StatusOK, &types.SettlementResult{
				Success:          true,
				AlreadyCompleted: true,
				Signature:        sig,
			})
			return
		}
		h.respondError(w, "POST", endpoint, err)
		return
	}
	h.respond(w, "POST", endpoint, http.StatusOK, result)
}

func (h *Handler) GetQuoteHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/payment/quotes/{id}"
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		h.respondError(w, "GET", endpoint, types.NewError(types.ErrInvalidRequest, "userId is required"))
		return
	}

	q, err := h.engine.GetQuote(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		h.respondError(w, "GET", endpoint, err)
		return
	}
	h.respond(w, "GET", endpoint, http.StatusOK, q)
}

func (h *Handler) TransactionsHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/users/{userId}/transactions"
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			h.respondError(w, "GET", endpoint, types.NewError(types.ErrInvalidRequest, "invalid limit %q", s))
			return
		}
		limit = n
	}

	quotes, err := h.engine.ListQuotes(r.Context(), mux.Vars(r)["userId"], limit)
	if err != nil {
		h.respondError(w, "GET", endpoint, err)
		return
	}
	h.respond(w, "GET", endpoint, http.StatusOK, quotes)
}

func (h *Handler) AccountHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/users/{userId}/account"
	acc, err := h.engine.Account(r.Context(), mux.Vars(r)["userId"])
	if err != nil {
		h.respondError(w, "GET", endpoint, err)
		return
	}
	h.respond(w, "GET", endpoint, http.StatusOK, acc)
}

// StatusFor maps an engine error to its HTTP status.
func StatusFor(err error) int {
	switch types.ErrorCode(err) {
	case types.ErrInvalidRequest, types.ErrInvalidPlan, types.ErrAmountOutOfBounds,
		types.ErrMalformedClaim, types.ErrUnsupportedVersion, types.ErrUnsupportedScheme,
		types.ErrNetworkMismatch, types.ErrUnsignedTransaction:
		return http.StatusBadRequest
	case types.ErrTransactionNotFound:
		return http.StatusNotFound
	case types.ErrDuplicateInFlight, types.ErrQuoteNotPending, types.ErrAlreadyCompleted:
		return http.StatusConflict
	case types.ErrNoValidTransferInstruction, types.ErrSimulationFailure,
		types.ErrOnChainFailure, types.ErrReconciliationMismatch:
		return http.StatusUnprocessableEntity
	case types.ErrNetworkSubmissionFailure:
		return http.StatusBadGateway
	case types.ErrConfirmationTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (h *Handler) respondError(w http.ResponseWriter, method, endpoint string, err error) {
	status := StatusFor(err)
	resp := errorResponse{Error: types.ErrorCode(err), Message: err.Error()}

	var xe *types.X402Error
	if errors.As(err, &xe) {
		resp.Message = xe.Message
		resp.Details = xe.Data
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", map[string]any{
			"method":   method,
			"endpoint": endpoint,
			"error":    err,
		})
		if resp.Error == "" {
			resp.Error = "InternalError"
		}
		resp.Message = "Internal Server Error"
		resp.Details = nil
	}
	h.respond(w, method, endpoint, status, resp)
}

func (h *Handler) respond(w http.ResponseWriter, method, endpoint string, code int, payload any) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	respondWithJSON(w, code, payload)
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
