package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"github.com/gruasrd/walletops/internal/domain"
	"github.com/gruasrd/walletops/internal/service"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wallet_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

type Handler struct {
	wallets *service.WalletService
}

func NewHandler(wallets *service.WalletService) *Handler {
	return &Handler{wallets: wallets}
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type processPaymentRequest struct {
	MetodoPago domain.PaymentMethod `json:"metodo_pago"`
	Monto      decimal.Decimal      `json:"monto"`
}

// ProcessServicePaymentHandler routes a completed service into the ledger.
// A duplicate event returns 200 with success=false rather than an error.
func (h *Handler) ProcessServicePaymentHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/services/{id}/payment"))
	defer timer.ObserveDuration()

	servicioID := mux.Vars(r)["id"]

	var req processPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respond(w, http.StatusBadRequest, errorBody("Malformed JSON body"), "POST", "/services/{id}/payment")
		return
	}
	if req.Monto.LessThanOrEqual(decimal.Zero) {
		h.respond(w, http.StatusUnprocessableEntity, errorBody("Positive amount required"), "POST", "/services/{id}/payment")
		return
	}
	if !req.MetodoPago.Valid() {
		h.respond(w, http.StatusUnprocessableEntity, errorBody("metodo_pago must be efectivo or tarjeta"), "POST", "/services/{id}/payment")
		return
	}

	result, err := h.wallets.ProcessServicePayment(r.Context(), servicioID, req.MetodoPago, req.Monto)
	if err != nil {
		h.respondError(w, err, "POST", "/services/{id}/payment")
		return
	}
	h.respond(w, http.StatusOK, result, "POST", "/services/{id}/payment")
}

func (h *Handler) CreateWalletHandler(w http.ResponseWriter, r *http.Request) {
	conductorID := mux.Vars(r)["id"]
	wallet, err := h.wallets.CreateWallet(r.Context(), conductorID)
	if err != nil {
		h.respondError(w, err, "POST", "/operators/{id}/wallet")
		return
	}
	h.respond(w, http.StatusCreated, wallet, "POST", "/operators/{id}/wallet")
}

func (h *Handler) GetWalletHandler(w http.ResponseWriter, r *http.Request) {
	conductorID := mux.Vars(r)["id"]
	wallet, err := h.wallets.GetWallet(r.Context(), conductorID)
	if err != nil {
		h.respondError(w, err, "GET", "/operators/{id}/wallet")
		return
	}
	if wallet == nil {
		h.respond(w, http.StatusNotFound, errorBody("Billetera no encontrada"), "GET", "/operators/{id}/wallet")
		return
	}
	h.respond(w, http.StatusOK, wallet, "GET", "/operators/{id}/wallet")
}

func (h *Handler) CashEligibilityHandler(w http.ResponseWriter, r *http.Request) {
	conductorID := mux.Vars(r)["id"]
	eligibility, err := h.wallets.CanAcceptCashService(r.Context(), conductorID)
	if err != nil {
		h.respondError(w, err, "GET", "/operators/{id}/cash-eligibility")
		return
	}
	h.respond(w, http.StatusOK, eligibility, "GET", "/operators/{id}/cash-eligibility")
}

func (h *Handler) TransactionHistoryHandler(w http.ResponseWriter, r *http.Request) {
	conductorID := mux.Vars(r)["id"]
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	txns, err := h.wallets.TransactionHistory(r.Context(), conductorID, limit)
	if err != nil {
		h.respondError(w, err, "GET", "/operators/{id}/transactions")
		return
	}
	h.respond(w, http.StatusOK, txns, "GET", "/operators/{id}/transactions")
}

func (h *Handler) StatementHandler(w http.ResponseWriter, r *http.Request) {
	conductorID := mux.Vars(r)["id"]

	var from, to *time.Time
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.respond(w, http.StatusBadRequest, errorBody("from must be RFC3339"), "GET", "/operators/{id}/statement")
			return
		}
		from = &parsed
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.respond(w, http.StatusBadRequest, errorBody("to must be RFC3339"), "GET", "/operators/{id}/statement")
			return
		}
		to = &parsed
	}

	stmt, err := h.wallets.OperatorStatement(r.Context(), conductorID, from, to)
	if err != nil {
		h.respondError(w, err, "GET", "/operators/{id}/statement")
		return
	}
	if stmt == nil {
		h.respond(w, http.StatusNotFound, errorBody("Billetera no encontrada"), "GET", "/operators/{id}/statement")
		return
	}
	h.respond(w, http.StatusOK, stmt, "GET", "/operators/{id}/statement")
}

type debtPaymentIntentRequest struct {
	Monto decimal.Decimal `json:"monto"`
}

func (h *Handler) CreateDebtPaymentIntentHandler(w http.ResponseWriter, r *http.Request) {
	conductorID := mux.Vars(r)["id"]

	var req debtPaymentIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respond(w, http.StatusBadRequest, errorBody("Malformed JSON body"), "POST", "/operators/{id}/debt-payments")
		return
	}

	intent, err := h.wallets.CreateDebtPaymentIntent(r.Context(), conductorID, req.Monto)
	if err != nil {
		h.respondError(w, err, "POST", "/operators/{id}/debt-payments")
		return
	}
	h.respond(w, http.StatusCreated, intent, "POST", "/operators/{id}/debt-payments")
}

type completeDebtPaymentRequest struct {
	Monto           decimal.Decimal `json:"monto"`
	PaymentIntentID string          `json:"payment_intent_id"`
}

// CompleteDebtPaymentHandler is invoked after the gateway confirms capture.
// Retried webhooks are detected through the recorded payment intent id and
// answered with the original application instead of double-applying.
func (h *Handler) CompleteDebtPaymentHandler(w http.ResponseWriter, r *http.Request) {
	walletID := mux.Vars(r)["id"]

	var req completeDebtPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respond(w, http.StatusBadRequest, errorBody("Malformed JSON body"), "POST", "/wallets/{id}/debt-payments/complete")
		return
	}
	if req.PaymentIntentID == "" {
		h.respond(w, http.StatusBadRequest, errorBody("payment_intent_id is required"), "POST", "/wallets/{id}/debt-payments/complete")
		return
	}

	existing, err := h.wallets.TransactionByPaymentIntent(r.Context(), req.PaymentIntentID)
	if err != nil {
		h.respondError(w, err, "POST", "/wallets/{id}/debt-payments/complete")
		return
	}
	if existing != nil {
		h.respond(w, http.StatusOK, map[string]any{
			"already_applied": true,
			"transaction":     existing,
		}, "POST", "/wallets/{id}/debt-payments/complete")
		return
	}

	result, err := h.wallets.CompleteDebtPayment(r.Context(), walletID, req.Monto, req.PaymentIntentID)
	if err != nil {
		h.respondError(w, err, "POST", "/wallets/{id}/debt-payments/complete")
		return
	}
	h.respond(w, http.StatusOK, result, "POST", "/wallets/{id}/debt-payments/complete")
}

type manualPayoutRequest struct {
	Monto       decimal.Decimal `json:"monto"`
	AdminID     string          `json:"admin_id"`
	Notes       *string         `json:"notes,omitempty"`
	EvidenceURL *string         `json:"evidence_url,omitempty"`
}

func (h *Handler) RecordManualPayoutHandler(w http.ResponseWriter, r *http.Request) {
	walletID := mux.Vars(r)["id"]

	var req manualPayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respond(w, http.StatusBadRequest, errorBody("Malformed JSON body"), "POST", "/wallets/{id}/manual-payouts")
		return
	}
	if req.AdminID == "" {
		h.respond(w, http.StatusBadRequest, errorBody("admin_id is required"), "POST", "/wallets/{id}/manual-payouts")
		return
	}

	txn, err := h.wallets.RecordManualPayout(r.Context(), walletID, req.Monto, req.AdminID, req.Notes, req.EvidenceURL)
	if err != nil {
		h.respondError(w, err, "POST", "/wallets/{id}/manual-payouts")
		return
	}
	h.respond(w, http.StatusCreated, txn, "POST", "/wallets/{id}/manual-payouts")
}

type adjustmentRequest struct {
	Type    domain.AdjustmentKind `json:"type"`
	Monto   decimal.Decimal       `json:"monto"`
	Reason  string                `json:"reason"`
	AdminID string                `json:"admin_id"`
}

func (h *Handler) AdminAdjustmentHandler(w http.ResponseWriter, r *http.Request) {
	walletID := mux.Vars(r)["id"]

	var req adjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respond(w, http.StatusBadRequest, errorBody("Malformed JSON body"), "POST", "/wallets/{id}/adjustments")
		return
	}
	if req.AdminID == "" || req.Reason == "" {
		h.respond(w, http.StatusBadRequest, errorBody("admin_id and reason are required"), "POST", "/wallets/{id}/adjustments")
		return
	}
	if req.Type != domain.AdjustBalance && req.Type != domain.AdjustDebt {
		h.respond(w, http.StatusUnprocessableEntity, errorBody("type must be balance or debt"), "POST", "/wallets/{id}/adjustments")
		return
	}

	wallet, err := h.wallets.AdminAdjustment(r.Context(), walletID, req.Type, req.Monto, req.Reason, req.AdminID)
	if err != nil {
		h.respondError(w, err, "POST", "/wallets/{id}/adjustments")
		return
	}
	h.respond(w, http.StatusOK, wallet, "POST", "/wallets/{id}/adjustments")
}

func (h *Handler) BlockCashServicesHandler(w http.ResponseWriter, r *http.Request) {
	walletID := mux.Vars(r)["id"]
	if err := h.wallets.BlockCashServices(r.Context(), walletID); err != nil {
		h.respondError(w, err, "POST", "/wallets/{id}/block")
		return
	}
	h.respond(w, http.StatusOK, map[string]bool{"blocked": true}, "POST", "/wallets/{id}/block")
}

func (h *Handler) UnblockCashServicesHandler(w http.ResponseWriter, r *http.Request) {
	walletID := mux.Vars(r)["id"]
	if err := h.wallets.UnblockCashServices(r.Context(), walletID); err != nil {
		h.respondError(w, err, "POST", "/wallets/{id}/unblock")
		return
	}
	h.respond(w, http.StatusOK, map[string]bool{"blocked": false}, "POST", "/wallets/{id}/unblock")
}

// respondError maps domain sentinels to status codes; anything unexpected
// becomes an opaque 500.
func (h *Handler) respondError(w http.ResponseWriter, err error, method, endpoint string) {
	switch {
	case errors.Is(err, domain.ErrWalletNotFound),
		errors.Is(err, domain.ErrServicioNotFound),
		errors.Is(err, domain.ErrConductorNotFound):
		h.respond(w, http.StatusNotFound, errorBody(err.Error()), method, endpoint)
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrNoPendingDebt),
		errors.Is(err, domain.ErrNoConductorAssigned):
		h.respond(w, http.StatusUnprocessableEntity, errorBody(err.Error()), method, endpoint)
	default:
		h.respond(w, http.StatusInternalServerError, errorBody("Internal Server Error"), method, endpoint)
	}
}

func (h *Handler) respond(w http.ResponseWriter, code int, payload interface{}, method, endpoint string) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	respondWithJSON(w, code, payload)
}

func errorBody(message string) map[string]string {
	return map[string]string{"error": message}
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
