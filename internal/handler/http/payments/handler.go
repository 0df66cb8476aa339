package payments_http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"rentpay/internal/app/payments"
	"rentpay/internal/domain"
	"rentpay/internal/handler/http/response"
)

const maxCallbackBytes = 64 << 10

type PaymentHandler struct {
	service payments.PaymentService
	logger  *zap.Logger
}

func NewPaymentHandler(s payments.PaymentService, l *zap.Logger) *PaymentHandler {
	return &PaymentHandler{service: s, logger: l}
}

// CallbackAck is the body the gateway expects for an accepted notification.
type CallbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// CallbackDeliveryResponse is one recorded gateway notification.
type CallbackDeliveryResponse struct {
	ID         string          `json:"id"`
	ResultCode int             `json:"resultCode"`
	Outcome    string          `json:"outcome"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

func (h *PaymentHandler) InitiatePaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req payments.InitiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Invalid request body for payment initiation", zap.Error(err))
		response.Error(w, http.StatusBadRequest, "Invalid request body", h.logger)
		return
	}

	tx, err := h.service.Initiate(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrValidation):
			response.Error(w, http.StatusBadRequest, err.Error(), h.logger)
		case errors.Is(err, domain.ErrCredentialsNotConfigured):
			response.Error(w, http.StatusPreconditionFailed, "payment not set up", h.logger)
		case errors.Is(err, domain.ErrGatewayUnavailable):
			response.Error(w, http.StatusServiceUnavailable, "payment gateway unavailable, please retry", h.logger)
		case errors.Is(err, domain.ErrInitiationFailed):
			response.Error(w, http.StatusBadGateway, "payment request was rejected by the gateway", h.logger)
		default:
			h.logger.Error("Failed to initiate payment", zap.String("landlord_id", req.LandlordID), zap.Error(err))
			response.Error(w, http.StatusInternalServerError, "Internal server error", h.logger)
		}
		return
	}

	response.JSON(w, http.StatusCreated, tx, h.logger)
}

func (h *PaymentHandler) GetPaymentHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "transactionId")

	tx, err := h.service.GetTransaction(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrTransactionNotFound) {
			response.Empty(w, http.StatusNotFound, h.logger)
			return
		}
		h.logger.Error("Failed to get payment", zap.String("transaction_id", id), zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "Internal server error", h.logger)
		return
	}

	response.JSON(w, http.StatusOK, tx, h.logger)
}

// ListPaymentCallbacksHandler shows every notification received for a
// transaction, so late confirmations can be reconciled by hand.
func (h *PaymentHandler) ListPaymentCallbacksHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "transactionId")

	deliveries, err := h.service.ListCallbacks(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrTransactionNotFound) {
			response.Empty(w, http.StatusNotFound, h.logger)
			return
		}
		h.logger.Error("Failed to list payment callbacks", zap.String("transaction_id", id), zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "Internal server error", h.logger)
		return
	}

	resp := make([]CallbackDeliveryResponse, 0, len(deliveries))
	for _, d := range deliveries {
		payload := json.RawMessage(d.Payload)
		if !json.Valid(payload) {
			payload = json.RawMessage("null")
		}
		resp = append(resp, CallbackDeliveryResponse{
			ID:         d.ID,
			ResultCode: d.ResultCode,
			Outcome:    string(d.Outcome),
			Payload:    payload,
			ReceivedAt: d.ReceivedAt,
		})
	}
	response.JSON(w, http.StatusOK, resp, h.logger)
}

func (h *PaymentHandler) ListLandlordPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	filter := domain.TransactionFilter{
		LandlordID: chi.URLParam(r, "landlordId"),
		Status:     domain.TransactionStatus(r.URL.Query().Get("status")),
	}

	var err error
	if filter.Limit, err = intQuery(r, "limit"); err != nil {
		response.Error(w, http.StatusBadRequest, "limit must be a non-negative integer", h.logger)
		return
	}
	if filter.Offset, err = intQuery(r, "offset"); err != nil {
		response.Error(w, http.StatusBadRequest, "offset must be a non-negative integer", h.logger)
		return
	}

	txs, err := h.service.ListLandlordTransactions(r.Context(), filter)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			response.Error(w, http.StatusBadRequest, err.Error(), h.logger)
			return
		}
		h.logger.Error("Failed to list payments", zap.String("landlord_id", filter.LandlordID), zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "Internal server error", h.logger)
		return
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}

	response.JSON(w, http.StatusOK, txs, h.logger)
}

// CallbackHandler acknowledges every well-formed notification, including
// redeliveries and ones for unknown requests.
func (h *PaymentHandler) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBytes))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request body", h.logger)
		return
	}

	outcome, err := h.service.HandleCallback(r.Context(), payload)
	if err != nil {
		if errors.Is(err, domain.ErrMalformedCallback) {
			response.Error(w, http.StatusBadRequest, err.Error(), h.logger)
			return
		}
		h.logger.Error("Failed to process gateway callback", zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "Internal server error", h.logger)
		return
	}

	h.logger.Debug("Gateway callback acknowledged", zap.String("outcome", string(outcome)))
	response.JSON(w, http.StatusOK, CallbackAck{ResultCode: 0, ResultDesc: "Accepted"}, h.logger)
}

func intQuery(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + key)
	}
	return n, nil
}
