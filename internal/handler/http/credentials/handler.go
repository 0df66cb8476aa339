package credentials_http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"rentpay/internal/app/credentials"
	"rentpay/internal/domain"
	"rentpay/internal/handler/http/response"
)

type CredentialHandler struct {
	vault  credentials.CredentialVault
	logger *zap.Logger
}

func NewCredentialHandler(v credentials.CredentialVault, l *zap.Logger) *CredentialHandler {
	return &CredentialHandler{vault: v, logger: l}
}

type CredentialsRequest struct {
	Shortcode      string `json:"shortcode"`
	Passkey        string `json:"passkey"`
	ConsumerKey    string `json:"consumerKey"`
	ConsumerSecret string `json:"consumerSecret"`
	Environment    string `json:"environment"`
}

type CredentialsResponse struct {
	Shortcode      string `json:"shortcode"`
	Passkey        string `json:"passkey"`
	ConsumerKey    string `json:"consumerKey"`
	ConsumerSecret string `json:"consumerSecret"`
	Environment    string `json:"environment"`
}

func (h *CredentialHandler) GetCredentialsHandler(w http.ResponseWriter, r *http.Request) {
	landlordID := chi.URLParam(r, "landlordId")

	cred, err := h.vault.Get(r.Context(), landlordID)
	if err != nil {
		if errors.Is(err, domain.ErrCredentialsNotFound) {
			response.Empty(w, http.StatusNotFound, h.logger)
			return
		}
		response.Error(w, http.StatusInternalServerError, "Internal server error", h.logger)
		return
	}

	response.JSON(w, http.StatusOK, CredentialsResponse{
		Shortcode:      cred.Shortcode,
		Passkey:        cred.Passkey,
		ConsumerKey:    cred.ConsumerKey,
		ConsumerSecret: cred.ConsumerSecret,
		Environment:    string(cred.Environment),
	}, h.logger)
}

func (h *CredentialHandler) UpsertCredentialsHandler(w http.ResponseWriter, r *http.Request) {
	landlordID := chi.URLParam(r, "landlordId")

	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Invalid request body for credentials upsert", zap.String("landlord_id", landlordID), zap.Error(err))
		response.Error(w, http.StatusBadRequest, "Invalid request body", h.logger)
		return
	}

	_, err := h.vault.Upsert(r.Context(), landlordID, domain.GatewayCredential{
		Shortcode:      req.Shortcode,
		Passkey:        req.Passkey,
		ConsumerKey:    req.ConsumerKey,
		ConsumerSecret: req.ConsumerSecret,
		Environment:    domain.Environment(req.Environment),
	})
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			response.Error(w, http.StatusBadRequest, err.Error(), h.logger)
			return
		}
		response.Error(w, http.StatusInternalServerError, "Internal server error", h.logger)
		return
	}

	response.JSON(w, http.StatusOK, response.MessageResponse{Message: "Payment credentials saved"}, h.logger)
}
