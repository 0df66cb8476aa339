package credentials_http

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"rentpay/internal/app/credentials"
)

func RegisterRoutes(r chi.Router, v credentials.CredentialVault, l *zap.Logger) {
	handler := NewCredentialHandler(v, l.With(zap.String("component", "CredentialHTTPHandler")))

	r.Get("/landlord/{landlordId}/credentials", handler.GetCredentialsHandler)
	r.Post("/landlord/{landlordId}/credentials", handler.UpsertCredentialsHandler)
}
