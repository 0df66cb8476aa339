package payments_http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"rentpay/internal/app/payments"
)

func RegisterRoutes(r chi.Router, s payments.PaymentService, l *zap.Logger) {
	handler := NewPaymentHandler(s, l.With(zap.String("component", "PaymentHTTPHandler")))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Rent payment service is healthy!"))
	})

	r.Route("/payments", func(r chi.Router) {
		r.Post("/", handler.InitiatePaymentHandler)
		r.Get("/{transactionId}", handler.GetPaymentHandler)
		r.Get("/{transactionId}/callbacks", handler.ListPaymentCallbacksHandler)
	})
	r.Get("/landlord/{landlordId}/payments", handler.ListLandlordPaymentsHandler)

	r.Post("/mpesa/callback", handler.CallbackHandler)
}
