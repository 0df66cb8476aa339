package payments_http

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rentpay/internal/app/payments"
	"rentpay/internal/domain"
)

type stubService struct {
	initiateErr error
	callbackErr error
	outcome     domain.CallbackOutcome
	tx          *domain.Transaction
	listFilter  domain.TransactionFilter
	callbacks   int
	deliveries  []domain.CallbackDelivery
}

func (s *stubService) Initiate(_ context.Context, req payments.InitiateRequest) (*domain.Transaction, error) {
	if s.initiateErr != nil {
		return nil, s.initiateErr
	}
	return &domain.Transaction{
		ID:               "tx-1",
		LandlordID:       req.LandlordID,
		TenantID:         req.TenantID,
		Amount:           req.Amount,
		GatewayRequestID: "ws_CO_1",
		Status:           domain.TransactionStatusPending,
		CreatedAt:        time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}, nil
}

func (s *stubService) HandleCallback(_ context.Context, _ []byte) (domain.CallbackOutcome, error) {
	s.callbacks++
	return s.outcome, s.callbackErr
}

func (s *stubService) GetTransaction(_ context.Context, id string) (*domain.Transaction, error) {
	if s.tx == nil || s.tx.ID != id {
		return nil, domain.ErrTransactionNotFound
	}
	return s.tx, nil
}

func (s *stubService) ListLandlordTransactions(_ context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	s.listFilter = filter
	return nil, nil
}

func (s *stubService) ListCallbacks(_ context.Context, id string) ([]domain.CallbackDelivery, error) {
	if s.tx == nil || s.tx.ID != id {
		return nil, domain.ErrTransactionNotFound
	}
	return s.deliveries, nil
}

func (s *stubService) SweepTimedOut(context.Context) ([]domain.Transaction, error) {
	return nil, nil
}

func serve(svc *stubService, method, target, body string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	RegisterRoutes(r, svc, zap.NewNop())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
	return rec
}

const paymentBody = `{"landlordId":"landlord-1","tenantId":"tenant-1","phoneNumber":"0712345678","amount":1500,"accountReference":"A1-U3","description":"Rent"}`

func TestInitiatePayment(t *testing.T) {
	rec := serve(&stubService{}, http.MethodPost, "/payments", paymentBody)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"pending"`)
	assert.Contains(t, rec.Body.String(), `"gatewayRequestId":"ws_CO_1"`)
	assert.Contains(t, rec.Body.String(), `"amount":"1500"`)
}

func TestInitiatePaymentErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("amount: %w", domain.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("%w: landlord-1", domain.ErrCredentialsNotConfigured), http.StatusPreconditionFailed},
		{fmt.Errorf("%w: %w", domain.ErrInitiationFailed, domain.ErrGatewayUnavailable), http.StatusServiceUnavailable},
		{fmt.Errorf("bad phone: %w", domain.ErrInitiationFailed), http.StatusBadGateway},
		{fmt.Errorf("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := serve(&stubService{initiateErr: tt.err}, http.MethodPost, "/payments", paymentBody)
		assert.Equal(t, tt.code, rec.Code, tt.err.Error())
		assert.Contains(t, rec.Body.String(), `"error"`)
	}

	rec := serve(&stubService{initiateErr: domain.ErrCredentialsNotConfigured}, http.MethodPost, "/payments", paymentBody)
	assert.JSONEq(t, `{"error":"payment not set up"}`, rec.Body.String())

	rec = serve(&stubService{}, http.MethodPost, "/payments", `{"amount":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetPayment(t *testing.T) {
	svc := &stubService{tx: &domain.Transaction{
		ID:            "tx-1",
		Amount:        decimal.NewFromInt(1500),
		Status:        domain.TransactionStatusTimedOut,
		FailureReason: domain.TimedOutReason,
	}}

	rec := serve(svc, http.MethodGet, "/payments/tx-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"failureReason":"payment not confirmed, please retry"`)

	rec = serve(svc, http.MethodGet, "/payments/tx-2", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())
}

func TestGetPaymentMalformedID(t *testing.T) {
	svc := &stubService{tx: &domain.Transaction{ID: "3f0c6f2e-8f54-4d69-9d7e-5b0f4c1a2b3c"}}

	rec := serve(svc, http.MethodGet, "/payments/not-a-uuid", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())
}

func TestListPaymentCallbacks(t *testing.T) {
	received := time.Date(2026, 3, 1, 10, 7, 0, 0, time.UTC)
	svc := &stubService{
		tx: &domain.Transaction{ID: "tx-1", Status: domain.TransactionStatusTimedOut},
		deliveries: []domain.CallbackDelivery{{
			ID:               "d-1",
			GatewayRequestID: "ws_CO_1",
			Outcome:          domain.CallbackOutcomeLate,
			Payload:          []byte(`{"Body":{}}`),
			ReceivedAt:       received,
		}},
	}

	rec := serve(svc, http.MethodGet, "/payments/tx-1/callbacks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"id":"d-1","resultCode":0,"outcome":"late","payload":{"Body":{}},"receivedAt":"2026-03-01T10:07:00Z"}]`, rec.Body.String())

	rec = serve(svc, http.MethodGet, "/payments/tx-2/callbacks", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	svc.deliveries = nil
	rec = serve(svc, http.MethodGet, "/payments/tx-1/callbacks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestListLandlordPayments(t *testing.T) {
	svc := &stubService{}

	rec := serve(svc, http.MethodGet, "/landlord/landlord-1/payments?status=completed&limit=20&offset=40", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
	assert.Equal(t, domain.TransactionFilter{LandlordID: "landlord-1", Status: domain.TransactionStatusCompleted, Limit: 20, Offset: 40}, svc.listFilter)

	rec = serve(svc, http.MethodGet, "/landlord/landlord-1/payments?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallbackAcknowledgesEveryOutcome(t *testing.T) {
	for _, outcome := range []domain.CallbackOutcome{
		domain.CallbackOutcomeApplied,
		domain.CallbackOutcomeDuplicate,
		domain.CallbackOutcomeLate,
		domain.CallbackOutcomeUnknown,
	} {
		svc := &stubService{outcome: outcome}
		rec := serve(svc, http.MethodPost, "/mpesa/callback", `{"Body":{}}`)

		assert.Equal(t, http.StatusOK, rec.Code, string(outcome))
		assert.JSONEq(t, `{"ResultCode":0,"ResultDesc":"Accepted"}`, rec.Body.String())
		assert.Equal(t, 1, svc.callbacks)
	}
}

func TestCallbackMalformed(t *testing.T) {
	svc := &stubService{callbackErr: fmt.Errorf("missing CheckoutRequestID: %w", domain.ErrMalformedCallback)}

	rec := serve(svc, http.MethodPost, "/mpesa/callback", `{"Body":{"stkCallback":{}}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	rec := serve(&stubService{}, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
