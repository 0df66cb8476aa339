package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rentpay/internal/domain"
	"rentpay/internal/gateway/mpesa"
	"rentpay/internal/validation"
)

type fakeVault map[string]*domain.GatewayCredential

func (v fakeVault) Get(_ context.Context, landlordID string) (*domain.GatewayCredential, error) {
	cred, ok := v[landlordID]
	if !ok {
		return nil, domain.ErrCredentialsNotFound
	}
	return cred, nil
}

type fakeTokens struct {
	acquired    int
	invalidated int
	err         error
}

func (f *fakeTokens) Acquire(_ context.Context, _ *domain.GatewayCredential) (string, error) {
	f.acquired++
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("token-%d", f.acquired-f.invalidated), nil
}

func (f *fakeTokens) Invalidate(_ context.Context, _ *domain.GatewayCredential) {
	f.invalidated++
}

type fakeGateway struct {
	errs   []error
	calls  int
	onPush func(ctx context.Context)
	last   mpesa.PaymentRequest

	// acceptLate answers successfully even when the request context expired
	// while the gateway was processing it.
	acceptLate bool
}

func (g *fakeGateway) PushPayment(ctx context.Context, _ *domain.GatewayCredential, _ string, req mpesa.PaymentRequest) (*mpesa.PushResponse, error) {
	g.calls++
	g.last = req
	if g.onPush != nil {
		g.onPush(ctx)
	}
	if g.calls <= len(g.errs) && g.errs[g.calls-1] != nil {
		return nil, g.errs[g.calls-1]
	}
	if ctx.Err() != nil && !g.acceptLate {
		return nil, fmt.Errorf("request aborted: %w", domain.ErrGatewayUnavailable)
	}
	return &mpesa.PushResponse{
		MerchantRequestID: "29115-1",
		CheckoutRequestID: fmt.Sprintf("ws_CO_%d", g.calls),
		ResponseCode:      "0",
	}, nil
}

// memoryStore applies the same transition rules as the database-backed
// state machine, keyed by gateway request id.
type memoryStore struct {
	mu         sync.Mutex
	byRequest  map[string]*domain.Transaction
	deliveries []domain.CallbackOutcome
	recorded   []domain.CallbackDelivery
	now        func() time.Time
}

func newMemoryStore(now func() time.Time) *memoryStore {
	return &memoryStore{byRequest: make(map[string]*domain.Transaction), now: now}
}

func (m *memoryStore) Open(ctx context.Context, t *domain.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byRequest[t.GatewayRequestID]; ok {
		return domain.ErrDuplicateGatewayRequest
	}
	t.ID = "tx-" + t.GatewayRequestID
	t.Status = domain.TransactionStatusPending
	t.CreatedAt = m.now()
	stored := *t
	m.byRequest[t.GatewayRequestID] = &stored
	return nil
}

func (m *memoryStore) ApplyCallback(_ context.Context, res *domain.CallbackResult, _ []byte) (domain.CallbackOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byRequest[res.GatewayRequestID]
	var outcome domain.CallbackOutcome
	switch {
	case !ok:
		outcome = domain.CallbackOutcomeUnknown
	case t.Status == domain.TransactionStatusTimedOut:
		outcome = domain.CallbackOutcomeLate
	case t.Status.IsTerminal():
		outcome = domain.CallbackOutcomeDuplicate
	default:
		if err := t.ApplyCallback(res, m.now()); err != nil {
			return "", err
		}
		outcome = domain.CallbackOutcomeApplied
	}
	m.deliveries = append(m.deliveries, outcome)
	m.recorded = append(m.recorded, domain.CallbackDelivery{
		GatewayRequestID: res.GatewayRequestID,
		ResultCode:       res.ResultCode,
		Outcome:          outcome,
		ReceivedAt:       m.now(),
	})
	return outcome, nil
}

func (m *memoryStore) SweepTimedOut(_ context.Context, olderThan time.Time) ([]domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var swept []domain.Transaction
	for _, t := range m.byRequest {
		if t.Status == domain.TransactionStatusPending && t.CreatedAt.Before(olderThan) {
			if err := t.TimeOut(m.now()); err != nil {
				return nil, err
			}
			swept = append(swept, *t)
		}
	}
	return swept, nil
}

func (m *memoryStore) Get(_ context.Context, id string) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.byRequest {
		if t.ID == id {
			c := *t
			return &c, nil
		}
	}
	return nil, domain.ErrTransactionNotFound
}

func (m *memoryStore) Callbacks(_ context.Context, id string) ([]domain.CallbackDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.byRequest {
		if t.ID == id {
			var out []domain.CallbackDelivery
			for _, d := range m.recorded {
				if d.GatewayRequestID == t.GatewayRequestID {
					out = append(out, d)
				}
			}
			return out, nil
		}
	}
	return nil, domain.ErrTransactionNotFound
}

func (m *memoryStore) List(_ context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Transaction
	for _, t := range m.byRequest {
		if t.LandlordID == filter.LandlordID && (filter.Status == "" || t.Status == filter.Status) {
			out = append(out, *t)
		}
	}
	return out, nil
}

type fixture struct {
	svc     *paymentService
	tokens  *fakeTokens
	gateway *fakeGateway
	store   *memoryStore
	now     *time.Time
}

func newFixture(t *testing.T) *fixture {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	f := &fixture{
		tokens:  &fakeTokens{},
		gateway: &fakeGateway{},
		now:     &now,
	}
	clock := func() time.Time { return *f.now }
	f.store = newMemoryStore(clock)
	vault := fakeVault{
		"landlord-1": {
			LandlordID:     "landlord-1",
			Shortcode:      "174379",
			Passkey:        "passkey",
			ConsumerKey:    "ck",
			ConsumerSecret: "cs",
			Environment:    domain.EnvironmentSandbox,
		},
	}
	cfg := Config{
		MaxAttempts:    3,
		GatewayTimeout: 5 * time.Second,
		RetryInterval:  time.Millisecond,
		PendingTimeout: 5 * time.Minute,
	}
	f.svc = newPaymentService(vault, f.tokens, f.gateway, f.store, validation.New(), cfg, clock, zap.NewNop())
	return f
}

func rentRequest() InitiateRequest {
	return InitiateRequest{
		LandlordID:       "landlord-1",
		TenantID:         "tenant-1",
		ApartmentID:      "apt-1",
		UnitID:           "unit-3",
		PhoneNumber:      "0712 345 678",
		Amount:           decimal.NewFromInt(1500),
		AccountReference: "A1-U3",
		Description:      "Rent March",
	}
}

func successPayload(requestID, receipt string) []byte {
	return []byte(fmt.Sprintf(`{"Body":{"stkCallback":{"MerchantRequestID":"29115-1","CheckoutRequestID":%q,"ResultCode":0,"ResultDesc":"The service request is processed successfully.","CallbackMetadata":{"Item":[{"Name":"Amount","Value":1500},{"Name":"MpesaReceiptNumber","Value":%q},{"Name":"PhoneNumber","Value":254712345678}]}}}}`, requestID, receipt))
}

func failurePayload(requestID string, code int, desc string) []byte {
	return []byte(fmt.Sprintf(`{"Body":{"stkCallback":{"MerchantRequestID":"29115-1","CheckoutRequestID":%q,"ResultCode":%d,"ResultDesc":%q}}}`, requestID, code, desc))
}

func TestInitiateRecordsPendingTransaction(t *testing.T) {
	f := newFixture(t)

	tx, err := f.svc.Initiate(context.Background(), rentRequest())
	require.NoError(t, err)

	assert.Equal(t, domain.TransactionStatusPending, tx.Status)
	assert.Equal(t, "ws_CO_1", tx.GatewayRequestID)
	assert.Equal(t, "254712345678", tx.PhoneNumber)
	assert.True(t, decimal.NewFromInt(1500).Equal(tx.Amount))
	assert.Equal(t, "254712345678", f.gateway.last.PhoneNumber)
	assert.Equal(t, 1, f.gateway.calls)
}

func TestInitiateWithoutCredentials(t *testing.T) {
	f := newFixture(t)
	req := rentRequest()
	req.LandlordID = "landlord-2"

	_, err := f.svc.Initiate(context.Background(), req)

	assert.ErrorIs(t, err, domain.ErrCredentialsNotConfigured)
	assert.Equal(t, 0, f.tokens.acquired)
	assert.Equal(t, 0, f.gateway.calls)
	assert.Empty(t, f.store.byRequest)
}

func TestInitiateValidation(t *testing.T) {
	tests := map[string]func(r *InitiateRequest){
		"zero amount":         func(r *InitiateRequest) { r.Amount = decimal.Zero },
		"fractional amount":   func(r *InitiateRequest) { r.Amount = decimal.RequireFromString("99.50") },
		"bad phone":           func(r *InitiateRequest) { r.PhoneNumber = "555-0100" },
		"missing tenant":      func(r *InitiateRequest) { r.TenantID = "" },
		"long reference":      func(r *InitiateRequest) { r.AccountReference = "APARTMENT-101-B" },
		"long description":    func(r *InitiateRequest) { r.Description = "Rent for March 2026" },
		"missing description": func(r *InitiateRequest) { r.Description = "  " },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			req := rentRequest()
			mutate(&req)

			_, err := f.svc.Initiate(context.Background(), req)
			assert.ErrorIs(t, err, domain.ErrValidation)
			assert.Equal(t, 0, f.gateway.calls)
		})
	}
}

func TestInitiateRetriesWhileGatewayUnavailable(t *testing.T) {
	f := newFixture(t)
	f.gateway.errs = []error{domain.ErrGatewayUnavailable, domain.ErrGatewayUnavailable}

	tx, err := f.svc.Initiate(context.Background(), rentRequest())
	require.NoError(t, err)

	assert.Equal(t, 3, f.gateway.calls)
	assert.Equal(t, "ws_CO_3", tx.GatewayRequestID)
	assert.Len(t, f.store.byRequest, 1)
}

func TestInitiateGivesUpAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	f.gateway.errs = []error{domain.ErrGatewayUnavailable, domain.ErrGatewayUnavailable, domain.ErrGatewayUnavailable, nil}

	_, err := f.svc.Initiate(context.Background(), rentRequest())

	assert.ErrorIs(t, err, domain.ErrInitiationFailed)
	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)
	assert.Equal(t, 3, f.gateway.calls)
	assert.Empty(t, f.store.byRequest)
}

func TestInitiateTokenFailureCountsAsUnavailable(t *testing.T) {
	f := newFixture(t)
	f.tokens.err = fmt.Errorf("token: %w", domain.ErrGatewayUnavailable)

	_, err := f.svc.Initiate(context.Background(), rentRequest())

	assert.ErrorIs(t, err, domain.ErrInitiationFailed)
	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)
	assert.Equal(t, 3, f.tokens.acquired)
	assert.Equal(t, 0, f.gateway.calls)
}

func TestInitiateRejectedIsNotRetried(t *testing.T) {
	f := newFixture(t)
	f.gateway.errs = []error{fmt.Errorf("invalid phone: %w", domain.ErrInitiationFailed)}

	_, err := f.svc.Initiate(context.Background(), rentRequest())

	assert.ErrorIs(t, err, domain.ErrInitiationFailed)
	assert.False(t, errors.Is(err, domain.ErrGatewayUnavailable))
	assert.Equal(t, 1, f.gateway.calls)
	assert.Empty(t, f.store.byRequest)
}

func TestInitiateRefreshesRejectedToken(t *testing.T) {
	f := newFixture(t)
	f.gateway.errs = []error{domain.ErrTokenRejected}

	_, err := f.svc.Initiate(context.Background(), rentRequest())
	require.NoError(t, err)

	assert.Equal(t, 1, f.tokens.invalidated)
	assert.Equal(t, 2, f.gateway.calls)
}

func TestInitiateSurvivesCallerCancellation(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.gateway.onPush = func(context.Context) { cancel() }

	tx, err := f.svc.Initiate(ctx, rentRequest())
	require.NoError(t, err)

	assert.Equal(t, 1, f.gateway.calls)
	assert.Contains(t, f.store.byRequest, tx.GatewayRequestID)
}

func TestInitiateRecordsPushAcceptedAtGatewayDeadline(t *testing.T) {
	f := newFixture(t)
	f.svc.cfg.GatewayTimeout = 20 * time.Millisecond
	f.gateway.acceptLate = true
	f.gateway.onPush = func(ctx context.Context) { <-ctx.Done() }

	tx, err := f.svc.Initiate(context.Background(), rentRequest())
	require.NoError(t, err)

	assert.Equal(t, 1, f.gateway.calls)
	assert.Contains(t, f.store.byRequest, tx.GatewayRequestID)
}

func TestCallbackCompletesTransaction(t *testing.T) {
	f := newFixture(t)
	tx, err := f.svc.Initiate(context.Background(), rentRequest())
	require.NoError(t, err)

	*f.now = f.now.Add(30 * time.Second)
	outcome, err := f.svc.HandleCallback(context.Background(), successPayload(tx.GatewayRequestID, "NLJ7RT61SV"))
	require.NoError(t, err)
	assert.Equal(t, domain.CallbackOutcomeApplied, outcome)

	got, err := f.svc.GetTransaction(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCompleted, got.Status)
	assert.Equal(t, "NLJ7RT61SV", got.GatewayReceiptID)
	require.NotNil(t, got.ResolvedAt)
	assert.Equal(t, *f.now, *got.ResolvedAt)
}

func TestCallbackFailsTransaction(t *testing.T) {
	f := newFixture(t)
	tx, err := f.svc.Initiate(context.Background(), rentRequest())
	require.NoError(t, err)

	outcome, err := f.svc.HandleCallback(context.Background(), failurePayload(tx.GatewayRequestID, 1032, "Request cancelled by user"))
	require.NoError(t, err)
	assert.Equal(t, domain.CallbackOutcomeApplied, outcome)

	got, err := f.svc.GetTransaction(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusFailed, got.Status)
	assert.Equal(t, "Request cancelled by user", got.FailureReason)
	require.NotNil(t, got.ResultCode)
	assert.Equal(t, 1032, *got.ResultCode)
}

func TestCallbackIsIdempotent(t *testing.T) {
	f := newFixture(t)
	tx, err := f.svc.Initiate(context.Background(), rentRequest())
	require.NoError(t, err)

	_, err = f.svc.HandleCallback(context.Background(), successPayload(tx.GatewayRequestID, "NLJ7RT61SV"))
	require.NoError(t, err)
	first, _ := f.svc.GetTransaction(context.Background(), tx.ID)

	*f.now = f.now.Add(time.Minute)
	outcome, err := f.svc.HandleCallback(context.Background(), successPayload(tx.GatewayRequestID, "NLJ7RT61SV"))
	require.NoError(t, err)
	assert.Equal(t, domain.CallbackOutcomeDuplicate, outcome)

	outcome, err = f.svc.HandleCallback(context.Background(), failurePayload(tx.GatewayRequestID, 1, "Insufficient funds"))
	require.NoError(t, err)
	assert.Equal(t, domain.CallbackOutcomeDuplicate, outcome)

	second, _ := f.svc.GetTransaction(context.Background(), tx.ID)
	assert.Equal(t, first, second)
}

func TestCallbackForUnknownRequest(t *testing.T) {
	f := newFixture(t)

	outcome, err := f.svc.HandleCallback(context.Background(), successPayload("ws_CO_missing", "R1"))
	require.NoError(t, err)
	assert.Equal(t, domain.CallbackOutcomeUnknown, outcome)
}

func TestMalformedCallback(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.HandleCallback(context.Background(), []byte(`{"Body":{"stkCallback":{"ResultCode":0}}}`))
	assert.ErrorIs(t, err, domain.ErrMalformedCallback)
	assert.Empty(t, f.store.deliveries)
}

func TestSweepTimesOutStalePending(t *testing.T) {
	f := newFixture(t)
	tx, err := f.svc.Initiate(context.Background(), rentRequest())
	require.NoError(t, err)

	*f.now = f.now.Add(4 * time.Minute)
	swept, err := f.svc.SweepTimedOut(context.Background())
	require.NoError(t, err)
	assert.Empty(t, swept)

	*f.now = f.now.Add(2 * time.Minute)
	swept, err = f.svc.SweepTimedOut(context.Background())
	require.NoError(t, err)
	require.Len(t, swept, 1)
	assert.Equal(t, domain.TimedOutReason, swept[0].FailureReason)

	outcome, err := f.svc.HandleCallback(context.Background(), successPayload(tx.GatewayRequestID, "LATE1"))
	require.NoError(t, err)
	assert.Equal(t, domain.CallbackOutcomeLate, outcome)

	got, _ := f.svc.GetTransaction(context.Background(), tx.ID)
	assert.Equal(t, domain.TransactionStatusTimedOut, got.Status)
	assert.Empty(t, got.GatewayReceiptID)

	deliveries, err := f.svc.ListCallbacks(context.Background(), tx.ID)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, domain.CallbackOutcomeLate, deliveries[0].Outcome)
}

func TestListRejectsUnknownStatus(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ListLandlordTransactions(context.Background(), domain.TransactionFilter{LandlordID: "landlord-1", Status: "refunded"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
