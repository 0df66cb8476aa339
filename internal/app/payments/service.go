package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"rentpay/internal/domain"
	"rentpay/internal/gateway/mpesa"
	"rentpay/internal/validation"
)

// InitiateRequest asks for an STK push to a tenant's phone for one rent payment.
type InitiateRequest struct {
	LandlordID       string          `json:"landlordId" validate:"required"`
	TenantID         string          `json:"tenantId" validate:"required"`
	ApartmentID      string          `json:"apartmentId"`
	UnitID           string          `json:"unitId"`
	RoomID           string          `json:"roomId"`
	PhoneNumber      string          `json:"phoneNumber" validate:"required,msisdn"`
	Amount           decimal.Decimal `json:"amount" validate:"wholeamount"`
	AccountReference string          `json:"accountReference" validate:"required,max=12"`
	Description      string          `json:"description" validate:"required,max=13"`
}

type PaymentService interface {
	Initiate(ctx context.Context, req InitiateRequest) (*domain.Transaction, error)
	HandleCallback(ctx context.Context, payload []byte) (domain.CallbackOutcome, error)
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	ListLandlordTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error)
	ListCallbacks(ctx context.Context, transactionID string) ([]domain.CallbackDelivery, error)
	SweepTimedOut(ctx context.Context) ([]domain.Transaction, error)
}

type CredentialSource interface {
	Get(ctx context.Context, landlordID string) (*domain.GatewayCredential, error)
}

type TokenSource interface {
	Acquire(ctx context.Context, cred *domain.GatewayCredential) (string, error)
	Invalidate(ctx context.Context, cred *domain.GatewayCredential)
}

type Gateway interface {
	PushPayment(ctx context.Context, cred *domain.GatewayCredential, token string, req mpesa.PaymentRequest) (*mpesa.PushResponse, error)
}

type TransactionStore interface {
	Open(ctx context.Context, t *domain.Transaction) error
	ApplyCallback(ctx context.Context, res *domain.CallbackResult, payload []byte) (domain.CallbackOutcome, error)
	SweepTimedOut(ctx context.Context, olderThan time.Time) ([]domain.Transaction, error)
	Get(ctx context.Context, id string) (*domain.Transaction, error)
	List(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error)
	Callbacks(ctx context.Context, transactionID string) ([]domain.CallbackDelivery, error)
}

type Config struct {
	MaxAttempts    int
	GatewayTimeout time.Duration
	RetryInterval  time.Duration
	PendingTimeout time.Duration
	// StoreTimeout bounds recording an accepted push. It starts once the
	// gateway has answered, independent of GatewayTimeout.
	StoreTimeout   time.Duration
}

type paymentService struct {
	vault     CredentialSource
	tokens    TokenSource
	gateway   Gateway
	store     TransactionStore
	validator *validation.Validator
	cfg       Config
	now       func() time.Time
	logger    *zap.Logger
}

func NewPaymentService(
	vault CredentialSource,
	tokens TokenSource,
	gateway Gateway,
	store TransactionStore,
	validator *validation.Validator,
	cfg Config,
	logger *zap.Logger,
) PaymentService {
	return newPaymentService(vault, tokens, gateway, store, validator, cfg, time.Now, logger)
}

func newPaymentService(
	vault CredentialSource,
	tokens TokenSource,
	gateway Gateway,
	store TransactionStore,
	validator *validation.Validator,
	cfg Config,
	now func() time.Time,
	logger *zap.Logger,
) *paymentService {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 500 * time.Millisecond
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 10 * time.Second
	}
	return &paymentService{
		vault:     vault,
		tokens:    tokens,
		gateway:   gateway,
		store:     store,
		validator: validator,
		cfg:       cfg,
		now:       now,
		logger:    logger,
	}
}

func (s *paymentService) Initiate(ctx context.Context, req InitiateRequest) (*domain.Transaction, error) {
	req.AccountReference = strings.TrimSpace(req.AccountReference)
	req.Description = strings.TrimSpace(req.Description)
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}
	phone, err := domain.NormalizeMSISDN(req.PhoneNumber)
	if err != nil {
		return nil, err
	}

	cred, err := s.vault.Get(ctx, req.LandlordID)
	if err != nil {
		if errors.Is(err, domain.ErrCredentialsNotFound) {
			s.logger.Warn("Payment requested for landlord without gateway credentials", zap.String("landlord_id", req.LandlordID))
			return nil, fmt.Errorf("%w: landlord %s", domain.ErrCredentialsNotConfigured, req.LandlordID)
		}
		return nil, fmt.Errorf("failed to load credentials for landlord %s: %w", req.LandlordID, err)
	}

	// Once the push is sent the tenant may pay, so the rest of the flow must
	// finish even if the caller goes away.
	gwCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.GatewayTimeout)
	defer cancel()

	pushReq := mpesa.PaymentRequest{
		Amount:           req.Amount,
		PhoneNumber:      phone,
		AccountReference: req.AccountReference,
		Description:      req.Description,
	}
	resp, err := s.push(gwCtx, cred, pushReq)
	if err != nil {
		s.logger.Error("Payment initiation failed",
			zap.String("landlord_id", req.LandlordID),
			zap.String("tenant_id", req.TenantID),
			zap.Error(err))
		if errors.Is(err, domain.ErrInitiationFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrInitiationFailed, err)
	}

	t := &domain.Transaction{
		LandlordID:        req.LandlordID,
		TenantID:          req.TenantID,
		ApartmentID:       req.ApartmentID,
		UnitID:            req.UnitID,
		RoomID:            req.RoomID,
		Amount:            req.Amount,
		PhoneNumber:       phone,
		AccountReference:  req.AccountReference,
		Description:       req.Description,
		GatewayRequestID:  resp.CheckoutRequestID,
		MerchantRequestID: resp.MerchantRequestID,
	}
	// The tenant already has the prompt on their phone; the record must not
	// depend on whatever is left of the gateway budget.
	storeCtx, cancelStore := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StoreTimeout)
	defer cancelStore()
	if err := s.store.Open(storeCtx, t); err != nil {
		s.logger.Error("Gateway accepted payment but recording it failed",
			zap.String("landlord_id", req.LandlordID),
			zap.String("gateway_request_id", resp.CheckoutRequestID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to record accepted payment %s: %w", resp.CheckoutRequestID, err)
	}

	s.logger.Info("Payment initiated",
		zap.String("transaction_id", t.ID),
		zap.String("landlord_id", t.LandlordID),
		zap.String("tenant_id", t.TenantID),
		zap.String("gateway_request_id", t.GatewayRequestID),
		zap.String("amount", t.Amount.String()))
	return t, nil
}

// push retries token acquisition and submission while the gateway is
// unavailable. Rejections are returned immediately.
func (s *paymentService) push(ctx context.Context, cred *domain.GatewayCredential, req mpesa.PaymentRequest) (*mpesa.PushResponse, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.cfg.RetryInterval
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(s.cfg.MaxAttempts-1)), ctx)

	attempt := 0
	var resp *mpesa.PushResponse
	err := backoff.Retry(func() error {
		attempt++
		token, err := s.tokens.Acquire(ctx, cred)
		if err != nil {
			return s.classify(err, attempt)
		}
		resp, err = s.gateway.PushPayment(ctx, cred, token, req)
		if errors.Is(err, domain.ErrTokenRejected) {
			s.tokens.Invalidate(ctx, cred)
		}
		return s.classify(err, attempt)
	}, policy)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *paymentService) classify(err error, attempt int) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrGatewayUnavailable) || errors.Is(err, domain.ErrTokenRejected) {
		s.logger.Warn("Gateway attempt failed", zap.Int("attempt", attempt), zap.Int("max_attempts", s.cfg.MaxAttempts), zap.Error(err))
		return err
	}
	return backoff.Permanent(err)
}

func (s *paymentService) HandleCallback(ctx context.Context, payload []byte) (domain.CallbackOutcome, error) {
	res, err := mpesa.ParseCallback(payload)
	if err != nil {
		s.logger.Warn("Rejected malformed gateway callback", zap.Error(err))
		return "", err
	}
	return s.store.ApplyCallback(ctx, res, payload)
}

func (s *paymentService) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	return s.store.Get(ctx, id)
}

func (s *paymentService) ListLandlordTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("unknown status %q: %w", filter.Status, domain.ErrValidation)
	}
	return s.store.List(ctx, filter)
}

func (s *paymentService) ListCallbacks(ctx context.Context, transactionID string) ([]domain.CallbackDelivery, error) {
	return s.store.Callbacks(ctx, transactionID)
}

func (s *paymentService) SweepTimedOut(ctx context.Context) ([]domain.Transaction, error) {
	return s.store.SweepTimedOut(ctx, s.now().Add(-s.cfg.PendingTimeout))
}
