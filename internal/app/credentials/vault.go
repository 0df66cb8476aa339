package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"rentpay/internal/domain"
	"rentpay/internal/repository/credentials_repo"
	"rentpay/internal/validation"
)

type CredentialVault interface {
	Get(ctx context.Context, landlordID string) (*domain.GatewayCredential, error)
	Upsert(ctx context.Context, landlordID string, cred domain.GatewayCredential) (*domain.GatewayCredential, error)
}

// Vault stores each landlord's gateway credentials. Secrets are never logged.
type Vault struct {
	db        *sql.DB
	repo      credentials_repo.CredentialRepository
	validator *validation.Validator
	now       func() time.Time
	logger    *zap.Logger
}

func NewVault(db *sql.DB, repo credentials_repo.CredentialRepository, validator *validation.Validator, logger *zap.Logger) *Vault {
	return &Vault{
		db:        db,
		repo:      repo,
		validator: validator,
		now:       time.Now,
		logger:    logger,
	}
}

func (v *Vault) WithClock(now func() time.Time) *Vault {
	v.now = now
	return v
}

// Get returns domain.ErrCredentialsNotFound when the landlord has not set up
// payments yet.
func (v *Vault) Get(ctx context.Context, landlordID string) (*domain.GatewayCredential, error) {
	cred, err := v.repo.GetByLandlordIDTx(ctx, v.db, landlordID)
	if err != nil {
		if !errors.Is(err, domain.ErrCredentialsNotFound) {
			v.logger.Error("Failed to load gateway credentials", zap.String("landlord_id", landlordID), zap.Error(err))
		}
		return nil, err
	}
	return cred, nil
}

func (v *Vault) Upsert(ctx context.Context, landlordID string, cred domain.GatewayCredential) (*domain.GatewayCredential, error) {
	cred.LandlordID = strings.TrimSpace(landlordID)
	cred.Shortcode = strings.TrimSpace(cred.Shortcode)
	cred.Passkey = strings.TrimSpace(cred.Passkey)
	cred.ConsumerKey = strings.TrimSpace(cred.ConsumerKey)
	cred.ConsumerSecret = strings.TrimSpace(cred.ConsumerSecret)
	cred.Environment = domain.Environment(strings.ToLower(strings.TrimSpace(string(cred.Environment))))

	if err := v.validator.Struct(cred); err != nil {
		v.logger.Warn("Rejected gateway credentials", zap.String("landlord_id", cred.LandlordID), zap.Error(err))
		return nil, err
	}

	cred.UpdatedAt = v.now().UTC()
	if err := v.repo.UpsertTx(ctx, v.db, &cred); err != nil {
		v.logger.Error("Failed to store gateway credentials", zap.String("landlord_id", cred.LandlordID), zap.Error(err))
		return nil, fmt.Errorf("failed to store credentials: %w", err)
	}

	v.logger.Info("Gateway credentials stored",
		zap.String("landlord_id", cred.LandlordID),
		zap.String("environment", string(cred.Environment)))
	return &cred, nil
}
