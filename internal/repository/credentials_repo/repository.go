package credentials_repo

import (
	"context"

	"rentpay/internal/domain"
)

type CredentialRepository interface {
	UpsertTx(ctx context.Context, querier domain.Querier, cred *domain.GatewayCredential) error
	GetByLandlordIDTx(ctx context.Context, querier domain.Querier, landlordID string) (*domain.GatewayCredential, error)
}
