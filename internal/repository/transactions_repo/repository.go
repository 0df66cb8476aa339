package transactions_repo

import (
	"context"
	"time"

	"rentpay/internal/domain"
)

type TransactionRepository interface {
	CreateTx(ctx context.Context, querier domain.Querier, tx *domain.Transaction) error
	GetByIDTx(ctx context.Context, querier domain.Querier, id string) (*domain.Transaction, error)
	GetByGatewayRequestIDForUpdateTx(ctx context.Context, querier domain.Querier, gatewayRequestID string) (*domain.Transaction, error)
	ResolveTx(ctx context.Context, querier domain.Querier, tx *domain.Transaction) error
	ListPendingForUpdateTx(ctx context.Context, querier domain.Querier, createdBefore time.Time) ([]domain.Transaction, error)
	ListTx(ctx context.Context, querier domain.Querier, filter domain.TransactionFilter) ([]domain.Transaction, error)
}
