package callbacks_repo

import (
	"context"

	"rentpay/internal/domain"
)

type CallbackRepository interface {
	CreateTx(ctx context.Context, querier domain.Querier, delivery *domain.CallbackDelivery) error
	ListByGatewayRequestIDTx(ctx context.Context, querier domain.Querier, gatewayRequestID string) ([]domain.CallbackDelivery, error)
}
