package callbacks_repo

import (
	"context"
	"fmt"

	"rentpay/internal/domain"
)

type callbackRepository struct{}

func NewCallbackRepository() *callbackRepository {
	return &callbackRepository{}
}

func (r *callbackRepository) CreateTx(ctx context.Context, querier domain.Querier, delivery *domain.CallbackDelivery) error {
	query := `
		INSERT INTO callback_deliveries (id, gateway_request_id, result_code, outcome, payload, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := querier.ExecContext(ctx, query,
		delivery.ID,
		delivery.GatewayRequestID,
		delivery.ResultCode,
		string(delivery.Outcome),
		delivery.Payload,
		delivery.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record callback delivery for %s: %w", delivery.GatewayRequestID, err)
	}
	return nil
}

func (r *callbackRepository) ListByGatewayRequestIDTx(ctx context.Context, querier domain.Querier, gatewayRequestID string) ([]domain.CallbackDelivery, error) {
	query := `
		SELECT id, gateway_request_id, result_code, outcome, payload, received_at
		FROM callback_deliveries
		WHERE gateway_request_id = $1
		ORDER BY received_at ASC
	`
	rows, err := querier.QueryContext(ctx, query, gatewayRequestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list callback deliveries for %s: %w", gatewayRequestID, err)
	}
	defer rows.Close()

	var deliveries []domain.CallbackDelivery
	for rows.Next() {
		var d domain.CallbackDelivery
		if err := rows.Scan(&d.ID, &d.GatewayRequestID, &d.ResultCode, &d.Outcome, &d.Payload, &d.ReceivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan callback delivery: %w", err)
		}
		deliveries = append(deliveries, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate callback deliveries: %w", err)
	}
	return deliveries, nil
}
