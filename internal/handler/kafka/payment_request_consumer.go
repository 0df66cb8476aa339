package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"rentpay/internal/app/payments"
	"rentpay/internal/domain"
	kafka_infra "rentpay/internal/infrastructure/kafka"
)

// PaymentRequestMessageHandler initiates a payment for every request event.
// Requests that can never succeed are logged and acknowledged so they do not
// block the partition.
func PaymentRequestMessageHandler(paymentService payments.PaymentService, logger *zap.Logger) kafka_infra.MessageHandler {
	return func(ctx context.Context, msg kafka.Message) error {
		var req payments.InitiateRequest
		if err := json.Unmarshal(msg.Value, &req); err != nil {
			logger.Error("Failed to unmarshal payment request",
				zap.Error(err),
				zap.String("topic", msg.Topic),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
			)
			return nil
		}

		tx, err := paymentService.Initiate(ctx, req)
		if err != nil {
			if isFinal(err) {
				logger.Warn("Dropping payment request",
					zap.String("landlord_id", req.LandlordID),
					zap.String("tenant_id", req.TenantID),
					zap.Int64("offset", msg.Offset),
					zap.Error(err),
				)
				return nil
			}
			return fmt.Errorf("failed to initiate payment for landlord %s: %w", req.LandlordID, err)
		}

		logger.Info("Payment request initiated",
			zap.String("transaction_id", tx.ID),
			zap.String("landlord_id", tx.LandlordID),
			zap.String("gateway_request_id", tx.GatewayRequestID),
		)
		return nil
	}
}

// isFinal reports whether redelivering the request could never succeed. An
// outage is retried even after the service gave up on its own attempts.
func isFinal(err error) bool {
	if errors.Is(err, domain.ErrGatewayUnavailable) {
		return false
	}
	return errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrCredentialsNotConfigured) ||
		errors.Is(err, domain.ErrInitiationFailed)
}
