package domain

import "time"

type OutboxMessageStatus string

const (
	OutboxStatusPending OutboxMessageStatus = "PENDING"
	OutboxStatusSent    OutboxMessageStatus = "SENT"
	OutboxStatusFailed  OutboxMessageStatus = "FAILED"
)

const AggregateTypeTransaction = "payment_transaction"

// OutboxMessage is a transaction status event waiting to be published.
type OutboxMessage struct {
	ID            string
	AggregateID   string
	AggregateType string
	MessageType   string
	Topic         string
	Key           string
	Payload       []byte
	Status        OutboxMessageStatus
	CreatedAt     time.Time
	SentAt        *time.Time
}

// TransactionStatusEvent is published whenever a transaction is opened or resolved.
type TransactionStatusEvent struct {
	TransactionID    string            `json:"transaction_id"`
	LandlordID       string            `json:"landlord_id"`
	TenantID         string            `json:"tenant_id"`
	Amount           string            `json:"amount"`
	Status           TransactionStatus `json:"status"`
	GatewayRequestID string            `json:"gateway_request_id"`
	GatewayReceiptID string            `json:"gateway_receipt_id,omitempty"`
	Reason           string            `json:"reason,omitempty"`
	Timestamp        time.Time         `json:"timestamp"`
}
