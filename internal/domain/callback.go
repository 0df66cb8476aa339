package domain

import "time"

// CallbackResult is the parsed outcome of an asynchronous gateway notification.
type CallbackResult struct {
	MerchantRequestID string
	GatewayRequestID  string
	ResultCode        int
	ResultDesc        string
	ReceiptID         string
	PhoneNumber       string
}

func (r *CallbackResult) Succeeded() bool {
	return r.ResultCode == 0
}

type CallbackOutcome string

const (
	// CallbackOutcomeApplied means the notification resolved a pending transaction.
	CallbackOutcomeApplied CallbackOutcome = "applied"
	// CallbackOutcomeDuplicate means the transaction was already completed or failed.
	CallbackOutcomeDuplicate CallbackOutcome = "duplicate"
	// CallbackOutcomeLate means the transaction had already been timed out.
	CallbackOutcomeLate CallbackOutcome = "late"
	// CallbackOutcomeUnknown means no transaction carries the request id.
	CallbackOutcomeUnknown CallbackOutcome = "unknown"
)

// CallbackDelivery records every notification received from the gateway,
// including redeliveries that did not change state.
type CallbackDelivery struct {
	ID               string
	GatewayRequestID string
	ResultCode       int
	Outcome          CallbackOutcome
	Payload          []byte
	ReceivedAt       time.Time
}
