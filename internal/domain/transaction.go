package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusTimedOut  TransactionStatus = "timed_out"
)

// TimedOutReason is shown to the tenant when no callback arrived in time.
const TimedOutReason = "payment not confirmed, please retry"

var validTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusPending: {
		TransactionStatusCompleted,
		TransactionStatusFailed,
		TransactionStatusTimedOut,
	},
	TransactionStatusCompleted: {},
	TransactionStatusFailed:    {},
	TransactionStatusTimedOut:  {},
}

func (s TransactionStatus) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}

func (s TransactionStatus) IsTerminal() bool {
	return s.Valid() && s != TransactionStatusPending
}

// CanTransition reports whether a transaction may move from one status to another.
func CanTransition(from, to TransactionStatus) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transaction is one push-payment attempt. It is created pending once the
// gateway accepts the request and is resolved exactly once.
type Transaction struct {
	ID                string            `json:"id"`
	LandlordID        string            `json:"landlordId"`
	TenantID          string            `json:"tenantId"`
	ApartmentID       string            `json:"apartmentId"`
	UnitID            string            `json:"unitId"`
	RoomID            string            `json:"roomId"`
	Amount            decimal.Decimal   `json:"amount"`
	PhoneNumber       string            `json:"phoneNumber"`
	AccountReference  string            `json:"accountReference"`
	Description       string            `json:"description"`
	GatewayRequestID  string            `json:"gatewayRequestId"`
	MerchantRequestID string            `json:"merchantRequestId"`
	Status            TransactionStatus `json:"status"`
	GatewayReceiptID  string            `json:"gatewayReceiptId,omitempty"`
	ResultCode        *int              `json:"resultCode,omitempty"`
	FailureReason     string            `json:"failureReason,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
	ResolvedAt        *time.Time        `json:"resolvedAt,omitempty"`
}

func (t *Transaction) transition(to TransactionStatus, at time.Time) error {
	if !CanTransition(t.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrTransitionNotAllowed, t.Status, to)
	}
	t.Status = to
	resolvedAt := at
	t.ResolvedAt = &resolvedAt
	return nil
}

// ApplyCallback resolves a pending transaction from a gateway result.
func (t *Transaction) ApplyCallback(res *CallbackResult, at time.Time) error {
	if res.Succeeded() {
		if err := t.transition(TransactionStatusCompleted, at); err != nil {
			return err
		}
		t.GatewayReceiptID = res.ReceiptID
	} else {
		if err := t.transition(TransactionStatusFailed, at); err != nil {
			return err
		}
		t.FailureReason = res.ResultDesc
	}
	code := res.ResultCode
	t.ResultCode = &code
	return nil
}

// TimeOut resolves a pending transaction that never received a callback.
func (t *Transaction) TimeOut(at time.Time) error {
	if err := t.transition(TransactionStatusTimedOut, at); err != nil {
		return err
	}
	t.FailureReason = TimedOutReason
	return nil
}

type TransactionFilter struct {
	LandlordID string
	Status     TransactionStatus
	Limit      int
	Offset     int
}
