// Package transactions owns every status change of a payment transaction.
// All writes go through a database transaction that also enqueues the
// matching status event in the outbox.
package transactions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"rentpay/internal/domain"
	"rentpay/internal/repository/callbacks_repo"
	"rentpay/internal/repository/outbox_repo"
	"rentpay/internal/repository/transactions_repo"
	"rentpay/internal/util"
)

type StateMachine struct {
	db           *sql.DB
	txRepo       transactions_repo.TransactionRepository
	callbackRepo callbacks_repo.CallbackRepository
	outboxRepo   outbox_repo.OutboxRepository
	statusTopic  string
	now          func() time.Time
	newID        util.IDFunc
	logger       *zap.Logger
}

func NewStateMachine(
	db *sql.DB,
	txRepo transactions_repo.TransactionRepository,
	callbackRepo callbacks_repo.CallbackRepository,
	outboxRepo outbox_repo.OutboxRepository,
	statusTopic string,
	logger *zap.Logger,
) *StateMachine {
	return &StateMachine{
		db:           db,
		txRepo:       txRepo,
		callbackRepo: callbackRepo,
		outboxRepo:   outboxRepo,
		statusTopic:  statusTopic,
		now:          time.Now,
		newID:        util.NewID,
		logger:       logger,
	}
}

// WithClock and WithIDs make time and identifiers deterministic in tests.
func (m *StateMachine) WithClock(now func() time.Time) *StateMachine {
	m.now = now
	return m
}

func (m *StateMachine) WithIDs(newID util.IDFunc) *StateMachine {
	m.newID = newID
	return m
}

// Open records a transaction the gateway has just accepted.
func (m *StateMachine) Open(ctx context.Context, t *domain.Transaction) error {
	t.ID = m.newID()
	t.Status = domain.TransactionStatusPending
	t.CreatedAt = m.now().UTC()

	return m.inTx(ctx, "open", func(tx *sql.Tx) error {
		if err := m.txRepo.CreateTx(ctx, tx, t); err != nil {
			return err
		}
		return m.enqueueStatus(ctx, tx, t)
	})
}

// ApplyCallback resolves the transaction named by res. Redeliveries and
// callbacks for terminal or unknown transactions are recorded but change
// nothing; they are reported through the outcome, not as errors.
func (m *StateMachine) ApplyCallback(ctx context.Context, res *domain.CallbackResult, payload []byte) (domain.CallbackOutcome, error) {
	var outcome domain.CallbackOutcome
	err := m.inTx(ctx, "apply callback", func(tx *sql.Tx) error {
		t, err := m.txRepo.GetByGatewayRequestIDForUpdateTx(ctx, tx, res.GatewayRequestID)
		switch {
		case errors.Is(err, domain.ErrTransactionNotFound):
			outcome = domain.CallbackOutcomeUnknown
		case err != nil:
			return err
		case t.Status == domain.TransactionStatusTimedOut:
			outcome = domain.CallbackOutcomeLate
		case t.Status.IsTerminal():
			outcome = domain.CallbackOutcomeDuplicate
		default:
			if err := t.ApplyCallback(res, m.now().UTC()); err != nil {
				return err
			}
			if err := m.txRepo.ResolveTx(ctx, tx, t); err != nil {
				return err
			}
			if err := m.enqueueStatus(ctx, tx, t); err != nil {
				return err
			}
			outcome = domain.CallbackOutcomeApplied
		}

		return m.callbackRepo.CreateTx(ctx, tx, &domain.CallbackDelivery{
			ID:               m.newID(),
			GatewayRequestID: res.GatewayRequestID,
			ResultCode:       res.ResultCode,
			Outcome:          outcome,
			Payload:          payload,
			ReceivedAt:       m.now().UTC(),
		})
	})
	if err != nil {
		return "", err
	}

	fields := []zap.Field{
		zap.String("gateway_request_id", res.GatewayRequestID),
		zap.Int("result_code", res.ResultCode),
		zap.String("outcome", string(outcome)),
	}
	switch outcome {
	case domain.CallbackOutcomeApplied:
		m.logger.Info("Callback applied", fields...)
	case domain.CallbackOutcomeLate:
		m.logger.Warn("Callback arrived after transaction timed out, needs reconciliation", fields...)
	default:
		m.logger.Info("Callback acknowledged without state change", fields...)
	}
	return outcome, nil
}

// SweepTimedOut moves every transaction still pending since before
// olderThan to timed_out.
func (m *StateMachine) SweepTimedOut(ctx context.Context, olderThan time.Time) ([]domain.Transaction, error) {
	var swept []domain.Transaction
	err := m.inTx(ctx, "sweep", func(tx *sql.Tx) error {
		stale, err := m.txRepo.ListPendingForUpdateTx(ctx, tx, olderThan)
		if err != nil {
			return err
		}
		for i := range stale {
			t := &stale[i]
			if err := t.TimeOut(m.now().UTC()); err != nil {
				return err
			}
			if err := m.txRepo.ResolveTx(ctx, tx, t); err != nil {
				return err
			}
			if err := m.enqueueStatus(ctx, tx, t); err != nil {
				return err
			}
		}
		swept = stale
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(swept) > 0 {
		m.logger.Info("Timed out pending transactions", zap.Int("count", len(swept)), zap.Time("older_than", olderThan))
	}
	return swept, nil
}

// Get loads a transaction by id. Ids that are not UUIDs cannot exist and are
// reported as not found without a query.
func (m *StateMachine) Get(ctx context.Context, id string) (*domain.Transaction, error) {
	if !util.ValidID(id) {
		return nil, domain.ErrTransactionNotFound
	}
	return m.txRepo.GetByIDTx(ctx, m.db, id)
}

// Callbacks lists every gateway notification received for a transaction,
// including redeliveries and late ones, oldest first.
func (m *StateMachine) Callbacks(ctx context.Context, id string) ([]domain.CallbackDelivery, error) {
	t, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.callbackRepo.ListByGatewayRequestIDTx(ctx, m.db, t.GatewayRequestID)
}

func (m *StateMachine) List(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	return m.txRepo.ListTx(ctx, m.db, filter)
}

func (m *StateMachine) enqueueStatus(ctx context.Context, tx *sql.Tx, t *domain.Transaction) error {
	event := domain.TransactionStatusEvent{
		TransactionID:    t.ID,
		LandlordID:       t.LandlordID,
		TenantID:         t.TenantID,
		Amount:           t.Amount.StringFixed(2),
		Status:           t.Status,
		GatewayRequestID: t.GatewayRequestID,
		GatewayReceiptID: t.GatewayReceiptID,
		Reason:           t.FailureReason,
		Timestamp:        m.now().UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal status event for transaction %s: %w", t.ID, err)
	}

	return m.outboxRepo.CreateMessageTx(ctx, tx, &domain.OutboxMessage{
		ID:            m.newID(),
		AggregateID:   t.ID,
		AggregateType: domain.AggregateTypeTransaction,
		MessageType:   "payment." + string(t.Status),
		Topic:         m.statusTopic,
		Key:           t.LandlordID,
		Payload:       payload,
		Status:        domain.OutboxStatusPending,
		CreatedAt:     m.now().UTC(),
	})
}

func (m *StateMachine) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin %s transaction: %w", op, err)
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Recovered panic during transaction, rolling back", zap.String("op", op), zap.Any("panic", r))
			_ = tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			m.logger.Error("Failed to roll back transaction", zap.String("op", op), zap.Error(rbErr))
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s transaction: %w", op, err)
	}
	return nil
}
