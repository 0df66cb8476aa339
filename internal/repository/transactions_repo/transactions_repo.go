package transactions_repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"rentpay/internal/domain"
)

const transactionColumns = `id, landlord_id, tenant_id, apartment_id, unit_id, room_id, amount, phone_number,
		account_reference, description, gateway_request_id, merchant_request_id, status,
		gateway_receipt_id, result_code, failure_reason, created_at, resolved_at`

type transactionRepository struct{}

func NewTransactionRepository() *transactionRepository {
	return &transactionRepository{}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	t := &domain.Transaction{}
	var resultCode sql.NullInt64
	var resolvedAt sql.NullTime
	err := row.Scan(
		&t.ID,
		&t.LandlordID,
		&t.TenantID,
		&t.ApartmentID,
		&t.UnitID,
		&t.RoomID,
		&t.Amount,
		&t.PhoneNumber,
		&t.AccountReference,
		&t.Description,
		&t.GatewayRequestID,
		&t.MerchantRequestID,
		&t.Status,
		&t.GatewayReceiptID,
		&resultCode,
		&t.FailureReason,
		&t.CreatedAt,
		&resolvedAt,
	)
	if err != nil {
		return nil, err
	}
	if resultCode.Valid {
		code := int(resultCode.Int64)
		t.ResultCode = &code
	}
	if resolvedAt.Valid {
		t.ResolvedAt = &resolvedAt.Time
	}
	return t, nil
}

func (r *transactionRepository) CreateTx(ctx context.Context, querier domain.Querier, t *domain.Transaction) error {
	query := `
		INSERT INTO payment_transactions (id, landlord_id, tenant_id, apartment_id, unit_id, room_id, amount,
			phone_number, account_reference, description, gateway_request_id, merchant_request_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := querier.ExecContext(ctx, query,
		t.ID,
		t.LandlordID,
		t.TenantID,
		t.ApartmentID,
		t.UnitID,
		t.RoomID,
		t.Amount,
		t.PhoneNumber,
		t.AccountReference,
		t.Description,
		t.GatewayRequestID,
		t.MerchantRequestID,
		string(t.Status),
		t.CreatedAt,
	)
	if err != nil {
		var pgErr *pq.Error
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateGatewayRequest, t.GatewayRequestID)
		}
		return fmt.Errorf("failed to create payment transaction: %w", err)
	}
	return nil
}

func (r *transactionRepository) GetByIDTx(ctx context.Context, querier domain.Querier, id string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM payment_transactions WHERE id = $1`
	t, err := scanTransaction(querier.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get payment transaction by id %s: %w", id, err)
	}
	return t, nil
}

// GetByGatewayRequestIDForUpdateTx locks the row until the surrounding
// transaction ends, serializing concurrent callbacks for the same request.
func (r *transactionRepository) GetByGatewayRequestIDForUpdateTx(ctx context.Context, querier domain.Querier, gatewayRequestID string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM payment_transactions WHERE gateway_request_id = $1 FOR UPDATE`
	t, err := scanTransaction(querier.QueryRowContext(ctx, query, gatewayRequestID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get payment transaction by gateway request id %s: %w", gatewayRequestID, err)
	}
	return t, nil
}

// ResolveTx persists a terminal status. The status guard in the WHERE clause
// keeps the update a no-op if the row was resolved by someone else.
func (r *transactionRepository) ResolveTx(ctx context.Context, querier domain.Querier, t *domain.Transaction) error {
	query := `
		UPDATE payment_transactions
		SET status = $1, gateway_receipt_id = $2, result_code = $3, failure_reason = $4, resolved_at = $5
		WHERE id = $6 AND status = 'pending'
	`
	var resultCode sql.NullInt64
	if t.ResultCode != nil {
		resultCode = sql.NullInt64{Int64: int64(*t.ResultCode), Valid: true}
	}
	res, err := querier.ExecContext(ctx, query,
		string(t.Status),
		t.GatewayReceiptID,
		resultCode,
		t.FailureReason,
		t.ResolvedAt,
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to resolve payment transaction %s: %w", t.ID, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for payment transaction %s: %w", t.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: transaction %s is no longer pending", domain.ErrTransitionNotAllowed, t.ID)
	}
	return nil
}

// ListPendingForUpdateTx locks every transaction still pending since before
// createdBefore. Rows held by a concurrent callback are skipped and picked up
// by the next sweep if they are still pending then.
func (r *transactionRepository) ListPendingForUpdateTx(ctx context.Context, querier domain.Querier, createdBefore time.Time) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM payment_transactions
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED`
	rows, err := querier.QueryContext(ctx, query, createdBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale pending payment transactions: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func (r *transactionRepository) ListTx(ctx context.Context, querier domain.Querier, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	var (
		conditions = []string{"landlord_id = $1"}
		args       = []any{filter.LandlordID}
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)

	query := fmt.Sprintf(`SELECT %s FROM payment_transactions WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		transactionColumns, strings.Join(conditions, " AND "), len(args)-1, len(args))
	rows, err := querier.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment transactions for landlord %s: %w", filter.LandlordID, err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func collectTransactions(rows *sql.Rows) ([]domain.Transaction, error) {
	var transactions []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment transaction: %w", err)
		}
		transactions = append(transactions, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate payment transactions: %w", err)
	}
	return transactions, nil
}
