package credentials_repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"rentpay/internal/domain"
)

type credentialRepository struct{}

func NewCredentialRepository() *credentialRepository {
	return &credentialRepository{}
}

// UpsertTx replaces every secret field in one statement so a reader sees
// either the previous credential set or the new one, never a mix.
func (r *credentialRepository) UpsertTx(ctx context.Context, querier domain.Querier, cred *domain.GatewayCredential) error {
	query := `
		INSERT INTO gateway_credentials (landlord_id, shortcode, passkey, consumer_key, consumer_secret, environment, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (landlord_id) DO UPDATE SET
			shortcode = EXCLUDED.shortcode,
			passkey = EXCLUDED.passkey,
			consumer_key = EXCLUDED.consumer_key,
			consumer_secret = EXCLUDED.consumer_secret,
			environment = EXCLUDED.environment,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at, updated_at
	`
	err := querier.QueryRowContext(ctx, query,
		cred.LandlordID,
		cred.Shortcode,
		cred.Passkey,
		cred.ConsumerKey,
		cred.ConsumerSecret,
		string(cred.Environment),
		cred.UpdatedAt,
	).Scan(&cred.CreatedAt, &cred.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert gateway credentials for landlord %s: %w", cred.LandlordID, err)
	}
	return nil
}

func (r *credentialRepository) GetByLandlordIDTx(ctx context.Context, querier domain.Querier, landlordID string) (*domain.GatewayCredential, error) {
	query := `
		SELECT landlord_id, shortcode, passkey, consumer_key, consumer_secret, environment, created_at, updated_at
		FROM gateway_credentials
		WHERE landlord_id = $1
	`
	cred := &domain.GatewayCredential{}
	err := querier.QueryRowContext(ctx, query, landlordID).Scan(
		&cred.LandlordID,
		&cred.Shortcode,
		&cred.Passkey,
		&cred.ConsumerKey,
		&cred.ConsumerSecret,
		&cred.Environment,
		&cred.CreatedAt,
		&cred.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrCredentialsNotFound
		}
		return nil, fmt.Errorf("failed to get gateway credentials for landlord %s: %w", landlordID, err)
	}
	return cred, nil
}
