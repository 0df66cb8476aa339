// Package tokencache holds gateway access tokens keyed by landlord and
// environment. Records are replaced whole; readers never observe a token
// paired with another token's expiry.
package tokencache

import (
	"context"

	"rentpay/internal/domain"
)

type Store interface {
	// Get reports false when no unexpired token is stored under key.
	Get(ctx context.Context, key string) (domain.AccessToken, bool, error)
	Put(ctx context.Context, key string, token domain.AccessToken) error
	Delete(ctx context.Context, key string) error
}
