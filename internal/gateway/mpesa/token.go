package mpesa

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"rentpay/internal/domain"
	"rentpay/internal/tokencache"
)

type TokenFetcher interface {
	FetchToken(ctx context.Context, cred *domain.GatewayCredential) (string, time.Duration, error)
}

type TokenProviderConfig struct {
	TTL     time.Duration
	Skew    time.Duration
	Timeout time.Duration
}

// TokenProvider hands out a valid bearer token per landlord and environment,
// fetching a new one only when the cached record is missing or expired.
type TokenProvider struct {
	fetcher TokenFetcher
	store   tokencache.Store
	cfg     TokenProviderConfig
	now     func() time.Time
	group   singleflight.Group
	logger  *zap.Logger
}

func NewTokenProvider(fetcher TokenFetcher, store tokencache.Store, cfg TokenProviderConfig, logger *zap.Logger) *TokenProvider {
	return &TokenProvider{
		fetcher: fetcher,
		store:   store,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger,
	}
}

func (p *TokenProvider) WithClock(now func() time.Time) *TokenProvider {
	p.now = now
	return p
}

func (p *TokenProvider) Acquire(ctx context.Context, cred *domain.GatewayCredential) (string, error) {
	key := cred.CacheKey()
	if token, ok := p.cached(ctx, key); ok {
		return token, nil
	}

	v, err, _ := p.group.Do(key, func() (interface{}, error) {
		if token, ok := p.cached(ctx, key); ok {
			return token, nil
		}
		return p.refresh(ctx, cred)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token so the next Acquire fetches a fresh one.
func (p *TokenProvider) Invalidate(ctx context.Context, cred *domain.GatewayCredential) {
	if err := p.store.Delete(ctx, cred.CacheKey()); err != nil {
		p.logger.Warn("Failed to invalidate cached token", zap.String("landlord_id", cred.LandlordID), zap.Error(err))
	}
}

func (p *TokenProvider) cached(ctx context.Context, key string) (string, bool) {
	token, ok, err := p.store.Get(ctx, key)
	if err != nil {
		p.logger.Warn("Token cache read failed, fetching from gateway", zap.String("key", key), zap.Error(err))
		return "", false
	}
	if !ok {
		return "", false
	}
	return token.Token, true
}

func (p *TokenProvider) refresh(ctx context.Context, cred *domain.GatewayCredential) (string, error) {
	// The fetch is shared by every waiter on this key, so one caller
	// going away must not cancel it for the rest.
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.Timeout)
	defer cancel()

	issuedAt := p.now()
	token, expiresIn, err := p.fetcher.FetchToken(fetchCtx, cred)
	if err != nil {
		p.logger.Error("Failed to obtain gateway access token",
			zap.String("landlord_id", cred.LandlordID),
			zap.String("environment", string(cred.Environment)),
			zap.Error(err))
		return "", fmt.Errorf("failed to acquire access token for landlord %s: %w", cred.LandlordID, err)
	}

	ttl := p.cfg.TTL
	if expiresIn > 0 && expiresIn-p.cfg.Skew < ttl {
		ttl = expiresIn - p.cfg.Skew
	}
	if ttl <= 0 {
		return token, nil
	}

	record := domain.AccessToken{Token: token, ExpiresAt: issuedAt.Add(ttl)}
	if err := p.store.Put(fetchCtx, cred.CacheKey(), record); err != nil {
		p.logger.Warn("Failed to cache gateway access token", zap.String("landlord_id", cred.LandlordID), zap.Error(err))
	}

	p.logger.Info("Gateway access token refreshed",
		zap.String("landlord_id", cred.LandlordID),
		zap.String("environment", string(cred.Environment)),
		zap.Time("expires_at", record.ExpiresAt))
	return token, nil
}
