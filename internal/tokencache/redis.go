package tokencache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"rentpay/internal/domain"
)

const redisKeyPrefix = "rentpay:token:"

// Redis shares tokens between service replicas. Each record is written with
// a single SET carrying its own TTL, so expiry is enforced by the server too.
type Redis struct {
	client redis.Cmdable
	now    func() time.Time
}

func NewRedis(client redis.Cmdable) *Redis {
	return &Redis{client: client, now: time.Now}
}

func (r *Redis) WithClock(now func() time.Time) *Redis {
	r.now = now
	return r
}

func (r *Redis) Get(ctx context.Context, key string) (domain.AccessToken, bool, error) {
	raw, err := r.client.Get(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.AccessToken{}, false, nil
		}
		return domain.AccessToken{}, false, fmt.Errorf("failed to read token for %s: %w", key, err)
	}

	var token domain.AccessToken
	if err := json.Unmarshal([]byte(raw), &token); err != nil {
		return domain.AccessToken{}, false, fmt.Errorf("failed to decode cached token for %s: %w", key, err)
	}
	if !token.ValidAt(r.now()) {
		return domain.AccessToken{}, false, nil
	}
	return token, true, nil
}

func (r *Redis) Put(ctx context.Context, key string, token domain.AccessToken) error {
	ttl := token.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}

	raw, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to encode token for %s: %w", key, err)
	}
	if err := r.client.Set(ctx, redisKeyPrefix+key, string(raw), ttl).Err(); err != nil {
		return fmt.Errorf("failed to store token for %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete token for %s: %w", key, err)
	}
	return nil
}
