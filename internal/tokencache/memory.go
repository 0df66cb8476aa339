package tokencache

import (
	"context"
	"sync"
	"time"

	"rentpay/internal/domain"
)

type Memory struct {
	mu     sync.RWMutex
	tokens map[string]domain.AccessToken
	now    func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		tokens: make(map[string]domain.AccessToken),
		now:    time.Now,
	}
}

// WithClock replaces the time source used for expiry checks.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) Get(_ context.Context, key string) (domain.AccessToken, bool, error) {
	m.mu.RLock()
	token, ok := m.tokens[key]
	m.mu.RUnlock()

	if !ok || !token.ValidAt(m.now()) {
		return domain.AccessToken{}, false, nil
	}
	return token, true, nil
}

func (m *Memory) Put(_ context.Context, key string, token domain.AccessToken) error {
	m.mu.Lock()
	m.tokens[key] = token
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.tokens, key)
	m.mu.Unlock()
	return nil
}
