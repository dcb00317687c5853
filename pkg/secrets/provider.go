package secrets

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"
)

// Provider resolves named secrets from a backing store.
type Provider interface {
	GetSecret(ctx context.Context, key string) (string, error)
}

// EnvProvider reads secrets from the process environment.
type EnvProvider struct{}

func NewEnvProvider() *EnvProvider {
	return &EnvProvider{}
}

func (p *EnvProvider) GetSecret(ctx context.Context, key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("secret not found: %s", key)
	}
	return value, nil
}

// CachedProvider wraps a Provider with a TTL cache so repeated lookups
// of the same key do not hit the backing store.
type CachedProvider struct {
	provider Provider
	mu       sync.RWMutex
	cache    map[string]cachedSecret
	ttl      time.Duration
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

func NewCachedProvider(provider Provider, ttl time.Duration) *CachedProvider {
	return &CachedProvider{
		provider: provider,
		cache:    make(map[string]cachedSecret),
		ttl:      ttl,
	}
}

func (p *CachedProvider) GetSecret(ctx context.Context, key string) (string, error) {
	p.mu.RLock()
	if cached, ok := p.cache[key]; ok && time.Now().Before(cached.expiresAt) {
		p.mu.RUnlock()
		return cached.value, nil
	}
	p.mu.RUnlock()

	value, err := p.provider.GetSecret(ctx, key)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	p.cache[key] = cachedSecret{
		value:     value,
		expiresAt: time.Now().Add(p.ttl),
	}
	p.mu.Unlock()

	return value, nil
}

// Manager exposes the secrets the custody service actually needs.
// Key material never passes through config files in production; it is
// resolved here at startup.
type Manager struct {
	provider Provider
}

func NewManager(provider Provider) *Manager {
	return &Manager{provider: provider}
}

func (m *Manager) GetHotWalletKey(ctx context.Context) (string, error) {
	return m.provider.GetSecret(ctx, "HOT_WALLET_PRIVATE_KEY")
}

func (m *Manager) GetSafeProposerKey(ctx context.Context) (string, error) {
	return m.provider.GetSecret(ctx, "SAFE_PROPOSER_KEY")
}

func (m *Manager) GetJWTSecret(ctx context.Context) (string, error) {
	return m.provider.GetSecret(ctx, "JWT_SECRET")
}

func (m *Manager) GetEncryptionKey(ctx context.Context) (string, error) {
	return m.provider.GetSecret(ctx, "ENCRYPTION_KEY")
}
