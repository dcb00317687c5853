package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeCounter struct {
	counts map[string]int64
}

func newFakeCounter() *fakeCounter {
	return &fakeCounter{counts: make(map[string]int64)}
}

func (f *fakeCounter) Incr(ctx context.Context, key string) (int64, error) {
	f.counts[key]++
	return f.counts[key], nil
}

func (f *fakeCounter) Expire(ctx context.Context, key string, _ time.Duration) error { return nil }

func (f *fakeCounter) Set(ctx context.Context, key string, value interface{}, _ time.Duration) error {
	return nil
}
func (f *fakeCounter) Get(ctx context.Context, key string, dest interface{}) error { return nil }
func (f *fakeCounter) Del(ctx context.Context, keys ...string) error               { return nil }
func (f *fakeCounter) Exists(ctx context.Context, key string) (bool, error)        { return false, nil }
func (f *fakeCounter) Ping(ctx context.Context) error                              { return nil }
func (f *fakeCounter) Close() error                                                { return nil }

func TestUserTierCapsRequests(t *testing.T) {
	limiter := NewTieredLimiter(newFakeCounter(), TieredConfig{
		UserLimit:  3,
		UserWindow: time.Minute,
	}, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := limiter.Check(ctx, "user-1", "/api/v1/deposits")
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}

	result, err := limiter.Check(ctx, "user-1", "/api/v1/deposits")
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, "user", result.LimitedBy)
}

func TestUsersAreCountedSeparately(t *testing.T) {
	limiter := NewTieredLimiter(newFakeCounter(), TieredConfig{
		UserLimit:  1,
		UserWindow: time.Minute,
	}, zap.NewNop())
	ctx := context.Background()

	first, err := limiter.Check(ctx, "user-1", "/x")
	require.NoError(t, err)
	assert.True(t, first.Allowed)

	other, err := limiter.Check(ctx, "user-2", "/x")
	require.NoError(t, err)
	assert.True(t, other.Allowed)
}

func TestEndpointOverrideIsStricter(t *testing.T) {
	limiter := NewTieredLimiter(newFakeCounter(), TieredConfig{
		UserLimit:  100,
		UserWindow: time.Minute,
		EndpointLimits: map[string]EndpointLimit{
			"/api/v1/withdrawals": {Limit: 1, Window: time.Minute},
		},
	}, zap.NewNop())
	ctx := context.Background()

	first, err := limiter.Check(ctx, "user-1", "/api/v1/withdrawals")
	require.NoError(t, err)
	assert.True(t, first.Allowed)

	second, err := limiter.Check(ctx, "user-1", "/api/v1/withdrawals")
	require.NoError(t, err)
	assert.False(t, second.Allowed)
	assert.Equal(t, "endpoint", second.LimitedBy)

	// Other endpoints still use the generous user budget.
	other, err := limiter.Check(ctx, "user-1", "/api/v1/deposits")
	require.NoError(t, err)
	assert.True(t, other.Allowed)
}

func TestAnonymousRequestsSkipUserTier(t *testing.T) {
	limiter := NewTieredLimiter(newFakeCounter(), TieredConfig{
		UserLimit:  1,
		UserWindow: time.Minute,
	}, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := limiter.Check(ctx, "", "/health")
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}
}
