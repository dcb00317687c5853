package secrets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProvider struct {
	values map[string]string
	calls  int
}

func (p *countingProvider) GetSecret(ctx context.Context, key string) (string, error) {
	p.calls++
	if v, ok := p.values[key]; ok {
		return v, nil
	}
	return "", errors.New("not found")
}

func TestEnvProvider(t *testing.T) {
	t.Setenv("CUSTODY_TEST_SECRET", "hunter2")

	p := NewEnvProvider()
	v, err := p.GetSecret(context.Background(), "CUSTODY_TEST_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", v)

	_, err = p.GetSecret(context.Background(), "CUSTODY_TEST_MISSING")
	assert.Error(t, err)
}

func TestCachedProviderCachesHits(t *testing.T) {
	inner := &countingProvider{values: map[string]string{"KEY": "value"}}
	p := NewCachedProvider(inner, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		v, err := p.GetSecret(ctx, "KEY")
		require.NoError(t, err)
		assert.Equal(t, "value", v)
	}
	assert.Equal(t, 1, inner.calls)
}

func TestCachedProviderDoesNotCacheErrors(t *testing.T) {
	inner := &countingProvider{values: map[string]string{}}
	p := NewCachedProvider(inner, time.Minute)
	ctx := context.Background()

	_, err := p.GetSecret(ctx, "MISSING")
	assert.Error(t, err)
	_, err = p.GetSecret(ctx, "MISSING")
	assert.Error(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestManagerResolvesHotWalletKey(t *testing.T) {
	inner := &countingProvider{values: map[string]string{
		"HOT_WALLET_PRIVATE_KEY": "deadbeef",
	}}
	m := NewManager(inner)

	v, err := m.GetHotWalletKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", v)

	_, err = m.GetJWTSecret(context.Background())
	assert.Error(t, err)
}
