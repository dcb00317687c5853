package idempotency_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stacklayer/custody-service/internal/infrastructure/cache"
	"github.com/stacklayer/custody-service/pkg/idempotency"
)

type memoryCache struct {
	store map[string][]byte
}

func newMemoryCache() *memoryCache {
	return &memoryCache{store: make(map[string][]byte)}
}

func (m *memoryCache) Set(ctx context.Context, key string, value interface{}, _ time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.store[key] = data
	return nil
}

func (m *memoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	data, ok := m.store[key]
	if !ok {
		return cache.ErrCacheMiss
	}
	return json.Unmarshal(data, dest)
}

func (m *memoryCache) Del(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.store, k)
	}
	return nil
}

func (m *memoryCache) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := m.store[key]
	return ok, nil
}

func (m *memoryCache) Incr(ctx context.Context, key string) (int64, error) { return 0, nil }
func (m *memoryCache) Expire(ctx context.Context, key string, _ time.Duration) error {
	return nil
}
func (m *memoryCache) Ping(ctx context.Context) error { return nil }
func (m *memoryCache) Close() error                   { return nil }

func newTestRouter(redis cache.RedisClient) (*gin.Engine, *int) {
	gin.SetMode(gin.TestMode)
	calls := 0

	router := gin.New()
	router.Use(idempotency.Middleware(redis, zap.NewNop()))
	router.POST("/withdrawals", func(c *gin.Context) {
		calls++
		c.JSON(http.StatusCreated, gin.H{"id": "w-1", "call": calls})
	})
	return router, &calls
}

func post(router *gin.Engine, body, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/withdrawals", bytes.NewBufferString(body))
	if key != "" {
		req.Header.Set(idempotency.HeaderIdempotencyKey, key)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestReplaysRecordedResponse(t *testing.T) {
	router, calls := newTestRouter(newMemoryCache())

	first := post(router, `{"amount":"1"}`, "abc-123")
	require.Equal(t, http.StatusCreated, first.Code)

	second := post(router, `{"amount":"1"}`, "abc-123")
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, *calls)
}

func TestRejectsKeyReuseWithDifferentBody(t *testing.T) {
	router, calls := newTestRouter(newMemoryCache())

	post(router, `{"amount":"1"}`, "abc-123")
	conflict := post(router, `{"amount":"2"}`, "abc-123")

	assert.Equal(t, http.StatusConflict, conflict.Code)
	assert.Equal(t, 1, *calls)
}

func TestPassesThroughWithoutKey(t *testing.T) {
	router, calls := newTestRouter(newMemoryCache())

	post(router, `{"amount":"1"}`, "")
	post(router, `{"amount":"1"}`, "")

	assert.Equal(t, 2, *calls)
}

func TestRejectsMalformedKey(t *testing.T) {
	router, calls := newTestRouter(newMemoryCache())

	rec := post(router, `{"amount":"1"}`, "bad key!")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, *calls)
}

func TestPassesThroughWhenRedisUnavailable(t *testing.T) {
	router, calls := newTestRouter(nil)

	post(router, `{"amount":"1"}`, "abc-123")
	post(router, `{"amount":"1"}`, "abc-123")

	assert.Equal(t, 2, *calls)
}
