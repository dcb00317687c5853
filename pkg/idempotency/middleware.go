package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/stacklayer/custody-service/internal/infrastructure/cache"
)

const (
	// HeaderIdempotencyKey is the HTTP header carrying the client key
	HeaderIdempotencyKey = "Idempotency-Key"

	// MaxBodySize bounds the request body captured for hashing (1MB)
	MaxBodySize = 1 << 20

	// DefaultTTL is how long a recorded response is replayed
	DefaultTTL = 24 * time.Hour

	maxKeyLength = 128
)

// record is the cached outcome of the first request with a given key
type record struct {
	RequestHash    string          `json:"request_hash"`
	ResponseStatus int             `json:"response_status"`
	ResponseBody   json.RawMessage `json:"response_body"`
}

// ValidateKey checks the client-supplied key is usable
func ValidateKey(key string) error {
	if len(key) == 0 || len(key) > maxKeyLength {
		return fmt.Errorf("idempotency key must be 1-%d characters", maxKeyLength)
	}
	for _, r := range key {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_') {
			return fmt.Errorf("idempotency key contains invalid character %q", r)
		}
	}
	return nil
}

// HashRequest fingerprints a request body for conflict detection
func HashRequest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// responseWriter wraps gin.ResponseWriter to capture the response
type responseWriter struct {
	gin.ResponseWriter
	body   *bytes.Buffer
	status int
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *responseWriter) WriteHeader(statusCode int) {
	w.status = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// Middleware replays the recorded response when a request repeats an
// Idempotency-Key, and rejects reuse of a key with a different body.
// The header is optional; requests without it pass through untouched.
func Middleware(redis cache.RedisClient, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost &&
			c.Request.Method != http.MethodPut &&
			c.Request.Method != http.MethodDelete &&
			c.Request.Method != http.MethodPatch {
			c.Next()
			return
		}

		idempotencyKey := c.GetHeader(HeaderIdempotencyKey)
		if idempotencyKey == "" || redis == nil {
			c.Next()
			return
		}

		if err := ValidateKey(idempotencyKey); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":      "Invalid idempotency key",
				"message":    err.Error(),
				"request_id": c.GetString("request_id"),
			})
			c.Abort()
			return
		}

		bodyBytes, err := io.ReadAll(io.LimitReader(c.Request.Body, MaxBodySize))
		if err != nil {
			logger.Error("Failed to read request body",
				zap.String("idempotency_key", idempotencyKey),
				zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{
				"error":      "Failed to read request body",
				"request_id": c.GetString("request_id"),
			})
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

		requestHash := HashRequest(bodyBytes)
		cacheKey := storageKey(c, idempotencyKey)

		var existing record
		err = redis.Get(c.Request.Context(), cacheKey, &existing)
		switch {
		case err == nil:
			if existing.RequestHash != requestHash {
				c.JSON(http.StatusConflict, gin.H{
					"error":      "Idempotency key conflict",
					"message":    "key was already used with a different request body",
					"request_id": c.GetString("request_id"),
				})
				c.Abort()
				return
			}

			logger.Info("Replaying idempotent response",
				zap.String("idempotency_key", idempotencyKey),
				zap.Int("status", existing.ResponseStatus))
			c.Data(existing.ResponseStatus, "application/json", existing.ResponseBody)
			c.Abort()
			return

		case !errors.Is(err, cache.ErrCacheMiss):
			// Redis trouble: fail open rather than block withdrawals.
			logger.Error("Idempotency lookup failed",
				zap.String("idempotency_key", idempotencyKey),
				zap.Error(err))
			c.Next()
			return
		}

		writer := &responseWriter{
			ResponseWriter: c.Writer,
			body:           bytes.NewBuffer(nil),
			status:         http.StatusOK,
		}
		c.Writer = writer

		c.Next()

		// 5xx responses are not recorded so the client can retry.
		if writer.status >= http.StatusInternalServerError || writer.body.Len() == 0 {
			return
		}

		stored := record{
			RequestHash:    requestHash,
			ResponseStatus: writer.status,
			ResponseBody:   writer.body.Bytes(),
		}
		if err := redis.Set(c.Request.Context(), cacheKey, stored, DefaultTTL); err != nil {
			logger.Error("Failed to store idempotency record",
				zap.String("idempotency_key", idempotencyKey),
				zap.Error(err))
		}
	}
}

// storageKey scopes keys per user and path so different callers cannot
// collide or replay each other's responses.
func storageKey(c *gin.Context, key string) string {
	userID := c.GetString("user_id")
	if userID == "" {
		if v, ok := c.Get("user_id"); ok {
			userID = fmt.Sprintf("%v", v)
		}
	}
	return fmt.Sprintf("idempotency:%s:%s:%s", userID, c.Request.URL.Path, key)
}
