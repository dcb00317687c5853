package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskAddress(t *testing.T) {
	assert.Equal(t, "0xab58...ec9b", MaskAddress("0xab5801a7d398351b8be11c439e05c5b3259aec9b"))
	assert.Equal(t, "bc1qw5...f3t4", MaskAddress("bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"))
	assert.Equal(t, "****", MaskAddress("short"))
}

func TestMaskStringRedactsKeyMaterial(t *testing.T) {
	key := "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	masked := MaskString("failed to load key " + key)
	assert.NotContains(t, masked, key)
	assert.Contains(t, masked, "***REDACTED***")
}

func TestMaskStringLeavesTxHashesAlone(t *testing.T) {
	txHash := "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	assert.Equal(t, "broadcast "+txHash, MaskString("broadcast "+txHash))
}

func TestMaskStringRedactsJWT(t *testing.T) {
	token := "eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiIxMjMifQ.abc123"
	masked := MaskString("bearer " + token)
	assert.NotContains(t, masked, token)
}

func TestMaskKey(t *testing.T) {
	masked := MaskKey("supersecretvalue")
	assert.True(t, strings.HasPrefix(masked, "supe"))
	assert.NotContains(t, masked, "secret")
	assert.Equal(t, "****", MaskKey("ab"))
}

func TestRedactHeaders(t *testing.T) {
	redacted := RedactHeaders(map[string][]string{
		"Authorization":   {"Bearer abc"},
		"Idempotency-Key": {"key-123"},
		"Content-Type":    {"application/json"},
	})

	assert.Equal(t, "***REDACTED***", redacted["Authorization"])
	assert.Equal(t, "***REDACTED***", redacted["Idempotency-Key"])
	assert.Equal(t, "application/json", redacted["Content-Type"])
}
