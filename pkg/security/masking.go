package security

import (
	"regexp"
	"strings"
)

var (
	jwtPattern    = regexp.MustCompile(`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`)
	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|secret|token|password|auth)["\s:=]+["']?([a-zA-Z0-9_-]{16,})["']?`)
	// Bare 64-char hex is treated as key material. Transaction hashes
	// carry a 0x prefix and are left alone.
	hexKeyPattern = regexp.MustCompile(`(?i)\b[a-f0-9]{64}\b`)
)

// MaskAddress shortens an on-chain address for logs, keeping enough of
// each end to correlate with the full value elsewhere.
func MaskAddress(addr string) string {
	if len(addr) < 12 {
		return "****"
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

// MaskKey masks key material showing only the first 4 characters.
func MaskKey(key string) string {
	if len(key) < 4 {
		return "****"
	}
	return key[:4] + strings.Repeat("*", len(key)-4)
}

// MaskString redacts tokens and raw key material from free-form text
// before it reaches logs or error responses.
func MaskString(s string) string {
	s = jwtPattern.ReplaceAllString(s, "eyJ***REDACTED***")
	s = apiKeyPattern.ReplaceAllString(s, "$1: ***REDACTED***")
	s = hexKeyPattern.ReplaceAllString(s, "***REDACTED***")
	return s
}

// RedactHeaders copies headers for logging, dropping credential values.
func RedactHeaders(headers map[string][]string) map[string]string {
	sensitiveHeaders := []string{"authorization", "x-api-key", "cookie", "set-cookie", "idempotency-key"}

	redacted := make(map[string]string, len(headers))
	for k, v := range headers {
		lower := strings.ToLower(k)
		sensitive := false
		for _, s := range sensitiveHeaders {
			if strings.Contains(lower, s) {
				sensitive = true
				break
			}
		}
		if sensitive {
			redacted[k] = "***REDACTED***"
			continue
		}
		if len(v) > 0 {
			redacted[k] = v[0]
		}
	}
	return redacted
}
