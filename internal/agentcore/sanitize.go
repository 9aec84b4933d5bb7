package agentcore

import (
	"strings"
)

const maxLoggedContentLength = 1000

// sanitizeContent truncates long strings before they reach a log line,
// per spec §4.9.
func sanitizeContent(s string) string {
	if len(s) <= maxLoggedContentLength {
		return s
	}
	return s[:maxLoggedContentLength] + "..."
}

var redactedKeySubstrings = []string{"password", "token", "secret", "key", "auth"}

// sanitizeMetadata returns a copy of meta with sensitive-looking keys
// redacted and long string values truncated, safe to pass to a logger.
func sanitizeMetadata(meta map[string]any) map[string]any {
	if len(meta) == 0 {
		return meta
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		if isSensitiveKey(k) {
			out[k] = "[REDACTED]"
			continue
		}
		if s, ok := v.(string); ok {
			out[k] = sanitizeContent(s)
			continue
		}
		out[k] = v
	}
	return out
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, frag := range redactedKeySubstrings {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}
