// Package idgen centralizes id generation for the execution core so every
// component stamps execution, correlation, operation, and event ids the
// same way.
package idgen

import "github.com/google/uuid"

// New returns a fresh random identifier suitable for execution ids,
// correlation ids, operation ids, and event ids.
func New() string {
	return uuid.NewString()
}

// NewWithPrefix returns a fresh identifier with a human-readable prefix,
// e.g. "exec-3f9c2a10-...".
func NewWithPrefix(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
