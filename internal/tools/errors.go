package tools

import "strings"

// Class categorizes a tool execution failure for retry/policy
// decisions (spec §4.8).
type Class string

const (
	ErrClassTimeout       Class = "timeout"
	ErrClassNetwork       Class = "network"
	ErrClassAuthorization Class = "authorization"
	ErrClassValidation    Class = "validation"
	ErrClassNotFound      Class = "not_found"
	ErrClassServerError   Class = "server_error"
	ErrClassUnknown       Class = "unknown"
)

// ClassifiedError wraps a tool failure with its Class.
type ClassifiedError struct {
	Class Class
	Err   error
}

func (e *ClassifiedError) Error() string { return e.Err.Error() }
func (e *ClassifiedError) Unwrap() error { return e.Err }

// classify applies the substring heuristic from spec §4.8 over the
// error's message, in priority order so a message mentioning several
// keywords still gets a single, deterministic class.
func classify(err error) Class {
	if err == nil {
		return ErrClassUnknown
	}
	msg := strings.ToLower(err.Error())

	switch {
	case containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		return ErrClassTimeout
	case containsAny(msg, "network", "connection refused", "no such host", "dns", "dial tcp"):
		return ErrClassNetwork
	case containsAny(msg, "unauthorized", "forbidden", "authorization", "authentication"):
		return ErrClassAuthorization
	case containsAny(msg, "validation", "invalid", "schema"):
		return ErrClassValidation
	case containsAny(msg, "not_found", "not found", "404"):
		return ErrClassNotFound
	case containsAny(msg, "server_error", "internal server error", "500", "502", "503"):
		return ErrClassServerError
	default:
		return ErrClassUnknown
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
