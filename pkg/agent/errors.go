package agent

import (
	"errors"
	"fmt"
	"strings"
)

// UnknownModelError reports a provider/model pair that does not resolve
// through the configured catalog. It is fatal: the turn fails fast without
// invoking any runtime.
type UnknownModelError struct {
	Provider string
	Model    string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("unknown model: %s (provider %s)", e.Model, e.Provider)
}

// IsUnknownModelError reports whether err is an unknown-model failure.
// Besides the typed check it matches the error text case-insensitively, so
// failures surfaced by out-of-process runtimes classify the same way.
func IsUnknownModelError(err error) bool {
	if err == nil {
		return false
	}
	var ume *UnknownModelError
	if errors.As(err, &ume) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "unknown model")
}

// IsRetryableError checks if a model call error should be retried
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	errMsg := strings.ToLower(err.Error())

	// Network errors
	if strings.Contains(errMsg, "econnreset") ||
		strings.Contains(errMsg, "etimedout") ||
		strings.Contains(errMsg, "connection reset") ||
		strings.Contains(errMsg, "connection refused") {
		return true
	}

	// Rate limits
	if strings.Contains(errMsg, "429") ||
		strings.Contains(errMsg, "rate limit") ||
		strings.Contains(errMsg, "too many requests") ||
		strings.Contains(errMsg, "resource exhausted") ||
		strings.Contains(errMsg, "overloaded") {
		return true
	}

	// Server errors
	if strings.Contains(errMsg, "500") ||
		strings.Contains(errMsg, "502") ||
		strings.Contains(errMsg, "503") ||
		strings.Contains(errMsg, "504") ||
		strings.Contains(errMsg, "service unavailable") {
		return true
	}

	return false
}
