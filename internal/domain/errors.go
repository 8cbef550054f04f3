package domain

import "errors"

var (
	ErrValidation         = errors.New("validation error")
	ErrNotFound           = errors.New("not found")
	ErrRateLimitExceeded  = errors.New("rate limit exceeded")
	ErrCircuitOpen        = errors.New("circuit open")
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)

// Stable error codes exposed to API clients.
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeNotFound           = "NOT_FOUND"
	CodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	CodeCircuitOpen        = "CIRCUIT_OPEN"
	CodeMaxRetriesExceeded = "MAX_RETRIES_EXCEEDED"
	CodeInternal           = "INTERNAL_ERROR"
)

// ErrorCode maps an error from the dispatch taxonomy to its client-facing code.
// An exhaustion in which every circuit stayed open reports CIRCUIT_OPEN.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrRateLimitExceeded):
		return CodeRateLimitExceeded
	case errors.Is(err, ErrCircuitOpen):
		return CodeCircuitOpen
	case errors.Is(err, ErrMaxRetriesExceeded):
		return CodeMaxRetriesExceeded
	default:
		return CodeInternal
	}
}
