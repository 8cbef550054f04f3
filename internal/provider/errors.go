package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/kursadbilgin/email-dispatch/internal/domain"
)

// Result labels for a single provider invocation.
const (
	ResultSuccess     = "success"
	ResultTransient   = "transient_error"
	ResultPermanent   = "permanent_error"
	ResultCircuitOpen = "circuit_open"
)

// ProviderError is a failed send, tagged with the backend that produced it.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	var b strings.Builder
	if name := strings.TrimSpace(e.Provider); name != "" {
		fmt.Fprintf(&b, "provider %s", name)
	} else {
		b.WriteString("provider error")
	}
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, ": status=%d", e.StatusCode)
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}

	return b.String()
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether another attempt may succeed. An open circuit
// counts as transient: the provider is expected back after its cooldown.
func IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, domain.ErrCircuitOpen):
		return true
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// Classify returns the result label for an invocation that ended with err.
func Classify(err error) string {
	switch {
	case err == nil:
		return ResultSuccess
	case errors.Is(err, domain.ErrCircuitOpen):
		return ResultCircuitOpen
	case IsTransient(err):
		return ResultTransient
	default:
		return ResultPermanent
	}
}

func transientError(provider string, message string, cause error) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Message:   message,
		Transient: !errors.Is(cause, context.Canceled),
		Cause:     cause,
	}
}
