package model

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// FailureReason classifies why a provider call failed, independent of the
// provider's own error representation. The fallback chain switches on this
// rather than inspecting provider-specific error strings.
type FailureReason string

const (
	// FailureRateLimited means the provider rejected the call due to
	// rate limiting (HTTP 429 or provider-specific rate-limit signal).
	FailureRateLimited FailureReason = "rate_limited"

	// FailureAuth means the provider rejected the credentials (401/403).
	FailureAuth FailureReason = "auth"

	// FailureContextTooLong means the request exceeded the model's
	// context window.
	FailureContextTooLong FailureReason = "context_too_long"

	// FailureTimeout means the call did not complete within its deadline.
	FailureTimeout FailureReason = "timeout"

	// FailureServerError means the provider returned a 5xx or otherwise
	// signaled an internal failure unrelated to the request content.
	FailureServerError FailureReason = "server_error"

	// FailureInvalidRequest means the provider rejected the request
	// shape itself (400) — retrying the same request on the same
	// provider will not help, but a fallback provider might still
	// accept an equivalent request.
	FailureInvalidRequest FailureReason = "invalid_request"

	// FailureCanceled means the caller cancelled the call's context; the
	// chain does not fall through on it.
	FailureCanceled FailureReason = "canceled"

	// FailureUnknown covers anything not otherwise classified.
	FailureUnknown FailureReason = "unknown"
)

// ProviderError wraps a provider failure with its classified reason.
type ProviderError struct {
	Reason   FailureReason
	Provider Provider
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return string(e.Reason) + ": " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ClassifyError determines the FailureReason for an error returned by a
// provider call. It recognizes context deadline/cancellation, HTTP status
// codes embedded in common provider SDK error shapes, and otherwise falls
// back to substring matching against the error text.
func ClassifyError(err error) FailureReason {
	if err == nil {
		return ""
	}

	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Reason
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	if errors.Is(err, context.Canceled) {
		return FailureCanceled
	}

	var statusErr interface{ StatusCode() int }
	if errors.As(err, &statusErr) {
		return classifyStatusCode(statusErr.StatusCode())
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429") || strings.Contains(msg, "too many requests"):
		return FailureRateLimited
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "401") || strings.Contains(msg, "forbidden") || strings.Contains(msg, "403") || strings.Contains(msg, "invalid api key"):
		return FailureAuth
	case strings.Contains(msg, "context length") || strings.Contains(msg, "maximum context") || strings.Contains(msg, "too many tokens"):
		return FailureContextTooLong
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return FailureTimeout
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") || strings.Contains(msg, "503") || strings.Contains(msg, "internal server error") || strings.Contains(msg, "service unavailable"):
		return FailureServerError
	case strings.Contains(msg, "400") || strings.Contains(msg, "bad request") || strings.Contains(msg, "invalid request"):
		return FailureInvalidRequest
	default:
		return FailureUnknown
	}
}

func classifyStatusCode(code int) FailureReason {
	switch {
	case code == http.StatusTooManyRequests:
		return FailureRateLimited
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return FailureAuth
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return FailureTimeout
	case code == http.StatusBadRequest:
		return FailureInvalidRequest
	case code >= 500:
		return FailureServerError
	default:
		return FailureUnknown
	}
}

// ShouldFallback reports whether a failure of this reason should trigger
// falling through to the next provider in the chain, rather than surfacing
// immediately to the caller. Invalid-request failures still fall through
// (a different provider may accept an equivalent request shape), but the
// chain does not retry the SAME provider for any reason here — that is the
// caller's (per-provider retry policy's) responsibility.
func (r FailureReason) ShouldFallback() bool {
	switch r {
	case FailureRateLimited, FailureAuth, FailureContextTooLong, FailureTimeout, FailureServerError, FailureInvalidRequest, FailureUnknown:
		return true
	default:
		return false
	}
}
