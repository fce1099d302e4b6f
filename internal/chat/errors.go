package chat

import (
	"context"
	"errors"
)

// Error taxonomy. Storage adapters, the credential verifier and the routers
// wrap one of these with fmt.Errorf("...: %w", Err...) so callers can classify
// failures with errors.Is.
var (
	// ErrAuth means a missing, invalid or expired credential.
	ErrAuth = errors.New("unauthorized")

	// ErrNotFound means a referenced user, conversation or message is absent.
	ErrNotFound = errors.New("not found")

	// ErrValidation means malformed input such as empty content.
	ErrValidation = errors.New("invalid input")

	// ErrConflict means a uniqueness rule was violated (duplicate email).
	ErrConflict = errors.New("conflict")

	// ErrRateLimited means the caller exceeded an action or connect rate rule.
	ErrRateLimited = errors.New("rate limited")

	// ErrTransient means an external dependency was unavailable or timed out.
	// The caller may resubmit the action.
	ErrTransient = errors.New("temporarily unavailable")
)

// Wire error codes sent to clients in error events.
const (
	CodeInvalidInput = "invalid_input"
	CodeNotFound     = "not_found"
	CodeUnauthorized = "unauthorized"
	CodeConflict     = "conflict"
	CodeRateLimited  = "rate_limited"
	CodeUnavailable  = "unavailable"
	CodeInternal     = "internal"
)

// Code maps err onto its wire error code.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return CodeInvalidInput
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrAuth):
		return CodeUnauthorized
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrTransient),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return CodeUnavailable
	default:
		return CodeInternal
	}
}

// PublicMessage returns the generic, client-safe description for a code.
func PublicMessage(code string) string {
	switch code {
	case CodeInvalidInput:
		return "invalid input"
	case CodeNotFound:
		return "resource not found"
	case CodeUnauthorized:
		return "unauthorized"
	case CodeConflict:
		return "already exists"
	case CodeRateLimited:
		return "too many requests, slow down"
	case CodeUnavailable:
		return "service temporarily unavailable, retry later"
	default:
		return "internal error"
	}
}
