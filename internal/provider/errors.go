// errors.go defines the failure taxonomy shared by all providers and
// the classifier that maps raw backend failures onto it.
package provider

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a provider failure.
type Kind string

const (
	KindNotInstalled     Kind = "not_installed"
	KindNotAuthenticated Kind = "not_authenticated"
	KindRateLimited      Kind = "rate_limited"
	KindNetworkError     Kind = "network_error"
	KindProcessCrashed   Kind = "process_crashed"
	KindMalformedOutput  Kind = "malformed_output"
	KindUnknownError     Kind = "unknown_error"
)

// Error is a classified provider failure with a remediation hint.
type Error struct {
	Kind    Kind
	Backend string
	Message string
	Hint    string
}

func (e *Error) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is supports errors.Is matching on the Kind via sentinel comparison.
func (e *Error) Is(target error) bool {
	var pe *Error
	if errors.As(target, &pe) {
		return pe.Kind == e.Kind
	}
	return false
}

// NotInstalled builds the pre-spawn failure for a missing backend.
func NotInstalled(backend, guidance string) *Error {
	return &Error{
		Kind:    KindNotInstalled,
		Backend: backend,
		Message: fmt.Sprintf("%s is required but is not installed", backend),
		Hint:    guidance,
	}
}

// NotAuthenticated builds the pre-spawn failure for missing credentials.
func NotAuthenticated(backend, hint string) *Error {
	return &Error{
		Kind:    KindNotAuthenticated,
		Backend: backend,
		Message: fmt.Sprintf("%s authentication is required", backend),
		Hint:    hint,
	}
}

// KindOf returns the Kind of a classified error, or KindUnknownError.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknownError
}

// Classify maps failure text from a backend (stderr, error events,
// SDK errors) onto the taxonomy, attaching a remediation hint where
// the class implies one. loginCmd is the backend's login invocation
// used in authentication hints; "" omits the hint.
func Classify(backend, text, loginCmd string) *Error {
	lower := strings.ToLower(text)
	e := &Error{Backend: backend, Message: text}

	switch {
	case containsAny(lower, "rate limit", "rate-limit", "too many requests", "429", "quota exceeded", "usage limit"):
		e.Kind = KindRateLimited
		e.Hint = "rate limited; wait a moment and retry"
	case containsAny(lower, "unauthorized", "401", "403", "invalid api key", "authentication", "not logged in", "credential", "login required", "token expired"):
		e.Kind = KindNotAuthenticated
		if loginCmd != "" {
			e.Hint = fmt.Sprintf("run `%s` to authenticate", loginCmd)
		}
	case containsAny(lower, "network", "connection refused", "connection reset", "no such host", "dial tcp", "i/o timeout", "tls handshake", "econnrefused", "enotfound", "etimedout"):
		e.Kind = KindNetworkError
		e.Hint = "check your network connection and retry"
	case containsAny(lower, "signal: killed", "signal: segmentation", "panic:", "process exited with code"):
		e.Kind = KindProcessCrashed
	default:
		e.Kind = KindUnknownError
	}
	return e
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
