// Package providers implements the gateway's concrete vendor backends.
package providers

import (
	"errors"
	"fmt"
	"net/http"
)

// FailureKind classifies why a provider call failed, matching the five
// kinds the gateway contract names: timeout, rate_limited, server_error,
// parse_error, transport_error.
type FailureKind string

const (
	FailureTimeout        FailureKind = "timeout"
	FailureRateLimited     FailureKind = "rate_limited"
	FailureServerError     FailureKind = "server_error"
	FailureParseError      FailureKind = "parse_error"
	FailureTransportError  FailureKind = "transport_error"
)

// IsFallbackEligible reports whether this failure kind should move to
// the next provider in priority order. Every one of the five kinds
// does; transport_error reaches the gateway only after the provider's
// BaseRetrier has already retried it on the same provider.
func (k FailureKind) IsFallbackEligible() bool {
	switch k {
	case FailureTimeout, FailureRateLimited, FailureServerError, FailureParseError, FailureTransportError:
		return true
	default:
		return false
	}
}

// Error is a structured, classified provider failure.
type Error struct {
	Kind     FailureKind
	Provider string
	Model    string
	Status   int
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s (%s, status=%d)", e.Provider, e.Message, e.Kind, e.Status)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%s, status=%d)", e.Provider, e.Cause.Error(), e.Kind, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// AsError extracts a *Error from err, if any.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// ClassifyStatus maps an HTTP status code to a FailureKind.
func ClassifyStatus(status int) FailureKind {
	switch {
	case status == http.StatusTooManyRequests:
		return FailureRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return FailureTimeout
	case status >= 500:
		return FailureServerError
	case status >= 400:
		return FailureParseError
	default:
		return FailureTransportError
	}
}

// New builds a classified *Error.
func New(kind FailureKind, provider, model string, status int, cause error) *Error {
	e := &Error{Kind: kind, Provider: provider, Model: model, Status: status, Cause: cause}
	if cause != nil {
		e.Message = cause.Error()
	}
	return e
}
