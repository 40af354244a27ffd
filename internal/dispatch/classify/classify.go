// Package classify maps heterogeneous failures (HTTP status, transport
// error, provider-reported reason) into a closed set of failure codes.
package classify

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Failure codes. Every failure surfaced to triage carries exactly one.
const (
	SchemaParseError      = "SCHEMA_PARSE_ERROR"
	SchemaValidationError = "SCHEMA_VALIDATION_ERROR"
	SchemaRepairFailed    = "SCHEMA_REPAIR_FAILED"

	ProviderDisabled      = "PROVIDER_DISABLED"
	ProviderTimeout       = "PROVIDER_TIMEOUT"
	ProviderAuthError     = "PROVIDER_AUTH_ERROR"
	ProviderRateLimit     = "PROVIDER_RATE_LIMIT"
	ProviderUpstreamError = "PROVIDER_UPSTREAM_ERROR"

	InternalError = "INTERNAL_ERROR"
	Unknown       = "UNKNOWN"
)

// ClassifiedError is a failure reduced to a stable code plus context the
// retry logic needs (status, retry-after hint).
type ClassifiedError struct {
	Code       string
	Message    string
	HTTPStatus int     // 0 when not an HTTP failure
	RetryAfter float64 // seconds, 0 when the provider gave no hint
}

// HTTPStatus maps an HTTP status to a failure code. A status of 0 means the
// failure never reached HTTP (transport error); the error kind is inspected
// instead.
func HTTPStatus(status int, errKind, message string, retryAfter float64) ClassifiedError {
	ce := ClassifiedError{Message: message, HTTPStatus: status, RetryAfter: retryAfter}

	switch {
	case status == 401 || status == 403:
		ce.Code = ProviderAuthError
	case status == 408:
		ce.Code = ProviderTimeout
	case status == 429:
		ce.Code = ProviderRateLimit
	case status >= 500 && status < 600:
		ce.Code = ProviderUpstreamError
	case strings.Contains(strings.ToLower(errKind), "timeout"):
		ce.Code = ProviderTimeout
	default:
		ce.Code = Unknown
	}
	return ce
}

// Transport classifies an error raised before or while reading an HTTP
// response. Client-side timeouts (exceeded deadlines, net.Error timeouts)
// map to PROVIDER_TIMEOUT. status is 0 when no response arrived.
func Transport(status int, err error) ClassifiedError {
	kind := "transport"
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		kind = "timeout"
	}
	return HTTPStatus(status, kind, err.Error(), 0)
}

// Retryable reports whether a failure code is worth retrying against the
// same provider before failing over.
func Retryable(code string) bool {
	switch code {
	case ProviderRateLimit, ProviderTimeout, ProviderUpstreamError:
		return true
	}
	return false
}
