package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

// Reason classifies why a provider call failed.
type Reason string

const (
	ReasonUnreachable       Reason = "Unreachable"
	ReasonAuthRejected      Reason = "AuthRejected"
	ReasonRateLimited       Reason = "RateLimited"
	ReasonMalformedResponse Reason = "MalformedResponse"
	ReasonCancelled         Reason = "Cancelled"
)

// ProviderError is the payload of a terminal stream error event.
type ProviderError struct {
	Provider   string
	Reason     Reason
	StatusCode int    // HTTP status when the failure came from a response
	Message    string // Human-readable detail, truncated by adapters
	Err        error  // Underlying cause, if any
}

// Error implements the error interface.
func (providerError *ProviderError) Error() string {
	detail := providerError.Message
	if detail == "" && providerError.Err != nil {
		detail = providerError.Err.Error()
	}
	if providerError.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", providerError.Provider, providerError.Reason, providerError.StatusCode, detail)
	}
	return fmt.Sprintf("%s: %s: %s", providerError.Provider, providerError.Reason, detail)
}

// Unwrap returns the underlying cause.
func (providerError *ProviderError) Unwrap() error {
	return providerError.Err
}

// HTTPStatusError is returned by transport helpers for non-2xx responses.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (statusError *HTTPStatusError) Error() string {
	return fmt.Sprintf("non-2xx status %d: %s", statusError.StatusCode, statusError.Body)
}

// ReasonForStatus maps an HTTP status code to a failure reason.
func ReasonForStatus(statusCode int) Reason {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ReasonAuthRejected
	case http.StatusTooManyRequests, 529:
		return ReasonRateLimited
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return ReasonUnreachable
	default:
		return ReasonMalformedResponse
	}
}

// Classify converts any error produced while calling provider into a
// ProviderError. Errors that already are ProviderErrors keep their reason.
func Classify(provider string, err error) *ProviderError {
	var providerError *ProviderError
	if errors.As(err, &providerError) {
		if providerError.Provider == "" {
			providerError.Provider = provider
		}
		return providerError
	}

	classified := &ProviderError{Provider: provider, Reason: ReasonMalformedResponse, Err: err}

	var statusError *HTTPStatusError
	var urlError *url.Error
	var netError net.Error
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		classified.Reason = ReasonCancelled
	case errors.As(err, &statusError):
		classified.Reason = ReasonForStatus(statusError.StatusCode)
		classified.StatusCode = statusError.StatusCode
		classified.Message = statusError.Body
	case errors.As(err, &urlError), errors.As(err, &netError):
		classified.Reason = ReasonUnreachable
	}
	return classified
}
