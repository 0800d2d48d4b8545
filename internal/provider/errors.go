package provider

import (
	"errors"
	"fmt"
)

// HTTPError represents an HTTP error response from a provider API
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider API error: status %d: %s", e.StatusCode, e.Body)
}

// IsRateLimited checks if an error is an HTTP 429 response
func IsRateLimited(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 429
	}
	return false
}

// IsUnauthorized checks if an error is an HTTP 401 response
func IsUnauthorized(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 401
	}
	return false
}

// IsForbidden checks if an error is an HTTP 403 response
func IsForbidden(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 403
	}
	return false
}

// IsNotFound checks if an error is an HTTP 404 response
func IsNotFound(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 404
	}
	return false
}
