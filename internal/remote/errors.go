package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

// ErrNotConfigured is returned when the client has no server URL or tenant
var ErrNotConfigured = errors.New("remote client not configured")

// ErrorKind groups failures by how the caller should react to them
type ErrorKind string

const (
	// ErrorKindNetwork means the server could not be reached
	ErrorKindNetwork ErrorKind = "network"
	// ErrorKindAuth means the token was rejected
	ErrorKindAuth ErrorKind = "auth"
	// ErrorKindServer means the server failed or throttled the request
	ErrorKindServer ErrorKind = "server"
	// ErrorKindClient means the request itself was rejected
	ErrorKindClient ErrorKind = "client"
	// ErrorKindUnknown is everything else
	ErrorKindUnknown ErrorKind = "unknown"
)

// APIError represents an error response from the API
type APIError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	ErrorCode  string `json:"error"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.ErrorCode != "" {
		return fmt.Sprintf("server returned %d (%s): %s", e.StatusCode, e.ErrorCode, msg)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, msg)
}

// StatusCode extracts the HTTP status of an APIError anywhere in err's chain, or 0
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// Classify maps an error returned by the client to an ErrorKind
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return ErrorKindAuth
		case apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500:
			return ErrorKindServer
		case apiErr.StatusCode >= 400:
			return ErrorKindClient
		}
		return ErrorKindUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindNetwork
	}

	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) {
		return ErrorKindNetwork
	}

	return ErrorKindUnknown
}

// retryable reports whether repeating the request might succeed
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch Classify(err) {
	case ErrorKindNetwork, ErrorKindServer:
		return true
	}
	return false
}
