package remotedb

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigError reports missing or invalid client configuration.
// It is returned before any remote call is made.
type ConfigError struct {
	Missing []string
	Reason  string
}

func (e *ConfigError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("remote database configuration incomplete: missing %s", strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("remote database configuration invalid: %s", e.Reason)
}

// TransportError is a network or HTTP-layer failure.
type TransportError struct {
	StatusCode int // 0 when no response was received
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote database returned HTTP %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("remote database unreachable: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a deadline expiry.
func (e *TransportError) Timeout() bool {
	var t interface{ Timeout() bool }
	return errors.As(e.Err, &t) && t.Timeout()
}

// ErrorDetail is one entry of the remote "errors" array.
type ErrorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// BackendError means the request reached the service but it reported failure.
type BackendError struct {
	StatusCode int
	Errors     []ErrorDetail
}

func (e *BackendError) Error() string {
	if len(e.Errors) == 0 {
		return "remote database reported failure without details"
	}
	msgs := make([]string, 0, len(e.Errors))
	for _, d := range e.Errors {
		if d.Code != 0 {
			msgs = append(msgs, fmt.Sprintf("%s (code %d)", d.Message, d.Code))
		} else {
			msgs = append(msgs, d.Message)
		}
	}
	return "remote database error: " + strings.Join(msgs, "; ")
}

// Message returns the first backend message, if any.
func (e *BackendError) Message() string {
	if len(e.Errors) == 0 {
		return ""
	}
	return e.Errors[0].Message
}

// AuthError means the credential was rejected.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote database rejected credentials (HTTP %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("remote database rejected credentials: %s", e.Message)
}

// BatchError wraps the failure of one statement in a batch.
// Index is 1-based.
type BatchError struct {
	Index int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch statement %d failed: %v", e.Index, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// Kind names the error class for API payloads and logs.
func Kind(err error) string {
	var (
		cfgErr   *ConfigError
		authErr  *AuthError
		batchErr *BatchError
		backErr  *BackendError
		trErr    *TransportError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &cfgErr):
		return "config"
	case errors.As(err, &authErr):
		return "auth"
	case errors.As(err, &batchErr):
		return "batch"
	case errors.As(err, &backErr):
		return "backend"
	case errors.As(err, &trErr):
		return "transport"
	}
	return ""
}

// Known D1/Cloudflare authentication error codes.
var authErrorCodes = map[int]bool{
	9106:  true,
	9109:  true,
	10000: true,
	10001: true,
}

func looksLikeAuthFailure(code int, message string) bool {
	if authErrorCodes[code] {
		return true
	}
	m := strings.ToLower(message)
	for _, needle := range []string{"authentication", "unauthorized", "invalid api token", "invalid access token", "forbidden"} {
		if strings.Contains(m, needle) {
			return true
		}
	}
	return false
}
