package platform

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind classifies a failed API call.
type ErrorKind string

const (
	KindTransport ErrorKind = "transport" // network, timeout, 429, 5xx: worth retrying
	KindAuth      ErrorKind = "auth"      // 401, 403, failed login
	KindNotFound  ErrorKind = "not-found"
	KindConflict  ErrorKind = "conflict"
	KindPayload   ErrorKind = "payload" // any other 4xx, or a response we could not parse
)

// Sentinels matched with errors.Is against an *APIError.
var (
	ErrTransport = errors.New("transport error")
	ErrAuth      = errors.New("authentication failed")
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("conflict")
	ErrPayload   = errors.New("rejected payload")
)

// APIError is returned by every Client call that did not succeed.
type APIError struct {
	Kind   ErrorKind
	Op     string // e.g. "GET /v1/datasets"
	Status int    // 0 when no response was received
	Body   string // truncated response body
	Err    error  // underlying transport error, if any
}

func (e *APIError) Error() string {
	switch {
	case e.Status != 0 && e.Body != "":
		return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.Status, e.Body)
	case e.Status != 0:
		return fmt.Sprintf("%s: HTTP %d", e.Op, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
}

func (e *APIError) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrTransport:
		return e.Kind == KindTransport
	case ErrAuth:
		return e.Kind == KindAuth
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrConflict:
		return e.Kind == KindConflict
	case ErrPayload:
		return e.Kind == KindPayload
	}
	return false
}

// KindForStatus maps an HTTP status code onto an error kind.
func KindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests, status >= 500:
		return KindTransport
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusConflict:
		return KindConflict
	}
	return KindPayload
}

func statusError(op string, status int, body []byte) *APIError {
	return &APIError{Kind: KindForStatus(status), Op: op, Status: status, Body: truncate(string(body), 200)}
}

func transportError(op string, err error) *APIError {
	return &APIError{Kind: KindTransport, Op: op, Err: err}
}

func payloadError(op string, err error) *APIError {
	return &APIError{Kind: KindPayload, Op: op, Err: err}
}

// IsRetryable reports whether err is a transient failure. Caller
// cancellation is never retried, timeouts of a single call are.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrTransport) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// KindOf returns the kind of the first APIError in err's chain, or "".
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
