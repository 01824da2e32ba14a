package capital

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAuthenticated is returned by domain operations invoked without session tokens.
	ErrNotAuthenticated = errors.New("capital: not authenticated")
	// ErrNoResponse is the terminal outcome once the retry budget is spent.
	ErrNoResponse = errors.New("capital: no response after retries")
	// ErrRejected is a definitive 4xx on a request sent with FinalOnReject.
	ErrRejected = errors.New("capital: request rejected")
)

// AuthError reports a failed login: non-200 status or missing session tokens.
type AuthError struct {
	StatusCode int
	Body       string
	Reason     string
}

func (e *AuthError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("capital: authentication failed (status %d): %s", e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("capital: authentication failed (status %d): %s", e.StatusCode, e.Body)
}

// RequestError reports a single failed attempt: an HTTP status >= 400 or a transport error.
type RequestError struct {
	Method     string
	Path       string
	StatusCode int
	ErrorCode  string
	Body       string
	Err        error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("capital: %s %s: %v", e.Method, e.Path, e.Err)
	}
	if e.ErrorCode != "" {
		return fmt.Sprintf("capital: %s %s: HTTP %d (%s)", e.Method, e.Path, e.StatusCode, e.ErrorCode)
	}
	return fmt.Sprintf("capital: %s %s: HTTP %d", e.Method, e.Path, e.StatusCode)
}

func (e *RequestError) Unwrap() error { return e.Err }
