package mattermost

import (
	"errors"
	"fmt"
)

// Error kinds, matched with errors.Is.
var (
	// ErrTransient covers network failures and 5xx answers; retry later.
	ErrTransient = errors.New("transient mattermost error")
	// ErrAuth covers rejected credentials (401, 403).
	ErrAuth = errors.New("mattermost authentication failed")
	// ErrRejected covers any other non-2xx answer.
	ErrRejected = errors.New("mattermost rejected the request")
)

// Error describes a failed API call.
type Error struct {
	Op         string // "login" or "set custom status"
	StatusCode int    // 0 when no response was received
	Message    string // server-provided message, if any
	Kind       error  // one of ErrTransient, ErrAuth, ErrRejected
	Err        error  // underlying transport error, if any
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %v (HTTP %d): %s", e.Op, e.Kind, e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("%s: %v (HTTP %d)", e.Op, e.Kind, e.StatusCode)
	}
}

// Is reports whether target is the error kind.
func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }

// classify maps an HTTP status code to an error kind.
func classify(code int) error {
	switch {
	case code == 401 || code == 403:
		return ErrAuth
	case code >= 500:
		return ErrTransient
	default:
		return ErrRejected
	}
}
