package client

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a request failure at the point it is raised, so that retry
// decisions never depend on message text.
type Kind int

const (
	// KindValidation covers 4xx responses; never retried.
	KindValidation Kind = iota
	// KindTransient covers 5xx responses, connection and DNS failures, and
	// per-attempt timeouts; retried with capped exponential backoff.
	KindTransient
	// KindAuthExpired covers 401 responses, including the terminal case where
	// a credential refresh was attempted and failed.
	KindAuthExpired
	// KindTimeout covers an exhausted wall-clock budget.
	KindTimeout
	// KindCanceled covers caller cancellation; propagated as-is so callers can
	// distinguish "I gave up" from "it failed".
	KindCanceled
)

// String returns the tag name of the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransient:
		return "transient"
	case KindAuthExpired:
		return "auth_expired"
	case KindTimeout:
		return "timeout"
	case KindCanceled:
		return "canceled"
	}
	return "unknown"
}

// Error is a classified request failure.
type Error struct {
	Kind    Kind
	Status  int // HTTP status when one was received, 0 otherwise
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the classification from err, or KindTransient when err does
// not carry one.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindTransient
}

// IsCanceled reports whether err represents caller cancellation rather than a
// request failure.
func IsCanceled(err error) bool {
	return KindOf(err) == KindCanceled
}

// legibleMessage translates common network failure signatures into a message
// fit for end users.
func legibleMessage(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"):
		return "connection failed - check if the server is running"
	case strings.Contains(msg, "no such host"):
		return "server address could not be resolved"
	case strings.Contains(msg, "context deadline exceeded"):
		return "request timed out"
	}
	return "request failed"
}
