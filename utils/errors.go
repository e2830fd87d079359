package utils

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure for retry and surfacing decisions.
type ErrorKind string

const (
	// KindTransport marks a retriable channel failure; drives backoff.
	KindTransport ErrorKind = "transport"
	// KindProtocol marks an explicit server rejection; terminal for the action.
	KindProtocol ErrorKind = "protocol"
	// KindTimeout marks a client-side deadline exceeded.
	KindTimeout ErrorKind = "timeout"
	// KindAuth marks a missing or invalid token; fatal until re-auth.
	KindAuth ErrorKind = "auth"
	// KindStorage marks a durable persistence failure; degrades to memory-only.
	KindStorage ErrorKind = "storage"
	// KindCancelled marks an operation torn down before completion.
	KindCancelled ErrorKind = "cancelled"
)

// Error is the classified error surfaced across component boundaries.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func TransportError(message string, err error) *Error {
	return &Error{Kind: KindTransport, Message: message, Err: err}
}

func ProtocolError(message string) *Error {
	return &Error{Kind: KindProtocol, Message: message}
}

func TimeoutError(message string) *Error {
	return &Error{Kind: KindTimeout, Message: message}
}

func AuthError(message string) *Error {
	return &Error{Kind: KindAuth, Message: message}
}

func StorageError(message string, err error) *Error {
	return &Error{Kind: KindStorage, Message: message, Err: err}
}

func CancelledError(message string) *Error {
	return &Error{Kind: KindCancelled, Message: message}
}

// KindOf extracts the classification from err, or "" if unclassified.
func KindOf(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// IsRetriable reports whether the failure should feed the backoff policy.
func IsRetriable(err error) bool {
	return KindOf(err) == KindTransport
}
