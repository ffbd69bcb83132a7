package chat

import (
	"errors"
	"fmt"
)

// ErrorCode represents a categorized error type.
type ErrorCode int

const (
	// Protocol errors (from broker error frames)
	ErrorUnknown ErrorCode = iota
	ErrorUnsupportedVersion
	ErrorUnauthorized
	ErrorInvalidMessage
	ErrorBadRequest
	ErrorRoomNotFound
	ErrorAccessDenied
	ErrorRateLimited
	ErrorInternalServer

	// Client-side errors
	ErrorTransport
	ErrorDisconnected
	ErrorTimeout
	ErrorInvalidConfig
	ErrorNotConnected
	ErrorSerialization
	ErrorSubscription
	ErrorHistoryFetch
	ErrorMalformedEvent
	ErrorSendWhileDisconnected
)

// String returns the string representation of an ErrorCode.
func (e ErrorCode) String() string {
	switch e {
	case ErrorUnknown:
		return "unknown"
	case ErrorUnsupportedVersion:
		return "unsupported_version"
	case ErrorUnauthorized:
		return "unauthorized"
	case ErrorInvalidMessage:
		return "invalid_message"
	case ErrorBadRequest:
		return "bad_request"
	case ErrorRoomNotFound:
		return "room_not_found"
	case ErrorAccessDenied:
		return "access_denied"
	case ErrorRateLimited:
		return "rate_limited"
	case ErrorInternalServer:
		return "internal_error"
	case ErrorTransport:
		return "transport_error"
	case ErrorDisconnected:
		return "disconnected"
	case ErrorTimeout:
		return "timeout"
	case ErrorInvalidConfig:
		return "invalid_config"
	case ErrorNotConnected:
		return "not_connected"
	case ErrorSerialization:
		return "serialization_error"
	case ErrorSubscription:
		return "subscription_error"
	case ErrorHistoryFetch:
		return "history_fetch_error"
	case ErrorMalformedEvent:
		return "malformed_event"
	case ErrorSendWhileDisconnected:
		return "send_while_disconnected"
	default:
		return fmt.Sprintf("unknown_code_%d", e)
	}
}

// ParseErrorCode converts a protocol error code string to ErrorCode.
func ParseErrorCode(code string) ErrorCode {
	switch code {
	case "unsupported_version":
		return ErrorUnsupportedVersion
	case "unauthorized":
		return ErrorUnauthorized
	case "invalid_message":
		return ErrorInvalidMessage
	case "bad_request":
		return ErrorBadRequest
	case "room_not_found":
		return ErrorRoomNotFound
	case "access_denied":
		return ErrorAccessDenied
	case "rate_limited":
		return ErrorRateLimited
	case "internal_error":
		return ErrorInternalServer
	default:
		return ErrorUnknown
	}
}

// ChatError is a structured error with code and context.
type ChatError struct {
	Code    ErrorCode
	Message string
	Wrapped error
}

// Error implements the error interface.
func (e *ChatError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s (wrapped: %v)", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Unwrap support.
func (e *ChatError) Unwrap() error {
	return e.Wrapped
}

// Is implements errors.Is support; two ChatErrors match when their codes match.
func (e *ChatError) Is(target error) bool {
	t, ok := target.(*ChatError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates a new ChatError with the given code and message.
func NewError(code ErrorCode, message string) *ChatError {
	return &ChatError{Code: code, Message: message}
}

// WrapError wraps an existing error with a ChatError.
func WrapError(code ErrorCode, message string, err error) *ChatError {
	return &ChatError{Code: code, Message: message, Wrapped: err}
}

// FromProtocolError converts a broker ProtocolError to a ChatError.
func FromProtocolError(e *ProtocolError) *ChatError {
	if e == nil {
		return nil
	}
	return &ChatError{Code: ParseErrorCode(e.Code), Message: e.Msg}
}

// Sentinel errors for errors.Is comparisons. Matching is by code.
var (
	// ErrSendWhileDisconnected is returned by Session.SendMessage when the
	// session is not LIVE. The message is dropped, never queued.
	ErrSendWhileDisconnected = NewError(ErrorSendWhileDisconnected, "session not live, message dropped")

	// ErrNotConnected is returned when an operation needs an open transport.
	ErrNotConnected = NewError(ErrorNotConnected, "not connected")
)

// IsConnectionError checks if an error is a connection-related error.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var ce *ChatError
	if !errors.As(err, &ce) {
		return false
	}
	switch ce.Code {
	case ErrorTransport, ErrorDisconnected, ErrorTimeout, ErrorNotConnected:
		return true
	default:
		return false
	}
}

// IsProtocolError checks if an error originated from a broker error frame.
func IsProtocolError(err error) bool {
	if err == nil {
		return false
	}
	var ce *ChatError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code >= ErrorUnsupportedVersion && ce.Code <= ErrorInternalServer
}
