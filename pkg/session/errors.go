package session

import (
	"fmt"
	"strings"
)

// ErrorType categorizes session failures.
type ErrorType string

const (
	// ErrPermission covers microphone denial or device unavailability.
	ErrPermission ErrorType = "permission_error"
	// ErrAuthentication covers rejected or missing credentials.
	ErrAuthentication ErrorType = "authentication_error"
	// ErrTransport covers generic network or protocol failures.
	ErrTransport ErrorType = "transport_error"
	// ErrUnexpectedClose covers a connection dropped mid-recording.
	ErrUnexpectedClose ErrorType = "unexpected_close"
	// ErrPlayback covers decode or schedule failures for output audio.
	ErrPlayback ErrorType = "playback_error"
	// ErrBusy covers an exclusive resource already in use.
	ErrBusy ErrorType = "busy"
)

// Error is a classified session error with a user-facing message.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Cause }

// SessionFatal reports whether the error must tear the session down. Only
// the busy rejection from the on-demand phrase path leaves the session
// running; everything else funnels through teardown.
func (e *Error) SessionFatal() bool {
	return e.Type != ErrBusy
}

// NewPermissionError wraps a microphone/device failure.
func NewPermissionError(cause error) *Error {
	return &Error{
		Type:    ErrPermission,
		Message: "Microphone unavailable. Check your input device and permissions.",
		Cause:   cause,
	}
}

// NewAuthenticationError wraps a credential rejection.
func NewAuthenticationError(cause error) *Error {
	return &Error{
		Type:    ErrAuthentication,
		Message: "Your API key was rejected. Check your Gemini API key and try again.",
		Cause:   cause,
	}
}

// NewTransportError wraps a generic connection failure.
func NewTransportError(cause error) *Error {
	return &Error{
		Type:    ErrTransport,
		Message: "Connection error. Please try again.",
		Cause:   cause,
	}
}

// NewUnexpectedCloseError reports a connection dropped while recording.
func NewUnexpectedCloseError(cause error) *Error {
	return &Error{
		Type:    ErrUnexpectedClose,
		Message: "The session closed unexpectedly. Start a new session to continue.",
		Cause:   cause,
	}
}

// NewPlaybackError wraps an audio decode or playback failure.
func NewPlaybackError(cause error) *Error {
	return &Error{
		Type:    ErrPlayback,
		Message: "Could not play audio.",
		Cause:   cause,
	}
}

// authErrorMarkers are substrings that identify credential failures in
// backend error text.
var authErrorMarkers = []string{
	"api key",
	"api_key",
	"unauthorized",
	"unauthenticated",
	"permission_denied",
	"invalid authentication",
	"401",
	"403",
}

// Classify maps a raw transport error onto the session error taxonomy.
// Credential failures are detected by matching known error substrings;
// everything else is a generic transport error.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	if typed, ok := err.(*Error); ok {
		return typed
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range authErrorMarkers {
		if strings.Contains(msg, marker) {
			return NewAuthenticationError(err)
		}
	}
	return NewTransportError(err)
}
