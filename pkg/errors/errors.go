package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Sentinel errors for the ranging engine. Callers match these with errors.Is;
// the structured Error type below carries the machine-readable code and
// context fields alongside them.
var (
	// ErrInvalidConfig indicates a malformed or out-of-range configuration.
	// Not retryable without correcting the configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNotInitialized indicates a session operation before Initialize.
	ErrNotInitialized = errors.New("engine not initialized")

	// ErrNoActiveSession indicates a ping attempt without an active session.
	ErrNoActiveSession = errors.New("no active session")

	// ErrInvalidSession indicates a session ID that does not match the
	// current session.
	ErrInvalidSession = errors.New("invalid session")

	// ErrHardwareUnavailable indicates an audio device acquisition failure.
	// Retryable after backing off and re-initializing.
	ErrHardwareUnavailable = errors.New("audio hardware unavailable")

	// ErrPingInProgress indicates a ping was requested while a previous one
	// is still in flight. Retryable once the current ping completes.
	ErrPingInProgress = errors.New("ping already in progress")

	// ErrPingAborted indicates an in-flight ping was canceled because the
	// session was stopped or the context expired.
	ErrPingAborted = errors.New("ping aborted")
)

// Machine-readable error codes surfaced across the engine boundary.
const (
	CodeInvalidConfig       = "INVALID_CONFIG"
	CodeNotInitialized      = "NOT_INITIALIZED"
	CodeNoActiveSession     = "NO_ACTIVE_SESSION"
	CodeInvalidSession      = "INVALID_SESSION"
	CodeHardwareUnavailable = "HARDWARE_UNAVAILABLE"
	CodePingInProgress      = "PING_IN_PROGRESS"
	CodePingAborted         = "PING_ABORTED"
)

// Error is a structured error carrying a machine-readable code, a
// human-readable message and contextual fields.
type Error struct {
	original error
	message  string
	fields   map[string]interface{}
	file     string
	line     int

	// Code categorizes the error for callers that dispatch on it.
	Code string
}

// New creates a new structured error with the given message.
func New(message string, fields ...map[string]interface{}) *Error {
	_, file, line, _ := runtime.Caller(1)

	return &Error{
		original: errors.New(message),
		message:  message,
		fields:   firstFieldMap(fields),
		file:     file,
		line:     line,
	}
}

// Wrap wraps an existing error with additional context. Returns nil when err
// is nil.
func Wrap(err error, message string, fields ...map[string]interface{}) *Error {
	if err == nil {
		return nil
	}

	_, file, line, _ := runtime.Caller(1)

	return &Error{
		original: err,
		message:  message,
		fields:   firstFieldMap(fields),
		file:     file,
		line:     line,
	}
}

// WithField returns a copy of the error with one additional context field.
func (e *Error) WithField(key string, value interface{}) *Error {
	if e == nil {
		return nil
	}

	fields := make(map[string]interface{}, len(e.fields)+1)
	for k, v := range e.fields {
		fields[k] = v
	}
	fields[key] = value

	clone := *e
	clone.fields = fields
	return &clone
}

// WithCode returns a copy of the error with the given code.
func (e *Error) WithCode(code string) *Error {
	if e == nil {
		return nil
	}

	clone := *e
	clone.Code = code
	return &clone
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil || e.original == nil {
		return ""
	}
	if e.message == "" {
		return e.original.Error()
	}
	if e.message == e.original.Error() {
		return e.message
	}
	return fmt.Sprintf("%s: %v", e.message, e.original)
}

// Unwrap implements the errors.Unwrap interface.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.original
}

// Is reports whether any error in e's tree matches target.
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	if errors.Is(e.original, target) {
		return true
	}
	return e == target
}

// Location returns the file:line where the error was created.
func (e *Error) Location() string {
	if e == nil {
		return ""
	}
	parts := strings.Split(e.file, "/")
	return fmt.Sprintf("%s:%d", parts[len(parts)-1], e.line)
}

// GetFields returns the error's context fields.
func (e *Error) GetFields() map[string]interface{} {
	if e == nil {
		return nil
	}
	return e.fields
}

// AsJSON returns the error in JSON-friendly map format, suitable for crossing
// the engine boundary without exposing internals.
func (e *Error) AsJSON() map[string]interface{} {
	if e == nil {
		return nil
	}

	result := map[string]interface{}{
		"message": e.Error(),
	}
	if e.Code != "" {
		result["code"] = e.Code
	}
	if len(e.fields) > 0 {
		result["context"] = e.fields
	}
	return result
}

// NewInvalidConfig creates an ErrInvalidConfig error with additional context.
func NewInvalidConfig(details string, fields ...map[string]interface{}) *Error {
	_, file, line, _ := runtime.Caller(1)

	return &Error{
		original: ErrInvalidConfig,
		message:  fmt.Sprintf("invalid configuration: %s", details),
		fields:   firstFieldMap(fields),
		file:     file,
		line:     line,
		Code:     CodeInvalidConfig,
	}
}

// NewNotInitialized creates an ErrNotInitialized error.
func NewNotInitialized(details string) *Error {
	_, file, line, _ := runtime.Caller(1)

	return &Error{
		original: ErrNotInitialized,
		message:  details,
		fields:   map[string]interface{}{},
		file:     file,
		line:     line,
		Code:     CodeNotInitialized,
	}
}

// NewNoActiveSession creates an ErrNoActiveSession error.
func NewNoActiveSession(details string) *Error {
	_, file, line, _ := runtime.Caller(1)

	return &Error{
		original: ErrNoActiveSession,
		message:  details,
		fields:   map[string]interface{}{},
		file:     file,
		line:     line,
		Code:     CodeNoActiveSession,
	}
}

// NewInvalidSession creates an ErrInvalidSession error carrying the offending
// session ID.
func NewInvalidSession(sessionID string) *Error {
	_, file, line, _ := runtime.Caller(1)

	return &Error{
		original: ErrInvalidSession,
		message:  fmt.Sprintf("session not found: %s", sessionID),
		fields:   map[string]interface{}{"session_id": sessionID},
		file:     file,
		line:     line,
		Code:     CodeInvalidSession,
	}
}

// NewHardwareUnavailable creates an ErrHardwareUnavailable error wrapping the
// underlying device failure.
func NewHardwareUnavailable(cause error, fields ...map[string]interface{}) *Error {
	_, file, line, _ := runtime.Caller(1)

	original := ErrHardwareUnavailable
	message := ErrHardwareUnavailable.Error()
	if cause != nil {
		original = fmt.Errorf("%w: %w", ErrHardwareUnavailable, cause)
		message = fmt.Sprintf("audio hardware unavailable: %v", cause)
	}

	return &Error{
		original: original,
		message:  message,
		fields:   firstFieldMap(fields),
		file:     file,
		line:     line,
		Code:     CodeHardwareUnavailable,
	}
}

// NewPingInProgress creates an ErrPingInProgress error for the given session.
func NewPingInProgress(sessionID string) *Error {
	_, file, line, _ := runtime.Caller(1)

	return &Error{
		original: ErrPingInProgress,
		message:  "a ping is already in flight for this session",
		fields:   map[string]interface{}{"session_id": sessionID},
		file:     file,
		line:     line,
		Code:     CodePingInProgress,
	}
}

// NewPingAborted creates an ErrPingAborted error wrapping the cancellation
// cause.
func NewPingAborted(cause error) *Error {
	_, file, line, _ := runtime.Caller(1)

	original := ErrPingAborted
	if cause != nil {
		original = fmt.Errorf("%w: %w", ErrPingAborted, cause)
	}

	return &Error{
		original: original,
		message:  "ping aborted",
		fields:   map[string]interface{}{},
		file:     file,
		line:     line,
		Code:     CodePingAborted,
	}
}

// GetCode extracts the machine-readable code from an error, walking the
// wrap chain until it finds a structured Error with a non-empty code.
func GetCode(err error) string {
	for err != nil {
		var serr *Error
		if !errors.As(err, &serr) {
			return ""
		}
		if serr.Code != "" {
			return serr.Code
		}
		err = serr.Unwrap()
	}
	return ""
}

// GetFields extracts context fields from an error if it is a structured Error.
func GetFields(err error) map[string]interface{} {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.GetFields()
	}
	return nil
}

func firstFieldMap(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) > 0 && fields[0] != nil {
		return fields[0]
	}
	return make(map[string]interface{})
}
