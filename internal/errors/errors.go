// internal/errors/errors.go
package errors

import (
	"fmt"
	"net/http"
	"runtime"
)

// ErrorType classifies an error by where in the engine it arose and what
// the caller is expected to do about it.
type ErrorType string

const (
	// ErrorTypeValidation covers duplicate gate registration, duplicate world
	// index, unknown service dependency. Reported at startup, fatal.
	ErrorTypeValidation ErrorType = "VALIDATION_ERROR"
	// ErrorTypeDecoding covers a malformed byte frame. The frame is dropped,
	// the connection stays open.
	ErrorTypeDecoding ErrorType = "DECODING_ERROR"
	// ErrorTypeHandler covers an error returned from a gate-bound handler.
	// Logged with packet type and connection id; the connection stays open.
	ErrorTypeHandler ErrorType = "HANDLER_ERROR"
	// ErrorTypeDelivery covers an error from a task delegate launched by the
	// tick engine. Caught at the task boundary; does not stop the engine.
	ErrorTypeDelivery ErrorType = "DELIVERY_ERROR"
	// ErrorTypeTransientExternal covers shared-tier or transport disconnects.
	// Signals Failed, stops the engine, retries with backoff.
	ErrorTypeTransientExternal ErrorType = "TRANSIENT_EXTERNAL_ERROR"
	// ErrorTypeFatalExternal covers retry-policy exhaustion. The process exits
	// non-zero.
	ErrorTypeFatalExternal ErrorType = "FATAL_EXTERNAL_ERROR"
)

// AppError is a structured application error carrying enough context to log
// and, where applicable, to surface to an operator or to the originating
// client as a FailedPacket.
type AppError struct {
	Type       ErrorType
	Code       string
	Message    string
	Details    string
	Cause      error
	StackTrace string
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

func newAppError(t ErrorType, code, message string) *AppError {
	return &AppError{Type: t, Code: code, Message: message, StackTrace: captureStackTrace()}
}

func NewValidationError(code, message, details string) *AppError {
	e := newAppError(ErrorTypeValidation, code, message)
	e.Details = details
	return e
}

func NewDecodingError(message string, cause error) *AppError {
	return newAppError(ErrorTypeDecoding, "DECODE_FAILED", message).WithCause(cause)
}

func NewHandlerError(packetType, connectionID string, cause error) *AppError {
	return newAppError(ErrorTypeHandler, "HANDLER_FAILED",
		fmt.Sprintf("handler for %s on connection %s failed", packetType, connectionID)).WithCause(cause)
}

func NewDeliveryError(message string, cause error) *AppError {
	return newAppError(ErrorTypeDelivery, "DELIVERY_FAILED", message).WithCause(cause)
}

func NewTransientExternalError(service, message string, cause error) *AppError {
	return newAppError(ErrorTypeTransientExternal, "EXTERNAL_UNAVAILABLE",
		fmt.Sprintf("%s: %s", service, message)).WithCause(cause)
}

func NewFatalExternalError(service, message string, cause error) *AppError {
	return newAppError(ErrorTypeFatalExternal, "EXTERNAL_EXHAUSTED",
		fmt.Sprintf("%s: %s", service, message)).WithCause(cause)
}

// HTTPStatus maps an error kind to the status code used by the readiness/health surface.
func (e *AppError) HTTPStatus() int {
	switch e.Type {
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeTransientExternal, ErrorTypeFatalExternal:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Wrap converts a standard error into an AppError, preserving it if it already is one.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return newAppError(ErrorTypeDelivery, "WRAPPED_ERROR", message).WithCause(err)
}

// IsType reports whether err is an *AppError of the given kind.
func IsType(err error, t ErrorType) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type == t
	}
	return false
}

func captureStackTrace() string {
	const depth = 16
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var stackTrace string
	for {
		frame, more := frames.Next()
		stackTrace += fmt.Sprintf("%s:%d %s\n", frame.File, frame.Line, frame.Function)
		if !more {
			break
		}
	}
	return stackTrace
}
