package domain

import (
	"errors"
	"fmt"
)

// Error types for domain-specific errors
type ErrorType string

const (
	ErrorTypeTransport  ErrorType = "transport"
	ErrorTypeServer     ErrorType = "server"
	ErrorTypeProtocol   ErrorType = "protocol"
	ErrorTypeLiveness   ErrorType = "liveness"
	ErrorTypeGuard      ErrorType = "guard"
	ErrorTypeSelection  ErrorType = "selection"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeConversion ErrorType = "conversion"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeIO         ErrorType = "io"
)

var (
	// ErrStreamEnded is wrapped when a processing stream closes before a
	// result or error event arrives.
	ErrStreamEnded = errors.New("stream ended without a terminal event")

	// ErrIdleTimeout is wrapped when a processing stream stays silent longer
	// than the configured idle timeout.
	ErrIdleTimeout = errors.New("stream idle timeout")

	// ErrBufferOverflow is returned by the frame decoder when a single frame
	// outgrows the buffer limit.
	ErrBufferOverflow = errors.New("frame buffer limit exceeded")
)

// DomainError represents a domain-specific error with context.
// Message is the user-facing text; Err carries the underlying cause.
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewError creates a new domain error
func NewError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// Common error constructors
func TransportError(message string, err error) *DomainError {
	return NewError(ErrorTypeTransport, message, err)
}

func ServerError(message string, err error) *DomainError {
	return NewError(ErrorTypeServer, message, err)
}

func ProtocolError(message string, err error) *DomainError {
	return NewError(ErrorTypeProtocol, message, err)
}

func LivenessError(message string, err error) *DomainError {
	return NewError(ErrorTypeLiveness, message, err)
}

func GuardError(message string) *DomainError {
	return NewError(ErrorTypeGuard, message, nil)
}

func SelectionError(message string) *DomainError {
	return NewError(ErrorTypeSelection, message, nil)
}

func ValidationError(message string, err error) *DomainError {
	return NewError(ErrorTypeValidation, message, err)
}

func ConversionError(message string, err error) *DomainError {
	return NewError(ErrorTypeConversion, message, err)
}

func ConfigError(message string, err error) *DomainError {
	return NewError(ErrorTypeConfig, message, err)
}

func IOError(message string, err error) *DomainError {
	return NewError(ErrorTypeIO, message, err)
}

// IsType reports whether err is a DomainError of the given type.
func IsType(err error, errType ErrorType) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Type == errType
	}
	return false
}

// UserMessage returns the text that should be shown to a user for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var de *DomainError
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	return err.Error()
}
