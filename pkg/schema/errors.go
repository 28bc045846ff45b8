package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeSessionActive     = "SESSION_ACTIVE"
	ErrCodeNoSession         = "NO_ACTIVE_SESSION"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeInitialization    = "INITIALIZATION_FAILED"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeStore             = "STORE_ERROR"
)

// CanvasError is the structured error type returned by canvas operations.
type CanvasError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	NodeID  string         `json:"node_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *CanvasError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.NodeID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *CanvasError) Unwrap() error {
	return e.Cause
}

// NewError creates a new CanvasError.
func NewError(code, message string) *CanvasError {
	return &CanvasError{Code: code, Message: message}
}

// NewErrorf creates a new CanvasError with a formatted message.
func NewErrorf(code, format string, args ...any) *CanvasError {
	return &CanvasError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode attaches a node ID to the error.
func (e *CanvasError) WithNode(nodeID string) *CanvasError {
	e.NodeID = nodeID
	return e
}

// WithCause attaches an underlying cause.
func (e *CanvasError) WithCause(err error) *CanvasError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *CanvasError) WithDetails(details map[string]any) *CanvasError {
	e.Details = details
	return e
}

// HasCode reports whether err is a *CanvasError carrying the given code.
func HasCode(err error, code string) bool {
	ce, ok := err.(*CanvasError)
	return ok && ce.Code == code
}
