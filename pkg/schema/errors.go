package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeFormat     = "FORMAT_ERROR"
	ErrCodeIntegrity  = "INTEGRITY_ERROR"
	ErrCodeCipher     = "CIPHER_ERROR"
	ErrCodeValidation = "VALIDATION_ERROR"
	ErrCodeStore      = "STORE_ERROR"
	ErrCodeNotFound   = "NOT_FOUND"
	ErrCodeMigration  = "MIGRATION_ERROR"
)

// CredError is the structured error type for all credvault operations.
type CredError struct {
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`
	TenantID string         `json:"tenant_id,omitempty"`
	Cause    error          `json:"-"`
}

func (e *CredError) Error() string {
	if e.TenantID != "" {
		return fmt.Sprintf("[%s] tenant %s: %s", e.Code, e.TenantID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *CredError) Unwrap() error {
	return e.Cause
}

// NewError creates a new CredError.
func NewError(code, message string) *CredError {
	return &CredError{Code: code, Message: message}
}

// NewErrorf creates a new CredError with a formatted message.
func NewErrorf(code, format string, args ...any) *CredError {
	return &CredError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithTenant attaches a tenant ID to the error.
func (e *CredError) WithTenant(tenantID string) *CredError {
	e.TenantID = tenantID
	return e
}

// WithCause attaches an underlying cause.
func (e *CredError) WithCause(err error) *CredError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *CredError) WithDetails(details map[string]any) *CredError {
	e.Details = details
	return e
}

// CodeOf returns the error code if err is a *CredError, or "" otherwise.
func CodeOf(err error) string {
	if ce, ok := err.(*CredError); ok {
		return ce.Code
	}
	return ""
}
