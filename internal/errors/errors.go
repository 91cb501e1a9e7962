// Package errors provides the structured error type used by funnelstats.
// Every error carries a category, a code and a retryable flag so callers can
// decide between aborting a run, retrying, or ignoring a known quirk.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by the stage that raised them.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryInput      ErrorCategory = "INPUT"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryCatalog    ErrorCategory = "CATALOG"
	ErrCategorySink       ErrorCategory = "SINK"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeInvalidRange      = "INVALID_RANGE"
	CodeInvalidDefinition = "INVALID_DEFINITION"
	CodeInvalidEvent      = "INVALID_EVENT"
	CodeEmptyBatch        = "EMPTY_BATCH"

	// Input codes
	CodeInputUnavailable = "INPUT_UNAVAILABLE"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Catalog codes
	CodeRegisterFailed = "REGISTER_FAILED"
	CodeLookupFailed   = "LOOKUP_FAILED"

	// Sink codes
	CodeWriteFailed   = "WRITE_FAILED"
	CodeUnboundResult = "UNBOUND_RESULT"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// FunnelError is the structured error type used throughout the system.
type FunnelError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *FunnelError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *FunnelError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *FunnelError) Is(target error) bool {
	var t *FunnelError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new FunnelError.
func New(category ErrorCategory, code, message string) *FunnelError {
	return &FunnelError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new FunnelError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *FunnelError {
	return &FunnelError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *FunnelError) WithDetails(details map[string]interface{}) *FunnelError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var fe *FunnelError
	if errors.As(err, &fe) {
		return fe.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a FunnelError.
func GetCategory(err error) ErrorCategory {
	var fe *FunnelError
	if errors.As(err, &fe) {
		return fe.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a FunnelError.
func GetCode(err error) string {
	var fe *FunnelError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// Has reports whether err carries the given category and code anywhere in
// its chain.
func Has(err error, category ErrorCategory, code string) bool {
	return errors.Is(err, &FunnelError{Category: category, Code: code})
}

func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	case category == ErrCategoryCatalog && code == CodeLookupFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *FunnelError {
	return New(ErrCategoryValidation, code, message)
}

func NewInputUnavailable(message string, cause error) *FunnelError {
	return Wrap(ErrCategoryInput, CodeInputUnavailable, message, cause)
}

func NewStorageError(code, message string, cause error) *FunnelError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewCatalogError(code, message string, cause error) *FunnelError {
	return Wrap(ErrCategoryCatalog, code, message, cause)
}

func NewSinkError(code, message string, cause error) *FunnelError {
	return Wrap(ErrCategorySink, code, message, cause)
}

func NewInternalError(message string, cause error) *FunnelError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
