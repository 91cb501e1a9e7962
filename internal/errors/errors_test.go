package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestFunnelError_Error(t *testing.T) {
	err := New(ErrCategoryValidation, CodeInvalidRange, "end before start")
	expected := "[VALIDATION:INVALID_RANGE] end before start"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestFunnelError_ErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("no such key")
	err := NewInputUnavailable("partition missing", cause)
	expected := "[INPUT:INPUT_UNAVAILABLE] partition missing: no such key"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestFunnelError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := NewSinkError(CodeWriteFailed, "insert failed", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap should allow errors.Is to find the cause")
	}
}

func TestFunnelError_Is(t *testing.T) {
	err1 := New(ErrCategorySink, CodeUnboundResult, "first")
	err2 := New(ErrCategorySink, CodeUnboundResult, "second")
	err3 := New(ErrCategorySink, CodeWriteFailed, "different code")

	if !errors.Is(err1, err2) {
		t.Error("errors with same category+code should match via Is")
	}
	if errors.Is(err1, err3) {
		t.Error("errors with different codes should not match via Is")
	}
}

func TestHas(t *testing.T) {
	inner := NewInputUnavailable("no partitions for 2021-03-10", nil)
	wrapped := fmt.Errorf("run: %w", inner)

	if !Has(wrapped, ErrCategoryInput, CodeInputUnavailable) {
		t.Error("Has should find a wrapped FunnelError")
	}
	if Has(wrapped, ErrCategorySink, CodeUnboundResult) {
		t.Error("Has should not match a different category")
	}
	if Has(fmt.Errorf("plain"), ErrCategoryInput, CodeInputUnavailable) {
		t.Error("Has should not match a plain error")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		category  ErrorCategory
		code      string
		retryable bool
	}{
		{ErrCategoryStorage, CodeUploadFailed, true},
		{ErrCategoryStorage, CodeDownloadFailed, true},
		{ErrCategoryStorage, CodeObjectNotFound, false},
		{ErrCategoryCatalog, CodeLookupFailed, true},
		{ErrCategoryCatalog, CodeRegisterFailed, false},
		{ErrCategoryInput, CodeInputUnavailable, false},
		{ErrCategorySink, CodeWriteFailed, false},
		{ErrCategorySink, CodeUnboundResult, false},
		{ErrCategoryValidation, CodeInvalidDefinition, false},
		{ErrCategoryInternal, CodeUnexpected, false},
	}

	for _, tt := range tests {
		err := New(tt.category, tt.code, "test")
		if IsRetryable(err) != tt.retryable {
			t.Errorf("%s:%s retryable=%v, want %v", tt.category, tt.code, IsRetryable(err), tt.retryable)
		}
	}
}

func TestGetCategoryAndCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewValidationError(CodeInvalidDefinition, "duplicate step"))
	if GetCategory(err) != ErrCategoryValidation {
		t.Errorf("got %q, want %q", GetCategory(err), ErrCategoryValidation)
	}
	if GetCode(err) != CodeInvalidDefinition {
		t.Errorf("got %q, want %q", GetCode(err), CodeInvalidDefinition)
	}
	if GetCategory(fmt.Errorf("plain error")) != "" {
		t.Error("non-FunnelError should return empty category")
	}
	if GetCode(fmt.Errorf("plain error")) != "" {
		t.Error("non-FunnelError should return empty code")
	}
}

func TestWithDetails(t *testing.T) {
	original := NewInputUnavailable("missing day", nil)
	detailed := original.WithDetails(map[string]interface{}{"day": "2021-03-09"})

	if original.Details != nil {
		t.Error("WithDetails should not mutate the original")
	}
	if detailed.Details["day"] != "2021-03-09" {
		t.Errorf("details not set: %v", detailed.Details)
	}
	if !errors.Is(detailed, original) {
		t.Error("detailed copy should still match the original category+code")
	}
}
