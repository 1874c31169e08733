package types

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorCode is a typed string for categorizing pipeline errors.
type ErrorCode string

// Complete error code constants.
// All packages MUST use these constants instead of hardcoded strings.
const (
	// Validation (bad invocation)
	ErrCodeValidationMissingField    ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidWindow   ErrorCode = "validation_invalid_window"
	ErrCodeValidationInvalidDate     ErrorCode = "validation_invalid_date"
	ErrCodeValidationInvalidEnsMem   ErrorCode = "validation_invalid_ensemble_member"
	ErrCodeValidationInvalidSource   ErrorCode = "validation_invalid_source"
	ErrCodeValidationInvalidSeries   ErrorCode = "validation_invalid_auxiliary_series"
	ErrCodeValidationInvalidVariable ErrorCode = "validation_invalid_variable"

	// Source access (fatal, never retried)
	ErrCodeSourceUnavailable ErrorCode = "upstream_source_unavailable"
	ErrCodeSourceNotFound    ErrorCode = "upstream_source_not_found"

	// Data shape (fatal)
	ErrCodeSchemaMismatch    ErrorCode = "schema_mismatch"
	ErrCodeUnsupportedFormat ErrorCode = "schema_unsupported_format"
	ErrCodeCorruptChunk      ErrorCode = "schema_corrupt_chunk"
	ErrCodeMissingYear       ErrorCode = "missing_year"

	// Conditions (not failures)
	ErrCodeEmptyBlock    ErrorCode = "condition_empty_block"
	ErrCodeNoDataAtPoint ErrorCode = "condition_no_data_at_point"

	// Internal
	ErrCodeInternalIO         ErrorCode = "internal_io_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
)

// IsCondition reports whether the code describes an expected outcome rather
// than a failure. Conditions end a run (or skip a point) without an error exit.
func (c ErrorCode) IsCondition() bool {
	return strings.HasPrefix(string(c), "condition_")
}

// ExitCode maps an ErrorCode to the process exit status used by the CLIs.
func (c ErrorCode) ExitCode() int {
	s := string(c)
	switch {
	case c == ErrCodeEmptyBlock:
		return 3
	case strings.HasPrefix(s, "validation_"):
		return 2
	case strings.HasPrefix(s, "upstream_"):
		return 4
	case strings.HasPrefix(s, "schema_"), c == ErrCodeMissingYear:
		return 5
	default:
		return 1
	}
}

// AppError is the standard error type used throughout the pipeline.
// All domain errors should be expressed as AppError to enable consistent
// logging, exit status mapping, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// CodeOf extracts the ErrorCode from anywhere in err's chain.
// Returns ErrCodeInternalUnexpected for errors that are not AppErrors.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternalUnexpected
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsSourceUnavailable reports a store-open or fetch failure.
func IsSourceUnavailable(err error) bool {
	return HasCode(err, ErrCodeSourceUnavailable) || HasCode(err, ErrCodeSourceNotFound)
}

// IsSchemaMismatch reports merged variables disagreeing on their axes.
func IsSchemaMismatch(err error) bool { return HasCode(err, ErrCodeSchemaMismatch) }

// IsMissingYear reports an auxiliary series lacking a required year.
func IsMissingYear(err error) bool { return HasCode(err, ErrCodeMissingYear) }

// IsEmptyBlock reports a selection that holds no real data.
func IsEmptyBlock(err error) bool { return HasCode(err, ErrCodeEmptyBlock) }

// NewMissingYearError builds the MissingYear error for the given years.
// The years are reported in ascending order.
func NewMissingYearError(series string, years []int) *AppError {
	sorted := append([]int(nil), years...)
	sort.Ints(sorted)
	return NewAppErrorWithDetails(
		ErrCodeMissingYear,
		fmt.Sprintf("auxiliary series %s has no value for years %v", series, sorted),
		nil,
		map[string]any{"series": series, "years": sorted},
	)
}
