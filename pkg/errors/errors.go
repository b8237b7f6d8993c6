// Package errors provides categorized errors for the reconciliation engine.
// Every error carries a category, a stable code, and a suggestion so callers
// (and the HTTP layer) can map failures to responses without string matching.
package errors

import (
	"fmt"
	"runtime"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// Category groups errors by the subsystem that produced them.
type Category string

const (
	CategoryValidation Category = "validation"
	CategoryConflict   Category = "conflict"
	CategoryNotFound   Category = "not_found"
	CategoryIngestion  Category = "ingestion"
	CategoryMatching   Category = "matching"
	CategoryStorage    Category = "storage"
	CategorySystem     Category = "system"
)

// Code identifies a specific error condition.
type Code string

const (
	// Validation errors.
	CodeInvalidRequest  Code = "INVALID_REQUEST"
	CodeInvalidMovement Code = "INVALID_MOVEMENT"
	CodeInvalidInvoice  Code = "INVALID_INVOICE"
	CodeInvalidConfig   Code = "INVALID_CONFIG"

	// Conflict errors.
	CodeRunInProgress  Code = "RUN_IN_PROGRESS"
	CodeDuplicateFile  Code = "DUPLICATE_FILE"
	CodeInvoiceClaimed Code = "INVOICE_CLAIMED"
	CodeStatusLocked   Code = "STATUS_LOCKED"

	// Not-found errors.
	CodeCompanyNotFound  Code = "COMPANY_NOT_FOUND"
	CodePeriodEmpty      Code = "PERIOD_EMPTY"
	CodeMovementNotFound Code = "MOVEMENT_NOT_FOUND"
	CodeInvoiceNotFound  Code = "INVOICE_NOT_FOUND"
	CodeRunNotFound      Code = "RUN_NOT_FOUND"

	// Ingestion errors.
	CodeRowParsing    Code = "ROW_PARSING"
	CodeEmptyFile     Code = "EMPTY_FILE"
	CodeUnknownLayout Code = "UNKNOWN_LAYOUT"

	// Matching errors.
	CodeStrategyFailed Code = "STRATEGY_FAILED"
	CodeRunCancelled   Code = "RUN_CANCELLED"

	// Storage and system errors.
	CodeStorageFailure Code = "STORAGE_FAILURE"
	CodeInternal       Code = "INTERNAL"
)

// ReconcilerError is the categorized error type used across the engine.
type ReconcilerError struct {
	Category   Category               `json:"category"`
	Code       Code                   `json:"code"`
	Message    string                 `json:"message"`
	Suggestion string                 `json:"suggestion,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Cause      error                  `json:"-"`
	StackTrace string                 `json:"-"`
}

func (e *ReconcilerError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message))
	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Cause))
	}
	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *ReconcilerError) Unwrap() error {
	return e.Cause
}

// WithContext attaches a key-value pair to the error.
func (e *ReconcilerError) WithContext(key string, value interface{}) *ReconcilerError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithSuggestion sets the remediation hint.
func (e *ReconcilerError) WithSuggestion(suggestion string) *ReconcilerError {
	e.Suggestion = suggestion
	return e
}

func newError(category Category, code Code, message string, cause error) *ReconcilerError {
	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      cause,
		StackTrace: captureStack(),
	}
}

func captureStack() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// NewValidationError creates a validation error.
func NewValidationError(code Code, message string) *ReconcilerError {
	return newError(CategoryValidation, code, message, nil)
}

// NewConflictError creates a conflict error. Conflicts map to HTTP 409.
func NewConflictError(code Code, message string) *ReconcilerError {
	return newError(CategoryConflict, code, message, nil)
}

// NewNotFoundError creates a not-found error.
func NewNotFoundError(code Code, message string) *ReconcilerError {
	return newError(CategoryNotFound, code, message, nil)
}

// NewIngestionError creates an ingestion error wrapping its cause.
func NewIngestionError(code Code, message string, cause error) *ReconcilerError {
	return newError(CategoryIngestion, code, message, cause)
}

// NewMatchingError creates a matching error wrapping its cause.
func NewMatchingError(code Code, message string, cause error) *ReconcilerError {
	return newError(CategoryMatching, code, message, cause)
}

// NewStorageError creates a storage error wrapping its cause.
func NewStorageError(message string, cause error) *ReconcilerError {
	return newError(CategoryStorage, CodeStorageFailure, message, cause)
}

// NewInternalError creates a system error wrapping its cause.
func NewInternalError(message string, cause error) *ReconcilerError {
	return newError(CategorySystem, CodeInternal, message, cause)
}

// NewRunInProgressError reports that the (company, month, year) scope is
// already being processed by another run.
func NewRunInProgressError(scope string) *ReconcilerError {
	return NewConflictError(CodeRunInProgress,
		fmt.Sprintf("a reconciliation run is already active for %s", scope)).
		WithContext("scope", scope).
		WithSuggestion("Wait for the active run to finish before starting another for the same period")
}

// NewDuplicateFileError reports that a statement file with the same content
// hash was already ingested.
func NewDuplicateFileError(hash string) *ReconcilerError {
	return NewConflictError(CodeDuplicateFile,
		"a statement file with identical content was already processed").
		WithContext("content_hash", hash).
		WithSuggestion("Verify whether the bank exported the same statement twice")
}

// Wrap annotates err with a message, preserving categorized errors.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	if re, ok := err.(*ReconcilerError); ok {
		return &ReconcilerError{
			Category:   re.Category,
			Code:       re.Code,
			Message:    fmt.Sprintf("%s: %s", message, re.Message),
			Suggestion: re.Suggestion,
			Context:    re.Context,
			Cause:      re.Cause,
			StackTrace: re.StackTrace,
		}
	}
	return pkgerrors.Wrap(err, message)
}

// GetCategory returns the category of err, or CategorySystem for plain errors.
func GetCategory(err error) Category {
	if re, ok := err.(*ReconcilerError); ok {
		return re.Category
	}
	return CategorySystem
}

// GetCode returns the code of err, or CodeInternal for plain errors.
func GetCode(err error) Code {
	if re, ok := err.(*ReconcilerError); ok {
		return re.Code
	}
	return CodeInternal
}

// IsConflict reports whether err is a conflict-category error.
func IsConflict(err error) bool {
	return GetCategory(err) == CategoryConflict
}

// IsNotFound reports whether err is a not-found-category error.
func IsNotFound(err error) bool {
	return GetCategory(err) == CategoryNotFound
}

// IsValidation reports whether err is a validation-category error.
func IsValidation(err error) bool {
	return GetCategory(err) == CategoryValidation
}

// ErrorSummary aggregates row-level errors collected during ingestion so a
// file with a few bad rows can still be reported coherently.
type ErrorSummary struct {
	Total      int              `json:"total"`
	ByCategory map[Category]int `json:"by_category"`
	ByCode     map[Code]int     `json:"by_code"`
	Samples    []string         `json:"samples,omitempty"`
}

// NewErrorSummary builds a summary from a slice of errors, keeping up to
// maxSamples messages for diagnostics.
func NewErrorSummary(errs []error, maxSamples int) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[Category]int),
		ByCode:     make(map[Code]int),
	}
	for _, err := range errs {
		summary.ByCategory[GetCategory(err)]++
		summary.ByCode[GetCode(err)]++
		if len(summary.Samples) < maxSamples {
			summary.Samples = append(summary.Samples, err.Error())
		}
	}
	return summary
}
