package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestCategoryPredicates(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		conflict   bool
		notFound   bool
		validation bool
	}{
		{"run in progress", NewRunInProgressError("AAA010101AAA/2024-01"), true, false, false},
		{"duplicate file", NewDuplicateFileError("abc123"), true, false, false},
		{"period empty", NewNotFoundError(CodePeriodEmpty, "no movements"), false, true, false},
		{"bad request", NewValidationError(CodeInvalidRequest, "mes out of range"), false, false, true},
		{"plain error", stderrors.New("boom"), false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsConflict(tt.err); got != tt.conflict {
				t.Errorf("IsConflict = %v, want %v", got, tt.conflict)
			}
			if got := IsNotFound(tt.err); got != tt.notFound {
				t.Errorf("IsNotFound = %v, want %v", got, tt.notFound)
			}
			if got := IsValidation(tt.err); got != tt.validation {
				t.Errorf("IsValidation = %v, want %v", got, tt.validation)
			}
		})
	}
}

func TestGetCodeFallsBackToInternal(t *testing.T) {
	if code := GetCode(stderrors.New("boom")); code != CodeInternal {
		t.Errorf("GetCode(plain) = %s, want %s", code, CodeInternal)
	}
	if code := GetCode(NewConflictError(CodeStatusLocked, "locked")); code != CodeStatusLocked {
		t.Errorf("GetCode = %s, want %s", code, CodeStatusLocked)
	}
}

func TestErrorMessageIncludesCause(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := NewStorageError("save movements", cause)
	msg := err.Error()
	if !strings.Contains(msg, "storage") || !strings.Contains(msg, "STORAGE_FAILURE") {
		t.Errorf("message missing category/code: %q", msg)
	}
	if !strings.Contains(msg, "disk full") {
		t.Errorf("message missing cause: %q", msg)
	}
	if !stderrors.Is(err, cause) {
		t.Error("Unwrap chain should reach the cause")
	}
}

func TestWrapPreservesCategory(t *testing.T) {
	orig := NewRunInProgressError("AAA010101AAA/2024-01")
	wrapped := Wrap(orig, "starting run")
	if !IsConflict(wrapped) {
		t.Error("wrapping must keep the conflict category")
	}
	if GetCode(wrapped) != CodeRunInProgress {
		t.Errorf("GetCode = %s, want %s", GetCode(wrapped), CodeRunInProgress)
	}
	if !strings.Contains(wrapped.Error(), "starting run") {
		t.Errorf("wrapped message missing annotation: %q", wrapped.Error())
	}

	if Wrap(nil, "noop") != nil {
		t.Error("Wrap(nil) must be nil")
	}
}

func TestWithContextAndSuggestion(t *testing.T) {
	err := NewValidationError(CodeInvalidRequest, "bad month").
		WithContext("mes", 13).
		WithSuggestion("use a month between 1 and 12")
	if err.Context["mes"] != 13 {
		t.Errorf("Context[mes] = %v", err.Context["mes"])
	}
	if err.Suggestion == "" {
		t.Error("suggestion not set")
	}
}

func TestErrorSummary(t *testing.T) {
	errs := []error{
		NewIngestionError(CodeRowParsing, "row 2", nil),
		NewIngestionError(CodeRowParsing, "row 5", nil),
		NewValidationError(CodeInvalidMovement, "negative amount"),
		stderrors.New("boom"),
	}
	summary := NewErrorSummary(errs, 2)

	if summary.Total != 4 {
		t.Errorf("Total = %d, want 4", summary.Total)
	}
	if summary.ByCode[CodeRowParsing] != 2 {
		t.Errorf("ByCode[ROW_PARSING] = %d, want 2", summary.ByCode[CodeRowParsing])
	}
	if summary.ByCategory[CategorySystem] != 1 {
		t.Errorf("ByCategory[system] = %d, want 1", summary.ByCategory[CategorySystem])
	}
	if len(summary.Samples) != 2 {
		t.Errorf("Samples = %d, want capped at 2", len(summary.Samples))
	}
}
