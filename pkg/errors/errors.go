// Package errors provides the application error taxonomy shared across
// backends, phases, and the runner.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a class of application error.
type ErrorCode string

const (
	CodeInvalidInput ErrorCode = "INVALID_INPUT"
	CodeNotFound     ErrorCode = "NOT_FOUND"
	CodeInternal     ErrorCode = "INTERNAL_ERROR"

	// Error kinds from the orchestrator's own failure taxonomy (§7).
	CodeValidation         ErrorCode = "VALIDATION"
	CodeMissingSkill       ErrorCode = "MISSING_SKILL"
	CodeBackendTurnFailure ErrorCode = "BACKEND_TURN_FAILURE"
	CodeTransportFailure   ErrorCode = "TRANSPORT_FAILURE"
	CodeParseFailure       ErrorCode = "PARSE_FAILURE"
	CodeTestFailure        ErrorCode = "TEST_FAILURE"
)

// AppError is the application-wide error type. It carries a stable Code
// for programmatic classification plus a human Message and an optional
// wrapped cause.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewInvalidInputError(message string) *AppError {
	return &AppError{Code: CodeInvalidInput, Message: message}
}

func NewNotFoundError(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message}
}

func NewInternalError(message string) *AppError {
	return &AppError{Code: CodeInternal, Message: message}
}

func NewInternalErrorWithCause(message string, cause error) *AppError {
	return &AppError{Code: CodeInternal, Message: message, Err: cause}
}

// NewValidationError reports a fatal precondition failure (invalid
// target, dirty tree in loop mode, invalid skill selection, ...).
func NewValidationError(message string) *AppError {
	return &AppError{Code: CodeValidation, Message: message}
}

// NewMissingSkillError reports that the agent could not find an
// installed skill by the given name.
func NewMissingSkillError(skill string) *AppError {
	return &AppError{Code: CodeMissingSkill, Message: fmt.Sprintf("skill not installed: %s", skill)}
}

// NewBackendTurnFailure wraps an explicit turn-level error reported by
// a backend (e.g. Codex's turn.failed event, or an SDK error result).
func NewBackendTurnFailure(message string, cause error) *AppError {
	return &AppError{Code: CodeBackendTurnFailure, Message: message, Err: cause}
}

// NewTransportFailure wraps process death, dropped SDK connections, or
// other unparseable-final-state conditions.
func NewTransportFailure(message string, cause error) *AppError {
	return &AppError{Code: CodeTransportFailure, Message: message, Err: cause}
}

// NewParseFailure reports that structured output could not be extracted
// and the fallback text was non-empty and not valid JSON.
func NewParseFailure(message string, cause error) *AppError {
	return &AppError{Code: CodeParseFailure, Message: message, Err: cause}
}

// NewTestFailure reports that testAndHeal could not bring the test
// suite to a passing state.
func NewTestFailure(message string) *AppError {
	return &AppError{Code: CodeTestFailure, Message: message}
}

func codeOf(err error) (ErrorCode, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code, true
	}
	return "", false
}

func IsValidation(err error) bool     { c, ok := codeOf(err); return ok && c == CodeValidation }
func IsMissingSkill(err error) bool   { c, ok := codeOf(err); return ok && c == CodeMissingSkill }
func IsBackendTurnFailure(err error) bool {
	c, ok := codeOf(err)
	return ok && c == CodeBackendTurnFailure
}
func IsTransportFailure(err error) bool { c, ok := codeOf(err); return ok && c == CodeTransportFailure }
func IsParseFailure(err error) bool     { c, ok := codeOf(err); return ok && c == CodeParseFailure }
func IsTestFailure(err error) bool      { c, ok := codeOf(err); return ok && c == CodeTestFailure }
