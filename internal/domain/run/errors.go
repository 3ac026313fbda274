package run

import (
	"errors"
	"fmt"
)

// ErrorCode identifies well-known domain error categories used across the
// orchestration core. Codes ErrCodeInfra, ErrCodeConfig, ErrCodeLogic, and
// ErrCodeUnknown mirror the error-classifier taxonomy; the remainder are
// structural errors raised by the domain layer itself.
type ErrorCode string

const (
	ErrCodeValidation ErrorCode = "VALIDATION_ERROR"
	ErrCodeDuplicate  ErrorCode = "DUPLICATE_ID"
	ErrCodeDependency ErrorCode = "DEPENDENCY_ERROR"
	ErrCodeCycle      ErrorCode = "CIRCULAR_DEPENDENCY"
	ErrCodeNotFound   ErrorCode = "NOT_FOUND"
	ErrCodeMissing    ErrorCode = "MISSING_REQUIRED"
	ErrCodeState      ErrorCode = "INVALID_STATE"
	ErrCodeBudget     ErrorCode = "BUDGET_EXHAUSTED"
	ErrCodeExecution  ErrorCode = "EXECUTION_ERROR"
	ErrCodeTimeout    ErrorCode = "TIMEOUT"
	ErrCodeCancelled  ErrorCode = "CANCELLED"
	ErrCodeInternal   ErrorCode = "INTERNAL_ERROR"

	// Error-classifier taxonomy (spec.md §4.4, §7).
	ErrCodeInfra   ErrorCode = "INFRASTRUCTURE"
	ErrCodeConfig  ErrorCode = "CONFIGURATION"
	ErrCodeLogic   ErrorCode = "LOGIC"
	ErrCodeUnknown ErrorCode = "UNKNOWN"
)

// DomainError is a typed error enriched with contextual data, kept free of
// any infrastructure dependency so the domain layer stays testable in
// isolation.
type DomainError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *DomainError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As usage.
func (e *DomainError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is allows errors.Is comparisons against other DomainError values by code.
func (e *DomainError) Is(target error) bool {
	var domainErr *DomainError
	if !errors.As(target, &domainErr) {
		return false
	}
	return e.Code == domainErr.Code
}

// WithContext clones the error with additional contextual metadata merged in.
func (e *DomainError) WithContext(ctx map[string]interface{}) *DomainError {
	if e == nil {
		return nil
	}
	merged := make(map[string]interface{}, len(e.Context)+len(ctx))
	for k, v := range e.Context {
		merged[k] = v
	}
	for k, v := range ctx {
		merged[k] = v
	}
	return &DomainError{Code: e.Code, Message: e.Message, Cause: e.Cause, Context: merged}
}

func NewDomainError(code ErrorCode, message string, cause error, context map[string]interface{}) *DomainError {
	return &DomainError{Code: code, Message: message, Cause: cause, Context: context}
}

func NewValidationError(message string, context map[string]interface{}) *DomainError {
	return NewDomainError(ErrCodeValidation, message, nil, context)
}

func NewStateError(message string, context map[string]interface{}) *DomainError {
	return NewDomainError(ErrCodeState, message, nil, context)
}

func NewNotFoundError(message string, context map[string]interface{}) *DomainError {
	return NewDomainError(ErrCodeNotFound, message, nil, context)
}
