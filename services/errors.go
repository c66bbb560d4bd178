package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound          ErrorType = "not_found"
	ErrorTypeValidation        ErrorType = "validation"
	ErrorTypeUnauthorized      ErrorType = "unauthorized"
	ErrorTypeConflict          ErrorType = "conflict"
	ErrorTypeImmutableLedger   ErrorType = "immutable_ledger_violation"
	ErrorTypeEngineUnavailable ErrorType = "engine_unavailable"
	ErrorTypeReflectionTimeout ErrorType = "reflection_timeout"
	ErrorTypeInternal          ErrorType = "internal"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables

var (
	// Not Found Errors
	ErrRuleNotFound     = NewDomainError(ErrorTypeNotFound, "policy rule not found", nil)
	ErrRevisionNotFound = NewDomainError(ErrorTypeNotFound, "policy revision not found", nil)
	ErrEventNotFound    = NewDomainError(ErrorTypeNotFound, "audit event not found", nil)

	// Validation Errors
	ErrInvalidInput      = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrInvalidRuleKey    = NewDomainError(ErrorTypeValidation, "rule key requires workflow_id, task_type, tenant_id and scope_pattern", nil)
	ErrInvalidRevisionID = NewDomainError(ErrorTypeValidation, "invalid revision id", nil)
	ErrMissingActor      = NewDomainError(ErrorTypeValidation, "actor is required", nil)

	// Authorization Errors
	ErrUnauthorized        = NewDomainError(ErrorTypeUnauthorized, "unauthorized", nil)
	ErrInvalidServiceToken = NewDomainError(ErrorTypeUnauthorized, "invalid service token", nil)

	// Conflict Errors
	ErrRegistryConflict  = NewDomainError(ErrorTypeConflict, "concurrent registry mutation conflict", nil)
	ErrPublishRetryLimit = NewDomainError(ErrorTypeConflict, "publish retries exhausted", nil)

	// Ledger Errors
	ErrImmutableLedger = NewDomainError(ErrorTypeImmutableLedger, "audit events are append-only and cannot be modified", nil)

	// Engine / Distributor Errors
	ErrEngineUnavailable = NewDomainError(ErrorTypeEngineUnavailable, "decision engine unreachable", nil)
	ErrReflectionTimeout = NewDomainError(ErrorTypeReflectionTimeout, "published revision not yet observed by distributor", nil)

	// Internal Errors
	ErrInternal          = NewDomainError(ErrorTypeInternal, "internal server error", nil)
	ErrDatabaseError     = NewDomainError(ErrorTypeInternal, "database error", nil)
	ErrTransactionFailed = NewDomainError(ErrorTypeInternal, "transaction failed", nil)
)

// Error type checking helper functions

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return GetErrorType(err) == ErrorTypeNotFound
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return GetErrorType(err) == ErrorTypeValidation
}

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	return GetErrorType(err) == ErrorTypeUnauthorized
}

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool {
	return GetErrorType(err) == ErrorTypeConflict
}

// IsImmutableLedgerError checks if an error is an immutable ledger violation
func IsImmutableLedgerError(err error) bool {
	return GetErrorType(err) == ErrorTypeImmutableLedger
}

// IsEngineUnavailableError checks if an error reports the engine as unreachable
func IsEngineUnavailableError(err error) bool {
	return GetErrorType(err) == ErrorTypeEngineUnavailable
}

// IsReflectionTimeoutError checks if an error is a reflection timeout
func IsReflectionTimeoutError(err error) bool {
	return GetErrorType(err) == ErrorTypeReflectionTimeout
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return GetErrorType(err) == ErrorTypeInternal
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}

// WrapConflict wraps an error as a registry conflict
func WrapConflict(message string, err error) error {
	return NewDomainError(ErrorTypeConflict, message, err)
}
