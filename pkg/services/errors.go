// Package services implements the workflow store and run boundaries on top of persistence, the
// run executor and the run history.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/crmflow/pkg/history"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/simulator"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest       = errors.New("invalid request")
	ErrInvalidSortField     = errors.New("invalid sort field")
	ErrInvalidSortOrder     = errors.New("invalid sort order")
	ErrWorkflowNameRequired = errors.New("workflow name is required")
	ErrInvalidWorkflow      = errors.New("invalid workflow")
	ErrWorkflowNil          = errors.New("workflow cannot be nil")

	// Not Found (404).
	ErrWorkflowNotFound = persistence.ErrWorkflowNotFound
	ErrRunNotFound      = history.ErrRunNotFound

	// Business Logic Conflicts (409 Conflict).
	ErrWorkflowAlreadyExists = persistence.ErrWorkflowAlreadyExists
	ErrRunRejected           = simulator.ErrRunRejected
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidSortField) ||
		errors.Is(err, ErrInvalidSortOrder) ||
		errors.Is(err, ErrWorkflowNameRequired) ||
		errors.Is(err, ErrInvalidWorkflow) ||
		errors.Is(err, ErrWorkflowNil)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound) || errors.Is(err, ErrRunNotFound)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrWorkflowAlreadyExists) ||
		errors.Is(err, ErrRunRejected)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
