// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrExecutionNotFound indicates an execution snapshot was not found.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrExecutionAlreadyExists indicates an execution with the same ID already exists.
	ErrExecutionAlreadyExists = errors.New("execution already exists")

	// ErrVersionConflict indicates an optimistic concurrency check failed:
	// the stored snapshot changed since it was read.
	ErrVersionConflict = errors.New("execution version conflict")

	// ErrWorkflowNotFound indicates a workflow definition was not found.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrHitlRequestNotFound indicates an approval request was not found.
	ErrHitlRequestNotFound = errors.New("hitl request not found")

	// ErrConflictNotFound indicates a conflict record was not found.
	ErrConflictNotFound = errors.New("conflict not found")

	// ErrTaskNotFound indicates a task was not found.
	ErrTaskNotFound = errors.New("task not found")

	// ErrArtifactNotFound indicates an artifact was not found.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrProjectNotFound indicates a project was not found.
	ErrProjectNotFound = errors.New("project not found")
)

// StoreError wraps repository errors with operation and entity context.
type StoreError struct {
	Op     string // Operation being performed (e.g., "SaveExecution", "GetProject")
	Entity string // Entity kind (e.g., "execution", "hitl_request")
	ID     string // Entity ID if applicable
	Err    error  // Underlying error
}

func (e *StoreError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s failed for %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
	}

	return fmt.Sprintf("%s failed for %s: %v", e.Op, e.Entity, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for store errors.
func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewStoreError creates a store error with context.
func NewStoreError(op, entity, id string, err error) *StoreError {
	return &StoreError{Op: op, Entity: entity, ID: id, Err: err}
}

// IsNotFound checks whether an error indicates any entity was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound) ||
		errors.Is(err, ErrWorkflowNotFound) ||
		errors.Is(err, ErrHitlRequestNotFound) ||
		errors.Is(err, ErrConflictNotFound) ||
		errors.Is(err, ErrTaskNotFound) ||
		errors.Is(err, ErrArtifactNotFound) ||
		errors.Is(err, ErrProjectNotFound)
}

// IsVersionConflict checks whether an error is an optimistic write rejection.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}
