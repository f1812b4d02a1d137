// Package execution implements the workflow execution state machine.
package execution

import (
	"errors"
	"fmt"

	"github.com/atlasworks/convoy/pkg/models"
)

// InvalidWorkflowError indicates a workflow definition cannot be executed,
// typically because its step sequence is empty. Fatal at creation, never
// retried.
type InvalidWorkflowError struct {
	WorkflowID string
	Reason     string
}

func (e *InvalidWorkflowError) Error() string {
	return fmt.Sprintf("invalid workflow %s: %s", e.WorkflowID, e.Reason)
}

// InvalidTransitionError indicates an illegal state-machine transition was
// requested. The operation is rejected with no mutation.
type InvalidTransitionError struct {
	ExecutionID string
	From        models.ExecutionStatus
	Requested   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("execution %s: cannot %s from status %s", e.ExecutionID, e.Requested, e.From)
}

// ExecutionError indicates the agent executor reported a failure. Terminal
// for the run; this layer performs no retries.
type ExecutionError struct {
	ExecutionID string
	StepIndex   int
	AgentType   string
	Reason      string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution %s: step %d (%s) failed: %s", e.ExecutionID, e.StepIndex, e.AgentType, e.Reason)
}

// StateCorruptionError indicates a recovered snapshot is inconsistent with
// its workflow definition. Fatal: the execution is left untouched rather
// than guessed at.
type StateCorruptionError struct {
	ExecutionID string
	StepIndex   int
	Detail      string
}

func (e *StateCorruptionError) Error() string {
	return fmt.Sprintf("execution %s: corrupted state at step %d: %s", e.ExecutionID, e.StepIndex, e.Detail)
}

// PersistenceError indicates a store read or write failed. The triggering
// operation is aborted entirely; in-memory changes are not treated as
// applied.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsInvalidTransition checks whether an error is a rejected transition.
func IsInvalidTransition(err error) bool {
	var target *InvalidTransitionError

	return errors.As(err, &target)
}

// IsInvalidWorkflow checks whether an error is a workflow validation failure.
func IsInvalidWorkflow(err error) bool {
	var target *InvalidWorkflowError

	return errors.As(err, &target)
}

// IsStateCorruption checks whether an error is a recovery consistency failure.
func IsStateCorruption(err error) bool {
	var target *StateCorruptionError

	return errors.As(err, &target)
}
