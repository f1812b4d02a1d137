// Package models defines the core domain models for multi-agent delivery orchestration.
package models

import (
	"time"
)

// ExecutionStatus defines the possible states of a workflow execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusPaused    ExecutionStatus = "paused"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether the status is a final state.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// StepStatus defines the possible states of a single step within an execution.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// StepState tracks the outcome of one step in an execution. Mutated only by
// the execution machine during step advancement; append-only per index.
type StepState struct {
	StepIndex        int            `json:"step_index"`
	AssignedAgent    string         `json:"assigned_agent"`
	Status           StepStatus     `json:"status"`
	TaskID           string         `json:"task_id,omitempty"`
	Result           map[string]any `json:"result,omitempty"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	ArtifactsCreated []string       `json:"artifacts_created,omitempty"`
	RetryCount       int            `json:"retry_count"`
}

// ExecutionState is the persisted record of one workflow run. It is owned
// exclusively by the execution machine; persistence backends store and return
// byte-identical snapshots and never mutate it.
type ExecutionState struct {
	ID                 string          `json:"id"`
	WorkflowID         string          `json:"workflow_id"`
	ProjectID          string          `json:"project_id"`
	Status             ExecutionStatus `json:"status"`
	CurrentStepIndex   int             `json:"current_step_index"`
	TotalSteps         int             `json:"total_steps"`
	Steps              []StepState     `json:"steps"`
	ContextData        map[string]any  `json:"context_data,omitempty"`
	CreatedArtifactIDs []string        `json:"created_artifact_ids,omitempty"`
	ErrorMessage       string          `json:"error_message,omitempty"`
	FailedAtStep       *int            `json:"failed_at_step,omitempty"`
	PausedReason       string          `json:"paused_reason,omitempty"`
	CancelledReason    string          `json:"cancelled_reason,omitempty"`
	RecoveryAttempts   int             `json:"recovery_attempts"`

	// Version increments on every persisted write and backs the optimistic
	// concurrency check that keeps step advancement single-writer.
	Version int64 `json:"version"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Progress returns the fraction of completed steps in percent.
func (e *ExecutionState) Progress() float64 {
	if e.TotalSteps == 0 {
		return 0
	}

	return float64(e.CompletedSteps()) / float64(e.TotalSteps) * 100
}

// CompletedSteps counts steps that reached the completed status.
func (e *ExecutionState) CompletedSteps() int {
	count := 0

	for _, step := range e.Steps {
		if step.Status == StepStatusCompleted {
			count++
		}
	}

	return count
}

// Clone returns a deep copy of the execution state. The machine hands clones
// to persistence and to callers so that in-memory state stays isolated from
// stored snapshots.
func (e *ExecutionState) Clone() *ExecutionState {
	clone := *e

	clone.Steps = make([]StepState, len(e.Steps))
	for i, step := range e.Steps {
		clone.Steps[i] = step
		clone.Steps[i].Result = cloneMap(step.Result)
		clone.Steps[i].ArtifactsCreated = append([]string(nil), step.ArtifactsCreated...)
	}

	clone.ContextData = cloneMap(e.ContextData)
	clone.CreatedArtifactIDs = append([]string(nil), e.CreatedArtifactIDs...)

	if e.FailedAtStep != nil {
		failedAt := *e.FailedAtStep
		clone.FailedAtStep = &failedAt
	}

	if e.StartedAt != nil {
		startedAt := *e.StartedAt
		clone.StartedAt = &startedAt
	}

	if e.CompletedAt != nil {
		completedAt := *e.CompletedAt
		clone.CompletedAt = &completedAt
	}

	return &clone
}

func cloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}

	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}

	return dst
}

// ExecutionSummary is the read-only projection returned by status queries.
type ExecutionSummary struct {
	ID               string          `json:"id"`
	WorkflowID       string          `json:"workflow_id"`
	ProjectID        string          `json:"project_id"`
	Status           ExecutionStatus `json:"status"`
	CurrentStepIndex int             `json:"current_step_index"`
	TotalSteps       int             `json:"total_steps"`
	CompletedSteps   int             `json:"completed_steps"`
	ProgressPercent  float64         `json:"progress_percent"`
	Terminal         bool            `json:"terminal"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	FailedAtStep     *int            `json:"failed_at_step,omitempty"`
	PausedReason     string          `json:"paused_reason,omitempty"`
}
