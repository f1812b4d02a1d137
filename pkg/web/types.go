// Package web provides HTTP handlers and REST API endpoints for the
// orchestration engine.
package web

import "github.com/atlasworks/convoy/pkg/models"

// CreateProjectRequest is the request body for creating a project.
type CreateProjectRequest struct {
	Name           string                `json:"name"            validate:"required,min=1"`
	Description    string                `json:"description"`
	OversightLevel models.OversightLevel `json:"oversight_level" validate:"omitempty,oneof=high medium low"`
}

// SetOversightRequest updates a project's oversight level.
type SetOversightRequest struct {
	Level models.OversightLevel `json:"level" validate:"required,oneof=high medium low"`
}

// CreateWorkflowRequest is the request body for registering a workflow
// definition.
type CreateWorkflowRequest struct {
	Name        string                   `json:"name"        validate:"required,min=1"`
	Description string                   `json:"description"`
	Steps       []models.WorkflowStepDef `json:"steps"       validate:"required,min=1,dive"`
	Parallel    bool                     `json:"parallel"`
}

// CreateExecutionRequest instantiates an execution from a workflow.
type CreateExecutionRequest struct {
	ExecutionID    string         `json:"execution_id,omitempty"`
	WorkflowID     string         `json:"workflow_id"     validate:"required"`
	ProjectID      string         `json:"project_id"      validate:"required"`
	InitialContext map[string]any `json:"initial_context,omitempty"`
}

// ReasonRequest carries the operator-supplied reason for pause and cancel.
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// HitlResponseRequest is a human decision on an approval request.
type HitlResponseRequest struct {
	Action     models.HitlActionType `json:"action"     validate:"required,oneof=approve reject amend"`
	Actor      string                `json:"actor"      validate:"required"`
	Comment    string                `json:"comment"`
	Amendments map[string]any        `json:"amendments,omitempty"`
}

// BulkApproveRequest approves several requests at once.
type BulkApproveRequest struct {
	RequestIDs []string `json:"request_ids" validate:"required,min=1"`
	Actor      string   `json:"actor"       validate:"required"`
	Comment    string   `json:"comment"`
}

// ResolveConflictRequest optionally forces a resolution strategy.
type ResolveConflictRequest struct {
	Strategy *models.ResolutionStrategy `json:"strategy,omitempty" validate:"omitempty,oneof=automatic_merge compromise priority_based split_work escalation rollback manual_override"`
}

// DetectConflictsRequest scopes a detection run.
type DetectConflictsRequest struct {
	ProjectID  string `json:"project_id" validate:"required"`
	WorkflowID string `json:"workflow_id,omitempty"`
}
