// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/atlasworks/convoy/pkg/models"
)

// CreateTestWorkflow creates a workflow definition with the standard
// three-agent delivery sequence that can be overridden.
func CreateTestWorkflow(overrides ...func(*models.WorkflowDefinition)) *models.WorkflowDefinition {
	workflow := &models.WorkflowDefinition{
		ID:          uuid.New().String(),
		Name:        "Test Delivery Workflow",
		Description: "architect, developer, tester",
		Steps: []models.WorkflowStepDef{
			{AgentType: "architect", Name: "Design the system"},
			{AgentType: "developer", Name: "Implement the design"},
			{AgentType: "tester", Name: "Validate the implementation"},
		},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	for _, override := range overrides {
		override(workflow)
	}

	return workflow
}

// WithSteps replaces the workflow steps.
func WithSteps(steps ...models.WorkflowStepDef) func(*models.WorkflowDefinition) {
	return func(w *models.WorkflowDefinition) {
		w.Steps = steps
	}
}

// WithParallel marks the workflow for parallel step execution.
func WithParallel() func(*models.WorkflowDefinition) {
	return func(w *models.WorkflowDefinition) {
		w.Parallel = true
	}
}

// CreateTestProject creates a project with medium oversight that can be
// overridden.
func CreateTestProject(overrides ...func(*models.Project)) *models.Project {
	project := &models.Project{
		ID:             uuid.New().String(),
		Name:           "Test Project",
		OversightLevel: models.OversightMedium,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}

	for _, override := range overrides {
		override(project)
	}

	return project
}

// WithOversight sets the project oversight level.
func WithOversight(level models.OversightLevel) func(*models.Project) {
	return func(p *models.Project) {
		p.OversightLevel = level
	}
}

// WithPhase sets the project's current phase.
func WithPhase(phase string) func(*models.Project) {
	return func(p *models.Project) {
		p.CurrentPhase = phase
	}
}

// CreateTestTask creates a completed task that can be overridden.
func CreateTestTask(projectID, agentType string, overrides ...func(*models.Task)) *models.Task {
	completedAt := time.Now().UTC()
	task := &models.Task{
		ID:          uuid.New().String(),
		ProjectID:   projectID,
		AgentType:   agentType,
		Title:       "Test Task",
		Status:      models.TaskStatusCompleted,
		CreatedAt:   completedAt.Add(-time.Hour),
		CompletedAt: &completedAt,
	}

	for _, override := range overrides {
		override(task)
	}

	return task
}

// WithCompletionTags sets the task's structured completion tags.
func WithCompletionTags(tags ...string) func(*models.Task) {
	return func(t *models.Task) {
		t.CompletionTags = tags
	}
}

// WithTaskStatus sets the task status, clearing CompletedAt for
// non-terminal states.
func WithTaskStatus(status models.TaskStatus) func(*models.Task) {
	return func(t *models.Task) {
		t.Status = status
		if status == models.TaskStatusPending || status == models.TaskStatusRunning {
			t.CompletedAt = nil
		}
	}
}

// WithRequiredTypes sets the artifact types the task depends on.
func WithRequiredTypes(types ...string) func(*models.Task) {
	return func(t *models.Task) {
		t.RequiredTypes = types
	}
}

// WithTaskSpan sets the task's creation and completion instants.
func WithTaskSpan(createdAt, completedAt time.Time) func(*models.Task) {
	return func(t *models.Task) {
		t.CreatedAt = createdAt
		t.CompletedAt = &completedAt
	}
}

// CreateTestArtifact creates an artifact that can be overridden.
func CreateTestArtifact(projectID, sourceAgent, artifactType, content string, overrides ...func(*models.Artifact)) *models.Artifact {
	artifact := &models.Artifact{
		ID:          uuid.New().String(),
		ProjectID:   projectID,
		SourceAgent: sourceAgent,
		Type:        artifactType,
		Content:     content,
		CreatedAt:   time.Now().UTC(),
	}

	for _, override := range overrides {
		override(artifact)
	}

	return artifact
}

// WithCreatedAt sets the artifact creation instant.
func WithCreatedAt(createdAt time.Time) func(*models.Artifact) {
	return func(a *models.Artifact) {
		a.CreatedAt = createdAt
	}
}

// CreateTestConflict creates a detected conflict between two agents that can
// be overridden.
func CreateTestConflict(projectID string, overrides ...func(*models.Conflict)) *models.Conflict {
	conflict := &models.Conflict{
		ID:          uuid.New().String(),
		ProjectID:   projectID,
		Type:        models.ConflictOutputContradiction,
		Severity:    models.SeverityMedium,
		Status:      models.ConflictDetected,
		Description: "test conflict",
		Participants: []models.ConflictParticipant{
			{AgentType: "architect", Role: "primary", Confidence: 0.6},
			{AgentType: "developer", Role: "secondary", Confidence: 0.4},
		},
		DetectionConfidence: 0.8,
		DetectedAt:          time.Now().UTC(),
		UpdatedAt:           time.Now().UTC(),
	}

	for _, override := range overrides {
		override(conflict)
	}

	return conflict
}

// WithSeverity sets the conflict severity.
func WithSeverity(severity models.ConflictSeverity) func(*models.Conflict) {
	return func(c *models.Conflict) {
		c.Severity = severity
	}
}

// WithConflictType sets the conflict type.
func WithConflictType(conflictType models.ConflictType) func(*models.Conflict) {
	return func(c *models.Conflict) {
		c.Type = conflictType
	}
}

// CreateTestHitlRequest creates a pending approval request that can be
// overridden.
func CreateTestHitlRequest(projectID, executionID string, overrides ...func(*models.HitlRequest)) *models.HitlRequest {
	now := time.Now().UTC()
	request := &models.HitlRequest{
		ID:          uuid.New().String(),
		ProjectID:   projectID,
		ExecutionID: executionID,
		Trigger:     models.HitlTriggerQualityThreshold,
		Question:    "Approve agent output?",
		Options:     []string{"approve", "reject", "amend"},
		Status:      models.HitlStatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(24 * time.Hour),
	}

	for _, override := range overrides {
		override(request)
	}

	return request
}

// WithExpiry sets the request's creation and expiry instants.
func WithExpiry(createdAt, expiresAt time.Time) func(*models.HitlRequest) {
	return func(r *models.HitlRequest) {
		r.CreatedAt = createdAt
		r.ExpiresAt = expiresAt
	}
}
