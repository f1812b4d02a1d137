// Package persistence provides the data storage abstraction for orchestration state.
package persistence

import (
	"context"
	"time"

	"github.com/atlasworks/convoy/pkg/models"
)

// Persistence aggregates the repositories backing the orchestration engine.
type Persistence interface {
	ExecutionRepository() ExecutionRepository
	WorkflowRepository() WorkflowRepository
	HitlRepository() HitlRepository
	ConflictRepository() ConflictRepository
	TaskRepository() TaskRepository
	ArtifactRepository() ArtifactRepository
	ProjectRepository() ProjectRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ExecutionRepository is the durable state store for execution snapshots.
// Implementations persist and return byte-identical snapshots; they never
// mutate execution state.
type ExecutionRepository interface {
	// SaveExecution writes a snapshot. Implementations enforce an optimistic
	// version check: the write is rejected with ErrVersionConflict unless the
	// stored version equals snapshot.Version-1, or the record is new and
	// snapshot.Version is 1.
	SaveExecution(ctx context.Context, snapshot *models.ExecutionState) error
	GetExecution(ctx context.Context, executionID string) (*models.ExecutionState, error)
	ListExecutionsByProject(ctx context.Context, projectID string) ([]*models.ExecutionState, error)
	DeleteExecution(ctx context.Context, executionID string) error
}

// WorkflowRepository stores static workflow definitions.
type WorkflowRepository interface {
	SaveWorkflow(ctx context.Context, workflow *models.WorkflowDefinition) error
	GetWorkflow(ctx context.Context, workflowID string) (*models.WorkflowDefinition, error)
	ListWorkflows(ctx context.Context) ([]*models.WorkflowDefinition, error)
	DeleteWorkflow(ctx context.Context, workflowID string) error
}

// HitlRepository stores human approval requests.
type HitlRepository interface {
	SaveRequest(ctx context.Context, request *models.HitlRequest) error
	GetRequest(ctx context.Context, requestID string) (*models.HitlRequest, error)
	ListPendingByProject(ctx context.Context, projectID string) ([]*models.HitlRequest, error)
	// ListExpiredPending returns PENDING requests whose expiry lies at or
	// before the given instant.
	ListExpiredPending(ctx context.Context, now time.Time) ([]*models.HitlRequest, error)
}

// ConflictRepository stores detected conflicts and their resolution history.
type ConflictRepository interface {
	SaveConflict(ctx context.Context, conflict *models.Conflict) error
	GetConflict(ctx context.Context, conflictID string) (*models.Conflict, error)
	ListConflictsByProject(ctx context.Context, projectID string) ([]*models.Conflict, error)
}

// TaskRepository stores agent tasks.
type TaskRepository interface {
	SaveTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, taskID string) (*models.Task, error)
	ListTasksByProject(ctx context.Context, projectID string) ([]*models.Task, error)
}

// ArtifactRepository is the context store for agent-produced content.
type ArtifactRepository interface {
	SaveArtifact(ctx context.Context, artifact *models.Artifact) error
	GetArtifact(ctx context.Context, artifactID string) (*models.Artifact, error)
	GetArtifactsByIDs(ctx context.Context, artifactIDs []string) ([]*models.Artifact, error)
	// ListArtifactsByProject returns artifacts for the project, optionally
	// filtered by type when artifactType is non-empty.
	ListArtifactsByProject(ctx context.Context, projectID, artifactType string) ([]*models.Artifact, error)
}

// ProjectRepository stores project records, including the current phase
// pointer and oversight level.
type ProjectRepository interface {
	SaveProject(ctx context.Context, project *models.Project) error
	GetProject(ctx context.Context, projectID string) (*models.Project, error)
}
