// Package agent defines the executor boundary between the orchestration engine and the agent runtime.
package agent

import (
	"context"

	"github.com/atlasworks/convoy/pkg/models"
)

// Handoff is the structured instruction and context package passed from one
// agent role to the next.
type Handoff struct {
	Instructions string         `json:"instructions"`
	Context      map[string]any `json:"context,omitempty"`
	Directives   []string       `json:"directives,omitempty"`
}

// Result is the outcome of one agent invocation. Retries and timeouts are
// the executor's concern; the engine treats a returned failure as terminal
// for the step.
type Result struct {
	Success     bool           `json:"success"`
	Output      map[string]any `json:"output,omitempty"`
	ArtifactIDs []string       `json:"artifact_ids,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// Executor runs one agent task. Implementations wrap the LLM-calling agent
// runtime; the engine only sees this interface.
type Executor interface {
	Execute(ctx context.Context, task *models.Task, handoff Handoff, artifacts []*models.Artifact) (*Result, error)
}
