package models

import (
	"time"
)

// WorkflowStepDef declares one step of a workflow definition: which agent
// role runs it and a human-readable name.
type WorkflowStepDef struct {
	AgentType string `json:"agent_type" validate:"required"`
	Name      string `json:"name"       validate:"required,min=1"`
}

// WorkflowDefinition is the static description of an agent sequence. It is
// the template an execution is instantiated from; the agent assignments
// recorded per step are validated against it on recovery.
type WorkflowDefinition struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"        validate:"required,min=1"`
	Description string            `json:"description"`
	Steps       []WorkflowStepDef `json:"steps"       validate:"required,min=1,dive"`
	Parallel    bool              `json:"parallel"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// AgentSequence returns the ordered agent types of the definition.
func (w *WorkflowDefinition) AgentSequence() []string {
	agents := make([]string, len(w.Steps))
	for i, step := range w.Steps {
		agents[i] = step.AgentType
	}

	return agents
}
