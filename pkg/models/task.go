package models

import (
	"slices"
	"time"
)

// TaskStatus defines the lifecycle of an agent task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Task is one unit of agent work. Completed tasks carry structured
// completion tags; phase gating matches criteria against these tags rather
// than scanning instruction prose.
type Task struct {
	ID             string         `json:"id"`
	ProjectID      string         `json:"project_id"`
	ExecutionID    string         `json:"execution_id,omitempty"`
	AgentType      string         `json:"agent_type"`
	Title          string         `json:"title"`
	Instructions   string         `json:"instructions,omitempty"`
	Status         TaskStatus     `json:"status"`
	CompletionTags []string       `json:"completion_tags,omitempty"`
	RequiredTypes  []string       `json:"required_artifact_types,omitempty"`
	Output         map[string]any `json:"output,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
}

// HasCompletionTag reports whether the task declared the given tag.
func (t *Task) HasCompletionTag(tag string) bool {
	return slices.Contains(t.CompletionTags, tag)
}
