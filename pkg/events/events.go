// Package events defines event types and structures for orchestration lifecycle notifications.
package events

import (
	"time"

	"github.com/atlasworks/convoy/pkg/models"
)

type EventType string

// Topic carries every orchestration lifecycle event.
const Topic = "convoy.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Workflow execution lifecycle events.
	ExecutionStartedEvent       EventType = "execution.started"
	ExecutionStepCompletedEvent EventType = "execution.step.completed"
	ExecutionCompletedEvent     EventType = "execution.completed"
	ExecutionFailedEvent        EventType = "execution.failed"
	ExecutionPausedEvent        EventType = "execution.paused"
	ExecutionResumedEvent       EventType = "execution.resumed"
	ExecutionCancelledEvent     EventType = "execution.cancelled"

	// Human-in-the-loop events.
	HitlRequestCreatedEvent    EventType = "hitl.request.created"
	HitlResponseProcessedEvent EventType = "hitl.response.processed"
	HitlRequestExpiredEvent    EventType = "hitl.request.expired"

	// Phase orchestration events.
	PhaseCompletedEvent EventType = "phase.completed"

	// Conflict engine events.
	ConflictDetectedEvent EventType = "conflict.detected"
	ConflictResolvedEvent EventType = "conflict.resolved"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	ProjectID string         `json:"project_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type ExecutionStarted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id"`
	TotalSteps  int    `json:"total_steps"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionStepCompleted struct {
	BaseEvent

	ExecutionID string         `json:"execution_id"`
	StepIndex   int            `json:"step_index"`
	AgentType   string         `json:"agent_type"`
	Result      map[string]any `json:"result,omitempty"`
	DurationMs  int64          `json:"duration_ms"`
}

func (e ExecutionStepCompleted) GetType() EventType {
	return ExecutionStepCompletedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	ExecutionID    string        `json:"execution_id"`
	WorkflowID     string        `json:"workflow_id"`
	CompletedSteps int           `json:"completed_steps"`
	Duration       time.Duration `json:"duration"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	ExecutionID  string `json:"execution_id"`
	WorkflowID   string `json:"workflow_id"`
	FailedAtStep int    `json:"failed_at_step"`
	Error        string `json:"error"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type ExecutionPaused struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	Reason      string `json:"reason"`
	StepIndex   int    `json:"step_index"`
}

func (e ExecutionPaused) GetType() EventType {
	return ExecutionPausedEvent
}

type ExecutionResumed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	StepIndex   int    `json:"step_index"`
}

func (e ExecutionResumed) GetType() EventType {
	return ExecutionResumedEvent
}

type ExecutionCancelled struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	Reason      string `json:"reason"`
}

func (e ExecutionCancelled) GetType() EventType {
	return ExecutionCancelledEvent
}

type HitlRequestCreated struct {
	BaseEvent

	RequestID   string                 `json:"request_id"`
	ExecutionID string                 `json:"execution_id"`
	Trigger     models.HitlTriggerKind `json:"trigger"`
	Question    string                 `json:"question"`
	ExpiresAt   time.Time              `json:"expires_at"`
}

func (e HitlRequestCreated) GetType() EventType {
	return HitlRequestCreatedEvent
}

type HitlResponseProcessed struct {
	BaseEvent

	RequestID   string                `json:"request_id"`
	ExecutionID string                `json:"execution_id"`
	Action      models.HitlActionType `json:"action"`
	Actor       string                `json:"actor"`
	Status      models.HitlStatus     `json:"status"`
}

func (e HitlResponseProcessed) GetType() EventType {
	return HitlResponseProcessedEvent
}

type HitlRequestExpired struct {
	BaseEvent

	RequestID   string `json:"request_id"`
	ExecutionID string `json:"execution_id"`

	// EscalatedTo is set when the expiry produced a follow-up request
	// instead of auto-rejecting.
	EscalatedTo string `json:"escalated_to,omitempty"`
}

func (e HitlRequestExpired) GetType() EventType {
	return HitlRequestExpiredEvent
}

type PhaseCompleted struct {
	BaseEvent

	PreviousPhase string `json:"previous_phase"`
	NewPhase      string `json:"new_phase"`
	Forced        bool   `json:"forced"`
	Reason        string `json:"reason,omitempty"`
}

func (e PhaseCompleted) GetType() EventType {
	return PhaseCompletedEvent
}

type ConflictDetected struct {
	BaseEvent

	ConflictID string                  `json:"conflict_id"`
	WorkflowID string                  `json:"workflow_id,omitempty"`
	Kind       models.ConflictType     `json:"kind"`
	Severity   models.ConflictSeverity `json:"severity"`
	Confidence float64                 `json:"confidence"`
}

func (e ConflictDetected) GetType() EventType {
	return ConflictDetectedEvent
}

type ConflictResolved struct {
	BaseEvent

	ConflictID string                    `json:"conflict_id"`
	Strategy   models.ResolutionStrategy `json:"strategy"`
	Success    bool                      `json:"success"`
	Reason     string                    `json:"reason,omitempty"`
}

func (e ConflictResolved) GetType() EventType {
	return ConflictResolvedEvent
}
