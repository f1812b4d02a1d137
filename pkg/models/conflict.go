package models

import (
	"time"
)

// ConflictType classifies a detected contradiction between agent outputs.
type ConflictType string

const (
	ConflictOutputContradiction     ConflictType = "output_contradiction"
	ConflictRequirementMismatch     ConflictType = "requirement_mismatch"
	ConflictDesignInconsistency     ConflictType = "design_inconsistency"
	ConflictImplementationViolation ConflictType = "implementation_violation"
	ConflictResourceContention      ConflictType = "resource_contention"
	ConflictPriorityConflict        ConflictType = "priority_conflict"
	ConflictTimingConflict          ConflictType = "timing_conflict"
	ConflictDependencyViolation     ConflictType = "dependency_violation"
)

// ConflictSeverity grades how urgent a conflict is.
type ConflictSeverity string

const (
	SeverityLow      ConflictSeverity = "low"
	SeverityMedium   ConflictSeverity = "medium"
	SeverityHigh     ConflictSeverity = "high"
	SeverityCritical ConflictSeverity = "critical"
)

// ConflictStatus tracks the adjudication lifecycle. Transitions are
// monotonic: a conflict never regresses out of a terminal status.
type ConflictStatus string

const (
	ConflictDetected    ConflictStatus = "detected"
	ConflictUnderReview ConflictStatus = "under_review"
	ConflictResolved    ConflictStatus = "resolved"
	ConflictEscalated   ConflictStatus = "escalated"
	ConflictDismissed   ConflictStatus = "dismissed"
)

// IsTerminal reports whether the status admits no further transitions.
func (s ConflictStatus) IsTerminal() bool {
	return s == ConflictResolved || s == ConflictEscalated || s == ConflictDismissed
}

// ConflictParticipant is one agent whose output contributed to the conflict.
type ConflictParticipant struct {
	AgentType  string  `json:"agent_type"`
	Role       string  `json:"role"`
	Confidence float64 `json:"confidence"`
}

// ConflictEvidence references the artifacts backing a detected conflict.
type ConflictEvidence struct {
	ArtifactIDs []string `json:"artifact_ids,omitempty"`
	TaskIDs     []string `json:"task_ids,omitempty"`
	Excerpt     string   `json:"excerpt,omitempty"`
	Context     string   `json:"context,omitempty"`
}

// ResolutionStrategy names an approach for resolving a conflict.
type ResolutionStrategy string

const (
	StrategyAutomaticMerge ResolutionStrategy = "automatic_merge"
	StrategyCompromise     ResolutionStrategy = "compromise"
	StrategyPriorityBased  ResolutionStrategy = "priority_based"
	StrategySplitWork      ResolutionStrategy = "split_work"
	StrategyEscalation     ResolutionStrategy = "escalation"
	StrategyRollback       ResolutionStrategy = "rollback"
	StrategyManualOverride ResolutionStrategy = "manual_override"
)

// ResolutionAttempt records one resolution pass, successful or not.
type ResolutionAttempt struct {
	Strategy    ResolutionStrategy `json:"strategy"`
	Success     bool               `json:"success"`
	Reason      string             `json:"reason,omitempty"`
	AttemptedAt time.Time          `json:"attempted_at"`
}

// Resolution is the final outcome of a resolved conflict.
type Resolution struct {
	Strategy    ResolutionStrategy `json:"strategy"`
	Summary     string             `json:"summary"`
	ArtifactIDs []string           `json:"artifact_ids,omitempty"`
	ResolvedAt  time.Time          `json:"resolved_at"`
}

// Conflict is a detected contradiction among agent-produced artifacts or
// task claims.
type Conflict struct {
	ID                  string                `json:"id"`
	ProjectID           string                `json:"project_id"`
	WorkflowID          string                `json:"workflow_id,omitempty"`
	TaskID              string                `json:"task_id,omitempty"`
	Type                ConflictType          `json:"type"`
	Severity            ConflictSeverity      `json:"severity"`
	Status              ConflictStatus        `json:"status"`
	Description         string                `json:"description"`
	Participants        []ConflictParticipant `json:"participants"`
	Evidence            ConflictEvidence      `json:"evidence"`
	ResolutionAttempts  []ResolutionAttempt   `json:"resolution_attempts,omitempty"`
	FinalResolution     *Resolution           `json:"final_resolution,omitempty"`
	DetectionConfidence float64               `json:"detection_confidence"`
	DetectedAt          time.Time             `json:"detected_at"`
	ReviewStartedAt     *time.Time            `json:"review_started_at,omitempty"`
	UpdatedAt           time.Time             `json:"updated_at"`
}

// FailedAttempts counts resolution attempts that did not succeed.
func (c *Conflict) FailedAttempts() int {
	count := 0

	for _, attempt := range c.ResolutionAttempts {
		if !attempt.Success {
			count++
		}
	}

	return count
}
