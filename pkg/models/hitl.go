package models

import (
	"time"
)

// HitlStatus defines the lifecycle of a human approval request.
type HitlStatus string

const (
	HitlStatusPending  HitlStatus = "pending"
	HitlStatusApproved HitlStatus = "approved"
	HitlStatusRejected HitlStatus = "rejected"
	HitlStatusAmended  HitlStatus = "amended"
	HitlStatusExpired  HitlStatus = "expired"
)

// IsTerminal reports whether the request can no longer be responded to.
func (s HitlStatus) IsTerminal() bool {
	return s != HitlStatusPending
}

// HitlActionType is the action a human took on a request.
type HitlActionType string

const (
	HitlActionApprove HitlActionType = "approve"
	HitlActionReject  HitlActionType = "reject"
	HitlActionAmend   HitlActionType = "amend"
)

// HitlTriggerKind names the predicate that caused a request to be created.
type HitlTriggerKind string

const (
	HitlTriggerQualityThreshold HitlTriggerKind = "quality_threshold"
	HitlTriggerConflictDetected HitlTriggerKind = "conflict_detected"
	HitlTriggerPhaseCompletion  HitlTriggerKind = "phase_completion"
	HitlTriggerErrorCondition   HitlTriggerKind = "error_condition"
)

// HitlAction is one entry in the ordered history of a request.
type HitlAction struct {
	Action    HitlActionType `json:"action"`
	Actor     string         `json:"actor"`
	Comment   string         `json:"comment,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// HitlRequest is an approval checkpoint created when an oversight trigger
// fires. Its terminal status is set exactly once, by a human response or by
// expiry.
type HitlRequest struct {
	ID           string          `json:"id"`
	ProjectID    string          `json:"project_id"`
	TaskID       string          `json:"task_id,omitempty"`
	ExecutionID  string          `json:"execution_id"`
	Trigger      HitlTriggerKind `json:"trigger"`
	Question     string          `json:"question"`
	Options      []string        `json:"options,omitempty"`
	Status       HitlStatus      `json:"status"`
	UserResponse string          `json:"user_response,omitempty"`
	Amendments   map[string]any  `json:"amendments,omitempty"`
	History      []HitlAction    `json:"history,omitempty"`

	// EscalatedFrom references the expired request this one replaces. A
	// request carrying it is the last chance before auto-rejection.
	EscalatedFrom string `json:"escalated_from,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
}

// OversightLevel controls how aggressively HITL triggers fire for a project.
type OversightLevel string

const (
	OversightHigh   OversightLevel = "high"
	OversightMedium OversightLevel = "medium"
	OversightLow    OversightLevel = "low"
)

// Valid reports whether the level is one of the known values.
func (l OversightLevel) Valid() bool {
	return l == OversightHigh || l == OversightMedium || l == OversightLow
}
