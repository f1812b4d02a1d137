package models

import (
	"time"
)

// Project is the owning record for a delivery effort. CurrentPhase is the
// mutable pointer the phase orchestrator advances; OversightLevel tunes the
// HITL gate.
type Project struct {
	ID             string         `json:"id"`
	Name           string         `json:"name" validate:"required,min=1"`
	Description    string         `json:"description,omitempty"`
	CurrentPhase   string         `json:"current_phase"`
	OversightLevel OversightLevel `json:"oversight_level"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}
