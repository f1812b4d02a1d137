package models

// PhaseDefinition describes one stage of the delivery lifecycle: which agents
// run in it, what has to be true before leaving it, and how long it should
// take. Phase tables are static configuration, not per-run state.
type PhaseDefinition struct {
	Name               string   `json:"name"                validate:"required,min=1"`
	AgentSequence      []string `json:"agent_sequence"      validate:"required,min=1"`
	CompletionCriteria []string `json:"completion_criteria" validate:"required,min=1"`
	EstimatedHours     float64  `json:"estimated_hours"     validate:"gt=0"`
	MaxHours           float64  `json:"max_hours"           validate:"gtefield=EstimatedHours"`
	Parallel           bool     `json:"parallel"`

	// NextPhase is empty for the terminal phase.
	NextPhase string `json:"next_phase"`
}

// PhaseTimingStatus grades a phase's actual duration against its estimates.
type PhaseTimingStatus string

const (
	TimingOnTrack         PhaseTimingStatus = "on_track"
	TimingBehindSchedule  PhaseTimingStatus = "behind_schedule"
	TimingOvertime        PhaseTimingStatus = "overtime"
	TimingAheadOfSchedule PhaseTimingStatus = "ahead_of_schedule"
)

// PhaseTiming is the per-phase result of a time analysis.
type PhaseTiming struct {
	Phase             string            `json:"phase"`
	EstimatedHours    float64           `json:"estimated_hours"`
	MaxHours          float64           `json:"max_hours"`
	ActualHours       float64           `json:"actual_hours"`
	EfficiencyPercent float64           `json:"efficiency_percent"`
	Status            PhaseTimingStatus `json:"status"`
}

// TimePressure escalates as a phase overruns its estimates and drives how
// much context is handed to agents.
type TimePressure string

const (
	PressureNormal TimePressure = "normal"
	PressureMedium TimePressure = "medium"
	PressureHigh   TimePressure = "high"
)
