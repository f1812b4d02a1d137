package hitl

import (
	"fmt"

	"github.com/atlasworks/convoy/pkg/models"
)

// Signal carries the post-step or external observations the trigger
// predicates evaluate. Zero-value fields mean "no observation".
type Signal struct {
	ExecutionID      string
	TaskID           string
	AgentType        string
	ConfidenceScore  *float64
	ErrorCount       int
	LastError        string
	ConflictID       string
	ConflictSeverity models.ConflictSeverity
	Phase            string
	PhaseCompletion  *float64
}

// firedTrigger is the outcome of a predicate that decided a human should
// look at something.
type firedTrigger struct {
	kind     models.HitlTriggerKind
	question string
}

// confidenceThreshold is the quality floor per oversight level. A step
// result scoring below the floor needs approval before the run continues.
func confidenceThreshold(level models.OversightLevel) float64 {
	switch level {
	case models.OversightHigh:
		return 0.8
	case models.OversightMedium:
		return 0.6
	default:
		return 0.4
	}
}

// errorCountThreshold is the number of observed errors tolerated before the
// error-condition trigger fires. High oversight tolerates none.
func errorCountThreshold(level models.OversightLevel) int {
	switch level {
	case models.OversightHigh:
		return 0
	case models.OversightMedium:
		return 3
	default:
		return 10
	}
}

// conflictSeverityFloor is the minimum conflict severity that demands a
// human decision per oversight level.
func conflictSeverityFloor(level models.OversightLevel) models.ConflictSeverity {
	switch level {
	case models.OversightHigh:
		return models.SeverityLow
	case models.OversightMedium:
		return models.SeverityMedium
	default:
		return models.SeverityHigh
	}
}

func severityRank(severity models.ConflictSeverity) int {
	switch severity {
	case models.SeverityLow:
		return 1
	case models.SeverityMedium:
		return 2
	case models.SeverityHigh:
		return 3
	case models.SeverityCritical:
		return 4
	default:
		return 0
	}
}

// evaluate runs the trigger predicates in a fixed order and returns the
// first one that fires. Predicates never have side effects.
func evaluate(level models.OversightLevel, signal Signal) *firedTrigger {
	if signal.ErrorCount > errorCountThreshold(level) {
		return &firedTrigger{
			kind: models.HitlTriggerErrorCondition,
			question: fmt.Sprintf("Agent %s reported %d error(s); last: %s. Continue?",
				signal.AgentType, signal.ErrorCount, signal.LastError),
		}
	}

	if signal.ConfidenceScore != nil && *signal.ConfidenceScore < confidenceThreshold(level) {
		return &firedTrigger{
			kind: models.HitlTriggerQualityThreshold,
			question: fmt.Sprintf("Agent %s produced output with confidence %.2f, below the %.2f threshold. Accept?",
				signal.AgentType, *signal.ConfidenceScore, confidenceThreshold(level)),
		}
	}

	if signal.ConflictID != "" && severityRank(signal.ConflictSeverity) >= severityRank(conflictSeverityFloor(level)) {
		return &firedTrigger{
			kind: models.HitlTriggerConflictDetected,
			question: fmt.Sprintf("Conflict %s (severity %s) was detected. How should it be handled?",
				signal.ConflictID, signal.ConflictSeverity),
		}
	}

	if signal.PhaseCompletion != nil {
		// Phase checkpoints always reach a human under high oversight;
		// medium oversight only reviews incomplete phases.
		incomplete := *signal.PhaseCompletion < 100

		if level == models.OversightHigh || (level == models.OversightMedium && incomplete) {
			return &firedTrigger{
				kind: models.HitlTriggerPhaseCompletion,
				question: fmt.Sprintf("Phase %s is at %.0f%% completion. Approve phase transition?",
					signal.Phase, *signal.PhaseCompletion),
			}
		}
	}

	return nil
}
