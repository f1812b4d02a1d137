// Package phase implements delivery-lifecycle orchestration: the phase
// table, completion gating, and time-based transition policy.
package phase

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownPhase rejects references to phases outside the table.
	ErrUnknownPhase = errors.New("unknown phase")

	// ErrTerminalPhase rejects transitions out of the last phase.
	ErrTerminalPhase = errors.New("phase is terminal")
)

// PhaseNotCompleteError rejects a transition and carries the diagnostics the
// caller needs to explain what is still missing. No mutation occurred.
type PhaseNotCompleteError struct {
	ProjectID     string
	Phase         string
	CompletionPct float64
	Missing       []string
}

func (e *PhaseNotCompleteError) Error() string {
	return fmt.Sprintf("phase %s for project %s is %.0f%% complete, missing: %s",
		e.Phase, e.ProjectID, e.CompletionPct, strings.Join(e.Missing, ", "))
}

// IsPhaseNotComplete checks whether an error is a rejected phase transition.
func IsPhaseNotComplete(err error) bool {
	var target *PhaseNotCompleteError

	return errors.As(err, &target)
}
