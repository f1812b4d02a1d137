package conflict

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/atlasworks/convoy/pkg/events"
	"github.com/atlasworks/convoy/pkg/models"
	"github.com/atlasworks/convoy/pkg/otelhelper"
)

// ResolutionResult reports the outcome of one resolution pass.
type ResolutionResult struct {
	ConflictID         string                    `json:"conflict_id"`
	Strategy           models.ResolutionStrategy `json:"strategy"`
	Success            bool                      `json:"success"`
	Reason             string                    `json:"reason,omitempty"`
	ArtifactIDs        []string                  `json:"artifact_ids,omitempty"`
	EscalationRequired bool                      `json:"escalation_required"`
}

// handlerOutcome is what a strategy handler produced.
type handlerOutcome struct {
	success     bool
	reason      string
	summary     string
	artifactIDs []string
}

// RecommendedStrategy picks a resolution approach from the conflict's shape.
// Critical conflicts always go to a human.
func RecommendedStrategy(conflict *models.Conflict) models.ResolutionStrategy {
	if conflict.Severity == models.SeverityCritical {
		return models.StrategyEscalation
	}

	switch conflict.Type {
	case models.ConflictOutputContradiction:
		if len(conflict.Participants) == 2 {
			return models.StrategyAutomaticMerge
		}

		return models.StrategyManualOverride
	case models.ConflictRequirementMismatch:
		return models.StrategyCompromise
	case models.ConflictResourceContention:
		return models.StrategyPriorityBased
	case models.ConflictDependencyViolation:
		return models.StrategyRollback
	default:
		return models.StrategyManualOverride
	}
}

// Resolve runs one resolution attempt against a non-terminal conflict, using
// the preferred strategy when given and the recommendation otherwise. Every
// attempt is recorded; a failed attempt re-evaluates the escalation policy
// and may escalate the conflict.
func (e *Engine) Resolve(ctx context.Context, conflictID string, preferred *models.ResolutionStrategy) (*ResolutionResult, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "conflict.resolve",
		attribute.String(otelhelper.ConflictIDKey, conflictID),
	)
	defer span.End()

	conflict, err := e.conflicts.GetConflict(ctx, conflictID)
	if err != nil {
		return nil, err
	}

	if conflict.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: conflict %s is %s", ErrConflictTerminal, conflictID, conflict.Status)
	}

	if conflict.Status == models.ConflictDetected {
		reviewStart := time.Now().UTC()
		conflict.Status = models.ConflictUnderReview
		conflict.ReviewStartedAt = &reviewStart
	}

	strategy := RecommendedStrategy(conflict)
	if preferred != nil {
		strategy = *preferred
	}

	outcome := e.applyStrategy(ctx, conflict, strategy)
	now := time.Now().UTC()

	conflict.ResolutionAttempts = append(conflict.ResolutionAttempts, models.ResolutionAttempt{
		Strategy:    strategy,
		Success:     outcome.success,
		Reason:      outcome.reason,
		AttemptedAt: now,
	})

	result := &ResolutionResult{
		ConflictID:  conflictID,
		Strategy:    strategy,
		Success:     outcome.success,
		Reason:      outcome.reason,
		ArtifactIDs: outcome.artifactIDs,
	}

	if outcome.success {
		conflict.Status = models.ConflictResolved
		conflict.FinalResolution = &models.Resolution{
			Strategy:    strategy,
			Summary:     outcome.summary,
			ArtifactIDs: outcome.artifactIDs,
			ResolvedAt:  now,
		}
	} else if IsEscalationRequired(conflict, now) {
		conflict.Status = models.ConflictEscalated
		result.EscalationRequired = true
	}

	conflict.UpdatedAt = now

	if err := e.conflicts.SaveConflict(ctx, conflict); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	e.logger.InfoContext(ctx, "conflict resolution attempted",
		"conflict_id", conflictID, "strategy", strategy,
		"success", outcome.success, "status", conflict.Status)
	e.record(ctx, "conflict.resolution_attempted", conflict, map[string]any{
		"strategy": string(strategy),
		"success":  outcome.success,
		"status":   string(conflict.Status),
	})
	e.publish(ctx, conflict.ProjectID, events.ConflictResolved{
		BaseEvent:  e.baseEvent(events.ConflictResolvedEvent, conflict.ProjectID),
		ConflictID: conflictID,
		Strategy:   strategy,
		Success:    outcome.success,
		Reason:     outcome.reason,
	})

	return result, nil
}

// applyStrategy dispatches to the handler for each strategy. The switch is
// exhaustive over the known strategies; an unknown value fails the attempt.
func (e *Engine) applyStrategy(ctx context.Context, conflict *models.Conflict, strategy models.ResolutionStrategy) handlerOutcome {
	switch strategy {
	case models.StrategyAutomaticMerge:
		return e.automaticMerge(ctx, conflict)
	case models.StrategyCompromise:
		return e.compromise(ctx, conflict)
	case models.StrategyPriorityBased:
		return priorityBased(conflict)
	case models.StrategySplitWork:
		return e.splitWork(ctx, conflict)
	case models.StrategyEscalation:
		return handlerOutcome{success: false, reason: "requires human adjudication"}
	case models.StrategyRollback:
		return handlerOutcome{success: false, reason: "rollback requires version-control integration, which is not available"}
	case models.StrategyManualOverride:
		return handlerOutcome{success: false, reason: "manual decision required"}
	default:
		return handlerOutcome{success: false, reason: fmt.Sprintf("unknown strategy %q", strategy)}
	}
}

// automaticMerge takes the higher-confidence participant's artifact as the
// base and synthesizes a merged artifact carrying both sides.
func (e *Engine) automaticMerge(ctx context.Context, conflict *models.Conflict) handlerOutcome {
	if len(conflict.Participants) == 0 {
		return handlerOutcome{success: false, reason: "no participants to merge around"}
	}

	evidence, err := e.artifacts.GetArtifactsByIDs(ctx, conflict.Evidence.ArtifactIDs)
	if err != nil || len(evidence) == 0 {
		return handlerOutcome{success: false, reason: "evidence artifacts unavailable"}
	}

	winner := topParticipant(conflict.Participants)
	content := fmt.Sprintf("Merged resolution for conflict: %s\n\nPrimary (%s):\n", conflict.Description, winner.AgentType)

	var rest []string

	for _, artifact := range evidence {
		if artifact.SourceAgent == winner.AgentType {
			content += artifact.Content + "\n"

			continue
		}

		rest = append(rest, fmt.Sprintf("From %s:\n%s", artifact.SourceAgent, artifact.Content))
	}

	if len(rest) > 0 {
		content += "\nIncorporated material:\n" + strings.Join(rest, "\n")
	}

	merged, err := e.saveResolutionArtifact(ctx, conflict, evidence[0].Type, content)
	if err != nil {
		return handlerOutcome{success: false, reason: err.Error()}
	}

	return handlerOutcome{
		success:     true,
		summary:     fmt.Sprintf("merged around %s's output", winner.AgentType),
		artifactIDs: []string{merged},
	}
}

// compromise synthesizes a combined artifact from all evidence.
func (e *Engine) compromise(ctx context.Context, conflict *models.Conflict) handlerOutcome {
	evidence, err := e.artifacts.GetArtifactsByIDs(ctx, conflict.Evidence.ArtifactIDs)
	if err != nil || len(evidence) == 0 {
		return handlerOutcome{success: false, reason: "evidence artifacts unavailable"}
	}

	sections := make([]string, 0, len(evidence))
	for _, artifact := range evidence {
		sections = append(sections, fmt.Sprintf("From %s:\n%s", artifact.SourceAgent, artifact.Content))
	}

	content := fmt.Sprintf("Compromise resolution for conflict: %s\n\n%s",
		conflict.Description, strings.Join(sections, "\n\n"))

	combined, err := e.saveResolutionArtifact(ctx, conflict, evidence[0].Type, content)
	if err != nil {
		return handlerOutcome{success: false, reason: err.Error()}
	}

	return handlerOutcome{
		success:     true,
		summary:     fmt.Sprintf("combined %d contributions", len(evidence)),
		artifactIDs: []string{combined},
	}
}

// priorityBased ranks participants by confidence and declares an order.
func priorityBased(conflict *models.Conflict) handlerOutcome {
	if len(conflict.Participants) == 0 {
		return handlerOutcome{success: false, reason: "no participants to rank"}
	}

	ranked := append([]models.ConflictParticipant(nil), conflict.Participants...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Confidence > ranked[j].Confidence
	})

	order := make([]string, 0, len(ranked))
	for _, participant := range ranked {
		order = append(order, participant.AgentType)
	}

	return handlerOutcome{
		success: true,
		summary: fmt.Sprintf("priority order: %s", strings.Join(order, " > ")),
	}
}

// splitWork emits one artifact per participant so each proceeds on its own
// slice.
func (e *Engine) splitWork(ctx context.Context, conflict *models.Conflict) handlerOutcome {
	if len(conflict.Participants) == 0 {
		return handlerOutcome{success: false, reason: "no participants to split between"}
	}

	artifactIDs := make([]string, 0, len(conflict.Participants))

	for _, participant := range conflict.Participants {
		content := fmt.Sprintf("Work split for conflict: %s\nAssigned to %s (%s).",
			conflict.Description, participant.AgentType, participant.Role)

		id, err := e.saveResolutionArtifact(ctx, conflict, models.ArtifactTypeSpecification, content)
		if err != nil {
			return handlerOutcome{success: false, reason: err.Error()}
		}

		artifactIDs = append(artifactIDs, id)
	}

	return handlerOutcome{
		success:     true,
		summary:     fmt.Sprintf("split across %d participants", len(conflict.Participants)),
		artifactIDs: artifactIDs,
	}
}

func (e *Engine) saveResolutionArtifact(ctx context.Context, conflict *models.Conflict, artifactType, content string) (string, error) {
	artifact := &models.Artifact{
		ID:          uuid.New().String(),
		ProjectID:   conflict.ProjectID,
		SourceAgent: "conflict-engine",
		Type:        artifactType,
		Content:     content,
		CreatedAt:   time.Now().UTC(),
	}

	if err := e.artifacts.SaveArtifact(ctx, artifact); err != nil {
		return "", fmt.Errorf("failed to save resolution artifact: %w", err)
	}

	return artifact.ID, nil
}

// reviewStaleAfter is how long a conflict may sit under review before it
// escalates regardless of attempts.
const reviewStaleAfter = 24 * time.Hour

// IsEscalationRequired decides whether a conflict is beyond automated
// resolution.
func IsEscalationRequired(conflict *models.Conflict, now time.Time) bool {
	if conflict.Severity == models.SeverityCritical {
		return true
	}

	if conflict.Severity == models.SeverityHigh && conflict.FailedAttempts() >= 2 {
		return true
	}

	if resolutionComplexity(conflict) > 0.7 {
		return true
	}

	if conflict.Status == models.ConflictUnderReview {
		// Records written before the review timestamp existed fall back to
		// the detection time.
		reviewStart := conflict.DetectedAt
		if conflict.ReviewStartedAt != nil {
			reviewStart = *conflict.ReviewStartedAt
		}

		if now.Sub(reviewStart) > reviewStaleAfter {
			return true
		}
	}

	return false
}

// resolutionComplexity estimates how hard a conflict is to resolve from its
// participant count, evidence volume, and failure history, normalized to
// [0, 1].
func resolutionComplexity(conflict *models.Conflict) float64 {
	participants := float64(len(conflict.Participants)) / 5 * 0.4
	evidence := float64(len(conflict.Evidence.ArtifactIDs)+len(conflict.Evidence.TaskIDs)) / 10 * 0.3
	failures := float64(conflict.FailedAttempts()) / 3 * 0.3

	complexity := participants + evidence + failures
	if complexity > 1 {
		complexity = 1
	}

	return complexity
}

func topParticipant(participants []models.ConflictParticipant) models.ConflictParticipant {
	top := participants[0]

	for _, participant := range participants[1:] {
		if participant.Confidence > top.Confidence {
			top = participant
		}
	}

	return top
}
