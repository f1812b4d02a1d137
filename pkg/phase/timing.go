package phase

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/atlasworks/convoy/pkg/models"
	"github.com/atlasworks/convoy/pkg/otelhelper"
)

// TimeAnalysis grades every phase of the project's table against its
// estimates. Actual duration is the span from the first task created to the
// last task completed within the phase's agent set.
func (o *Orchestrator) TimeAnalysis(ctx context.Context, projectID string) ([]models.PhaseTiming, error) {
	ctx, span := otelhelper.StartSpan(ctx, o.tracer, "phase.time_analysis",
		attribute.String(otelhelper.ProjectIDKey, projectID),
	)
	defer span.End()

	tasks, err := o.tasks.ListTasksByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	table := o.tableFor(projectID)
	timings := make([]models.PhaseTiming, 0, len(table.phases))

	for _, definition := range table.phases {
		timings = append(timings, timingFromTasks(&definition, tasks))
	}

	return timings, nil
}

// phaseTiming computes the timing of a single phase.
func (o *Orchestrator) phaseTiming(ctx context.Context, projectID string, definition *models.PhaseDefinition) (models.PhaseTiming, error) {
	tasks, err := o.tasks.ListTasksByProject(ctx, projectID)
	if err != nil {
		return models.PhaseTiming{}, err
	}

	return timingFromTasks(definition, tasks), nil
}

func timingFromTasks(definition *models.PhaseDefinition, tasks []*models.Task) models.PhaseTiming {
	timing := models.PhaseTiming{
		Phase:          definition.Name,
		EstimatedHours: definition.EstimatedHours,
		MaxHours:       definition.MaxHours,
		Status:         models.TimingOnTrack,
	}

	agents := make(map[string]bool, len(definition.AgentSequence))
	for _, agentType := range definition.AgentSequence {
		agents[agentType] = true
	}

	var first, last *models.Task

	for _, task := range tasks {
		if !agents[task.AgentType] || task.Status != models.TaskStatusCompleted || task.CompletedAt == nil {
			continue
		}

		if first == nil || task.CreatedAt.Before(first.CreatedAt) {
			first = task
		}

		if last == nil || task.CompletedAt.After(*last.CompletedAt) {
			last = task
		}
	}

	if first == nil || last == nil {
		return timing
	}

	timing.ActualHours = last.CompletedAt.Sub(first.CreatedAt).Hours()
	if timing.ActualHours > 0 {
		timing.EfficiencyPercent = timing.EstimatedHours / timing.ActualHours * 100
	}

	switch {
	case timing.ActualHours > timing.MaxHours:
		timing.Status = models.TimingOvertime
	case timing.ActualHours > timing.EstimatedHours:
		timing.Status = models.TimingBehindSchedule
	case timing.EfficiencyPercent > 120:
		timing.Status = models.TimingAheadOfSchedule
	default:
		timing.Status = models.TimingOnTrack
	}

	return timing
}

// TransitionCheck is the advisory result of the time-based transition
// policy.
type TransitionCheck struct {
	ShouldTransition bool   `json:"should_transition"`
	Reason           string `json:"reason"`
}

// TimeBasedTransitionCheck decides whether the project's current phase
// should advance now: immediately when completion is full, under the
// overtime override when completion is at least 80%, and otherwise not,
// with a diagnostic reason either way.
func (o *Orchestrator) TimeBasedTransitionCheck(ctx context.Context, projectID string) (*TransitionCheck, error) {
	project, err := o.projects.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	table := o.tableFor(projectID)

	currentName := project.CurrentPhase
	if currentName == "" {
		currentName = table.First().Name
	}

	definition, err := table.Get(currentName)
	if err != nil {
		return nil, err
	}

	report, err := o.ValidateCompletion(ctx, projectID, currentName)
	if err != nil {
		return nil, err
	}

	if report.Valid && report.CompletionPct >= 100 {
		return &TransitionCheck{ShouldTransition: true, Reason: "phase complete"}, nil
	}

	timing, err := o.phaseTiming(ctx, projectID, definition)
	if err != nil {
		return nil, err
	}

	if timing.Status == models.TimingOvertime && report.CompletionPct >= 80 {
		return &TransitionCheck{ShouldTransition: true, Reason: "forced due to overtime"}, nil
	}

	return &TransitionCheck{
		ShouldTransition: false,
		Reason: fmt.Sprintf("phase %s is %.0f%% complete (timing %s), missing: %s",
			currentName, report.CompletionPct, timing.Status, strings.Join(report.Missing, ", ")),
	}, nil
}

// ContextPackage is the artifact window and directive set handed to an agent
// under time pressure.
type ContextPackage struct {
	Pressure    models.TimePressure `json:"pressure"`
	ArtifactIDs []string            `json:"artifact_ids"`
	Directives  []string            `json:"directives,omitempty"`
}

// Artifact windows per pressure level. Zero means unbounded.
const (
	mediumPressureWindow = 5
	highPressureWindow   = 3
)

// TimeConsciousContext shrinks the artifact set handed to an agent as the
// phase falls behind: the full set under normal pressure, the most recent
// five under medium, three under high, with directives telling the agent to
// economize. budget > 0 overrides the window.
func (o *Orchestrator) TimeConsciousContext(ctx context.Context, projectID, phaseName, agentType string, budget int) (*ContextPackage, error) {
	ctx, span := otelhelper.StartSpan(ctx, o.tracer, "phase.time_conscious_context",
		attribute.String(otelhelper.ProjectIDKey, projectID),
		attribute.String(otelhelper.PhaseNameKey, phaseName),
		attribute.String(otelhelper.AgentTypeKey, agentType),
	)
	defer span.End()

	definition, err := o.tableFor(projectID).Get(phaseName)
	if err != nil {
		return nil, err
	}

	timing, err := o.phaseTiming(ctx, projectID, definition)
	if err != nil {
		return nil, err
	}

	pkg := &ContextPackage{Pressure: models.PressureNormal}

	switch timing.Status {
	case models.TimingOvertime:
		pkg.Pressure = models.PressureHigh
		pkg.Directives = []string{
			"minimize analysis depth",
			"produce minimal viable output",
			"skip optional refinements",
		}
	case models.TimingBehindSchedule:
		pkg.Pressure = models.PressureMedium
		pkg.Directives = []string{
			"minimize analysis depth",
			"focus on essential requirements",
		}
	}

	artifacts, err := o.artifacts.ListArtifactsByProject(ctx, projectID, "")
	if err != nil {
		return nil, err
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].CreatedAt.After(artifacts[j].CreatedAt)
	})

	window := budget
	if window <= 0 {
		switch pkg.Pressure {
		case models.PressureHigh:
			window = highPressureWindow
		case models.PressureMedium:
			window = mediumPressureWindow
		default:
			window = len(artifacts)
		}
	}

	if window > len(artifacts) {
		window = len(artifacts)
	}

	pkg.ArtifactIDs = make([]string, 0, window)
	for _, artifact := range artifacts[:window] {
		pkg.ArtifactIDs = append(pkg.ArtifactIDs, artifact.ID)
	}

	return pkg, nil
}
