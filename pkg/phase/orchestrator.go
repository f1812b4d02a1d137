package phase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/atlasworks/convoy/pkg/audit"
	"github.com/atlasworks/convoy/pkg/eventbus"
	"github.com/atlasworks/convoy/pkg/events"
	"github.com/atlasworks/convoy/pkg/models"
	"github.com/atlasworks/convoy/pkg/otelhelper"
	"github.com/atlasworks/convoy/pkg/persistence"
)

// ConflictChecker reports conflicts severe enough to block a phase
// transition. The conflict engine implements it.
type ConflictChecker interface {
	BlockingConflicts(ctx context.Context, projectID string) ([]string, error)
}

// Orchestrator gates progression through the delivery lifecycle. It owns the
// phase table, validates completion criteria against structured task tags,
// and applies the time-based override policy.
type Orchestrator struct {
	projects  persistence.ProjectRepository
	tasks     persistence.TaskRepository
	artifacts persistence.ArtifactRepository
	publisher eventbus.EventPublisher
	sink      audit.Sink
	conflicts ConflictChecker

	defaultTable *Table
	cache        *tableCache
	rawMu        sync.RWMutex
	rawTables    map[string][]byte

	logger *slog.Logger
	tracer trace.Tracer
}

func NewOrchestrator(
	store persistence.Persistence,
	publisher eventbus.EventPublisher,
	sink audit.Sink,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		projects:     store.ProjectRepository(),
		tasks:        store.TaskRepository(),
		artifacts:    store.ArtifactRepository(),
		publisher:    publisher,
		sink:         sink,
		defaultTable: DefaultTable(),
		cache:        newTableCache(),
		rawTables:    make(map[string][]byte),
		logger:       logger.With("module", "phase"),
		tracer:       otelhelper.NoopTracer(),
	}
}

func (o *Orchestrator) SetConflictChecker(checker ConflictChecker) {
	o.conflicts = checker
}

func (o *Orchestrator) SetTracer(tracer trace.Tracer) {
	o.tracer = tracer
}

// ClearCache drops all memoized phase tables.
func (o *Orchestrator) ClearCache() {
	o.cache.Clear()
}

// SetCacheEnabled switches table memoization on or off. Disabling forces a
// re-parse of custom tables on every lookup.
func (o *Orchestrator) SetCacheEnabled(enabled bool) {
	o.cache.SetEnabled(enabled)
}

// LoadProjectTable installs a custom phase table for a project from a JSON
// document. The document is fully validated before it replaces anything.
func (o *Orchestrator) LoadProjectTable(projectID string, raw []byte) error {
	table, err := ParseTable(raw)
	if err != nil {
		return err
	}

	o.rawMu.Lock()
	o.rawTables[projectID] = append([]byte(nil), raw...)
	o.rawMu.Unlock()

	o.cache.put(projectID, table)
	o.logger.Info("custom phase table installed",
		"project_id", projectID, "phases", len(table.phases))

	return nil
}

// tableFor resolves the project's phase table: memoized custom table, then a
// re-parse of the registered document, then the default lifecycle.
func (o *Orchestrator) tableFor(projectID string) *Table {
	if table, ok := o.cache.get(projectID); ok {
		return table
	}

	o.rawMu.RLock()
	raw, ok := o.rawTables[projectID]
	o.rawMu.RUnlock()

	if !ok {
		return o.defaultTable
	}

	table, err := ParseTable(raw)
	if err != nil {
		// The document was valid when installed; fall back rather than
		// blocking the project.
		o.logger.Error("registered phase table failed to re-parse",
			"project_id", projectID, "error", err)

		return o.defaultTable
	}

	o.cache.put(projectID, table)

	return table
}

// CompletionReport is the result of validating a phase's completion
// criteria.
type CompletionReport struct {
	Phase         string   `json:"phase"`
	Valid         bool     `json:"valid"`
	CompletionPct float64  `json:"completion_pct"`
	Missing       []string `json:"missing,omitempty"`
}

// ValidateCompletion checks each completion criterion of the phase against
// completed tasks assigned to the phase's agents. A criterion is satisfied
// when at least one completed task declares it as a completion tag.
// Unresolved blocking conflicts invalidate the phase regardless of criteria.
func (o *Orchestrator) ValidateCompletion(ctx context.Context, projectID, phaseName string) (*CompletionReport, error) {
	ctx, span := otelhelper.StartSpan(ctx, o.tracer, "phase.validate_completion",
		attribute.String(otelhelper.ProjectIDKey, projectID),
		attribute.String(otelhelper.PhaseNameKey, phaseName),
	)
	defer span.End()

	definition, err := o.tableFor(projectID).Get(phaseName)
	if err != nil {
		return nil, err
	}

	tasks, err := o.tasks.ListTasksByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	agents := make(map[string]bool, len(definition.AgentSequence))
	for _, agentType := range definition.AgentSequence {
		agents[agentType] = true
	}

	report := &CompletionReport{Phase: phaseName}
	satisfied := 0

	for _, criterion := range definition.CompletionCriteria {
		if criterionSatisfied(tasks, agents, criterion) {
			satisfied++

			continue
		}

		report.Missing = append(report.Missing, criterion)
	}

	report.CompletionPct = float64(satisfied) / float64(len(definition.CompletionCriteria)) * 100
	report.Valid = satisfied == len(definition.CompletionCriteria)

	if o.conflicts != nil {
		blocking, err := o.conflicts.BlockingConflicts(ctx, projectID)
		if err != nil {
			return nil, err
		}

		for _, conflictID := range blocking {
			report.Missing = append(report.Missing, "unresolved conflict "+conflictID)
			report.Valid = false
		}
	}

	return report, nil
}

func criterionSatisfied(tasks []*models.Task, agents map[string]bool, criterion string) bool {
	for _, task := range tasks {
		if task.Status != models.TaskStatusCompleted || !agents[task.AgentType] {
			continue
		}

		if task.HasCompletionTag(criterion) {
			return true
		}
	}

	return false
}

// TransitionResult describes a successful phase advance.
type TransitionResult struct {
	Success       bool   `json:"success"`
	PreviousPhase string `json:"previous_phase"`
	NewPhase      string `json:"new_phase"`
	Forced        bool   `json:"forced"`
	Reason        string `json:"reason,omitempty"`
}

// Transition advances the project to the next phase in its table. It
// succeeds only when the current phase validates completely, or under the
// overtime override; otherwise it fails with diagnostics and no mutation.
// Direction is forward-only by table construction.
func (o *Orchestrator) Transition(ctx context.Context, projectID string) (*TransitionResult, error) {
	ctx, span := otelhelper.StartSpan(ctx, o.tracer, "phase.transition",
		attribute.String(otelhelper.ProjectIDKey, projectID),
	)
	defer span.End()

	project, err := o.projects.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	table := o.tableFor(projectID)

	currentName := project.CurrentPhase
	if currentName == "" {
		currentName = table.First().Name
	}

	current, err := table.Get(currentName)
	if err != nil {
		return nil, err
	}

	if current.NextPhase == "" {
		return nil, ErrTerminalPhase
	}

	report, err := o.ValidateCompletion(ctx, projectID, currentName)
	if err != nil {
		return nil, err
	}

	forced := false
	reason := ""

	if !report.Valid {
		timing, err := o.phaseTiming(ctx, projectID, current)
		if err != nil {
			return nil, err
		}

		if timing.Status == models.TimingOvertime && report.CompletionPct >= 80 {
			forced = true
			reason = "forced due to overtime"
		} else {
			return nil, &PhaseNotCompleteError{
				ProjectID:     projectID,
				Phase:         currentName,
				CompletionPct: report.CompletionPct,
				Missing:       report.Missing,
			}
		}
	}

	project.CurrentPhase = current.NextPhase
	project.UpdatedAt = time.Now().UTC()

	if err := o.projects.SaveProject(ctx, project); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	o.logger.InfoContext(ctx, "phase transition",
		"project_id", projectID, "previous_phase", currentName,
		"new_phase", current.NextPhase, "forced", forced)
	o.record(ctx, "phase.transitioned", projectID, map[string]any{
		"previous_phase": currentName,
		"new_phase":      current.NextPhase,
		"forced":         forced,
		"completion_pct": report.CompletionPct,
	})
	o.publish(ctx, projectID, events.PhaseCompleted{
		BaseEvent:     o.baseEvent(events.PhaseCompletedEvent, projectID),
		PreviousPhase: currentName,
		NewPhase:      current.NextPhase,
		Forced:        forced,
		Reason:        reason,
	})

	return &TransitionResult{
		Success:       true,
		PreviousPhase: currentName,
		NewPhase:      current.NextPhase,
		Forced:        forced,
		Reason:        reason,
	}, nil
}

func (o *Orchestrator) publish(ctx context.Context, key string, event eventbus.Event) {
	if o.publisher == nil {
		return
	}

	if err := o.publisher.Publish(ctx, key, event); err != nil {
		o.logger.WarnContext(ctx, "failed to publish event",
			"event_type", event.GetType(), "error", err)
	}
}

func (o *Orchestrator) record(ctx context.Context, action, projectID string, detail map[string]any) {
	if o.sink == nil {
		return
	}

	o.sink.Record(ctx, audit.Entry{
		Category:  audit.CategoryPhase,
		Action:    action,
		ProjectID: projectID,
		SubjectID: projectID,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	})
}

func (o *Orchestrator) baseEvent(eventType events.EventType, projectID string) events.BaseEvent {
	return events.BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		ProjectID: projectID,
	}
}
