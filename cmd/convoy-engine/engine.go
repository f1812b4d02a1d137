package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/atlasworks/convoy/pkg/cmd"
	"github.com/atlasworks/convoy/pkg/events"
)

// EngineManager runs the background work the API does not: the periodic
// approval expiry sweep and lifecycle event observation for audit trails.
type EngineManager struct {
	id             string
	stack          *cmd.Stack
	expirySchedule string
	cron           *cron.Cron
	logger         *slog.Logger
}

func NewEngineManager(id string, stack *cmd.Stack, expirySchedule string, logger *slog.Logger) *EngineManager {
	return &EngineManager{
		id:             id,
		stack:          stack,
		expirySchedule: expirySchedule,
		logger:         logger.With("module", "convoy-engine", "engine_id", id),
	}
}

func (e *EngineManager) Start(ctx context.Context) error {
	e.logger.InfoContext(ctx, "Starting engine manager", "expiry_schedule", e.expirySchedule)

	err := e.registerHandlers()
	if err != nil {
		return err
	}

	err = e.stack.EventBus.Subscribe(ctx)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	err = e.startExpirySweep(ctx)
	if err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "Engine started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	e.logger.InfoContext(ctx, "Shutting down engine...")

	if e.cron != nil {
		<-e.cron.Stop().Done()
	}

	return nil
}

func (e *EngineManager) startExpirySweep(ctx context.Context) error {
	e.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := e.cron.AddFunc(e.expirySchedule, func() {
		e.sweepExpired(ctx)
	})
	if err != nil {
		return err
	}

	e.cron.Start()

	return nil
}

func (e *EngineManager) sweepExpired(ctx context.Context) {
	report, err := e.stack.Gate.Expire(ctx, time.Now().UTC())
	if err != nil {
		e.logger.ErrorContext(ctx, "Approval expiry sweep failed", "error", err)

		return
	}

	if len(report.Expired) == 0 {
		return
	}

	e.logger.InfoContext(ctx, "Approval expiry sweep completed",
		"expired", len(report.Expired),
		"escalated", len(report.Escalated),
		"auto_rejected", len(report.AutoRejected),
		"errors", len(report.Errors),
	)
}

func (e *EngineManager) registerHandlers() error {
	handlers := map[events.EventType]func(ctx context.Context, event any) error{
		events.ExecutionFailedEvent:    e.handleExecutionFailed,
		events.ExecutionPausedEvent:    e.handleExecutionPaused,
		events.HitlRequestCreatedEvent: e.handleHitlRequestCreated,
		events.HitlRequestExpiredEvent: e.handleHitlRequestExpired,
		events.ConflictDetectedEvent:   e.handleConflictDetected,
	}

	for eventType, handler := range handlers {
		err := e.stack.EventBus.Handle(eventType, handler)
		if err != nil {
			return err
		}
	}

	return nil
}

func (e *EngineManager) handleExecutionFailed(ctx context.Context, event any) error {
	failed, ok := event.(*events.ExecutionFailed)
	if !ok {
		e.logger.ErrorContext(ctx, "Invalid event type for ExecutionFailed")

		return nil
	}

	e.logger.WarnContext(ctx, "Execution failed",
		"execution_id", failed.ExecutionID,
		"workflow_id", failed.WorkflowID,
		"failed_at_step", failed.FailedAtStep,
		"error", failed.Error,
	)

	return nil
}

func (e *EngineManager) handleExecutionPaused(ctx context.Context, event any) error {
	paused, ok := event.(*events.ExecutionPaused)
	if !ok {
		e.logger.ErrorContext(ctx, "Invalid event type for ExecutionPaused")

		return nil
	}

	e.logger.InfoContext(ctx, "Execution paused",
		"execution_id", paused.ExecutionID,
		"step_index", paused.StepIndex,
		"reason", paused.Reason,
	)

	return nil
}

func (e *EngineManager) handleHitlRequestCreated(ctx context.Context, event any) error {
	created, ok := event.(*events.HitlRequestCreated)
	if !ok {
		e.logger.ErrorContext(ctx, "Invalid event type for HitlRequestCreated")

		return nil
	}

	e.logger.InfoContext(ctx, "Approval request created",
		"request_id", created.RequestID,
		"execution_id", created.ExecutionID,
		"trigger", created.Trigger,
		"expires_at", created.ExpiresAt,
	)

	return nil
}

func (e *EngineManager) handleHitlRequestExpired(ctx context.Context, event any) error {
	expired, ok := event.(*events.HitlRequestExpired)
	if !ok {
		e.logger.ErrorContext(ctx, "Invalid event type for HitlRequestExpired")

		return nil
	}

	logger := e.logger.With(
		"request_id", expired.RequestID,
		"execution_id", expired.ExecutionID,
	)

	if expired.EscalatedTo != "" {
		logger.InfoContext(ctx, "Approval request escalated", "escalated_to", expired.EscalatedTo)
	} else {
		logger.WarnContext(ctx, "Approval request auto-rejected after escalation")
	}

	return nil
}

func (e *EngineManager) handleConflictDetected(ctx context.Context, event any) error {
	detected, ok := event.(*events.ConflictDetected)
	if !ok {
		e.logger.ErrorContext(ctx, "Invalid event type for ConflictDetected")

		return nil
	}

	e.logger.InfoContext(ctx, "Conflict detected",
		"conflict_id", detected.ConflictID,
		"project_id", detected.ProjectID,
		"kind", detected.Kind,
		"severity", detected.Severity,
		"confidence", detected.Confidence,
	)

	return nil
}
