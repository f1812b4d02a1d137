package cmd

import (
	"context"
	"log/slog"

	"github.com/atlasworks/convoy/pkg/agent"
	"github.com/atlasworks/convoy/pkg/audit"
	"github.com/atlasworks/convoy/pkg/conflict"
	"github.com/atlasworks/convoy/pkg/eventbus"
	"github.com/atlasworks/convoy/pkg/execution"
	"github.com/atlasworks/convoy/pkg/hitl"
	"github.com/atlasworks/convoy/pkg/persistence"
	"github.com/atlasworks/convoy/pkg/phase"
)

// StackConfig carries the connection settings shared by the binaries.
type StackConfig struct {
	ServiceName      string
	DatabaseURL      string
	RedisURL         string
	EventBusProvider string
}

// Stack is the fully wired orchestration engine: the four components plus
// the infrastructure they share.
type Stack struct {
	Persistence  persistence.Persistence
	EventBus     eventbus.EventBus
	Registry     *agent.Registry
	Audit        audit.Sink
	Machine      *execution.Machine
	Gate         *hitl.Gate
	Orchestrator *phase.Orchestrator
	Conflicts    *conflict.Engine

	logger *slog.Logger
}

// NewStack wires the engine components together: the gate observes the
// machine's steps and drives it back through the controller interface, and
// the orchestrator consults the conflict engine before transitions.
func NewStack(ctx context.Context, logger *slog.Logger, config StackConfig) (*Stack, error) {
	store, err := NewPersistence(ctx, logger, config.DatabaseURL, config.RedisURL)
	if err != nil {
		return nil, err
	}

	bus, err := NewEventBus(config.EventBusProvider, config.ServiceName, logger)
	if err != nil {
		closeErr := store.Close(ctx)
		if closeErr != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", closeErr)
		}

		return nil, err
	}

	sink := audit.NewSlogSink(logger.With("module", "audit"))
	registry := agent.NewRegistry(logger)

	machine := execution.NewMachine(store, bus, sink, registry, logger)
	gate := hitl.NewGate(store, bus, sink, machine, logger)
	machine.SetStepObserver(gate)

	orchestrator := phase.NewOrchestrator(store, bus, sink, logger)
	conflicts := conflict.NewEngine(store, bus, sink, logger)
	orchestrator.SetConflictChecker(conflicts)

	return &Stack{
		Persistence:  store,
		EventBus:     bus,
		Registry:     registry,
		Audit:        sink,
		Machine:      machine,
		Gate:         gate,
		Orchestrator: orchestrator,
		Conflicts:    conflicts,
		logger:       logger,
	}, nil
}

// Close releases the event bus and the state store.
func (s *Stack) Close(ctx context.Context) {
	if err := s.EventBus.Close(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
	}

	if err := s.Persistence.Close(ctx); err != nil {
		s.logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
	}
}
