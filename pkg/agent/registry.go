package agent

import (
	"fmt"
	"log/slog"
	"sync"
)

// Registry maps agent types to their executors. It is an explicit object
// owned by whoever wires the engine; there is no package-level instance.
type Registry struct {
	logger    *slog.Logger
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry creates an empty agent registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:    logger,
		executors: make(map[string]Executor),
	}
}

// Register binds an executor to an agent type, replacing any previous binding.
func (r *Registry) Register(agentType string, executor Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.executors[agentType] = executor
	r.logger.Debug("Registered agent executor", "agent_type", agentType)
}

// Executor returns the executor bound to the agent type.
func (r *Registry) Executor(agentType string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	executor, ok := r.executors[agentType]
	if !ok {
		return nil, fmt.Errorf("no executor registered for agent type %q", agentType)
	}

	return executor, nil
}

// AgentTypes returns the registered agent types.
func (r *Registry) AgentTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.executors))
	for agentType := range r.executors {
		types = append(types, agentType)
	}

	return types
}
