package testutil

import (
	"context"
	"sync"

	"github.com/atlasworks/convoy/pkg/agent"
	"github.com/atlasworks/convoy/pkg/models"
)

// ScriptedExecutor returns pre-scripted results in order, one per Execute
// call. When the script runs out it keeps returning the last result.
type ScriptedExecutor struct {
	mu      sync.Mutex
	script  []*agent.Result
	calls   int
	Handoff []agent.Handoff
	Tasks   []*models.Task
}

// NewScriptedExecutor creates an executor returning the given results in
// order.
func NewScriptedExecutor(results ...*agent.Result) *ScriptedExecutor {
	return &ScriptedExecutor{script: results}
}

// SucceedingExecutor returns an executor whose every call succeeds with the
// given output.
func SucceedingExecutor(output map[string]any) *ScriptedExecutor {
	return NewScriptedExecutor(&agent.Result{Success: true, Output: output})
}

// FailingExecutor returns an executor whose every call fails with the given
// error message.
func FailingExecutor(message string) *ScriptedExecutor {
	return NewScriptedExecutor(&agent.Result{Success: false, Error: message})
}

func (e *ScriptedExecutor) Execute(_ context.Context, task *models.Task, handoff agent.Handoff, _ []*models.Artifact) (*agent.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.Handoff = append(e.Handoff, handoff)
	e.Tasks = append(e.Tasks, task)

	index := e.calls
	if index >= len(e.script) {
		index = len(e.script) - 1
	}

	e.calls++

	return e.script[index], nil
}

// Calls reports how many times Execute ran.
func (e *ScriptedExecutor) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.calls
}
