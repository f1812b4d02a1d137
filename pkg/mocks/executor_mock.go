package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/atlasworks/convoy/pkg/agent"
	"github.com/atlasworks/convoy/pkg/models"
)

// MockExecutor is a mock implementation of the agent.Executor interface.
type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Execute(ctx context.Context, task *models.Task, handoff agent.Handoff, artifacts []*models.Artifact) (*agent.Result, error) {
	args := m.Called(ctx, task, handoff, artifacts)

	result, _ := args.Get(0).(*agent.Result)

	return result, args.Error(1)
}
