package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockExecutionController is a mock implementation of the
// hitl.ExecutionController interface.
type MockExecutionController struct {
	mock.Mock
}

func (m *MockExecutionController) Pause(ctx context.Context, executionID, reason string) error {
	args := m.Called(ctx, executionID, reason)

	return args.Error(0)
}

func (m *MockExecutionController) Resume(ctx context.Context, executionID string) error {
	args := m.Called(ctx, executionID)

	return args.Error(0)
}

func (m *MockExecutionController) Cancel(ctx context.Context, executionID, reason string) error {
	args := m.Called(ctx, executionID, reason)

	return args.Error(0)
}

func (m *MockExecutionController) MergeContext(ctx context.Context, executionID string, amendments map[string]any) error {
	args := m.Called(ctx, executionID, amendments)

	return args.Error(0)
}
