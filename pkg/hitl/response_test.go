package hitl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/atlasworks/convoy/pkg/models"
	"github.com/atlasworks/convoy/pkg/testutil"
)

func (f *gateFixture) saveRequest(t *testing.T, request *models.HitlRequest) {
	t.Helper()
	require.NoError(t, f.store.HitlRepository().SaveRequest(context.Background(), request))
}

func TestGate_ProcessResponse_ApproveResumes(t *testing.T) {
	ctx := context.Background()
	f := newGateFixture(t)

	request := testutil.CreateTestHitlRequest("project-1", "exec-1")
	f.saveRequest(t, request)
	f.controller.On("Resume", mock.Anything, "exec-1").Return(nil)

	processed, err := f.gate.ProcessResponse(ctx, request.ID, Response{
		Action:  models.HitlActionApprove,
		Actor:   "alex",
		Comment: "looks good",
	})
	require.NoError(t, err)

	assert.Equal(t, models.HitlStatusApproved, processed.Status)
	assert.Equal(t, "looks good", processed.UserResponse)
	assert.NotNil(t, processed.RespondedAt)
	require.Len(t, processed.History, 1)
	assert.Equal(t, models.HitlActionApprove, processed.History[0].Action)
	assert.Equal(t, "alex", processed.History[0].Actor)

	f.controller.AssertCalled(t, "Resume", mock.Anything, "exec-1")
	f.controller.AssertNotCalled(t, "MergeContext", mock.Anything, mock.Anything, mock.Anything)
}

func TestGate_ProcessResponse_RejectFailsTaskWithoutResuming(t *testing.T) {
	ctx := context.Background()
	f := newGateFixture(t)

	task := testutil.CreateTestTask("project-1", "developer", testutil.WithTaskStatus(models.TaskStatusRunning))
	require.NoError(t, f.store.TaskRepository().SaveTask(ctx, task))

	request := testutil.CreateTestHitlRequest("project-1", "exec-1", func(r *models.HitlRequest) {
		r.TaskID = task.ID
	})
	f.saveRequest(t, request)

	processed, err := f.gate.ProcessResponse(ctx, request.ID, Response{
		Action: models.HitlActionReject,
		Actor:  "alex",
	})
	require.NoError(t, err)
	assert.Equal(t, models.HitlStatusRejected, processed.Status)

	// The execution stays paused for the operator to decide next steps.
	f.controller.AssertNotCalled(t, "Resume", mock.Anything, mock.Anything)
	f.controller.AssertNotCalled(t, "Cancel", mock.Anything, mock.Anything, mock.Anything)

	failed, err := f.store.TaskRepository().GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, failed.Status)
}

func TestGate_ProcessResponse_AmendMergesAndResumes(t *testing.T) {
	ctx := context.Background()
	f := newGateFixture(t)

	request := testutil.CreateTestHitlRequest("project-1", "exec-1")
	f.saveRequest(t, request)

	amendments := map[string]any{"scope": "narrowed"}
	f.controller.On("MergeContext", mock.Anything, "exec-1", amendments).Return(nil)
	f.controller.On("Resume", mock.Anything, "exec-1").Return(nil)

	processed, err := f.gate.ProcessResponse(ctx, request.ID, Response{
		Action:     models.HitlActionAmend,
		Actor:      "alex",
		Amendments: amendments,
	})
	require.NoError(t, err)

	// An amendment is an approval with modifications.
	assert.Equal(t, models.HitlStatusApproved, processed.Status)
	assert.Equal(t, amendments, processed.Amendments)

	f.controller.AssertCalled(t, "MergeContext", mock.Anything, "exec-1", amendments)
	f.controller.AssertCalled(t, "Resume", mock.Anything, "exec-1")
}

func TestGate_ProcessResponse_TerminalRequestRejected(t *testing.T) {
	ctx := context.Background()
	f := newGateFixture(t)

	request := testutil.CreateTestHitlRequest("project-1", "exec-1", func(r *models.HitlRequest) {
		r.Status = models.HitlStatusApproved
	})
	f.saveRequest(t, request)

	_, err := f.gate.ProcessResponse(ctx, request.ID, Response{
		Action: models.HitlActionApprove,
		Actor:  "alex",
	})
	assert.ErrorIs(t, err, ErrRequestNotPending)
}

func TestGate_ProcessResponse_UnknownAction(t *testing.T) {
	ctx := context.Background()
	f := newGateFixture(t)

	request := testutil.CreateTestHitlRequest("project-1", "exec-1")
	f.saveRequest(t, request)

	_, err := f.gate.ProcessResponse(ctx, request.ID, Response{
		Action: "defer",
		Actor:  "alex",
	})
	assert.ErrorIs(t, err, ErrUnknownAction)

	// The request stays pending after an invalid action.
	stored, err := f.store.HitlRepository().GetRequest(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HitlStatusPending, stored.Status)
}

func TestGate_BulkApprove_PartialFailure(t *testing.T) {
	ctx := context.Background()
	f := newGateFixture(t)

	pending := testutil.CreateTestHitlRequest("project-1", "exec-1")
	f.saveRequest(t, pending)

	alreadyDone := testutil.CreateTestHitlRequest("project-1", "exec-2", func(r *models.HitlRequest) {
		r.Status = models.HitlStatusRejected
	})
	f.saveRequest(t, alreadyDone)

	f.controller.On("Resume", mock.Anything, "exec-1").Return(nil)

	outcome := f.gate.BulkApprove(ctx, []string{pending.ID, alreadyDone.ID, "missing"}, "alex", "batch approval")

	assert.Equal(t, []string{pending.ID}, outcome.Succeeded)
	require.Len(t, outcome.Failed, 2)
	assert.Equal(t, alreadyDone.ID, outcome.Failed[0].RequestID)
	assert.Equal(t, "missing", outcome.Failed[1].RequestID)
}
