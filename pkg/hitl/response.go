package hitl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/atlasworks/convoy/pkg/events"
	"github.com/atlasworks/convoy/pkg/models"
	"github.com/atlasworks/convoy/pkg/otelhelper"
	"github.com/atlasworks/convoy/pkg/persistence"
)

// Response is a human decision on a pending request.
type Response struct {
	Action     models.HitlActionType
	Actor      string
	Comment    string
	Amendments map[string]any
}

// ProcessResponse applies a human decision. The request must still be
// pending. Rejection fails the linked task and leaves the execution paused
// for the operator; approval and amendment merge any amendments into the
// execution context and resume the run.
func (g *Gate) ProcessResponse(ctx context.Context, requestID string, response Response) (*models.HitlRequest, error) {
	ctx, span := otelhelper.StartSpan(ctx, g.tracer, "hitl.process_response",
		attribute.String(otelhelper.RequestIDKey, requestID),
		attribute.String("convoy.hitl.action", string(response.Action)),
	)
	defer span.End()

	request, err := g.requests.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	if request.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: request %s is %s", ErrRequestNotPending, requestID, request.Status)
	}

	switch response.Action {
	case models.HitlActionApprove, models.HitlActionAmend:
		request.Status = models.HitlStatusApproved
	case models.HitlActionReject:
		request.Status = models.HitlStatusRejected
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, response.Action)
	}

	now := time.Now().UTC()
	request.UserResponse = response.Comment
	request.RespondedAt = &now
	request.History = append(request.History, models.HitlAction{
		Action:    response.Action,
		Actor:     response.Actor,
		Comment:   response.Comment,
		Timestamp: now,
	})

	if response.Action == models.HitlActionAmend {
		request.Amendments = response.Amendments
	}

	if err := g.requests.SaveRequest(ctx, request); err != nil {
		otelhelper.SetError(span, err)

		return nil, &GateError{Op: "respond", RequestID: requestID, Err: err}
	}

	g.logger.InfoContext(ctx, "approval response processed",
		"request_id", requestID, "action", response.Action,
		"actor", response.Actor, "status", request.Status)
	g.record(ctx, "hitl.response.processed", request, response.Actor, map[string]any{
		"action": string(response.Action),
		"status": string(request.Status),
	})
	g.publish(ctx, request.ProjectID, events.HitlResponseProcessed{
		BaseEvent:   g.baseEvent(events.HitlResponseProcessedEvent, request.ProjectID),
		RequestID:   request.ID,
		ExecutionID: request.ExecutionID,
		Action:      response.Action,
		Actor:       response.Actor,
		Status:      request.Status,
	})

	if err := g.applySideEffects(ctx, request, response); err != nil {
		return request, err
	}

	return request, nil
}

// applySideEffects runs the post-response actions. The request is already
// terminal at this point; side-effect failures surface to the caller but do
// not reopen it.
func (g *Gate) applySideEffects(ctx context.Context, request *models.HitlRequest, response Response) error {
	if request.Status == models.HitlStatusRejected {
		g.failLinkedTask(ctx, request)

		return nil
	}

	if request.ExecutionID == "" {
		return nil
	}

	if len(response.Amendments) > 0 {
		if err := g.controller.MergeContext(ctx, request.ExecutionID, response.Amendments); err != nil {
			return &GateError{Op: "merge amendments", RequestID: request.ID, Err: err}
		}
	}

	if err := g.controller.Resume(ctx, request.ExecutionID); err != nil {
		return &GateError{Op: "resume execution", RequestID: request.ID, Err: err}
	}

	return nil
}

// failLinkedTask marks the task a rejection refers to as failed, best-effort.
func (g *Gate) failLinkedTask(ctx context.Context, request *models.HitlRequest) {
	if request.TaskID == "" {
		return
	}

	task, err := g.tasks.GetTask(ctx, request.TaskID)
	if err != nil {
		if !errors.Is(err, persistence.ErrTaskNotFound) {
			g.logger.WarnContext(ctx, "failed to load task for rejection",
				"task_id", request.TaskID, "error", err)
		}

		return
	}

	now := time.Now().UTC()
	task.Status = models.TaskStatusFailed
	task.CompletedAt = &now

	if err := g.tasks.SaveTask(ctx, task); err != nil {
		g.logger.WarnContext(ctx, "failed to mark rejected task failed",
			"task_id", task.ID, "error", err)
	}
}

// BulkOutcome reports per-request results of a bulk approval.
type BulkOutcome struct {
	Succeeded []string
	Failed    []BulkFailure
}

// BulkFailure is one request that could not be approved.
type BulkFailure struct {
	RequestID string
	Reason    string
}

// BulkApprove approves each request in turn, collecting per-item failures
// without aborting the batch.
func (g *Gate) BulkApprove(ctx context.Context, requestIDs []string, actor, comment string) BulkOutcome {
	outcome := BulkOutcome{}

	for _, requestID := range requestIDs {
		_, err := g.ProcessResponse(ctx, requestID, Response{
			Action:  models.HitlActionApprove,
			Actor:   actor,
			Comment: comment,
		})
		if err != nil {
			outcome.Failed = append(outcome.Failed, BulkFailure{RequestID: requestID, Reason: err.Error()})

			continue
		}

		outcome.Succeeded = append(outcome.Succeeded, requestID)
	}

	return outcome
}
