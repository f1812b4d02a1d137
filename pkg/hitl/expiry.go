package hitl

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/atlasworks/convoy/pkg/events"
	"github.com/atlasworks/convoy/pkg/models"
)

// ExpireReport summarizes one expiry sweep.
type ExpireReport struct {
	Expired      []string
	Escalated    []string
	AutoRejected []string
	Errors       []BulkFailure
}

// Expire sweeps pending requests past their deadline. A request expiring for
// the first time escalates: a fresh pending request replaces it with a
// doubled window and EscalatedFrom set. An escalated request expiring is
// auto-rejected: the linked task fails and the execution is cancelled, so no
// run is ever left silently orphaned on an unanswered approval.
func (g *Gate) Expire(ctx context.Context, now time.Time) (ExpireReport, error) {
	report := ExpireReport{}

	expired, err := g.requests.ListExpiredPending(ctx, now)
	if err != nil {
		return report, &GateError{Op: "list expired", RequestID: "", Err: err}
	}

	for _, request := range expired {
		if err := g.expireOne(ctx, request, now, &report); err != nil {
			report.Errors = append(report.Errors, BulkFailure{RequestID: request.ID, Reason: err.Error()})
		}
	}

	return report, nil
}

func (g *Gate) expireOne(ctx context.Context, request *models.HitlRequest, now time.Time, report *ExpireReport) error {
	request.Status = models.HitlStatusExpired

	if err := g.requests.SaveRequest(ctx, request); err != nil {
		return &GateError{Op: "expire", RequestID: request.ID, Err: err}
	}

	report.Expired = append(report.Expired, request.ID)
	g.logger.InfoContext(ctx, "approval request expired",
		"request_id", request.ID, "escalated_from", request.EscalatedFrom)

	if request.EscalatedFrom == "" {
		escalated, err := g.escalate(ctx, request, now)
		if err != nil {
			return err
		}

		report.Escalated = append(report.Escalated, escalated.ID)
		g.record(ctx, "hitl.request.expired", request, "", map[string]any{"escalated_to": escalated.ID})
		g.publish(ctx, request.ProjectID, events.HitlRequestExpired{
			BaseEvent:   g.baseEvent(events.HitlRequestExpiredEvent, request.ProjectID),
			RequestID:   request.ID,
			ExecutionID: request.ExecutionID,
			EscalatedTo: escalated.ID,
		})

		return nil
	}

	g.autoReject(ctx, request)
	report.AutoRejected = append(report.AutoRejected, request.ID)
	g.record(ctx, "hitl.request.expired", request, "", map[string]any{"auto_rejected": true})
	g.publish(ctx, request.ProjectID, events.HitlRequestExpired{
		BaseEvent:   g.baseEvent(events.HitlRequestExpiredEvent, request.ProjectID),
		RequestID:   request.ID,
		ExecutionID: request.ExecutionID,
	})

	return nil
}

// escalate replaces an expired request with a fresh one carrying twice the
// original window. The replacement is the last chance before auto-rejection.
func (g *Gate) escalate(ctx context.Context, expired *models.HitlRequest, now time.Time) (*models.HitlRequest, error) {
	window := expired.ExpiresAt.Sub(expired.CreatedAt)
	if window <= 0 {
		window = g.window
	}

	escalated := &models.HitlRequest{
		ID:            uuid.New().String(),
		ProjectID:     expired.ProjectID,
		TaskID:        expired.TaskID,
		ExecutionID:   expired.ExecutionID,
		Trigger:       expired.Trigger,
		Question:      expired.Question,
		Options:       append([]string(nil), expired.Options...),
		Status:        models.HitlStatusPending,
		EscalatedFrom: expired.ID,
		CreatedAt:     now,
		ExpiresAt:     now.Add(2 * window),
	}

	if err := g.requests.SaveRequest(ctx, escalated); err != nil {
		return nil, &GateError{Op: "escalate", RequestID: expired.ID, Err: err}
	}

	g.logger.WarnContext(ctx, "approval request escalated after expiry",
		"request_id", expired.ID, "escalated_to", escalated.ID,
		"expires_at", escalated.ExpiresAt)

	return escalated, nil
}

// autoReject resolves the paused execution behind a twice-expired request:
// the linked task fails and the run is cancelled.
func (g *Gate) autoReject(ctx context.Context, request *models.HitlRequest) {
	g.failLinkedTask(ctx, request)

	if request.ExecutionID == "" {
		return
	}

	if err := g.controller.Cancel(ctx, request.ExecutionID, "approval expired"); err != nil {
		g.logger.ErrorContext(ctx, "failed to cancel execution after approval expiry",
			"execution_id", request.ExecutionID, "request_id", request.ID, "error", err)
	}
}
