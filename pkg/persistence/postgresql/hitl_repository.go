package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/atlasworks/convoy/pkg/models"
	"github.com/atlasworks/convoy/pkg/persistence"
)

// HitlRepository handles approval request database operations.
type HitlRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewHitlRepository creates a new approval request repository.
func NewHitlRepository(db *sql.DB, logger *slog.Logger) *HitlRepository {
	return &HitlRepository{db: db, logger: logger}
}

func (hr *HitlRepository) SaveRequest(ctx context.Context, request *models.HitlRequest) error {
	optionsJSON, err := json.Marshal(request.Options)
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}

	amendmentsJSON, err := json.Marshal(request.Amendments)
	if err != nil {
		return fmt.Errorf("failed to marshal amendments: %w", err)
	}

	historyJSON, err := json.Marshal(request.History)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	query := `
		INSERT INTO hitl_requests (
			id, project_id, task_id, execution_id, trigger_kind, question, options,
			status, user_response, amendments, history, escalated_from,
			created_at, expires_at, responded_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			user_response = EXCLUDED.user_response,
			amendments = EXCLUDED.amendments,
			history = EXCLUDED.history,
			responded_at = EXCLUDED.responded_at
	`

	_, err = hr.db.ExecContext(ctx, query,
		request.ID, request.ProjectID, nullString(request.TaskID), request.ExecutionID,
		string(request.Trigger), request.Question, optionsJSON, string(request.Status),
		nullString(request.UserResponse), amendmentsJSON, historyJSON,
		nullString(request.EscalatedFrom), request.CreatedAt, request.ExpiresAt,
		request.RespondedAt,
	)
	if err != nil {
		return persistence.NewStoreError("SaveRequest", "hitl_request", request.ID, err)
	}

	return nil
}

func (hr *HitlRepository) GetRequest(ctx context.Context, requestID string) (*models.HitlRequest, error) {
	query := selectHitlColumns + ` WHERE id = $1`

	request, err := scanHitlRequest(hr.db.QueryRowContext(ctx, query, requestID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("GetRequest", "hitl_request", requestID, persistence.ErrHitlRequestNotFound)
		}

		return nil, persistence.NewStoreError("GetRequest", "hitl_request", requestID, err)
	}

	return request, nil
}

func (hr *HitlRepository) ListPendingByProject(ctx context.Context, projectID string) ([]*models.HitlRequest, error) {
	query := selectHitlColumns + ` WHERE project_id = $1 AND status = 'pending' ORDER BY created_at`

	return hr.queryRequests(ctx, "ListPendingByProject", query, projectID)
}

func (hr *HitlRepository) ListExpiredPending(ctx context.Context, now time.Time) ([]*models.HitlRequest, error) {
	query := selectHitlColumns + ` WHERE status = 'pending' AND expires_at <= $1 ORDER BY expires_at`

	return hr.queryRequests(ctx, "ListExpiredPending", query, now)
}

func (hr *HitlRepository) queryRequests(ctx context.Context, op, query string, args ...any) ([]*models.HitlRequest, error) {
	rows, err := hr.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistence.NewStoreError(op, "hitl_request", "", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			hr.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	var requests []*models.HitlRequest

	for rows.Next() {
		request, err := scanHitlRequest(rows)
		if err != nil {
			return nil, persistence.NewStoreError(op, "hitl_request", "", err)
		}

		requests = append(requests, request)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewStoreError(op, "hitl_request", "", err)
	}

	return requests, nil
}

const selectHitlColumns = `
	SELECT id, project_id, task_id, execution_id, trigger_kind, question, options,
		   status, user_response, amendments, history, escalated_from,
		   created_at, expires_at, responded_at
	FROM hitl_requests
`

func scanHitlRequest(row rowScanner) (*models.HitlRequest, error) {
	var (
		request        models.HitlRequest
		taskID         sql.NullString
		optionsJSON    []byte
		userResponse   sql.NullString
		amendmentsJSON []byte
		historyJSON    []byte
		escalatedFrom  sql.NullString
		respondedAt    sql.NullTime
	)

	err := row.Scan(
		&request.ID, &request.ProjectID, &taskID, &request.ExecutionID,
		&request.Trigger, &request.Question, &optionsJSON, &request.Status,
		&userResponse, &amendmentsJSON, &historyJSON, &escalatedFrom,
		&request.CreatedAt, &request.ExpiresAt, &respondedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(optionsJSON) > 0 {
		err = json.Unmarshal(optionsJSON, &request.Options)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal options: %w", err)
		}
	}

	if len(amendmentsJSON) > 0 {
		err = json.Unmarshal(amendmentsJSON, &request.Amendments)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal amendments: %w", err)
		}
	}

	if len(historyJSON) > 0 {
		err = json.Unmarshal(historyJSON, &request.History)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal history: %w", err)
		}
	}

	request.TaskID = taskID.String
	request.UserResponse = userResponse.String
	request.EscalatedFrom = escalatedFrom.String

	if respondedAt.Valid {
		request.RespondedAt = &respondedAt.Time
	}

	return &request, nil
}
