package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/atlasworks/convoy/pkg/models"
	"github.com/atlasworks/convoy/pkg/persistence"
)

// ExecutionRepository handles execution snapshot database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

// SaveExecution persists a snapshot with an optimistic version check. Version
// 1 inserts a new row; later versions update only when the stored version is
// exactly one behind.
func (er *ExecutionRepository) SaveExecution(ctx context.Context, snapshot *models.ExecutionState) error {
	stepsJSON, err := json.Marshal(snapshot.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	contextJSON, err := json.Marshal(snapshot.ContextData)
	if err != nil {
		return fmt.Errorf("failed to marshal context data: %w", err)
	}

	artifactIDsJSON, err := json.Marshal(snapshot.CreatedArtifactIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal artifact IDs: %w", err)
	}

	if snapshot.Version == 1 {
		query := `
			INSERT INTO executions (
				id, workflow_id, project_id, status, current_step_index, total_steps,
				steps, context_data, created_artifact_ids, error_message, failed_at_step,
				paused_reason, cancelled_reason, recovery_attempts, version,
				created_at, started_at, completed_at, updated_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
			ON CONFLICT (id) DO NOTHING
		`

		result, err := er.db.ExecContext(ctx, query,
			snapshot.ID, snapshot.WorkflowID, snapshot.ProjectID, snapshot.Status,
			snapshot.CurrentStepIndex, snapshot.TotalSteps, stepsJSON, contextJSON,
			artifactIDsJSON, nullString(snapshot.ErrorMessage), snapshot.FailedAtStep,
			nullString(snapshot.PausedReason), nullString(snapshot.CancelledReason),
			snapshot.RecoveryAttempts, snapshot.Version,
			snapshot.CreatedAt, snapshot.StartedAt, snapshot.CompletedAt, snapshot.UpdatedAt,
		)
		if err != nil {
			return persistence.NewStoreError("SaveExecution", "execution", snapshot.ID, err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return persistence.NewStoreError("SaveExecution", "execution", snapshot.ID, err)
		}

		if affected == 0 {
			return persistence.NewStoreError("SaveExecution", "execution", snapshot.ID, persistence.ErrExecutionAlreadyExists)
		}

		return nil
	}

	query := `
		UPDATE executions SET
			status = $2, current_step_index = $3, steps = $4, context_data = $5,
			created_artifact_ids = $6, error_message = $7, failed_at_step = $8,
			paused_reason = $9, cancelled_reason = $10, recovery_attempts = $11,
			version = $12, started_at = $13, completed_at = $14, updated_at = $15
		WHERE id = $1 AND version = $16
	`

	result, err := er.db.ExecContext(ctx, query,
		snapshot.ID, snapshot.Status, snapshot.CurrentStepIndex, stepsJSON, contextJSON,
		artifactIDsJSON, nullString(snapshot.ErrorMessage), snapshot.FailedAtStep,
		nullString(snapshot.PausedReason), nullString(snapshot.CancelledReason),
		snapshot.RecoveryAttempts, snapshot.Version,
		snapshot.StartedAt, snapshot.CompletedAt, snapshot.UpdatedAt,
		snapshot.Version-1,
	)
	if err != nil {
		return persistence.NewStoreError("SaveExecution", "execution", snapshot.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewStoreError("SaveExecution", "execution", snapshot.ID, err)
	}

	if affected == 0 {
		return persistence.NewStoreError("SaveExecution", "execution", snapshot.ID, persistence.ErrVersionConflict)
	}

	return nil
}

// GetExecution retrieves a snapshot by execution ID.
func (er *ExecutionRepository) GetExecution(ctx context.Context, executionID string) (*models.ExecutionState, error) {
	query := selectExecutionColumns + ` WHERE id = $1`

	row := er.db.QueryRowContext(ctx, query, executionID)

	state, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("GetExecution", "execution", executionID, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewStoreError("GetExecution", "execution", executionID, err)
	}

	return state, nil
}

// ListExecutionsByProject returns all snapshots belonging to a project.
func (er *ExecutionRepository) ListExecutionsByProject(ctx context.Context, projectID string) ([]*models.ExecutionState, error) {
	query := selectExecutionColumns + ` WHERE project_id = $1 ORDER BY created_at`

	rows, err := er.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, persistence.NewStoreError("ListExecutionsByProject", "execution", projectID, err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			er.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	var executions []*models.ExecutionState

	for rows.Next() {
		state, err := scanExecution(rows)
		if err != nil {
			return nil, persistence.NewStoreError("ListExecutionsByProject", "execution", projectID, err)
		}

		executions = append(executions, state)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewStoreError("ListExecutionsByProject", "execution", projectID, err)
	}

	return executions, nil
}

// DeleteExecution removes a snapshot.
func (er *ExecutionRepository) DeleteExecution(ctx context.Context, executionID string) error {
	result, err := er.db.ExecContext(ctx, `DELETE FROM executions WHERE id = $1`, executionID)
	if err != nil {
		return persistence.NewStoreError("DeleteExecution", "execution", executionID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewStoreError("DeleteExecution", "execution", executionID, err)
	}

	if affected == 0 {
		return persistence.NewStoreError("DeleteExecution", "execution", executionID, persistence.ErrExecutionNotFound)
	}

	return nil
}

const selectExecutionColumns = `
	SELECT id, workflow_id, project_id, status, current_step_index, total_steps,
		   steps, context_data, created_artifact_ids, error_message, failed_at_step,
		   paused_reason, cancelled_reason, recovery_attempts, version,
		   created_at, started_at, completed_at, updated_at
	FROM executions
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*models.ExecutionState, error) {
	var (
		state           models.ExecutionState
		stepsJSON       []byte
		contextJSON     []byte
		artifactIDsJSON []byte
		errorMessage    sql.NullString
		pausedReason    sql.NullString
		cancelledReason sql.NullString
		failedAtStep    sql.NullInt64
		startedAt       sql.NullTime
		completedAt     sql.NullTime
	)

	err := row.Scan(
		&state.ID, &state.WorkflowID, &state.ProjectID, &state.Status,
		&state.CurrentStepIndex, &state.TotalSteps, &stepsJSON, &contextJSON,
		&artifactIDsJSON, &errorMessage, &failedAtStep, &pausedReason,
		&cancelledReason, &state.RecoveryAttempts, &state.Version,
		&state.CreatedAt, &startedAt, &completedAt, &state.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(stepsJSON, &state.Steps)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
	}

	if len(contextJSON) > 0 {
		err = json.Unmarshal(contextJSON, &state.ContextData)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal context data: %w", err)
		}
	}

	if len(artifactIDsJSON) > 0 {
		err = json.Unmarshal(artifactIDsJSON, &state.CreatedArtifactIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal artifact IDs: %w", err)
		}
	}

	state.ErrorMessage = errorMessage.String
	state.PausedReason = pausedReason.String
	state.CancelledReason = cancelledReason.String

	if failedAtStep.Valid {
		idx := int(failedAtStep.Int64)
		state.FailedAtStep = &idx
	}

	if startedAt.Valid {
		state.StartedAt = &startedAt.Time
	}

	if completedAt.Valid {
		state.CompletedAt = &completedAt.Time
	}

	return &state, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
