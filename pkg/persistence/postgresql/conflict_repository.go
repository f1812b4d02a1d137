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

// ConflictRepository handles conflict record database operations.
type ConflictRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewConflictRepository creates a new conflict repository.
func NewConflictRepository(db *sql.DB, logger *slog.Logger) *ConflictRepository {
	return &ConflictRepository{db: db, logger: logger}
}

func (cr *ConflictRepository) SaveConflict(ctx context.Context, conflict *models.Conflict) error {
	participantsJSON, err := json.Marshal(conflict.Participants)
	if err != nil {
		return fmt.Errorf("failed to marshal participants: %w", err)
	}

	evidenceJSON, err := json.Marshal(conflict.Evidence)
	if err != nil {
		return fmt.Errorf("failed to marshal evidence: %w", err)
	}

	attemptsJSON, err := json.Marshal(conflict.ResolutionAttempts)
	if err != nil {
		return fmt.Errorf("failed to marshal resolution attempts: %w", err)
	}

	var resolutionJSON []byte
	if conflict.FinalResolution != nil {
		resolutionJSON, err = json.Marshal(conflict.FinalResolution)
		if err != nil {
			return fmt.Errorf("failed to marshal final resolution: %w", err)
		}
	}

	query := `
		INSERT INTO conflicts (
			id, project_id, workflow_id, task_id, conflict_type, severity, status,
			description, participants, evidence, resolution_attempts, final_resolution,
			detection_confidence, detected_at, review_started_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			resolution_attempts = EXCLUDED.resolution_attempts,
			final_resolution = EXCLUDED.final_resolution,
			review_started_at = EXCLUDED.review_started_at,
			updated_at = EXCLUDED.updated_at
	`

	_, err = cr.db.ExecContext(ctx, query,
		conflict.ID, conflict.ProjectID, nullString(conflict.WorkflowID),
		nullString(conflict.TaskID), string(conflict.Type), string(conflict.Severity),
		string(conflict.Status), conflict.Description, participantsJSON, evidenceJSON,
		attemptsJSON, resolutionJSON, conflict.DetectionConfidence,
		conflict.DetectedAt, conflict.ReviewStartedAt, conflict.UpdatedAt,
	)
	if err != nil {
		return persistence.NewStoreError("SaveConflict", "conflict", conflict.ID, err)
	}

	return nil
}

func (cr *ConflictRepository) GetConflict(ctx context.Context, conflictID string) (*models.Conflict, error) {
	query := selectConflictColumns + ` WHERE id = $1`

	conflict, err := scanConflict(cr.db.QueryRowContext(ctx, query, conflictID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("GetConflict", "conflict", conflictID, persistence.ErrConflictNotFound)
		}

		return nil, persistence.NewStoreError("GetConflict", "conflict", conflictID, err)
	}

	return conflict, nil
}

func (cr *ConflictRepository) ListConflictsByProject(ctx context.Context, projectID string) ([]*models.Conflict, error) {
	query := selectConflictColumns + ` WHERE project_id = $1 ORDER BY detected_at`

	rows, err := cr.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, persistence.NewStoreError("ListConflictsByProject", "conflict", projectID, err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			cr.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	var conflicts []*models.Conflict

	for rows.Next() {
		conflict, err := scanConflict(rows)
		if err != nil {
			return nil, persistence.NewStoreError("ListConflictsByProject", "conflict", projectID, err)
		}

		conflicts = append(conflicts, conflict)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewStoreError("ListConflictsByProject", "conflict", projectID, err)
	}

	return conflicts, nil
}

const selectConflictColumns = `
	SELECT id, project_id, workflow_id, task_id, conflict_type, severity, status,
		   description, participants, evidence, resolution_attempts, final_resolution,
		   detection_confidence, detected_at, review_started_at, updated_at
	FROM conflicts
`

func scanConflict(row rowScanner) (*models.Conflict, error) {
	var (
		conflict         models.Conflict
		workflowID       sql.NullString
		taskID           sql.NullString
		description      sql.NullString
		participantsJSON []byte
		evidenceJSON     []byte
		attemptsJSON     []byte
		resolutionJSON   []byte
		reviewStartedAt  sql.NullTime
	)

	err := row.Scan(
		&conflict.ID, &conflict.ProjectID, &workflowID, &taskID, &conflict.Type,
		&conflict.Severity, &conflict.Status, &description, &participantsJSON,
		&evidenceJSON, &attemptsJSON, &resolutionJSON, &conflict.DetectionConfidence,
		&conflict.DetectedAt, &reviewStartedAt, &conflict.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if reviewStartedAt.Valid {
		conflict.ReviewStartedAt = &reviewStartedAt.Time
	}

	err = json.Unmarshal(participantsJSON, &conflict.Participants)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal participants: %w", err)
	}

	if len(evidenceJSON) > 0 {
		err = json.Unmarshal(evidenceJSON, &conflict.Evidence)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal evidence: %w", err)
		}
	}

	if len(attemptsJSON) > 0 {
		err = json.Unmarshal(attemptsJSON, &conflict.ResolutionAttempts)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal resolution attempts: %w", err)
		}
	}

	if len(resolutionJSON) > 0 {
		var resolution models.Resolution

		err = json.Unmarshal(resolutionJSON, &resolution)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal final resolution: %w", err)
		}

		conflict.FinalResolution = &resolution
	}

	conflict.WorkflowID = workflowID.String
	conflict.TaskID = taskID.String
	conflict.Description = description.String

	return &conflict, nil
}
