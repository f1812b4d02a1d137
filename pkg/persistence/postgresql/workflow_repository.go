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

// WorkflowRepository handles workflow definition database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

func (wr *WorkflowRepository) SaveWorkflow(ctx context.Context, workflow *models.WorkflowDefinition) error {
	stepsJSON, err := json.Marshal(workflow.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow steps: %w", err)
	}

	query := `
		INSERT INTO workflows (id, name, description, steps, parallel, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			steps = EXCLUDED.steps,
			parallel = EXCLUDED.parallel,
			updated_at = EXCLUDED.updated_at
	`

	_, err = wr.db.ExecContext(ctx, query,
		workflow.ID, workflow.Name, workflow.Description, stepsJSON,
		workflow.Parallel, workflow.CreatedAt, workflow.UpdatedAt,
	)
	if err != nil {
		return persistence.NewStoreError("SaveWorkflow", "workflow", workflow.ID, err)
	}

	return nil
}

func (wr *WorkflowRepository) GetWorkflow(ctx context.Context, workflowID string) (*models.WorkflowDefinition, error) {
	query := `
		SELECT id, name, description, steps, parallel, created_at, updated_at
		FROM workflows
		WHERE id = $1
	`

	workflow, err := wr.scanWorkflow(wr.db.QueryRowContext(ctx, query, workflowID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("GetWorkflow", "workflow", workflowID, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewStoreError("GetWorkflow", "workflow", workflowID, err)
	}

	return workflow, nil
}

func (wr *WorkflowRepository) ListWorkflows(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	query := `
		SELECT id, name, description, steps, parallel, created_at, updated_at
		FROM workflows
		ORDER BY created_at
	`

	rows, err := wr.db.QueryContext(ctx, query)
	if err != nil {
		return nil, persistence.NewStoreError("ListWorkflows", "workflow", "", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			wr.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	var workflows []*models.WorkflowDefinition

	for rows.Next() {
		workflow, err := wr.scanWorkflow(rows)
		if err != nil {
			return nil, persistence.NewStoreError("ListWorkflows", "workflow", "", err)
		}

		workflows = append(workflows, workflow)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewStoreError("ListWorkflows", "workflow", "", err)
	}

	return workflows, nil
}

func (wr *WorkflowRepository) DeleteWorkflow(ctx context.Context, workflowID string) error {
	result, err := wr.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = $1`, workflowID)
	if err != nil {
		return persistence.NewStoreError("DeleteWorkflow", "workflow", workflowID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewStoreError("DeleteWorkflow", "workflow", workflowID, err)
	}

	if affected == 0 {
		return persistence.NewStoreError("DeleteWorkflow", "workflow", workflowID, persistence.ErrWorkflowNotFound)
	}

	return nil
}

func (wr *WorkflowRepository) scanWorkflow(row rowScanner) (*models.WorkflowDefinition, error) {
	var (
		workflow    models.WorkflowDefinition
		stepsJSON   []byte
		description sql.NullString
	)

	err := row.Scan(
		&workflow.ID, &workflow.Name, &description, &stepsJSON,
		&workflow.Parallel, &workflow.CreatedAt, &workflow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(stepsJSON, &workflow.Steps)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow steps: %w", err)
	}

	workflow.Description = description.String

	return &workflow, nil
}
