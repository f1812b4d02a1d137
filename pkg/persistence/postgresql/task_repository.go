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

// TaskRepository handles agent task database operations.
type TaskRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTaskRepository creates a new task repository.
func NewTaskRepository(db *sql.DB, logger *slog.Logger) *TaskRepository {
	return &TaskRepository{db: db, logger: logger}
}

func (tr *TaskRepository) SaveTask(ctx context.Context, task *models.Task) error {
	tagsJSON, err := json.Marshal(task.CompletionTags)
	if err != nil {
		return fmt.Errorf("failed to marshal completion tags: %w", err)
	}

	requiredJSON, err := json.Marshal(task.RequiredTypes)
	if err != nil {
		return fmt.Errorf("failed to marshal required artifact types: %w", err)
	}

	outputJSON, err := json.Marshal(task.Output)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}

	query := `
		INSERT INTO tasks (
			id, project_id, execution_id, agent_type, title, instructions, status,
			completion_tags, required_artifact_types, output, created_at, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			completion_tags = EXCLUDED.completion_tags,
			output = EXCLUDED.output,
			completed_at = EXCLUDED.completed_at
	`

	_, err = tr.db.ExecContext(ctx, query,
		task.ID, task.ProjectID, nullString(task.ExecutionID), task.AgentType,
		task.Title, nullString(task.Instructions), string(task.Status),
		tagsJSON, requiredJSON, outputJSON, task.CreatedAt, task.CompletedAt,
	)
	if err != nil {
		return persistence.NewStoreError("SaveTask", "task", task.ID, err)
	}

	return nil
}

func (tr *TaskRepository) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	query := selectTaskColumns + ` WHERE id = $1`

	task, err := scanTask(tr.db.QueryRowContext(ctx, query, taskID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("GetTask", "task", taskID, persistence.ErrTaskNotFound)
		}

		return nil, persistence.NewStoreError("GetTask", "task", taskID, err)
	}

	return task, nil
}

func (tr *TaskRepository) ListTasksByProject(ctx context.Context, projectID string) ([]*models.Task, error) {
	query := selectTaskColumns + ` WHERE project_id = $1 ORDER BY created_at`

	rows, err := tr.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, persistence.NewStoreError("ListTasksByProject", "task", projectID, err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			tr.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	var tasks []*models.Task

	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, persistence.NewStoreError("ListTasksByProject", "task", projectID, err)
		}

		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewStoreError("ListTasksByProject", "task", projectID, err)
	}

	return tasks, nil
}

const selectTaskColumns = `
	SELECT id, project_id, execution_id, agent_type, title, instructions, status,
		   completion_tags, required_artifact_types, output, created_at, completed_at
	FROM tasks
`

func scanTask(row rowScanner) (*models.Task, error) {
	var (
		task         models.Task
		executionID  sql.NullString
		title        sql.NullString
		instructions sql.NullString
		tagsJSON     []byte
		requiredJSON []byte
		outputJSON   []byte
		completedAt  sql.NullTime
	)

	err := row.Scan(
		&task.ID, &task.ProjectID, &executionID, &task.AgentType, &title,
		&instructions, &task.Status, &tagsJSON, &requiredJSON, &outputJSON,
		&task.CreatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(tagsJSON) > 0 {
		err = json.Unmarshal(tagsJSON, &task.CompletionTags)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal completion tags: %w", err)
		}
	}

	if len(requiredJSON) > 0 {
		err = json.Unmarshal(requiredJSON, &task.RequiredTypes)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal required artifact types: %w", err)
		}
	}

	if len(outputJSON) > 0 {
		err = json.Unmarshal(outputJSON, &task.Output)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal output: %w", err)
		}
	}

	task.ExecutionID = executionID.String
	task.Title = title.String
	task.Instructions = instructions.String

	if completedAt.Valid {
		task.CompletedAt = &completedAt.Time
	}

	return &task, nil
}
