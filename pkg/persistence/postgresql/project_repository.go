package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/atlasworks/convoy/pkg/models"
	"github.com/atlasworks/convoy/pkg/persistence"
)

// ProjectRepository handles project database operations.
type ProjectRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewProjectRepository creates a new project repository.
func NewProjectRepository(db *sql.DB, logger *slog.Logger) *ProjectRepository {
	return &ProjectRepository{db: db, logger: logger}
}

func (pr *ProjectRepository) SaveProject(ctx context.Context, project *models.Project) error {
	query := `
		INSERT INTO projects (id, name, description, current_phase, oversight_level, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			current_phase = EXCLUDED.current_phase,
			oversight_level = EXCLUDED.oversight_level,
			updated_at = EXCLUDED.updated_at
	`

	_, err := pr.db.ExecContext(ctx, query,
		project.ID, project.Name, nullString(project.Description),
		project.CurrentPhase, string(project.OversightLevel),
		project.CreatedAt, project.UpdatedAt,
	)
	if err != nil {
		return persistence.NewStoreError("SaveProject", "project", project.ID, err)
	}

	return nil
}

func (pr *ProjectRepository) GetProject(ctx context.Context, projectID string) (*models.Project, error) {
	query := `
		SELECT id, name, description, current_phase, oversight_level, created_at, updated_at
		FROM projects
		WHERE id = $1
	`

	var (
		project     models.Project
		description sql.NullString
	)

	err := pr.db.QueryRowContext(ctx, query, projectID).Scan(
		&project.ID, &project.Name, &description, &project.CurrentPhase,
		&project.OversightLevel, &project.CreatedAt, &project.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("GetProject", "project", projectID, persistence.ErrProjectNotFound)
		}

		return nil, persistence.NewStoreError("GetProject", "project", projectID, err)
	}

	project.Description = description.String

	return &project, nil
}
