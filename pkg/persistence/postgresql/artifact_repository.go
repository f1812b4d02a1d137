package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/lib/pq"

	"github.com/atlasworks/convoy/pkg/models"
	"github.com/atlasworks/convoy/pkg/persistence"
)

// ArtifactRepository handles artifact database operations.
type ArtifactRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewArtifactRepository creates a new artifact repository.
func NewArtifactRepository(db *sql.DB, logger *slog.Logger) *ArtifactRepository {
	return &ArtifactRepository{db: db, logger: logger}
}

func (ar *ArtifactRepository) SaveArtifact(ctx context.Context, artifact *models.Artifact) error {
	query := `
		INSERT INTO artifacts (id, project_id, source_agent, artifact_type, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content
	`

	_, err := ar.db.ExecContext(ctx, query,
		artifact.ID, artifact.ProjectID, artifact.SourceAgent,
		artifact.Type, artifact.Content, artifact.CreatedAt,
	)
	if err != nil {
		return persistence.NewStoreError("SaveArtifact", "artifact", artifact.ID, err)
	}

	return nil
}

func (ar *ArtifactRepository) GetArtifact(ctx context.Context, artifactID string) (*models.Artifact, error) {
	query := selectArtifactColumns + ` WHERE id = $1`

	artifact, err := scanArtifact(ar.db.QueryRowContext(ctx, query, artifactID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("GetArtifact", "artifact", artifactID, persistence.ErrArtifactNotFound)
		}

		return nil, persistence.NewStoreError("GetArtifact", "artifact", artifactID, err)
	}

	return artifact, nil
}

func (ar *ArtifactRepository) GetArtifactsByIDs(ctx context.Context, artifactIDs []string) ([]*models.Artifact, error) {
	query := selectArtifactColumns + ` WHERE id = ANY($1) ORDER BY created_at`

	return ar.queryArtifacts(ctx, "GetArtifactsByIDs", query, pq.Array(artifactIDs))
}

func (ar *ArtifactRepository) ListArtifactsByProject(ctx context.Context, projectID, artifactType string) ([]*models.Artifact, error) {
	if artifactType != "" {
		query := selectArtifactColumns + ` WHERE project_id = $1 AND artifact_type = $2 ORDER BY created_at`

		return ar.queryArtifacts(ctx, "ListArtifactsByProject", query, projectID, artifactType)
	}

	query := selectArtifactColumns + ` WHERE project_id = $1 ORDER BY created_at`

	return ar.queryArtifacts(ctx, "ListArtifactsByProject", query, projectID)
}

func (ar *ArtifactRepository) queryArtifacts(ctx context.Context, op, query string, args ...any) ([]*models.Artifact, error) {
	rows, err := ar.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistence.NewStoreError(op, "artifact", "", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			ar.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	var artifacts []*models.Artifact

	for rows.Next() {
		artifact, err := scanArtifact(rows)
		if err != nil {
			return nil, persistence.NewStoreError(op, "artifact", "", err)
		}

		artifacts = append(artifacts, artifact)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewStoreError(op, "artifact", "", err)
	}

	return artifacts, nil
}

const selectArtifactColumns = `
	SELECT id, project_id, source_agent, artifact_type, content, created_at
	FROM artifacts
`

func scanArtifact(row rowScanner) (*models.Artifact, error) {
	var artifact models.Artifact

	err := row.Scan(
		&artifact.ID, &artifact.ProjectID, &artifact.SourceAgent,
		&artifact.Type, &artifact.Content, &artifact.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &artifact, nil
}
