package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/atlasworks/convoy/pkg/models"
	"github.com/atlasworks/convoy/pkg/persistence"
)

// ArtifactRepository stores artifacts as JSON documents.
type ArtifactRepository struct {
	dir string
}

// NewArtifactRepository creates an artifact repository rooted at the given directory.
func NewArtifactRepository(root string) *ArtifactRepository {
	return &ArtifactRepository{dir: filepath.Join(root, "artifacts")}
}

func (ar *ArtifactRepository) SaveArtifact(_ context.Context, artifact *models.Artifact) error {
	err := writeDoc(ar.dir, artifact.ID, artifact)
	if err != nil {
		return persistence.NewStoreError("SaveArtifact", "artifact", artifact.ID, err)
	}

	return nil
}

func (ar *ArtifactRepository) GetArtifact(_ context.Context, artifactID string) (*models.Artifact, error) {
	var artifact models.Artifact

	err := readDoc(ar.dir, artifactID, &artifact)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewStoreError("GetArtifact", "artifact", artifactID, persistence.ErrArtifactNotFound)
		}

		return nil, persistence.NewStoreError("GetArtifact", "artifact", artifactID, err)
	}

	return &artifact, nil
}

func (ar *ArtifactRepository) GetArtifactsByIDs(ctx context.Context, artifactIDs []string) ([]*models.Artifact, error) {
	artifacts := make([]*models.Artifact, 0, len(artifactIDs))

	for _, id := range artifactIDs {
		artifact, err := ar.GetArtifact(ctx, id)
		if err != nil {
			return nil, err
		}

		artifacts = append(artifacts, artifact)
	}

	return artifacts, nil
}

// ListArtifactsByProject returns project artifacts ordered oldest first,
// optionally filtered by type.
func (ar *ArtifactRepository) ListArtifactsByProject(_ context.Context, projectID, artifactType string) ([]*models.Artifact, error) {
	var artifacts []*models.Artifact

	err := readAllDocs(ar.dir, func(data []byte) error {
		var artifact models.Artifact

		err := json.Unmarshal(data, &artifact)
		if err != nil {
			return err
		}

		if artifact.ProjectID != projectID {
			return nil
		}

		if artifactType != "" && artifact.Type != artifactType {
			return nil
		}

		artifacts = append(artifacts, &artifact)

		return nil
	})
	if err != nil {
		return nil, persistence.NewStoreError("ListArtifactsByProject", "artifact", projectID, err)
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].CreatedAt.Before(artifacts[j].CreatedAt)
	})

	return artifacts, nil
}
