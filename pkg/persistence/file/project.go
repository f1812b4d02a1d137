package file

import (
	"context"
	"os"
	"path/filepath"

	"github.com/atlasworks/convoy/pkg/models"
	"github.com/atlasworks/convoy/pkg/persistence"
)

// ProjectRepository stores project records as JSON documents.
type ProjectRepository struct {
	dir string
}

// NewProjectRepository creates a project repository rooted at the given directory.
func NewProjectRepository(root string) *ProjectRepository {
	return &ProjectRepository{dir: filepath.Join(root, "projects")}
}

func (pr *ProjectRepository) SaveProject(_ context.Context, project *models.Project) error {
	err := writeDoc(pr.dir, project.ID, project)
	if err != nil {
		return persistence.NewStoreError("SaveProject", "project", project.ID, err)
	}

	return nil
}

func (pr *ProjectRepository) GetProject(_ context.Context, projectID string) (*models.Project, error) {
	var project models.Project

	err := readDoc(pr.dir, projectID, &project)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewStoreError("GetProject", "project", projectID, persistence.ErrProjectNotFound)
		}

		return nil, persistence.NewStoreError("GetProject", "project", projectID, err)
	}

	return &project, nil
}
