package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/atlasworks/convoy/pkg/models"
	"github.com/atlasworks/convoy/pkg/persistence"
)

// ConflictRepository stores conflict records as JSON documents.
type ConflictRepository struct {
	dir string
}

// NewConflictRepository creates a conflict repository rooted at the given directory.
func NewConflictRepository(root string) *ConflictRepository {
	return &ConflictRepository{dir: filepath.Join(root, "conflicts")}
}

func (cr *ConflictRepository) SaveConflict(_ context.Context, conflict *models.Conflict) error {
	err := writeDoc(cr.dir, conflict.ID, conflict)
	if err != nil {
		return persistence.NewStoreError("SaveConflict", "conflict", conflict.ID, err)
	}

	return nil
}

func (cr *ConflictRepository) GetConflict(_ context.Context, conflictID string) (*models.Conflict, error) {
	var conflict models.Conflict

	err := readDoc(cr.dir, conflictID, &conflict)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewStoreError("GetConflict", "conflict", conflictID, persistence.ErrConflictNotFound)
		}

		return nil, persistence.NewStoreError("GetConflict", "conflict", conflictID, err)
	}

	return &conflict, nil
}

func (cr *ConflictRepository) ListConflictsByProject(_ context.Context, projectID string) ([]*models.Conflict, error) {
	var conflicts []*models.Conflict

	err := readAllDocs(cr.dir, func(data []byte) error {
		var conflict models.Conflict

		err := json.Unmarshal(data, &conflict)
		if err != nil {
			return err
		}

		if conflict.ProjectID == projectID {
			conflicts = append(conflicts, &conflict)
		}

		return nil
	})
	if err != nil {
		return nil, persistence.NewStoreError("ListConflictsByProject", "conflict", projectID, err)
	}

	return conflicts, nil
}
