package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/atlasworks/convoy/pkg/models"
	"github.com/atlasworks/convoy/pkg/persistence"
)

// TaskRepository stores agent tasks as JSON documents.
type TaskRepository struct {
	dir string
}

// NewTaskRepository creates a task repository rooted at the given directory.
func NewTaskRepository(root string) *TaskRepository {
	return &TaskRepository{dir: filepath.Join(root, "tasks")}
}

func (tr *TaskRepository) SaveTask(_ context.Context, task *models.Task) error {
	err := writeDoc(tr.dir, task.ID, task)
	if err != nil {
		return persistence.NewStoreError("SaveTask", "task", task.ID, err)
	}

	return nil
}

func (tr *TaskRepository) GetTask(_ context.Context, taskID string) (*models.Task, error) {
	var task models.Task

	err := readDoc(tr.dir, taskID, &task)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewStoreError("GetTask", "task", taskID, persistence.ErrTaskNotFound)
		}

		return nil, persistence.NewStoreError("GetTask", "task", taskID, err)
	}

	return &task, nil
}

func (tr *TaskRepository) ListTasksByProject(_ context.Context, projectID string) ([]*models.Task, error) {
	var tasks []*models.Task

	err := readAllDocs(tr.dir, func(data []byte) error {
		var task models.Task

		err := json.Unmarshal(data, &task)
		if err != nil {
			return err
		}

		if task.ProjectID == projectID {
			tasks = append(tasks, &task)
		}

		return nil
	})
	if err != nil {
		return nil, persistence.NewStoreError("ListTasksByProject", "task", projectID, err)
	}

	return tasks, nil
}
