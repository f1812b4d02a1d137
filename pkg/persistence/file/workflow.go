package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/atlasworks/convoy/pkg/models"
	"github.com/atlasworks/convoy/pkg/persistence"
)

// WorkflowRepository stores workflow definitions as JSON documents.
type WorkflowRepository struct {
	dir string
}

// NewWorkflowRepository creates a workflow repository rooted at the given directory.
func NewWorkflowRepository(root string) *WorkflowRepository {
	return &WorkflowRepository{dir: filepath.Join(root, "workflows")}
}

func (wr *WorkflowRepository) SaveWorkflow(_ context.Context, workflow *models.WorkflowDefinition) error {
	err := writeDoc(wr.dir, workflow.ID, workflow)
	if err != nil {
		return persistence.NewStoreError("SaveWorkflow", "workflow", workflow.ID, err)
	}

	return nil
}

func (wr *WorkflowRepository) GetWorkflow(_ context.Context, workflowID string) (*models.WorkflowDefinition, error) {
	var workflow models.WorkflowDefinition

	err := readDoc(wr.dir, workflowID, &workflow)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewStoreError("GetWorkflow", "workflow", workflowID, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewStoreError("GetWorkflow", "workflow", workflowID, err)
	}

	return &workflow, nil
}

func (wr *WorkflowRepository) ListWorkflows(_ context.Context) ([]*models.WorkflowDefinition, error) {
	var workflows []*models.WorkflowDefinition

	err := readAllDocs(wr.dir, func(data []byte) error {
		var workflow models.WorkflowDefinition

		err := json.Unmarshal(data, &workflow)
		if err != nil {
			return err
		}

		workflows = append(workflows, &workflow)

		return nil
	})
	if err != nil {
		return nil, persistence.NewStoreError("ListWorkflows", "workflow", "", err)
	}

	return workflows, nil
}

func (wr *WorkflowRepository) DeleteWorkflow(_ context.Context, workflowID string) error {
	err := deleteDoc(wr.dir, workflowID)
	if err != nil {
		if os.IsNotExist(err) {
			return persistence.NewStoreError("DeleteWorkflow", "workflow", workflowID, persistence.ErrWorkflowNotFound)
		}

		return persistence.NewStoreError("DeleteWorkflow", "workflow", workflowID, err)
	}

	return nil
}
