package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/atlasworks/convoy/pkg/models"
	"github.com/atlasworks/convoy/pkg/persistence"
)

// ExecutionRepository stores execution snapshots as JSON documents. Writes go
// through a process-wide mutex so the optimistic version check is atomic with
// respect to concurrent savers in the same process.
type ExecutionRepository struct {
	dir string
	mu  sync.Mutex
}

// NewExecutionRepository creates an execution repository rooted at the given directory.
func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{dir: filepath.Join(root, "executions")}
}

// SaveExecution persists a snapshot after verifying its version succeeds the
// stored one. New records must carry version 1.
func (er *ExecutionRepository) SaveExecution(_ context.Context, snapshot *models.ExecutionState) error {
	er.mu.Lock()
	defer er.mu.Unlock()

	var stored models.ExecutionState

	err := readDoc(er.dir, snapshot.ID, &stored)

	switch {
	case os.IsNotExist(err):
		if snapshot.Version != 1 {
			return persistence.NewStoreError("SaveExecution", "execution", snapshot.ID, persistence.ErrVersionConflict)
		}
	case err != nil:
		return persistence.NewStoreError("SaveExecution", "execution", snapshot.ID, err)
	default:
		if snapshot.Version == 1 {
			return persistence.NewStoreError("SaveExecution", "execution", snapshot.ID, persistence.ErrExecutionAlreadyExists)
		}

		if snapshot.Version != stored.Version+1 {
			return persistence.NewStoreError("SaveExecution", "execution", snapshot.ID, persistence.ErrVersionConflict)
		}
	}

	err = writeDoc(er.dir, snapshot.ID, snapshot)
	if err != nil {
		return persistence.NewStoreError("SaveExecution", "execution", snapshot.ID, err)
	}

	return nil
}

// GetExecution retrieves a snapshot by execution ID.
func (er *ExecutionRepository) GetExecution(_ context.Context, executionID string) (*models.ExecutionState, error) {
	var state models.ExecutionState

	err := readDoc(er.dir, executionID, &state)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewStoreError("GetExecution", "execution", executionID, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewStoreError("GetExecution", "execution", executionID, err)
	}

	return &state, nil
}

// ListExecutionsByProject returns all snapshots belonging to a project.
func (er *ExecutionRepository) ListExecutionsByProject(_ context.Context, projectID string) ([]*models.ExecutionState, error) {
	var executions []*models.ExecutionState

	err := readAllDocs(er.dir, func(data []byte) error {
		var state models.ExecutionState

		err := json.Unmarshal(data, &state)
		if err != nil {
			return err
		}

		if state.ProjectID == projectID {
			executions = append(executions, &state)
		}

		return nil
	})
	if err != nil {
		return nil, persistence.NewStoreError("ListExecutionsByProject", "execution", projectID, err)
	}

	return executions, nil
}

// DeleteExecution removes a snapshot.
func (er *ExecutionRepository) DeleteExecution(_ context.Context, executionID string) error {
	er.mu.Lock()
	defer er.mu.Unlock()

	err := deleteDoc(er.dir, executionID)
	if err != nil {
		if os.IsNotExist(err) {
			return persistence.NewStoreError("DeleteExecution", "execution", executionID, persistence.ErrExecutionNotFound)
		}

		return persistence.NewStoreError("DeleteExecution", "execution", executionID, err)
	}

	return nil
}
