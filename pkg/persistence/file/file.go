// Package file provides file-based persistence for orchestration state, suited to development and tests.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/atlasworks/convoy/pkg/persistence"
)

// Persistence implements persistence.Persistence using JSON documents on the
// file system, one subdirectory per entity kind.
type Persistence struct {
	root          string
	executionRepo *ExecutionRepository
	workflowRepo  *WorkflowRepository
	hitlRepo      *HitlRepository
	conflictRepo  *ConflictRepository
	taskRepo      *TaskRepository
	artifactRepo  *ArtifactRepository
	projectRepo   *ProjectRepository
}

// NewPersistence creates a file persistence layer rooted at the given directory.
func NewPersistence(root string) persistence.Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:          cleanRoot,
		executionRepo: NewExecutionRepository(cleanRoot),
		workflowRepo:  NewWorkflowRepository(cleanRoot),
		hitlRepo:      NewHitlRepository(cleanRoot),
		conflictRepo:  NewConflictRepository(cleanRoot),
		taskRepo:      NewTaskRepository(cleanRoot),
		artifactRepo:  NewArtifactRepository(cleanRoot),
		projectRepo:   NewProjectRepository(cleanRoot),
	}
}

// Close performs any necessary cleanup. For file persistence there is nothing to release.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return fp.executionRepo
}

func (fp *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return fp.workflowRepo
}

func (fp *Persistence) HitlRepository() persistence.HitlRepository {
	return fp.hitlRepo
}

func (fp *Persistence) ConflictRepository() persistence.ConflictRepository {
	return fp.conflictRepo
}

func (fp *Persistence) TaskRepository() persistence.TaskRepository {
	return fp.taskRepo
}

func (fp *Persistence) ArtifactRepository() persistence.ArtifactRepository {
	return fp.artifactRepo
}

func (fp *Persistence) ProjectRepository() persistence.ProjectRepository {
	return fp.projectRepo
}

// validateID rejects IDs that could escape the storage directory.
func validateID(id string) error {
	if id == "" {
		return errors.New("id cannot be empty")
	}

	if strings.Contains(id, "..") || strings.Contains(id, "/") || strings.Contains(id, "\\") {
		return errors.New("id contains invalid characters")
	}

	return nil
}

// writeDoc marshals a document and writes it under dir/<id>.json, creating
// the directory as needed.
func writeDoc(dir, id string, doc any) error {
	if err := validateID(id); err != nil {
		return fmt.Errorf("invalid id: %w", err)
	}

	err := os.MkdirAll(dir, 0750)
	if err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document %s: %w", id, err)
	}

	err = os.WriteFile(filepath.Join(dir, id+".json"), data, 0600)
	if err != nil {
		return fmt.Errorf("failed to write document %s: %w", id, err)
	}

	return nil
}

// readDoc reads dir/<id>.json into out. Returns os.ErrNotExist when missing.
func readDoc(dir, id string, out any) error {
	if err := validateID(id); err != nil {
		return fmt.Errorf("invalid id: %w", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, id+".json")) // #nosec G304 -- path is validated and constructed safely
	if err != nil {
		return err
	}

	err = json.Unmarshal(data, out)
	if err != nil {
		return fmt.Errorf("failed to unmarshal document %s: %w", id, err)
	}

	return nil
}

// readAllDocs decodes every JSON document in dir into values produced by newDoc,
// passing each to accept. A missing directory yields no documents.
func readAllDocs(dir string, decode func(data []byte) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name())) // #nosec G304 -- directory listing, no user input
		if err != nil {
			return fmt.Errorf("failed to read document %s: %w", entry.Name(), err)
		}

		err = decode(data)
		if err != nil {
			return fmt.Errorf("failed to decode document %s: %w", entry.Name(), err)
		}
	}

	return nil
}

func deleteDoc(dir, id string) error {
	if err := validateID(id); err != nil {
		return fmt.Errorf("invalid id: %w", err)
	}

	err := os.Remove(filepath.Join(dir, id+".json"))
	if err != nil {
		return err
	}

	return nil
}
