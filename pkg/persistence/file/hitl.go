package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/atlasworks/convoy/pkg/models"
	"github.com/atlasworks/convoy/pkg/persistence"
)

// HitlRepository stores approval requests as JSON documents.
type HitlRepository struct {
	dir string
}

// NewHitlRepository creates an approval request repository rooted at the given directory.
func NewHitlRepository(root string) *HitlRepository {
	return &HitlRepository{dir: filepath.Join(root, "hitl_requests")}
}

func (hr *HitlRepository) SaveRequest(_ context.Context, request *models.HitlRequest) error {
	err := writeDoc(hr.dir, request.ID, request)
	if err != nil {
		return persistence.NewStoreError("SaveRequest", "hitl_request", request.ID, err)
	}

	return nil
}

func (hr *HitlRepository) GetRequest(_ context.Context, requestID string) (*models.HitlRequest, error) {
	var request models.HitlRequest

	err := readDoc(hr.dir, requestID, &request)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewStoreError("GetRequest", "hitl_request", requestID, persistence.ErrHitlRequestNotFound)
		}

		return nil, persistence.NewStoreError("GetRequest", "hitl_request", requestID, err)
	}

	return &request, nil
}

func (hr *HitlRepository) ListPendingByProject(_ context.Context, projectID string) ([]*models.HitlRequest, error) {
	requests, err := hr.filter(func(r *models.HitlRequest) bool {
		return r.ProjectID == projectID && r.Status == models.HitlStatusPending
	})
	if err != nil {
		return nil, persistence.NewStoreError("ListPendingByProject", "hitl_request", projectID, err)
	}

	return requests, nil
}

func (hr *HitlRepository) ListExpiredPending(_ context.Context, now time.Time) ([]*models.HitlRequest, error) {
	requests, err := hr.filter(func(r *models.HitlRequest) bool {
		return r.Status == models.HitlStatusPending && !r.ExpiresAt.After(now)
	})
	if err != nil {
		return nil, persistence.NewStoreError("ListExpiredPending", "hitl_request", "", err)
	}

	return requests, nil
}

func (hr *HitlRepository) filter(keep func(*models.HitlRequest) bool) ([]*models.HitlRequest, error) {
	var requests []*models.HitlRequest

	err := readAllDocs(hr.dir, func(data []byte) error {
		var request models.HitlRequest

		err := json.Unmarshal(data, &request)
		if err != nil {
			return err
		}

		if keep(&request) {
			requests = append(requests, &request)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return requests, nil
}
