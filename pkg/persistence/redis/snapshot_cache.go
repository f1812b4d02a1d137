// Package redis provides a Redis-backed snapshot cache layered over a durable execution store.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/atlasworks/convoy/pkg/models"
	"github.com/atlasworks/convoy/pkg/persistence"
)

const keyPrefix = "convoy:execution:"

// SnapshotCache decorates an ExecutionRepository with a Redis read cache.
// The inner repository stays authoritative: every write goes through its
// optimistic version check first, and the cache is only updated after the
// durable write succeeds. Cache failures degrade to the inner store.
type SnapshotCache struct {
	client redis.UniversalClient
	inner  persistence.ExecutionRepository
	ttl    time.Duration
	logger *slog.Logger
}

// NewSnapshotCache creates a snapshot cache in front of the given repository.
func NewSnapshotCache(client redis.UniversalClient, inner persistence.ExecutionRepository, ttl time.Duration, logger *slog.Logger) *SnapshotCache {
	return &SnapshotCache{
		client: client,
		inner:  inner,
		ttl:    ttl,
		logger: logger,
	}
}

// SaveExecution writes through to the durable store, then refreshes the cache.
func (sc *SnapshotCache) SaveExecution(ctx context.Context, snapshot *models.ExecutionState) error {
	err := sc.inner.SaveExecution(ctx, snapshot)
	if err != nil {
		return err
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		sc.logger.WarnContext(ctx, "failed to marshal snapshot for cache", "execution_id", snapshot.ID, "error", err)

		return nil
	}

	err = sc.client.Set(ctx, keyPrefix+snapshot.ID, data, sc.ttl).Err()
	if err != nil {
		sc.logger.WarnContext(ctx, "failed to cache execution snapshot", "execution_id", snapshot.ID, "error", err)
	}

	return nil
}

// GetExecution serves from the cache when possible, falling back to the
// durable store and backfilling on a miss.
func (sc *SnapshotCache) GetExecution(ctx context.Context, executionID string) (*models.ExecutionState, error) {
	data, err := sc.client.Get(ctx, keyPrefix+executionID).Bytes()
	if err == nil {
		var state models.ExecutionState

		err = json.Unmarshal(data, &state)
		if err == nil {
			return &state, nil
		}

		sc.logger.WarnContext(ctx, "failed to decode cached snapshot", "execution_id", executionID, "error", err)
	} else if !errors.Is(err, redis.Nil) {
		sc.logger.WarnContext(ctx, "snapshot cache read failed", "execution_id", executionID, "error", err)
	}

	state, err := sc.inner.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}

	backfill, err := json.Marshal(state)
	if err == nil {
		if setErr := sc.client.Set(ctx, keyPrefix+executionID, backfill, sc.ttl).Err(); setErr != nil {
			sc.logger.WarnContext(ctx, "failed to backfill snapshot cache", "execution_id", executionID, "error", setErr)
		}
	}

	return state, nil
}

// ListExecutionsByProject always queries the durable store.
func (sc *SnapshotCache) ListExecutionsByProject(ctx context.Context, projectID string) ([]*models.ExecutionState, error) {
	return sc.inner.ListExecutionsByProject(ctx, projectID)
}

// DeleteExecution removes the record and invalidates the cache entry.
func (sc *SnapshotCache) DeleteExecution(ctx context.Context, executionID string) error {
	err := sc.inner.DeleteExecution(ctx, executionID)
	if err != nil {
		return err
	}

	if delErr := sc.client.Del(ctx, keyPrefix+executionID).Err(); delErr != nil {
		sc.logger.WarnContext(ctx, "failed to invalidate snapshot cache", "execution_id", executionID, "error", delErr)
	}

	return nil
}
