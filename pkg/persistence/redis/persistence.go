package redis

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atlasworks/convoy/pkg/persistence"
)

// CachedPersistence decorates a persistence backend with the Redis snapshot
// cache on its execution repository. Every other repository passes through.
type CachedPersistence struct {
	persistence.Persistence

	client redis.UniversalClient
	cache  *SnapshotCache
}

func NewCachedPersistence(inner persistence.Persistence, client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *CachedPersistence {
	return &CachedPersistence{
		Persistence: inner,
		client:      client,
		cache:       NewSnapshotCache(client, inner.ExecutionRepository(), ttl, logger),
	}
}

func (p *CachedPersistence) ExecutionRepository() persistence.ExecutionRepository {
	return p.cache
}

func (p *CachedPersistence) HealthCheck(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return err
	}

	return p.Persistence.HealthCheck(ctx)
}

func (p *CachedPersistence) Close(ctx context.Context) error {
	if err := p.client.Close(); err != nil {
		return err
	}

	return p.Persistence.Close(ctx)
}
