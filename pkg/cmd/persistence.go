package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/atlasworks/convoy/pkg/persistence"
	"github.com/atlasworks/convoy/pkg/persistence/file"
	"github.com/atlasworks/convoy/pkg/persistence/postgresql"
	"github.com/atlasworks/convoy/pkg/persistence/redis"
)

// snapshotCacheTTL bounds how long a cached execution snapshot may serve
// reads before falling back to the backing store.
const snapshotCacheTTL = 15 * time.Minute

// NewPersistence creates the state store for a database URL. The scheme
// picks the backend: postgres://... for PostgreSQL, anything else is treated
// as a filesystem root. A non-empty redisURL layers the snapshot cache on
// the execution repository.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL, redisURL string) (persistence.Persistence, error) {
	var (
		store persistence.Persistence
		err   error
	)

	switch parseProvider(databaseURL) {
	case "postgres", "postgresql":
		store, err = postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgresql persistence: %w", err)
		}
	default:
		store = file.NewPersistence(strings.TrimPrefix(databaseURL, "file://"))
	}

	if redisURL == "" {
		return store, nil
	}

	options, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := goredis.NewClient(options)

	return redis.NewCachedPersistence(store, client, snapshotCacheTTL, logger), nil
}

func parseProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	return provider
}
