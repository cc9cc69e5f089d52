package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"tsscraper/pkg/config"
	"tsscraper/pkg/logger"
	"tsscraper/pkg/models"
)

// Store is a persisted record set of pages. Every backend can replay its
// pages into a resume state and prepend newer items found by a catch-up
// pass.
type Store interface {
	// LoadPages returns every persisted page in stored order
	LoadPages(ctx context.Context) ([]models.Page, error)
	// LoadState replays the persisted pages into a resume state
	LoadState(ctx context.Context) (models.State, error)
	// SavePage appends one page; it is durable once SavePage returns
	SavePage(ctx context.Context, page models.Page) error
	// NewestID returns the id of the most recent persisted item
	NewestID(ctx context.Context) (string, bool, error)
	// PrependItems stores items as a synthetic page 0 ahead of all pages
	PrependItems(ctx context.Context, items []models.Item) error
	// Lock claims the store for a single run; ErrStoreLocked if taken
	Lock(ctx context.Context) error
	// Close releases the lock and any connections
	Close() error
	// Location describes where the pages live
	Location() string
}

// Open creates the backend selected by cfg for the given account handle.
// The store is not locked; callers that write must call Lock.
func Open(cfg config.StorageConfig, handle string, log logger.Logger) (Store, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	switch strings.ToLower(cfg.Backend) {
	case config.BackendJSON, "":
		return NewJSONStore(cfg.Output, log), nil
	case config.BackendJSONL:
		return NewJSONLStore(cfg.Output, log), nil
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return NewRedisStore(client, PagesKey(cfg.Redis.KeyPrefix, handle), cfg.Redis.LockTTL, log), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// PagesKey is the redis list holding a handle's pages.
func PagesKey(prefix, handle string) string {
	return prefix + strings.ToLower(strings.TrimPrefix(handle, "@")) + ":pages"
}
