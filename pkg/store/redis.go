package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tidwall/gjson"

	errs "tsscraper/pkg/errors"
	"tsscraper/pkg/logger"
	"tsscraper/pkg/models"
)

// releaseLock deletes the lock key only while it still carries our token.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore keeps page records as JSON strings in a redis list, oldest
// page last; reconciled pages are pushed onto the head.
type RedisStore struct {
	client    *redis.Client
	key       string
	lockKey   string
	lockTTL   time.Duration
	lockToken string
	logger    logger.Logger
	now       func() time.Time
}

// NewRedisStore creates a store on the list at key
func NewRedisStore(client *redis.Client, key string, lockTTL time.Duration, log logger.Logger) *RedisStore {
	return &RedisStore{
		client:  client,
		key:     key,
		lockKey: key + ":lock",
		lockTTL: lockTTL,
		logger:  log,
		now:     time.Now,
	}
}

// Location returns the list key
func (s *RedisStore) Location() string {
	return "redis://" + s.client.Options().Addr + "/" + s.key
}

// LoadPages reads the whole list
func (s *RedisStore) LoadPages(ctx context.Context) ([]models.Page, error) {
	raw, err := s.client.LRange(ctx, s.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.key, err)
	}

	pages := make([]models.Page, 0, len(raw))
	for i, record := range raw {
		var page models.Page
		if err := json.Unmarshal([]byte(record), &page); err != nil {
			return nil, fmt.Errorf("failed to decode %s[%d]: %w", s.key, i, err)
		}
		pages = append(pages, page)
	}
	return pages, nil
}

// LoadState replays the persisted pages
func (s *RedisStore) LoadState(ctx context.Context) (models.State, error) {
	pages, err := s.LoadPages(ctx)
	if err != nil {
		return models.State{}, err
	}
	return models.ReplayState(pages), nil
}

// SavePage pushes page onto the tail of the list
func (s *RedisStore) SavePage(ctx context.Context, page models.Page) error {
	record, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("failed to encode page: %w", err)
	}
	if err := s.client.RPush(ctx, s.key, record).Err(); err != nil {
		return fmt.Errorf("failed to append page to %s: %w", s.key, err)
	}
	return nil
}

// NewestID reads the first item of the head record
func (s *RedisStore) NewestID(ctx context.Context) (string, bool, error) {
	head, err := s.client.LIndex(ctx, s.key, 0).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read head of %s: %w", s.key, err)
	}

	if id := gjson.Get(head, "data.0.id"); id.Exists() && id.String() != "" {
		return id.String(), true, nil
	}

	// head page holds no items; fall back to a full scan
	pages, err := s.LoadPages(ctx)
	if err != nil {
		return "", false, err
	}
	id, ok := models.NewestID(pages)
	return id, ok, nil
}

// PrependItems pushes a synthetic page 0 onto the head of the list
func (s *RedisStore) PrependItems(ctx context.Context, items []models.Item) error {
	if len(items) == 0 {
		return nil
	}

	record, err := json.Marshal(models.NewPage(models.ReconciledPageNumber, models.NoCursor, items, s.now()))
	if err != nil {
		return fmt.Errorf("failed to encode page: %w", err)
	}
	if err := s.client.LPush(ctx, s.key, record).Err(); err != nil {
		return fmt.Errorf("failed to prepend page to %s: %w", s.key, err)
	}
	return nil
}

// Lock claims <key>:lock with SET NX for the configured TTL
func (s *RedisStore) Lock(ctx context.Context) error {
	if s.lockToken != "" {
		return nil
	}

	hostname, _ := os.Hostname()
	token := hostname + ":" + strconv.Itoa(os.Getpid()) + ":" + strconv.FormatInt(s.now().UnixNano(), 10)

	ok, err := s.client.SetNX(ctx, s.lockKey, token, s.lockTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to take lock %s: %w", s.lockKey, err)
	}
	if !ok {
		owner, _ := s.client.Get(ctx, s.lockKey).Result()
		return fmt.Errorf("%w: %s is held by %s", errs.ErrStoreLocked, s.lockKey, owner)
	}

	s.lockToken = token
	return nil
}

// Close releases the lock and the connection pool
func (s *RedisStore) Close() error {
	var releaseErr error
	if s.lockToken != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		releaseErr = releaseLock.Run(ctx, s.client, []string{s.lockKey}, s.lockToken).Err()
		s.lockToken = ""
	}
	return errors.Join(releaseErr, s.client.Close())
}
