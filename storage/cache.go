package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"prism-board/domain"
)

type cachedBoard struct {
	Version string        `json:"version"`
	Board   *domain.Board `json:"board"`
}

// Cache wraps a board store with a Redis copy of each board. Writes go
// through to the base store and then refresh or evict the cached copy.
// LoadBoard always reads the base store, since commands must start from the
// persisted version; FetchBoard serves reads from the cache.
type Cache struct {
	base  domain.Storage
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
// A nil client or zero TTL disables caching.
func NewCache(base domain.Storage, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) FetchBoard(ctx context.Context, id string) (*domain.Board, error) {
	if b, ok := c.loadFromCache(ctx, id); ok {
		return b, nil
	}
	b, err := c.base.LoadBoard(ctx, id)
	if err != nil {
		return nil, err
	}
	// NX so a concurrent write-through is never replaced by this older read.
	c.store(ctx, b, true)
	return b, nil
}

func (c *Cache) LoadBoard(ctx context.Context, id string) (*domain.Board, error) {
	return c.base.LoadBoard(ctx, id)
}

func (c *Cache) SaveBoard(ctx context.Context, b *domain.Board) (string, error) {
	version, err := c.base.SaveBoard(ctx, b)
	if err != nil {
		if errors.Is(err, domain.ErrConcurrentModification) || errors.Is(err, domain.ErrBoardNotFound) {
			c.evict(ctx, b.ID)
		}
		return "", err
	}
	saved := *b
	saved.Version = version
	c.store(ctx, &saved, false)
	return version, nil
}

func (c *Cache) CreateBoard(ctx context.Context, b *domain.Board) (string, error) {
	version, err := c.base.CreateBoard(ctx, b)
	if err != nil {
		return "", err
	}
	created := *b
	created.Version = version
	c.store(ctx, &created, false)
	return version, nil
}

func (c *Cache) DeleteBoard(ctx context.Context, id string) error {
	err := c.base.DeleteBoard(ctx, id)
	c.evict(ctx, id)
	return err
}

func (c *Cache) loadFromCache(ctx context.Context, id string) (*domain.Board, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, boardCacheKey(id)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, boardCacheKey(id)).Err()
		}
		return nil, false
	}
	var entry cachedBoard
	if err := json.Unmarshal(data, &entry); err != nil || entry.Board == nil {
		_ = c.redis.Del(ctx, boardCacheKey(id)).Err()
		return nil, false
	}
	entry.Board.Version = entry.Version
	return entry.Board, true
}

func (c *Cache) store(ctx context.Context, b *domain.Board, onlyIfAbsent bool) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(cachedBoard{Version: b.Version, Board: b})
	if err != nil {
		return
	}
	if onlyIfAbsent {
		_ = c.redis.SetNX(ctx, boardCacheKey(b.ID), data, c.ttl).Err()
		return
	}
	_ = c.redis.Set(ctx, boardCacheKey(b.ID), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, id string) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, boardCacheKey(id)).Err()
}

func boardCacheKey(id string) string {
	return "board:" + id
}
