package profile

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gevsen/Mini-Arima/internal/db"
)

// Store is the slice of the persistence contract the profile layer needs.
type Store interface {
	GetUser(ctx context.Context, userID int64) (*db.User, error)
	UpsertUser(ctx context.Context, userID int64, username string) error
	SetTier(ctx context.Context, userID int64, tier int, end time.Time) error
	SetBlocked(ctx context.Context, userID int64, blocked bool) error
	SetVerified(ctx context.Context, userID int64, verified bool) error
	SetBonusGranted(ctx context.Context, userID int64, granted bool) error
	SetInstruction(ctx context.Context, userID int64, instruction *string) error
	SetTemperature(ctx context.Context, userID int64, temperature *float64) error
	SetLastUsedModel(ctx context.Context, userID int64, model string) error
	SetLastUsedImageModel(ctx context.Context, userID int64, model string) error
}

type cacheEntry struct {
	user      *db.User
	fetchedAt time.Time
}

// Cache is a read-through TTL cache over the profile store. A value past
// its TTL is never served without a store round-trip; a miss fetches
// synchronously. No stampede protection, the store is fast and local.
type Cache struct {
	mu      sync.RWMutex
	entries map[int64]cacheEntry
	store   Store
	ttl     time.Duration
	logger  *zap.Logger
}

func NewCache(store Store, ttl time.Duration, logger *zap.Logger) *Cache {
	return &Cache{
		entries: make(map[int64]cacheEntry),
		store:   store,
		ttl:     ttl,
		logger:  logger.With(zap.String("component", "profile_cache")),
	}
}

func (c *Cache) Get(ctx context.Context, userID int64) (*db.User, error) {
	c.mu.RLock()
	entry, ok := c.entries[userID]
	c.mu.RUnlock()

	if ok && time.Since(entry.fetchedAt) < c.ttl {
		return entry.user, nil
	}

	user, err := c.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[userID] = cacheEntry{user: user, fetchedAt: time.Now()}
	c.mu.Unlock()

	c.logger.Debug("Profile fetched from store", zap.Int64("user_id", userID))
	return user, nil
}

func (c *Cache) Invalidate(userID int64) {
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()

	c.logger.Debug("Profile cache invalidated", zap.Int64("user_id", userID))
}
