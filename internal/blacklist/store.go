// Package blacklist implements the blocklist store with TTL semantics.
package blacklist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/fraudshield/kestrel/internal/domain"
)

const (
	cacheKeyPrefix = "kestrel:blacklist:"
	cacheTTL       = 60 * time.Second
	lockStripes    = 64
)

// Store manages blocklist entries on top of the repository, with a
// read-through cache for the hot IsBlacklisted path. Expiry is lazy: an
// expired entry stops matching immediately; physical removal happens later
// via CleanupExpired once the entry has been invalidated.
type Store struct {
	repo   domain.Repository
	cache  domain.Cache
	logger *slog.Logger

	// Striped per-key locks keep refresh-or-create atomic for one value
	// without serializing unrelated writes.
	locks [lockStripes]sync.Mutex
}

// NewStore creates a blacklist store. cache may be nil to disable the
// read-through layer.
func NewStore(repo domain.Repository, cache domain.Cache, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		repo:   repo,
		cache:  cache,
		logger: logger,
	}
}

// Add inserts a blocklist entry. Adding a value that already has an active
// entry refreshes that entry's expiry instead of inserting a duplicate.
func (s *Store) Add(ctx context.Context, item *domain.BlacklistItem) error {
	if item == nil || item.Value == "" {
		return fmt.Errorf("%w: blacklist item value is required", domain.ErrInvalidInput)
	}

	lock := s.lockFor(item.Type, item.Value)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.repo.GetBlacklistItem(ctx, item.Type, item.Value)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("blacklist lookup failed: %w", err)
	}

	if existing != nil && existing.IsActive() {
		var duration *time.Duration
		if item.ExpiryDate != nil {
			d := time.Until(*item.ExpiryDate)
			duration = &d
		}
		existing.Refresh(duration)
		if err := s.repo.SaveBlacklistItem(ctx, existing); err != nil {
			return fmt.Errorf("blacklist refresh failed: %w", err)
		}
		s.invalidateCache(ctx, item.Type, item.Value)
		s.logger.Info("blacklist entry refreshed",
			"type", item.Type, "value", item.Value)
		return nil
	}

	if err := s.repo.SaveBlacklistItem(ctx, item); err != nil {
		return fmt.Errorf("blacklist add failed: %w", err)
	}
	s.invalidateCache(ctx, item.Type, item.Value)
	s.logger.Info("blacklist entry added",
		"type", item.Type, "value", item.Value, "reason", item.Reason)
	return nil
}

// IsBlacklisted reports whether the value currently has an active entry.
// Entries past their expiry never match, whether or not cleanup has run.
func (s *Store) IsBlacklisted(ctx context.Context, itemType domain.BlacklistType, value string) (bool, error) {
	item, err := s.Lookup(ctx, itemType, value)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return item.IsActive(), nil
}

// Lookup returns the entry for a value, from cache when possible.
// Returns ErrNotFound when no entry exists.
func (s *Store) Lookup(ctx context.Context, itemType domain.BlacklistType, value string) (*domain.BlacklistItem, error) {
	key := cacheKey(itemType, value)

	if s.cache != nil {
		if data, err := s.cache.Get(ctx, key); err == nil && data != nil {
			var item domain.BlacklistItem
			if err := json.Unmarshal(data, &item); err == nil {
				return &item, nil
			}
		}
	}

	item, err := s.repo.GetBlacklistItem(ctx, itemType, value)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(item); err == nil {
			if err := s.cache.Set(ctx, key, data, cacheTTL); err != nil {
				s.logger.Warn("blacklist cache set failed", "key", key, "error", err)
			}
		}
	}

	return item, nil
}

// Invalidate revokes an entry before its expiry. Invalidating a missing
// entry returns ErrNotFound.
func (s *Store) Invalidate(ctx context.Context, itemType domain.BlacklistType, value, by string) error {
	lock := s.lockFor(itemType, value)
	lock.Lock()
	defer lock.Unlock()

	item, err := s.repo.GetBlacklistItem(ctx, itemType, value)
	if err != nil {
		return err
	}

	item.Invalidate(by)
	if err := s.repo.SaveBlacklistItem(ctx, item); err != nil {
		return fmt.Errorf("blacklist invalidate failed: %w", err)
	}
	s.invalidateCache(ctx, itemType, value)
	s.logger.Info("blacklist entry invalidated",
		"type", itemType, "value", value, "by", by)
	return nil
}

// List returns all stored entries of a type, including expired ones that
// cleanup has not yet removed.
func (s *Store) List(ctx context.Context, itemType domain.BlacklistType) ([]*domain.BlacklistItem, error) {
	return s.repo.ListBlacklistItems(ctx, itemType)
}

// CleanupExpired physically removes expired entries that have been
// invalidated and are no longer referenced by an unresolved rule event,
// returning how many were removed. Expired Active entries stay on record.
func (s *Store) CleanupExpired(ctx context.Context) (int64, error) {
	removed, err := s.repo.DeleteExpiredBlacklistItems(ctx, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("blacklist cleanup failed: %w", err)
	}
	if removed > 0 {
		s.logger.Info("expired blacklist entries removed", "count", removed)
	}
	return removed, nil
}

func (s *Store) invalidateCache(ctx context.Context, itemType domain.BlacklistType, value string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cacheKey(itemType, value)); err != nil {
		s.logger.Warn("blacklist cache delete failed", "type", itemType, "value", value, "error", err)
	}
}

func (s *Store) lockFor(itemType domain.BlacklistType, value string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(itemType))
	h.Write([]byte(value))
	return &s.locks[h.Sum32()%lockStripes]
}

func cacheKey(itemType domain.BlacklistType, value string) string {
	return cacheKeyPrefix + string(itemType) + ":" + value
}
