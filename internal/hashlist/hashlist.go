// Package hashlist caches the set of content hashes the edge already
// has for an application. It is a cache, not a source of truth: a
// stale or empty set only costs redundant uploads, never data loss.
package hashlist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ZephyrCloudIO/zephyr-agent/internal/assets"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/errtype"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/logging"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/ttlstore"
)

// persistTTL bounds local hash-list entries; the edge remains
// authoritative after expiry.
const persistTTL = 5 * time.Minute

// Lister is the wire-client subset this cache depends on.
type Lister interface {
	GetHashList(ctx context.Context, edgeURL, applicationUID string) ([]string, error)
}

// Cache reads and grows the known-hash set for applications. The set
// only ever grows: Update merges, it never shrinks.
type Cache struct {
	lister Lister
	store  *ttlstore.Store
	log    *slog.Logger

	mu sync.Mutex
}

// New creates a hash-list cache.
func New(lister Lister, store *ttlstore.Store) *Cache {
	return &Cache{
		lister: lister,
		store:  store,
		log:    logging.Component("hashlist"),
	}
}

// Get returns the known-hash set for applicationUID: local cache first,
// remote fetch on miss. On total failure it degrades to an empty set,
// which treats every asset as missing.
func (c *Cache) Get(ctx context.Context, edgeURL, applicationUID string) assets.HashSet {
	key := cacheKey(applicationUID)

	var cached []string
	err := c.store.Get(key, &cached)
	if err == nil {
		return assets.NewHashSet(cached)
	}
	if !errors.Is(err, ttlstore.ErrNotFound) {
		c.log.Warn("failed to read cached hash list", "application_uid", applicationUID, "error", err)
	}

	hashes, err := c.lister.GetHashList(ctx, edgeURL, applicationUID)
	if err != nil {
		c.log.Warn("degrading to empty hash list",
			"application_uid", applicationUID,
			"error", fmt.Errorf("%w: %w", errtype.ErrGetHashList, err),
		)
		return assets.HashSet{}
	}

	set := assets.NewHashSet(hashes)
	if err := c.store.Put(key, set.Sorted(), persistTTL); err != nil {
		c.log.Warn("failed to persist hash list", "application_uid", applicationUID, "error", err)
	}
	return set
}

// Update merges the hashes of uploaded assets into the persisted set.
// Union semantics: re-adding an existing hash is a no-op. Callers only
// invoke this after a batch that actually uploaded something.
func (c *Cache) Update(applicationUID string, uploaded assets.Map) error {
	if len(uploaded) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(applicationUID)

	var existing []string
	if err := c.store.Get(key, &existing); err != nil && !errors.Is(err, ttlstore.ErrNotFound) {
		c.log.Warn("failed to read hash list before merge", "application_uid", applicationUID, "error", err)
	}

	set := assets.NewHashSet(existing)
	for hash := range uploaded {
		set.Add(hash)
	}

	if err := c.store.Put(key, set.Sorted(), persistTTL); err != nil {
		return fmt.Errorf("persist hash list: %w", err)
	}
	return nil
}

// cacheKey derives the persisted key for an application's hash list.
func cacheKey(applicationUID string) string {
	return "hash_list." + applicationUID
}
