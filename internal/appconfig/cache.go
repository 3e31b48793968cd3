// Package appconfig caches the per-application routing/auth
// configuration: a 60-second in-memory freshness window, a 5-minute
// persisted copy, and a single in-flight remote fetch shared by all
// concurrent callers.
package appconfig

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/beldeveloper/go-errors-context"
	"golang.org/x/sync/singleflight"

	"github.com/ZephyrCloudIO/zephyr-agent/internal/auth"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/clock"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/edge"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/errtype"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/logging"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/metrics"
	"github.com/ZephyrCloudIO/zephyr-agent/internal/ttlstore"
)

const (
	// memoryFreshness is the window inside which a cached config is
	// served without any I/O.
	memoryFreshness = 60 * time.Second
	// persistTTL bounds the local persisted copy.
	persistTTL = 5 * time.Minute

	// Single-flight slots. One outstanding remote fetch per process and
	// per variant; every concurrent caller piggybacks on it.
	flightKeySingle = "config"
	flightKeyMulti  = "config.multi"

	storeKeyPrefix = "app_config_token."
	multiSuffix    = ".multi"
)

// Fetcher is the wire-client subset the cache depends on.
type Fetcher interface {
	GetApplicationConfig(ctx context.Context, token, applicationUID string) (*edge.ApplicationConfig, error)
	GetApplicationConfigs(ctx context.Context, token, applicationUID string) ([]edge.ApplicationConfig, error)
}

// TokenSource supplies the bearer token for API calls.
type TokenSource interface {
	CheckAuth(ctx context.Context) (string, error)
}

// Cache resolves application uids to configurations. It is shared by
// reference across concurrent build sessions in one process.
type Cache struct {
	fetcher Fetcher
	tokens  TokenSource
	store   *ttlstore.Store
	clock   clock.Clock
	log     *slog.Logger

	flight singleflight.Group

	mu      sync.Mutex
	single  map[string]*edge.ApplicationConfig
	multi   map[string][]edge.ApplicationConfig
	multiAt map[string]time.Time
}

// New creates a configuration cache.
func New(fetcher Fetcher, tokens TokenSource, store *ttlstore.Store, clk clock.Clock) *Cache {
	return &Cache{
		fetcher: fetcher,
		tokens:  tokens,
		store:   store,
		clock:   clk,
		log:     logging.Component("appconfig"),
		single:  make(map[string]*edge.ApplicationConfig),
		multi:   make(map[string][]edge.ApplicationConfig),
		multiAt: make(map[string]time.Time),
	}
}

// Get returns the configuration for applicationUID. A cached config is
// returned without I/O while its token is valid and it is younger than
// the freshness window; otherwise callers share one remote fetch.
func (c *Cache) Get(ctx context.Context, applicationUID string) (*edge.ApplicationConfig, error) {
	now := c.clock.Now()

	c.mu.Lock()
	if cfg, ok := c.single[applicationUID]; ok && c.usable(cfg, now) {
		c.mu.Unlock()
		if m := metrics.Get(); m != nil {
			m.ConfigCacheHits.Inc()
		}
		return cfg, nil
	}
	c.mu.Unlock()

	v, err, _ := c.flight.Do(flightKeySingle, func() (any, error) {
		return c.load(ctx, applicationUID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*edge.ApplicationConfig), nil
}

// GetAll returns the multi-CDN configuration set for applicationUID,
// under the same freshness and coalescing discipline as Get but in a
// separate slot.
func (c *Cache) GetAll(ctx context.Context, applicationUID string) ([]edge.ApplicationConfig, error) {
	now := c.clock.Now()

	c.mu.Lock()
	if cfgs, ok := c.multi[applicationUID]; ok && c.multiUsable(applicationUID, cfgs, now) {
		c.mu.Unlock()
		if m := metrics.Get(); m != nil {
			m.ConfigCacheHits.Inc()
		}
		return cfgs, nil
	}
	c.mu.Unlock()

	v, err, _ := c.flight.Do(flightKeyMulti, func() (any, error) {
		return c.loadMulti(ctx, applicationUID)
	})
	if err != nil {
		return nil, err
	}
	return v.([]edge.ApplicationConfig), nil
}

// Invalidate drops the in-memory fast-path entries only, forcing the
// cold path on the next call. The persisted copy is left alone; an
// expired token makes it unusable anyway.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.single = make(map[string]*edge.ApplicationConfig)
	c.multi = make(map[string][]edge.ApplicationConfig)
	c.multiAt = make(map[string]time.Time)
}

// Refresh forces a genuinely fresh fetch for one uid: the in-memory
// entry and the persisted copy are both dropped before loading. The
// upload retry path uses this after an auth rejection, where the
// persisted copy still holds the rejected token.
func (c *Cache) Refresh(ctx context.Context, applicationUID string) (*edge.ApplicationConfig, error) {
	c.mu.Lock()
	delete(c.single, applicationUID)
	c.mu.Unlock()
	if err := c.store.Delete(storeKeyPrefix + applicationUID); err != nil {
		c.log.Warn("failed to drop persisted config", "error", err)
	}

	v, err, _ := c.flight.Do(flightKeySingle, func() (any, error) {
		return c.load(ctx, applicationUID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*edge.ApplicationConfig), nil
}

// usable reports whether a cached config can be served without
// revalidation: token still valid and fetched inside the freshness
// window.
func (c *Cache) usable(cfg *edge.ApplicationConfig, now time.Time) bool {
	if auth.TokenExpired(cfg.Jwt, 0, now) {
		return false
	}
	return now.Sub(cfg.FetchedAt) <= memoryFreshness
}

func (c *Cache) multiUsable(applicationUID string, cfgs []edge.ApplicationConfig, now time.Time) bool {
	fetchedAt, ok := c.multiAt[applicationUID]
	if !ok || now.Sub(fetchedAt) > memoryFreshness {
		return false
	}
	for i := range cfgs {
		if auth.TokenExpired(cfgs[i].Jwt, 0, now) {
			return false
		}
	}
	return true
}

// load is the cold path: persisted copy first, remote fetch second.
func (c *Cache) load(ctx context.Context, applicationUID string) (*edge.ApplicationConfig, error) {
	if m := metrics.Get(); m != nil {
		m.ConfigCacheMisses.Inc()
	}

	now := c.clock.Now()
	storeKey := storeKeyPrefix + applicationUID

	var persisted edge.ApplicationConfig
	err := c.store.Get(storeKey, &persisted)
	if err == nil {
		if !auth.TokenExpired(persisted.Jwt, 0, now) {
			c.remember(applicationUID, &persisted)
			return &persisted, nil
		}
		// An expired token is discarded, never reused.
		_ = c.store.Delete(storeKey)
	} else if !errors.Is(err, ttlstore.ErrNotFound) {
		c.log.Warn("failed to read persisted config", "error", err)
	}

	token, err := c.tokens.CheckAuth(ctx)
	if err != nil {
		return nil, wrapLoadErr(err, applicationUID, "appconfig.Cache.load: auth")
	}

	cfg, err := c.fetcher.GetApplicationConfig(ctx, token, applicationUID)
	if err != nil {
		return nil, wrapLoadErr(err, applicationUID, "appconfig.Cache.load: fetch")
	}
	cfg.FetchedAt = c.clock.Now()

	if err := c.store.Put(storeKey, cfg, persistTTL); err != nil {
		c.log.Warn("failed to persist config", "error", err)
	}

	c.remember(applicationUID, cfg)
	return cfg, nil
}

func (c *Cache) loadMulti(ctx context.Context, applicationUID string) ([]edge.ApplicationConfig, error) {
	if m := metrics.Get(); m != nil {
		m.ConfigCacheMisses.Inc()
	}

	now := c.clock.Now()
	storeKey := storeKeyPrefix + applicationUID + multiSuffix

	var persisted []edge.ApplicationConfig
	err := c.store.Get(storeKey, &persisted)
	if err == nil && len(persisted) > 0 {
		valid := true
		for i := range persisted {
			if auth.TokenExpired(persisted[i].Jwt, 0, now) {
				valid = false
				break
			}
		}
		if valid {
			c.rememberMulti(applicationUID, persisted)
			return persisted, nil
		}
		_ = c.store.Delete(storeKey)
	} else if err != nil && !errors.Is(err, ttlstore.ErrNotFound) {
		c.log.Warn("failed to read persisted configs", "error", err)
	}

	token, err := c.tokens.CheckAuth(ctx)
	if err != nil {
		return nil, wrapLoadErr(err, applicationUID, "appconfig.Cache.loadMulti: auth")
	}

	cfgs, err := c.fetcher.GetApplicationConfigs(ctx, token, applicationUID)
	if err != nil {
		return nil, wrapLoadErr(err, applicationUID, "appconfig.Cache.loadMulti: fetch")
	}
	fetchedAt := c.clock.Now()
	for i := range cfgs {
		cfgs[i].FetchedAt = fetchedAt
	}

	if err := c.store.Put(storeKey, cfgs, persistTTL); err != nil {
		c.log.Warn("failed to persist configs", "error", err)
	}

	c.rememberMulti(applicationUID, cfgs)
	return cfgs, nil
}

func (c *Cache) remember(applicationUID string, cfg *edge.ApplicationConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.single[applicationUID] = cfg
}

func (c *Cache) rememberMulti(applicationUID string, cfgs []edge.ApplicationConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.multi[applicationUID] = cfgs
	c.multiAt[applicationUID] = c.clock.Now()
}

func wrapLoadErr(err error, applicationUID, path string) error {
	return apperrors.WrapContext(fmt.Errorf("%w: %w", errtype.ErrLoadAppConfig, err), apperrors.Context{
		Path:   path,
		Params: apperrors.Params{"application_uid": applicationUID},
	})
}
