// Package cache memoises aggregate read views. Writers only ever delete keys;
// TTL expiry bounds staleness when a delete is missed.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Well-known keys, one per cached aggregate view.
const (
	DashboardStatisticsKey = "dashboard_statistics"
	RiskTrendsKey          = "risk_trends_30d"
	TopRiskCompaniesKey    = "top_risk_companies"
)

// Default TTLs of the well-known keys.
const (
	DashboardStatisticsTTL = 300 * time.Second
	RiskTrendsTTL          = 600 * time.Second
	TopRiskCompaniesTTL    = 900 * time.Second
)

var (
	// ErrCacheMiss is returned by Get when the key is absent or expired.
	ErrCacheMiss = errors.New("cache: miss")
)

// Cache is a key-value store with per-entry TTL.
type Cache interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// InvalidationObserver is told the outcome of every invalidation.
type InvalidationObserver func(key string, err error)

// Invalidator deletes keys on a best-effort basis: failures are logged and
// reported to the observer but never returned.
type Invalidator struct {
	cache    Cache
	logger   zerolog.Logger
	observer InvalidationObserver
}

// NewInvalidator wraps c. A nil cache turns every call into a no-op.
func NewInvalidator(c Cache, logger zerolog.Logger, observer InvalidationObserver) *Invalidator {
	return &Invalidator{
		cache:    c,
		logger:   logger.With().Str("component", "cache_invalidator").Logger(),
		observer: observer,
	}
}

// Invalidate deletes key.
func (i *Invalidator) Invalidate(ctx context.Context, key string) {
	if i == nil || i.cache == nil {
		return
	}
	err := i.cache.Delete(ctx, key)
	if err != nil {
		i.logger.Warn().Err(err).Str("key", key).Msg("cache invalidation failed; entry will expire by ttl")
	} else {
		i.logger.Debug().Str("key", key).Msg("cache key invalidated")
	}
	if i.observer != nil {
		i.observer(key, err)
	}
}
