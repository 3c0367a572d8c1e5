package cache

import (
	"context"
	"time"

	"concierge/internal/metrics"
	"concierge/pkg/errors"
	"concierge/pkg/logger"
)

// Tiered checks tiers in order and promotes hits back into the tiers
// that missed. Each tier lookup is independently timeout-bounded; a slow
// or failing tier degrades to a miss for that tier only.
type Tiered struct {
	tiers       []Tier
	tierTimeout time.Duration
	log         *logger.Logger
}

// NewTiered composes cache tiers, checked in the order given
func NewTiered(tierTimeout time.Duration, tiers ...Tier) *Tiered {
	return &Tiered{
		tiers:       tiers,
		tierTimeout: tierTimeout,
		log:         logger.Get().With("component", "tiered_cache"),
	}
}

// Get returns the first hit across tiers, promoting it into every tier
// above the one that served it. Returns ErrCacheMiss when all tiers miss.
func (t *Tiered) Get(ctx context.Context, probe Probe) (*Entry, error) {
	for i, tier := range t.tiers {
		entry, err := t.tierGet(ctx, tier, probe)
		if err != nil {
			if errors.Is(err, errors.ErrCacheMiss) {
				metrics.CacheMisses.WithLabelValues(tier.Name()).Inc()
			} else {
				metrics.CacheTierErrors.WithLabelValues(tier.Name()).Inc()
				t.log.Warnf("Tier %s degraded to miss: %v", tier.Name(), err)
			}
			continue
		}

		metrics.CacheHits.WithLabelValues(tier.Name()).Inc()
		t.promote(ctx, entry, t.tiers[:i])
		return entry, nil
	}

	return nil, errors.Wrapf(errors.ErrCacheMiss, "all tiers: %s", probe.Key)
}

// Put write-throughs an entry to every tier. Used after a live model
// call fills the cache.
func (t *Tiered) Put(ctx context.Context, e *Entry) {
	t.promote(ctx, e, t.tiers)
}

func (t *Tiered) promote(ctx context.Context, e *Entry, tiers []Tier) {
	for _, tier := range tiers {
		setCtx, cancel := context.WithTimeout(ctx, t.tierTimeout)
		err := tier.Set(setCtx, e)
		cancel()
		if err != nil {
			metrics.CacheTierErrors.WithLabelValues(tier.Name()).Inc()
			t.log.Warnf("Promotion into %s failed: %v", tier.Name(), err)
			continue
		}
		metrics.CachePromotions.WithLabelValues(tier.Name()).Inc()
	}
}

func (t *Tiered) tierGet(ctx context.Context, tier Tier, probe Probe) (*Entry, error) {
	getCtx, cancel := context.WithTimeout(ctx, t.tierTimeout)
	defer cancel()

	entry, err := tier.Get(getCtx, probe)
	if err != nil && getCtx.Err() != nil && ctx.Err() == nil {
		return nil, errors.Wrapf(errors.ErrCacheTierUnavailable, "%s timed out", tier.Name())
	}
	return entry, err
}
