package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"concierge/pkg/errors"
)

// L1 is the process-local tier: smallest TTL, fastest, bounded by entry
// count. Eviction removes the oldest-stored entry once the bound is hit.
type L1 struct {
	store      *gocache.Cache
	maxEntries int
}

// NewL1 creates the in-process tier
func NewL1(maxEntries int, ttl time.Duration) *L1 {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &L1{
		store:      gocache.New(ttl, ttl/2+time.Second),
		maxEntries: maxEntries,
	}
}

// Name returns the tier name
func (l *L1) Name() string { return TierL1 }

// Get looks up an entry by key
func (l *L1) Get(ctx context.Context, probe Probe) (*Entry, error) {
	if x, found := l.store.Get(probe.Key); found {
		return x.(*Entry), nil
	}
	return nil, errors.Wrapf(errors.ErrCacheMiss, "l1 %s", probe.Key)
}

// Set stores an entry, keeping an existing fresher value and evicting
// the oldest entry when the count bound is reached.
func (l *L1) Set(ctx context.Context, e *Entry) error {
	if x, found := l.store.Get(e.Key); found {
		if existing := x.(*Entry); existing.StoredAt.After(e.StoredAt) {
			return nil
		}
	}

	if l.store.ItemCount() >= l.maxEntries {
		l.evictOldest()
	}

	l.store.Set(e.Key, e, gocache.DefaultExpiration)
	return nil
}

func (l *L1) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for key, item := range l.store.Items() {
		e, ok := item.Object.(*Entry)
		if !ok {
			continue
		}
		if oldestKey == "" || e.StoredAt.Before(oldest) {
			oldestKey = key
			oldest = e.StoredAt
		}
	}
	if oldestKey != "" {
		l.store.Delete(oldestKey)
	}
}
