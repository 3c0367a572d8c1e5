package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"concierge/internal/services/quota"
)

// QuotaStore is an in-process counter store for tests and single-node
// deployments without Redis.
type QuotaStore struct {
	mu       sync.Mutex
	counters map[string]int
}

func NewQuotaStore() *QuotaStore {
	return &QuotaStore{counters: make(map[string]int)}
}

func memQuotaKeys(contactID string, now time.Time) (string, string) {
	return fmt.Sprintf("h:%s:%s", contactID, now.UTC().Format("2006010215")),
		fmt.Sprintf("d:%s:%s", contactID, now.UTC().Format("20060102"))
}

func (s *QuotaStore) Reserve(_ context.Context, contactID string, now time.Time, hourlyCap, dailyCap int) (quota.Window, error) {
	hourly, daily := memQuotaKeys(contactID, now)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.counters[hourly] >= hourlyCap {
		return quota.WindowHourly, nil
	}
	if s.counters[daily] >= dailyCap {
		return quota.WindowDaily, nil
	}
	s.counters[hourly]++
	s.counters[daily]++
	return quota.WindowNone, nil
}

func (s *QuotaStore) Release(_ context.Context, contactID string, now time.Time) error {
	hourly, daily := memQuotaKeys(contactID, now)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.counters[hourly] > 0 {
		s.counters[hourly]--
	}
	if s.counters[daily] > 0 {
		s.counters[daily]--
	}
	return nil
}
