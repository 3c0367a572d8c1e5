package quota

import (
	"context"
	"time"

	"concierge/internal/adapters/config"
	"concierge/internal/metrics"
	"concierge/pkg/errors"
	"concierge/pkg/logger"
)

// Window names the fixed window that blocked a reservation.
type Window string

const (
	WindowNone   Window = ""
	WindowHourly Window = "hourly"
	WindowDaily  Window = "daily"
)

// CounterStore increments per-contact send counters atomically across
// both windows. Reserve returns the window that blocked, or WindowNone
// when both counters were under their caps and have been incremented.
type CounterStore interface {
	Reserve(ctx context.Context, contactID string, now time.Time, hourlyCap, dailyCap int) (Window, error)
	Release(ctx context.Context, contactID string, now time.Time) error
}

// Result is the outcome of one reservation attempt.
type Result struct {
	Allowed    bool
	Window     Window
	RetryAfter time.Time
}

// Limiter enforces per-contact outbound send quotas over fixed hourly
// and daily windows. Counters are reserved before the send; a failed
// send releases its slot so transport errors do not burn quota.
type Limiter struct {
	cfg   config.QuotaConfig
	store CounterStore
	log   *logger.Logger
}

func NewLimiter(cfg config.QuotaConfig, store CounterStore) *Limiter {
	return &Limiter{
		cfg:   cfg,
		store: store,
		log:   logger.Get().With("component", "quota_limiter"),
	}
}

// Reserve claims one send slot for the contact. A store failure defers
// the send rather than allowing an uncounted message through.
func (l *Limiter) Reserve(ctx context.Context, contactID string) (Result, error) {
	now := time.Now()

	blocked, err := l.store.Reserve(ctx, contactID, now, l.cfg.HourlyCap, l.cfg.DailyCap)
	if err != nil {
		metrics.QuotaDeferrals.WithLabelValues("store_error").Inc()
		l.log.Errorw("quota store unavailable, deferring send", "contact_id", contactID, "error", err)
		return Result{Allowed: false, Window: WindowHourly, RetryAfter: nextHour(now)},
			errors.Wrap(err, "quota store reservation failed")
	}
	if blocked == WindowNone {
		return Result{Allowed: true}, nil
	}

	metrics.QuotaDeferrals.WithLabelValues(string(blocked)).Inc()
	res := Result{Allowed: false, Window: blocked}
	switch blocked {
	case WindowDaily:
		res.RetryAfter = nextDay(now)
	default:
		res.RetryAfter = nextHour(now)
	}
	return res, errors.Wrapf(errors.ErrQuotaExceeded, "contact %s: %s window full", contactID, blocked)
}

// Release returns a previously reserved slot after a failed send.
func (l *Limiter) Release(ctx context.Context, contactID string) {
	if err := l.store.Release(ctx, contactID, time.Now()); err != nil {
		// The slot stays burned until the window rolls over. Acceptable:
		// quota drifts conservative, never permissive.
		l.log.Warnw("quota release failed", "contact_id", contactID, "error", err)
	}
}

func nextHour(now time.Time) time.Time {
	return now.Truncate(time.Hour).Add(time.Hour)
}

func nextDay(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}
