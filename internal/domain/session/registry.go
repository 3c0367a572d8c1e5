package session

import (
	"context"
	"sync"
	"time"

	"concierge/internal/domain/message"
	"concierge/pkg/errors"
	"concierge/pkg/logger"
)

// Registry owns per-session state and concurrency control. It enforces
// single-writer-per-session: concurrent turns for one session queue behind
// the session lock while turns for different sessions proceed in parallel.
type Registry struct {
	repo        Repository
	inactivity  time.Duration
	lockTimeout time.Duration
	log         *logger.Logger

	mu    sync.Mutex
	locks map[string]*lockEntry
}

// lockEntry refcounts waiters so the entry can be pruned from the map
// once nobody holds or waits for the lock.
type lockEntry struct {
	ch   chan struct{}
	refs int
}

// NewRegistry creates a session registry
func NewRegistry(repo Repository, inactivity, lockTimeout time.Duration) *Registry {
	return &Registry{
		repo:        repo,
		inactivity:  inactivity,
		lockTimeout: lockTimeout,
		log:         logger.Get().With("component", "session_registry"),
		locks:       make(map[string]*lockEntry),
	}
}

// GetOrCreate returns the active session for a contact, starting a fresh
// one when none exists or the previous one expired. Expired sessions are
// archived; their history is not visible to the new session.
func (r *Registry) GetOrCreate(ctx context.Context, contactID string, channel message.Channel) (*Session, error) {
	release, err := r.acquire(ctx, "contact:"+contactID)
	if err != nil {
		return nil, err
	}
	defer release()

	sess, err := r.repo.GetByContact(ctx, contactID)
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		return nil, errors.Wrapf(err, "load session for contact %s", contactID)
	}

	if sess != nil && !sess.Expired(r.inactivity) {
		return sess, nil
	}

	if sess != nil {
		if err := r.repo.Archive(ctx, sess); err != nil {
			r.log.Warnf("Failed to archive expired session %s: %v", sess.ID, err)
		}
	}

	fresh := New(contactID, channel)
	if err := r.repo.Save(ctx, fresh, r.retention()); err != nil {
		return nil, errors.Wrap(err, "save new session")
	}

	r.log.Infow("Session created", "session_id", fresh.ID, "contact_id", contactID)
	return fresh, nil
}

// WithLock runs fn with exclusive access to one session's mutable state
// and persists the result. Lock acquisition timeout surfaces as
// ErrSessionBusy, which callers must retry with backoff.
func (r *Registry) WithLock(ctx context.Context, sessionID string, fn func(*Session) error) error {
	release, err := r.acquire(ctx, sessionID)
	if err != nil {
		return err
	}
	defer release()

	sess, err := r.repo.Get(ctx, sessionID)
	if err != nil {
		return errors.Wrapf(err, "load session %s", sessionID)
	}

	if err := fn(sess); err != nil {
		return err
	}

	if err := r.repo.Save(ctx, sess, r.retention()); err != nil {
		return errors.Wrapf(err, "persist session %s", sessionID)
	}
	return nil
}

// ArchiveIdle archives sessions idle past the inactivity window. Run
// periodically so a conversation that simply went quiet still reaches
// the archive before its retention TTL deletes it.
func (r *Registry) ArchiveIdle(ctx context.Context) (int, error) {
	n, err := r.repo.ArchiveIdle(ctx, r.inactivity)
	if err != nil {
		return n, errors.Wrap(err, "archive idle sessions")
	}
	if n > 0 {
		r.log.Infow("Archived idle sessions", "count", n)
	}
	return n, nil
}

// retention is the storage TTL for active sessions. It exceeds the
// inactivity window so an expired session survives long enough for the
// idle sweep to archive it.
func (r *Registry) retention() time.Duration {
	return 2 * r.inactivity
}

// acquire takes the named lock, waiting at most lockTimeout. The entry
// is dropped from the map when the last holder or waiter leaves.
func (r *Registry) acquire(ctx context.Context, key string) (func(), error) {
	r.mu.Lock()
	e, ok := r.locks[key]
	if !ok {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		r.locks[key] = e
	}
	e.refs++
	r.mu.Unlock()

	leave := func(held bool) {
		if held {
			<-e.ch
		}
		r.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(r.locks, key)
		}
		r.mu.Unlock()
	}

	timer := time.NewTimer(r.lockTimeout)
	defer timer.Stop()

	select {
	case e.ch <- struct{}{}:
		return func() { leave(true) }, nil
	case <-timer.C:
		leave(false)
		return nil, errors.Wrapf(errors.ErrSessionBusy, "lock %s", key)
	case <-ctx.Done():
		leave(false)
		return nil, errors.Wrapf(errors.ErrTimeout, "lock %s: %v", key, ctx.Err())
	}
}
