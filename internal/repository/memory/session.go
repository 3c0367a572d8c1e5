package memory

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"concierge/internal/domain/session"
	"concierge/pkg/errors"
)

// Compile-time check
var _ session.Repository = (*SessionRepository)(nil)

// SessionRepository is an in-process session.Repository backed by go-cache.
// Used in tests and as a degraded-mode fallback when Redis is not
// configured; expired entries are purged in the background.
type SessionRepository struct {
	sessions  *gocache.Cache
	byContact *gocache.Cache
	archived  *gocache.Cache
}

// NewSessionRepository creates a new in-memory session repository
func NewSessionRepository(defaultTTL time.Duration) *SessionRepository {
	return &SessionRepository{
		sessions:  gocache.New(defaultTTL, 10*time.Minute),
		byContact: gocache.New(defaultTTL, 10*time.Minute),
		archived:  gocache.New(30*24*time.Hour, time.Hour),
	}
}

// Get retrieves a session by id
func (r *SessionRepository) Get(ctx context.Context, sessionID string) (*session.Session, error) {
	if x, found := r.sessions.Get(sessionID); found {
		return x.(*session.Session), nil
	}
	return nil, errors.Wrapf(errors.ErrNotFound, "session %s", sessionID)
}

// GetByContact retrieves the active session for a contact
func (r *SessionRepository) GetByContact(ctx context.Context, contactID string) (*session.Session, error) {
	x, found := r.byContact.Get(contactID)
	if !found {
		return nil, errors.Wrapf(errors.ErrNotFound, "no active session for contact %s", contactID)
	}
	return r.Get(ctx, x.(string))
}

// Save stores a session with the given TTL
func (r *SessionRepository) Save(ctx context.Context, s *session.Session, ttl time.Duration) error {
	r.sessions.Set(s.ID, s, ttl)
	r.byContact.Set(s.ContactID, s.ID, ttl)
	return nil
}

// Archive soft-deletes a session
func (r *SessionRepository) Archive(ctx context.Context, s *session.Session) error {
	s.Archived = true
	r.archived.Set(s.ID, s, gocache.DefaultExpiration)
	r.sessions.Delete(s.ID)
	r.byContact.Delete(s.ContactID)
	return nil
}

// ArchiveIdle archives sessions idle past the inactivity window
func (r *SessionRepository) ArchiveIdle(ctx context.Context, inactivity time.Duration) (int, error) {
	var archived int
	for _, item := range r.sessions.Items() {
		s, ok := item.Object.(*session.Session)
		if !ok || !s.Expired(inactivity) {
			continue
		}
		if err := r.Archive(ctx, s); err != nil {
			return archived, err
		}
		archived++
	}
	return archived, nil
}
