package session

import (
	"context"
	"time"
)

// Repository persists conversation sessions. Implementations must return
// pkg/errors.ErrNotFound when no active session exists.
type Repository interface {
	// Get retrieves a session by id
	Get(ctx context.Context, sessionID string) (*Session, error)

	// GetByContact retrieves the active (non-archived) session for a contact
	GetByContact(ctx context.Context, contactID string) (*Session, error)

	// Save stores a session with the given TTL
	Save(ctx context.Context, s *Session, ttl time.Duration) error

	// Archive soft-deletes a session; its history is no longer visible to
	// new sessions for the same contact
	Archive(ctx context.Context, s *Session) error

	// ArchiveIdle archives every active session whose last activity
	// predates the inactivity window, returning how many were moved
	ArchiveIdle(ctx context.Context, inactivity time.Duration) (int, error)
}
