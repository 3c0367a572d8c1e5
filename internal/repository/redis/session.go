package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"concierge/internal/domain/session"
	"concierge/pkg/errors"
)

// Compile-time check
var _ session.Repository = (*SessionRepository)(nil)

// SessionRepository implements session.Repository using Redis.
// The active session for a contact is found through a contact index key;
// archived sessions keep their payload under a separate prefix so the
// history survives for audit without being visible as active.
type SessionRepository struct {
	client *redis.Client
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(client *redis.Client) *SessionRepository {
	return &SessionRepository{client: client}
}

// Get retrieves a session by id
func (r *SessionRepository) Get(ctx context.Context, sessionID string) (*session.Session, error) {
	data, err := r.client.Get(ctx, r.sessionKey(sessionID)).Result()
	if err == redis.Nil {
		return nil, errors.Wrapf(errors.ErrNotFound, "session %s", sessionID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get session from redis: %s", sessionID)
	}

	var s session.Session
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal session %s", sessionID)
	}

	return &s, nil
}

// GetByContact retrieves the active session for a contact via the index key
func (r *SessionRepository) GetByContact(ctx context.Context, contactID string) (*session.Session, error) {
	sessionID, err := r.client.Get(ctx, r.contactKey(contactID)).Result()
	if err == redis.Nil {
		return nil, errors.Wrapf(errors.ErrNotFound, "no active session for contact %s", contactID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve contact index: %s", contactID)
	}

	return r.Get(ctx, sessionID)
}

// Save stores the session and refreshes the contact index with the same TTL
func (r *SessionRepository) Save(ctx context.Context, s *session.Session, ttl time.Duration) error {
	data, err := json.Marshal(s)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal session %s", s.ID)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.sessionKey(s.ID), data, ttl)
	pipe.Set(ctx, r.contactKey(s.ContactID), s.ID, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "failed to save session %s", s.ID)
	}

	return nil
}

// Archive soft-deletes a session: the payload moves under the archive
// prefix and the active keys are removed.
func (r *SessionRepository) Archive(ctx context.Context, s *session.Session) error {
	s.Archived = true
	data, err := json.Marshal(s)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal session %s", s.ID)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.archiveKey(s.ID), data, 30*24*time.Hour)
	pipe.Del(ctx, r.sessionKey(s.ID))
	pipe.Del(ctx, r.contactKey(s.ContactID))
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "failed to archive session %s", s.ID)
	}

	return nil
}

// ArchiveIdle scans active sessions and archives the ones idle past the
// inactivity window. Sessions are stored with a retention TTL beyond the
// window, so the sweep finds them before Redis expires the keys.
func (r *SessionRepository) ArchiveIdle(ctx context.Context, inactivity time.Duration) (int, error) {
	var archived int
	iter := r.client.Scan(ctx, 0, "session:*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := r.client.Get(ctx, iter.Val()).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return archived, errors.Wrap(err, "failed to load session during idle sweep")
		}

		var s session.Session
		if err := json.Unmarshal([]byte(data), &s); err != nil {
			continue
		}
		if !s.Expired(inactivity) {
			continue
		}
		if err := r.Archive(ctx, &s); err != nil {
			return archived, err
		}
		archived++
	}
	if err := iter.Err(); err != nil {
		return archived, errors.Wrap(err, "session idle sweep failed")
	}
	return archived, nil
}

func (r *SessionRepository) sessionKey(id string) string {
	return fmt.Sprintf("session:%s", id)
}

func (r *SessionRepository) contactKey(contactID string) string {
	return fmt.Sprintf("contact_session:%s", contactID)
}

func (r *SessionRepository) archiveKey(id string) string {
	return fmt.Sprintf("archived:session:%s", id)
}
