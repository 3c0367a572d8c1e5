package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"concierge/internal/domain/snapshot"
	"concierge/pkg/errors"
)

// Compile-time check
var _ snapshot.Repository = (*SnapshotRepository)(nil)

// SnapshotRepository implements snapshot.Repository using Redis.
// Expiry is enforced twice: the Redis key TTL garbage-collects the data,
// and an explicit ExpiresAt check covers clock skew between writers.
type SnapshotRepository struct {
	client *redis.Client
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(client *redis.Client) *SnapshotRepository {
	return &SnapshotRepository{client: client}
}

// Save stores a snapshot with a TTL derived from its ExpiresAt
func (r *SnapshotRepository) Save(ctx context.Context, s *snapshot.Snapshot) error {
	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		return errors.Wrapf(errors.ErrInvalidInput, "snapshot %s already expired", s.ID)
	}

	data, err := json.Marshal(s)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal snapshot %s", s.ID)
	}

	if err := r.client.Set(ctx, r.key(s.ID), data, ttl).Err(); err != nil {
		return errors.Wrapf(err, "failed to save snapshot %s", s.ID)
	}

	return nil
}

// Get retrieves a snapshot; expired snapshots surface as ErrNotFound
func (r *SnapshotRepository) Get(ctx context.Context, id uuid.UUID) (*snapshot.Snapshot, error) {
	data, err := r.client.Get(ctx, r.key(id)).Result()
	if err == redis.Nil {
		return nil, errors.Wrapf(errors.ErrNotFound, "snapshot %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get snapshot %s", id)
	}

	var s snapshot.Snapshot
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal snapshot %s", id)
	}

	if s.Expired() {
		return nil, errors.Wrapf(errors.ErrNotFound, "snapshot %s expired", id)
	}

	return &s, nil
}

// DeleteExpired is a no-op for Redis: key TTLs collect expired snapshots
func (r *SnapshotRepository) DeleteExpired(ctx context.Context) (int64, error) {
	return 0, nil
}

func (r *SnapshotRepository) key(id uuid.UUID) string {
	return fmt.Sprintf("snapshot:%s", id)
}
