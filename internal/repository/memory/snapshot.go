package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"concierge/internal/domain/snapshot"
	"concierge/pkg/errors"
)

// Compile-time check
var _ snapshot.Repository = (*SnapshotRepository)(nil)

// SnapshotRepository is an in-process snapshot.Repository for tests and
// degraded-mode operation.
type SnapshotRepository struct {
	mu        sync.RWMutex
	snapshots map[uuid.UUID]*snapshot.Snapshot
}

// NewSnapshotRepository creates a new in-memory snapshot repository
func NewSnapshotRepository() *SnapshotRepository {
	return &SnapshotRepository{
		snapshots: make(map[uuid.UUID]*snapshot.Snapshot),
	}
}

// Save stores a snapshot
func (r *SnapshotRepository) Save(ctx context.Context, s *snapshot.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots[s.ID] = s
	return nil
}

// Get retrieves a snapshot; expired snapshots surface as ErrNotFound
func (r *SnapshotRepository) Get(ctx context.Context, id uuid.UUID) (*snapshot.Snapshot, error) {
	r.mu.RLock()
	s, ok := r.snapshots[id]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "snapshot %s", id)
	}
	if s.Expired() {
		return nil, errors.Wrapf(errors.ErrNotFound, "snapshot %s expired", id)
	}
	return s, nil
}

// DeleteExpired removes expired snapshots
func (r *SnapshotRepository) DeleteExpired(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed int64
	for id, s := range r.snapshots {
		if s.Expired() {
			delete(r.snapshots, id)
			removed++
		}
	}
	return removed, nil
}
