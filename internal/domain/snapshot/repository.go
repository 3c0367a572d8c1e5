package snapshot

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists context snapshots. Get must return
// pkg/errors.ErrNotFound for both missing and expired snapshots so
// readers fall back to raw session history instead of erroring.
type Repository interface {
	Save(ctx context.Context, s *Snapshot) error
	Get(ctx context.Context, id uuid.UUID) (*Snapshot, error)
	DeleteExpired(ctx context.Context) (int64, error)
}
