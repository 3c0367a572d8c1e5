package snapshot

import (
	"time"

	"github.com/google/uuid"

	"concierge/internal/domain/agent"
	"concierge/internal/domain/session"
)

// Payload is the bounded subset of session state handed to the new
// owning agent. Size-bounded so it can feed a prompt without unbounded
// growth.
type Payload struct {
	Turns       []session.Turn         `json:"turns"`
	Entities    map[string]string      `json:"entities"`
	PriorScores map[agent.Kind]float64 `json:"prior_scores"`
	FromAgent   agent.Kind             `json:"from_agent"`
	ToAgent     agent.Kind             `json:"to_agent"`
	Reason      string                 `json:"reason"`
}

// Snapshot is the transfer package created at handoff commit time.
// Read-only once created; garbage-collected after ExpiresAt.
type Snapshot struct {
	ID        uuid.UUID `json:"id"`
	SessionID string    `json:"session_id"`
	Payload   Payload   `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the snapshot is past its TTL. An expired
// snapshot must be treated as absent, never served as stale context.
func (s *Snapshot) Expired() bool {
	return time.Now().After(s.ExpiresAt)
}
