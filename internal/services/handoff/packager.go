package handoff

import (
	"time"

	"github.com/google/uuid"

	"concierge/internal/domain/agent"
	"concierge/internal/domain/session"
	"concierge/internal/domain/snapshot"
)

// Packager builds the bounded, TTL-limited transfer package handed to
// the new owning agent.
type Packager struct {
	maxTurns int
	ttl      time.Duration
}

// NewPackager creates a packager. maxTurns bounds the payload so it can
// feed the next agent's prompt without unbounded growth.
func NewPackager(maxTurns int, ttl time.Duration) *Packager {
	if maxTurns <= 0 {
		maxTurns = 10
	}
	return &Packager{maxTurns: maxTurns, ttl: ttl}
}

// Package produces a snapshot of the session for the receiving agent
func (p *Packager) Package(sess *session.Session, from, to agent.Kind, reason string, priorScores map[agent.Kind]float64) *snapshot.Snapshot {
	entities := make(map[string]string, len(sess.Entities))
	for k, v := range sess.Entities {
		entities[k] = v
	}

	now := time.Now()
	return &snapshot.Snapshot{
		ID:        uuid.New(),
		SessionID: sess.ID,
		Payload: snapshot.Payload{
			Turns:       sess.LastTurns(p.maxTurns),
			Entities:    entities,
			PriorScores: priorScores,
			FromAgent:   from,
			ToAgent:     to,
			Reason:      reason,
		},
		CreatedAt: now,
		ExpiresAt: now.Add(p.ttl),
	}
}
