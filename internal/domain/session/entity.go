package session

import (
	"time"

	"github.com/google/uuid"

	"concierge/internal/domain/agent"
	"concierge/internal/domain/message"
)

// Turn roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is a single exchange in the conversation history.
// History is append-only for the life of a session.
type Turn struct {
	Role          string     `json:"role"`
	Text          string     `json:"text"`
	Timestamp     time.Time  `json:"timestamp"`
	AgentOfRecord agent.Kind `json:"agent_of_record"`
}

// HandoffRecord is appended by a committed handoff transaction.
// Immutable once appended; used for loop detection and audit.
type HandoffRecord struct {
	FromAgent  agent.Kind `json:"from_agent"`
	ToAgent    agent.Kind `json:"to_agent"`
	Confidence float64    `json:"confidence"`
	Reason     string     `json:"reason"`
	Timestamp  time.Time  `json:"timestamp"`
	SnapshotID uuid.UUID  `json:"snapshot_id"`
}

// Session is the per-conversation state. Exactly one OwningAgent at any
// instant; OwningAgent is only mutated by a committed handoff.
type Session struct {
	ID             string            `json:"id"`
	ContactID      string            `json:"contact_id"`
	Channel        message.Channel   `json:"channel"`
	OwningAgent    agent.Kind        `json:"owning_agent"`
	TurnCount      int               `json:"turn_count"`
	History        []Turn            `json:"history"`
	HandoffLog     []HandoffRecord   `json:"handoff_log"`
	Entities       map[string]string `json:"entities"`
	DisclosureSent bool              `json:"disclosure_sent"`
	OptedOut       bool              `json:"opted_out"`
	CreatedAt      time.Time         `json:"created_at"`
	LastActivityAt time.Time         `json:"last_activity_at"`
	Archived       bool              `json:"archived"`
}

// New creates a fresh session for a contact. New conversations start
// with the intent decoder until a clearer owner emerges.
func New(contactID string, channel message.Channel) *Session {
	now := time.Now()
	return &Session{
		ID:             uuid.NewString(),
		ContactID:      contactID,
		Channel:        channel,
		OwningAgent:    agent.KindIntentDecoder,
		History:        make([]Turn, 0, 16),
		HandoffLog:     make([]HandoffRecord, 0, 4),
		Entities:       make(map[string]string),
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

// AppendTurn appends a turn and advances activity tracking
func (s *Session) AppendTurn(role, text string, agentOfRecord agent.Kind) {
	s.History = append(s.History, Turn{
		Role:          role,
		Text:          text,
		Timestamp:     time.Now(),
		AgentOfRecord: agentOfRecord,
	})
	if role == RoleUser {
		s.TurnCount++
	}
	s.LastActivityAt = time.Now()
}

// LastInbound returns the most recent user turn text, if any
func (s *Session) LastInbound() string {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Role == RoleUser {
			return s.History[i].Text
		}
	}
	return ""
}

// RecentInbound returns up to n of the most recent user turn texts,
// most recent first.
func (s *Session) RecentInbound(n int) []string {
	texts := make([]string, 0, n)
	for i := len(s.History) - 1; i >= 0 && len(texts) < n; i-- {
		if s.History[i].Role == RoleUser {
			texts = append(texts, s.History[i].Text)
		}
	}
	return texts
}

// LastTurns returns up to n of the most recent turns in chronological order
func (s *Session) LastTurns(n int) []Turn {
	if len(s.History) <= n {
		out := make([]Turn, len(s.History))
		copy(out, s.History)
		return out
	}
	out := make([]Turn, n)
	copy(out, s.History[len(s.History)-n:])
	return out
}

// Expired reports whether the session passed its inactivity window
func (s *Session) Expired(window time.Duration) bool {
	return time.Since(s.LastActivityAt) > window
}

// AgentState projects the session into the view scorers and activation
// predicates consume.
func (s *Session) AgentState(recentTurns int) agent.State {
	entities := make(map[string]string, len(s.Entities))
	for k, v := range s.Entities {
		entities[k] = v
	}
	return agent.State{
		OwningAgent:  s.OwningAgent,
		TurnCount:    s.TurnCount,
		LastInbound:  s.LastInbound(),
		RecentTexts:  s.RecentInbound(recentTurns),
		Entities:     entities,
		HandoffCount: len(s.HandoffLog),
	}
}
