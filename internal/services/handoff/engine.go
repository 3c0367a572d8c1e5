package handoff

import (
	"context"
	"time"

	"concierge/internal/adapters/config"
	"concierge/internal/domain/agent"
	"concierge/internal/domain/session"
	"concierge/internal/domain/snapshot"
	"concierge/internal/metrics"
	"concierge/internal/services/scoring"
	"concierge/pkg/errors"
	"concierge/pkg/logger"
)

// Outcome is the terminal state of one handoff evaluation.
type Outcome string

const (
	OutcomeContinue  Outcome = "continue"
	OutcomeCommitted Outcome = "committed"
	OutcomeRejected  Outcome = "rejected"
)

// Decision describes what the engine did with one turn's scores.
type Decision struct {
	Outcome      Outcome
	OwningAgent  agent.Kind
	Target       agent.Kind
	Confidence   float64
	Reason       string
	SnapshotID   string
	RejectReason string
}

// Publisher is the audit sink for committed and rejected handoffs.
type Publisher interface {
	Publish(ctx context.Context, key string, payload interface{}) error
}

// auditEvent is the payload written to the handoff audit topics.
type auditEvent struct {
	SessionID  string     `json:"session_id"`
	ContactID  string     `json:"contact_id"`
	FromAgent  agent.Kind `json:"from_agent"`
	ToAgent    agent.Kind `json:"to_agent"`
	Confidence float64    `json:"confidence"`
	Reason     string     `json:"reason"`
	SnapshotID string     `json:"snapshot_id,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// Engine decides whether a session changes hands. A commit is snapshot
// first: the transfer package must be durable before OwningAgent flips,
// so a crash mid-commit leaves the session with its old owner and an
// orphan snapshot that ages out by TTL.
type Engine struct {
	cfg       config.HandoffConfig
	packager  *Packager
	snapshots snapshot.Repository
	committed Publisher
	rejected  Publisher
	log       *logger.Logger
}

func NewEngine(cfg config.HandoffConfig, packager *Packager, snapshots snapshot.Repository, committed, rejected Publisher) *Engine {
	return &Engine{
		cfg:       cfg,
		packager:  packager,
		snapshots: snapshots,
		committed: committed,
		rejected:  rejected,
		log:       logger.Get().With("component", "handoff_engine"),
	}
}

// Decide evaluates the top-scored candidate against the current owner
// and either keeps the owner, commits a handoff, or rejects one. The
// session is mutated in place on commit; the caller persists it.
func (e *Engine) Decide(ctx context.Context, sess *session.Session, results []scoring.Result) (Decision, error) {
	cont := Decision{Outcome: OutcomeContinue, OwningAgent: sess.OwningAgent}
	if len(results) == 0 {
		metrics.HandoffDecisions.WithLabelValues(string(OutcomeContinue)).Inc()
		return cont, nil
	}

	top := results[0]
	if top.AgentKind == sess.OwningAgent || top.Confidence < e.cfg.ConfidenceThreshold {
		metrics.HandoffDecisions.WithLabelValues(string(OutcomeContinue)).Inc()
		return cont, nil
	}

	from, to := sess.OwningAgent, top.AgentKind

	if e.isLoop(sess, from, to) {
		metrics.HandoffDecisions.WithLabelValues(string(OutcomeRejected)).Inc()
		metrics.CircularHandoffs.WithLabelValues(string(from), string(to)).Inc()
		e.audit(ctx, e.rejected, sess, from, to, top.Confidence, "loop_guard", "")
		return Decision{
			Outcome:      OutcomeRejected,
			OwningAgent:  from,
			Target:       to,
			Confidence:   top.Confidence,
			RejectReason: "loop_guard",
		}, errors.Wrapf(errors.ErrCircularHandoff, "session %s: %s -> %s repeats within window", sess.ID, from, to)
	}

	if e.isThrottled(sess) {
		metrics.HandoffDecisions.WithLabelValues(string(OutcomeRejected)).Inc()
		e.audit(ctx, e.rejected, sess, from, to, top.Confidence, "rate_guard", "")
		return Decision{
			Outcome:      OutcomeRejected,
			OwningAgent:  from,
			Target:       to,
			Confidence:   top.Confidence,
			RejectReason: "rate_guard",
		}, errors.Wrapf(errors.ErrHandoffThrottled, "session %s: %d handoffs within %s", sess.ID, e.cfg.RateCap, e.cfg.RateWindow)
	}

	snap := e.packager.Package(sess, from, to, top.Rationale, scoring.PriorScores(results))
	if err := e.snapshots.Save(ctx, snap); err != nil {
		// Owner is unchanged; the turn proceeds with the current agent.
		metrics.HandoffDecisions.WithLabelValues(string(OutcomeContinue)).Inc()
		e.log.Errorw("snapshot save failed, handoff aborted",
			"session_id", sess.ID, "from", from, "to", to, "error", err)
		return cont, errors.Wrap(err, "failed to persist handoff snapshot")
	}

	now := time.Now()
	sess.HandoffLog = append(sess.HandoffLog, session.HandoffRecord{
		FromAgent:  from,
		ToAgent:    to,
		Confidence: top.Confidence,
		Reason:     top.Rationale,
		Timestamp:  now,
		SnapshotID: snap.ID,
	})
	sess.OwningAgent = to

	metrics.HandoffDecisions.WithLabelValues(string(OutcomeCommitted)).Inc()
	e.audit(ctx, e.committed, sess, from, to, top.Confidence, top.Rationale, snap.ID.String())
	e.log.Infow("handoff committed",
		"session_id", sess.ID, "from", from, "to", to,
		"confidence", top.Confidence, "snapshot_id", snap.ID)

	return Decision{
		Outcome:     OutcomeCommitted,
		OwningAgent: to,
		Target:      to,
		Confidence:  top.Confidence,
		Reason:      top.Rationale,
		SnapshotID:  snap.ID.String(),
	}, nil
}

// isLoop reports whether the (from, to) pair already appears among the
// recent handoffs, bounded by both count and age.
func (e *Engine) isLoop(sess *session.Session, from, to agent.Kind) bool {
	recent := sess.HandoffLog
	if len(recent) > e.cfg.LoopWindowSize {
		recent = recent[len(recent)-e.cfg.LoopWindowSize:]
	}
	cutoff := time.Now().Add(-e.cfg.LoopWindowDuration)
	for _, rec := range recent {
		if rec.Timestamp.Before(cutoff) {
			continue
		}
		if rec.FromAgent == from && rec.ToAgent == to {
			return true
		}
	}
	return false
}

// isThrottled reports whether the session already committed RateCap
// handoffs inside RateWindow.
func (e *Engine) isThrottled(sess *session.Session) bool {
	cutoff := time.Now().Add(-e.cfg.RateWindow)
	n := 0
	for i := len(sess.HandoffLog) - 1; i >= 0; i-- {
		if sess.HandoffLog[i].Timestamp.Before(cutoff) {
			break
		}
		n++
	}
	return n >= e.cfg.RateCap
}

func (e *Engine) audit(ctx context.Context, pub Publisher, sess *session.Session, from, to agent.Kind, confidence float64, reason, snapshotID string) {
	if pub == nil {
		return
	}
	evt := auditEvent{
		SessionID:  sess.ID,
		ContactID:  sess.ContactID,
		FromAgent:  from,
		ToAgent:    to,
		Confidence: confidence,
		Reason:     reason,
		SnapshotID: snapshotID,
		OccurredAt: time.Now(),
	}
	if err := pub.Publish(ctx, sess.ContactID, evt); err != nil {
		e.log.Warnw("handoff audit publish failed", "session_id", sess.ID, "error", err)
	}
}
