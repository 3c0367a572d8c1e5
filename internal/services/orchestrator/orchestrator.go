// Package orchestrator runs the per-turn pipeline: session resolution,
// entity extraction, agent scoring, handoff decision, model invocation,
// compliance, quota, and delivery.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"concierge/internal/adapters/config"
	"concierge/internal/domain/agent"
	"concierge/internal/domain/contact"
	"concierge/internal/domain/message"
	"concierge/internal/domain/prompt"
	"concierge/internal/domain/session"
	"concierge/internal/domain/snapshot"
	"concierge/internal/metrics"
	"concierge/internal/services/gateway"
	"concierge/internal/services/handoff"
	"concierge/internal/services/quota"
	"concierge/internal/services/scoring"
	"concierge/pkg/errors"
	"concierge/pkg/logger"

	"github.com/google/uuid"
)

// ModelInvoker resolves a prompt into a parsed model result.
type ModelInvoker interface {
	Invoke(ctx context.Context, spec prompt.Spec) (*gateway.ParsedResult, error)
}

// AgentScorer evaluates candidate agents against session state.
type AgentScorer interface {
	ScoreAll(ctx context.Context, sess *session.Session) []scoring.Result
}

// HandoffDecider applies the handoff state machine to one turn's scores.
type HandoffDecider interface {
	Decide(ctx context.Context, sess *session.Session, results []scoring.Result) (handoff.Decision, error)
}

// ComplianceGate screens inbound opt-outs and filters outbound replies.
type ComplianceGate interface {
	CheckInbound(ctx context.Context, sess *session.Session, text string) bool
	Apply(ctx context.Context, sess *session.Session, channel message.Channel, text string) string
}

// QuotaLimiter reserves and releases per-contact send slots.
type QuotaLimiter interface {
	Reserve(ctx context.Context, contactID string) (quota.Result, error)
	Release(ctx context.Context, contactID string)
}

// Publisher queues deferred sends for later redelivery.
type Publisher interface {
	Publish(ctx context.Context, key string, payload interface{}) error
}

const lockRetries = 3

// Orchestrator coordinates one conversation turn end to end. Every
// mutation of a session happens under the registry's per-session lock,
// so concurrent turns for the same contact serialize rather than race.
type Orchestrator struct {
	cfg        config.Config
	sessions   *session.Registry
	scorer     AgentScorer
	engine     HandoffDecider
	snapshots  snapshot.Repository
	gateway    ModelInvoker
	gate       ComplianceGate
	limiter    QuotaLimiter
	contacts   contact.Store
	sender     contact.Sender
	deferred   Publisher
	candidates []agent.Candidate
	log        *logger.Logger
}

func New(
	cfg config.Config,
	sessions *session.Registry,
	scorer AgentScorer,
	engine HandoffDecider,
	snapshots snapshot.Repository,
	gw ModelInvoker,
	gate ComplianceGate,
	limiter QuotaLimiter,
	contacts contact.Store,
	sender contact.Sender,
	deferred Publisher,
	candidates []agent.Candidate,
) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		sessions:   sessions,
		scorer:     scorer,
		engine:     engine,
		snapshots:  snapshots,
		gateway:    gw,
		gate:       gate,
		limiter:    limiter,
		contacts:   contacts,
		sender:     sender,
		deferred:   deferred,
		candidates: candidates,
		log:        logger.Get().With("component", "orchestrator"),
	}
}

// HandleInbound processes one inbound message under the turn deadline.
// It always returns within the deadline; on internal failure the
// contact receives the safe fallback reply rather than silence.
func (o *Orchestrator) HandleInbound(ctx context.Context, msg message.Inbound) error {
	if !msg.Channel.Valid() {
		return errors.Wrapf(errors.ErrInvalidInput, "unknown channel %q", msg.Channel)
	}
	if strings.TrimSpace(msg.Text) == "" {
		return errors.Wrap(errors.ErrInvalidInput, "empty message text")
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Session.TurnDeadline)
	defer cancel()

	start := time.Now()
	outcome, err := o.runTurn(ctx, msg)

	metrics.TurnOutcomes.WithLabelValues(outcome).Inc()
	metrics.TurnDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return err
}

func (o *Orchestrator) runTurn(ctx context.Context, msg message.Inbound) (string, error) {
	sess, err := o.sessions.GetOrCreate(ctx, msg.ContactID, msg.Channel)
	if err != nil {
		return "error", errors.Wrap(err, "failed to resolve session")
	}

	outcome := "error"
	err = o.withLockRetry(ctx, sess.ID, func(s *session.Session) error {
		var turnErr error
		outcome, turnErr = o.processTurn(ctx, s, msg)
		return turnErr
	})
	if err != nil {
		return outcome, err
	}
	return outcome, nil
}

// withLockRetry retries lock acquisition when a concurrent turn holds
// the session. Backoff is linear; a turn that cannot get the lock in
// three attempts reports busy and the intake layer redelivers.
func (o *Orchestrator) withLockRetry(ctx context.Context, sessionID string, fn func(*session.Session) error) error {
	var err error
	for attempt := 1; attempt <= lockRetries; attempt++ {
		err = o.sessions.WithLock(ctx, sessionID, fn)
		if !errors.Is(err, errors.ErrSessionBusy) {
			return err
		}
		select {
		case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
		case <-ctx.Done():
			return errors.Wrap(errors.ErrTimeout, "turn deadline while waiting for session lock")
		}
	}
	return err
}

func (o *Orchestrator) processTurn(ctx context.Context, sess *session.Session, msg message.Inbound) (string, error) {
	if sess.OptedOut {
		o.log.Infow("dropping inbound from opted-out contact", "contact_id", msg.ContactID)
		return "suppressed", nil
	}

	sess.AppendTurn(session.RoleUser, msg.Text, sess.OwningAgent)
	extractEntities(sess.Entities, msg.Text)

	if o.gate.CheckInbound(ctx, sess, msg.Text) {
		// Session is saved with OptedOut set; no reply goes out.
		return "opted_out", nil
	}

	results := o.scorer.ScoreAll(ctx, sess)

	decision, err := o.engine.Decide(ctx, sess, results)
	if err != nil && decision.Outcome != handoff.OutcomeRejected {
		// Snapshot persistence failed; the turn continues with the
		// current owner, which Decide already guaranteed.
		o.log.Errorw("handoff decision error", "session_id", sess.ID, "error", err)
	}

	var transfer *snapshot.Snapshot
	if decision.Outcome == handoff.OutcomeCommitted {
		transfer = o.loadSnapshot(ctx, decision.SnapshotID)
	}

	reply, partial := o.generateReply(ctx, sess, msg, transfer)

	o.syncCRM(ctx, sess, topConfidence(results))

	reply = o.gate.Apply(ctx, sess, msg.Channel, reply)

	outcome, err := o.deliver(ctx, sess, msg.Channel, reply)
	if err != nil {
		return outcome, err
	}

	sess.AppendTurn(session.RoleAssistant, reply, sess.OwningAgent)
	if partial {
		return "partial", nil
	}
	return outcome, nil
}

// loadSnapshot resolves a committed handoff's transfer package for the
// incoming agent. A missing or expired snapshot is treated as absent and
// the prompt falls back to raw session history.
func (o *Orchestrator) loadSnapshot(ctx context.Context, id string) *snapshot.Snapshot {
	if o.snapshots == nil || id == "" {
		return nil
	}
	snapID, err := uuid.Parse(id)
	if err != nil {
		return nil
	}
	snap, err := o.snapshots.Get(ctx, snapID)
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			o.log.Warnw("snapshot load failed, using session history", "snapshot_id", id, "error", err)
		}
		return nil
	}
	return snap
}

// generateReply invokes the model as the owning agent. Any gateway
// failure degrades to the configured fallback text; the turn never
// fails because a provider did.
func (o *Orchestrator) generateReply(ctx context.Context, sess *session.Session, msg message.Inbound, transfer *snapshot.Snapshot) (string, bool) {
	spec := o.buildPrompt(sess, msg, transfer)

	result, err := o.gateway.Invoke(ctx, spec)
	if err != nil {
		o.log.Errorw("model invocation failed, using fallback reply",
			"session_id", sess.ID, "agent", sess.OwningAgent, "error", err)
		return o.cfg.Compliance.FallbackText, false
	}

	mergeModelFields(sess.Entities, result.Fields)
	return result.Reply, result.IsPartial
}

// buildPrompt assembles the turn prompt from session state. When a
// transfer snapshot is present its payload is the context source, so the
// incoming agent sees exactly what was packaged at commit time.
func (o *Orchestrator) buildPrompt(sess *session.Session, msg message.Inbound, transfer *snapshot.Snapshot) prompt.Spec {
	persona := ""
	if cand, ok := agent.Find(o.candidates, sess.OwningAgent); ok {
		persona = cand.SystemPrompt
	}

	turns := sess.LastTurns(o.cfg.Handoff.SnapshotTurns)
	facts := sess.Entities
	if transfer != nil {
		turns = transfer.Payload.Turns
		facts = transfer.Payload.Entities
	}
	history := renderTurns(turns)
	entities := renderEntities(facts)

	var b strings.Builder
	if transfer != nil {
		fmt.Fprintf(&b, "You are taking over this conversation from %s. Transfer reason: %s\n",
			transfer.Payload.FromAgent, transfer.Payload.Reason)
	}
	if entities != "" {
		b.WriteString("Known facts: ")
		b.WriteString(entities)
		b.WriteString("\n")
	}
	if history != "" {
		b.WriteString("Conversation so far:\n")
		b.WriteString(history)
		b.WriteString("\n")
	}
	b.WriteString("Latest message: ")
	b.WriteString(msg.Text)
	b.WriteString("\nRespond with <reply>your message</reply> and optionally ")
	b.WriteString("<intent>, <budget>, <timeline>, <motivation> tags for anything you learned.")

	return prompt.Spec{
		TemplateID: "agent_turn:" + string(sess.OwningAgent),
		Variables: map[string]string{
			"message":  msg.Text,
			"entities": entities,
			"history":  history,
		},
		System:      persona,
		Text:        b.String(),
		Temperature: 0.7,
		MaxTokens:   400,
		Scope:       prompt.ScopeTurn,
	}
}

// syncCRM pushes the lead temperature and qualification fields to the
// CRM. CRM unavailability never fails the turn.
func (o *Orchestrator) syncCRM(ctx context.Context, sess *session.Session, confidence float64) {
	if o.contacts == nil {
		return
	}

	temp := classifyTemperature(sess, confidence)
	if err := o.contacts.WriteTags(ctx, sess.ContactID, []string{strings.ToLower(string(temp)) + "-lead"}); err != nil {
		o.log.Warnw("crm tag sync failed", "contact_id", sess.ContactID, "error", err)
	}

	fields := map[string]string{
		"lead_temperature": string(temp),
		"owning_agent":     string(sess.OwningAgent),
	}
	for _, k := range []string{"intent", "budget", "timeline", "motivation"} {
		if v := sess.Entities[k]; v != "" {
			fields[k] = v
		}
	}
	if err := o.contacts.WriteCustomFields(ctx, sess.ContactID, fields); err != nil {
		o.log.Warnw("crm field sync failed", "contact_id", sess.ContactID, "error", err)
	}
}

// deliver reserves quota and sends, or queues the message for later
// redelivery when a window is full. Deferred messages are never dropped.
func (o *Orchestrator) deliver(ctx context.Context, sess *session.Session, channel message.Channel, text string) (string, error) {
	res, err := o.limiter.Reserve(ctx, sess.ContactID)
	if !res.Allowed {
		if qErr := o.queueDeferred(ctx, sess, channel, text, res.RetryAfter, 0); qErr != nil {
			return "error", qErr
		}
		o.log.Infow("send deferred by quota",
			"contact_id", sess.ContactID, "window", res.Window, "retry_at", res.RetryAfter)
		if err != nil && !errors.Is(err, errors.ErrQuotaExceeded) {
			return "deferred", err
		}
		return "deferred", nil
	}

	if _, err := o.sender.Send(ctx, sess.ContactID, channel, text); err != nil {
		o.limiter.Release(ctx, sess.ContactID)
		return "error", errors.Wrap(err, "outbound send failed")
	}
	return "sent", nil
}

func (o *Orchestrator) queueDeferred(ctx context.Context, sess *session.Session, channel message.Channel, text string, retryAt time.Time, attempts int) error {
	if o.deferred == nil {
		return errors.Wrap(errors.ErrUnavailable, "no deferred queue configured")
	}
	d := message.DeferredSend{
		ContactID: sess.ContactID,
		Channel:   channel,
		Text:      text,
		SessionID: sess.ID,
		RetryAt:   retryAt,
		Attempts:  attempts + 1,
	}
	if err := o.deferred.Publish(ctx, sess.ContactID, d); err != nil {
		return errors.Wrap(err, "failed to queue deferred send")
	}
	return nil
}

// DeliverDeferred attempts redelivery of a previously deferred send.
// Opt-out is re-checked because it may have arrived after deferral.
func (o *Orchestrator) DeliverDeferred(ctx context.Context, d message.DeferredSend) error {
	sess, err := o.sessions.GetOrCreate(ctx, d.ContactID, d.Channel)
	if err != nil {
		return errors.Wrap(err, "failed to resolve session for deferred send")
	}

	return o.withLockRetry(ctx, sess.ID, func(s *session.Session) error {
		if s.OptedOut {
			o.log.Infow("dropping deferred send for opted-out contact", "contact_id", d.ContactID)
			return nil
		}

		// The CRM is the authority on do-not-contact state; an opt-out
		// recorded there by another channel must win even when this
		// session never saw a STOP message.
		if o.contacts != nil {
			if rec, err := o.contacts.ReadContact(ctx, d.ContactID); err == nil && rec.OptedOut() {
				s.OptedOut = true
				o.log.Infow("dropping deferred send, contact is dnc in crm", "contact_id", d.ContactID)
				return nil
			}
		}

		res, err := o.limiter.Reserve(ctx, d.ContactID)
		if !res.Allowed {
			if err != nil && !errors.Is(err, errors.ErrQuotaExceeded) {
				return err
			}
			d.Attempts++
			d.RetryAt = res.RetryAfter
			if o.deferred == nil {
				return errors.Wrap(errors.ErrUnavailable, "no deferred queue configured")
			}
			return o.deferred.Publish(ctx, d.ContactID, d)
		}

		if _, err := o.sender.Send(ctx, d.ContactID, d.Channel, d.Text); err != nil {
			o.limiter.Release(ctx, d.ContactID)
			return errors.Wrap(err, "deferred send failed")
		}
		s.AppendTurn(session.RoleAssistant, d.Text, s.OwningAgent)
		return nil
	})
}

func topConfidence(results []scoring.Result) float64 {
	if len(results) == 0 {
		return 0
	}
	return results[0].Confidence
}

func renderTurns(turns []session.Turn) string {
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderEntities(entities map[string]string) string {
	parts := make([]string, 0, len(entities))
	for _, k := range []string{"intent", "budget", "timeline", "motivation"} {
		if v := entities[k]; v != "" {
			parts = append(parts, k+"="+v)
		}
	}
	return strings.Join(parts, ", ")
}
