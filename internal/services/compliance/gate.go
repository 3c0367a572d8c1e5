package compliance

import (
	"context"
	"time"

	"concierge/internal/adapters/config"
	"concierge/internal/domain/contact"
	"concierge/internal/domain/message"
	"concierge/internal/domain/session"
	"concierge/internal/metrics"
	"concierge/pkg/errors"
	"concierge/pkg/logger"
)

// Publisher is the sink for flagged-content audit events.
type Publisher interface {
	Publish(ctx context.Context, key string, payload interface{}) error
}

// flaggedEvent is published when the denylist replaces an outbound reply.
type flaggedEvent struct {
	SessionID  string    `json:"session_id"`
	ContactID  string    `json:"contact_id"`
	Pattern    string    `json:"pattern"`
	Original   string    `json:"original"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Gate runs every outbound reply through an ordered stage pipeline:
// denylist, disclosure injection, then length truncation. Truncation
// runs last so the disclosure is never silently cut in a later stage.
// Inbound opt-out detection is a separate entry point because it
// suppresses the reply entirely.
type Gate struct {
	cfg      config.ComplianceConfig
	contacts contact.Store
	flagged  Publisher
	denylist []denyPattern
	log      *logger.Logger
}

func NewGate(cfg config.ComplianceConfig, contacts contact.Store, flagged Publisher) (*Gate, error) {
	denylist, err := buildDenylist(cfg.ExtraDenylist)
	if err != nil {
		return nil, errors.Wrap(err, "failed to compile denylist")
	}
	return &Gate{
		cfg:      cfg,
		contacts: contacts,
		flagged:  flagged,
		denylist: denylist,
		log:      logger.Get().With("component", "compliance_gate"),
	}, nil
}

// CheckInbound inspects an inbound message for an opt-out keyword.
// On opt-out it marks the session, tags the contact as do-not-contact
// in the CRM, and returns true; the caller must suppress the reply.
func (g *Gate) CheckInbound(ctx context.Context, sess *session.Session, text string) bool {
	if !isOptOut(text) {
		return false
	}

	sess.OptedOut = true
	metrics.ComplianceActions.WithLabelValues("opt_out", "suppressed").Inc()

	if g.contacts != nil {
		if err := g.contacts.WriteTags(ctx, sess.ContactID, []string{contact.TagDoNotContact}); err != nil {
			// The session flag alone still suppresses sends; the CRM tag
			// is retried on the next inbound because the flag persists.
			g.log.Errorw("failed to write dnc tag", "contact_id", sess.ContactID, "error", err)
		}
	}

	g.log.Infow("opt-out detected", "session_id", sess.ID, "contact_id", sess.ContactID)
	return true
}

// Apply runs the outbound pipeline over a candidate reply and returns
// the text that may actually be sent. It never returns an error for
// content problems; violations are replaced with safe text.
func (g *Gate) Apply(ctx context.Context, sess *session.Session, channel message.Channel, text string) string {
	text = g.applyDenylist(ctx, sess, text)
	text = g.applyDisclosure(sess, text)
	return g.applyTruncation(channel, text)
}

func (g *Gate) applyDenylist(ctx context.Context, sess *session.Session, text string) string {
	pattern, hit := matchDenylist(g.denylist, text)
	if !hit {
		return text
	}

	metrics.ComplianceActions.WithLabelValues("denylist", "replaced").Inc()
	g.log.Warnw("outbound reply blocked by denylist",
		"session_id", sess.ID, "pattern", pattern)

	if g.contacts != nil {
		if err := g.contacts.WriteTags(ctx, sess.ContactID, []string{contact.TagNeedsReview}); err != nil {
			g.log.Errorw("failed to write review tag", "contact_id", sess.ContactID, "error", err)
		}
	}
	if g.flagged != nil {
		evt := flaggedEvent{
			SessionID:  sess.ID,
			ContactID:  sess.ContactID,
			Pattern:    pattern,
			Original:   text,
			OccurredAt: time.Now(),
		}
		if err := g.flagged.Publish(ctx, sess.ContactID, evt); err != nil {
			g.log.Warnw("flagged event publish failed", "session_id", sess.ID, "error", err)
		}
	}

	return g.cfg.FallbackText
}

func (g *Gate) applyDisclosure(sess *session.Session, text string) string {
	if sess.DisclosureSent || g.cfg.DisclosureText == "" {
		return text
	}
	sess.DisclosureSent = true
	metrics.ComplianceActions.WithLabelValues("disclosure", "injected").Inc()
	return g.cfg.DisclosureText + " " + text
}

func (g *Gate) applyTruncation(channel message.Channel, text string) string {
	if channel != message.ChannelSMS || g.cfg.SMSMaxChars <= 0 {
		return text
	}
	out := truncateAtSentence(text, g.cfg.SMSMaxChars)
	if out != text {
		metrics.ComplianceActions.WithLabelValues("truncation", "truncated").Inc()
	}
	return out
}
