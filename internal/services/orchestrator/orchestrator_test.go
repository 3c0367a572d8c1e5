package orchestrator_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"concierge/internal/adapters/config"
	"concierge/internal/domain/agent"
	"concierge/internal/domain/contact"
	"concierge/internal/domain/message"
	"concierge/internal/domain/prompt"
	"concierge/internal/domain/session"
	"concierge/internal/repository/memory"
	"concierge/internal/services/compliance"
	"concierge/internal/services/gateway"
	"concierge/internal/services/handoff"
	"concierge/internal/services/orchestrator"
	"concierge/internal/services/quota"
	"concierge/internal/services/scoring"
)

type fakeInvoker struct {
	result *gateway.ParsedResult
	err    error
	calls  int
	specs  []prompt.Spec
}

func (f *fakeInvoker) Invoke(ctx context.Context, spec prompt.Spec) (*gateway.ParsedResult, error) {
	f.calls++
	f.specs = append(f.specs, spec)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeSender struct {
	sent []string
	err  error
}

func (f *fakeSender) Send(ctx context.Context, contactID string, channel message.Channel, text string) (*message.DeliveryReceipt, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, text)
	return &message.DeliveryReceipt{MessageID: "m1", SentAt: time.Now()}, nil
}

type fakeContactStore struct {
	tags   []string
	fields map[string]string
	dnc    bool
}

func (f *fakeContactStore) ReadContact(ctx context.Context, contactID string) (*contact.Record, error) {
	rec := &contact.Record{ID: contactID}
	if f.dnc {
		rec.Tags = []string{contact.TagDoNotContact}
	}
	return rec, nil
}

func (f *fakeContactStore) WriteTags(ctx context.Context, contactID string, tags []string) error {
	f.tags = append(f.tags, tags...)
	return nil
}

func (f *fakeContactStore) WriteCustomFields(ctx context.Context, contactID string, fields map[string]string) error {
	if f.fields == nil {
		f.fields = make(map[string]string)
	}
	for k, v := range fields {
		f.fields[k] = v
	}
	return nil
}

type fakePublisher struct {
	payloads []interface{}
}

func (f *fakePublisher) Publish(ctx context.Context, key string, payload interface{}) error {
	f.payloads = append(f.payloads, payload)
	return nil
}

func testConfig() config.Config {
	return config.Config{
		Session: config.SessionConfig{
			InactivityWindow: time.Hour,
			LockTimeout:      time.Second,
			TurnDeadline:     5 * time.Second,
		},
		Handoff: config.HandoffConfig{
			ConfidenceThreshold: 0.7,
			LoopWindowSize:      4,
			LoopWindowDuration:  10 * time.Minute,
			RateCap:             3,
			RateWindow:          5 * time.Minute,
			SnapshotTurns:       10,
			SnapshotTTL:         24 * time.Hour,
		},
		Scorer: config.ScorerConfig{
			Timeout:          time.Second,
			LexicalWeight:    0.5,
			TrajectoryWeight: 0.3,
			SignalWeight:     0.2,
			TrajectoryTurns:  6,
		},
		Compliance: config.ComplianceConfig{
			DisclosureText: "[AI Assistant]",
			SMSMaxChars:    160,
			FallbackText:   "A member of our team will follow up shortly.",
		},
		Quota: config.QuotaConfig{HourlyCap: 3, DailyCap: 10},
	}
}

type harness struct {
	orch     *orchestrator.Orchestrator
	registry *session.Registry
	invoker  *fakeInvoker
	sender   *fakeSender
	store    *fakeContactStore
	deferred *fakePublisher
}

func newHarness(t *testing.T, cfg config.Config) *harness {
	t.Helper()

	registry := session.NewRegistry(memory.NewSessionRepository(time.Hour), cfg.Session.InactivityWindow, cfg.Session.LockTimeout)
	candidates := agent.Registry()
	scorer := scoring.New(cfg.Scorer, candidates)
	snapshots := memory.NewSnapshotRepository()
	engine := handoff.NewEngine(cfg.Handoff, handoff.NewPackager(cfg.Handoff.SnapshotTurns, cfg.Handoff.SnapshotTTL), snapshots, nil, nil)

	store := &fakeContactStore{}
	gate, err := compliance.NewGate(cfg.Compliance, store, nil)
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}

	limiter := quota.NewLimiter(cfg.Quota, memory.NewQuotaStore())

	invoker := &fakeInvoker{result: &gateway.ParsedResult{
		Reply:    "Happy to help! When are you hoping to move?",
		Fields:   map[string]string{"motivation": "relocating"},
		Strategy: gateway.StrategyTagged,
	}}
	sender := &fakeSender{}
	deferred := &fakePublisher{}

	orch := orchestrator.New(cfg, registry, scorer, engine, snapshots, invoker, gate, limiter, store, sender, deferred, candidates)
	return &harness{
		orch:     orch,
		registry: registry,
		invoker:  invoker,
		sender:   sender,
		store:    store,
		deferred: deferred,
	}
}

func inbound(text string) message.Inbound {
	return message.Inbound{
		ContactID:  "contact-1",
		Channel:    message.ChannelSMS,
		Text:       text,
		ReceivedAt: time.Now(),
	}
}

func TestHandleInbound_FullSellerTurn(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	if err := h.orch.HandleInbound(ctx, inbound("I want to sell my house asap")); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}

	if len(h.sender.sent) != 1 {
		t.Fatalf("expected one outbound send, got %d", len(h.sender.sent))
	}
	out := h.sender.sent[0]
	if !strings.HasPrefix(out, "[AI Assistant]") {
		t.Errorf("first reply must carry the disclosure, got %q", out)
	}
	if len(out) > 160 {
		t.Errorf("sms reply exceeds cap: %d chars", len(out))
	}

	sess, err := h.registry.GetOrCreate(ctx, "contact-1", message.ChannelSMS)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if sess.OwningAgent != agent.KindSellerBot {
		t.Errorf("clear sell intent should hand the session to the seller bot, got %s", sess.OwningAgent)
	}
	if sess.Entities["intent"] != "sell" || sess.Entities["timeline"] != "soon" {
		t.Errorf("entities not extracted: %v", sess.Entities)
	}
	if sess.Entities["motivation"] != "relocating" {
		t.Errorf("model fields not merged: %v", sess.Entities)
	}
	if sess.TurnCount != 2 {
		t.Errorf("expected inbound and outbound turns, got %d", sess.TurnCount)
	}

	if h.store.fields["lead_temperature"] != string(contact.TemperatureHot) {
		t.Errorf("expected Hot lead, got fields %v", h.store.fields)
	}
}

func TestHandleInbound_CommittedHandoffFeedsTransferContext(t *testing.T) {
	h := newHarness(t, testConfig())

	if err := h.orch.HandleInbound(context.Background(), inbound("I want to sell my house asap")); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}

	if len(h.invoker.specs) != 1 {
		t.Fatalf("expected one model call, got %d", len(h.invoker.specs))
	}
	text := h.invoker.specs[0].Text
	if !strings.Contains(text, "taking over this conversation from "+string(agent.KindIntentDecoder)) {
		t.Errorf("incoming agent did not receive the transfer package, prompt: %q", text)
	}
	if !strings.Contains(text, "Transfer reason:") {
		t.Errorf("transfer reason missing from prompt: %q", text)
	}
}

func TestHandleInbound_ExpiredTransferContextFallsBackToHistory(t *testing.T) {
	cfg := testConfig()
	// Snapshots are born expired, so the read path must treat them as
	// absent and the turn proceeds on raw session history.
	cfg.Handoff.SnapshotTTL = -time.Second
	h := newHarness(t, cfg)
	ctx := context.Background()

	if err := h.orch.HandleInbound(ctx, inbound("I want to sell my house asap")); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}

	if len(h.invoker.specs) != 1 {
		t.Fatalf("expected one model call, got %d", len(h.invoker.specs))
	}
	text := h.invoker.specs[0].Text
	if strings.Contains(text, "taking over this conversation") {
		t.Errorf("expired snapshot must not feed the prompt: %q", text)
	}
	if !strings.Contains(text, "Latest message: I want to sell my house asap") {
		t.Errorf("fallback prompt must still carry the session context: %q", text)
	}

	// The handoff itself still committed; only the context package aged out.
	sess, err := h.registry.GetOrCreate(ctx, "contact-1", message.ChannelSMS)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if sess.OwningAgent != agent.KindSellerBot {
		t.Errorf("expected seller bot to own the session, got %s", sess.OwningAgent)
	}
	if len(h.sender.sent) != 1 {
		t.Errorf("turn must still deliver a reply, got %d sends", len(h.sender.sent))
	}
}

func TestHandleInbound_OptOutSuppressesReply(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	if err := h.orch.HandleInbound(ctx, inbound("STOP")); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if len(h.sender.sent) != 0 {
		t.Fatal("opt-out must suppress the reply")
	}
	if h.invoker.calls != 0 {
		t.Error("no model call should happen for an opt-out")
	}

	// Later inbound from the same contact is dropped silently.
	if err := h.orch.HandleInbound(ctx, inbound("actually, one question")); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if len(h.sender.sent) != 0 {
		t.Error("opted-out contact must never be messaged again")
	}

	found := false
	for _, tag := range h.store.tags {
		if tag == contact.TagDoNotContact {
			found = true
		}
	}
	if !found {
		t.Errorf("dnc tag not written, tags: %v", h.store.tags)
	}
}

func TestHandleInbound_QuotaDefersExcessSends(t *testing.T) {
	cfg := testConfig()
	cfg.Quota.HourlyCap = 1
	h := newHarness(t, cfg)
	ctx := context.Background()

	if err := h.orch.HandleInbound(ctx, inbound("hello there")); err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if err := h.orch.HandleInbound(ctx, inbound("are you still there?")); err != nil {
		t.Fatalf("second turn: %v", err)
	}

	if len(h.sender.sent) != 1 {
		t.Errorf("only one send should go out, got %d", len(h.sender.sent))
	}
	if len(h.deferred.payloads) != 1 {
		t.Fatalf("second reply should be queued, got %d payloads", len(h.deferred.payloads))
	}

	d, ok := h.deferred.payloads[0].(message.DeferredSend)
	if !ok {
		t.Fatalf("unexpected payload type %T", h.deferred.payloads[0])
	}
	if d.ContactID != "contact-1" || d.Text == "" {
		t.Errorf("malformed deferred send: %+v", d)
	}
	if !d.RetryAt.After(time.Now()) {
		t.Errorf("retry time must be in the future: %v", d.RetryAt)
	}
}

func TestHandleInbound_GatewayFailureUsesFallback(t *testing.T) {
	cfg := testConfig()
	h := newHarness(t, cfg)
	h.invoker.err = context.DeadlineExceeded

	if err := h.orch.HandleInbound(context.Background(), inbound("hi")); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if len(h.sender.sent) != 1 {
		t.Fatal("fallback reply should still be sent")
	}
	if !strings.Contains(h.sender.sent[0], cfg.Compliance.FallbackText) {
		t.Errorf("expected fallback text, got %q", h.sender.sent[0])
	}
}

func TestHandleInbound_RejectsInvalidInput(t *testing.T) {
	h := newHarness(t, testConfig())

	if err := h.orch.HandleInbound(context.Background(), message.Inbound{ContactID: "c", Channel: "carrier-pigeon", Text: "hi"}); err == nil {
		t.Error("unknown channel must be rejected")
	}
	if err := h.orch.HandleInbound(context.Background(), message.Inbound{ContactID: "c", Channel: message.ChannelSMS, Text: "   "}); err == nil {
		t.Error("blank text must be rejected")
	}
}

func TestDeliverDeferred_SendsWhenQuotaAllows(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	d := message.DeferredSend{
		ContactID: "contact-1",
		Channel:   message.ChannelSMS,
		Text:      "We found three listings in your budget.",
		RetryAt:   time.Now().Add(-time.Minute),
		Attempts:  1,
	}
	if err := h.orch.DeliverDeferred(ctx, d); err != nil {
		t.Fatalf("DeliverDeferred: %v", err)
	}
	if len(h.sender.sent) != 1 || h.sender.sent[0] != d.Text {
		t.Errorf("deferred text not delivered: %v", h.sender.sent)
	}
}

func TestDeliverDeferred_HonorsCrmDoNotContact(t *testing.T) {
	h := newHarness(t, testConfig())
	h.store.dnc = true

	d := message.DeferredSend{
		ContactID: "contact-1",
		Channel:   message.ChannelSMS,
		Text:      "hello again",
		RetryAt:   time.Now().Add(-time.Minute),
		Attempts:  1,
	}
	if err := h.orch.DeliverDeferred(context.Background(), d); err != nil {
		t.Fatalf("DeliverDeferred: %v", err)
	}
	if len(h.sender.sent) != 0 {
		t.Error("a dnc tag in the crm must suppress deferred delivery")
	}
}

func TestDeliverDeferred_DropsForOptedOutContact(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	if err := h.orch.HandleInbound(ctx, inbound("STOP")); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}

	d := message.DeferredSend{ContactID: "contact-1", Channel: message.ChannelSMS, Text: "hello", RetryAt: time.Now()}
	if err := h.orch.DeliverDeferred(ctx, d); err != nil {
		t.Fatalf("DeliverDeferred: %v", err)
	}
	if len(h.sender.sent) != 0 {
		t.Error("deferred sends to opted-out contacts must be dropped")
	}
}
