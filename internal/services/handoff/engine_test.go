package handoff_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"concierge/internal/adapters/config"
	"concierge/internal/domain/agent"
	"concierge/internal/domain/message"
	"concierge/internal/domain/session"
	"concierge/internal/domain/snapshot"
	"concierge/internal/repository/memory"
	"concierge/internal/services/handoff"
	"concierge/internal/services/scoring"
	"concierge/pkg/errors"
)

func testHandoffConfig() config.HandoffConfig {
	return config.HandoffConfig{
		ConfidenceThreshold: 0.7,
		LoopWindowSize:      4,
		LoopWindowDuration:  10 * time.Minute,
		RateCap:             3,
		RateWindow:          5 * time.Minute,
		SnapshotTurns:       10,
		SnapshotTTL:         24 * time.Hour,
	}
}

type recordingPublisher struct {
	events int
}

func (p *recordingPublisher) Publish(ctx context.Context, key string, payload interface{}) error {
	p.events++
	return nil
}

type failingSnapshotRepo struct{}

func (failingSnapshotRepo) Save(context.Context, *snapshot.Snapshot) error {
	return errors.New("storage down")
}

func (failingSnapshotRepo) Get(context.Context, uuid.UUID) (*snapshot.Snapshot, error) {
	return nil, errors.ErrNotFound
}

func (failingSnapshotRepo) DeleteExpired(context.Context) (int64, error) { return 0, nil }

func newTestEngine(repo snapshot.Repository, committed, rejected handoff.Publisher) *handoff.Engine {
	cfg := testHandoffConfig()
	return handoff.NewEngine(cfg, handoff.NewPackager(cfg.SnapshotTurns, cfg.SnapshotTTL), repo, committed, rejected)
}

func sellerResults(confidence float64) []scoring.Result {
	return []scoring.Result{
		{AgentKind: agent.KindSellerBot, Confidence: confidence, Rationale: "test", ComputedAt: time.Now()},
		{AgentKind: agent.KindBuyerBot, Confidence: 0.1, ComputedAt: time.Now()},
	}
}

func TestDecide_CommitsAboveThreshold(t *testing.T) {
	repo := memory.NewSnapshotRepository()
	committed := &recordingPublisher{}
	engine := newTestEngine(repo, committed, nil)

	sess := session.New("contact-1", message.ChannelSMS)
	sess.AppendTurn(session.RoleUser, "I want to sell my house", sess.OwningAgent)

	decision, err := engine.Decide(context.Background(), sess, sellerResults(0.85))
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decision.Outcome != handoff.OutcomeCommitted {
		t.Fatalf("expected commit, got %s", decision.Outcome)
	}
	if sess.OwningAgent != agent.KindSellerBot {
		t.Errorf("owner not flipped, got %s", sess.OwningAgent)
	}
	if len(sess.HandoffLog) != 1 {
		t.Fatalf("expected one handoff record, got %d", len(sess.HandoffLog))
	}

	rec := sess.HandoffLog[0]
	if rec.FromAgent != agent.KindIntentDecoder || rec.ToAgent != agent.KindSellerBot {
		t.Errorf("unexpected record %+v", rec)
	}

	// The transfer package must be durable and carry the prior scores.
	snap, err := repo.Get(context.Background(), rec.SnapshotID)
	if err != nil {
		t.Fatalf("snapshot not persisted: %v", err)
	}
	if snap.Payload.PriorScores[agent.KindSellerBot] != 0.85 {
		t.Errorf("prior scores missing from snapshot: %v", snap.Payload.PriorScores)
	}
	if committed.events != 1 {
		t.Errorf("expected one committed audit event, got %d", committed.events)
	}
}

func TestDecide_ContinueBelowThreshold(t *testing.T) {
	engine := newTestEngine(memory.NewSnapshotRepository(), nil, nil)

	sess := session.New("contact-2", message.ChannelSMS)
	decision, err := engine.Decide(context.Background(), sess, sellerResults(0.69))
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decision.Outcome != handoff.OutcomeContinue {
		t.Errorf("expected continue, got %s", decision.Outcome)
	}
	if sess.OwningAgent != agent.KindIntentDecoder {
		t.Errorf("owner must be unchanged, got %s", sess.OwningAgent)
	}
}

func TestDecide_ContinueWhenTopIsOwner(t *testing.T) {
	engine := newTestEngine(memory.NewSnapshotRepository(), nil, nil)

	sess := session.New("contact-3", message.ChannelSMS)
	sess.OwningAgent = agent.KindSellerBot

	decision, _ := engine.Decide(context.Background(), sess, sellerResults(0.95))
	if decision.Outcome != handoff.OutcomeContinue {
		t.Errorf("owner re-winning must not produce a handoff, got %s", decision.Outcome)
	}
	if len(sess.HandoffLog) != 0 {
		t.Error("no record should be appended when the owner keeps the session")
	}
}

func TestDecide_LoopGuardRejectsRepeatedPair(t *testing.T) {
	rejected := &recordingPublisher{}
	engine := newTestEngine(memory.NewSnapshotRepository(), nil, rejected)

	sess := session.New("contact-4", message.ChannelSMS)
	sess.OwningAgent = agent.KindIntentDecoder
	sess.HandoffLog = []session.HandoffRecord{
		{FromAgent: agent.KindIntentDecoder, ToAgent: agent.KindSellerBot, Timestamp: time.Now().Add(-2 * time.Minute)},
		{FromAgent: agent.KindSellerBot, ToAgent: agent.KindIntentDecoder, Timestamp: time.Now().Add(-1 * time.Minute)},
	}

	decision, err := engine.Decide(context.Background(), sess, sellerResults(0.9))
	if !errors.Is(err, errors.ErrCircularHandoff) {
		t.Fatalf("expected ErrCircularHandoff, got %v", err)
	}
	if decision.Outcome != handoff.OutcomeRejected {
		t.Errorf("expected rejection, got %s", decision.Outcome)
	}
	if sess.OwningAgent != agent.KindIntentDecoder {
		t.Errorf("owner must be unchanged after rejection, got %s", sess.OwningAgent)
	}
	if rejected.events != 1 {
		t.Errorf("expected one rejected audit event, got %d", rejected.events)
	}
}

func TestDecide_LoopGuardIgnoresStaleRecords(t *testing.T) {
	engine := newTestEngine(memory.NewSnapshotRepository(), nil, nil)

	sess := session.New("contact-5", message.ChannelSMS)
	// Same pair, but outside the loop window.
	sess.HandoffLog = []session.HandoffRecord{
		{FromAgent: agent.KindIntentDecoder, ToAgent: agent.KindSellerBot, Timestamp: time.Now().Add(-1 * time.Hour)},
	}

	decision, err := engine.Decide(context.Background(), sess, sellerResults(0.9))
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decision.Outcome != handoff.OutcomeCommitted {
		t.Errorf("stale records must not trigger the loop guard, got %s", decision.Outcome)
	}
}

func TestDecide_RateGuardThrottles(t *testing.T) {
	engine := newTestEngine(memory.NewSnapshotRepository(), nil, nil)

	sess := session.New("contact-6", message.ChannelSMS)
	sess.OwningAgent = agent.KindBuyerBot
	now := time.Now()
	// Three distinct-pair handoffs inside the window exhaust the rate cap.
	sess.HandoffLog = []session.HandoffRecord{
		{FromAgent: agent.KindIntentDecoder, ToAgent: agent.KindSellerBot, Timestamp: now.Add(-3 * time.Minute)},
		{FromAgent: agent.KindSellerBot, ToAgent: agent.KindIntentDecoder, Timestamp: now.Add(-2 * time.Minute)},
		{FromAgent: agent.KindIntentDecoder, ToAgent: agent.KindBuyerBot, Timestamp: now.Add(-1 * time.Minute)},
	}

	_, err := engine.Decide(context.Background(), sess, sellerResults(0.9))
	if !errors.Is(err, errors.ErrHandoffThrottled) {
		t.Fatalf("expected ErrHandoffThrottled, got %v", err)
	}
	if sess.OwningAgent != agent.KindBuyerBot {
		t.Errorf("owner must be unchanged, got %s", sess.OwningAgent)
	}
}

func TestDecide_SnapshotFailureLeavesOwnerUnchanged(t *testing.T) {
	engine := newTestEngine(failingSnapshotRepo{}, nil, nil)

	sess := session.New("contact-7", message.ChannelSMS)
	decision, err := engine.Decide(context.Background(), sess, sellerResults(0.9))
	if err == nil {
		t.Fatal("expected error from failing snapshot store")
	}
	if decision.Outcome != handoff.OutcomeContinue {
		t.Errorf("failed commit must degrade to continue, got %s", decision.Outcome)
	}
	if sess.OwningAgent != agent.KindIntentDecoder {
		t.Errorf("owner must be unchanged, got %s", sess.OwningAgent)
	}
	if len(sess.HandoffLog) != 0 {
		t.Error("no record may be appended when the snapshot was not persisted")
	}
}

func TestDecide_RaisingThresholdNeverAddsCommits(t *testing.T) {
	rounds := []struct {
		target     agent.Kind
		confidence float64
	}{
		{agent.KindSellerBot, 0.9},
		{agent.KindBuyerBot, 0.75},
		{agent.KindSellerBot, 0.6},
	}

	commitsAt := func(threshold float64) int {
		cfg := testHandoffConfig()
		cfg.ConfidenceThreshold = threshold
		cfg.RateCap = 10
		engine := handoff.NewEngine(cfg, handoff.NewPackager(cfg.SnapshotTurns, cfg.SnapshotTTL), memory.NewSnapshotRepository(), nil, nil)

		sess := session.New("contact-10", message.ChannelSMS)
		commits := 0
		for _, round := range rounds {
			results := []scoring.Result{{AgentKind: round.target, Confidence: round.confidence, ComputedAt: time.Now()}}
			decision, err := engine.Decide(context.Background(), sess, results)
			if err != nil {
				t.Fatalf("Decide at threshold %v: %v", threshold, err)
			}
			if decision.Outcome == handoff.OutcomeCommitted {
				commits++
			}
		}
		return commits
	}

	prev := commitsAt(0.5)
	for _, threshold := range []float64{0.7, 0.8, 0.95} {
		got := commitsAt(threshold)
		if got > prev {
			t.Fatalf("threshold %v produced %d commits, more than %d at a lower threshold", threshold, got, prev)
		}
		prev = got
	}
}

func TestPackager_BoundsTurns(t *testing.T) {
	p := handoff.NewPackager(3, time.Hour)

	sess := session.New("contact-8", message.ChannelSMS)
	for i := 0; i < 10; i++ {
		sess.AppendTurn(session.RoleUser, "turn", sess.OwningAgent)
	}

	snap := p.Package(sess, agent.KindIntentDecoder, agent.KindSellerBot, "test", nil)
	if len(snap.Payload.Turns) != 3 {
		t.Errorf("expected 3 turns, got %d", len(snap.Payload.Turns))
	}
	if snap.ExpiresAt.Sub(snap.CreatedAt) != time.Hour {
		t.Errorf("unexpected TTL: %v", snap.ExpiresAt.Sub(snap.CreatedAt))
	}
}

func TestPackager_EntitiesCopied(t *testing.T) {
	p := handoff.NewPackager(5, time.Hour)

	sess := session.New("contact-9", message.ChannelSMS)
	sess.Entities["intent"] = "sell"

	snap := p.Package(sess, agent.KindIntentDecoder, agent.KindSellerBot, "test", nil)
	snap.Payload.Entities["intent"] = "mutated"

	if sess.Entities["intent"] != "sell" {
		t.Error("packager must copy entities, not alias the session map")
	}
}
