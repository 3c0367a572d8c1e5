package scoring

import (
	"context"
	"sort"
	"time"

	"concierge/internal/adapters/config"
	"concierge/internal/domain/agent"
	"concierge/internal/domain/session"
	"concierge/internal/metrics"
	"concierge/pkg/logger"
)

// Result is one candidate's confidence for the current turn. Produced
// fresh per scoring round, never persisted.
type Result struct {
	AgentKind  agent.Kind
	Confidence float64
	Rationale  string
	ComputedAt time.Time
}

// Scorer evaluates candidate agents in parallel under a shared timeout.
// A candidate that exceeds the budget scores zero and never blocks the
// others.
type Scorer struct {
	cfg        config.ScorerConfig
	candidates []agent.Candidate
	scoreFn    func(agent.Candidate, agent.State) Result
	log        *logger.Logger
}

// New creates a scorer over the registered candidates. Candidate order
// is registration order and breaks confidence ties deterministically.
func New(cfg config.ScorerConfig, candidates []agent.Candidate) *Scorer {
	s := &Scorer{
		cfg:        cfg,
		candidates: candidates,
		log:        logger.Get().With("component", "scorer"),
	}
	s.scoreFn = s.score
	return s
}

// ScoreAll scores every active candidate and returns results sorted by
// confidence descending, ties broken by registration order.
func (s *Scorer) ScoreAll(ctx context.Context, sess *session.Session) []Result {
	state := sess.AgentState(s.cfg.TrajectoryTurns)

	type indexed struct {
		order  int
		result Result
	}

	scoreCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	ch := make(chan indexed, len(s.candidates))
	active := 0
	for i, c := range s.candidates {
		if !c.Activation(state) {
			continue
		}
		active++

		go func(order int, c agent.Candidate) {
			start := time.Now()
			done := make(chan Result, 1)

			go func() {
				done <- s.scoreFn(c, state)
			}()

			select {
			case r := <-done:
				metrics.ScorerLatency.WithLabelValues(string(c.Kind)).Observe(time.Since(start).Seconds())
				ch <- indexed{order, r}
			case <-scoreCtx.Done():
				metrics.ScorerTimeouts.WithLabelValues(string(c.Kind)).Inc()
				s.log.Warnw("Candidate scorer timed out", "agent", c.Kind)
				ch <- indexed{order, Result{
					AgentKind:  c.Kind,
					Confidence: 0,
					Rationale:  "scoring timed out",
					ComputedAt: time.Now(),
				}}
			}
		}(i, c)
	}

	collected := make([]indexed, 0, active)
	for i := 0; i < active; i++ {
		collected = append(collected, <-ch)
	}

	sort.SliceStable(collected, func(i, j int) bool {
		if collected[i].result.Confidence != collected[j].result.Confidence {
			return collected[i].result.Confidence > collected[j].result.Confidence
		}
		return collected[i].order < collected[j].order
	})

	results := make([]Result, len(collected))
	for i, c := range collected {
		results[i] = c.result
	}
	return results
}

// PriorScores converts results into the map shape used by context snapshots
func PriorScores(results []Result) map[agent.Kind]float64 {
	scores := make(map[agent.Kind]float64, len(results))
	for _, r := range results {
		scores[r.AgentKind] = r.Confidence
	}
	return scores
}
