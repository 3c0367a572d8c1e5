package scoring

import (
	"fmt"
	"strings"
	"time"

	"concierge/internal/domain/agent"
)

// score computes the weighted confidence blend for one candidate. Pure
// function of the projected state; safe to run concurrently.
func (s *Scorer) score(c agent.Candidate, state agent.State) Result {
	lexical := lexicalMatch(c.Vocabulary, state.LastInbound)
	trajectory := trajectoryMatch(c.Vocabulary, state.RecentTexts)
	signals := explicitSignals(c.SignalKeys, state.Entities)

	wl, wt, ws := s.cfg.LexicalWeight, s.cfg.TrajectoryWeight, s.cfg.SignalWeight
	total := wl + wt + ws
	if total <= 0 {
		wl, wt, ws, total = 1, 1, 1, 3
	}

	confidence := (wl*lexical + wt*trajectory + ws*signals) / total
	if confidence > 1 {
		confidence = 1
	}

	return Result{
		AgentKind:  c.Kind,
		Confidence: confidence,
		Rationale: fmt.Sprintf("lexical=%.2f trajectory=%.2f signals=%.2f",
			lexical, trajectory, signals),
		ComputedAt: time.Now(),
	}
}

// lexicalMatch scores vocabulary overlap with the latest inbound text.
// Two or more distinct vocabulary hits saturate the term; a single hit
// scores 0.6 so one strong keyword alone cannot cross the default
// handoff threshold without support from the other terms.
func lexicalMatch(vocabulary []string, text string) float64 {
	if text == "" {
		return 0
	}
	lowered := strings.ToLower(text)

	hits := 0
	for _, term := range vocabulary {
		if strings.Contains(lowered, term) {
			hits++
		}
	}

	switch {
	case hits >= 2:
		return 1
	case hits == 1:
		return 0.6
	default:
		return 0
	}
}

// trajectoryMatch is a recency-weighted average of per-turn lexical
// matches over the recent inbound turns, most recent first.
func trajectoryMatch(vocabulary []string, recentTexts []string) float64 {
	if len(recentTexts) == 0 {
		return 0
	}

	var weighted, totalWeight float64
	for i, text := range recentTexts {
		weight := 1.0 / float64(i+1)
		weighted += weight * lexicalMatch(vocabulary, text)
		totalWeight += weight
	}
	return weighted / totalWeight
}

// explicitSignals scores extracted entities against the candidate's
// signal keys. A key with an expected value must match exactly; a key
// with an empty expectation counts when present at all.
func explicitSignals(signalKeys map[string]string, entities map[string]string) float64 {
	if len(signalKeys) == 0 {
		return 0
	}

	matched := 0
	for key, expected := range signalKeys {
		value, ok := entities[key]
		if !ok || value == "" {
			continue
		}
		if expected == "" || value == expected {
			matched++
		}
	}
	return float64(matched) / float64(len(signalKeys))
}
