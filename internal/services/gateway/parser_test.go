package gateway

import (
	"testing"
)

func TestParse_Tagged(t *testing.T) {
	text := "Some preamble.\n<reply>Happy to help! What is your timeline?</reply>\n<intent>sell</intent><timeline>soon</timeline>"

	result := parse(text)
	if result.Strategy != StrategyTagged {
		t.Fatalf("expected tagged strategy, got %s", result.Strategy)
	}
	if result.Reply != "Happy to help! What is your timeline?" {
		t.Errorf("unexpected reply: %q", result.Reply)
	}
	if result.Fields["intent"] != "sell" || result.Fields["timeline"] != "soon" {
		t.Errorf("unexpected fields: %v", result.Fields)
	}
	if result.IsPartial {
		t.Error("tagged parse must not be partial")
	}
}

func TestParse_TaggedRequiresReply(t *testing.T) {
	// Tags without a <reply> fall through to the next strategies.
	result := parse("<intent>sell</intent>")
	if result.Strategy == StrategyTagged {
		t.Error("tagged strategy must decline without a reply tag")
	}
}

func TestParse_JSON(t *testing.T) {
	text := `Here is the result: {"reply": "Got it, thanks!", "intent": "buy", "budget": 450000}`

	result := parse(text)
	if result.Strategy != StrategyJSON {
		t.Fatalf("expected json strategy, got %s", result.Strategy)
	}
	if result.Reply != "Got it, thanks!" {
		t.Errorf("unexpected reply: %q", result.Reply)
	}
	if result.Fields["intent"] != "buy" {
		t.Errorf("unexpected fields: %v", result.Fields)
	}
}

func TestParse_Heuristic(t *testing.T) {
	result := parse("Reply: Sure, I can set up a showing for Saturday.")
	if result.Strategy != StrategyHeuristic {
		t.Fatalf("expected heuristic strategy, got %s", result.Strategy)
	}
	if result.Reply != "Sure, I can set up a showing for Saturday." {
		t.Errorf("unexpected reply: %q", result.Reply)
	}
}

func TestParse_PartialFallback(t *testing.T) {
	raw := "Plain text with no structure at all"
	result := parse(raw)
	if result.Strategy != StrategyPartial {
		t.Fatalf("expected partial strategy, got %s", result.Strategy)
	}
	if !result.IsPartial {
		t.Error("partial result must be flagged")
	}
	if result.Reply != raw {
		t.Errorf("partial result must carry the raw text, got %q", result.Reply)
	}
}

func TestParse_MalformedJSONFallsThrough(t *testing.T) {
	result := parse(`{"reply": truncated`)
	if result.Strategy != StrategyPartial {
		t.Errorf("malformed json should degrade to partial, got %s", result.Strategy)
	}
}
