package compliance

import (
	"regexp"
	"strings"
)

// optOutPattern matches the carrier-mandated opt-out keywords as a
// whole message, tolerating surrounding whitespace and punctuation.
var optOutPattern = regexp.MustCompile(`(?i)^\s*(stop|stopall|unsubscribe|cancel|end|quit|opt[ -]?out)[\s.!]*$`)

func isOptOut(text string) bool {
	return optOutPattern.MatchString(text)
}

type denyPattern struct {
	name string
	re   *regexp.Regexp
}

// builtinDenylist covers content an automated assistant must never send
// in a regulated real-estate conversation: guarantees, legal or lending
// advice, and fair-housing steering language.
var builtinDenylist = []denyPattern{
	{"guarantee", regexp.MustCompile(`(?i)\bguarantee[ds]?\b`)},
	{"legal_advice", regexp.MustCompile(`(?i)\blegal advice\b|\byou should sue\b`)},
	{"lending_terms", regexp.MustCompile(`(?i)\b(pre[- ]?approv\w*|interest rate of|apr of)\b`)},
	{"steering", regexp.MustCompile(`(?i)\b(good|bad|safe|dangerous) (neighborhood|area) for\b`)},
	{"pricing_promise", regexp.MustCompile(`(?i)\bwill (sell|close) (for|at|above)\b`)},
}

func buildDenylist(extra []string) ([]denyPattern, error) {
	out := make([]denyPattern, 0, len(builtinDenylist)+len(extra))
	out = append(out, builtinDenylist...)
	for _, frag := range extra {
		frag = strings.TrimSpace(frag)
		if frag == "" {
			continue
		}
		re, err := regexp.Compile(`(?i)` + frag)
		if err != nil {
			return nil, err
		}
		out = append(out, denyPattern{name: "extra:" + frag, re: re})
	}
	return out, nil
}

func matchDenylist(patterns []denyPattern, text string) (string, bool) {
	for _, p := range patterns {
		if p.re.MatchString(text) {
			return p.name, true
		}
	}
	return "", false
}

// truncateAtSentence caps text at max characters, preferring the last
// sentence boundary at or before the cap. With no boundary it hard cuts
// and leaves room for an ellipsis so the recipient sees the message was
// shortened.
func truncateAtSentence(text string, max int) string {
	if len(text) <= max {
		return text
	}

	window := text[:max]
	cut := -1
	for i := len(window) - 1; i >= 0; i-- {
		switch window[i] {
		case '.', '!', '?':
			cut = i + 1
		}
		if cut >= 0 {
			break
		}
	}
	if cut > 0 {
		return strings.TrimRight(window[:cut], " ")
	}

	const ellipsis = "..."
	if max <= len(ellipsis) {
		return window
	}
	return strings.TrimRight(window[:max-len(ellipsis)], " ") + ellipsis
}
