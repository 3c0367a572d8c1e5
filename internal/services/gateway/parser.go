package gateway

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Parse strategy names, recorded for observability
const (
	StrategyTagged    = "tagged"
	StrategyJSON      = "json"
	StrategyHeuristic = "heuristic"
	StrategyPartial   = "partial"
)

// ParsedResult is the structured view of a model response. IsPartial
// marks responses where no strategy succeeded; callers decide how to
// degrade, this type never represents an error.
type ParsedResult struct {
	Reply     string            `json:"reply"`
	Fields    map[string]string `json:"fields,omitempty"`
	Strategy  string            `json:"strategy"`
	IsPartial bool              `json:"is_partial"`
	Raw       string            `json:"raw,omitempty"`

	// CacheHit is set on results served from the tiered cache
	CacheHit bool `json:"-"`
}

// parseFunc is one extraction strategy: returns a result and true on
// success, never an error.
type parseFunc func(text string) (*ParsedResult, bool)

// strategies are tried in order: strict tag extraction, then JSON, then
// loose pattern matching. The partial fallback is applied by the caller
// when all of these decline.
var strategies = []struct {
	name string
	fn   parseFunc
}{
	{StrategyTagged, parseTagged},
	{StrategyJSON, parseJSON},
	{StrategyHeuristic, parseHeuristic},
}

var (
	tagPattern   = regexp.MustCompile(`(?s)<([a-z_]+)>(.*?)</([a-z_]+)>`)
	jsonPattern  = regexp.MustCompile(`(?s)\{.*\}`)
	replyPattern = regexp.MustCompile(`(?im)^\s*(?:reply|response|message)\s*:\s*(.+)$`)
)

// parse runs the strategies in order and falls back to a partial result
// carrying the raw text.
func parse(text string) *ParsedResult {
	for _, s := range strategies {
		if result, ok := s.fn(text); ok {
			result.Strategy = s.name
			return result
		}
	}

	return &ParsedResult{
		Reply:     strings.TrimSpace(text),
		Strategy:  StrategyPartial,
		IsPartial: true,
		Raw:       text,
	}
}

// parseTagged extracts <tag>value</tag> blocks. A <reply> tag is
// required; any other tags become structured fields.
func parseTagged(text string) (*ParsedResult, bool) {
	matches := tagPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil, false
	}

	result := &ParsedResult{Fields: make(map[string]string)}
	for _, m := range matches {
		if m[1] != m[3] {
			continue // mismatched open/close tag
		}
		value := strings.TrimSpace(m[2])
		if m[1] == "reply" {
			result.Reply = value
		} else {
			result.Fields[m[1]] = value
		}
	}

	if result.Reply == "" {
		return nil, false
	}
	return result, true
}

// parseJSON extracts the first JSON object containing a "reply" key
func parseJSON(text string) (*ParsedResult, bool) {
	raw := jsonPattern.FindString(text)
	if raw == "" {
		return nil, false
	}

	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, false
	}

	reply, ok := payload["reply"].(string)
	if !ok || reply == "" {
		return nil, false
	}

	result := &ParsedResult{Reply: reply, Fields: make(map[string]string)}
	for k, v := range payload {
		if k == "reply" {
			continue
		}
		result.Fields[k] = fmt.Sprintf("%v", v)
	}
	return result, true
}

// parseHeuristic matches a "Reply:" style line anywhere in the text
func parseHeuristic(text string) (*ParsedResult, bool) {
	m := replyPattern.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	return &ParsedResult{Reply: strings.TrimSpace(m[1])}, true
}
