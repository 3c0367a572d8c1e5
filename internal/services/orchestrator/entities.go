package orchestrator

import (
	"regexp"
	"strings"
)

// Entity extraction is deliberately cheap and deterministic. The model
// also returns structured fields; these regexes only seed entities so
// the scorer has signals on the very first turn, before any model call.

var (
	budgetPattern = regexp.MustCompile(`(?i)\$\s?(\d{1,3}(?:[,.]?\d{3})*(?:k|K)?)|(\d{3,4})\s?k\b`)

	timelineSoonPattern = regexp.MustCompile(`(?i)\b(asap|right away|immediately|this (week|month)|next (week|month)|30 days|sooner the better)\b`)
	timelineLatePattern = regexp.MustCompile(`(?i)\b(next year|6 months|six months|no rush|someday|eventually|just looking)\b`)

	sellPattern = regexp.MustCompile(`(?i)\b(sell|selling|list(ing)? my|my (house|home|property).*(worth|value)|home value)\b`)
	buyPattern  = regexp.MustCompile(`(?i)\b(buy|buying|looking for a (house|home|place)|house hunt|pre-?approved|first home)\b`)

	motivationPattern = regexp.MustCompile(`(?i)\b(divorce|job (change|loss)|relocat\w+|downsiz\w+|upsiz\w+|inherit\w+|foreclosure|growing family|retir\w+)\b`)
)

// extractEntities merges newly detected entities into the map without
// overwriting values already established earlier in the conversation.
func extractEntities(entities map[string]string, text string) {
	set := func(key, value string) {
		if value != "" && entities[key] == "" {
			entities[key] = value
		}
	}

	if m := budgetPattern.FindString(text); m != "" {
		set("budget", strings.TrimSpace(m))
	}

	switch {
	case timelineSoonPattern.MatchString(text):
		set("timeline", "soon")
	case timelineLatePattern.MatchString(text):
		set("timeline", "later")
	}

	switch {
	case sellPattern.MatchString(text):
		set("intent", "sell")
	case buyPattern.MatchString(text):
		set("intent", "buy")
	}

	if m := motivationPattern.FindString(text); m != "" {
		set("motivation", strings.ToLower(m))
	}
}

// mergeModelFields folds structured fields returned by the model into
// the entity map. Model output may refine an existing value, so unlike
// regex extraction it is allowed to overwrite.
func mergeModelFields(entities map[string]string, fields map[string]string) {
	for k, v := range fields {
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.TrimSpace(v)
		if k == "" || v == "" || k == "reply" {
			continue
		}
		entities[k] = v
	}
}
