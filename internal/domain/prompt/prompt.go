package prompt

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Scope controls cache-tier eligibility. Turn-scoped prompts carry
// conversation-specific content and never reach the persistent tier;
// reference prompts hold stable facts worth keeping for days.
type Scope string

const (
	ScopeTurn      Scope = "turn"
	ScopeReference Scope = "reference"
)

// Spec is the normalized model-call input. Cache keys derive from the
// template id, materialized variables, and model parameters rather than
// raw text so cosmetically different but semantically identical calls
// still hit.
type Spec struct {
	TemplateID  string
	Variables   map[string]string
	System      string
	Text        string // materialized prompt body
	Model       string
	Temperature float64
	MaxTokens   int
	Scope       Scope
}

// CacheKey returns the deterministic key for this spec. Variables are
// hashed in sorted order; keys never collide across incompatible input
// shapes because the template id leads the digest.
func (s Spec) CacheKey() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%.2f\x00%d\x00", s.TemplateID, s.Model, s.Temperature, s.MaxTokens)

	keys := make([]string, 0, len(s.Variables))
	for k := range s.Variables {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%s\x00", k, normalize(s.Variables[k]))
	}

	return hex.EncodeToString(h.Sum(nil))
}

// normalize collapses whitespace and case so cosmetic differences in
// variable values do not fragment the cache.
func normalize(v string) string {
	return strings.Join(strings.Fields(strings.ToLower(v)), " ")
}
