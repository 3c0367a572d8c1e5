package cache

import (
	"context"
	"encoding/json"
	"time"

	"concierge/internal/domain/prompt"
)

// Tier names
const (
	TierL1 = "l1"
	TierL2 = "l2"
	TierL3 = "l3"
)

// Entry is a cached structured model response. StoredAt drives the
// set-if-newer write semantics across tiers.
type Entry struct {
	Key      string          `json:"key"`
	Value    json.RawMessage `json:"value"`
	Scope    prompt.Scope    `json:"scope"`
	Text     string          `json:"text,omitempty"` // normalized prompt body, used for semantic matching
	StoredAt time.Time       `json:"stored_at"`
}

// Probe carries everything a tier needs to answer a lookup. L1/L2 match
// on Key only; L3 may additionally match semantically on Text.
type Probe struct {
	Key   string
	Text  string
	Scope prompt.Scope
}

// Tier is a single cache level. Get returns pkg/errors.ErrCacheMiss when
// the key is absent and wraps ErrCacheTierUnavailable on infrastructure
// failure so the tiered cache can degrade that tier to a miss.
type Tier interface {
	Name() string
	Get(ctx context.Context, probe Probe) (*Entry, error)
	Set(ctx context.Context, e *Entry) error
}
