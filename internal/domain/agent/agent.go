package agent

// Kind identifies a registered conversational agent
type Kind string

const (
	// KindSellerBot qualifies homeowners who want to sell
	KindSellerBot Kind = "jorge-seller"

	// KindBuyerBot qualifies leads looking to buy
	KindBuyerBot Kind = "lead-bot"

	// KindIntentDecoder triages conversations with no clear buy/sell intent
	KindIntentDecoder Kind = "intent-decoder"
)

// String returns the string representation of the kind
func (k Kind) String() string {
	return string(k)
}

// State is the narrow view of conversation state that activation
// predicates and scorers operate on. It is a projection, never a live
// reference to mutable session state.
type State struct {
	OwningAgent  Kind
	TurnCount    int
	LastInbound  string
	RecentTexts  []string          // most recent inbound first
	Entities     map[string]string // extracted signals: budget, timeline, motivation, intent
	HandoffCount int
}

// Candidate is a stateless agent descriptor registered at process start
// and never mutated at runtime.
type Candidate struct {
	Kind           Kind
	CapabilityTags []string

	// Vocabulary drives the lexical term of the confidence score
	Vocabulary []string

	// SignalKeys are extracted-entity keys that count as explicit signals
	// for this candidate (e.g. "intent" == "sell")
	SignalKeys map[string]string

	// Activation gates whether this candidate is scored at all.
	// Must be a pure function of State.
	Activation func(State) bool

	// SystemPrompt is the persona used when this agent owns the reply
	SystemPrompt string
}

// Registry returns the production candidates in registration order.
// Order matters: score ties are broken by registration order.
func Registry() []Candidate {
	return []Candidate{
		{
			Kind:           KindSellerBot,
			CapabilityTags: []string{"seller-qualification"},
			Vocabulary: []string{
				"sell", "selling", "listing", "list my", "my house", "my home",
				"my property", "asking price", "home value", "worth", "equity",
				"foreclosure", "relocate", "relocating", "downsize", "move out",
			},
			SignalKeys: map[string]string{
				"intent":     "sell",
				"motivation": "",
				"timeline":   "",
			},
			Activation: func(s State) bool {
				return true
			},
			SystemPrompt: "You are Jorge, a seasoned listing specialist. You qualify homeowners who are considering selling: motivation, timeline, condition, and price expectations. Keep replies short, warm, and always end with one question.",
		},
		{
			Kind:           KindBuyerBot,
			CapabilityTags: []string{"buyer-qualification"},
			Vocabulary: []string{
				"buy", "buying", "looking for", "house hunt", "bedrooms", "bathrooms",
				"pre-approved", "preapproved", "mortgage", "budget", "neighborhood",
				"school district", "tour", "showing", "first home", "move in",
			},
			SignalKeys: map[string]string{
				"intent":   "buy",
				"budget":   "",
				"timeline": "",
			},
			Activation: func(s State) bool {
				return true
			},
			SystemPrompt: "You are a buyer qualification assistant. You help leads clarify budget, financing status, target areas, and move-in timeline. Keep replies short, friendly, and always end with one question.",
		},
		{
			Kind:           KindIntentDecoder,
			CapabilityTags: []string{"intent-triage"},
			Vocabulary: []string{
				"question", "info", "information", "help", "curious", "wondering",
				"market", "rates", "agent", "callback", "talk",
			},
			SignalKeys: map[string]string{},
			// Only competes while intent is still unknown
			Activation: func(s State) bool {
				return s.Entities["intent"] == ""
			},
			SystemPrompt: "You are an intake assistant. Your job is to figure out whether the contact wants to buy, sell, or something else, without being pushy. Ask one clarifying question at a time.",
		},
	}
}

// Find returns the candidate with the given kind, or false
func Find(candidates []Candidate, kind Kind) (Candidate, bool) {
	for _, c := range candidates {
		if c.Kind == kind {
			return c, true
		}
	}
	return Candidate{}, false
}
