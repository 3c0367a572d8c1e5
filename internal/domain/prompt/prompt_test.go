package prompt

import "testing"

func baseSpec() Spec {
	return Spec{
		TemplateID:  "agent_turn:jorge-seller",
		Variables:   map[string]string{"message": "what is my home worth?"},
		Model:       "claude-3-5-sonnet-20241022",
		Temperature: 0.7,
		MaxTokens:   400,
		Scope:       ScopeTurn,
	}
}

func TestCacheKey_Deterministic(t *testing.T) {
	a, b := baseSpec(), baseSpec()
	if a.CacheKey() != b.CacheKey() {
		t.Error("identical specs must share a key")
	}
}

func TestCacheKey_NormalizesVariableValues(t *testing.T) {
	a := baseSpec()
	b := baseSpec()
	b.Variables = map[string]string{"message": "  What Is My   HOME Worth?  "}

	if a.CacheKey() != b.CacheKey() {
		t.Error("case and whitespace differences must not fragment the cache")
	}
}

func TestCacheKey_RawTextIgnored(t *testing.T) {
	a := baseSpec()
	b := baseSpec()
	b.Text = "completely different rendered prompt"

	if a.CacheKey() != b.CacheKey() {
		t.Error("the key derives from template and variables, not rendered text")
	}
}

func TestCacheKey_DiscriminatesInputs(t *testing.T) {
	base := baseSpec()

	variants := []func(*Spec){
		func(s *Spec) { s.TemplateID = "agent_turn:lead-bot" },
		func(s *Spec) { s.Model = "gpt-4o-mini" },
		func(s *Spec) { s.Temperature = 0.2 },
		func(s *Spec) { s.MaxTokens = 100 },
		func(s *Spec) { s.Variables = map[string]string{"message": "different question"} },
	}

	for i, mutate := range variants {
		v := baseSpec()
		mutate(&v)
		if v.CacheKey() == base.CacheKey() {
			t.Errorf("variant %d must produce a distinct key", i)
		}
	}
}
