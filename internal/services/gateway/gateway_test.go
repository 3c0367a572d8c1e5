package gateway

import (
	"context"
	"testing"
	"time"

	"concierge/internal/adapters/ai"
	"concierge/internal/cache"
	"concierge/internal/domain/prompt"
	"concierge/pkg/errors"
)

type fakeProvider struct {
	name  ai.ProviderName
	text  string
	err   error
	calls int
}

func (f *fakeProvider) Name() ai.ProviderName { return f.name }

func (f *fakeProvider) Call(ctx context.Context, req ai.Request) (*ai.Response, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &ai.Response{Text: f.text, Provider: f.name, Model: "fake"}, nil
}

func testSpec(text string) prompt.Spec {
	return prompt.Spec{
		TemplateID: "test_template",
		Variables:  map[string]string{"message": text},
		Text:       text,
		Scope:      prompt.ScopeTurn,
	}
}

func newTestGateway(chain ...ai.Provider) *Gateway {
	tiered := cache.NewTiered(time.Second, cache.NewL1(100, time.Minute))
	return New(tiered, chain, time.Second)
}

func TestInvoke_CachesSecondCall(t *testing.T) {
	provider := &fakeProvider{name: "fake", text: "<reply>Hello!</reply>"}
	gw := newTestGateway(provider)

	spec := testSpec("what is my home worth")

	first, err := gw.Invoke(context.Background(), spec)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if first.CacheHit {
		t.Error("first call cannot be a cache hit")
	}

	second, err := gw.Invoke(context.Background(), spec)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !second.CacheHit {
		t.Error("second call should be served from cache")
	}
	if second.Reply != first.Reply {
		t.Errorf("cached reply differs: %q vs %q", second.Reply, first.Reply)
	}
	if provider.calls != 1 {
		t.Errorf("provider should be called once, got %d", provider.calls)
	}
}

func TestInvoke_NormalizedVariantsShareCacheEntry(t *testing.T) {
	provider := &fakeProvider{name: "fake", text: "<reply>Hi</reply>"}
	gw := newTestGateway(provider)

	specA := testSpec("ignored")
	specA.Variables = map[string]string{"message": "What Is My   Home Worth?"}
	specB := testSpec("ignored")
	specB.Variables = map[string]string{"message": "what is my home worth?"}

	if _, err := gw.Invoke(context.Background(), specA); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	result, err := gw.Invoke(context.Background(), specB)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !result.CacheHit {
		t.Error("cosmetic variable differences must hit the same cache entry")
	}
}

func TestInvoke_FallsBackThroughChain(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: errors.Wrap(errors.ErrProviderUnavailable, "down")}
	secondary := &fakeProvider{name: "secondary", text: "<reply>Backup here</reply>"}
	gw := newTestGateway(primary, secondary)

	result, err := gw.Invoke(context.Background(), testSpec("hello"))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if result.Reply != "Backup here" {
		t.Errorf("unexpected reply: %q", result.Reply)
	}
	if primary.calls != 1 || secondary.calls != 1 {
		t.Errorf("expected both providers tried once, got %d/%d", primary.calls, secondary.calls)
	}
}

func TestInvoke_AllProvidersFail(t *testing.T) {
	a := &fakeProvider{name: "a", err: errors.New("down")}
	b := &fakeProvider{name: "b", err: errors.New("also down")}
	gw := newTestGateway(a, b)

	_, err := gw.Invoke(context.Background(), testSpec("hello"))
	if !errors.Is(err, errors.ErrProvidersExhausted) {
		t.Fatalf("expected ErrProvidersExhausted, got %v", err)
	}
}

func TestInvoke_StaticReplyNotCached(t *testing.T) {
	static := ai.NewStaticProvider("We will get back to you shortly.")
	gw := newTestGateway(static)

	spec := testSpec("hello")
	if _, err := gw.Invoke(context.Background(), spec); err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	result, err := gw.Invoke(context.Background(), spec)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if result.CacheHit {
		t.Error("static fallback output must never be cached")
	}
}

func TestInvoke_PartialResponseStillReturned(t *testing.T) {
	provider := &fakeProvider{name: "fake", text: "free-form rambling with no structure"}
	gw := newTestGateway(provider)

	result, err := gw.Invoke(context.Background(), testSpec("hello"))
	if err != nil {
		t.Fatalf("parse failure must not error: %v", err)
	}
	if !result.IsPartial {
		t.Error("unstructured response should be flagged partial")
	}
}
