package gateway

import (
	"context"
	"encoding/json"
	"time"

	"concierge/internal/adapters/ai"
	"concierge/internal/cache"
	"concierge/internal/domain/prompt"
	"concierge/internal/metrics"
	"concierge/pkg/errors"
	"concierge/pkg/logger"
)

// Gateway wraps every model invocation in the tiered cache and a
// provider fallback chain. Cache instances are injected, never global,
// so tests can substitute fake tiers.
type Gateway struct {
	cache          *cache.Tiered
	chain          []ai.Provider
	requestTimeout time.Duration
	log            *logger.Logger
}

// New creates a gateway over the given cache and provider chain
func New(tiered *cache.Tiered, chain []ai.Provider, requestTimeout time.Duration) *Gateway {
	return &Gateway{
		cache:          tiered,
		chain:          chain,
		requestTimeout: requestTimeout,
		log:            logger.Get().With("component", "model_gateway"),
	}
}

// Invoke resolves a prompt spec into a parsed result: cache first, then
// the provider fallback chain. Each subsequent provider is tried only if
// the prior one errors or times out. The returned result is never nil on
// a nil error; parse failure degrades to IsPartial, not an error.
func (g *Gateway) Invoke(ctx context.Context, spec prompt.Spec) (*ParsedResult, error) {
	probe := cache.Probe{
		Key:   spec.CacheKey(),
		Text:  spec.Text,
		Scope: spec.Scope,
	}

	if entry, err := g.cache.Get(ctx, probe); err == nil {
		var result ParsedResult
		if err := json.Unmarshal(entry.Value, &result); err == nil {
			result.CacheHit = true
			return &result, nil
		}
		g.log.Warnf("Corrupt cache entry for %s, falling through to live call", probe.Key)
	}

	resp, err := g.callChain(ctx, spec)
	if err != nil {
		return nil, err
	}

	result := parse(resp.Text)
	metrics.ParseStrategies.WithLabelValues(result.Strategy).Inc()

	// Static fallback replies are not real model output; caching them
	// would mask provider recovery.
	if resp.Provider != ai.ProviderNameStatic {
		g.fill(ctx, probe, spec, result)
	}

	return result, nil
}

func (g *Gateway) callChain(ctx context.Context, spec prompt.Spec) (*ai.Response, error) {
	var lastErr error

	for _, provider := range g.chain {
		start := time.Now()
		resp, err := provider.Call(ctx, ai.Request{
			System:      spec.System,
			Prompt:      spec.Text,
			Model:       spec.Model,
			Temperature: spec.Temperature,
			MaxTokens:   spec.MaxTokens,
			Timeout:     g.requestTimeout,
		})
		metrics.ProviderLatency.WithLabelValues(string(provider.Name())).Observe(time.Since(start).Seconds())

		if err == nil {
			metrics.ProviderCalls.WithLabelValues(string(provider.Name()), "success").Inc()
			return resp, nil
		}

		status := "error"
		if errors.Is(err, errors.ErrTimeout) {
			status = "timeout"
		}
		metrics.ProviderCalls.WithLabelValues(string(provider.Name()), status).Inc()
		g.log.Warnf("Provider %s failed, advancing chain: %v", provider.Name(), err)
		lastErr = err

		if ctx.Err() != nil {
			break
		}
	}

	return nil, errors.Wrapf(errors.ErrProvidersExhausted, "last error: %v", lastErr)
}

func (g *Gateway) fill(ctx context.Context, probe cache.Probe, spec prompt.Spec, result *ParsedResult) {
	value, err := json.Marshal(result)
	if err != nil {
		g.log.Warnf("Failed to encode result for cache: %v", err)
		return
	}

	g.cache.Put(ctx, &cache.Entry{
		Key:      probe.Key,
		Value:    value,
		Scope:    spec.Scope,
		Text:     spec.Text,
		StoredAt: time.Now(),
	})
}
