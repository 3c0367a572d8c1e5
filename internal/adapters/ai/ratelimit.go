package ai

import (
	"context"

	"golang.org/x/time/rate"

	"concierge/pkg/errors"
)

// limitedProvider applies a client-side token bucket in front of a provider
// so a burst of cache misses cannot blow through vendor rate limits.
type limitedProvider struct {
	inner   Provider
	limiter *rate.Limiter
}

// WithRateLimit wraps a provider with a requests-per-minute token bucket.
// Burst defaults to 10% of the per-minute rate, minimum 1.
func WithRateLimit(p Provider, requestsPerMinute int) Provider {
	if requestsPerMinute <= 0 {
		return p
	}

	burst := requestsPerMinute / 10
	if burst < 1 {
		burst = 1
	}

	return &limitedProvider{
		inner:   p,
		limiter: rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), burst),
	}
}

func (l *limitedProvider) Name() ProviderName {
	return l.inner.Name()
}

func (l *limitedProvider) Call(ctx context.Context, req Request) (*Response, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrapf(errors.ErrRateLimitExceeded, "provider %s: %v", l.inner.Name(), err)
	}
	return l.inner.Call(ctx, req)
}
