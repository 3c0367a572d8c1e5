package ai

import (
	"strings"

	"concierge/internal/adapters/config"
	"concierge/pkg/errors"
	"concierge/pkg/logger"
)

// BuildChain constructs the ordered provider fallback chain from config.
// Providers whose keys are missing are skipped with a warning; the chain
// always ends with the static provider so it can never be empty.
func BuildChain(cfg config.AIConfig, fallbackText string) ([]Provider, error) {
	log := logger.Get().With("component", "ai_factory")

	var chain []Provider
	for _, name := range cfg.ProviderOrder {
		switch ProviderName(strings.TrimSpace(name)) {
		case ProviderNameAnthropic:
			if cfg.AnthropicKey == "" {
				log.Warn("Skipping anthropic provider: no API key configured")
				continue
			}
			p, err := NewAnthropicProvider(cfg.AnthropicKey, cfg.AnthropicModel)
			if err != nil {
				return nil, errors.Wrap(err, "build anthropic provider")
			}
			chain = append(chain, WithRateLimit(p, cfg.RequestsPerMinute))

		case ProviderNameOpenAI:
			if cfg.OpenAIKey == "" {
				log.Warn("Skipping openai provider: no API key configured")
				continue
			}
			p, err := NewOpenAIProvider(cfg.OpenAIKey, cfg.OpenAIModel)
			if err != nil {
				return nil, errors.Wrap(err, "build openai provider")
			}
			chain = append(chain, WithRateLimit(p, cfg.RequestsPerMinute))

		case ProviderNameStatic:
			chain = append(chain, NewStaticProvider(fallbackText))

		default:
			return nil, errors.Wrapf(errors.ErrInvalidInput, "unknown provider %q", name)
		}
	}

	if len(chain) == 0 || chain[len(chain)-1].Name() != ProviderNameStatic {
		chain = append(chain, NewStaticProvider(fallbackText))
	}

	return chain, nil
}
