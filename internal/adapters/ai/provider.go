package ai

import (
	"context"
	"time"
)

// ProviderName identifies a model provider
type ProviderName string

const (
	ProviderNameAnthropic ProviderName = "anthropic"
	ProviderNameOpenAI    ProviderName = "openai"
	ProviderNameStatic    ProviderName = "static"
)

// Request is a provider-agnostic completion request
type Request struct {
	System      string
	Prompt      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Response is the raw provider output before any parsing
type Response struct {
	Text         string
	Model        string
	Provider     ProviderName
	InputTokens  int
	OutputTokens int
}

// Provider defines the contract each model provider implementation must satisfy.
// Implementations must honor ctx cancellation and return errors wrapping
// pkg/errors.ErrProviderUnavailable or ErrTimeout so the gateway's fallback
// chain can classify them.
type Provider interface {
	Name() ProviderName

	Call(ctx context.Context, req Request) (*Response, error)
}
