package ai

import (
	"context"
)

// StaticProvider is the terminal entry in a fallback chain. It always
// succeeds with a canned reply so a total provider outage still produces
// a safe outbound message instead of silence.
type StaticProvider struct {
	text string
}

// NewStaticProvider creates a static provider with the given reply text
func NewStaticProvider(text string) *StaticProvider {
	if text == "" {
		text = "Thanks for your message! We'll get back to you shortly."
	}
	return &StaticProvider{text: text}
}

// Name returns the provider name
func (p *StaticProvider) Name() ProviderName {
	return ProviderNameStatic
}

// Call returns the canned reply
func (p *StaticProvider) Call(ctx context.Context, req Request) (*Response, error) {
	return &Response{
		Text:     p.text,
		Model:    "static",
		Provider: ProviderNameStatic,
	}, nil
}
