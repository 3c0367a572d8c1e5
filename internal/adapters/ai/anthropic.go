package ai

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"concierge/pkg/errors"
	"concierge/pkg/logger"
)

// AnthropicProvider implements Provider using the official Anthropic SDK
type AnthropicProvider struct {
	client       *anthropic.Client
	defaultModel string
	log          *logger.Logger
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(apiKey string, defaultModel string) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "anthropic API key is required")
	}
	if defaultModel == "" {
		defaultModel = string(anthropic.ModelClaude3_5Sonnet20241022)
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	return &AnthropicProvider{
		client:       &client,
		defaultModel: defaultModel,
		log:          logger.Get().With("component", "anthropic_provider"),
	}, nil
}

// Name returns the provider name
func (p *AnthropicProvider) Name() ProviderName {
	return ProviderNameAnthropic
}

// Call sends a completion request to the Anthropic Messages API
func (p *AnthropicProvider) Call(ctx context.Context, req Request) (*Response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens == 0 {
		maxTokens = 1024
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
		Temperature: anthropic.Float(req.Temperature),
	}

	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: req.System},
		}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(errors.ErrTimeout, "anthropic call")
		}
		return nil, errors.Wrapf(errors.ErrProviderUnavailable, "anthropic: %v", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return &Response{
		Text:         text,
		Model:        string(resp.Model),
		Provider:     ProviderNameAnthropic,
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}, nil
}
