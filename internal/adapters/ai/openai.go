package ai

import (
	"context"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"concierge/pkg/errors"
	"concierge/pkg/logger"
)

// OpenAIProvider implements Provider using the official OpenAI SDK
type OpenAIProvider struct {
	client       openai.Client
	defaultModel string
	log          *logger.Logger
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(apiKey string, defaultModel string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "openai API key is required")
	}
	if defaultModel == "" {
		defaultModel = string(openai.ChatModelGPT4oMini)
	}

	client := openai.NewClient(option.WithAPIKey(apiKey))

	return &OpenAIProvider{
		client:       client,
		defaultModel: defaultModel,
		log:          logger.Get().With("component", "openai_provider"),
	}, nil
}

// Name returns the provider name
func (p *OpenAIProvider) Name() ProviderName {
	return ProviderNameOpenAI
}

// Call sends a chat completion request to the OpenAI API
func (p *OpenAIProvider) Call(ctx context.Context, req Request) (*Response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(errors.ErrTimeout, "openai call")
		}
		return nil, errors.Wrapf(errors.ErrProviderUnavailable, "openai: %v", err)
	}

	if len(resp.Choices) == 0 {
		return nil, errors.Wrap(errors.ErrProviderUnavailable, "openai: empty choices")
	}

	return &Response{
		Text:         resp.Choices[0].Message.Content,
		Model:        resp.Model,
		Provider:     ProviderNameOpenAI,
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}, nil
}
