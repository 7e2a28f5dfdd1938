package judge

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicBackend adapts the Anthropic Messages API as an alternative
// reasoning backend, selected with judge.backend=anthropic.
type AnthropicBackend struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewAnthropicBackend creates a backend using the given API key and model.
func NewAnthropicBackend(apiKey, model string) *AnthropicBackend {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &AnthropicBackend{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// Generate sends the prompt as a single user message and returns the first
// text block of the response.
func (b *AnthropicBackend) Generate(ctx context.Context, prompt string) (string, error) {
	msg, err := b.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     b.model,
		MaxTokens: 4096,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", errBackendUnavailable, err)
	}

	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("no text content in API response")
}

// Health reports static availability; the Messages API has no cheap
// model-listing poll equivalent to the tags endpoint.
func (b *AnthropicBackend) Health(ctx context.Context) Health {
	return Health{
		Status:        "connected",
		PrimaryModel:  string(b.model),
		PrimaryLoaded: true,
	}
}
