package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const DefaultModel = "claude-sonnet-4-20250514"

var ErrNotConfigured = errors.New("anthropic api key not configured")

// Completer sends one prompt and returns the concatenated text reply.
type Completer interface {
	Complete(ctx context.Context, system, prompt string, maxTokens int64) (string, error)
}

// Messager is the slice of the SDK client used here, so tests can swap it out.
type Messager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

type AnthropicClient struct {
	messages Messager
	model    string
}

// NewAnthropicClient builds a client for the given key. An empty model uses DefaultModel.
func NewAnthropicClient(apiKey, model string, opts ...option.RequestOption) (*AnthropicClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrNotConfigured
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	c := anthropic.NewClient(opts...)
	return NewAnthropicClientWithMessager(&c.Messages, model), nil
}

func NewAnthropicClientWithMessager(m Messager, model string) *AnthropicClient {
	if model == "" {
		model = DefaultModel
	}
	return &AnthropicClient{messages: m, model: model}
}

func (c *AnthropicClient) Model() string {
	return c.model
}

func (c *AnthropicClient) Complete(ctx context.Context, system, prompt string, maxTokens int64) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := c.messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic request failed: %w", err)
	}

	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	if sb.Len() == 0 {
		return "", errors.New("anthropic returned no text content")
	}
	return sb.String(), nil
}
