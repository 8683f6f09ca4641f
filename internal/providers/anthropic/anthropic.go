// Package anthropic implements providers.Provider against Anthropic's
// Messages API, grounded on the teacher repository's
// internal/agent/providers/anthropic.go (trimmed to the core's
// non-streaming, tool-less generation contract — streaming and tool-call
// conversion are the Agent Executor's concern, not the dispatcher's).
package anthropic

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/meridianhq/orchestrator/internal/providers"
)

// Config holds the parameters needed to construct a Provider.
type Config struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// Provider implements providers.Provider against Anthropic's Messages API.
type Provider struct {
	client       anthropic.Client
	defaultModel string
}

// New constructs an Anthropic-backed provider. APIKey is required.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: API key is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.DefaultModel
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}

	return &Provider{
		client:       anthropic.NewClient(opts...),
		defaultModel: model,
	}, nil
}

// Name implements providers.Provider.
func (p *Provider) Name() string { return "anthropic" }

// Complete implements providers.Provider by issuing one non-streaming
// Messages.New call and assembling the returned content blocks into a
// single text result, the way spec.md §4.1 requires ("streaming responses
// are assembled into the final text before returning").
func (p *Provider) Complete(ctx context.Context, req *providers.CompletionRequest) (*providers.CompletionResult, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  convertMessages(req.Messages),
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	start := time.Now()
	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if tb := block.AsAny(); tb != nil {
			if t, ok := tb.(anthropic.TextBlock); ok {
				text += t.Text
			}
		}
	}

	return &providers.CompletionResult{
		Text:         text,
		TokensUsed:   int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		Latency:      time.Since(start),
		FinishReason: string(msg.StopReason),
	}, nil
}

func convertMessages(msgs []providers.Message) []anthropic.MessageParam {
	result := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		block := anthropic.NewTextBlock(m.Content)
		switch m.Role {
		case "assistant":
			result = append(result, anthropic.NewAssistantMessage(block))
		default:
			result = append(result, anthropic.NewUserMessage(block))
		}
	}
	return result
}
