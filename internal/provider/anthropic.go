package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/uternity/gateway/internal/model"
)

// AnthropicOptions はAnthropic Messages APIの設定。
type AnthropicOptions struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int64
}

// AnthropicChat はAnthropic Messages APIで回答するプロバイダー。
type AnthropicChat struct {
	client *anthropic.Client
	opts   AnthropicOptions
}

// NewAnthropicChat はAnthropicChatを生成する。
func NewAnthropicChat(opts AnthropicOptions) *AnthropicChat {
	if opts.Temperature == 0 {
		opts.Temperature = defaultTemperature
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = defaultMaxTokens
	}

	clientOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}

	client := anthropic.NewClient(clientOpts...)
	return &AnthropicChat{client: &client, opts: opts}
}

// Name はプロバイダー名を返す。
func (p *AnthropicChat) Name() string { return "anthropic" }

// Answer は質問を送信し、テキストブロックを連結して回答とする。
func (p *AnthropicChat) Answer(ctx context.Context, query string) (*Answer, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.opts.Model),
		MaxTokens: p.opts.MaxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(query)),
		},
		Temperature: anthropic.Float(p.opts.Temperature),
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, model.NewProviderFailureError(p.Name(), fmt.Errorf("messages api error: %w", err))
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}
	if sb.Len() == 0 {
		return nil, model.NewProviderFailureError(p.Name(), fmt.Errorf("no text content returned"))
	}

	return &Answer{
		Text:       sb.String(),
		Sources:    []model.Source{},
		Provenance: model.ProvenanceStandardLLM,
		Confidence: ConfidenceLLM,
	}, nil
}
