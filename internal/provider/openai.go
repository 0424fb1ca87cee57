package provider

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/uternity/gateway/internal/model"
)

// OpenAIOptions はOpenAI互換チャットAPIの設定。
type OpenAIOptions struct {
	APIKey      string
	BaseURL     string // Groqなど互換エンドポイントのベースURL
	Model       string
	Temperature float64
	MaxTokens   int64
}

// OpenAIChat はOpenAI互換のChat Completions APIで回答するプロバイダー。
// デフォルト構成ではGroqを呼び出す。
type OpenAIChat struct {
	client *openai.Client
	opts   OpenAIOptions
}

// NewOpenAIChat はOpenAIChatを生成する。
// リトライはSDKに任せず、1リクエストにつき1回だけ呼び出す。
func NewOpenAIChat(opts OpenAIOptions) *OpenAIChat {
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

	client := openai.NewClient(clientOpts...)
	return &OpenAIChat{client: &client, opts: opts}
}

// Name はプロバイダー名を返す。
func (p *OpenAIChat) Name() string { return "openai" }

// Answer はシステムプロンプトと質問を送信し、最初の選択肢の本文を回答とする。
func (p *OpenAIChat) Answer(ctx context.Context, query string) (*Answer, error) {
	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(query),
		},
		Model:               p.opts.Model,
		Temperature:         openai.Float(p.opts.Temperature),
		MaxCompletionTokens: openai.Int(p.opts.MaxTokens),
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, model.NewProviderFailureError(p.Name(), fmt.Errorf("chat completion failed: %w", err))
	}
	if len(resp.Choices) == 0 {
		return nil, model.NewProviderFailureError(p.Name(), fmt.Errorf("no choices returned"))
	}

	return &Answer{
		Text:       resp.Choices[0].Message.Content,
		Sources:    []model.Source{},
		Provenance: model.ProvenanceStandardLLM,
		Confidence: ConfidenceLLM,
	}, nil
}
