// Package provider はチャット回答を生成する外部プロバイダーとの連携を提供する。
// 検索拡張サービス、OpenAI互換LLM、Anthropic LLM、およびそれらを順に試す合成プロバイダーを含む。
package provider

import (
	"context"

	"github.com/uternity/gateway/internal/model"
)

const (
	// FallbackText は全プロバイダーが失敗した場合の定型回答。
	FallbackText = "I'm having trouble connecting to my knowledge base. Please try again in a moment."

	// ConfidenceRAG は検索サービスが確信度を返さなかった場合の値。
	ConfidenceRAG = 0.92
	// ConfidenceLLM はLLM直接回答の確信度。
	ConfidenceLLM = 0.75
	// ConfidenceFallback は定型回答の確信度。
	ConfidenceFallback = 0.6

	defaultTemperature = 0.7
	defaultMaxTokens   = 1000
)

// systemPrompt はLLMに渡すシステムプロンプト。
const systemPrompt = `You are an expert study abroad advisor helping students plan their international education.
Cover university admissions, program selection, visa requirements, scholarships, costs and cultural preparation.
For every query give specific requirements and deadlines, step-by-step next actions and alternatives where they exist.
Use markdown formatting (headers, lists, tables, bold for deadlines) and keep an encouraging, professional tone.`

// Answer は回答プロバイダーの応答。
type Answer struct {
	Text       string
	Sources    []model.Source
	Provenance model.Provenance
	Confidence float64
}

// Provider は自然言語の質問に回答する外部協調者のインターフェース。
type Provider interface {
	// Name はログとメトリクスで使用するプロバイダー名を返す。
	Name() string
	// Answer は質問に対する回答を返す。失敗時はKindProviderFailureのエラーを返す。
	Answer(ctx context.Context, query string) (*Answer, error)
}
