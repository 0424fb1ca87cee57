package model

import "time"

// Role はメッセージの発話者を表す。
type Role string

const (
	// RoleUser はユーザーの発話。
	RoleUser Role = "user"
	// RoleAssistant はアシスタントの応答。
	RoleAssistant Role = "assistant"
)

// Conversation はユーザーごとのチャットセッションのメタデータを表す。
// 有効期限はなく、明示的な削除要求でのみ削除される。
type Conversation struct {
	SessionID   string
	UserID      string
	CreatedAt   time.Time
	UpdatedAt   time.Time // 一度も更新されていない場合はゼロ値
	LastMessage string    // 直近のユーザー発話のプレビュー。未送信の場合は空
	// MessageCount は常にメッセージログの長さと一致する。
	MessageCount int
}

// Message はチャットセッション内の1発話を表す。挿入順に追記される。
type Message struct {
	ID        string
	Role      Role
	Content   string
	Timestamp time.Time
}

// Source は回答の根拠となった参照情報を表す。
// 外部検索サービスが返す任意のフィールドをそのまま保持する。
type Source map[string]any

// Provenance は回答の出所を表すタグ。
type Provenance string

const (
	// ProvenanceRAGEnhanced は検索拡張された回答。
	ProvenanceRAGEnhanced Provenance = "rag_enhanced"
	// ProvenanceRAGFallback は外部プロバイダー不通時の定型回答。
	ProvenanceRAGFallback Provenance = "rag_fallback"
	// ProvenanceStandardLLM はLLMに直接問い合わせた回答。
	ProvenanceStandardLLM Provenance = "standard_llm"
)

// ChatResult はPostChatの結果をまとめたもの。
type ChatResult struct {
	MessageID        string
	Response         string
	SessionID        string
	UserID           string
	Confidence       float64
	Provenance       Provenance
	Sources          []Source
	ProcessingTimeMs float64
	RAGAvailable     bool
	Timestamp        time.Time
}
