package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/uternity/gateway/internal/chat"
	"github.com/uternity/gateway/internal/middleware"
	"github.com/uternity/gateway/internal/model"
	"github.com/uternity/gateway/internal/repository"
)

// ServiceVersion はヘルスチェックで返すサービスのバージョン。
const ServiceVersion = "1.0.0"

// ChatServiceInterface はチャットハンドラーが必要とするサービスインターフェース。
type ChatServiceInterface interface {
	PostChat(ctx context.Context, userID, message, sessionID string) (*model.ChatResult, error)
	EnsureSession(ctx context.Context, userID, sessionID string) (string, error)
	ListSessions(ctx context.Context, userID string) ([]chat.SessionSummary, error)
	ListMessages(ctx context.Context, sessionID string) ([]model.Message, error)
	DeleteSession(ctx context.Context, userID, sessionID string) error
	Stats(ctx context.Context) (repository.ConversationStats, error)
}

// ChatHandlerConfig はチャットハンドラーの設定。
type ChatHandlerConfig struct {
	// ProviderName はヘルスチェックで表示するLLMプロバイダー名。
	ProviderName string
	RAGAvailable bool
}

// ChatHandler はチャット関連のHTTPハンドラー。
type ChatHandler struct {
	service ChatServiceInterface
	config  ChatHandlerConfig
}

// NewChatHandler はChatHandlerを生成する。
func NewChatHandler(service ChatServiceInterface, config ChatHandlerConfig) *ChatHandler {
	return &ChatHandler{service: service, config: config}
}

type chatRequest struct {
	Message   *string `json:"message"`
	UserID    string  `json:"user_id"`
	SessionID string  `json:"session_id"`
}

type sessionRequest struct {
	UserID *string `json:"user_id"`
}

// chatResponse はPOST /chatのレスポンス。
type chatResponse struct {
	MessageID         string         `json:"message_id"`
	Response          string         `json:"response"`
	SessionID         string         `json:"session_id"`
	UserID            string         `json:"user_id"`
	ConfidenceScore   float64        `json:"confidence_score"`
	DataSource        string         `json:"data_source"`
	RAGConfidence     float64        `json:"rag_confidence"`
	UniversitiesFound int            `json:"universities_found"`
	ProcessingTimeMs  float64        `json:"processing_time_ms"`
	StrategyUsed      string         `json:"strategy_used"`
	Sources           []model.Source `json:"sources"`
	Metadata          chatMetadata   `json:"metadata"`
	Timestamp         time.Time      `json:"timestamp"`
}

type chatMetadata struct {
	ConfidenceLevel string  `json:"confidence_level"`
	ErrorOccurred   bool    `json:"error_occurred"`
	ErrorMessage    *string `json:"error_message"`
	RAGAvailable    bool    `json:"rag_available"`
}

type sessionSummaryResponse struct {
	SessionID    string    `json:"session_id"`
	LastMessage  string    `json:"last_message"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

type messageResponse struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type chatHealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Version    string            `json:"version"`
	Counts     chatHealthCounts  `json:"counts"`
	Components map[string]string `json:"components"`
}

type chatHealthCounts struct {
	Users    int `json:"users"`
	Sessions int `json:"sessions"`
	Messages int `json:"messages"`
}

// Chat はユーザーの発話を受け取り、回答を返す。
// POST /chat
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !requireFields(w, field{"message", req.Message}) {
		return
	}

	result, err := h.service.PostChat(r.Context(), req.UserID, *req.Message, req.SessionID)
	if err != nil {
		middleware.WriteDetail(w, http.StatusInternalServerError, "Chat processing failed: "+model.MessageOf(err))
		return
	}

	writeJSON(w, http.StatusOK, toChatResponse(result))
}

// NewSession はセッションを新規作成する。
// POST /chat/session/new
func (h *ChatHandler) NewSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !requireFields(w, field{"user_id", req.UserID}) {
		return
	}

	sessionID, err := h.service.EnsureSession(r.Context(), *req.UserID, "")
	if err != nil {
		slog.Error("failed to create chat session", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"session_id": sessionID,
		"status":     "created",
	})
}

// ListSessions はユーザーのセッション一覧を返す。
// GET /chat/sessions/{user_id}
func (h *ChatHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")

	summaries, err := h.service.ListSessions(r.Context(), userID)
	if err != nil {
		slog.Error("failed to list chat sessions", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	sessions := make([]sessionSummaryResponse, len(summaries))
	for i, s := range summaries {
		sessions[i] = sessionSummaryResponse{
			SessionID:    s.SessionID,
			LastMessage:  s.LastMessage,
			CreatedAt:    s.CreatedAt,
			UpdatedAt:    s.UpdatedAt,
			MessageCount: s.MessageCount,
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"user_id":  userID,
	})
}

// ListMessages はセッションのメッセージを返す。
// GET /chat/session/{user_id}/{session_id}
func (h *ChatHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	sessionID := chi.URLParam(r, "session_id")

	msgs, err := h.service.ListMessages(r.Context(), sessionID)
	if err != nil {
		slog.Error("failed to list chat messages", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	messages := make([]messageResponse, len(msgs))
	for i, m := range msgs {
		messages[i] = messageResponse{
			ID:        m.ID,
			Role:      string(m.Role),
			Content:   m.Content,
			Timestamp: m.Timestamp,
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"messages":   messages,
		"session_id": sessionID,
		"user_id":    userID,
	})
}

// DeleteSession はセッションとメッセージを削除する。
// DELETE /chat/session/{user_id}/{session_id}
func (h *ChatHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	sessionID := chi.URLParam(r, "session_id")

	if err := h.service.DeleteSession(r.Context(), userID, sessionID); err != nil {
		slog.Error("failed to delete chat session", slog.String("error", err.Error()))
		middleware.WriteDetail(w, http.StatusInternalServerError, model.MessageOf(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "deleted",
		"session_id": sessionID,
		"user_id":    userID,
	})
}

// Health はチャットサービスの稼働状況と件数を返す。
// GET /health
func (h *ChatHandler) Health(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		slog.Error("failed to collect chat stats", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	rag := "unavailable"
	if h.config.RAGAvailable {
		rag = "available"
	}

	writeJSON(w, http.StatusOK, chatHealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   ServiceVersion,
		Counts: chatHealthCounts{
			Users:    stats.Users,
			Sessions: stats.Sessions,
			Messages: stats.Messages,
		},
		Components: map[string]string{
			"chat_processor": "healthy",
			"llm_provider":   h.config.ProviderName,
			"rag_system":     rag,
		},
	})
}

func toChatResponse(result *model.ChatResult) chatResponse {
	confidenceLevel := "medium"
	if result.Provenance == model.ProvenanceRAGEnhanced {
		confidenceLevel = "high"
	}

	return chatResponse{
		MessageID:         result.MessageID,
		Response:          result.Response,
		SessionID:         result.SessionID,
		UserID:            result.UserID,
		ConfidenceScore:   result.Confidence,
		DataSource:        string(result.Provenance),
		RAGConfidence:     result.Confidence,
		UniversitiesFound: len(result.Sources),
		ProcessingTimeMs:  result.ProcessingTimeMs,
		StrategyUsed:      string(result.Provenance),
		Sources:           result.Sources,
		Metadata: chatMetadata{
			ConfidenceLevel: confidenceLevel,
			RAGAvailable:    result.RAGAvailable,
		},
		Timestamp: result.Timestamp,
	}
}

