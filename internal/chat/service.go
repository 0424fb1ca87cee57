// Package chat はユーザーごとのチャットセッションとメッセージログの管理を提供する。
// 回答の生成は外部の回答プロバイダーに委譲する。
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/uternity/gateway/internal/metrics"
	"github.com/uternity/gateway/internal/model"
	"github.com/uternity/gateway/internal/provider"
	"github.com/uternity/gateway/internal/repository"
)

const (
	// AnonymousUserID はユーザーID未指定時に使用するID。
	AnonymousUserID = "anonymous"
	// NewChatPreview はメッセージ未送信のセッションのプレビュー文言。
	NewChatPreview = "New Chat"

	previewMaxRunes = 50
	previewEllipsis = "..."
)

// AnswerProvider はチャット回答を生成する外部協調者のインターフェース。
type AnswerProvider interface {
	Answer(ctx context.Context, query string) (*provider.Answer, error)
}

// ServiceConfig はチャットサービスの設定。
type ServiceConfig struct {
	// RAGAvailable は検索拡張サービスが構成されているか。応答メタデータに含める。
	RAGAvailable bool
	// Now は現在時刻の取得。nilの場合はtime.Now
	Now func() time.Time
	// NewID はセッションIDとメッセージIDの生成。nilの場合はUUID v4
	NewID func() string
}

// SessionSummary はセッション一覧の1要素。
type SessionSummary struct {
	SessionID    string
	LastMessage  string
	CreatedAt    time.Time
	UpdatedAt    time.Time // 未更新の場合はCreatedAt
	MessageCount int
}

// Service はチャットに関するビジネスロジックを提供する。
type Service struct {
	repo     repository.ConversationRepository
	provider AnswerProvider
	metrics  metrics.MetricsCollector
	config   ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	repo repository.ConversationRepository,
	answerProvider AnswerProvider,
	collector metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.NewID == nil {
		config.NewID = func() string { return uuid.New().String() }
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		repo:     repo,
		provider: answerProvider,
		metrics:  collector,
		config:   config,
	}
}

// EnsureSession は(userID, sessionID)のセッションが存在することを保証し、セッションIDを返す。
// sessionIDが空の場合は新しいIDを発行する。既存セッションのログは変更しない。
func (s *Service) EnsureSession(ctx context.Context, userID, sessionID string) (string, error) {
	if sessionID == "" {
		sessionID = s.config.NewID()
	}

	created, err := s.repo.Ensure(ctx, userID, sessionID, s.config.Now())
	if err != nil {
		if model.IsKind(err, model.KindConflict) {
			return "", err
		}
		return "", model.NewInternalError("failed to create session", err)
	}
	if created {
		slog.Info("chat session created",
			slog.String("user_id", userID),
			slog.String("session_id", sessionID),
		)
	}
	return sessionID, nil
}

// AppendMessage はセッションのログにメッセージを追記し、保存したメッセージを返す。
func (s *Service) AppendMessage(ctx context.Context, sessionID string, role model.Role, content string) (*model.Message, error) {
	msg := model.Message{
		ID:        s.config.NewID(),
		Role:      role,
		Content:   content,
		Timestamp: s.config.Now(),
	}
	if err := s.repo.Append(ctx, sessionID, msg); err != nil {
		if model.IsKind(err, model.KindNotFound) {
			return nil, err
		}
		return nil, model.NewInternalError("failed to append message", err)
	}
	return &msg, nil
}

// PostChat はユーザーの発話を記録し、回答を生成してアシスタントの発話として記録する。
// 回答の生成に失敗した場合もユーザーの発話はログに残り、KindInternalのエラーを返す。
// 回答プロバイダーの呼び出し中はリポジトリのロックを保持しないため、
// 同一セッションへの同時リクエストでは発話が交互に記録されることがある。
func (s *Service) PostChat(ctx context.Context, userID, message, sessionID string) (*model.ChatResult, error) {
	start := s.config.Now()
	if userID == "" {
		userID = AnonymousUserID
	}

	sessionID, err := s.EnsureSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	if _, err := s.AppendMessage(ctx, sessionID, model.RoleUser, message); err != nil {
		return nil, err
	}

	answer, err := s.provider.Answer(ctx, message)
	if err != nil {
		slog.Error("chat processing failed",
			slog.String("user_id", userID),
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewInternalError(err.Error(), err)
	}

	reply, err := s.AppendMessage(ctx, sessionID, model.RoleAssistant, answer.Text)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Touch(ctx, sessionID, Preview(message), s.config.Now()); err != nil {
		return nil, model.NewInternalError("failed to update session", err)
	}

	s.metrics.RecordChatTurn(string(answer.Provenance))
	slog.Info("chat processed",
		slog.String("user_id", userID),
		slog.String("session_id", sessionID),
		slog.String("data_source", string(answer.Provenance)),
	)

	sources := answer.Sources
	if sources == nil {
		sources = []model.Source{}
	}

	return &model.ChatResult{
		MessageID:        reply.ID,
		Response:         answer.Text,
		SessionID:        sessionID,
		UserID:           userID,
		Confidence:       answer.Confidence,
		Provenance:       answer.Provenance,
		Sources:          sources,
		ProcessingTimeMs: float64(s.config.Now().Sub(start).Microseconds()) / 1000,
		RAGAvailable:     s.config.RAGAvailable,
		Timestamp:        reply.Timestamp,
	}, nil
}

// ListSessions はユーザーのセッション一覧を更新日時の降順で返す。
// 未更新のセッションは作成日時で並べ、同時刻の場合はセッションIDの昇順とする。
func (s *Service) ListSessions(ctx context.Context, userID string) ([]SessionSummary, error) {
	convs, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, model.NewInternalError("failed to list sessions", err)
	}

	summaries := make([]SessionSummary, 0, len(convs))
	for _, c := range convs {
		summary := SessionSummary{
			SessionID:    c.SessionID,
			LastMessage:  c.LastMessage,
			CreatedAt:    c.CreatedAt,
			UpdatedAt:    c.UpdatedAt,
			MessageCount: c.MessageCount,
		}
		if summary.LastMessage == "" {
			summary.LastMessage = NewChatPreview
		}
		if summary.UpdatedAt.IsZero() {
			summary.UpdatedAt = c.CreatedAt
		}
		summaries = append(summaries, summary)
	}

	slices.SortFunc(summaries, func(a, b SessionSummary) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.SessionID, b.SessionID)
	})
	return summaries, nil
}

// ListMessages はセッションのメッセージを挿入順に返す。未知のセッションは空を返す。
func (s *Service) ListMessages(ctx context.Context, sessionID string) ([]model.Message, error) {
	msgs, err := s.repo.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, model.NewInternalError("failed to list messages", err)
	}
	return msgs, nil
}

// DeleteSession はセッションのメタデータとメッセージログを削除する。冪等。
func (s *Service) DeleteSession(ctx context.Context, userID, sessionID string) error {
	if err := s.repo.Delete(ctx, userID, sessionID); err != nil {
		return model.NewInternalError("failed to delete session", err)
	}
	slog.Info("chat session deleted",
		slog.String("user_id", userID),
		slog.String("session_id", sessionID),
	)
	return nil
}

// Stats はセッションを持つユーザー数、セッション数、メッセージ数を返す。
func (s *Service) Stats(ctx context.Context) (repository.ConversationStats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return repository.ConversationStats{}, fmt.Errorf("failed to collect chat stats: %w", err)
	}
	return stats, nil
}

// Preview はメッセージのプレビューを返す。
// 50文字を超える場合は先頭50文字に"..."を付ける。
func Preview(message string) string {
	runes := []rune(message)
	if len(runes) <= previewMaxRunes {
		return message
	}
	return string(runes[:previewMaxRunes]) + previewEllipsis
}
