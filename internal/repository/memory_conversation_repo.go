package repository

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/uternity/gateway/internal/model"
)

// conversationEntry はセッションメタデータとメッセージログの組。
type conversationEntry struct {
	meta     model.Conversation
	messages []model.Message
}

// MemoryConversationRepo はプロセス内マップを使用したチャットリポジトリ。
// user → session のインデックスと session → (メタデータ, ログ) を保持する。
type MemoryConversationRepo struct {
	mu      sync.RWMutex
	entries map[string]*conversationEntry
	byUser  map[string]map[string]struct{}
}

// NewMemoryConversationRepo はMemoryConversationRepoを生成する。
func NewMemoryConversationRepo() *MemoryConversationRepo {
	return &MemoryConversationRepo{
		entries: make(map[string]*conversationEntry),
		byUser:  make(map[string]map[string]struct{}),
	}
}

// Ensure は(userID, sessionID)の組が未登録であればセッションを作成する。
func (r *MemoryConversationRepo) Ensure(_ context.Context, userID, sessionID string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entries[sessionID]; ok {
		if entry.meta.UserID != userID {
			return false, &model.Error{Kind: model.KindConflict, Message: "session belongs to another user"}
		}
		return false, nil
	}

	r.entries[sessionID] = &conversationEntry{
		meta: model.Conversation{
			SessionID: sessionID,
			UserID:    userID,
			CreatedAt: now,
		},
		messages: []model.Message{},
	}
	sessions, ok := r.byUser[userID]
	if !ok {
		sessions = make(map[string]struct{})
		r.byUser[userID] = sessions
	}
	sessions[sessionID] = struct{}{}
	return true, nil
}

// Append はメッセージを追記する。
func (r *MemoryConversationRepo) Append(_ context.Context, sessionID string, msg model.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[sessionID]
	if !ok {
		return &model.Error{Kind: model.KindNotFound, Message: "session not found: " + sessionID}
	}
	entry.messages = append(entry.messages, msg)
	entry.meta.MessageCount = len(entry.messages)
	return nil
}

// Touch はプレビューと更新時刻を記録する。
func (r *MemoryConversationRepo) Touch(_ context.Context, sessionID, preview string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[sessionID]
	if !ok {
		return &model.Error{Kind: model.KindNotFound, Message: "session not found: " + sessionID}
	}
	entry.meta.LastMessage = preview
	entry.meta.UpdatedAt = now
	entry.meta.MessageCount = len(entry.messages)
	return nil
}

// ListByUser は指定ユーザーのセッションメタデータを返す。
func (r *MemoryConversationRepo) ListByUser(_ context.Context, userID string) ([]model.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := r.byUser[userID]
	result := make([]model.Conversation, 0, len(sessions))
	for sessionID := range sessions {
		result = append(result, r.entries[sessionID].meta)
	}
	return result, nil
}

// ListMessages は指定セッションのメッセージを挿入順に返す。
func (r *MemoryConversationRepo) ListMessages(_ context.Context, sessionID string) ([]model.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[sessionID]
	if !ok {
		return []model.Message{}, nil
	}
	return slices.Clone(entry.messages), nil
}

// Delete は指定ユーザーのセッションを削除する。
// 別ユーザーのセッションIDが指定された場合は何もしない。
func (r *MemoryConversationRepo) Delete(_ context.Context, userID, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[sessionID]
	if !ok || entry.meta.UserID != userID {
		return nil
	}
	delete(r.entries, sessionID)
	if sessions, ok := r.byUser[userID]; ok {
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(r.byUser, userID)
		}
	}
	return nil
}

// Stats は件数集計を返す。
func (r *MemoryConversationRepo) Stats(_ context.Context) (ConversationStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := ConversationStats{
		Users:    len(r.byUser),
		Sessions: len(r.entries),
	}
	for _, entry := range r.entries {
		stats.Messages += len(entry.messages)
	}
	return stats, nil
}

// compile-time interface check
var _ ConversationRepository = (*MemoryConversationRepo)(nil)
