package repository

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/uternity/gateway/internal/model"
)

// MemorySessionRepo はプロセス内マップを使用したセッションリポジトリ。
// 発行順を保持し、DeleteFirstByEmailは最も古いセッションから走査する。
type MemorySessionRepo struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
	order    []string
}

// NewMemorySessionRepo はMemorySessionRepoを生成する。
func NewMemorySessionRepo() *MemorySessionRepo {
	return &MemorySessionRepo{
		sessions: make(map[string]*model.Session),
	}
}

// Create はセッションを保存する。
func (r *MemorySessionRepo) Create(_ context.Context, session *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[session.Token]; exists {
		return fmt.Errorf("session token collision")
	}

	stored := *session
	r.sessions[session.Token] = &stored
	r.order = append(r.order, session.Token)
	return nil
}

// FindByToken はトークンでセッションを取得する。
func (r *MemorySessionRepo) FindByToken(_ context.Context, token string) (*model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[token]
	if !ok {
		return nil, nil
	}
	found := *session
	return &found, nil
}

// DeleteByToken は指定トークンのセッションを削除する。
func (r *MemorySessionRepo) DeleteByToken(_ context.Context, token string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleteLocked(token), nil
}

// DeleteFirstByEmail は発行順で最初に見つかった指定ユーザーのセッションを削除する。
func (r *MemorySessionRepo) DeleteFirstByEmail(_ context.Context, email string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, token := range r.order {
		if r.sessions[token].User.Email == email {
			return r.deleteLocked(token), nil
		}
	}
	return false, nil
}

// DeleteExpired は期限切れセッションを一括削除する。
func (r *MemorySessionRepo) DeleteExpired(_ context.Context, now time.Time, expired ExpiryFunc) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.order[:0]
	deleted := 0
	for _, token := range r.order {
		if expired(r.sessions[token], now) {
			delete(r.sessions, token)
			deleted++
			continue
		}
		kept = append(kept, token)
	}
	r.order = kept
	return deleted, nil
}

// Count は保持中のセッション数を返す。
func (r *MemorySessionRepo) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions), nil
}

// deleteLocked はトークンを削除する。呼び出し元が書き込みロックを保持していること。
func (r *MemorySessionRepo) deleteLocked(token string) bool {
	if _, ok := r.sessions[token]; !ok {
		return false
	}
	delete(r.sessions, token)
	if i := slices.Index(r.order, token); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
	return true
}

// compile-time interface check
var _ SessionRepository = (*MemorySessionRepo)(nil)
