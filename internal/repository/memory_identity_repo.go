package repository

import (
	"context"
	"sync"

	"github.com/uternity/gateway/internal/model"
)

// MemoryIdentityRepo はプロセス内マップを使用したユーザーリポジトリ。
// 返却値はすべてコピーで、呼び出し元の変更は内部状態に影響しない。
type MemoryIdentityRepo struct {
	mu         sync.RWMutex
	identities map[string]*model.Identity
	order      []string
}

// NewMemoryIdentityRepo はMemoryIdentityRepoを生成する。
func NewMemoryIdentityRepo() *MemoryIdentityRepo {
	return &MemoryIdentityRepo{
		identities: make(map[string]*model.Identity),
	}
}

// Create はユーザーを登録する。
func (r *MemoryIdentityRepo) Create(_ context.Context, identity *model.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.identities[identity.Email]; exists {
		return model.NewUserExistsError()
	}

	stored := *identity
	r.identities[identity.Email] = &stored
	r.order = append(r.order, identity.Email)
	return nil
}

// FindByEmail はメールアドレスでユーザーを取得する。
func (r *MemoryIdentityRepo) FindByEmail(_ context.Context, email string) (*model.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	identity, ok := r.identities[email]
	if !ok {
		return nil, nil
	}
	found := *identity
	return &found, nil
}

// List は全ユーザーを登録順に返す。
func (r *MemoryIdentityRepo) List(_ context.Context) ([]model.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]model.Identity, 0, len(r.order))
	for _, email := range r.order {
		result = append(result, *r.identities[email])
	}
	return result, nil
}

// SetActive はユーザーの有効フラグを更新する。
func (r *MemoryIdentityRepo) SetActive(_ context.Context, email string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, ok := r.identities[email]
	if !ok {
		return model.NewUserNotFoundError()
	}
	identity.IsActive = active
	return nil
}

// Count は登録ユーザー数を返す。
func (r *MemoryIdentityRepo) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.identities), nil
}

// compile-time interface check
var _ IdentityRepository = (*MemoryIdentityRepo)(nil)
