// Package auth はメールアドレスとパスワードによる認証、トークンセッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/uternity/gateway/internal/metrics"
	"github.com/uternity/gateway/internal/model"
	"github.com/uternity/gateway/internal/repository"
)

// DefaultSessionMaxAge はセッション有効期間のデフォルト（秒）。
const DefaultSessionMaxAge = 86400

// tokenBytes はトークン生成に使用する乱数のバイト数。
const tokenBytes = 32

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int              // セッション有効期間（秒）
	Now           func() time.Time // 現在時刻の取得。nilの場合はtime.Now
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	identRepo   repository.IdentityRepository
	sessionRepo repository.SessionRepository
	hasher      PasswordHasher
	metrics     metrics.MetricsCollector
	config      ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	identRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	hasher PasswordHasher,
	collector metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	if config.SessionMaxAge <= 0 {
		config.SessionMaxAge = DefaultSessionMaxAge
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		identRepo:   identRepo,
		sessionRepo: sessionRepo,
		hasher:      hasher,
		metrics:     collector,
		config:      config,
	}
}

// IsExpired はセッションが期限切れかを判定する。
// 現在時刻がExpiresAt以降であれば期限切れ。遅延削除と定期掃除の双方がこの述語を使う。
func IsExpired(session *model.Session, now time.Time) bool {
	return !now.Before(session.ExpiresAt)
}

// NormalizeEmail はメールアドレスの前後空白を除去し小文字化する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register はユーザーを登録する。
// 登録済みのメールアドレスの場合はKindConflictのエラーを返す。
func (s *Service) Register(ctx context.Context, email, password, name string) error {
	email = NormalizeEmail(email)

	existing, err := s.identRepo.FindByEmail(ctx, email)
	if err != nil {
		s.metrics.RecordRegistration("error")
		return model.NewInternalError("Registration failed due to server error", err)
	}
	if existing != nil {
		s.metrics.RecordRegistration("conflict")
		return model.NewUserExistsError()
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.metrics.RecordRegistration("error")
		return model.NewInternalError("Registration failed due to server error", err)
	}

	identity := &model.Identity{
		Email:        email,
		PasswordHash: hash,
		Name:         name,
		CreatedAt:    s.config.Now(),
		IsActive:     true,
	}
	if err := s.identRepo.Create(ctx, identity); err != nil {
		// 同時登録で先行された場合もConflictとして返る
		if model.IsKind(err, model.KindConflict) {
			s.metrics.RecordRegistration("conflict")
			return err
		}
		s.metrics.RecordRegistration("error")
		return model.NewInternalError("Registration failed due to server error", err)
	}

	s.metrics.RecordRegistration("success")
	slog.Info("user registered", slog.String("email", email))
	return nil
}

// Login はメールアドレスとパスワードを検証し、新しいセッションを発行する。
// 未登録、パスワード不一致、無効化済みの場合はKindUnauthorizedのエラーを返す。
func (s *Service) Login(ctx context.Context, email, password string) (*model.Session, error) {
	email = NormalizeEmail(email)

	identity, err := s.identRepo.FindByEmail(ctx, email)
	if err != nil {
		s.metrics.RecordLogin("error")
		return nil, model.NewInternalError("Login failed due to server error", err)
	}
	if identity == nil {
		s.metrics.RecordLogin("invalid_credentials")
		return nil, model.NewInvalidCredentialsError()
	}
	if err := s.hasher.Verify(password, identity.PasswordHash); err != nil {
		s.metrics.RecordLogin("invalid_credentials")
		return nil, model.NewInvalidCredentialsError()
	}
	if !identity.IsActive {
		s.metrics.RecordLogin("deactivated")
		return nil, model.NewAccountDeactivatedError()
	}

	session, err := s.createSession(ctx, identity)
	if err != nil {
		s.metrics.RecordLogin("error")
		return nil, model.NewInternalError("Login failed due to server error", err)
	}

	s.metrics.RecordLogin("success")
	slog.Info("user logged in", slog.String("email", email))
	return session, nil
}

// Authenticate はトークンを検証し、セッションに格納されたユーザー情報を返す。
// 期限切れの場合はその場でセッションを削除し、KindUnauthorizedのエラーを返す。
func (s *Service) Authenticate(ctx context.Context, token string) (*model.IdentitySnapshot, error) {
	if token == "" {
		return nil, model.NewInvalidTokenError()
	}

	session, err := s.sessionRepo.FindByToken(ctx, token)
	if err != nil {
		return nil, model.NewInternalError("failed to find session", err)
	}
	if session == nil {
		return nil, model.NewInvalidTokenError()
	}

	if IsExpired(session, s.config.Now()) {
		deleted, err := s.sessionRepo.DeleteByToken(ctx, token)
		if err != nil {
			return nil, model.NewInternalError("failed to evict expired session", err)
		}
		if deleted {
			s.metrics.RecordSessionEvicted("lazy", 1)
		}
		return nil, model.NewTokenExpiredError()
	}

	user := session.User
	return &user, nil
}

// Logout は呼び出し元ユーザーのセッションを1件破棄する。
// 発行順で最初に見つかった同一ユーザーのセッションを削除し、該当がなくてもエラーにしない。
func (s *Service) Logout(ctx context.Context, user model.IdentitySnapshot) error {
	deleted, err := s.sessionRepo.DeleteFirstByEmail(ctx, user.Email)
	if err != nil {
		return model.NewInternalError("failed to delete session", err)
	}

	slog.Info("user logged out",
		slog.String("email", user.Email),
		slog.Bool("session_removed", deleted),
	)
	return nil
}

// ListIdentities は登録ユーザーの公開情報を登録順に返す。
func (s *Service) ListIdentities(ctx context.Context) ([]model.IdentityView, error) {
	identities, err := s.identRepo.List(ctx)
	if err != nil {
		return nil, model.NewInternalError("failed to list users", err)
	}

	views := make([]model.IdentityView, len(identities))
	for i := range identities {
		views[i] = identities[i].View()
	}
	return views, nil
}

// Deactivate はユーザーを無効化する。無効化されたユーザーはログインできない。
// 発行済みセッションは期限まで有効のまま残る。
func (s *Service) Deactivate(ctx context.Context, email string) error {
	if err := s.identRepo.SetActive(ctx, NormalizeEmail(email), false); err != nil {
		if model.IsKind(err, model.KindNotFound) {
			return err
		}
		return model.NewInternalError("failed to deactivate user", err)
	}
	return nil
}

// SweepExpired は期限切れセッションを一括削除し、削除件数を返す。
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	deleted, err := s.sessionRepo.DeleteExpired(ctx, s.config.Now(), IsExpired)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired sessions: %w", err)
	}
	if deleted > 0 {
		s.metrics.RecordSessionEvicted("sweep", deleted)
	}
	return deleted, nil
}

// Stats は登録ユーザー数と保持中のセッション数を返す。
func (s *Service) Stats(ctx context.Context) (users, sessions int, err error) {
	users, err = s.identRepo.Count(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count users: %w", err)
	}
	sessions, err = s.sessionRepo.Count(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return users, sessions, nil
}

// DemoUser は起動時に登録するデモアカウント。
type DemoUser struct {
	Email    string
	Password string
	Name     string
}

// DemoUsers はデモ用に登録されるアカウントの一覧。
var DemoUsers = []DemoUser{
	{Email: "demo@uternity.com", Password: "demo123", Name: "Demo User"},
	{Email: "admin@uternity.com", Password: "admin123", Name: "Admin User"},
}

// SeedDemoUsers はデモアカウントを登録する。登録済みのアカウントはスキップする。
func (s *Service) SeedDemoUsers(ctx context.Context) error {
	for _, u := range DemoUsers {
		err := s.Register(ctx, u.Email, u.Password, u.Name)
		if err != nil && !model.IsKind(err, model.KindConflict) {
			return fmt.Errorf("failed to seed demo user %s: %w", u.Email, err)
		}
	}
	return nil
}

// createSession はセッションを作成し保存する。
func (s *Service) createSession(ctx context.Context, identity *model.Identity) (*model.Session, error) {
	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	now := s.config.Now()
	session := &model.Session{
		Token:     token,
		User:      identity.Snapshot(),
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateToken は暗号的に安全なURLセーフのトークンを生成する。
func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
