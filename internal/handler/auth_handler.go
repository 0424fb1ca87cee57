package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/uternity/gateway/internal/middleware"
	"github.com/uternity/gateway/internal/model"
)

const (
	messageLoginSuccessful        = "Login successful"
	messageRegistrationSuccessful = "Registration successful"
	messageLoggedOut              = "Logged out successfully"
	messageLoginFailed            = "Login failed due to server error"
	messageRegistrationFailed     = "Registration failed due to server error"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, email, password, name string) error
	Login(ctx context.Context, email, password string) (*model.Session, error)
	Logout(ctx context.Context, user model.IdentitySnapshot) error
	ListIdentities(ctx context.Context) ([]model.IdentityView, error)
	Stats(ctx context.Context) (users, sessions int, err error)
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

type loginRequest struct {
	Email    *string `json:"email"`
	Password *string `json:"password"`
}

type registerRequest struct {
	Email    *string `json:"email"`
	Password *string `json:"password"`
	Name     *string `json:"name"`
}

// authResultResponse はログイン・登録の結果。失敗時もHTTP 200で返す。
type authResultResponse struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Token   string            `json:"token,omitempty"`
	User    *loginUserPayload `json:"user,omitempty"`
}

type loginUserPayload struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type userPayload struct {
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type userListItem struct {
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	IsActive  bool      `json:"is_active"`
}

type authHealthResponse struct {
	Status    string           `json:"status"`
	Service   string           `json:"service"`
	Timestamp time.Time        `json:"timestamp"`
	Counts    authHealthCounts `json:"counts"`
}

type authHealthCounts struct {
	Users          int `json:"users"`
	ActiveSessions int `json:"active_sessions"`
}

// Login はメールアドレスとパスワードでログインする。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !requireFields(w, field{"email", req.Email}, field{"password", req.Password}) {
		return
	}

	session, err := h.service.Login(r.Context(), *req.Email, *req.Password)
	if err != nil {
		writeJSON(w, http.StatusOK, authResultResponse{
			Success: false,
			Message: failureMessage(err, messageLoginFailed),
		})
		return
	}

	writeJSON(w, http.StatusOK, authResultResponse{
		Success: true,
		Message: messageLoginSuccessful,
		Token:   session.Token,
		User: &loginUserPayload{
			Email: session.User.Email,
			Name:  session.User.Name,
		},
	})
}

// Register はユーザーを登録する。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !requireFields(w, field{"email", req.Email}, field{"password", req.Password}, field{"name", req.Name}) {
		return
	}

	if err := h.service.Register(r.Context(), *req.Email, *req.Password, *req.Name); err != nil {
		writeJSON(w, http.StatusOK, authResultResponse{
			Success: false,
			Message: failureMessage(err, messageRegistrationFailed),
		})
		return
	}

	writeJSON(w, http.StatusOK, authResultResponse{
		Success: true,
		Message: messageRegistrationSuccessful,
	})
}

// Logout は呼び出し元ユーザーのセッションを破棄する。
// POST /auth/logout（Bearer認証）
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		middleware.WriteDetail(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	if err := h.service.Logout(r.Context(), user); err != nil {
		slog.Error("logout failed", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": messageLoggedOut,
	})
}

// Me は認証済みユーザーの情報を返す。
// GET /auth/me（Bearer認証）
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		middleware.WriteDetail(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user": userPayload{
			Email:     user.Email,
			Name:      user.Name,
			CreatedAt: user.CreatedAt,
		},
	})
}

// ListUsers は登録ユーザーの一覧を返す。
// GET /auth/users
func (h *AuthHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	views, err := h.service.ListIdentities(r.Context())
	if err != nil {
		slog.Error("failed to list users", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	users := make([]userListItem, len(views))
	for i, v := range views {
		users[i] = userListItem{
			Email:     v.Email,
			Name:      v.Name,
			CreatedAt: v.CreatedAt,
			IsActive:  v.IsActive,
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// Health は認証サービスの稼働状況と件数を返す。
// GET /health
func (h *AuthHandler) Health(w http.ResponseWriter, r *http.Request) {
	users, sessions, err := h.service.Stats(r.Context())
	if err != nil {
		slog.Error("failed to collect auth stats", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	writeJSON(w, http.StatusOK, authHealthResponse{
		Status:    "healthy",
		Service:   "auth",
		Timestamp: time.Now(),
		Counts: authHealthCounts{
			Users:          users,
			ActiveSessions: sessions,
		},
	})
}

// failureMessage はサービスエラーから利用者向けメッセージを取り出す。
// 内部エラーは詳細を含めずfallbackを返す。
func failureMessage(err error, fallback string) string {
	if model.KindOf(err) != model.KindInternal {
		return model.MessageOf(err)
	}
	slog.Error("auth request failed", slog.String("error", err.Error()))
	return fallback
}
