// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/uternity/gateway/internal/model"
)

// notAuthenticatedMessage はAuthorizationヘッダーが無い場合の応答メッセージ。
const notAuthenticatedMessage = "Not authenticated"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userContextKey はリクエストコンテキストに認証済みユーザーを格納するためのキー。
var userContextKey = contextKey("user")

// TokenAuthenticator はBearerトークンの検証に必要なインターフェース。
// auth.Serviceの部分集合として定義する。
type TokenAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*model.IdentitySnapshot, error)
}

// NewBearerAuthMiddleware はAuthorizationヘッダーのBearerトークンを検証するミドルウェアを返す。
// 認証済みユーザーのスナップショットをリクエストコンテキストに注入する。
// トークンが無い、未知、期限切れの場合は401と{detail}を返す。
func NewBearerAuthMiddleware(authenticator TokenAuthenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", "Bearer")
				WriteDetail(w, http.StatusUnauthorized, notAuthenticatedMessage)
				return
			}

			user, err := authenticator.Authenticate(r.Context(), token)
			if err != nil {
				if model.KindOf(err) == model.KindUnauthorized {
					w.Header().Set("WWW-Authenticate", "Bearer")
					WriteDetail(w, http.StatusUnauthorized, model.MessageOf(err))
					return
				}
				slog.Error("failed to authenticate token",
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}

			recordUser(r.Context(), user.Email)
			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), *user)))
		})
	}
}

// bearerToken はAuthorizationヘッダーからBearerトークンを取り出す。
// スキーム名の大文字小文字は区別しない。
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// UserFromContext はリクエストコンテキストから認証済みユーザーを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func UserFromContext(ctx context.Context) (model.IdentitySnapshot, bool) {
	user, ok := ctx.Value(userContextKey).(model.IdentitySnapshot)
	return user, ok && user.Email != ""
}

// ContextWithUser はコンテキストに認証済みユーザーを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUser(ctx context.Context, user model.IdentitySnapshot) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}
