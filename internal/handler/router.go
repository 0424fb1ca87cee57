package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/uternity/gateway/internal/metrics"
	"github.com/uternity/gateway/internal/middleware"
)

// routePrefixes はAPIルートを公開するプレフィックス。どちらも同じハンドラーに到達する。
var routePrefixes = []string{"", "/api"}

// CommonDeps は全サービスのルーターに共通する依存関係。
type CommonDeps struct {
	Logger            *slog.Logger
	CORSAllowedOrigin string
	// Metrics がnilでなければHTTPステータスを記録する
	Metrics metrics.MetricsCollector
	// MetricsHandler がnilでなければ/metricsで公開する
	MetricsHandler http.Handler
}

// AuthRouterDeps は認証サービスのルーターに必要な依存関係。
type AuthRouterDeps struct {
	Common        CommonDeps
	Service       AuthServiceInterface
	Authenticator middleware.TokenAuthenticator
}

// ChatRouterDeps はチャットサービスのルーターに必要な依存関係。
type ChatRouterDeps struct {
	Common  CommonDeps
	Service ChatServiceInterface
	Config  ChatHandlerConfig
}

// VoiceRouterDeps は音声練習サービスのルーターに必要な依存関係。
type VoiceRouterDeps struct {
	Common CommonDeps
	Pages  PageSource
}

// newBaseRouter は共通ミドルウェアを適用したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → Metrics → CORS
func newBaseRouter(deps CommonDeps) chi.Router {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.Metrics != nil {
		r.Use(metrics.NewHTTPMiddleware(deps.Metrics))
	}
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteDetail(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteDetail(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})

	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	return r
}

// NewAuthRouter は認証サービスのルーティングを構成したhttp.Handlerを返す。
// /auth/logout と /auth/me のみBearer認証を要求する。
func NewAuthRouter(deps *AuthRouterDeps) http.Handler {
	r := newBaseRouter(deps.Common)
	h := NewAuthHandler(deps.Service)
	requireAuth := middleware.NewBearerAuthMiddleware(deps.Authenticator)

	for _, prefix := range routePrefixes {
		r.Get(prefix+"/health", h.Health)

		r.Post(prefix+"/auth/login", h.Login)
		r.Post(prefix+"/auth/register", h.Register)
		r.Get(prefix+"/auth/users", h.ListUsers)

		r.With(requireAuth).Post(prefix+"/auth/logout", h.Logout)
		r.With(requireAuth).Get(prefix+"/auth/me", h.Me)
	}

	return r
}

// NewChatRouter はチャットサービスのルーティングを構成したhttp.Handlerを返す。
func NewChatRouter(deps *ChatRouterDeps) http.Handler {
	r := newBaseRouter(deps.Common)
	h := NewChatHandler(deps.Service, deps.Config)

	for _, prefix := range routePrefixes {
		r.Get(prefix+"/health", h.Health)

		r.Post(prefix+"/chat", h.Chat)
		r.Post(prefix+"/chat/session/new", h.NewSession)
		r.Get(prefix+"/chat/sessions/{user_id}", h.ListSessions)
		r.Get(prefix+"/chat/session/{user_id}/{session_id}", h.ListMessages)
		r.Delete(prefix+"/chat/session/{user_id}/{session_id}", h.DeleteSession)
	}

	return r
}

// NewVoiceRouter は音声練習サービスのルーティングを構成したhttp.Handlerを返す。
// 案内ページにはセキュリティヘッダーとCSPを付与する。
func NewVoiceRouter(deps *VoiceRouterDeps) http.Handler {
	r := newBaseRouter(deps.Common)
	h := NewVoiceHandler(deps.Pages)

	r.Get("/", h.Index)
	r.Get("/health", h.Health)
	r.Get("/api/v1/health/", h.AgentHealth)

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSecurityHeadersMiddleware(middleware.PageContentSecurityPolicy))
		r.Get("/"+PageTOEFL, h.Page(PageTOEFL))
		r.Get("/"+PageIELTS, h.Page(PageIELTS))
	})

	return r
}
