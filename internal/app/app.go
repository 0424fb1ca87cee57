package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/uternity/gateway/internal/auth"
	"github.com/uternity/gateway/internal/chat"
	"github.com/uternity/gateway/internal/config"
	"github.com/uternity/gateway/internal/handler"
	"github.com/uternity/gateway/internal/logger"
	"github.com/uternity/gateway/internal/metrics"
	"github.com/uternity/gateway/internal/provider"
	"github.com/uternity/gateway/internal/repository"
	"github.com/uternity/gateway/internal/security"
	"github.com/uternity/gateway/internal/voice"
	"github.com/uternity/gateway/internal/worker/cleanup"
)

const (
	shutdownTimeout     = 30 * time.Second
	defaultWriteTimeout = 15 * time.Second
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.Options{})

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定に従ってログ形式とレベルを切り替える
	logger.SetupDefault(w, logger.Options{
		Format: cfg.LogFormat,
		Level:  cfg.LogLevel,
	})

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// SIGINTまたはSIGTERMを受信するとグレースフルシャットダウンを行う。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return RunContext(ctx, w, args)
}

// RunContext はコマンドライン引数からサブコマンドを解析し、ctxがキャンセルされるまで
// 対応するサービスを起動する。
func RunContext(ctx context.Context, w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		return runHealthcheck(healthcheckPort(ParseHealthcheckTarget(args)))
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("llm_provider", cfg.LLMProvider),
		slog.Bool("metrics_enabled", cfg.MetricsEnabled),
	)

	switch cmd {
	case CommandChat:
		return runChat(ctx, cfg)
	case CommandVoice:
		return runVoice(ctx, cfg)
	default:
		return runAuth(ctx, cfg)
	}
}

// runAuth は認証サービスを起動する。
// 期限切れセッションの掃除ジョブをバックグラウンドで実行する。
func runAuth(ctx context.Context, cfg *config.Config) error {
	router, authService, err := buildAuth(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}

	sweepJob := cleanup.NewSweepJob(authService, slog.Default())
	sweepJob.Interval = cfg.SessionSweepInterval
	go sweepJob.Start(ctx)

	return serve(ctx, "auth", newServer(cfg.AuthPort, router, defaultWriteTimeout))
}

// runChat はチャットサービスを起動する。
func runChat(ctx context.Context, cfg *config.Config) error {
	router, stages := buildChat(cfg, slog.Default())

	// プロバイダー呼び出しが全段階で期限まで待たされてもレスポンスを書けるようにする
	writeTimeout := defaultWriteTimeout + time.Duration(stages)*cfg.ProviderTimeout

	return serve(ctx, "chat", newServer(cfg.ChatPort, router, writeTimeout))
}

// runVoice は音声練習サービスを起動する。
func runVoice(ctx context.Context, cfg *config.Config) error {
	router, err := buildVoice(cfg, slog.Default())
	if err != nil {
		return err
	}
	return serve(ctx, "voice", newServer(cfg.VoicePort, router, defaultWriteTimeout))
}

// buildAuth は認証サービスの依存関係をワイヤリングし、ルーターとサービスを返す。
func buildAuth(ctx context.Context, cfg *config.Config, log *slog.Logger) (http.Handler, *auth.Service, error) {
	// 1. リポジトリの初期化
	identRepo := repository.NewMemoryIdentityRepo()
	sessionRepo := repository.NewMemorySessionRepo()

	// 2. メトリクスの初期化
	collector, metricsHandler := newMetrics(cfg)

	// 3. ドメインサービスの初期化
	authService := auth.NewService(
		identRepo, sessionRepo,
		auth.NewBcryptHasher(cfg.BcryptCost),
		collector,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)

	if cfg.SeedDemoUsers {
		if err := authService.SeedDemoUsers(ctx); err != nil {
			return nil, nil, fmt.Errorf("failed to seed demo users: %w", err)
		}
		emails := make([]string, len(auth.DemoUsers))
		for i, u := range auth.DemoUsers {
			emails[i] = u.Email
		}
		log.Info("demo accounts available", slog.Any("emails", emails))
	}

	// 4. ルーターの構築
	router := handler.NewAuthRouter(&handler.AuthRouterDeps{
		Common:        commonDeps(cfg, log, collector, metricsHandler),
		Service:       authService,
		Authenticator: authService,
	})

	return router, authService, nil
}

// buildChat はチャットサービスの依存関係をワイヤリングし、ルーターと回答プロバイダーの段数を返す。
func buildChat(cfg *config.Config, log *slog.Logger) (http.Handler, int) {
	// 1. メトリクスの初期化
	collector, metricsHandler := newMetrics(cfg)

	// 2. 回答プロバイダーの構築
	stages := buildProviderStages(cfg, log)
	answerer := provider.NewFallback(stages, cfg.ProviderTimeout, collector, log)

	// 3. ドメインサービスの初期化
	ragAvailable := cfg.RAGURL != ""
	chatService := chat.NewService(
		repository.NewMemoryConversationRepo(),
		answerer,
		collector,
		chat.ServiceConfig{RAGAvailable: ragAvailable},
	)

	// 4. ルーターの構築
	router := handler.NewChatRouter(&handler.ChatRouterDeps{
		Common:  commonDeps(cfg, log, collector, metricsHandler),
		Service: chatService,
		Config: handler.ChatHandlerConfig{
			ProviderName: cfg.LLMProvider,
			RAGAvailable: ragAvailable,
		},
	})

	return router, len(stages)
}

// buildProviderStages は設定に応じて回答プロバイダーを優先順に並べる。
// 検索拡張サービス、LLMの順。APIキーが無いLLMは組み込まない。
func buildProviderStages(cfg *config.Config, log *slog.Logger) []provider.Provider {
	var stages []provider.Provider

	if cfg.RAGURL != "" {
		stages = append(stages, provider.NewRAGClient(
			&http.Client{Timeout: cfg.ProviderTimeout},
			log,
			cfg.RAGURL,
		))
	}

	switch cfg.LLMProvider {
	case config.LLMProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			log.Warn("ANTHROPIC_API_KEY is not set; LLM answers are disabled")
			break
		}
		stages = append(stages, provider.NewAnthropicChat(provider.AnthropicOptions{
			APIKey: cfg.AnthropicAPIKey,
			Model:  cfg.AnthropicModel,
		}))
	default:
		if cfg.GroqAPIKey == "" {
			log.Warn("GROQ_API_KEY is not set; LLM answers are disabled")
			break
		}
		stages = append(stages, provider.NewOpenAIChat(provider.OpenAIOptions{
			APIKey:  cfg.GroqAPIKey,
			BaseURL: cfg.GroqBaseURL,
			Model:   cfg.GroqModel,
		}))
	}

	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = s.Name()
	}
	log.Info("answer providers configured",
		slog.Any("stages", names),
		slog.String("model", cfg.LLMModel()),
	)

	return stages
}

// buildVoice は音声練習サービスのルーターを構築する。
// 案内ページは起動時に1回だけレンダリングする。
func buildVoice(cfg *config.Config, log *slog.Logger) (http.Handler, error) {
	collector, metricsHandler := newMetrics(cfg)

	pages, err := voice.NewPages(security.NewContentSanitizer())
	if err != nil {
		return nil, fmt.Errorf("failed to render instruction pages: %w", err)
	}

	return handler.NewVoiceRouter(&handler.VoiceRouterDeps{
		Common: commonDeps(cfg, log, collector, metricsHandler),
		Pages:  pages,
	}), nil
}

// newMetrics はサービス毎のPrometheusレジストリを生成する。
// メトリクスが無効な場合はNopと nil ハンドラーを返す。
func newMetrics(cfg *config.Config) (metrics.MetricsCollector, http.Handler) {
	if !cfg.MetricsEnabled {
		return metrics.Nop{}, nil
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return metrics.NewCollector(reg), metrics.Handler(reg)
}

func commonDeps(cfg *config.Config, log *slog.Logger, collector metrics.MetricsCollector, metricsHandler http.Handler) handler.CommonDeps {
	deps := handler.CommonDeps{
		Logger:            log,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
	}
	if metricsHandler != nil {
		deps.Metrics = collector
		deps.MetricsHandler = metricsHandler
	}
	return deps
}

func newServer(port string, router http.Handler, writeTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}
}

// serve はHTTPサーバーを起動し、ctxがキャンセルされるとグレースフルシャットダウンする。
func serve(ctx context.Context, name string, server *http.Server) error {
	errCh := make(chan error, 1)

	go func() {
		slog.Info("HTTP server starting",
			slog.String("service", name),
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down HTTP server...", slog.String("service", name))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("HTTP server stopped gracefully", slog.String("service", name))
	return nil
}

// healthcheckPort は対象サービスの待ち受けポートを環境変数から決定する。
func healthcheckPort(target Command) string {
	key, fallback := "AUTH_PORT", "8001"
	switch target {
	case CommandChat:
		key, fallback = "CHAT_PORT", "8013"
	case CommandVoice:
		key, fallback = "VOICE_PORT", "8005"
	}
	if port := os.Getenv(key); port != "" {
		return port
	}
	return fallback
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
