package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/tsudoi/internal/auth"
	"github.com/hitoshi/tsudoi/internal/config"
	"github.com/hitoshi/tsudoi/internal/database"
	"github.com/hitoshi/tsudoi/internal/handler"
	"github.com/hitoshi/tsudoi/internal/logger"
	"github.com/hitoshi/tsudoi/internal/metrics"
	"github.com/hitoshi/tsudoi/internal/middleware"
	"github.com/hitoshi/tsudoi/internal/notification"
	"github.com/hitoshi/tsudoi/internal/realtime"
	"github.com/hitoshi/tsudoi/internal/repository"
	"github.com/hitoshi/tsudoi/internal/security"
	"github.com/hitoshi/tsudoi/internal/token"
	"github.com/hitoshi/tsudoi/internal/user"
	"github.com/hitoshi/tsudoi/internal/worker/cleanup"
)

const (
	// dbPingTimeout は起動時のDB疎通確認のタイムアウト。
	dbPingTimeout = 5 * time.Second
	// shutdownTimeout はグレースフルシャットダウンの待ち時間。
	shutdownTimeout = 30 * time.Second
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// signalContext はSIGINTまたはSIGTERMでキャンセルされるコンテキストを返す。
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signalContext()
	defer stop()

	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 3. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	identityRepo := repository.NewPostgresIdentityRepo(db)
	notificationRepo := repository.NewPostgresNotificationRepo(db)

	// 4. トークン
	tokens, err := token.NewService(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return fmt.Errorf("failed to create token service: %w", err)
	}

	// 5. リアルタイム配信
	sessions := realtime.NewRegistry(logger.Component(nil, "realtime"))
	metrics.RegisterSessionGauges(registry, sessions)
	broadcaster := realtime.NewBroadcaster(sessions, logger.Component(nil, "broadcaster"), collector)

	// 6. ドメインサービスの初期化
	sanitizer := security.NewProfileSanitizer()
	userService := user.NewService(userRepo, identityRepo, sanitizer, logger.Component(nil, "user"))
	notificationService := notification.NewService(notificationRepo, broadcaster, sanitizer, logger.Component(nil, "notification"))

	exchangeCodes := auth.NewExchangeCodeStore(cfg.ExchangeCodeTTL, logger.Component(nil, "exchange"))
	authService := auth.NewService(
		oauthProviders(cfg),
		auth.NewStateGuard(),
		exchangeCodes,
		userService,
		tokens,
		logger.Component(nil, "auth"),
	)

	realtimeHandler := realtime.NewHandler(
		realtime.NewGate(tokens),
		sessions,
		realtime.HandlerConfig{
			AllowedOrigins: cfg.WSAllowedOrigins,
			OnConnect:      notificationService.OnConnect,
		},
		logger.Component(nil, "realtime"),
		collector,
	)

	// 7. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitLogin),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:         slog.Default(),
		HealthChecker:  db,
		Metrics:        collector,
		MetricsHandler: metrics.Handler(registry),

		Tokens:             tokens,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter:       rateLimiter,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
		HSTS:              cfg.CookieSecure,

		AuthService: authService,
		UserService: userService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain: cfg.CookieDomain,
			CookieSecure: cfg.CookieSecure,
			StateMaxAge:  cfg.OAuthStateMaxAge,
			TokenMaxAge:  int(cfg.TokenTTL.Seconds()),
			HandoffMode:  cfg.AuthHandoffMode,
			SuccessURL:   cfg.LoginSuccessURL(),
			FailureURL:   cfg.LoginFailureURL(),
		},

		NotificationService: notificationService,
		Realtime:            realtimeHandler,
	})

	// 8. 交換コードの期限切れ掃除
	if cfg.ExchangeSweepInterval > 0 {
		go exchangeCodes.Run(ctx, cfg.ExchangeSweepInterval)
	}

	// 9. HTTPサーバーの起動
	// WebSocket接続は長時間保持されるため、WriteTimeoutは設定しない（書き込み期限はセッション側で管理する）
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.String("handoff_mode", cfg.AuthHandoffMode),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// Shutdownはハイジャック済みの接続を待たないため、プッシュセッションは明示的に閉じる
	closed := sessions.CloseAll()

	slog.Info("API server stopped gracefully", slog.Int("closed_sessions", closed))
	return nil
}

// oauthProviders は設定済みのOAuthプロバイダーを返す。
func oauthProviders(cfg *config.Config) []auth.Provider {
	var providers []auth.Provider
	if cfg.GitHubEnabled() {
		providers = append(providers, auth.NewGitHubProvider(auth.GitHubConfig{
			ProviderConfig: auth.ProviderConfig{
				ClientID:     cfg.GitHubClientID,
				ClientSecret: cfg.GitHubClientSecret,
				RedirectURL:  cfg.CallbackURL(auth.ProviderGitHub),
			},
		}))
	}
	if cfg.GoogleEnabled() {
		providers = append(providers, auth.NewGoogleProvider(auth.ProviderConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.CallbackURL(auth.ProviderGoogle),
		}))
	}
	return providers
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、既読通知のクリーンアップジョブを日次で実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	ctx, stop := signalContext()
	defer stop()

	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. クリーンアップジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(db, logger.Component(nil, "cleanup"))
	if cfg.NotificationRetentionDays > 0 {
		cleanupJob.RetentionDays = cfg.NotificationRetentionDays
	}

	slog.Info("worker starting",
		slog.Int("retention_days", cleanupJob.RetentionDays),
		slog.Duration("interval", cleanup.DefaultInterval),
	)

	// メインgoroutineで実行（ブロッキング）
	cleanupJob.Start(ctx, cleanup.DefaultInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報とクエリを除いた表示用文字列を返す。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	if u.User != nil {
		return u.Scheme + "://***@" + u.Host + u.Path
	}
	return u.Scheme + "://" + u.Host + u.Path
}
