package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/tsudoi/internal/metrics"
	"github.com/hitoshi/tsudoi/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger        *slog.Logger
	HealthChecker HealthChecker

	// メトリクス（nilの場合は/metricsを公開しない）
	Metrics        metrics.MetricsCollector
	MetricsHandler http.Handler

	// ミドルウェア依存
	Tokens             middleware.TokenParser
	CORSAllowedOrigins []string
	CSRFConfig         middleware.CSRFConfig
	RateLimiter        *middleware.RateLimiter
	// TrustProxyHeaders がtrueのときだけX-Forwarded-For/X-Real-IPでRemoteAddrを置き換える。
	// falseならレート制限は接続元アドレスで行い、クライアントが付けたヘッダーは無視する。
	TrustProxyHeaders bool
	// HTTPS配信時にStrict-Transport-Securityを付与する
	HSTS bool

	// 認証
	AuthService AuthServiceInterface
	UserService UserServiceInterface
	AuthConfig  AuthHandlerConfig

	// 通知
	NotificationService NotificationServiceInterface
	Realtime            http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → (RealIP) → Logging → StatusMetrics → SecurityHeaders → CORS
//
// RealIPはTrustProxyHeadersが有効なときだけ挟む。
// /api/* はさらに Auth → CSRF → RateLimit(General) を通す。
// /auth/* のOAuthフローはログイン用レート制限のみを通す。
// /notifications はハンドシェイクで独自にトークンを検証するため認証ミドルウェアの外に置く。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.Noop()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(logger))
	if deps.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewStatusMetricsMiddleware(m))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins))

	authHandler := NewAuthHandler(deps.AuthService, deps.UserService, deps.AuthConfig, m)
	notificationHandler := NewNotificationHandler(deps.NotificationService)
	requireAuth := middleware.NewAuthMiddleware(deps.Tokens)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	r.Handle("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	if deps.Realtime != nil {
		r.Handle("/notifications", deps.Realtime)
	}

	// 認証ルート（OAuthフロー）
	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.LoginMiddleware())
			r.Get("/{provider}/login", authHandler.Login)
			r.Get("/{provider}/callback", authHandler.Callback)
			r.Post("/exchange", authHandler.Exchange)
		})

		// 期限切れトークンでもCookieを消せるよう、ログアウトは認証を要求しない
		r.With(middleware.NewCSRFMiddleware(deps.CSRFConfig)).Post("/logout", authHandler.Logout)
		r.With(requireAuth).Get("/me", authHandler.Me)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Auth → CSRF → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/notifications", func(r chi.Router) {
			r.Get("/", notificationHandler.List)
			r.Get("/unread-count", notificationHandler.UnreadCount)
			r.Post("/read", notificationHandler.MarkRead)
			r.Post("/read-all", notificationHandler.MarkAllRead)
		})
	})

	return r
}
