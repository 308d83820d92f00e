// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ログイン後のトークン受け渡し方式
const (
	HandoffCookie = "cookie" // access_token Cookieを設定してリダイレクトする
	HandoffCode   = "code"   // 交換コードをリダイレクトURLに付与する
)

// minJWTSecretLength はHS256署名鍵の最小長（バイト）。
const minJWTSecretLength = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Token
	JWTSecret string
	TokenTTL  time.Duration

	// OAuth
	GitHubClientID     string
	GitHubClientSecret string
	GoogleClientID     string
	GoogleClientSecret string
	OAuthStateMaxAge   int

	// Login handoff
	AuthHandoffMode       string
	ExchangeCodeTTL       time.Duration
	ExchangeSweepInterval time.Duration
	FrontendURL           string
	LoginSuccessPath      string
	LoginFailurePath      string

	// Rate Limit
	RateLimitGeneral int
	RateLimitLogin   int
	// TrustProxyHeaders がtrueのときだけX-Forwarded-For/X-Real-IPをクライアントIPとして採用する。
	// 前段にヘッダーを付け直すリバースプロキシがある場合に限り有効にする。
	TrustProxyHeaders bool

	// Retention
	NotificationRetentionDays int

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// Origins
	CORSAllowedOrigins []string
	WSAllowedOrigins   []string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	cfg.BaseURL = strings.TrimRight(os.Getenv("BASE_URL"), "/")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if len(cfg.JWTSecret) < minJWTSecretLength {
		return nil, fmt.Errorf("JWT_SECRET must be at least %d bytes", minJWTSecretLength)
	}

	cfg.GitHubClientID = os.Getenv("GITHUB_CLIENT_ID")
	cfg.GitHubClientSecret = os.Getenv("GITHUB_CLIENT_SECRET")
	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	if !cfg.GitHubEnabled() && !cfg.GoogleEnabled() {
		return nil, fmt.Errorf("at least one OAuth provider must be configured: GITHUB_CLIENT_ID/GITHUB_CLIENT_SECRET or GOOGLE_CLIENT_ID/GOOGLE_CLIENT_SECRET")
	}

	cfg.AuthHandoffMode = getEnvString("AUTH_HANDOFF_MODE", HandoffCookie)
	if cfg.AuthHandoffMode != HandoffCookie && cfg.AuthHandoffMode != HandoffCode {
		return nil, fmt.Errorf("AUTH_HANDOFF_MODE must be %q or %q, got %q", HandoffCookie, HandoffCode, cfg.AuthHandoffMode)
	}

	// Optional fields with defaults
	cfg.TokenTTL = getEnvDuration("TOKEN_TTL", 24*time.Hour)
	cfg.OAuthStateMaxAge = getEnvInt("OAUTH_STATE_MAX_AGE", 600)
	cfg.ExchangeCodeTTL = getEnvDuration("EXCHANGE_CODE_TTL", 60*time.Second)
	cfg.ExchangeSweepInterval = getEnvDuration("EXCHANGE_SWEEP_INTERVAL", time.Minute)
	cfg.FrontendURL = strings.TrimRight(getEnvString("FRONTEND_URL", cfg.BaseURL), "/")
	cfg.LoginSuccessPath = getEnvString("LOGIN_SUCCESS_PATH", "/auth/complete")
	cfg.LoginFailurePath = getEnvString("LOGIN_FAILURE_PATH", "/login?error=oauth_failed")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 20)
	cfg.TrustProxyHeaders = getEnvBool("TRUST_PROXY_HEADERS", false)
	cfg.NotificationRetentionDays = getEnvInt("NOTIFICATION_RETENTION_DAYS", 90)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigins = getEnvList("CORS_ALLOWED_ORIGINS", []string{cfg.FrontendURL})
	cfg.WSAllowedOrigins = getEnvList("WS_ALLOWED_ORIGINS", []string{cfg.FrontendURL})

	return cfg, nil
}

// GitHubEnabled はGitHubログインが設定済みかどうかを返す。
func (c *Config) GitHubEnabled() bool {
	return c.GitHubClientID != "" && c.GitHubClientSecret != ""
}

// GoogleEnabled はGoogleログインが設定済みかどうかを返す。
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// CallbackURL はIdPに登録するリダイレクトURLを返す。
func (c *Config) CallbackURL(provider string) string {
	return c.BaseURL + "/auth/" + provider + "/callback"
}

// LoginSuccessURL はログイン完了後のリダイレクト先。
func (c *Config) LoginSuccessURL() string {
	return c.FrontendURL + c.LoginSuccessPath
}

// LoginFailureURL はログイン失敗時の汎用リダイレクト先。
func (c *Config) LoginFailureURL() string {
	return c.FrontendURL + c.LoginFailurePath
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvList はカンマ区切りの環境変数を空要素を除いたスライスとして返す。
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
