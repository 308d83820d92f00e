// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/tsudoi/internal/auth"
	"github.com/hitoshi/tsudoi/internal/config"
	"github.com/hitoshi/tsudoi/internal/metrics"
	"github.com/hitoshi/tsudoi/internal/middleware"
	"github.com/hitoshi/tsudoi/internal/model"
)

const (
	oauthStateCookie = "oauth_state"

	// maxExchangeBodyBytes は交換リクエストのボディサイズ上限。
	maxExchangeBodyBytes = 4 << 10
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	HasProvider(name string) bool
	PrepareState(preselected string) (string, error)
	LoginURL(provider, state string) (string, error)
	Callback(ctx context.Context, req auth.CallbackRequest) (*auth.LoginResult, error)
	IssueExchangeCode(result *auth.LoginResult) (string, error)
	RedeemExchangeCode(code string) (*auth.LoginResult, bool)
}

// UserServiceInterface はユーザー情報取得のインターフェース。
type UserServiceInterface interface {
	FindByID(ctx context.Context, userID string) (*model.User, error)
}

// AuthMetrics は認証フローのメトリクスを記録する。
type AuthMetrics interface {
	RecordLogin(provider, result string)
	RecordExchangeCode(outcome string)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain string
	CookieSecure bool
	StateMaxAge  int    // oauth_state Cookieの有効期間（秒）
	TokenMaxAge  int    // access_token Cookieの有効期間（秒）
	HandoffMode  string // config.HandoffCookie または config.HandoffCode
	SuccessURL   string
	FailureURL   string
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	users   UserServiceInterface
	config  AuthHandlerConfig
	metrics AuthMetrics
}

// NewAuthHandler はAuthHandlerを生成する。metricsがnilの場合は記録しない。
func NewAuthHandler(service AuthServiceInterface, users UserServiceInterface, cfg AuthHandlerConfig, m AuthMetrics) *AuthHandler {
	if m == nil {
		m = metrics.Noop()
	}
	if cfg.HandoffMode == "" {
		cfg.HandoffMode = config.HandoffCookie
	}
	return &AuthHandler{
		service: service,
		users:   users,
		config:  cfg,
		metrics: m,
	}
}

// Login はOAuthフローを開始する。
// GET /auth/{provider}/login[?state=xxx]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	if !h.service.HasProvider(provider) {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewUnknownProviderError(provider))
		return
	}

	state, err := h.service.PrepareState(r.URL.Query().Get("state"))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidState) {
			middleware.WriteInvalidRequest(w, "stateの形式が不正です")
			return
		}
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	loginURL, err := h.service.LoginURL(provider, state)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	// stateをCookieに保存（CSRF対策）
	h.setCookie(w, r, oauthStateCookie, state, h.config.StateMaxAge)

	http.Redirect(w, r, loginURL, http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理する。
// GET /auth/{provider}/callback?code=xxx&state=yyy
// 結果に関わらずstate Cookieを削除し、失敗時は理由を付けずに失敗URLへリダイレクトする。
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	var cookieState string
	if c, err := r.Cookie(oauthStateCookie); err == nil {
		cookieState = c.Value
	}
	h.clearCookie(w, r, oauthStateCookie)

	result, err := h.service.Callback(r.Context(), auth.CallbackRequest{
		Provider:     provider,
		Code:         r.URL.Query().Get("code"),
		RequestState: r.URL.Query().Get("state"),
		CookieState:  cookieState,
	})
	if err != nil {
		outcome := metrics.LoginFailure
		if errors.Is(err, auth.ErrStateMismatch) {
			outcome = metrics.LoginStateMismatch
		}
		h.metrics.RecordLogin(provider, outcome)
		slog.Warn("oauth callback failed",
			slog.String("provider", provider),
			slog.String("result", outcome),
			slog.String("error", err.Error()),
		)
		http.Redirect(w, r, h.config.FailureURL, http.StatusTemporaryRedirect)
		return
	}

	switch h.config.HandoffMode {
	case config.HandoffCode:
		code, err := h.service.IssueExchangeCode(result)
		if err != nil {
			h.metrics.RecordLogin(provider, metrics.LoginFailure)
			slog.Error("failed to issue exchange code", slog.String("error", err.Error()))
			http.Redirect(w, r, h.config.FailureURL, http.StatusTemporaryRedirect)
			return
		}
		h.metrics.RecordExchangeCode(metrics.ExchangeIssued)
		http.Redirect(w, r, withQuery(h.config.SuccessURL, "code", code), http.StatusTemporaryRedirect)
	default:
		// トークンはHttpOnly Cookieで渡し、URLにもスクリプトにも露出させない
		h.setCookie(w, r, middleware.AccessTokenCookieName, result.Token, h.config.TokenMaxAge)
		http.Redirect(w, r, h.config.SuccessURL, http.StatusTemporaryRedirect)
	}
	h.metrics.RecordLogin(provider, metrics.LoginSuccess)
}

type exchangeRequest struct {
	Code string `json:"code"`
}

// Exchange は交換コードをトークンとユーザー概要に引き換える。
// POST /auth/exchange {"code":"..."}
// 未発行と期限切れは区別せず同じエラーを返す。
func (h *AuthHandler) Exchange(w http.ResponseWriter, r *http.Request) {
	var req exchangeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxExchangeBodyBytes)).Decode(&req); err != nil || req.Code == "" {
		h.metrics.RecordExchangeCode(metrics.ExchangeRejected)
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidExchangeCodeError())
		return
	}

	result, ok := h.service.RedeemExchangeCode(req.Code)
	if !ok {
		h.metrics.RecordExchangeCode(metrics.ExchangeRejected)
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidExchangeCodeError())
		return
	}

	h.metrics.RecordExchangeCode(metrics.ExchangeRedeemed)
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, result)
}

// Logout はaccess_token Cookieを削除する。
// POST /auth/logout
// トークン自体はステートレスなため、Bearerで保持しているクライアントは自身で破棄する。
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.clearCookie(w, r, middleware.AccessTokenCookieName)
	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me（認証ミドルウェアの後に配置）
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		middleware.WriteUnauthorized(w)
		return
	}

	user, err := h.users.FindByID(r.Context(), p.UserID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, user.Summary())
}

// setCookie はHttpOnly・SameSite=LaxのCookieを設定する。
// リクエストがTLSの場合は設定に関わらずSecureを付与する。
func (h *AuthHandler) setCookie(w http.ResponseWriter, r *http.Request, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure || r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearCookie(w http.ResponseWriter, r *http.Request, name string) {
	h.setCookie(w, r, name, "", -1)
}

// withQuery はURLにクエリパラメータを1つ追加する。
func withQuery(rawURL, key, value string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
