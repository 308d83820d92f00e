// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"net/http"

	"github.com/hitoshi/tsudoi/internal/model"
	"github.com/hitoshi/tsudoi/internal/token"
)

// AccessTokenCookieName はcookie方式のハンドオフでトークンを保持するCookieの名前。
const AccessTokenCookieName = "access_token"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// principalContextKey はリクエストコンテキストに認証済み主体を格納するためのキー。
var principalContextKey = contextKey("principal")

// TokenParser はトークンを検証してClaimsを返す。
type TokenParser interface {
	Parse(tokenString string) (*token.Claims, error)
}

// NewAuthMiddleware はベアラートークンを検証し、Principalをコンテキストに注入するミドルウェアを返す。
// Authorization: Bearerを優先し、なければaccess_token Cookieを読む。
// 失敗理由は区別せず、一律に401を返す。
func NewAuthMiddleware(tokens TokenParser) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := credential(r)
			if raw == "" {
				WriteUnauthorized(w)
				return
			}

			claims, err := tokens.Parse(raw)
			if err != nil || claims.UserID == "" {
				WriteUnauthorized(w)
				return
			}

			recordUserID(r.Context(), claims.UserID)
			ctx := ContextWithPrincipal(r.Context(), claims.Principal())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// credential はリクエストからトークンを取り出す。
func credential(r *http.Request) string {
	if t := token.BearerToken(r); t != "" {
		return t
	}
	if c, err := r.Cookie(AccessTokenCookieName); err == nil {
		return c.Value
	}
	return ""
}

// PrincipalFromContext はリクエストコンテキストから認証済み主体を取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func PrincipalFromContext(ctx context.Context) (model.Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(model.Principal)
	if !ok || p.IsZero() {
		return model.Principal{}, false
	}
	return p, true
}

// ContextWithPrincipal はコンテキストに認証済み主体を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithPrincipal(ctx context.Context, p model.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}
