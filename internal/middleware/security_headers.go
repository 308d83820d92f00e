package middleware

import "net/http"

// apiContentSecurityPolicy はJSONとWebSocketしか返さないAPI向けのCSP。
// ブラウザがレスポンスを文書として描画しても、スクリプトも埋め込みも許さない。
const apiContentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'; base-uri 'none'; form-action 'none'"

// hstsValue はHTTPS配信時に付与するStrict-Transport-Security。
const hstsValue = "max-age=63072000; includeSubDomains"

// NewSecurityHeadersMiddleware はAPIレスポンス用のセキュリティヘッダーを付与するミドルウェアを返す。
// hstsがtrueか、TLSで受けたリクエストにはStrict-Transport-Securityも付ける。
func NewSecurityHeadersMiddleware(hsts bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Content-Security-Policy", apiContentSecurityPolicy)
			h.Set("Cross-Origin-Resource-Policy", "same-site")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			if hsts || r.TLS != nil {
				h.Set("Strict-Transport-Security", hstsValue)
			}
			next.ServeHTTP(w, r)
		})
	}
}
