package token

import (
	"net/http"
	"strings"
)

// BearerToken はAuthorizationヘッダーのBearerトークンを返す。スキーム名の大文字小文字は区別しない。
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}
