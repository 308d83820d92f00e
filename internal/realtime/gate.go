package realtime

import (
	"errors"
	"net/http"

	"github.com/hitoshi/tsudoi/internal/model"
	"github.com/hitoshi/tsudoi/internal/token"
)

// ErrHandshakeRejected は接続を拒否したことを表す。理由は区別しない。
var ErrHandshakeRejected = errors.New("handshake rejected")

// TokenParser はトークンを検証してClaimsを返す。
type TokenParser interface {
	Parse(tokenString string) (*token.Claims, error)
}

// Gate はWebSocketのアップグレード前に1回だけ実行する認証。
type Gate struct {
	tokens TokenParser
}

// NewGate はGateを生成する。
func NewGate(tokens TokenParser) *Gate {
	return &Gate{tokens: tokens}
}

// Authenticate はクエリのtoken、次にAuthorization: Bearerの順でトークンを取り出して検証する。
func (g *Gate) Authenticate(r *http.Request) (model.Principal, error) {
	raw := ExtractToken(r)
	if raw == "" {
		return model.Principal{}, ErrHandshakeRejected
	}

	claims, err := g.tokens.Parse(raw)
	if err != nil {
		return model.Principal{}, ErrHandshakeRejected
	}
	if claims.UserID == "" {
		return model.Principal{}, ErrHandshakeRejected
	}
	return claims.Principal(), nil
}

// ExtractToken はクエリパラメータtokenを優先し、なければBearerヘッダーから取り出す。
// ブラウザのWebSocket APIはヘッダーを付けられないためクエリを先に見る。
func ExtractToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	return token.BearerToken(r)
}
