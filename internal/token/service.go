// Package token はステートレスなHS256ベアラートークンの発行と検証を提供する。
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/tsudoi/internal/model"
)

// issuer はトークンのiss claimに設定する値。
const issuer = "tsudoi"

// ErrInvalidToken はトークンが不正・改ざん・期限切れのいずれかであることを表す。
// 呼び出し側に理由を区別させない。
var ErrInvalidToken = errors.New("invalid token")

// Claims はトークンから取り出した検証済みの内容。
type Claims struct {
	UserID    string
	Username  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Principal は認証済み主体を返す。
func (c *Claims) Principal() model.Principal {
	return model.Principal{UserID: c.UserID, Username: c.Username}
}

// jwtClaims はJWTペイロードの形式。subにユーザー名、uidにユーザーIDを格納する。
type jwtClaims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// Option はServiceの生成オプション。
type Option func(*Service)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service はトークンの発行・検証を行う。
// 署名鍵は生成時に固定され、以後変更されない。
type Service struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

// NewService は署名鍵と有効期間からServiceを生成する。
func NewService(secret string, ttl time.Duration, opts ...Option) (*Service, error) {
	if secret == "" {
		return nil, fmt.Errorf("token secret must not be empty")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive: %v", ttl)
	}

	s := &Service{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	)
	return s, nil
}

// TTL はトークンの有効期間を返す。
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Issue はユーザーIDとユーザー名を埋め込んだトークンを発行する。
func (s *Service) Issue(userID, username string) (string, error) {
	now := s.now()
	claims := jwtClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Validate はトークンが有効かどうかを返す。
// 空文字・形式不正・署名不一致・期限切れはすべてfalseとなる。
func (s *Service) Validate(tokenString string) bool {
	_, err := s.parse(tokenString)
	return err == nil
}

// Parse はトークンを検証してClaimsを返す。
// Validateがfalseとなるトークンに対してはErrInvalidTokenを返す。
func (s *Service) Parse(tokenString string) (*Claims, error) {
	c, err := s.parse(tokenString)
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims := &Claims{
		UserID:   c.UserID,
		Username: c.Subject,
	}
	if c.IssuedAt != nil {
		claims.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		claims.ExpiresAt = c.ExpiresAt.Time
	}
	return claims, nil
}

func (s *Service) parse(tokenString string) (*jwtClaims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	claims := &jwtClaims{}
	tok, err := s.parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !tok.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
