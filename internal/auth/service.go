// Package auth はOAuthログインフロー、CSRF state検証、交換コードを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/tsudoi/internal/model"
)

var (
	// ErrStateMismatch はstateが欠落または不一致であることを表す。理由の詳細は返さない。
	ErrStateMismatch = errors.New("oauth state mismatch")
	// ErrUnknownProvider は未設定のプロバイダーが指定されたことを表す。
	ErrUnknownProvider = errors.New("unknown oauth provider")
	// ErrMissingCode は認可コードが空であることを表す。
	ErrMissingCode = errors.New("authorization code is required")
)

// UserResolver はIdPのプロフィールからユーザーを特定または作成する。
type UserResolver interface {
	ResolveOrCreate(ctx context.Context, profile model.OAuthProfile) (*model.User, error)
}

// TokenIssuer はベアラートークンを発行する。
type TokenIssuer interface {
	Issue(userID, username string) (string, error)
}

// LoginResult はログイン完了時にクライアントへ渡す内容。
type LoginResult struct {
	Token string            `json:"token"`
	User  model.UserSummary `json:"user"`
}

// CallbackRequest はOAuthコールバックの入力。
type CallbackRequest struct {
	Provider     string
	Code         string
	RequestState string // クエリのstate
	CookieState  string // oauth_state Cookieの値
}

// Service はOAuthコールバックフローを提供する。
type Service struct {
	providers map[string]Provider
	guard     *StateGuard
	codes     *ExchangeCodeStore
	users     UserResolver
	tokens    TokenIssuer
	logger    *slog.Logger
}

// NewService はServiceを生成する。providersはName()をキーに登録する。
func NewService(
	providers []Provider,
	guard *StateGuard,
	codes *ExchangeCodeStore,
	users UserResolver,
	tokens TokenIssuer,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	m := make(map[string]Provider, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	return &Service{
		providers: m,
		guard:     guard,
		codes:     codes,
		users:     users,
		tokens:    tokens,
		logger:    logger,
	}
}

// HasProvider はプロバイダーが設定済みかどうかを返す。
func (s *Service) HasProvider(name string) bool {
	_, ok := s.providers[name]
	return ok
}

// PrepareState はログイン開始時のstateを用意する。
func (s *Service) PrepareState(preselected string) (string, error) {
	return s.guard.Prepare(preselected)
}

// LoginURL はプロバイダーの認可URLを生成する。
func (s *Service) LoginURL(provider, state string) (string, error) {
	p, ok := s.providers[provider]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	return p.LoginURL(state), nil
}

// Callback はOAuthコールバックを処理し、トークンを発行する。
// state検証はIdPとの通信より前に行い、不一致なら何も作らずに終了する。
func (s *Service) Callback(ctx context.Context, req CallbackRequest) (*LoginResult, error) {
	// 1. state検証
	if s.guard.Validate(req.RequestState, req.CookieState) != StateValidated {
		return nil, ErrStateMismatch
	}

	p, ok := s.providers[req.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, req.Provider)
	}
	if req.Code == "" {
		return nil, ErrMissingCode
	}

	// 2. 認可コードからプロフィールを取得
	profile, err := p.FetchProfile(ctx, req.Code)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}

	// 3. ユーザーを特定または作成
	user, err := s.users.ResolveOrCreate(ctx, profile)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user: %w", err)
	}

	// 4. トークン発行
	tok, err := s.tokens.Issue(user.ID, user.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	s.logger.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("provider", p.Name()),
	)

	return &LoginResult{Token: tok, User: user.Summary()}, nil
}

// IssueExchangeCode はログイン結果を交換コードに預ける。
func (s *Service) IssueExchangeCode(result *LoginResult) (string, error) {
	if result == nil {
		return "", fmt.Errorf("login result is required")
	}
	return s.codes.Issue(*result)
}

// RedeemExchangeCode は交換コードを1回だけログイン結果に引き換える。
func (s *Service) RedeemExchangeCode(code string) (*LoginResult, bool) {
	result, ok := s.codes.Consume(code)
	if !ok {
		return nil, false
	}
	return &result, true
}
