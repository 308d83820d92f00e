package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"

	"github.com/hitoshi/tsudoi/internal/model"
)

// 対応するIdP
const (
	ProviderGitHub = "github"
	ProviderGoogle = "google"
)

// maxProfileBytes はIdPのユーザー情報レスポンスの読み込み上限。
const maxProfileBytes = 1 << 20

// Provider はOAuthプロバイダーのインターフェース。
// 認可URLの生成と、認可コードから共通プロフィールを得るまでを担う。
type Provider interface {
	// Name はプロバイダー名（github, google）を返す。
	Name() string
	// LoginURL はstateを含む認可URLを生成する。
	LoginURL(state string) string
	// FetchProfile は認可コードをアクセストークンに交換し、プロフィールを取得する。
	FetchProfile(ctx context.Context, code string) (model.OAuthProfile, error)
}

// ProfileExtractor はIdP固有のユーザー情報JSONから共通プロフィールを取り出す。
type ProfileExtractor interface {
	Extract(raw map[string]any) (model.OAuthProfile, error)
}

// ProviderConfig はプロバイダーの設定。
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL     string
	TokenURL    string
	UserInfoURL string
}

// oauthProvider はoauth2.Configを使う共通実装。
// プロフィールの解釈はextractorに委譲する。
type oauthProvider struct {
	name        string
	oauth       *oauth2.Config
	userInfoURL string
	extractor   ProfileExtractor
	// enrich はExtract後にプロフィールを補完する（GitHubのメール取得など）。
	enrich func(ctx context.Context, client *http.Client, p *model.OAuthProfile) error
}

func newOAuthProvider(name string, cfg ProviderConfig, endpoint oauth2.Endpoint, scopes []string, defaultUserInfoURL string, extractor ProfileExtractor) *oauthProvider {
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	userInfoURL := cfg.UserInfoURL
	if userInfoURL == "" {
		userInfoURL = defaultUserInfoURL
	}
	return &oauthProvider{
		name: name,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
		userInfoURL: userInfoURL,
		extractor:   extractor,
	}
}

func (p *oauthProvider) Name() string {
	return p.name
}

func (p *oauthProvider) LoginURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

func (p *oauthProvider) FetchProfile(ctx context.Context, code string) (model.OAuthProfile, error) {
	// 1. 認可コードをアクセストークンに交換
	tok, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return model.OAuthProfile{}, fmt.Errorf("failed to exchange %s code: %w", p.name, err)
	}

	// 2. アクセストークン付きクライアントでユーザー情報を取得
	client := p.oauth.Client(ctx, tok)
	var raw map[string]any
	if err := getJSON(ctx, client, p.userInfoURL, &raw); err != nil {
		return model.OAuthProfile{}, fmt.Errorf("failed to fetch %s user info: %w", p.name, err)
	}

	// 3. 共通プロフィールへ変換
	profile, err := p.extractor.Extract(raw)
	if err != nil {
		return model.OAuthProfile{}, fmt.Errorf("failed to extract %s profile: %w", p.name, err)
	}
	profile.Provider = p.name

	if p.enrich != nil {
		if err := p.enrich(ctx, client, &profile); err != nil {
			return model.OAuthProfile{}, fmt.Errorf("failed to enrich %s profile: %w", p.name, err)
		}
	}
	return profile, nil
}

// getJSON はGETしたJSONレスポンスをvにデコードする。
func getJSON(ctx context.Context, client *http.Client, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// stringField はrawから文字列フィールドを取り出す。存在しなければ空文字を返す。
func stringField(raw map[string]any, key string) string {
	if v, ok := raw[key].(string); ok {
		return v
	}
	return ""
}

// idField は数値または文字列のIDフィールドを文字列として取り出す。
func idField(raw map[string]any, key string) string {
	switch v := raw[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case json.Number:
		return v.String()
	}
	return ""
}
