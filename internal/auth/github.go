package auth

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2/endpoints"

	"github.com/hitoshi/tsudoi/internal/model"
)

const (
	defaultGitHubUserURL   = "https://api.github.com/user"
	defaultGitHubEmailsURL = "https://api.github.com/user/emails"
)

// GitHubConfig はGitHub OAuthの設定。
type GitHubConfig struct {
	ProviderConfig
	// EmailsURL はプロフィールにメールが含まれない場合の取得先。
	EmailsURL string
}

// GitHubExtractor はGitHubの /user レスポンスを解釈する。
type GitHubExtractor struct{}

// Extract はid, login, email, avatar_urlを取り出す。
func (GitHubExtractor) Extract(raw map[string]any) (model.OAuthProfile, error) {
	id := idField(raw, "id")
	if id == "" {
		return model.OAuthProfile{}, fmt.Errorf("github profile has no id")
	}
	username := stringField(raw, "login")
	if username == "" {
		username = stringField(raw, "name")
	}
	return model.OAuthProfile{
		ProviderUserID: id,
		Email:          stringField(raw, "email"),
		Username:       username,
		AvatarURL:      stringField(raw, "avatar_url"),
	}, nil
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// NewGitHubProvider はGitHubのProviderを生成する。
func NewGitHubProvider(cfg GitHubConfig) Provider {
	p := newOAuthProvider(ProviderGitHub, cfg.ProviderConfig, endpoints.GitHub,
		[]string{"read:user", "user:email"}, defaultGitHubUserURL, GitHubExtractor{})

	emailsURL := cfg.EmailsURL
	if emailsURL == "" {
		emailsURL = defaultGitHubEmailsURL
	}
	p.enrich = func(ctx context.Context, client *http.Client, profile *model.OAuthProfile) error {
		if profile.Email != "" {
			return nil
		}
		// 公開メールが未設定のユーザーは検証済みのプライマリメールを使う
		var emails []githubEmail
		if err := getJSON(ctx, client, emailsURL, &emails); err != nil {
			return fmt.Errorf("failed to fetch emails: %w", err)
		}
		for _, e := range emails {
			if e.Primary && e.Verified {
				profile.Email = e.Email
				return nil
			}
		}
		return nil
	}
	return p
}

// compile-time interface check
var _ ProfileExtractor = GitHubExtractor{}
