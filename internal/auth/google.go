package auth

import (
	"fmt"
	"strings"

	"golang.org/x/oauth2/endpoints"

	"github.com/hitoshi/tsudoi/internal/model"
)

const defaultGoogleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

// GoogleExtractor はGoogleのuserinfoレスポンスを解釈する。
type GoogleExtractor struct{}

// Extract はsub, email, name, pictureを取り出す。
// email_verifiedがfalseのメールは既存ユーザーとの紐付けに使わないため捨てる。
func (GoogleExtractor) Extract(raw map[string]any) (model.OAuthProfile, error) {
	sub := idField(raw, "sub")
	if sub == "" {
		return model.OAuthProfile{}, fmt.Errorf("google profile has no sub")
	}

	email := stringField(raw, "email")
	if verified, ok := raw["email_verified"].(bool); ok && !verified {
		email = ""
	}

	// Googleにはユーザー名がないため、メールのローカル部か表示名から作る
	username := ""
	if email != "" {
		username, _, _ = strings.Cut(email, "@")
	}
	if username == "" {
		username = stringField(raw, "name")
	}

	return model.OAuthProfile{
		ProviderUserID: sub,
		Email:          email,
		Username:       username,
		AvatarURL:      stringField(raw, "picture"),
	}, nil
}

// NewGoogleProvider はGoogleのProviderを生成する。
func NewGoogleProvider(cfg ProviderConfig) Provider {
	return newOAuthProvider(ProviderGoogle, cfg, endpoints.Google,
		[]string{"openid", "email", "profile"}, defaultGoogleUserInfoURL, GoogleExtractor{})
}

// compile-time interface check
var _ ProfileExtractor = GoogleExtractor{}
