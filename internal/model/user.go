// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
type User struct {
	ID        string
	Email     string
	Username  string
	AvatarURL string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Summary はクライアントへ返すユーザー概要を生成する。
func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		AvatarURL: u.AvatarURL,
	}
}

// UserSummary はログイン結果やプロフィールAPIで返すユーザー情報。
type UserSummary struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Identity は外部IdPとの紐付け情報を表す。
// 1ユーザーに対してGitHub/Googleなど複数のIdPを紐付けられる。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Principal は検証済みトークンから得られる認証済み主体。
// リクエストコンテキストとプッシュセッションに同じ値を引き回す。
type Principal struct {
	UserID   string
	Username string
}

// IsZero はPrincipalが未設定かどうかを返す。
func (p Principal) IsZero() bool {
	return p.UserID == ""
}

// OAuthProfile はIdPのユーザー情報から取り出した共通プロフィール。
type OAuthProfile struct {
	Provider       string
	ProviderUserID string
	Email          string
	Username       string
	AvatarURL      string
}
