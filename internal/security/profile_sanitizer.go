// Package security はIdPや他ユーザー由来の文字列を安全な形に整える。
//
// ProfileSanitizer はbluemondayのStrictPolicyでマークアップを除去したうえで、
// ユーザー名・アバターURL・通知の対象参照をそれぞれの許可文字や許可スキームに絞り込む。
package security

import (
	"html"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxUsernameLength はユーザー名の最大文字数。
const MaxUsernameLength = 32

// maxSubjectRefLength は通知の対象参照の最大バイト数。
const maxSubjectRefLength = 200

// fallbackUsername は使える文字が残らなかった場合のユーザー名。
const fallbackUsername = "user"

// ProfileSanitizer はプロフィールと通知に含まれる外部入力を整形する。
type ProfileSanitizer interface {
	// Username はタグを除去し、英数字と - _ . のみを残したユーザー名を返す。
	Username(raw string) string
	// AvatarURL はhttpsの絶対URLのみを通し、それ以外は空文字を返す。
	AvatarURL(raw string) string
	// SubjectRef はタグと制御文字を除去した対象参照を返す。
	SubjectRef(raw string) string
}

type profileSanitizer struct {
	policy *bluemonday.Policy
}

// NewProfileSanitizer はProfileSanitizerを生成する。
func NewProfileSanitizer() ProfileSanitizer {
	return &profileSanitizer{policy: bluemonday.StrictPolicy()}
}

// stripMarkup はタグを除去し、StrictPolicyがエスケープした実体参照を元に戻す。
func (s *profileSanitizer) stripMarkup(raw string) string {
	return html.UnescapeString(s.policy.Sanitize(raw))
}

func (s *profileSanitizer) Username(raw string) string {
	text := s.stripMarkup(raw)

	var b strings.Builder
	for _, r := range text {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-', r == '_', r == '.':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
		if b.Len() >= MaxUsernameLength {
			break
		}
	}

	name := strings.Trim(b.String(), "._-")
	if name == "" {
		return fallbackUsername
	}
	return name
}

func (s *profileSanitizer) AvatarURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return ""
	}
	return u.String()
}

func (s *profileSanitizer) SubjectRef(raw string) string {
	text := s.stripMarkup(raw)

	var b strings.Builder
	for _, r := range text {
		if r < 0x20 || r == 0x7f {
			continue
		}
		if b.Len()+utf8.RuneLen(r) > maxSubjectRefLength {
			break
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}
