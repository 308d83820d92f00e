// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, notification, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized          = "UNAUTHORIZED"
	ErrCodeInvalidExchangeCode   = "INVALID_EXCHANGE_CODE"
	ErrCodeUnknownProvider       = "UNKNOWN_PROVIDER"
	ErrCodeUserNotFound          = "USER_NOT_FOUND"
	ErrCodeInvalidRequest        = "INVALID_REQUEST"
	ErrCodeInvalidNotificationID = "INVALID_NOTIFICATION_ID"
)

// NewUnauthorizedError は認証失敗エラーを生成する。
// 失敗理由は含めない。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInvalidExchangeCodeError は交換コードが無効な場合のエラーを生成する。
// 未発行と期限切れは区別しない。
func NewInvalidExchangeCodeError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidExchangeCode,
		Message:  "交換コードが無効です。",
		Category: "auth",
		Action:   "もう一度ログインしてください。",
	}
}

// NewUnknownProviderError は未対応のIdPが指定された場合のエラーを生成する。
func NewUnknownProviderError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownProvider,
		Message:  fmt.Sprintf("未対応のログインプロバイダです: %s", provider),
		Category: "auth",
		Action:   "GitHubまたはGoogleでログインしてください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInvalidRequestError はリクエスト形式が不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}

// NewInvalidNotificationIDError は通知IDが不正な場合のエラーを生成する。
func NewInvalidNotificationIDError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidNotificationID,
		Message:  fmt.Sprintf("無効な通知IDです: %s", id),
		Category: "notification",
		Action:   "通知一覧を再読み込みしてください。",
	}
}
