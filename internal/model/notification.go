package model

import "time"

// NotificationType は通知の種別。
type NotificationType string

const (
	NotificationLike    NotificationType = "LIKE"
	NotificationComment NotificationType = "COMMENT"
	NotificationFollow  NotificationType = "FOLLOW"
	NotificationMention NotificationType = "MENTION"
)

// Valid は定義済みの通知種別かどうかを返す。
func (t NotificationType) Valid() bool {
	switch t {
	case NotificationLike, NotificationComment, NotificationFollow, NotificationMention:
		return true
	}
	return false
}

// Notification は永続化された通知。
type Notification struct {
	ID          string           `json:"id"`
	Type        NotificationType `json:"type"`
	RecipientID string           `json:"recipientId"`
	ActorID     string           `json:"actorId"`
	SubjectRef  string           `json:"subjectRef,omitempty"`
	Read        bool             `json:"read"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// NotificationCursor は通知一覧のページング位置。
// (Before, BeforeID) の組より古い通知を返す。BeforeIDが空ならBeforeのみで比較する。
type NotificationCursor struct {
	Before   time.Time
	BeforeID string
}

// IsZero は先頭ページを指すカーソルかどうかを返す。
func (c NotificationCursor) IsZero() bool {
	return c.Before.IsZero()
}

// NotificationEvent はいいね・コメント・フォロー・メンションの各ハンドラが発行するイベント。
type NotificationEvent struct {
	Type        NotificationType
	RecipientID string
	ActorID     string
	SubjectRef  string
}

// IsSelfAction は自分自身に対する操作かどうかを返す。
func (e NotificationEvent) IsSelfAction() bool {
	return e.RecipientID == e.ActorID
}
