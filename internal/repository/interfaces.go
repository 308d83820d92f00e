// Package repository はデータ永続化のインターフェースとPostgreSQL実装を提供する。
package repository

import (
	"context"

	"github.com/hitoshi/tsudoi/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレス（大文字小文字を区別しない）でユーザーを取得する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// UsernameExists はユーザー名が使用済みかどうかを返す。
	UsernameExists(ctx context.Context, username string) (bool, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)

	// Create は既存ユーザーに新しいidentityを紐付ける。
	Create(ctx context.Context, identity *model.Identity) error
}

// NotificationRepository は通知の永続化インターフェース。
type NotificationRepository interface {
	// Create は通知を作成する。
	Create(ctx context.Context, n *model.Notification) error

	// ListByRecipient は受信者の通知を(created_at, id)降順で返す。
	// cursorがゼロ値でなければその位置より古いものだけを返す。
	ListByRecipient(ctx context.Context, recipientID string, cursor model.NotificationCursor, limit int) ([]*model.Notification, error)

	// CountUnread は受信者の未読件数を返す。
	CountUnread(ctx context.Context, recipientID string) (int, error)

	// MarkRead は受信者の指定通知を既読にし、更新件数を返す。他人の通知は更新しない。
	MarkRead(ctx context.Context, recipientID string, ids []string) (int64, error)

	// MarkAllRead は受信者の全通知を既読にし、更新件数を返す。
	MarkAllRead(ctx context.Context, recipientID string) (int64, error)
}
