// Package notification は通知の永続化とリアルタイム配信を提供する。
//
// 永続化が正であり、プッシュはその後に行うベストエフォートの付加処理。
// プッシュが届かなくてもクライアントは一覧APIと未読件数APIで追いつける。
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/tsudoi/internal/model"
	"github.com/hitoshi/tsudoi/internal/repository"
	"github.com/hitoshi/tsudoi/internal/security"
)

const (
	// DefaultListLimit は一覧取得件数の既定値。
	DefaultListLimit = 20
	// MaxListLimit は一覧取得件数の上限。
	MaxListLimit = 100
	// MaxMarkReadIDs は1回の既読化で指定できるIDの上限。
	MaxMarkReadIDs = 100
)

var (
	// ErrInvalidType は未定義の通知種別を表す。
	ErrInvalidType = errors.New("invalid notification type")
	// ErrMissingParticipant は受信者または操作者が空であることを表す。
	ErrMissingParticipant = errors.New("notification recipient and actor are required")
)

// Pusher は接続中のセッションへ通知を配信する。
type Pusher interface {
	IsOnline(userID string) bool
	SendUnreadCount(userID string, count int) int
	SendNewNotification(userID string, n *model.Notification) int
}

// Service は通知のサービス層。
type Service struct {
	repo      repository.NotificationRepository
	pusher    Pusher
	sanitizer security.ProfileSanitizer
	logger    *slog.Logger
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	repo repository.NotificationRepository,
	pusher Pusher,
	sanitizer security.ProfileSanitizer,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if sanitizer == nil {
		sanitizer = security.NewProfileSanitizer()
	}
	return &Service{
		repo:      repo,
		pusher:    pusher,
		sanitizer: sanitizer,
		logger:    logger,
		now:       time.Now,
	}
}

// Notify はイベントから通知を作成し、受信者へ新着通知と未読件数をプッシュする。
// 自分自身への操作は通知せず (nil, nil) を返す。
func (s *Service) Notify(ctx context.Context, ev model.NotificationEvent) (*model.Notification, error) {
	if ev.RecipientID == "" || ev.ActorID == "" {
		return nil, ErrMissingParticipant
	}
	if ev.IsSelfAction() {
		return nil, nil
	}
	if !ev.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, ev.Type)
	}

	n := &model.Notification{
		ID:          uuid.NewString(),
		Type:        ev.Type,
		RecipientID: ev.RecipientID,
		ActorID:     ev.ActorID,
		SubjectRef:  s.sanitizer.SubjectRef(ev.SubjectRef),
		// PostgreSQLのtimestamptzはマイクロ秒精度。一覧のカーソルと一致させるため保存前に丸める。
		CreatedAt: s.now().UTC().Truncate(time.Microsecond),
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("通知の保存に失敗しました: %w", err)
	}

	if !s.pusher.IsOnline(n.RecipientID) {
		return n, nil
	}
	s.pusher.SendNewNotification(n.RecipientID, n)
	s.PushUnreadCount(ctx, n.RecipientID)
	return n, nil
}

// List は受信者の通知を新しい順に返す。limitは1からMaxListLimitに丸める。
func (s *Service) List(ctx context.Context, userID string, cursor model.NotificationCursor, limit int) ([]*model.Notification, error) {
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}
	list, err := s.repo.ListByRecipient(ctx, userID, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗しました: %w", err)
	}
	if list == nil {
		list = []*model.Notification{}
	}
	return list, nil
}

// UnreadCount は受信者の未読件数を返す。
func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	count, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("未読件数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// MarkRead は指定通知を既読にし、更新があれば未読件数をプッシュする。
func (s *Service) MarkRead(ctx context.Context, userID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			return 0, model.NewInvalidNotificationIDError(id)
		}
	}
	if len(ids) > MaxMarkReadIDs {
		return 0, model.NewInvalidRequestError(fmt.Sprintf("一度に既読にできる通知は%d件までです", MaxMarkReadIDs))
	}

	updated, err := s.repo.MarkRead(ctx, userID, ids)
	if err != nil {
		return 0, fmt.Errorf("既読化に失敗しました: %w", err)
	}
	if updated > 0 {
		s.PushUnreadCount(ctx, userID)
	}
	return updated, nil
}

// MarkAllRead は受信者の全通知を既読にし、更新があれば未読件数をプッシュする。
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	updated, err := s.repo.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("既読化に失敗しました: %w", err)
	}
	if updated > 0 {
		s.PushUnreadCount(ctx, userID)
	}
	return updated, nil
}

// PushUnreadCount は現在の未読件数を接続中のセッションへ配信する。
// 件数の取得に失敗した場合はログに残して何も送らない。
// 受信者が未接続なら件数の取得も行わない。接続直後のフックとしても使う。
func (s *Service) PushUnreadCount(ctx context.Context, userID string) {
	if !s.pusher.IsOnline(userID) {
		return
	}
	count, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		s.logger.Warn("未読件数の取得に失敗したためプッシュを省略します",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.pusher.SendUnreadCount(userID, count)
}

// OnConnect はプッシュ接続確立時に未読件数を送る。
func (s *Service) OnConnect(ctx context.Context, p model.Principal) {
	s.PushUnreadCount(ctx, p.UserID)
}
