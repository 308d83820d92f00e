package realtime

import (
	"encoding/json"
	"log/slog"

	"github.com/hitoshi/tsudoi/internal/model"
)

// プッシュメッセージの種別
const (
	MessageUnreadCount  = "unreadCount"
	MessageNotification = "notification"
)

type unreadCountMessage struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

type notificationMessage struct {
	Type         string              `json:"type"`
	Notification *model.Notification `json:"notification"`
}

// Broadcaster はユーザーの全セッションへJSONメッセージを配信する。
// 配信はベストエフォートで最大1回。接続がなければ破棄し、再送もしない。
type Broadcaster struct {
	registry *Registry
	logger   *slog.Logger
	metrics  MetricsRecorder
}

// NewBroadcaster はBroadcasterを生成する。
func NewBroadcaster(registry *Registry, logger *slog.Logger, metrics MetricsRecorder) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		registry: registry,
		logger:   logger,
		metrics:  orNoop(metrics),
	}
}

// IsOnline は配信先のセッションがあるかどうかを返す。
func (b *Broadcaster) IsOnline(userID string) bool {
	return b.registry.IsOnline(userID)
}

// SendUnreadCount は未読件数を配信し、届いたセッション数を返す。
func (b *Broadcaster) SendUnreadCount(userID string, count int) int {
	return b.broadcast(userID, MessageUnreadCount, unreadCountMessage{
		Type:  MessageUnreadCount,
		Count: count,
	})
}

// SendNewNotification は新着通知を配信し、届いたセッション数を返す。
func (b *Broadcaster) SendNewNotification(userID string, n *model.Notification) int {
	return b.broadcast(userID, MessageNotification, notificationMessage{
		Type:         MessageNotification,
		Notification: n,
	})
}

// broadcast はレジストリのロック外でスナップショットの各セッションに書き込む。
// 1セッションの失敗はログに残して次へ進み、そのセッションは閉じない。
func (b *Broadcaster) broadcast(userID, kind string, msg any) int {
	sessions := b.registry.SessionsFor(userID)
	if len(sessions) == 0 {
		return 0
	}

	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("failed to marshal push message",
			slog.String("type", kind),
			slog.String("error", err.Error()),
		)
		return 0
	}

	delivered := 0
	for _, s := range sessions {
		if err := s.Send(data); err != nil {
			b.metrics.SendFailed(kind)
			b.logger.Warn("failed to push message",
				slog.String("type", kind),
				slog.String("user_id", userID),
				slog.String("session_id", s.ID()),
				slog.String("error", err.Error()),
			)
			continue
		}
		delivered++
	}
	b.metrics.PushDelivered(kind, delivered)
	return delivered
}
