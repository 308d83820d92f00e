package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/tsudoi/internal/model"
)

// PostgresNotificationRepo はPostgreSQLを使用した通知リポジトリ。
type PostgresNotificationRepo struct {
	db *sql.DB
}

// NewPostgresNotificationRepo はPostgresNotificationRepoを生成する。
func NewPostgresNotificationRepo(db *sql.DB) *PostgresNotificationRepo {
	return &PostgresNotificationRepo{db: db}
}

// Create は通知を作成する。
func (r *PostgresNotificationRepo) Create(ctx context.Context, n *model.Notification) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO notifications (id, type, recipient_id, actor_id, subject_ref, is_read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		n.ID, string(n.Type), n.RecipientID, n.ActorID, n.SubjectRef, n.Read, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

// ListByRecipient は受信者の通知を(created_at, id)降順で返す。
// 同一時刻の通知がページ境界をまたいでも欠落しないよう、カーソルは(created_at, id)の組で比較する。
func (r *PostgresNotificationRepo) ListByRecipient(ctx context.Context, recipientID string, cursor model.NotificationCursor, limit int) ([]*model.Notification, error) {
	const selectCols = `SELECT id, type, recipient_id, actor_id, subject_ref, is_read, created_at
			 FROM notifications`

	var (
		rows *sql.Rows
		err  error
	)
	switch {
	case cursor.IsZero():
		rows, err = r.db.QueryContext(ctx,
			selectCols+`
			 WHERE recipient_id = $1
			 ORDER BY created_at DESC, id DESC
			 LIMIT $2`,
			recipientID, limit,
		)
	case cursor.BeforeID == "":
		rows, err = r.db.QueryContext(ctx,
			selectCols+`
			 WHERE recipient_id = $1 AND created_at < $2
			 ORDER BY created_at DESC, id DESC
			 LIMIT $3`,
			recipientID, cursor.Before, limit,
		)
	default:
		rows, err = r.db.QueryContext(ctx,
			selectCols+`
			 WHERE recipient_id = $1 AND (created_at, id) < ($2, $3::uuid)
			 ORDER BY created_at DESC, id DESC
			 LIMIT $4`,
			recipientID, cursor.Before, cursor.BeforeID, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var out []*model.Notification
	for rows.Next() {
		n := &model.Notification{}
		var typ string
		if err := rows.Scan(&n.ID, &typ, &n.RecipientID, &n.ActorID, &n.SubjectRef, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.Type = model.NotificationType(typ)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notifications: %w", err)
	}
	return out, nil
}

// CountUnread は受信者の未読件数を返す。
func (r *PostgresNotificationRepo) CountUnread(ctx context.Context, recipientID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM notifications WHERE recipient_id = $1 AND NOT is_read`,
		recipientID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

// MarkRead は受信者の指定通知を既読にする。
func (r *PostgresNotificationRepo) MarkRead(ctx context.Context, recipientID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = TRUE
		 WHERE recipient_id = $1 AND id = ANY($2::uuid[]) AND NOT is_read`,
		recipientID, pq.Array(ids),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// MarkAllRead は受信者の全通知を既読にする。
func (r *PostgresNotificationRepo) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE recipient_id = $1 AND NOT is_read`,
		recipientID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark all notifications read: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ NotificationRepository = (*PostgresNotificationRepo)(nil)
