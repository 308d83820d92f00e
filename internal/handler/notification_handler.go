package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/tsudoi/internal/middleware"
	"github.com/hitoshi/tsudoi/internal/model"
)

// maxMarkReadBodyBytes は既読化リクエストのボディサイズ上限。
const maxMarkReadBodyBytes = 16 << 10

// NotificationServiceInterface は通知ハンドラーが必要とするサービスインターフェース。
type NotificationServiceInterface interface {
	List(ctx context.Context, userID string, cursor model.NotificationCursor, limit int) ([]*model.Notification, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, userID string, ids []string) (int64, error)
	MarkAllRead(ctx context.Context, userID string) (int64, error)
}

// NotificationHandler は通知関連のHTTPハンドラー。
// プッシュを取りこぼしたクライアントはこのAPIで状態を取り直す。
type NotificationHandler struct {
	service NotificationServiceInterface
}

// NewNotificationHandler はNotificationHandlerを生成する。
func NewNotificationHandler(service NotificationServiceInterface) *NotificationHandler {
	return &NotificationHandler{service: service}
}

type notificationListResponse struct {
	Notifications []*model.Notification `json:"notifications"`
	NextBefore    string                `json:"nextBefore,omitempty"`
	NextBeforeID  string                `json:"nextBeforeId,omitempty"`
}

type unreadCountResponse struct {
	Count int `json:"count"`
}

type markReadRequest struct {
	IDs []string `json:"ids"`
}

type markReadResponse struct {
	Updated int64 `json:"updated"`
}

// List は通知一覧を新しい順に返す。
// GET /api/notifications?before=RFC3339&beforeId=UUID&limit=N
// 次ページはレスポンスのnextBeforeとnextBeforeIdをそのまま渡す。
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	var cursor model.NotificationCursor
	if v := r.URL.Query().Get("before"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			middleware.WriteInvalidRequest(w, "beforeはRFC3339形式で指定してください")
			return
		}
		cursor.Before = t
	}
	if v := r.URL.Query().Get("beforeId"); v != "" {
		if cursor.Before.IsZero() {
			middleware.WriteInvalidRequest(w, "beforeIdはbeforeと組で指定してください")
			return
		}
		if _, err := uuid.Parse(v); err != nil {
			middleware.WriteInvalidRequest(w, "beforeIdはUUID形式で指定してください")
			return
		}
		cursor.BeforeID = v
	}

	var limit int
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			middleware.WriteInvalidRequest(w, "limitは1以上の整数で指定してください")
			return
		}
		limit = n
	}

	notifications, err := h.service.List(r.Context(), p.UserID, cursor, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := notificationListResponse{Notifications: notifications}
	if n := len(notifications); n > 0 {
		last := notifications[n-1]
		resp.NextBefore = last.CreatedAt.UTC().Format(time.RFC3339Nano)
		resp.NextBeforeID = last.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

// UnreadCount は未読件数を返す。
// GET /api/notifications/unread-count
func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	count, err := h.service.UnreadCount(r.Context(), p.UserID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, unreadCountResponse{Count: count})
}

// MarkRead は指定IDの通知を既読にする。
// POST /api/notifications/read {"ids":["..."]}
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req markReadRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMarkReadBodyBytes)).Decode(&req); err != nil {
		middleware.WriteInvalidRequest(w, "リクエストボディが不正です")
		return
	}

	updated, err := h.service.MarkRead(r.Context(), p.UserID, req.IDs)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, markReadResponse{Updated: updated})
}

// MarkAllRead は全ての未読通知を既読にする。
// POST /api/notifications/read-all
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	updated, err := h.service.MarkAllRead(r.Context(), p.UserID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, markReadResponse{Updated: updated})
}

func (h *NotificationHandler) principal(w http.ResponseWriter, r *http.Request) (model.Principal, bool) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		middleware.WriteUnauthorized(w)
	}
	return p, ok
}
