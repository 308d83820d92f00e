package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/tsudoi/internal/model"
	"github.com/hitoshi/tsudoi/internal/realtime"
	"github.com/hitoshi/tsudoi/internal/repository"
)

// --- モック ---

type mockRepo struct {
	createFn      func(ctx context.Context, n *model.Notification) error
	listFn        func(ctx context.Context, recipientID string, cursor model.NotificationCursor, limit int) ([]*model.Notification, error)
	countUnreadFn func(ctx context.Context, recipientID string) (int, error)
	countCalls    int
	markReadFn    func(ctx context.Context, recipientID string, ids []string) (int64, error)
	markAllReadFn func(ctx context.Context, recipientID string) (int64, error)
	created       []*model.Notification
}

func (m *mockRepo) Create(ctx context.Context, n *model.Notification) error {
	if m.createFn != nil {
		if err := m.createFn(ctx, n); err != nil {
			return err
		}
	}
	m.created = append(m.created, n)
	return nil
}

func (m *mockRepo) ListByRecipient(ctx context.Context, recipientID string, cursor model.NotificationCursor, limit int) ([]*model.Notification, error) {
	if m.listFn != nil {
		return m.listFn(ctx, recipientID, cursor, limit)
	}
	return nil, nil
}

func (m *mockRepo) CountUnread(ctx context.Context, recipientID string) (int, error) {
	m.countCalls++
	if m.countUnreadFn != nil {
		return m.countUnreadFn(ctx, recipientID)
	}
	return len(m.created), nil
}

func (m *mockRepo) MarkRead(ctx context.Context, recipientID string, ids []string) (int64, error) {
	if m.markReadFn != nil {
		return m.markReadFn(ctx, recipientID, ids)
	}
	return int64(len(ids)), nil
}

func (m *mockRepo) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	if m.markAllReadFn != nil {
		return m.markAllReadFn(ctx, recipientID)
	}
	return 0, nil
}

type pushEvent struct {
	kind   string
	userID string
	count  int
	n      *model.Notification
}

type recordingPusher struct {
	mu      sync.Mutex
	events  []pushEvent
	offline map[string]bool
}

func (p *recordingPusher) IsOnline(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.offline[userID]
}

func (p *recordingPusher) SendUnreadCount(userID string, count int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, pushEvent{kind: realtime.MessageUnreadCount, userID: userID, count: count})
	return 1
}

func (p *recordingPusher) SendNewNotification(userID string, n *model.Notification) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, pushEvent{kind: realtime.MessageNotification, userID: userID, n: n})
	return 1
}

func (p *recordingPusher) snapshot() []pushEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]pushEvent(nil), p.events...)
}

// compile-time interface checks
var (
	_ repository.NotificationRepository = (*mockRepo)(nil)
	_ Pusher                            = (*recordingPusher)(nil)
	_ Pusher                            = (*realtime.Broadcaster)(nil)
	_ realtime.ConnectHook              = (*Service)(nil).OnConnect
)

func newTestService(repo *mockRepo) (*Service, *recordingPusher) {
	pusher := &recordingPusher{}
	return NewService(repo, pusher, nil, nil), pusher
}

// --- Notify ---

func TestNotify_PersistsThenPushes(t *testing.T) {
	repo := &mockRepo{}
	svc, pusher := newTestService(repo)

	n, err := svc.Notify(context.Background(), model.NotificationEvent{
		Type:        model.NotificationLike,
		RecipientID: "bob",
		ActorID:     "alice",
		SubjectRef:  "post:1",
	})
	if err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if n == nil {
		t.Fatal("Notify() returned nil notification")
	}
	if _, err := uuid.Parse(n.ID); err != nil {
		t.Errorf("ID = %q, want uuid", n.ID)
	}
	if n.Read {
		t.Error("new notification should be unread")
	}
	if len(repo.created) != 1 {
		t.Fatalf("created = %d, want 1", len(repo.created))
	}

	events := pusher.snapshot()
	if len(events) != 2 {
		t.Fatalf("push events = %d, want 2", len(events))
	}
	if events[0].kind != realtime.MessageNotification || events[0].userID != "bob" || events[0].n != n {
		t.Errorf("first push = %+v, want notification to bob", events[0])
	}
	if events[1].kind != realtime.MessageUnreadCount || events[1].count != 1 {
		t.Errorf("second push = %+v, want unreadCount=1", events[1])
	}
}

// 受信者が未接続なら保存だけ行い、配信も未読件数の取得もしない
func TestNotify_RecipientOffline_PersistsWithoutPush(t *testing.T) {
	repo := &mockRepo{}
	svc, pusher := newTestService(repo)
	pusher.offline = map[string]bool{"bob": true}

	n, err := svc.Notify(context.Background(), model.NotificationEvent{
		Type: model.NotificationLike, RecipientID: "bob", ActorID: "alice",
	})
	if err != nil || n == nil {
		t.Fatalf("Notify() = (%v, %v), want notification", n, err)
	}
	if len(repo.created) != 1 {
		t.Errorf("created = %d, want 1", len(repo.created))
	}
	if len(pusher.snapshot()) != 0 {
		t.Errorf("push events = %+v, want none", pusher.snapshot())
	}
	if repo.countCalls != 0 {
		t.Errorf("CountUnread calls = %d, want 0", repo.countCalls)
	}
}

// 保存する作成時刻はPostgreSQLの精度に合わせてマイクロ秒に丸める
func TestNotify_CreatedAtTruncatedToMicroseconds(t *testing.T) {
	repo := &mockRepo{}
	svc, _ := newTestService(repo)
	svc.now = func() time.Time {
		return time.Date(2026, 3, 4, 5, 6, 7, 123456789, time.FixedZone("JST", 9*60*60))
	}

	n, err := svc.Notify(context.Background(), model.NotificationEvent{
		Type: model.NotificationComment, RecipientID: "bob", ActorID: "alice",
	})
	if err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	want := time.Date(2026, 3, 3, 20, 6, 7, 123456000, time.UTC)
	if !n.CreatedAt.Equal(want) || n.CreatedAt.Location() != time.UTC {
		t.Errorf("CreatedAt = %v, want %v", n.CreatedAt, want)
	}
	if n.CreatedAt.Nanosecond()%1000 != 0 {
		t.Errorf("CreatedAt has sub-microsecond part: %d", n.CreatedAt.Nanosecond())
	}
}

func TestNotify_SelfAction_Dropped(t *testing.T) {
	for _, typ := range []model.NotificationType{
		model.NotificationLike, model.NotificationComment, model.NotificationFollow, model.NotificationMention,
	} {
		t.Run(string(typ), func(t *testing.T) {
			repo := &mockRepo{}
			svc, pusher := newTestService(repo)

			n, err := svc.Notify(context.Background(), model.NotificationEvent{
				Type: typ, RecipientID: "alice", ActorID: "alice",
			})
			if err != nil || n != nil {
				t.Errorf("Notify() = (%v, %v), want (nil, nil)", n, err)
			}
			if len(repo.created) != 0 {
				t.Error("self action should not be persisted")
			}
			if len(pusher.snapshot()) != 0 {
				t.Error("self action should not be pushed")
			}
		})
	}
}

func TestNotify_InvalidType(t *testing.T) {
	repo := &mockRepo{}
	svc, pusher := newTestService(repo)

	_, err := svc.Notify(context.Background(), model.NotificationEvent{
		Type: "REPOST", RecipientID: "bob", ActorID: "alice",
	})
	if !errors.Is(err, ErrInvalidType) {
		t.Errorf("Notify() error = %v, want ErrInvalidType", err)
	}
	if len(repo.created) != 0 || len(pusher.snapshot()) != 0 {
		t.Error("invalid type should neither persist nor push")
	}
}

func TestNotify_MissingParticipant(t *testing.T) {
	svc, _ := newTestService(&mockRepo{})

	_, err := svc.Notify(context.Background(), model.NotificationEvent{
		Type: model.NotificationFollow, RecipientID: "", ActorID: "",
	})
	if !errors.Is(err, ErrMissingParticipant) {
		t.Errorf("Notify() error = %v, want ErrMissingParticipant", err)
	}
}

func TestNotify_PersistFailure_NoPush(t *testing.T) {
	dbErr := errors.New("insert failed")
	repo := &mockRepo{createFn: func(context.Context, *model.Notification) error { return dbErr }}
	svc, pusher := newTestService(repo)

	_, err := svc.Notify(context.Background(), model.NotificationEvent{
		Type: model.NotificationComment, RecipientID: "bob", ActorID: "alice",
	})
	if !errors.Is(err, dbErr) {
		t.Errorf("Notify() error = %v, want wrapped dbErr", err)
	}
	if len(pusher.snapshot()) != 0 {
		t.Error("nothing should be pushed when persistence fails")
	}
}

func TestNotify_SanitizesSubjectRef(t *testing.T) {
	repo := &mockRepo{}
	svc, _ := newTestService(repo)

	n, err := svc.Notify(context.Background(), model.NotificationEvent{
		Type: model.NotificationMention, RecipientID: "bob", ActorID: "alice",
		SubjectRef: "comment:<script>x</script>9",
	})
	if err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if n.SubjectRef != "comment:9" {
		t.Errorf("SubjectRef = %q, want %q", n.SubjectRef, "comment:9")
	}
}

func TestNotify_UnreadCountFailure_StillSucceeds(t *testing.T) {
	repo := &mockRepo{countUnreadFn: func(context.Context, string) (int, error) {
		return 0, errors.New("count failed")
	}}
	svc, pusher := newTestService(repo)

	n, err := svc.Notify(context.Background(), model.NotificationEvent{
		Type: model.NotificationFollow, RecipientID: "bob", ActorID: "alice",
	})
	if err != nil || n == nil {
		t.Fatalf("Notify() = (%v, %v), want notification", n, err)
	}
	events := pusher.snapshot()
	if len(events) != 1 || events[0].kind != realtime.MessageNotification {
		t.Errorf("push events = %+v, want only the notification", events)
	}
}

// --- List ---

func TestList_ClampsLimit(t *testing.T) {
	tests := []struct {
		name string
		in   int
		want int
	}{
		{"ゼロは既定値", 0, DefaultListLimit},
		{"負数は既定値", -5, DefaultListLimit},
		{"範囲内", 50, 50},
		{"上限超過", 1000, MaxListLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotLimit int
			repo := &mockRepo{listFn: func(_ context.Context, _ string, _ model.NotificationCursor, limit int) ([]*model.Notification, error) {
				gotLimit = limit
				return nil, nil
			}}
			svc, _ := newTestService(repo)

			list, err := svc.List(context.Background(), "bob", model.NotificationCursor{}, tt.in)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if list == nil {
				t.Error("List() should return an empty slice, not nil")
			}
			if gotLimit != tt.want {
				t.Errorf("limit = %d, want %d", gotLimit, tt.want)
			}
		})
	}
}

func TestList_PassesCursor(t *testing.T) {
	cursor := model.NotificationCursor{
		Before:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		BeforeID: "0b7c6f9e-3a51-4a0e-9c55-2f1d5d0e8a11",
	}
	var got model.NotificationCursor
	repo := &mockRepo{listFn: func(_ context.Context, recipientID string, c model.NotificationCursor, _ int) ([]*model.Notification, error) {
		if recipientID != "bob" {
			t.Errorf("recipientID = %q, want %q", recipientID, "bob")
		}
		got = c
		return []*model.Notification{{ID: "n1"}}, nil
	}}
	svc, _ := newTestService(repo)

	list, err := svc.List(context.Background(), "bob", cursor, 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 {
		t.Errorf("len(list) = %d, want 1", len(list))
	}
	if !got.Before.Equal(cursor.Before) || got.BeforeID != cursor.BeforeID {
		t.Errorf("cursor = %+v, want %+v", got, cursor)
	}
}

// --- MarkRead / MarkAllRead ---

func TestMarkRead_PushesUnreadCount(t *testing.T) {
	repo := &mockRepo{countUnreadFn: func(context.Context, string) (int, error) { return 3, nil }}
	svc, pusher := newTestService(repo)

	ids := []string{uuid.NewString(), uuid.NewString()}
	updated, err := svc.MarkRead(context.Background(), "bob", ids)
	if err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}
	if updated != 2 {
		t.Errorf("updated = %d, want 2", updated)
	}
	events := pusher.snapshot()
	if len(events) != 1 || events[0].kind != realtime.MessageUnreadCount || events[0].count != 3 {
		t.Errorf("push events = %+v, want unreadCount=3", events)
	}
}

func TestMarkRead_NothingUpdated_NoPush(t *testing.T) {
	repo := &mockRepo{markReadFn: func(context.Context, string, []string) (int64, error) { return 0, nil }}
	svc, pusher := newTestService(repo)

	if _, err := svc.MarkRead(context.Background(), "bob", []string{uuid.NewString()}); err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}
	if len(pusher.snapshot()) != 0 {
		t.Error("no push expected when nothing was updated")
	}
}

func TestMarkRead_InvalidID(t *testing.T) {
	called := false
	repo := &mockRepo{markReadFn: func(context.Context, string, []string) (int64, error) {
		called = true
		return 0, nil
	}}
	svc, _ := newTestService(repo)

	_, err := svc.MarkRead(context.Background(), "bob", []string{"not-a-uuid"})
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidNotificationID {
		t.Errorf("MarkRead() error = %v, want INVALID_NOTIFICATION_ID", err)
	}
	if called {
		t.Error("repository should not be called for invalid ids")
	}
}

func TestMarkRead_TooManyIDs(t *testing.T) {
	svc, _ := newTestService(&mockRepo{})

	ids := make([]string, MaxMarkReadIDs+1)
	for i := range ids {
		ids[i] = uuid.NewString()
	}
	_, err := svc.MarkRead(context.Background(), "bob", ids)
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidRequest {
		t.Errorf("MarkRead() error = %v, want INVALID_REQUEST", err)
	}
}

func TestMarkAllRead(t *testing.T) {
	repo := &mockRepo{
		markAllReadFn: func(context.Context, string) (int64, error) { return 4, nil },
		countUnreadFn: func(context.Context, string) (int, error) { return 0, nil },
	}
	svc, pusher := newTestService(repo)

	updated, err := svc.MarkAllRead(context.Background(), "bob")
	if err != nil {
		t.Fatalf("MarkAllRead() error = %v", err)
	}
	if updated != 4 {
		t.Errorf("updated = %d, want 4", updated)
	}
	events := pusher.snapshot()
	if len(events) != 1 || events[0].count != 0 {
		t.Errorf("push events = %+v, want unreadCount=0", events)
	}
}

func TestOnConnect_PushesUnreadCount(t *testing.T) {
	repo := &mockRepo{countUnreadFn: func(_ context.Context, id string) (int, error) {
		if id != "bob" {
			t.Errorf("CountUnread id = %q, want %q", id, "bob")
		}
		return 7, nil
	}}
	svc, pusher := newTestService(repo)

	svc.OnConnect(context.Background(), model.Principal{UserID: "bob", Username: "bob"})

	events := pusher.snapshot()
	if len(events) != 1 || events[0].userID != "bob" || events[0].count != 7 {
		t.Errorf("push events = %+v, want unreadCount=7 to bob", events)
	}
}
