package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hitoshi/tsudoi/internal/model"
)

type testEnv struct {
	server      *httptest.Server
	registry    *Registry
	broadcaster *Broadcaster
	metrics     *recordingMetrics
	tokens      interface {
		Issue(userID, username string) (string, error)
	}
}

func newTestEnv(t *testing.T, cfg HandlerConfig) *testEnv {
	t.Helper()
	return newTestEnvWithHook(t, cfg, nil)
}

func newTestEnvWithHook(t *testing.T, cfg HandlerConfig, hook func(b *Broadcaster) ConnectHook) *testEnv {
	t.Helper()
	tokens := newTestTokenService(t)
	registry := NewRegistry(nil)
	metrics := newRecordingMetrics()
	broadcaster := NewBroadcaster(registry, nil, metrics)
	if hook != nil {
		cfg.OnConnect = hook(broadcaster)
	}
	h := NewHandler(NewGate(tokens), registry, cfg, nil, metrics)

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &testEnv{server: srv, registry: registry, broadcaster: broadcaster, metrics: metrics, tokens: tokens}
}

func (e *testEnv) wsURL(query string) string {
	return "ws" + strings.TrimPrefix(e.server.URL, "http") + "/notifications" + query
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(v); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
}

func TestHandler_ValidToken_RegistersAndReceivesPush(t *testing.T) {
	env := newTestEnv(t, HandlerConfig{AllowedOrigins: []string{"*"}})
	tok, _ := env.tokens.Issue("42", "alice")

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL("?token="+tok), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	waitFor(t, func() bool { return len(env.registry.SessionsFor("42")) == 1 })

	if got := env.broadcaster.SendUnreadCount("42", 3); got != 1 {
		t.Errorf("SendUnreadCount() = %d, want 1", got)
	}

	var msg struct {
		Type  string `json:"type"`
		Count int    `json:"count"`
	}
	readJSON(t, conn, &msg)
	if msg.Type != "unreadCount" || msg.Count != 3 {
		t.Errorf("message = %+v", msg)
	}
}

func TestHandler_BearerHeader_Accepted(t *testing.T) {
	env := newTestEnv(t, HandlerConfig{})
	tok, _ := env.tokens.Issue("42", "alice")

	header := http.Header{}
	header.Set("Authorization", "Bearer "+tok)
	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL(""), header)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	waitFor(t, func() bool { return env.registry.IsOnline("42") })
}

func TestHandler_InvalidToken_RefusesUpgrade(t *testing.T) {
	env := newTestEnv(t, HandlerConfig{})

	for _, q := range []string{"", "?token=", "?token=not-a-token"} {
		conn, resp, err := websocket.DefaultDialer.Dial(env.wsURL(q), nil)
		if err == nil {
			conn.Close()
			t.Fatalf("Dial(%q) succeeded, want handshake failure", q)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("Dial(%q) response = %v, want 401", q, resp)
		}
	}
	if env.registry.SessionCount() != 0 {
		t.Errorf("SessionCount = %d, want 0", env.registry.SessionCount())
	}
	if got := env.metrics.rejected(); got != 3 {
		t.Errorf("rejections = %d, want 3", got)
	}
}

func TestHandler_Disconnect_Unregisters(t *testing.T) {
	env := newTestEnv(t, HandlerConfig{})
	tok, _ := env.tokens.Issue("42", "alice")

	c1, _, err := websocket.DefaultDialer.Dial(env.wsURL("?token="+tok), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	c2, _, err := websocket.DefaultDialer.Dial(env.wsURL("?token="+tok), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	waitFor(t, func() bool { return len(env.registry.SessionsFor("42")) == 2 })

	c1.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c1.Close()
	waitFor(t, func() bool { return len(env.registry.SessionsFor("42")) == 1 })

	c2.Close()
	waitFor(t, func() bool { return env.registry.UserCount() == 0 })
}

func TestHandler_OnConnect_PushesInitialState(t *testing.T) {
	env := newTestEnvWithHook(t, HandlerConfig{}, func(b *Broadcaster) ConnectHook {
		return func(_ context.Context, p model.Principal) {
			b.SendUnreadCount(p.UserID, 5)
		}
	})
	tok, _ := env.tokens.Issue("42", "alice")

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL("?token="+tok), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	var msg struct {
		Type  string `json:"type"`
		Count int    `json:"count"`
	}
	readJSON(t, conn, &msg)
	if msg.Type != "unreadCount" || msg.Count != 5 {
		t.Errorf("message = %+v", msg)
	}
}

func TestHandler_DisallowedOrigin_Refused(t *testing.T) {
	env := newTestEnv(t, HandlerConfig{AllowedOrigins: []string{"https://app.example.com"}})
	tok, _ := env.tokens.Issue("42", "alice")

	header := http.Header{}
	header.Set("Origin", "https://evil.example.com")
	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL("?token="+tok), header)
	if err == nil {
		t.Fatal("Dial() succeeded from disallowed origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %v, want 403", resp)
	}
	if env.registry.SessionCount() != 0 {
		t.Error("no session should be registered")
	}
}

func TestNewOriginChecker(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		host    string
		want    bool
	}{
		{"Originなし", []string{"https://app.example.com"}, "", "api.example.com", true},
		{"許可リスト一致", []string{"https://app.example.com/"}, "https://app.example.com", "api.example.com", true},
		{"大文字小文字を無視", []string{"https://App.example.com"}, "https://app.EXAMPLE.com", "api.example.com", true},
		{"同一オリジン", nil, "http://api.example.com", "api.example.com", true},
		{"ワイルドカード", []string{"*"}, "https://any.example.org", "api.example.com", true},
		{"不一致", []string{"https://app.example.com"}, "https://evil.example.com", "api.example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "http://"+tt.host+"/notifications", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := NewOriginChecker(tt.allowed)(req); got != tt.want {
				t.Errorf("check = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConnSession_SendAfterClose_ReturnsErrSessionClosed(t *testing.T) {
	var server *connSession
	ready := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade() error = %v", err)
			return
		}
		server = newConnSession(conn, model.Principal{UserID: "42"})
		close(ready)
	}))
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer client.Close()
	<-ready

	payload, _ := json.Marshal(map[string]string{"type": "ping"})
	if err := server.Send(payload); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := server.Close(); err != nil {
		t.Logf("Close() error = %v", err)
	}
	if err := server.Close(); err != nil {
		t.Errorf("second Close() error = %v, want nil", err)
	}
	if err := server.Send(payload); err != ErrSessionClosed {
		t.Errorf("Send() after close error = %v, want ErrSessionClosed", err)
	}
}
