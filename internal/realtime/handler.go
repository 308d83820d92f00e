package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hitoshi/tsudoi/internal/model"
)

// onConnectTimeout は接続直後フックに与える時間。
const onConnectTimeout = 5 * time.Second

// ConnectHook は登録直後に呼ばれる。未読件数の初期配信に使う。
type ConnectHook func(ctx context.Context, principal model.Principal)

// HandlerConfig はHandlerの設定。
type HandlerConfig struct {
	// AllowedOrigins はOriginヘッダーの許可リスト。"*"を含むと全て許可する。
	AllowedOrigins []string
	// OnConnect は任意。
	OnConnect ConnectHook
}

// Handler はWebSocket接続の受け付けからセッション登録・解除までを行う。
type Handler struct {
	gate      *Gate
	registry  *Registry
	upgrader  websocket.Upgrader
	onConnect ConnectHook
	logger    *slog.Logger
	metrics   MetricsRecorder
}

// NewHandler はHandlerを生成する。
func NewHandler(gate *Gate, registry *Registry, cfg HandlerConfig, logger *slog.Logger, metrics MetricsRecorder) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		gate:     gate,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     NewOriginChecker(cfg.AllowedOrigins),
		},
		onConnect: cfg.OnConnect,
		logger:    logger,
		metrics:   orNoop(metrics),
	}
}

// ServeHTTP は認証後にHTTP接続をWebSocketへアップグレードし、切断まで保持する。
// 認証に失敗した場合はアップグレードせず、理由を含まない401を返す。
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 1. ハンドシェイク認証
	principal, err := h.gate.Authenticate(r)
	if err != nil {
		h.metrics.HandshakeRejected()
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	// 2. アップグレード（失敗時はupgraderがエラーレスポンスを書く）
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			slog.String("user_id", principal.UserID),
			slog.String("error", err.Error()),
		)
		return
	}

	// 3. 登録
	s := newConnSession(conn, principal)
	if err := h.registry.Register(principal.UserID, s); err != nil {
		h.logger.Error("failed to register session",
			slog.String("user_id", principal.UserID),
			slog.String("error", err.Error()),
		)
		s.Close()
		return
	}
	h.metrics.ConnectionOpened()

	defer func() {
		h.registry.Unregister(s)
		s.Close()
		h.metrics.ConnectionClosed()
	}()

	// 4. 接続直後フック
	if h.onConnect != nil {
		ctx, cancel := context.WithTimeout(r.Context(), onConnectTimeout)
		h.onConnect(ctx, principal)
		cancel()
	}

	// 5. 切断まで読み込みを続ける
	go s.pingLoop()
	if err := s.readLoop(); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			h.logger.Info("websocket closed unexpectedly",
				slog.String("user_id", principal.UserID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// NewOriginChecker はOriginヘッダーの検証関数を返す。
// Originなし（ブラウザ以外）と同一オリジンは常に許可する。
func NewOriginChecker(allowed []string) func(r *http.Request) bool {
	permissive := false
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			permissive = true
		}
		set[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || permissive {
			return true
		}
		if _, ok := set[strings.ToLower(origin)]; ok {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}
