// Package realtime はトークン認証付きのWebSocketプッシュ配信を提供する。
package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hitoshi/tsudoi/internal/model"
)

// WebSocket接続の定数
const (
	// writeWait は1メッセージの書き込みにかけられる最大時間。
	writeWait = 10 * time.Second
	// pongWait はクライアントからの応答を待つ最大時間。
	pongWait = 60 * time.Second
	// pingPeriod はサーバーからpingを送る間隔。pongWaitより短くする。
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize はクライアントから受け付けるメッセージの最大サイズ。
	maxMessageSize = 1024
)

// ErrSessionClosed は閉じたセッションへの送信であることを表す。
var ErrSessionClosed = errors.New("session closed")

// Session はユーザー1人に紐づく1本のプッシュ接続。
type Session interface {
	ID() string
	UserID() string
	// Send はメッセージを1件書き込む。閉じた後はErrSessionClosedを返す。
	Send(data []byte) error
	// Close は接続を閉じる。複数回呼んでもよい。
	Close() error
}

// connSession はgorilla/websocketの接続をSessionとして扱う。
// gorilla/websocketは同時書き込みを許さないため、書き込みはmuで直列化する。
type connSession struct {
	id        string
	principal model.Principal
	conn      *websocket.Conn

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newConnSession(conn *websocket.Conn, principal model.Principal) *connSession {
	return &connSession{
		id:        uuid.New().String(),
		principal: principal,
		conn:      conn,
		done:      make(chan struct{}),
	}
}

func (s *connSession) ID() string {
	return s.id
}

func (s *connSession) UserID() string {
	return s.principal.UserID
}

func (s *connSession) Send(data []byte) error {
	return s.write(websocket.TextMessage, data)
}

func (s *connSession) write(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(messageType, data)
}

func (s *connSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	// close frameは届かなくてもよい
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	s.mu.Unlock()

	return s.conn.Close()
}

// readLoop はクライアントからの切断を検知するまでブロックする。
// 受信したメッセージの内容は使わず、読み込み期限の延長だけに使う。
func (s *connSession) readLoop() error {
	s.conn.SetReadLimit(maxMessageSize)
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return err
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return err
		}
		if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			return err
		}
	}
}

// pingLoop はセッションが閉じるまで定期的にpingを送る。
func (s *connSession) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
