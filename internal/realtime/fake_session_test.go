package realtime

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var fakeSessionSeq atomic.Int64

// fakeSession は送信内容を記録するテスト用Session。
type fakeSession struct {
	id     string
	userID string

	mu      sync.Mutex
	sent    [][]byte
	sendErr error
	closed  bool
}

func newFakeSession(userID string) *fakeSession {
	return &fakeSession{
		id:     fmt.Sprintf("fake-%d", fakeSessionSeq.Add(1)),
		userID: userID,
	}
}

func (f *fakeSession) ID() string     { return f.id }
func (f *fakeSession) UserID() string { return f.userID }

func (f *fakeSession) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrSessionClosed
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSession) messages() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

func (f *fakeSession) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

var errBrokenPipe = errors.New("broken pipe")

// compile-time interface check
var _ Session = (*fakeSession)(nil)
