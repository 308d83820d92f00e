package realtime

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrAlreadyRegistered はセッションが別ユーザーで登録済みであることを表す。
var ErrAlreadyRegistered = errors.New("session already registered to another user")

// Registry はユーザーIDごとの接続中セッション集合を保持する。
// すべての操作はRWMutexの下でO(1)、SessionsForのみ1ユーザー分のコピーでO(k)。
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[Session]struct{}
	owner  map[Session]string
	logger *slog.Logger
}

// NewRegistry はRegistryを生成する。
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byUser: make(map[string]map[Session]struct{}),
		owner:  make(map[Session]string),
		logger: logger,
	}
}

// Register はセッションをuserIDの集合に追加する。
// 同じユーザーへの再登録は何もしない。別ユーザーで登録済みならエラーを返す。
func (r *Registry) Register(userID string, s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.owner[s]; ok {
		if owner != userID {
			return ErrAlreadyRegistered
		}
		return nil
	}

	set, ok := r.byUser[userID]
	if !ok {
		set = make(map[Session]struct{})
		r.byUser[userID] = set
	}
	set[s] = struct{}{}
	r.owner[s] = userID

	r.logger.Info("session registered",
		slog.String("user_id", userID),
		slog.String("session_id", s.ID()),
		slog.Int("user_sessions", len(set)),
	)
	return nil
}

// Unregister はセッションを登録時のユーザーの集合から取り除く。
// 集合が空になったらユーザーのエントリも削除する。
// 未登録のセッションに対してはfalseを返すだけで、何度呼んでもよい。
func (r *Registry) Unregister(s Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.owner[s]
	if !ok {
		return false
	}
	delete(r.owner, s)

	if set, ok := r.byUser[userID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(r.byUser, userID)
		}
	}

	r.logger.Info("session unregistered",
		slog.String("user_id", userID),
		slog.String("session_id", s.ID()),
	)
	return true
}

// SessionsFor はuserIDの接続中セッションのスナップショットを返す。
// 返したスライスは以後の登録・解除の影響を受けない。
func (r *Registry) SessionsFor(userID string) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byUser[userID]
	if len(set) == 0 {
		return nil
	}
	out := make([]Session, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}

// IsOnline はuserIDに接続中のセッションがあるかどうかを返す。
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byUser[userID]
	return ok
}

// UserCount は接続中のユーザー数を返す。
func (r *Registry) UserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// SessionCount は接続中のセッション総数を返す。
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owner)
}

// CloseAll はすべてのセッションを登録解除して閉じる。シャットダウン時に使う。
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	sessions := make([]Session, 0, len(r.owner))
	for s := range r.owner {
		sessions = append(sessions, s)
	}
	r.byUser = make(map[string]map[Session]struct{})
	r.owner = make(map[Session]string)
	r.mu.Unlock()

	for _, s := range sessions {
		if err := s.Close(); err != nil {
			r.logger.Warn("failed to close session",
				slog.String("session_id", s.ID()),
				slog.String("error", err.Error()),
			)
		}
	}
	return len(sessions)
}
