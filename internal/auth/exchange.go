package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultExchangeCodeTTL は交換コードの既定の有効期間。
const DefaultExchangeCodeTTL = 60 * time.Second

// exchangeCodeBytes は交換コードの乱数長（256bit）。
const exchangeCodeBytes = 32

type exchangeEntry struct {
	payload   LoginResult
	expiresAt time.Time
}

// ExchangeCodeStore はログイン結果を受け渡すための使い捨てコードを保持する。
// Consumeは取得と削除を1回のロックで行うため、同じコードで成功するのは1回だけ。
type ExchangeCodeStore struct {
	mu      sync.Mutex
	entries map[string]exchangeEntry
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// NewExchangeCodeStore はExchangeCodeStoreを生成する。
// ttlが0以下の場合はDefaultExchangeCodeTTLを使う。
func NewExchangeCodeStore(ttl time.Duration, logger *slog.Logger) *ExchangeCodeStore {
	if ttl <= 0 {
		ttl = DefaultExchangeCodeTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExchangeCodeStore{
		entries: make(map[string]exchangeEntry),
		ttl:     ttl,
		now:     time.Now,
		logger:  logger,
	}
}

// Issue はpayloadを保存し、推測不能なコードを返す。
func (s *ExchangeCodeStore) Issue(payload LoginResult) (string, error) {
	b := make([]byte, exchangeCodeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate exchange code: %w", err)
	}
	code := base64.RawURLEncoding.EncodeToString(b)

	s.mu.Lock()
	s.entries[code] = exchangeEntry{payload: payload, expiresAt: s.now().Add(s.ttl)}
	s.mu.Unlock()

	return code, nil
}

// Consume はコードに対応するpayloadを取り出し、エントリを削除する。
// 未発行・消費済み・期限切れはいずれもfalseを返し、区別しない。
func (s *ExchangeCodeStore) Consume(code string) (LoginResult, bool) {
	if code == "" {
		return LoginResult{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[code]
	if !ok {
		return LoginResult{}, false
	}
	delete(s.entries, code)

	if !s.now().Before(e.expiresAt) {
		return LoginResult{}, false
	}
	return e.payload, true
}

// Sweep は期限切れのエントリを削除し、削除件数を返す。
func (s *ExchangeCodeStore) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for code, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, code)
			removed++
		}
	}
	return removed
}

// Run はctxがキャンセルされるまでinterval毎にSweepを実行する。
func (s *ExchangeCodeStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Debug("期限切れの交換コードを削除しました",
					slog.Int("removed", n),
				)
			}
		}
	}
}

// Len は保持中のエントリ数を返す。期限切れで未回収のものも含む。
func (s *ExchangeCodeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
