package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
)

// stateBytes はサーバー生成stateの乱数長（256bit）。
const stateBytes = 32

// クライアント指定stateの長さ制限
const (
	minPreselectedStateLen = 16
	maxPreselectedStateLen = 256
)

// ErrInvalidState はクライアント指定のstateが形式要件を満たさないことを表す。
var ErrInvalidState = errors.New("invalid preselected state")

// StateResult はstate検証の結果。どちらも終端状態であり再検証はしない。
type StateResult int

const (
	StateRejected StateResult = iota
	StateValidated
)

func (r StateResult) String() string {
	if r == StateValidated {
		return "validated"
	}
	return "rejected"
}

// StateGuard はOAuthのstateパラメータによるCSRF対策を提供する。
// Cookieへの保存と削除は呼び出し側（HTTPハンドラ）の責務。
type StateGuard struct{}

// NewStateGuard はStateGuardを生成する。
func NewStateGuard() *StateGuard {
	return &StateGuard{}
}

// Issue は推測不能なstateを生成する。
func (g *StateGuard) Issue() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Prepare はクライアント指定のstateがあればそれを、なければ新規生成したstateを返す。
// クライアント指定の値もコールバック時には同じ検証を受ける。
func (g *StateGuard) Prepare(preselected string) (string, error) {
	if preselected == "" {
		return g.Issue()
	}
	if !isWellFormedState(preselected) {
		return "", ErrInvalidState
	}
	return preselected, nil
}

// Validate はリクエストのstateとCookieのstateを定数時間で比較する。
// どちらかが空、または1文字でも異なればStateRejectedを返す。
func (g *StateGuard) Validate(requestState, cookieState string) StateResult {
	if requestState == "" || cookieState == "" {
		return StateRejected
	}
	if subtle.ConstantTimeCompare([]byte(requestState), []byte(cookieState)) != 1 {
		return StateRejected
	}
	return StateValidated
}

// isWellFormedState はURLとCookieにそのまま載せられる文字だけで構成されているかを返す。
func isWellFormedState(s string) bool {
	if len(s) < minPreselectedStateLen || len(s) > maxPreselectedStateLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.', c == '~':
		default:
			return false
		}
	}
	return true
}
