package auth

import (
	"errors"
	"strings"
	"testing"
)

func TestStateGuard_Issue_ReturnsUniqueHex(t *testing.T) {
	g := NewStateGuard()

	s1, err := g.Issue()
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	s2, err := g.Issue()
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if len(s1) != stateBytes*2 {
		t.Errorf("len(state) = %d, want %d", len(s1), stateBytes*2)
	}
	if s1 == s2 {
		t.Error("expected two issued states to differ")
	}
}

func TestStateGuard_Validate(t *testing.T) {
	g := NewStateGuard()

	tests := []struct {
		name         string
		requestState string
		cookieState  string
		want         StateResult
	}{
		{"一致", "s1-abcdefghijklmnop", "s1-abcdefghijklmnop", StateValidated},
		{"リクエスト側が空", "", "s1-abcdefghijklmnop", StateRejected},
		{"Cookie側が空", "s1-abcdefghijklmnop", "", StateRejected},
		{"両方空", "", "", StateRejected},
		{"1文字違い", "s1-abcdefghijklmnop", "s1-abcdefghijklmnoq", StateRejected},
		{"長さ違い", "s1-abcdefghijklmnop", "s1-abcdefghijklmno", StateRejected},
		{"大文字小文字違い", "S1-abcdefghijklmnop", "s1-abcdefghijklmnop", StateRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := g.Validate(tt.requestState, tt.cookieState); got != tt.want {
				t.Errorf("Validate(%q, %q) = %v, want %v", tt.requestState, tt.cookieState, got, tt.want)
			}
		})
	}
}

// Cookie削除後に同じコールバックを再送しても拒否されること
func TestStateGuard_ReplayAfterCookieCleared_Rejected(t *testing.T) {
	g := NewStateGuard()

	s1, err := g.Issue()
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if got := g.Validate(s1, s1); got != StateValidated {
		t.Fatalf("first Validate() = %v, want validated", got)
	}
	// 呼び出し側がCookieを削除した後の再送
	if got := g.Validate(s1, ""); got != StateRejected {
		t.Errorf("replayed Validate() = %v, want rejected", got)
	}
}

func TestStateGuard_Prepare(t *testing.T) {
	g := NewStateGuard()

	t.Run("未指定なら新規生成", func(t *testing.T) {
		s, err := g.Prepare("")
		if err != nil {
			t.Fatalf("Prepare() error = %v", err)
		}
		if len(s) != stateBytes*2 {
			t.Errorf("len(state) = %d, want %d", len(s), stateBytes*2)
		}
	})

	t.Run("クライアント指定値をそのまま使う", func(t *testing.T) {
		want := "client-chosen_state.0123~"
		s, err := g.Prepare(want)
		if err != nil {
			t.Fatalf("Prepare() error = %v", err)
		}
		if s != want {
			t.Errorf("Prepare() = %q, want %q", s, want)
		}
		if g.Validate(want, s) != StateValidated {
			t.Error("preselected state should validate against itself")
		}
	})

	invalid := []string{
		"short",
		strings.Repeat("a", maxPreselectedStateLen+1),
		"contains space 0123456",
		"semicolon;0123456789abc",
		"日本語のstateは使えない12345",
	}
	for _, in := range invalid {
		t.Run("不正な値: "+in, func(t *testing.T) {
			if _, err := g.Prepare(in); !errors.Is(err, ErrInvalidState) {
				t.Errorf("Prepare(%q) error = %v, want ErrInvalidState", in, err)
			}
		})
	}
}
