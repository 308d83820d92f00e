package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/tsudoi/internal/model"
)

// --- モック定義 ---

type mockProvider struct {
	name           string
	loginURLFn     func(state string) string
	fetchProfileFn func(ctx context.Context, code string) (model.OAuthProfile, error)
	fetchCalls     int
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) LoginURL(state string) string {
	if m.loginURLFn != nil {
		return m.loginURLFn(state)
	}
	return "https://idp.example.com/authorize?state=" + state
}

func (m *mockProvider) FetchProfile(ctx context.Context, code string) (model.OAuthProfile, error) {
	m.fetchCalls++
	if m.fetchProfileFn != nil {
		return m.fetchProfileFn(ctx, code)
	}
	return model.OAuthProfile{Provider: m.name, ProviderUserID: "p-1", Username: "alice"}, nil
}

type mockUserResolver struct {
	resolveFn func(ctx context.Context, profile model.OAuthProfile) (*model.User, error)
}

func (m *mockUserResolver) ResolveOrCreate(ctx context.Context, profile model.OAuthProfile) (*model.User, error) {
	if m.resolveFn != nil {
		return m.resolveFn(ctx, profile)
	}
	return &model.User{ID: "42", Username: profile.Username}, nil
}

type mockTokenIssuer struct {
	issueFn func(userID, username string) (string, error)
}

func (m *mockTokenIssuer) Issue(userID, username string) (string, error) {
	if m.issueFn != nil {
		return m.issueFn(userID, username)
	}
	return "token-for-" + userID, nil
}

// compile-time interface checks
var (
	_ Provider     = (*mockProvider)(nil)
	_ UserResolver = (*mockUserResolver)(nil)
	_ TokenIssuer  = (*mockTokenIssuer)(nil)
)

func newTestAuthService(p *mockProvider, users UserResolver, tokens TokenIssuer) *Service {
	return NewService(
		[]Provider{p},
		NewStateGuard(),
		NewExchangeCodeStore(time.Minute, nil),
		users,
		tokens,
		nil,
	)
}

func TestService_LoginURL_KnownProvider(t *testing.T) {
	p := &mockProvider{name: ProviderGitHub}
	svc := newTestAuthService(p, &mockUserResolver{}, &mockTokenIssuer{})

	got, err := svc.LoginURL(ProviderGitHub, "st")
	if err != nil {
		t.Fatalf("LoginURL() error = %v", err)
	}
	if got != "https://idp.example.com/authorize?state=st" {
		t.Errorf("LoginURL() = %q", got)
	}
}

func TestService_LoginURL_UnknownProvider(t *testing.T) {
	svc := newTestAuthService(&mockProvider{name: ProviderGitHub}, &mockUserResolver{}, &mockTokenIssuer{})

	if _, err := svc.LoginURL("twitter", "st"); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("LoginURL() error = %v, want ErrUnknownProvider", err)
	}
	if svc.HasProvider(ProviderGoogle) {
		t.Error("HasProvider(google) = true, want false")
	}
}

func TestService_Callback_Success(t *testing.T) {
	p := &mockProvider{name: ProviderGitHub}
	var gotProfile model.OAuthProfile
	users := &mockUserResolver{resolveFn: func(_ context.Context, profile model.OAuthProfile) (*model.User, error) {
		gotProfile = profile
		return &model.User{ID: "42", Username: "alice", Email: "alice@example.com"}, nil
	}}
	svc := newTestAuthService(p, users, &mockTokenIssuer{})

	result, err := svc.Callback(context.Background(), CallbackRequest{
		Provider:     ProviderGitHub,
		Code:         "code",
		RequestState: "state-0123456789",
		CookieState:  "state-0123456789",
	})
	if err != nil {
		t.Fatalf("Callback() error = %v", err)
	}
	if result.Token != "token-for-42" {
		t.Errorf("Token = %q, want %q", result.Token, "token-for-42")
	}
	if result.User.ID != "42" || result.User.Username != "alice" {
		t.Errorf("User = %+v", result.User)
	}
	if gotProfile.ProviderUserID != "p-1" {
		t.Errorf("resolver received profile %+v", gotProfile)
	}
}

func TestService_Callback_StateMismatch_NoProviderCall(t *testing.T) {
	tests := []struct {
		name          string
		request, cook string
	}{
		{"不一致", "state-a", "state-b"},
		{"Cookieなし", "state-a", ""},
		{"クエリなし", "", "state-a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &mockProvider{name: ProviderGitHub}
			svc := newTestAuthService(p, &mockUserResolver{}, &mockTokenIssuer{})

			_, err := svc.Callback(context.Background(), CallbackRequest{
				Provider:     ProviderGitHub,
				Code:         "code",
				RequestState: tt.request,
				CookieState:  tt.cook,
			})
			if !errors.Is(err, ErrStateMismatch) {
				t.Errorf("Callback() error = %v, want ErrStateMismatch", err)
			}
			if p.fetchCalls != 0 {
				t.Errorf("provider called %d times, want 0", p.fetchCalls)
			}
		})
	}
}

func TestService_Callback_MissingCode(t *testing.T) {
	p := &mockProvider{name: ProviderGitHub}
	svc := newTestAuthService(p, &mockUserResolver{}, &mockTokenIssuer{})

	_, err := svc.Callback(context.Background(), CallbackRequest{
		Provider: ProviderGitHub, RequestState: "s", CookieState: "s",
	})
	if !errors.Is(err, ErrMissingCode) {
		t.Errorf("Callback() error = %v, want ErrMissingCode", err)
	}
}

func TestService_Callback_ProviderError(t *testing.T) {
	p := &mockProvider{name: ProviderGoogle, fetchProfileFn: func(context.Context, string) (model.OAuthProfile, error) {
		return model.OAuthProfile{}, errors.New("idp down")
	}}
	svc := newTestAuthService(p, &mockUserResolver{}, &mockTokenIssuer{})

	_, err := svc.Callback(context.Background(), CallbackRequest{
		Provider: ProviderGoogle, Code: "c", RequestState: "s", CookieState: "s",
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestService_Callback_ResolverError_NoToken(t *testing.T) {
	issued := false
	tokens := &mockTokenIssuer{issueFn: func(string, string) (string, error) {
		issued = true
		return "t", nil
	}}
	users := &mockUserResolver{resolveFn: func(context.Context, model.OAuthProfile) (*model.User, error) {
		return nil, errors.New("db error")
	}}
	svc := newTestAuthService(&mockProvider{name: ProviderGitHub}, users, tokens)

	if _, err := svc.Callback(context.Background(), CallbackRequest{
		Provider: ProviderGitHub, Code: "c", RequestState: "s", CookieState: "s",
	}); err == nil {
		t.Fatal("expected error, got nil")
	}
	if issued {
		t.Error("token should not be issued when user resolution fails")
	}
}

func TestService_ExchangeCode_RedeemOnce(t *testing.T) {
	svc := newTestAuthService(&mockProvider{name: ProviderGitHub}, &mockUserResolver{}, &mockTokenIssuer{})

	code, err := svc.IssueExchangeCode(&LoginResult{Token: "t", User: model.UserSummary{ID: "42"}})
	if err != nil {
		t.Fatalf("IssueExchangeCode() error = %v", err)
	}

	got, ok := svc.RedeemExchangeCode(code)
	if !ok {
		t.Fatal("first RedeemExchangeCode() = false, want true")
	}
	if got.Token != "t" {
		t.Errorf("Token = %q, want %q", got.Token, "t")
	}
	if _, ok := svc.RedeemExchangeCode(code); ok {
		t.Error("second RedeemExchangeCode() = true, want false")
	}
}

func TestService_IssueExchangeCode_NilResult(t *testing.T) {
	svc := newTestAuthService(&mockProvider{name: ProviderGitHub}, &mockUserResolver{}, &mockTokenIssuer{})
	if _, err := svc.IssueExchangeCode(nil); err == nil {
		t.Fatal("expected error for nil result, got nil")
	}
}
