package oauth

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/hh-autopilot/internal/headhunter"
	"github.com/spigell/hh-autopilot/internal/model"
	"github.com/spigell/hh-autopilot/internal/store/memory"
)

type fakeProvider struct {
	mu       sync.Mutex
	calls    int32
	used     map[string]bool
	release  chan struct{}
	err      error
	response *headhunter.TokenResponse
	codes    map[string]*headhunter.TokenResponse
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{used: make(map[string]bool)}
}

func (p *fakeProvider) AuthorizeURL(creds headhunter.Credentials, state string) string {
	return "https://hh.ru/oauth/authorize?client_id=" + creds.ClientID + "&state=" + url.QueryEscape(state)
}

func (p *fakeProvider) ExchangeCode(_ context.Context, _ headhunter.Credentials, code string) (*headhunter.TokenResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	resp, ok := p.codes[code]
	if !ok {
		return nil, &headhunter.APIError{StatusCode: http.StatusBadRequest, Status: "400 Bad Request", OAuthError: "invalid_grant"}
	}
	return resp, nil
}

func (p *fakeProvider) RefreshToken(ctx context.Context, _ headhunter.Credentials, refreshToken string) (*headhunter.TokenResponse, error) {
	atomic.AddInt32(&p.calls, 1)

	if p.release != nil {
		select {
		case <-p.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return nil, p.err
	}
	// The job board invalidates a refresh token after the first use.
	if p.used[refreshToken] {
		return nil, &headhunter.APIError{StatusCode: http.StatusBadRequest, Status: "400 Bad Request", OAuthError: "invalid_grant"}
	}
	p.used[refreshToken] = true

	return p.response, nil
}

func newTestManager(t *testing.T, provider *fakeProvider, now time.Time) (*Manager, *memory.Store) {
	t.Helper()

	tokens := memory.New()
	m := New(provider, tokens, NewMemoryStates(), Options{
		Credentials:   headhunter.Credentials{ClientID: "app", ClientSecret: "secret"},
		RefreshMargin: 0.1,
		Timeout:       time.Second,
	}, zap.NewNop(), nil)
	m.now = func() time.Time { return now }

	return m, tokens
}

func seedToken(t *testing.T, tokens *memory.Store, obtained time.Time, lifetime time.Duration) {
	t.Helper()

	err := tokens.SaveToken(context.Background(), &model.OAuthToken{
		UserID:       "u1",
		AccessToken:  "old-access",
		RefreshToken: "old-refresh",
		TokenType:    "bearer",
		ObtainedAt:   obtained,
		ExpiresAt:    obtained.Add(lifetime),
	})
	if err != nil {
		t.Fatalf("seed token: %v", err)
	}
}

func TestNeedsRefresh(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	token := &model.OAuthToken{ObtainedAt: start, ExpiresAt: start.Add(100 * time.Minute)}

	tests := []struct {
		name   string
		now    time.Time
		expect bool
	}{
		{name: "fresh", now: start.Add(time.Minute), expect: false},
		{name: "exactly at margin", now: start.Add(90 * time.Minute), expect: false},
		{name: "nine percent left", now: start.Add(91 * time.Minute), expect: true},
		{name: "at expiry", now: start.Add(100 * time.Minute), expect: true},
		{name: "past expiry", now: start.Add(200 * time.Minute), expect: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := NeedsRefresh(token, tt.now, 0.1); got != tt.expect {
				t.Fatalf("expected %v, got %v", tt.expect, got)
			}
		})
	}
}

func TestAcquireValidTokenReturnsCachedToken(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	provider := newFakeProvider()
	m, tokens := newTestManager(t, provider, start.Add(10*time.Minute))
	seedToken(t, tokens, start, 100*time.Minute)

	access, err := m.AcquireValidToken(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if access != "old-access" {
		t.Fatalf("expected cached token, got %q", access)
	}
	if provider.calls != 0 {
		t.Fatalf("expected no refresh, got %d calls", provider.calls)
	}
}

func TestRefreshAtNinePercentReplacesBothTokens(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(91 * time.Minute)

	provider := newFakeProvider()
	provider.response = &headhunter.TokenResponse{
		AccessToken:  "new-access",
		RefreshToken: "new-refresh",
		TokenType:    "bearer",
		ExpiresIn:    3600,
	}
	m, tokens := newTestManager(t, provider, now)
	seedToken(t, tokens, start, 100*time.Minute)

	access, err := m.AcquireValidToken(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if access != "new-access" {
		t.Fatalf("expected refreshed access token, got %q", access)
	}

	stored, err := tokens.GetToken(context.Background(), "u1")
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	if stored.AccessToken != "new-access" || stored.RefreshToken != "new-refresh" {
		t.Fatalf("expected both values replaced, got %+v", stored)
	}
	if !stored.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %s", stored.ExpiresAt)
	}
}

func TestConcurrentCallersShareOneRefresh(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	provider := newFakeProvider()
	provider.release = make(chan struct{})
	provider.response = &headhunter.TokenResponse{AccessToken: "new-access", RefreshToken: "new-refresh", ExpiresIn: 3600}
	m, tokens := newTestManager(t, provider, start.Add(2*time.Hour))
	seedToken(t, tokens, start, time.Hour)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.AcquireValidToken(context.Background(), "u1")
		}(i)
	}

	// Give the callers time to attach to the flight before it completes.
	time.Sleep(50 * time.Millisecond)
	close(provider.release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: unexpected error: %v", i, errs[i])
		}
		if results[i] != "new-access" {
			t.Fatalf("caller %d: unexpected token %q", i, results[i])
		}
	}

	if calls := atomic.LoadInt32(&provider.calls); calls != 1 {
		t.Fatalf("expected exactly one refresh exchange, got %d", calls)
	}
}

func TestRejectedRefreshRequiresReauth(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	provider := newFakeProvider()
	provider.err = &headhunter.APIError{StatusCode: http.StatusBadRequest, Status: "400 Bad Request", OAuthError: "invalid_grant"}
	m, tokens := newTestManager(t, provider, start.Add(2*time.Hour))
	seedToken(t, tokens, start, time.Hour)

	_, err := m.AcquireValidToken(context.Background(), "u1")
	if !errors.Is(err, ErrReauthRequired) {
		t.Fatalf("expected ErrReauthRequired, got %v", err)
	}
}

func TestNetworkFailureIsTransient(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	provider := newFakeProvider()
	provider.err = errors.New("dial tcp: connection refused")
	m, tokens := newTestManager(t, provider, start.Add(2*time.Hour))
	seedToken(t, tokens, start, time.Hour)

	_, err := m.AcquireValidToken(context.Background(), "u1")

	var transient *TransientAuthError
	if !errors.As(err, &transient) {
		t.Fatalf("expected TransientAuthError, got %v", err)
	}
	if errors.Is(err, ErrReauthRequired) {
		t.Fatalf("network failure must not require re-authentication")
	}

	stored, _ := tokens.GetToken(context.Background(), "u1")
	if stored.RefreshToken != "old-refresh" {
		t.Fatalf("failed refresh must keep the stored pair, got %+v", stored)
	}
}

func TestEarlyRefreshDeclinedKeepsValidToken(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	provider := newFakeProvider()
	provider.err = &headhunter.APIError{
		StatusCode:  http.StatusBadRequest,
		Status:      "400 Bad Request",
		OAuthError:  "invalid_grant",
		Description: "token not expired",
	}
	m, tokens := newTestManager(t, provider, start.Add(95*time.Minute))
	seedToken(t, tokens, start, 100*time.Minute)

	access, err := m.AcquireValidToken(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if access != "old-access" {
		t.Fatalf("expected the still valid token, got %q", access)
	}
}

func TestMissingTokenRequiresReauth(t *testing.T) {
	m, _ := newTestManager(t, newFakeProvider(), time.Now())

	_, err := m.AcquireValidToken(context.Background(), "nobody")
	if !errors.Is(err, ErrReauthRequired) {
		t.Fatalf("expected ErrReauthRequired, got %v", err)
	}
}

func TestHandshake(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	provider := newFakeProvider()
	provider.codes = map[string]*headhunter.TokenResponse{
		"good-code": {AccessToken: "a1", RefreshToken: "r1"},
	}
	m, tokens := newTestManager(t, provider, now)

	authURL, err := m.AuthorizeURL(context.Background(), "u1")
	if err != nil {
		t.Fatalf("authorize url: %v", err)
	}
	parsed, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	state := parsed.Query().Get("state")
	if state == "" {
		t.Fatalf("expected state in %s", authURL)
	}

	token, err := m.CompleteHandshake(context.Background(), state, "good-code")
	if err != nil {
		t.Fatalf("complete handshake: %v", err)
	}
	if token.UserID != "u1" {
		t.Fatalf("expected token for u1, got %q", token.UserID)
	}
	if !token.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("expected default lifetime of one hour, got %s", token.ExpiresAt.Sub(now))
	}

	stored, err := tokens.GetToken(context.Background(), "u1")
	if err != nil || stored.AccessToken != "a1" {
		t.Fatalf("expected stored token, got %+v, %v", stored, err)
	}

	if _, err := m.CompleteHandshake(context.Background(), state, "good-code"); !errors.Is(err, ErrUnknownState) {
		t.Fatalf("expected replayed state to be rejected, got %v", err)
	}
}
