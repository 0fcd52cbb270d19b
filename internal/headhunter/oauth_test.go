package headhunter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"go.uber.org/zap"
)

func TestAuthorizeURL(t *testing.T) {
	client := New(zap.NewNop())

	raw := client.AuthorizeURL(Credentials{ClientID: "app", RedirectURI: "https://bot.example/hh/callback"}, "state-1")

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if u.Host != "hh.ru" || u.Path != authorizePath {
		t.Fatalf("unexpected url: %s", raw)
	}
	q := u.Query()
	if q.Get("response_type") != "code" || q.Get("client_id") != "app" || q.Get("state") != "state-1" {
		t.Fatalf("unexpected query: %v", q)
	}
	if q.Get("redirect_uri") != "https://bot.example/hh/callback" {
		t.Fatalf("unexpected redirect uri %q", q.Get("redirect_uri"))
	}
}

func TestRefreshToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != tokenPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("grant_type") != "refresh_token" || r.PostForm.Get("refresh_token") != "old-refresh" {
			t.Errorf("unexpected form: %v", r.PostForm)
		}
		if r.Header.Get("Authorization") != "" {
			t.Errorf("token endpoint must not receive a bearer token")
		}
		_, _ = w.Write([]byte(`{"access_token":"new-access","token_type":"bearer","refresh_token":"new-refresh","expires_in":1209600}`))
	}))
	defer server.Close()

	client := New(zap.NewNop())
	client.OAuthURL = server.URL

	token, err := client.RefreshToken(context.Background(), Credentials{ClientID: "id", ClientSecret: "secret"}, "old-refresh")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token.AccessToken != "new-access" || token.RefreshToken != "new-refresh" || token.ExpiresIn != 1209600 {
		t.Fatalf("unexpected token: %+v", token)
	}
}

func TestExchangeCodeInvalidGrant(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("grant_type") != "authorization_code" || r.PostForm.Get("code") != "c0de" {
			t.Errorf("unexpected form: %v", r.PostForm)
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"code has already been used"}`))
	}))
	defer server.Close()

	client := New(zap.NewNop())
	client.OAuthURL = server.URL

	_, err := client.ExchangeCode(context.Background(), Credentials{ClientID: "id"}, "c0de")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.OAuthError != "invalid_grant" || apiErr.Description != "code has already been used" {
		t.Fatalf("unexpected oauth error: %+v", apiErr)
	}
}
