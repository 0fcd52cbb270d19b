package headhunter

import (
	"context"
	"fmt"
	"net/url"
)

const (
	authorizePath = "/oauth/authorize"
	tokenPath     = "/oauth/token"
)

// Credentials identify the registered hh.ru application.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// TokenResponse is the answer of the OAuth token endpoint.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// AuthorizeURL returns the page a user opens to grant access. state is echoed back to the callback.
func (c *Client) AuthorizeURL(creds Credentials, state string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", creds.ClientID)
	q.Set("state", state)
	if creds.RedirectURI != "" {
		q.Set("redirect_uri", creds.RedirectURI)
	}

	return fmt.Sprintf("%s%s?%s", c.OAuthURL, authorizePath, q.Encode())
}

// ExchangeCode trades an authorization code for a token pair.
func (c *Client) ExchangeCode(ctx context.Context, creds Credentials, code string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", creds.ClientID)
	form.Set("client_secret", creds.ClientSecret)
	form.Set("code", code)
	if creds.RedirectURI != "" {
		form.Set("redirect_uri", creds.RedirectURI)
	}

	return c.token(ctx, form)
}

// RefreshToken trades a refresh token for a new pair. hh.ru invalidates the old refresh token on success.
func (c *Client) RefreshToken(ctx context.Context, creds Credentials, refreshToken string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", creds.ClientID)
	form.Set("client_secret", creds.ClientSecret)
	form.Set("refresh_token", refreshToken)

	return c.token(ctx, form)
}

func (c *Client) token(ctx context.Context, form url.Values) (*TokenResponse, error) {
	var response TokenResponse
	if err := c.postURLEncoded(ctx, fmt.Sprintf("%s%s", c.OAuthURL, tokenPath), form, &response); err != nil {
		return nil, err
	}

	if response.AccessToken == "" {
		return nil, fmt.Errorf("token endpoint returned empty access token")
	}

	return &response, nil
}
