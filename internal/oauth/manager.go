// Package oauth keeps per-user hh.ru credentials valid.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/spigell/hh-autopilot/internal/headhunter"
	"github.com/spigell/hh-autopilot/internal/logger"
	"github.com/spigell/hh-autopilot/internal/metrics"
	"github.com/spigell/hh-autopilot/internal/model"
	"github.com/spigell/hh-autopilot/internal/store"
)

const (
	defaultMargin   = 0.1
	defaultTimeout  = 10 * time.Second
	defaultLifetime = time.Hour
	defaultStateTTL = 10 * time.Minute

	// hh.ru refuses to refresh a token that has not expired yet.
	tokenNotExpired = "token not expired"
)

// TokenStore persists the single live token of every user.
type TokenStore interface {
	GetToken(ctx context.Context, userID string) (*model.OAuthToken, error)
	SaveToken(ctx context.Context, token *model.OAuthToken) error
	// ReplaceToken swaps old for next only if old's refresh token is still stored. Otherwise store.ErrConflict.
	ReplaceToken(ctx context.Context, old, next *model.OAuthToken) error
	DeleteToken(ctx context.Context, userID string) error
}

// Provider is the OAuth side of the job board.
type Provider interface {
	AuthorizeURL(creds headhunter.Credentials, state string) string
	ExchangeCode(ctx context.Context, creds headhunter.Credentials, code string) (*headhunter.TokenResponse, error)
	RefreshToken(ctx context.Context, creds headhunter.Credentials, refreshToken string) (*headhunter.TokenResponse, error)
}

type Options struct {
	Credentials headhunter.Credentials
	// RefreshMargin is the fraction of the total lifetime below which a token is refreshed.
	RefreshMargin float64
	// Timeout bounds a single exchange with the token endpoint.
	Timeout time.Duration
	// DefaultLifetime is used when the token endpoint omits expires_in.
	DefaultLifetime time.Duration
	StateTTL        time.Duration
}

type Manager struct {
	provider Provider
	tokens   TokenStore
	states   StateStore
	opts     Options
	logger   *zap.Logger
	metrics  *metrics.Metrics

	flights singleflight.Group
	now     func() time.Time
}

func New(provider Provider, tokens TokenStore, states StateStore, opts Options, log *zap.Logger, m *metrics.Metrics) *Manager {
	if opts.RefreshMargin <= 0 || opts.RefreshMargin >= 1 {
		opts.RefreshMargin = defaultMargin
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.DefaultLifetime <= 0 {
		opts.DefaultLifetime = defaultLifetime
	}
	if opts.StateTTL <= 0 {
		opts.StateTTL = defaultStateTTL
	}

	return &Manager{
		provider: provider,
		tokens:   tokens,
		states:   states,
		opts:     opts,
		logger:   logger.WithFields(log),
		metrics:  m,
		now:      time.Now,
	}
}

// NeedsRefresh reports whether less than margin of the token lifetime is left. Expired tokens always need it.
func NeedsRefresh(t *model.OAuthToken, now time.Time, margin float64) bool {
	if t.Expired(now) {
		return true
	}

	lifetime := t.Lifetime()
	if lifetime <= 0 {
		return true
	}

	return float64(t.Remaining(now)) < margin*float64(lifetime)
}

// AcquireValidToken returns an access token that is usable now.
// It fails with ErrReauthRequired or *TransientAuthError; storage errors are returned as is.
func (m *Manager) AcquireValidToken(ctx context.Context, userID string) (string, error) {
	token, err := m.tokens.GetToken(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("%w: no token stored", ErrReauthRequired)
	}
	if err != nil {
		return "", fmt.Errorf("load token: %w", err)
	}

	if !NeedsRefresh(token, m.now(), m.opts.RefreshMargin) {
		return token.AccessToken, nil
	}

	// Concurrent callers for the same user share one exchange. The exchange runs on its own
	// context so that one caller going away does not fail the others.
	ch := m.flights.DoChan(userID, func() (any, error) {
		return m.refresh(userID)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(*model.OAuthToken).AccessToken, nil
	}
}

func (m *Manager) refresh(userID string) (*model.OAuthToken, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.Timeout)
	defer cancel()

	log := m.logger.With(zap.String(logger.FieldUser, userID))

	// Another flight or process may have refreshed meanwhile; its refresh token is the only valid one now.
	current, err := m.tokens.GetToken(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: no token stored", ErrReauthRequired)
	}
	if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}

	now := m.now()
	if !NeedsRefresh(current, now, m.opts.RefreshMargin) {
		return current, nil
	}

	if strings.TrimSpace(current.RefreshToken) == "" {
		m.metrics.TokenRefreshed("reauth")
		return nil, fmt.Errorf("%w: no refresh token", ErrReauthRequired)
	}

	resp, err := m.provider.RefreshToken(ctx, m.opts.Credentials, current.RefreshToken)
	if err != nil {
		var apiErr *headhunter.APIError
		if errors.As(err, &apiErr) && apiErr.Description == tokenNotExpired && !current.Expired(now) {
			log.Debug("job board declined early refresh, keeping current token",
				zap.Duration("remaining", current.Remaining(now)),
			)
			m.metrics.TokenRefreshed("not_expired")
			return current, nil
		}

		classified := classify(userID, err)
		if errors.Is(classified, ErrReauthRequired) {
			m.metrics.TokenRefreshed("reauth")
			log.Warn("refresh token rejected", zap.Error(err))
		} else {
			m.metrics.TokenRefreshed("transient")
			log.Warn("token refresh failed", zap.Error(err))
		}
		return nil, classified
	}

	next := m.tokenFromResponse(userID, resp, now)
	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}

	if err := m.tokens.ReplaceToken(ctx, current, next); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Lost the race against another process; use what it stored.
			stored, getErr := m.tokens.GetToken(ctx, userID)
			if getErr != nil {
				return nil, fmt.Errorf("reload token after conflict: %w", getErr)
			}
			return stored, nil
		}
		return nil, fmt.Errorf("store refreshed token: %w", err)
	}

	m.metrics.TokenRefreshed("ok")
	log.Info("token refreshed", zap.Time("expires_at", next.ExpiresAt))

	return next, nil
}

// AuthorizeURL issues a handshake state for the user and returns the page to open.
func (m *Manager) AuthorizeURL(ctx context.Context, userID string) (string, error) {
	state := uuid.NewString()
	if err := m.states.Put(ctx, state, userID, m.opts.StateTTL); err != nil {
		return "", fmt.Errorf("store oauth state: %w", err)
	}

	return m.provider.AuthorizeURL(m.opts.Credentials, state), nil
}

// CompleteHandshake consumes state, exchanges code and stores the resulting token pair.
func (m *Manager) CompleteHandshake(ctx context.Context, state, code string) (*model.OAuthToken, error) {
	userID, err := m.states.Take(ctx, state)
	if err != nil {
		return nil, err
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	resp, err := m.provider.ExchangeCode(exchangeCtx, m.opts.Credentials, code)
	if err != nil {
		return nil, classify(userID, err)
	}

	token := m.tokenFromResponse(userID, resp, m.now())
	if err := m.tokens.SaveToken(ctx, token); err != nil {
		return nil, fmt.Errorf("store token: %w", err)
	}

	m.logger.Info("user authorized",
		zap.String(logger.FieldUser, userID),
		zap.Time("expires_at", token.ExpiresAt),
	)

	return token, nil
}

// Forget drops the stored token of a user.
func (m *Manager) Forget(ctx context.Context, userID string) error {
	err := m.tokens.DeleteToken(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

func (m *Manager) tokenFromResponse(userID string, resp *headhunter.TokenResponse, now time.Time) *model.OAuthToken {
	lifetime := time.Duration(resp.ExpiresIn) * time.Second
	if lifetime <= 0 {
		lifetime = m.opts.DefaultLifetime
	}

	tokenType := resp.TokenType
	if tokenType == "" {
		tokenType = "bearer"
	}

	return &model.OAuthToken{
		UserID:       userID,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    tokenType,
		ObtainedAt:   now,
		ExpiresAt:    now.Add(lifetime),
	}
}

// classify maps token endpoint failures: rejected grants need the user, everything else may pass later.
func classify(userID string, err error) error {
	var apiErr *headhunter.APIError
	if errors.As(err, &apiErr) && !apiErr.Temporary() {
		switch apiErr.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrReauthRequired, err)
		}
	}

	return &TransientAuthError{UserID: userID, Err: err}
}
