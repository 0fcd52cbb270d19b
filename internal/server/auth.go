package server

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultLinkTTL = 24 * time.Hour
	linkIssuer     = "hh-autopilot"
	linkAudience   = "hh-authorize"
	linkParam      = "link"
	linkUserKey    = "link_user"
)

var (
	// ErrInvalidLink is returned for authorization links that are forged, expired or malformed.
	ErrInvalidLink = errors.New("invalid authorization link")
	// ErrNoToken means the operator token is not configured.
	ErrNoToken = errors.New("server token is not configured")
)

// Links signs per-user authorization links with the operator token,
// so a user can start the hh.ru handshake for their own id only.
type Links struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewLinks(secret string, ttl time.Duration) (*Links, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrNoToken
	}
	if ttl <= 0 {
		ttl = defaultLinkTTL
	}

	return &Links{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Sign returns a link token bound to userID.
func (l *Links) Sign(userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("user is required")
	}

	now := l.now()
	claims := jwt.RegisteredClaims{
		Issuer:    linkIssuer,
		Subject:   userID,
		Audience:  jwt.ClaimStrings{linkAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(l.ttl)),
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(l.secret)
}

// Verify returns the user a link token was issued for.
func (l *Links) Verify(raw string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (any, error) { return l.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(linkIssuer),
		jwt.WithAudience(linkAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(l.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidLink, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", fmt.Errorf("%w: no subject", ErrInvalidLink)
	}

	return claims.Subject, nil
}

// URL builds the public authorize link for userID under base, e.g. https://bot.example.com.
func (l *Links) URL(base, userID string) (string, error) {
	if strings.TrimSpace(base) == "" {
		return "", errors.New("server.public-url is required for authorization links")
	}

	token, err := l.Sign(userID)
	if err != nil {
		return "", err
	}

	return strings.TrimRight(base, "/") + "/hh/authorize?" + url.Values{linkParam: {token}}.Encode(), nil
}

// AuthorizeLink is what the auth-url command prints for users who open it in a browser.
func AuthorizeLink(opts Options, userID string) (string, error) {
	links, err := NewLinks(opts.Token, opts.LinkTTL)
	if err != nil {
		return "", err
	}
	return links.URL(opts.PublicURL, userID)
}

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

func bearer(c *gin.Context) string {
	parts := strings.Fields(c.GetHeader("Authorization"))
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

func (s *Server) validOperator(c *gin.Context) bool {
	token := bearer(c)
	return token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.Token)) == 1
}

// requireOperator guards operator endpoints with the bearer token.
func (s *Server) requireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.links == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": ErrNoToken.Error()})
			return
		}
		if !s.validOperator(c) {
			abortUnauthorized(c)
			return
		}
		c.Next()
	}
}

// requireLinkOrOperator lets a signed link through for its own user, or the operator for any user.
func (s *Server) requireLinkOrOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.links == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": ErrNoToken.Error()})
			return
		}

		if raw := c.Query(linkParam); raw != "" {
			userID, err := s.links.Verify(raw)
			if err != nil {
				loggerFrom(c).Warn("rejected authorization link")
				abortUnauthorized(c)
				return
			}
			c.Set(linkUserKey, userID)
			c.Next()
			return
		}

		if !s.validOperator(c) {
			abortUnauthorized(c)
			return
		}
		c.Next()
	}
}
