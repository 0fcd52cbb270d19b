package model

import "time"

// OAuthToken is the single live credential pair of a user.
type OAuthToken struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
	ObtainedAt   time.Time
}

// Lifetime is the total validity window the token was issued with.
func (t *OAuthToken) Lifetime() time.Duration {
	return t.ExpiresAt.Sub(t.ObtainedAt)
}

// Remaining returns the validity left at now. It is negative once expired.
func (t *OAuthToken) Remaining(now time.Time) time.Duration {
	return t.ExpiresAt.Sub(now)
}

func (t *OAuthToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
