package model

import (
	"fmt"
	"strings"
	"time"
)

type UserStatus string

const (
	UserActive  UserStatus = "active"
	UserPaused  UserStatus = "paused"
	UserRevoked UserStatus = "revoked"
	// UserReauth is set when hh.ru rejected the stored credentials; the handshake activates the user again.
	UserReauth UserStatus = "reauth_required"
)

// User is a person the service applies on behalf of. ID is opaque and stable.
type User struct {
	ID     string
	Locale string
	Status UserStatus
	// ResumeID is the hh.ru resume used for negotiations. Filled after the OAuth handshake.
	ResumeID  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (u *User) Active() bool {
	return u != nil && u.Status == UserActive
}

func ParseUserStatus(s string) (UserStatus, error) {
	switch status := UserStatus(strings.ToLower(strings.TrimSpace(s))); status {
	case UserActive, UserPaused, UserRevoked, UserReauth:
		return status, nil
	default:
		return "", fmt.Errorf("unknown user status %q", s)
	}
}
