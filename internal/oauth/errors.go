package oauth

import (
	"errors"
	"fmt"
)

var (
	// ErrReauthRequired means the user must pass the authorization handshake again.
	ErrReauthRequired = errors.New("re-authentication required")
	// ErrUnknownState is returned for an expired, reused or forged handshake state.
	ErrUnknownState = errors.New("unknown oauth state")
)

// TransientAuthError wraps a refresh or exchange failure that may succeed later.
type TransientAuthError struct {
	UserID string
	Err    error
}

func (e *TransientAuthError) Error() string {
	return fmt.Sprintf("transient auth error for user %s: %v", e.UserID, e.Err)
}

func (e *TransientAuthError) Unwrap() error {
	return e.Err
}
