// internal/domain/identity/service.go

package identity

import (
	"errors"
	"fmt"
	"time"
)

// ErrMissingUser is returned for an auth transition without a user id
var ErrMissingUser = errors.New("user id is required")

// AuthState is whether a user currently holds a session with the auth provider
type AuthState string

const (
	AuthSignedIn  AuthState = "signed_in"
	AuthSignedOut AuthState = "signed_out"
)

// ParseAuthState parses "signed_in" or "signed_out"
func ParseAuthState(s string) (AuthState, error) {
	switch AuthState(s) {
	case AuthSignedIn, AuthSignedOut:
		return AuthState(s), nil
	}
	return "", fmt.Errorf("unknown auth state %q", s)
}

// AuthChange is one sign-in or sign-out transition reported by the auth provider
type AuthChange struct {
	UserID string    `json:"user_id"`
	State  AuthState `json:"state"`
	At     time.Time `json:"at"`
}

// Broadcaster fans auth transitions out to interested parties
type Broadcaster interface {
	// Subscribe registers fn for every applied transition and returns an unsubscribe func
	Subscribe(fn func(AuthChange)) func()

	// Report applies a transition; it returns false if the user was already in that state
	Report(change AuthChange) (bool, error)

	// State returns the last known state of a user
	State(userID string) AuthState
}
