// Package session tracks sign-in state reported by the auth provider and
// notifies subscribers on each transition.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"eventmap/internal/domain/identity"
	"eventmap/internal/service/notify"
)

// DefaultSubject is the bus subject auth transitions are published on
const DefaultSubject = "auth.state"

// Broadcaster implements identity.Broadcaster on top of an observer registry,
// mirroring every transition onto the event bus
type Broadcaster struct {
	observers *notify.Registry[identity.AuthChange]
	bus       *notify.BusPublisher
	subject   string
	now       func() time.Time
	logger    zerolog.Logger

	mu     sync.RWMutex
	states map[string]identity.AuthState
}

// NewBroadcaster creates a broadcaster. bus may be nil.
func NewBroadcaster(bus *notify.BusPublisher, subject string, logger zerolog.Logger) *Broadcaster {
	if subject == "" {
		subject = DefaultSubject
	}

	return &Broadcaster{
		observers: notify.NewRegistry[identity.AuthChange](),
		bus:       bus,
		subject:   subject,
		now:       time.Now,
		logger:    logger.With().Str("component", "session").Logger(),
		states:    make(map[string]identity.AuthState),
	}
}

// Subscribe registers fn for every applied transition
func (b *Broadcaster) Subscribe(fn func(identity.AuthChange)) func() {
	return b.observers.Subscribe(fn)
}

// Report applies a transition. Repeating the current state is a no-op.
func (b *Broadcaster) Report(change identity.AuthChange) (bool, error) {
	if change.UserID == "" {
		return false, identity.ErrMissingUser
	}
	if _, err := identity.ParseAuthState(string(change.State)); err != nil {
		return false, err
	}
	if change.At.IsZero() {
		change.At = b.now()
	}

	b.mu.Lock()
	if b.stateLocked(change.UserID) == change.State {
		b.mu.Unlock()
		return false, nil
	}
	if change.State == identity.AuthSignedOut {
		delete(b.states, change.UserID)
	} else {
		b.states[change.UserID] = change.State
	}
	b.mu.Unlock()

	b.logger.Info().
		Str("user_id", change.UserID).
		Str("state", string(change.State)).
		Msg("auth state changed")

	b.observers.Notify(change)

	if err := b.bus.Publish(b.subject, change); err != nil {
		return true, fmt.Errorf("error broadcasting auth change: %w", err)
	}
	return true, nil
}

// State returns the last known state; unknown users are signed out
func (b *Broadcaster) State(userID string) identity.AuthState {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.stateLocked(userID)
}

func (b *Broadcaster) stateLocked(userID string) identity.AuthState {
	if state, ok := b.states[userID]; ok {
		return state
	}
	return identity.AuthSignedOut
}

var _ identity.Broadcaster = (*Broadcaster)(nil)
