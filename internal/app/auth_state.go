package app

import (
	"context"
	"sync"

	"exam-prep-service/internal/domain"
	"github.com/rs/zerolog/log"
)

// IdentityProvider is the authentication backend.
type IdentityProvider interface {
	SignUp(ctx context.Context, email, password, name string) (domain.Session, error)
	SignIn(ctx context.Context, email, password string) (domain.Session, error)
	SignOut(ctx context.Context, token string) error
	RequestPasswordReset(ctx context.Context, email string) (string, error)
	ResetPassword(ctx context.Context, resetToken, newPassword string) error
	Verify(ctx context.Context, token string) (domain.Session, error)
	// Subscribe delivers auth changes until the returned cancel is called.
	Subscribe() (<-chan domain.AuthChange, func())
}

// AuthState holds the current session of one client. It is created once, initialized
// from an existing token, kept current from provider events and torn down on sign-out.
type AuthState struct {
	provider IdentityProvider

	mu          sync.RWMutex
	session     *domain.Session
	loading     bool
	unsubscribe func()
	done        chan struct{}
}

func NewAuthState(provider IdentityProvider) *AuthState {
	return &AuthState{provider: provider, loading: true}
}

// Init subscribes to auth changes and restores the session behind existingToken.
// An invalid or expired token leaves the state signed out.
func (a *AuthState) Init(ctx context.Context, existingToken string) {
	a.listen()

	var restored *domain.Session
	if existingToken != "" {
		s, err := a.provider.Verify(ctx, existingToken)
		if err != nil {
			log.Debug().Err(err).Msg("stored session not restored")
		} else {
			restored = &s
		}
	}

	a.mu.Lock()
	if a.session == nil {
		a.session = restored
	}
	a.loading = false
	a.mu.Unlock()
}

func (a *AuthState) listen() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unsubscribe != nil {
		return
	}
	changes, cancel := a.provider.Subscribe()
	a.unsubscribe = cancel
	a.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		for change := range changes {
			a.apply(change)
		}
	}(a.done)
}

// apply ends the local session when the provider signs this user out or resets the
// password elsewhere.
func (a *AuthState) apply(change domain.AuthChange) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil || change.Session == nil || change.Session.UserID != a.session.UserID {
		return
	}
	switch change.Event {
	case domain.AuthSignedOut:
		if change.Session.Token == "" || change.Session.Token == a.session.Token {
			a.session = nil
		}
	case domain.AuthPasswordReset:
		a.session = nil
	}
}

// Loading reports whether Init has not finished.
func (a *AuthState) Loading() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.loading
}

// Session returns the current session.
func (a *AuthState) Session() (domain.Session, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.session == nil {
		return domain.Session{}, false
	}
	return *a.session, true
}

// Can looks up a capability on the current session.
func (a *AuthState) Can(permission string) bool {
	s, ok := a.Session()
	return ok && s.Can(permission)
}

func (a *AuthState) SignIn(ctx context.Context, email, password string) (domain.Session, error) {
	s, err := a.provider.SignIn(ctx, email, password)
	if err != nil {
		return domain.Session{}, err
	}
	a.listen()
	a.mu.Lock()
	a.session = &s
	a.mu.Unlock()
	return s, nil
}

func (a *AuthState) SignUp(ctx context.Context, email, password, name string) (domain.Session, error) {
	s, err := a.provider.SignUp(ctx, email, password, name)
	if err != nil {
		return domain.Session{}, err
	}
	a.listen()
	a.mu.Lock()
	a.session = &s
	a.mu.Unlock()
	return s, nil
}

// SignOut ends the session with the provider and tears down the subscription.
func (a *AuthState) SignOut(ctx context.Context) error {
	a.mu.Lock()
	current := a.session
	a.session = nil
	a.mu.Unlock()

	var err error
	if current != nil {
		err = a.provider.SignOut(ctx, current.Token)
	}
	a.Close()
	return err
}

// Close stops listening for auth changes without signing out.
func (a *AuthState) Close() {
	a.mu.Lock()
	cancel, done := a.unsubscribe, a.done
	a.unsubscribe, a.done = nil, nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}
