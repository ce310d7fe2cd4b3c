package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"storyweave/pkg/domain"
)

// SessionState tracks where a session is in its lifecycle. Valid
// transitions: Unauthenticated -> Verifying -> {Authenticated |
// Unauthenticated}, and Authenticated -> LoggingOut -> Unauthenticated.
type SessionState string

const (
	StateUnauthenticated SessionState = "unauthenticated"
	StateVerifying       SessionState = "verifying"
	StateAuthenticated   SessionState = "authenticated"
	StateLoggingOut      SessionState = "logging_out"
)

// Session is the authenticated client identity. IssuedTrust distinguishes a
// session minted by a fresh login from one restored from disk and verified.
type Session struct {
	Token       string
	Principal   domain.User
	IssuedTrust bool
}

// ErrNotAuthenticated is returned by operations that require a session when
// none is active.
var ErrNotAuthenticated = errors.New("not logged in")

// SessionManager owns the session state machine. It is the only writer of
// the credential store; every mutation goes through a lifecycle transition.
type SessionManager struct {
	api   *Client
	store CredentialStore

	mu      sync.Mutex
	state   SessionState
	session Session
}

// NewSessionManager starts in Unauthenticated with nothing trusted.
func NewSessionManager(api *Client, store CredentialStore) *SessionManager {
	return &SessionManager{
		api:   api,
		store: store,
		state: StateUnauthenticated,
	}
}

// State returns the current lifecycle state.
func (m *SessionManager) State() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Current returns the active session, if authenticated.
func (m *SessionManager) Current() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateAuthenticated {
		return Session{}, false
	}
	return m.session, true
}

// Register creates an account and opens a session with the returned token.
func (m *SessionManager) Register(ctx context.Context, email, password string) (Session, error) {
	user, token, err := m.api.Register(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return m.establish(token, user)
}

// Login opens a session with a fresh credential.
func (m *SessionManager) Login(ctx context.Context, email, password string) (Session, error) {
	user, token, err := m.api.Login(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return m.establish(token, user)
}

func (m *SessionManager) establish(token string, user domain.User) (Session, error) {
	session := Session{Token: token, Principal: user, IssuedTrust: true}
	if err := m.store.Save(Credentials{Token: token, User: user}); err != nil {
		return Session{}, fmt.Errorf("persist credentials: %w", err)
	}
	m.mu.Lock()
	m.state = StateAuthenticated
	m.session = session
	m.mu.Unlock()
	return session, nil
}

// Restore loads a persisted credential and verifies it with the server
// before trusting it. Persisted state is never trusted unverified.
//
// Outcomes:
//   - no stored credential: stays Unauthenticated, returns ok=false.
//   - server confirms the token: Authenticated, returns the session.
//   - server explicitly rejects the token (401): the stored credential is
//     cleared and the caller must log in again.
//   - transport failure on either hop (server unreachable, or the server
//     answered 401 verification_failed because it could not reach the auth
//     provider): the stored credential is kept so a transient outage never
//     forces re-login; the error is returned and the state returns to
//     Unauthenticated for this run.
func (m *SessionManager) Restore(ctx context.Context) (Session, bool, error) {
	creds, ok, err := m.store.Load()
	if err != nil {
		return Session{}, false, err
	}
	if !ok {
		return Session{}, false, nil
	}

	m.mu.Lock()
	if m.state != StateUnauthenticated {
		m.mu.Unlock()
		return Session{}, false, fmt.Errorf("restore from state %s", m.state)
	}
	m.state = StateVerifying
	m.mu.Unlock()

	user, err := m.api.Me(ctx, creds.Token)
	if err != nil {
		m.mu.Lock()
		m.state = StateUnauthenticated
		m.mu.Unlock()
		if IsUnauthenticated(err) && !IsVerificationFailure(err) {
			// Explicit rejection. Only this path destroys the credential.
			if clearErr := m.store.Clear(); clearErr != nil {
				return Session{}, false, clearErr
			}
			return Session{}, false, err
		}
		return Session{}, false, err
	}

	session := Session{Token: creds.Token, Principal: user, IssuedTrust: true}
	m.mu.Lock()
	m.state = StateAuthenticated
	m.session = session
	m.mu.Unlock()
	return session, true, nil
}

// Logout clears local state first, then makes a best-effort revoke call.
// A failed revoke never blocks the local logout; its error is returned for
// reporting only, and the session is gone either way.
func (m *SessionManager) Logout(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateAuthenticated {
		m.mu.Unlock()
		return ErrNotAuthenticated
	}
	m.state = StateLoggingOut
	token := m.session.Token
	m.mu.Unlock()

	clearErr := m.store.Clear()

	m.mu.Lock()
	m.state = StateUnauthenticated
	m.session = Session{}
	m.mu.Unlock()

	revokeErr := m.api.Logout(ctx, token)
	if clearErr != nil {
		return clearErr
	}
	return revokeErr
}

// Token returns the active bearer token or ErrNotAuthenticated.
func (m *SessionManager) Token() (string, error) {
	session, ok := m.Current()
	if !ok {
		return "", ErrNotAuthenticated
	}
	return session.Token, nil
}
