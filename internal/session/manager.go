package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/parcelview/parcelview-client/internal/identity"
	"github.com/parcelview/parcelview-client/internal/logger"
	"github.com/parcelview/parcelview-client/internal/models"
	"github.com/parcelview/parcelview-client/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ErrInvalidTransition is returned when a trigger fires in a state that
// does not accept it.
var ErrInvalidTransition = errors.New("operation not allowed in current state")

// maxPINAttempts caps wrong-PIN submissions locally, on top of whatever
// lockout the server reports.
const maxPINAttempts = 5

// API is the slice of the identity client the state machine drives.
type API interface {
	Login(ctx context.Context, email, password string) (*identity.LoginResult, error)
	Register(ctx context.Context, req identity.RegisterRequest) (*models.UserProfile, error)
	VerifyEmail(ctx context.Context, email, code string) (*models.AuthSession, error)
	ResendVerificationCode(ctx context.Context, email string) error
	SetupPIN(ctx context.Context, pin string) (*models.UserProfile, error)
	ValidatePIN(ctx context.Context, pin, userID string) (*models.TokenPair, error)
	Logout(ctx context.Context) error
	OnSessionExpired(fn func())
}

// Manager is the session state machine. All transitions are serialized
// behind a single mutex; subscribers observe every state change.
type Manager struct {
	api      API
	sessions *store.SessionStore
	tokens   *store.TokenStore

	mu          sync.Mutex
	state       State
	gen         uint64
	pinAttempts int
	subs        map[int]func(State)
	nextSub     int
}

type ManagerParams struct {
	fx.In

	API      API
	Sessions *store.SessionStore
	Tokens   *store.TokenStore
}

// NewManager creates the session manager and hooks it up to the identity
// client's forced-logout signal.
func NewManager(params ManagerParams) *Manager {
	m := &Manager{
		api:      params.API,
		sessions: params.Sessions,
		tokens:   params.Tokens,
		state:    loading(),
		subs:     make(map[int]func(State)),
	}
	m.api.OnSessionExpired(m.handleSessionExpired)
	return m
}

// Current returns the current session state.
func (m *Manager) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers fn to be called on every state change and returns a
// cancel function. Callbacks run outside the manager lock.
func (m *Manager) Subscribe(fn func(State)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// begin checks the trigger precondition and snapshots the generation so a
// logout racing the network call can invalidate the pending result.
func (m *Manager) begin(event string, allowed ...Status) (uint64, State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range allowed {
		if m.state.Status == s {
			return m.gen, m.state, nil
		}
	}
	return 0, State{}, fmt.Errorf("%w: %s while %s", ErrInvalidTransition, event, m.state.Status)
}

// finish applies a transition unless the session generation moved on
// since begin, in which case the result is discarded.
func (m *Manager) finish(gen uint64, apply func() (State, error)) error {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return nil
	}
	st, err := apply()
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.state = st
	subs := m.snapshotSubsLocked()
	m.mu.Unlock()
	notify(subs, st)
	return nil
}

func (m *Manager) snapshotSubsLocked() []func(State) {
	subs := make([]func(State), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	return subs
}

func notify(subs []func(State), st State) {
	for _, fn := range subs {
		fn(st)
	}
}

// setState replaces the state unconditionally and notifies subscribers.
func (m *Manager) setState(st State) {
	m.mu.Lock()
	m.state = st
	subs := m.snapshotSubsLocked()
	m.mu.Unlock()
	notify(subs, st)
}

// completeAuthLocked persists the session and derives the post-auth state:
// straight to Authenticated, or PendingPinSetup when the user has no PIN
// configured yet. Caller holds the manager lock via finish.
func (m *Manager) completeAuthLocked(ctx context.Context, session models.AuthSession) (State, error) {
	if err := m.sessions.SaveSession(ctx, session.User, session.Tokens); err != nil {
		return State{}, err
	}
	m.pinAttempts = 0
	if !session.User.HasPinSetup {
		return pendingPinSetup(session.User), nil
	}
	return authenticated(session.User, session.Tokens), nil
}

// recordPendingEmail persists the address awaiting verification so a
// later run resumes the flow. Failure to record is logged, not fatal:
// the in-memory transition still happens.
func (m *Manager) recordPendingEmail(ctx context.Context, email string) {
	if err := m.sessions.SavePendingEmail(ctx, email); err != nil {
		logger.Warn("failed to record pending verification email", zap.Error(err))
	}
}

// storedPair reads the cached token pair.
func (m *Manager) storedPair() (models.TokenPair, bool) {
	access, ok := m.tokens.AccessToken()
	if !ok {
		return models.TokenPair{}, false
	}
	refresh, ok := m.tokens.RefreshToken()
	if !ok {
		return models.TokenPair{}, false
	}
	return models.TokenPair{AccessToken: access, RefreshToken: refresh}, true
}

// SubmitCredentials signs in with email and password. A server-reported
// "verification required" outcome moves to PendingEmailVerification
// without error; a successful login persists the session.
func (m *Manager) SubmitCredentials(ctx context.Context, email, password string) error {
	if err := validateEmail(email); err != nil {
		return err
	}
	if err := validatePassword(password); err != nil {
		return err
	}

	gen, _, err := m.begin("submit-credentials", StatusUnauthenticated)
	if err != nil {
		return err
	}

	result, err := m.api.Login(ctx, email, password)
	if err != nil {
		return err
	}

	return m.finish(gen, func() (State, error) {
		if result.VerificationRequired {
			m.recordPendingEmail(ctx, result.Email)
			return pendingEmailVerification(result.Email), nil
		}
		return m.completeAuthLocked(ctx, *result.Session)
	})
}

// RegisterAccount signs up a new account. No session is created: the
// server's tokens are discarded and the flow moves to email verification.
func (m *Manager) RegisterAccount(ctx context.Context, req identity.RegisterRequest) error {
	if err := validateEmail(req.Email); err != nil {
		return err
	}
	if err := validatePassword(req.Password); err != nil {
		return err
	}

	gen, _, err := m.begin("register", StatusUnauthenticated)
	if err != nil {
		return err
	}

	if _, err := m.api.Register(ctx, req); err != nil {
		return err
	}

	return m.finish(gen, func() (State, error) {
		m.recordPendingEmail(ctx, req.Email)
		return pendingEmailVerification(req.Email), nil
	})
}

// SubmitVerificationCode submits the emailed code and, on success,
// persists the issued session.
func (m *Manager) SubmitVerificationCode(ctx context.Context, code string) error {
	if err := validateCode(code); err != nil {
		return err
	}

	gen, st, err := m.begin("submit-code", StatusPendingEmailVerification)
	if err != nil {
		return err
	}

	session, err := m.api.VerifyEmail(ctx, st.Email, code)
	if err != nil {
		return err
	}

	return m.finish(gen, func() (State, error) {
		return m.completeAuthLocked(ctx, *session)
	})
}

// ResendCode asks the server for a fresh verification code.
func (m *Manager) ResendCode(ctx context.Context) error {
	_, st, err := m.begin("resend-code", StatusPendingEmailVerification)
	if err != nil {
		return err
	}
	return m.api.ResendVerificationCode(ctx, st.Email)
}

// SubmitPINSetup configures the re-entry PIN. The tokens issued at login
// stay untouched; only the updated profile is persisted. Accepted both at
// the post-login prompt and from a signed-in session, so a user who
// skipped (or restarted past) the prompt can still add a PIN.
func (m *Manager) SubmitPINSetup(ctx context.Context, pin, confirm string) error {
	if err := validatePIN(pin); err != nil {
		return err
	}
	if pin != confirm {
		return ErrPINMismatch
	}

	gen, _, err := m.begin("submit-pin-setup", StatusPendingPinSetup, StatusAuthenticated)
	if err != nil {
		return err
	}

	user, err := m.api.SetupPIN(ctx, pin)
	if err != nil {
		return err
	}

	return m.finish(gen, func() (State, error) {
		pair, ok := m.storedPair()
		if !ok {
			return State{}, fmt.Errorf("no active session")
		}
		if err := m.sessions.SaveUser(ctx, *user); err != nil {
			return State{}, err
		}
		return authenticated(*user, pair), nil
	})
}

// SkipPIN leaves the PIN unset and completes the sign-in. Skipping while
// already signed in is a no-op success.
func (m *Manager) SkipPIN() error {
	gen, st, err := m.begin("skip-pin", StatusPendingPinSetup, StatusAuthenticated)
	if err != nil {
		return err
	}
	return m.finish(gen, func() (State, error) {
		pair, ok := m.storedPair()
		if !ok {
			return State{}, fmt.Errorf("no active session")
		}
		return authenticated(*st.User, pair), nil
	})
}

// SubmitPINAuth validates the re-entry PIN. Wrong attempts accumulate an
// in-memory counter; past maxPINAttempts further tries are rejected before
// reaching the server. Server-side lockout windows arrive on the returned
// error and are surfaced, not enforced.
func (m *Manager) SubmitPINAuth(ctx context.Context, pin string) error {
	if err := validatePIN(pin); err != nil {
		return err
	}

	gen, st, err := m.begin("submit-pin", StatusPendingPinAuth)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.pinAttempts >= maxPINAttempts {
		m.mu.Unlock()
		return ErrTooManyPINTries
	}
	m.mu.Unlock()

	pair, err := m.api.ValidatePIN(ctx, pin, st.User.ID)
	if err != nil {
		// Only a server-reported rejection burns an attempt; a network
		// failure says nothing about the PIN.
		var apiErr *identity.APIError
		if errors.As(err, &apiErr) {
			m.mu.Lock()
			if m.gen == gen && m.state.Status == StatusPendingPinAuth {
				m.pinAttempts++
			}
			m.mu.Unlock()
		}
		return err
	}

	return m.finish(gen, func() (State, error) {
		if err := m.tokens.Save(ctx, *pair); err != nil {
			return State{}, err
		}
		if err := m.sessions.ClearPinGate(ctx); err != nil {
			logger.Warn("failed to clear pin challenge marker", zap.Error(err))
		}
		m.pinAttempts = 0
		return authenticated(*st.User, *pair), nil
	})
}

// PINAttempts reports the in-memory wrong-PIN counter.
func (m *Manager) PINAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pinAttempts
}

// Logout ends the session from any state. The server-side revoke is best
// effort; local records are cleared and the state forced to
// Unauthenticated no matter what.
func (m *Manager) Logout(ctx context.Context) error {
	// Revoke first while the refresh token is still readable
	_ = m.api.Logout(ctx)

	m.mu.Lock()
	m.gen++
	if err := m.sessions.ClearAll(ctx); err != nil {
		logger.Error("failed to clear session records", zap.Error(err))
	}
	m.pinAttempts = 0
	st := unauthenticated()
	m.state = st
	subs := m.snapshotSubsLocked()
	m.mu.Unlock()
	notify(subs, st)
	return nil
}

// handleSessionExpired reacts to an unrecoverable refresh failure signaled
// by the identity client. The token store is already cleared at that
// point; the profile follows and the session drops to Unauthenticated.
func (m *Manager) handleSessionExpired() {
	ctx := context.Background()

	m.mu.Lock()
	switch m.state.Status {
	case StatusUnauthenticated, StatusLoading:
		m.mu.Unlock()
		return
	}
	m.gen++
	if err := m.sessions.ClearAll(ctx); err != nil {
		logger.Error("failed to clear session records", zap.Error(err))
	}
	m.pinAttempts = 0
	st := unauthenticated()
	m.state = st
	subs := m.snapshotSubsLocked()
	m.mu.Unlock()

	logger.Info("session expired, forcing logout")
	notify(subs, st)
}
