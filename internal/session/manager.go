// Package session owns the bearer credential and the identity derived from it.
//
// The Manager is the only component that writes the credential store. The
// gateway reports 401 responses back to it through OnUnauthenticated.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"slices"
	"sync"
	"time"

	"example.com/attendance/internal/contract"
	"example.com/attendance/internal/credential"
	"example.com/attendance/internal/gateway"
	"example.com/attendance/internal/notify"
	"example.com/attendance/internal/observability"
)

// Backend endpoints used by the Manager.
const (
	PathLogin   = "/auth/login"
	PathLogout  = "/auth/logout"
	PathMe      = "/auth/me"
	PathRefresh = "/auth/refresh"
)

var (
	// ErrNotAuthenticated is returned when an operation needs a session and none is active.
	ErrNotAuthenticated = errors.New("session: not authenticated")
	// ErrRoleNotPermitted is returned by Authorize when the identity lacks every required role.
	ErrRoleNotPermitted = errors.New("session: role not permitted")
	// ErrMissingToken is returned when the backend answers a login or refresh without a token.
	ErrMissingToken = errors.New("session: response carried no token")
)

// Gateway is the subset of *gateway.Gateway the Manager relies on.
type Gateway interface {
	Call(ctx context.Context, method, path string, body, out any, opts ...gateway.CallOption) error
	OnUnauthenticated(h gateway.UnauthenticatedHandler)
}

// Option configures optional behaviour for the Manager.
type Option func(*Manager)

// WithNotifier sets the notification channel.
func WithNotifier(n notify.Notifier) Option {
	return func(m *Manager) {
		m.notifier = n
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *log.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// Manager is an explicitly owned session object. Create one per kiosk process
// and pass it to whatever needs the identity.
type Manager struct {
	gw       Gateway
	store    credential.Store
	notifier notify.Notifier
	logger   *log.Logger
	now      func() time.Time

	// authMu serialises Bootstrap, Login, Refresh and Logout.
	authMu sync.Mutex

	mu        sync.RWMutex
	state     State
	identity  *Identity
	expiresAt time.Time
	listeners []func(State)
}

// NewManager constructs a Manager in the Bootstrapping state and registers it
// as the gateway's unauthenticated handler.
func NewManager(gw Gateway, store credential.Store, opts ...Option) *Manager {
	m := &Manager{
		gw:       gw,
		store:    store,
		notifier: notify.Discard,
		logger:   log.New(log.Writer(), "[session] ", log.LstdFlags|log.Lshortfile),
		now:      time.Now,
		state:    StateBootstrapping,
	}
	for _, opt := range opts {
		opt(m)
	}
	gw.OnUnauthenticated(m.expire)
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Identity returns the current identity and whether one is set.
func (m *Manager) Identity() (Identity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.identity == nil {
		return Identity{}, false
	}
	return *m.identity, true
}

// ExpiresAt returns the credential expiry hint, or the zero time when unknown.
func (m *Manager) ExpiresAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.expiresAt
}

// Subscribe registers fn to be called after every state change.
func (m *Manager) Subscribe(fn func(State)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Authorize returns the identity when the session is authenticated and, if any
// roles are given, the identity holds one of them.
func (m *Manager) Authorize(roles ...contract.Role) (Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateAuthenticated || m.identity == nil {
		return Identity{}, ErrNotAuthenticated
	}
	if len(roles) > 0 && !slices.Contains(roles, m.identity.Role) {
		return Identity{}, fmt.Errorf("%w: %s", ErrRoleNotPermitted, m.identity.Role)
	}
	return *m.identity, nil
}

// RefreshDue reports whether the credential expires within margin. It is false
// when the session is not authenticated or the expiry is unknown.
func (m *Manager) RefreshDue(margin time.Duration) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateAuthenticated || m.expiresAt.IsZero() {
		return false
	}
	return !m.now().Add(margin).Before(m.expiresAt)
}

// Bootstrap resolves the identity of a persisted credential. An unreachable
// backend leaves the credential in place; any other failure erases it. The
// session always ends up Authenticated or Anonymous.
func (m *Manager) Bootstrap(ctx context.Context) error {
	m.authMu.Lock()
	defer m.authMu.Unlock()

	token, err := m.store.Load(ctx)
	if errors.Is(err, credential.ErrNotFound) {
		m.becomeAnonymous()
		recordOperation("bootstrap", nil)
		return nil
	}
	if err != nil {
		m.becomeAnonymous()
		recordOperation("bootstrap", err)
		return fmt.Errorf("load credential: %w", err)
	}

	var user contract.User
	if err := m.gw.Call(ctx, http.MethodGet, PathMe, nil, &user); err != nil {
		recordOperation("bootstrap", err)
		if gateway.IsKind(err, gateway.KindUnreachable) || ctx.Err() != nil {
			m.logger.Printf("bootstrap deferred, credential kept: %v", err)
			m.becomeAnonymous()
			return err
		}
		m.logger.Printf("bootstrap rejected credential: %v", err)
		m.clearIfCurrent(context.WithoutCancel(ctx), token)
		m.becomeAnonymous()
		return err
	}

	identity := identityFrom(user)
	m.mu.Lock()
	if credential.Token(ctx, m.store) != token {
		// The credential was cleared or replaced while the lookup was in flight.
		m.mu.Unlock()
		recordOperation("bootstrap", ErrNotAuthenticated)
		return ErrNotAuthenticated
	}
	m.identity = &identity
	m.expiresAt = tokenExpiry(token)
	emit := m.setStateLocked(StateAuthenticated)
	m.mu.Unlock()
	emit()

	recordOperation("bootstrap", nil)
	return nil
}

// Login submits credentials and, on success, persists the returned token. A
// failed login leaves the state and the stored credential untouched.
func (m *Manager) Login(ctx context.Context, email, password string) (Identity, error) {
	m.authMu.Lock()
	defer m.authMu.Unlock()

	var resp contract.TokenResponse
	err := m.gw.Call(ctx, http.MethodPost, PathLogin, contract.LoginRequest{Email: email, Password: password}, &resp)
	if err == nil && resp.Token == "" {
		err = ErrMissingToken
	}
	if err == nil {
		err = m.install(ctx, resp)
	}
	recordOperation("login", err)
	if err != nil {
		m.announceLoginFailure(err)
		return Identity{}, err
	}

	identity := identityFrom(resp.User)
	m.notify(notify.LevelSuccess, "login", fmt.Sprintf("Welcome back, %s!", identity.FirstName))
	return identity, nil
}

// Logout invalidates the session remotely on a best-effort basis and always
// clears the local credential and identity.
func (m *Manager) Logout(ctx context.Context) {
	m.authMu.Lock()
	defer m.authMu.Unlock()
	m.logout(ctx)
}

func (m *Manager) logout(ctx context.Context) {
	if credential.Token(ctx, m.store) != "" {
		if err := m.gw.Call(ctx, http.MethodPost, PathLogout, nil, nil, gateway.Quiet()); err != nil {
			m.logger.Printf("remote logout ignored: %v", err)
		}
	}

	m.mu.Lock()
	if err := m.store.Clear(context.WithoutCancel(ctx)); err != nil {
		m.logger.Printf("clear credential: %v", err)
	}
	m.identity = nil
	m.expiresAt = time.Time{}
	emit := m.setStateLocked(StateAnonymous)
	m.mu.Unlock()
	emit()

	recordOperation("logout", nil)
	m.notify(notify.LevelInfo, "logout", "You have been logged out successfully")
}

// Refresh exchanges the current credential for a new one. Any failure logs the
// session out.
func (m *Manager) Refresh(ctx context.Context) error {
	m.authMu.Lock()
	defer m.authMu.Unlock()

	if m.State() != StateAuthenticated {
		recordOperation("refresh", ErrNotAuthenticated)
		return ErrNotAuthenticated
	}

	var resp contract.TokenResponse
	err := m.gw.Call(ctx, http.MethodPost, PathRefresh, nil, &resp)
	if err == nil && resp.Token == "" {
		err = ErrMissingToken
	}
	if err == nil {
		err = m.install(ctx, resp)
	}
	recordOperation("refresh", err)
	if err != nil {
		m.logger.Printf("refresh failed, logging out: %v", err)
		m.logout(context.WithoutCancel(ctx))
		return fmt.Errorf("refresh: %w", err)
	}
	return nil
}

// install persists a fresh token and the identity that came with it.
func (m *Manager) install(ctx context.Context, resp contract.TokenResponse) error {
	identity := identityFrom(resp.User)
	now := m.now()

	expiresAt := tokenExpiry(resp.Token)
	if resp.ExpiresIn > 0 {
		expiresAt = now.Add(time.Duration(resp.ExpiresIn) * time.Second)
	}

	m.mu.Lock()
	if err := m.store.Save(ctx, resp.Token); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("persist credential: %w", err)
	}
	m.identity = &identity
	m.expiresAt = expiresAt
	emit := m.setStateLocked(StateAuthenticated)
	m.mu.Unlock()
	emit()

	observability.RecordCredentialWritten(now)
	return nil
}

// expire is the gateway's unauthenticated handler. It only acts when token is
// still the stored credential, so a stale 401 cannot erase a newer login.
func (m *Manager) expire(ctx context.Context, token string) {
	m.clearIfCurrent(ctx, token)
}

func (m *Manager) clearIfCurrent(ctx context.Context, token string) {
	m.mu.Lock()
	if credential.Token(ctx, m.store) != token {
		m.mu.Unlock()
		return
	}
	if err := m.store.Clear(ctx); err != nil {
		m.logger.Printf("clear credential: %v", err)
	}
	m.identity = nil
	m.expiresAt = time.Time{}
	emit := m.setStateLocked(StateAnonymous)
	m.mu.Unlock()
	emit()
}

func (m *Manager) becomeAnonymous() {
	m.mu.Lock()
	m.identity = nil
	m.expiresAt = time.Time{}
	emit := m.setStateLocked(StateAnonymous)
	m.mu.Unlock()
	emit()
}

// setStateLocked records next and returns a func that notifies listeners. The
// returned func must be called after m.mu is released.
func (m *Manager) setStateLocked(next State) func() {
	prev := m.state
	m.state = next
	if prev == next {
		return func() {}
	}
	transitionCounter.WithLabelValues(string(prev), string(next)).Inc()
	listeners := slices.Clone(m.listeners)
	return func() {
		for _, fn := range listeners {
			fn(next)
		}
	}
}

// announceLoginFailure emits a notice unless the gateway already did, or the
// caller gave up.
func (m *Manager) announceLoginFailure(err error) {
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	m.notify(notify.LevelError, "login", "Login failed")
}

func (m *Manager) notify(level notify.Level, kind, message string) {
	m.notifier.Notify(notify.Notification{
		Level:   level,
		Message: message,
		Kind:    kind,
		At:      m.now().UTC(),
	})
}
