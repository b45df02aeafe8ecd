// Package session owns the login lifecycle. Login state is never cached: it
// is recomputed from the credential store on every query, so a token wiped
// elsewhere (for example by the transport's 401 handling) takes effect
// immediately.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benvon/hospital-portal/internal/credentials"
	"github.com/benvon/hospital-portal/internal/logger"
	"github.com/benvon/hospital-portal/internal/metrics"
	"github.com/benvon/hospital-portal/internal/models"
	"github.com/benvon/hospital-portal/internal/token"
	"github.com/benvon/hospital-portal/internal/transport"
	"github.com/benvon/hospital-portal/internal/validation"
	"go.uber.org/zap"
)

// State is the externally visible session state
type State int

const (
	// LoggedOut means no token, or one that has expired
	LoggedOut State = iota
	// Loading means a login, logout or profile call is in flight
	Loading
	// LoggedIn means a token with a future expiry is stored
	LoggedIn
)

func (s State) String() string {
	switch s {
	case LoggedOut:
		return "logged_out"
	case Loading:
		return "loading"
	case LoggedIn:
		return "logged_in"
	default:
		return "unknown"
	}
}

// UserAPI is the set of user endpoints the manager drives
type UserAPI interface {
	Login(ctx context.Context, req models.LoginRequest) (*models.LoginResult, error)
	Register(ctx context.Context, req models.RegisterRequest) error
	Logout(ctx context.Context) error
	UserInfo(ctx context.Context) (*models.UserProfile, error)
	UpdateUserInfo(ctx context.Context, update models.ProfileUpdate) error
	ChangePassword(ctx context.Context, req models.PasswordChange) error
	UploadAvatar(ctx context.Context, fileName string, content io.Reader) (string, error)
}

// Options configures a Manager
type Options struct {
	Logger  *zap.Logger
	Metrics *metrics.Recorder
	Now     func() time.Time
}

// Manager drives login, logout and profile refresh against the credential store
type Manager struct {
	store   *credentials.Store
	api     UserAPI
	logger  *zap.Logger
	metrics *metrics.Recorder
	now     func() time.Time

	// mu serializes every mutating call
	mu      sync.Mutex
	pending atomic.Int32
}

// New creates a Manager
func New(store *credentials.Store, api UserAPI, opts Options) *Manager {
	m := &Manager{
		store:   store,
		api:     api,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// begin marks a mutation in flight and takes the mutation lock
func (m *Manager) begin() func() {
	m.pending.Add(1)
	m.mu.Lock()
	return func() {
		m.mu.Unlock()
		m.pending.Add(-1)
	}
}

// State reports Loading while a mutation is in flight
func (m *Manager) State(ctx context.Context) State {
	if m.pending.Load() > 0 {
		return Loading
	}
	if m.IsLoggedIn(ctx) {
		return LoggedIn
	}
	return LoggedOut
}

// IsLoggedIn is true iff a token is stored and its expiry is strictly in the
// future. Store and decode failures read as false.
func (m *Manager) IsLoggedIn(ctx context.Context) bool {
	tok, err := m.store.Token(ctx)
	if err != nil {
		m.logger.Debug("session_token_read_failed", zap.String("error", logger.SanitizeError(err)))
		return false
	}
	if tok == "" {
		return false
	}
	exp, err := token.ExtractExpiry(tok)
	if err != nil {
		m.logger.Debug("session_token_undecodable", zap.String("error", logger.SanitizeError(err)))
		return false
	}
	return !exp.IsZero() && exp.After(m.now())
}

// IsAdmin is false whenever IsLoggedIn is false
func (m *Manager) IsAdmin(ctx context.Context) bool {
	if !m.IsLoggedIn(ctx) {
		return false
	}
	p, err := m.store.Profile(ctx)
	if err != nil {
		m.logger.Debug("session_profile_read_failed", zap.String("error", logger.SanitizeError(err)))
		return false
	}
	return p.IsAdmin()
}

// CurrentUser returns the cached profile of a live session, or nil
func (m *Manager) CurrentUser(ctx context.Context) *models.UserProfile {
	if !m.IsLoggedIn(ctx) {
		return nil
	}
	p, err := m.store.Profile(ctx)
	if err != nil {
		return nil
	}
	return p
}

// UserID returns the subject id carried by the stored token, or ""
func (m *Manager) UserID(ctx context.Context) string {
	tok, err := m.store.Token(ctx)
	if err != nil || tok == "" {
		return ""
	}
	return token.ExtractSubjectID(tok)
}

// Login authenticates and persists the token, then the profile. A failed
// profile write is tolerated since the profile can be fetched again.
func (m *Manager) Login(ctx context.Context, req models.LoginRequest) (*models.UserProfile, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	done := m.begin()
	defer done()

	res, err := m.api.Login(ctx, req)
	if err != nil {
		m.metrics.Transition("login_failed")
		m.logger.Info("login_rejected", zap.String("error", logger.SanitizeError(err)))
		return nil, &AuthError{Message: transport.UserMessage(err), Err: err}
	}
	if res == nil || res.Token == "" {
		m.metrics.Transition("login_failed")
		return nil, &AuthError{Message: "login response carried no token"}
	}

	if err := m.store.SetToken(ctx, res.Token); err != nil {
		if cerr := m.store.Clear(context.WithoutCancel(ctx)); cerr != nil {
			m.logger.Error("credential_clear_failed", zap.String("error", logger.SanitizeError(cerr)))
		}
		return nil, fmt.Errorf("failed to persist token: %w", err)
	}
	if err := m.store.SetProfile(ctx, res.UserInfo); err != nil {
		m.logger.Warn("profile_persist_failed", zap.String("error", logger.SanitizeError(err)))
	}

	m.metrics.Transition("login")
	m.logger.Info("login_succeeded", zap.String("user_id", logger.SanitizeUserID(token.ExtractSubjectID(res.Token))))
	return res.UserInfo, nil
}

// Logout tells the server, then wipes local credentials regardless of the
// server's answer. Only a local wipe failure is returned.
func (m *Manager) Logout(ctx context.Context) error {
	done := m.begin()
	defer done()

	if tok, _ := m.store.Token(ctx); tok != "" {
		if err := m.api.Logout(ctx); err != nil {
			m.logger.Warn("remote_logout_failed", zap.String("error", logger.SanitizeError(err)))
		}
	}

	if err := m.store.Clear(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	m.metrics.Transition("logout")
	m.logger.Info("logout_completed")
	return nil
}

// RefreshProfile re-fetches the profile and replaces the cached one. If the
// server no longer accepts the bearer the session is torn down and
// ErrAuthenticationExpired is returned. It is a no-op when logged out.
func (m *Manager) RefreshProfile(ctx context.Context) error {
	done := m.begin()
	defer done()
	return m.refreshLocked(ctx)
}

func (m *Manager) refreshLocked(ctx context.Context) error {
	if !m.IsLoggedIn(ctx) {
		return nil
	}

	p, err := m.api.UserInfo(ctx)
	if err != nil {
		if transport.IsAuthExpired(err) {
			if cerr := m.store.Clear(context.WithoutCancel(ctx)); cerr != nil {
				m.logger.Error("credential_clear_failed", zap.String("error", logger.SanitizeError(cerr)))
			}
			m.metrics.Transition("expired")
			m.logger.Info("session_expired")
			return fmt.Errorf("%w: %w", ErrAuthenticationExpired, err)
		}
		return fmt.Errorf("failed to fetch profile: %w", err)
	}

	if err := m.store.SetProfile(ctx, p); err != nil {
		return fmt.Errorf("failed to persist profile: %w", err)
	}
	m.metrics.Transition("refresh")
	return nil
}

// Register creates an account; it does not log in
func (m *Manager) Register(ctx context.Context, req models.RegisterRequest) error {
	if err := validation.Struct(req); err != nil {
		return err
	}
	done := m.begin()
	defer done()

	if err := m.api.Register(ctx, req); err != nil {
		return err
	}
	m.metrics.Transition("register")
	return nil
}

// UpdateProfile sends a partial update, then refreshes the cached profile
func (m *Manager) UpdateProfile(ctx context.Context, update models.ProfileUpdate) error {
	if err := validation.Struct(update); err != nil {
		return err
	}
	done := m.begin()
	defer done()

	if !m.IsLoggedIn(ctx) {
		return ErrNotLoggedIn
	}
	if err := m.api.UpdateUserInfo(ctx, update); err != nil {
		return err
	}
	return m.refreshLocked(ctx)
}

// ChangePassword changes the password of the signed-in account. The session
// is left as it is; the backend decides whether the token stays valid.
func (m *Manager) ChangePassword(ctx context.Context, req models.PasswordChange) error {
	if err := validation.Struct(req); err != nil {
		return err
	}
	done := m.begin()
	defer done()

	if !m.IsLoggedIn(ctx) {
		return ErrNotLoggedIn
	}
	return m.api.ChangePassword(ctx, req)
}

// UploadAvatar uploads a new avatar and patches the cached profile in place
func (m *Manager) UploadAvatar(ctx context.Context, fileName string, content io.Reader) (string, error) {
	if fileName == "" || content == nil {
		return "", errors.New("avatar file is required")
	}
	done := m.begin()
	defer done()

	if !m.IsLoggedIn(ctx) {
		return "", ErrNotLoggedIn
	}
	url, err := m.api.UploadAvatar(ctx, fileName, content)
	if err != nil {
		return "", err
	}

	p, err := m.store.Profile(ctx)
	if err != nil || p == nil {
		return url, nil
	}
	p.Avatar = url
	if err := m.store.SetProfile(ctx, p); err != nil {
		m.logger.Warn("profile_persist_failed", zap.String("error", logger.SanitizeError(err)))
	}
	return url, nil
}
