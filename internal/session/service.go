package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/riskwise/console/internal/backend"
	"github.com/riskwise/console/internal/platform/telemetry"
)

// Login failure classes. Errors returned by Login wrap exactly one of these.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnavailable        = errors.New("service unavailable")
	ErrBackend            = errors.New("backend error")
	ErrNoSession          = errors.New("no active session")
)

// Audit actions emitted by the service.
const (
	ActionLoginSucceeded = "session.login"
	ActionLoginFailed    = "session.login_failed"
	ActionLogout         = "session.logout"
	ActionEnded          = "session.ended"
)

// Authenticator is the slice of the backend API the service needs.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*backend.LoginResponse, error)
	Logout(ctx context.Context) error
	Profile(ctx context.Context) (*backend.Profile, error)
}

// AuditLogger receives session lifecycle events.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent)
}

// AuditEvent captures a session transition.
type AuditEvent struct {
	ContextID string
	UserID    string
	Email     string
	Action    string
	Metadata  map[string]any
}

// Option configures a Service.
type Option func(*Service)

func WithAuditLogger(l AuditLogger) Option {
	return func(s *Service) { s.audit = l }
}

// WithClock overrides time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service is the only component that exchanges credentials with the backend
// and the only writer of the Store.
type Service struct {
	store Store
	api   Authenticator
	audit AuditLogger
	now   func() time.Time
	hub   *hub

	mu      sync.Mutex
	pending map[string]int
}

func NewService(store Store, api Authenticator, opts ...Option) *Service {
	s := &Service{
		store:   store,
		api:     api,
		now:     time.Now,
		hub:     newHub(),
		pending: make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login exchanges credentials for a session and persists it under
// contextID. On failure the stored state is left exactly as it was.
func (s *Service) Login(ctx context.Context, contextID, email, password string) (*Session, error) {
	done := s.begin(contextID)
	defer done()

	resp, err := s.api.Login(ctx, email, password)
	if err != nil {
		err = classifyLoginError(err)
		s.log(ctx, AuditEvent{
			ContextID: contextID,
			Email:     email,
			Action:    ActionLoginFailed,
			Metadata:  map[string]any{"reason": FailureMessage(err)},
		})
		return nil, err
	}

	user, err := UserFromProfile(resp.User)
	if err != nil {
		return nil, err
	}
	sess, err := New(resp.Token, user)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProfile, err)
	}
	if err := s.store.Save(ctx, contextID, sess); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	s.hub.publish(contextID, Event{Kind: EventStarted})
	s.log(ctx, AuditEvent{
		ContextID: contextID,
		UserID:    user.ID,
		Email:     user.Email,
		Action:    ActionLoginSucceeded,
		Metadata:  map[string]any{"role": string(user.Role)},
	})
	return sess, nil
}

// Logout ends the session of contextID. The backend is told on a best-effort
// basis; watchers are notified even when the local delete fails.
func (s *Service) Logout(ctx context.Context, contextID string) error {
	done := s.begin(contextID)
	defer done()

	logger := telemetry.FromContext(ctx)
	current, err := s.store.Load(ctx, contextID)
	if err != nil {
		logger.Warn("loading session for logout failed", "error", err)
	}
	if current != nil {
		if err := s.api.Logout(WithContextID(ctx, contextID)); err != nil {
			logger.Warn("backend logout failed", "error", err)
		}
	}

	delErr := s.store.Delete(context.WithoutCancel(ctx), contextID)
	s.hub.publish(contextID, Event{Kind: EventEnded, Reason: ReasonLogout})

	evt := AuditEvent{ContextID: contextID, Action: ActionLogout}
	if current != nil {
		evt.UserID = current.User.ID
		evt.Email = current.User.Email
	}
	s.log(ctx, evt)

	if delErr != nil {
		return fmt.Errorf("clearing session: %w", delErr)
	}
	return nil
}

// Current returns the stored session of contextID, or nil. A token whose
// JWT expiry has passed is cleared rather than returned.
func (s *Service) Current(ctx context.Context, contextID string) (*Session, error) {
	sess, err := s.store.Load(ctx, contextID)
	if err != nil || sess == nil {
		return nil, err
	}
	if tokenExpired(sess.Token, s.now()) {
		s.end(ctx, contextID, sess, ReasonExpired)
		return nil, nil
	}
	return sess, nil
}

// Token returns the bearer token of the session bound to ctx.
func (s *Service) Token(ctx context.Context) (string, bool) {
	id, ok := ContextID(ctx)
	if !ok {
		return "", false
	}
	sess, err := s.store.Load(ctx, id)
	if err != nil {
		telemetry.FromContext(ctx).Warn("loading session token failed", "error", err)
		return "", false
	}
	if sess == nil {
		return "", false
	}
	return sess.Token, true
}

// SessionRejected is the global policy for a backend rejection of the
// attached token. Only a session still holding token is cleared, so a late
// rejection of an older token leaves a newer login alone.
func (s *Service) SessionRejected(ctx context.Context, token string) {
	id, ok := ContextID(ctx)
	if !ok {
		return
	}
	sess, err := s.store.Load(ctx, id)
	if err != nil {
		telemetry.FromContext(ctx).Warn("loading session for rejection failed", "error", err)
		s.end(ctx, id, nil, ReasonRejected)
		return
	}
	if sess == nil || sess.Token != token {
		return
	}
	s.end(ctx, id, sess, ReasonRejected)
}

func (s *Service) end(ctx context.Context, contextID string, sess *Session, reason string) {
	if err := s.store.Delete(context.WithoutCancel(ctx), contextID); err != nil {
		telemetry.FromContext(ctx).Error("clearing session failed", "reason", reason, "error", err)
	}
	s.hub.publish(contextID, Event{Kind: EventEnded, Reason: reason})

	evt := AuditEvent{
		ContextID: contextID,
		Action:    ActionEnded,
		Metadata:  map[string]any{"reason": reason},
	}
	if sess != nil {
		evt.UserID = sess.User.ID
		evt.Email = sess.User.Email
	}
	s.log(ctx, evt)
}

// Pending reports whether a login or logout for contextID is in flight.
func (s *Service) Pending(contextID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[contextID] > 0
}

// Watch subscribes to session events of contextID. The returned func
// unsubscribes and closes the channel.
func (s *Service) Watch(contextID string) (<-chan Event, func()) {
	return s.hub.subscribe(contextID)
}

// Refresh re-reads the profile for the stored token and saves it back. It is
// a no-op returning ErrNoSession when nothing is stored.
func (s *Service) Refresh(ctx context.Context, contextID string) (*Session, error) {
	current, err := s.Current(ctx, contextID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrNoSession
	}

	profile, err := s.api.Profile(WithContextID(ctx, contextID))
	if err != nil {
		if backend.IsUnauthenticated(err) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("refreshing profile: %w", err)
	}
	user, err := UserFromProfile(profile)
	if err != nil {
		return nil, err
	}
	refreshed, err := New(current.Token, user)
	if err != nil {
		return nil, err
	}

	// A logout may have landed while the profile was in flight.
	latest, err := s.store.Load(ctx, contextID)
	if err != nil {
		return nil, err
	}
	if latest == nil || latest.Token != current.Token {
		return nil, ErrNoSession
	}
	if err := s.store.Save(ctx, contextID, refreshed); err != nil {
		return nil, fmt.Errorf("saving refreshed session: %w", err)
	}
	return refreshed, nil
}

func (s *Service) begin(contextID string) func() {
	s.mu.Lock()
	s.pending[contextID]++
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.pending[contextID]--; s.pending[contextID] <= 0 {
			delete(s.pending, contextID)
		}
	}
}

func (s *Service) log(ctx context.Context, evt AuditEvent) {
	if s.audit != nil {
		s.audit.Log(ctx, evt)
	}
}

// loginError keeps the backend's own message next to the failure class.
type loginError struct {
	class   error
	message string
	cause   error
}

func (e *loginError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.class, e.cause)
	}
	return e.class.Error()
}

func (e *loginError) Unwrap() []error {
	if e.cause == nil {
		return []error{e.class}
	}
	return []error{e.class, e.cause}
}

func classifyLoginError(err error) error {
	var be *backend.Error
	if !errors.As(err, &be) {
		return &loginError{class: ErrBackend, cause: err}
	}
	switch be.Kind {
	case backend.KindUnauthenticated, backend.KindForbidden, backend.KindInvalid, backend.KindNotFound:
		return &loginError{class: ErrInvalidCredentials, message: be.Message, cause: err}
	case backend.KindNetwork, backend.KindTimeout, backend.KindCanceled:
		return &loginError{class: ErrUnavailable, cause: err}
	default:
		return &loginError{class: ErrBackend, cause: err}
	}
}

// FailureMessage is the human-readable reason shown for a failed login.
func FailureMessage(err error) string {
	var le *loginError
	if errors.As(err, &le) && le.message != "" {
		return le.message
	}
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid email or password."
	case errors.Is(err, ErrUnavailable):
		return "Unable to reach RiskWise. Check your connection and try again."
	case errors.Is(err, ErrInvalidProfile):
		return "Your account profile could not be loaded. Contact an administrator."
	default:
		return "RiskWise is having trouble right now. Please try again later."
	}
}
