package auth

import (
	"context"
	"sync"

	"github.com/riskwise/console/internal/platform/telemetry"
	"github.com/riskwise/console/internal/session"
)

// Sessions is the session service as seen by the auth layer.
type Sessions interface {
	Login(ctx context.Context, contextID, email, password string) (*session.Session, error)
	Logout(ctx context.Context, contextID string) error
	Current(ctx context.Context, contextID string) (*session.Session, error)
	Refresh(ctx context.Context, contextID string) (*session.Session, error)
	Pending(contextID string) bool
}

// Context is the per-request view of who is signed in. It holds one session
// pointer; authentication is derived from it, so user and authenticated
// state can never disagree.
type Context struct {
	svc Sessions

	mu   sync.RWMutex
	id   string
	sess *session.Session
}

// NewContext builds a Context for contextID around an already hydrated
// session (nil when anonymous).
func NewContext(svc Sessions, contextID string, sess *session.Session) *Context {
	return &Context{svc: svc, id: contextID, sess: sess}
}

// ID is the browser context id.
func (c *Context) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

func (c *Context) User() *session.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.sess == nil {
		return nil
	}
	u := c.sess.User
	return &u
}

func (c *Context) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sess != nil
}

// Loading is true only while a login or logout for this context is in
// flight. Hydration never sets it.
func (c *Context) Loading() bool {
	return c.svc.Pending(c.ID())
}

// Snapshot is a consistent read of the auth state.
type Snapshot struct {
	User            *session.User `json:"user"`
	IsAuthenticated bool          `json:"isAuthenticated"`
	Loading         bool          `json:"loading"`
}

func (c *Context) Snapshot() Snapshot {
	c.mu.RLock()
	id, sess := c.id, c.sess
	c.mu.RUnlock()

	s := Snapshot{Loading: c.svc.Pending(id)}
	if sess != nil {
		u := sess.User
		s.User = &u
		s.IsAuthenticated = true
	}
	return s
}

// Login proxies to the session service under newID, a context id minted
// for this login, and adopts both the id and the session. The caller must
// hand newID to the browser. A session still held under the previous id is
// ended; on failure the context keeps its old id and session.
func (c *Context) Login(ctx context.Context, newID, email, password string) error {
	sess, err := c.svc.Login(ctx, newID, email, password)
	if err != nil {
		return err
	}

	c.mu.Lock()
	oldID, prev := c.id, c.sess
	c.id, c.sess = newID, sess
	c.mu.Unlock()

	if prev != nil && oldID != newID {
		if err := c.svc.Logout(ctx, oldID); err != nil {
			telemetry.FromContext(ctx).Warn("ending superseded session failed", "error", err)
		}
	}
	return nil
}

// Logout always leaves the context anonymous, even when the store fails.
func (c *Context) Logout(ctx context.Context) error {
	err := c.svc.Logout(ctx, c.ID())
	c.set(nil)
	return err
}

// Refresh re-reads the profile; a missing session leaves the context
// anonymous.
func (c *Context) Refresh(ctx context.Context) error {
	sess, err := c.svc.Refresh(ctx, c.ID())
	switch {
	case err == nil:
		c.set(sess)
	case errorsIsNoSession(err):
		c.set(nil)
	}
	return err
}

// Clear drops the session from this request's view after the backend
// rejected it.
func (c *Context) Clear() { c.set(nil) }

func (c *Context) set(sess *session.Session) {
	c.mu.Lock()
	c.sess = sess
	c.mu.Unlock()
}

type authContextKey struct{}

// WithContext attaches ac to ctx together with its context id.
func WithContext(ctx context.Context, ac *Context) context.Context {
	ctx = session.WithContextID(ctx, ac.ID())
	return context.WithValue(ctx, authContextKey{}, ac)
}

// FromContext returns the Context attached by Hydrate, or nil.
func FromContext(ctx context.Context) *Context {
	ac, _ := ctx.Value(authContextKey{}).(*Context)
	return ac
}
