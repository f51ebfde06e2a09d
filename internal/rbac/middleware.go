package rbac

import (
	"context"
	"encoding/json"
	"html/template"
	"net/http"

	"github.com/riskwise/console/internal/auth"
)

// ActionAccessDenied is the audit action for a guard denial.
const ActionAccessDenied = "access.denied"

// AuditLogger is the audit interface for RBAC denial logging.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent)
}

// AuditEvent captures an auditable action.
type AuditEvent struct {
	ContextID string
	UserID    string
	Email     string
	Action    string
	Metadata  map[string]any
}

// MiddlewareOption configures RBAC middleware behavior.
type MiddlewareOption func(*middlewareConfig)

type middlewareConfig struct {
	audit AuditLogger
}

// WithAuditLogger attaches an audit logger to log RBAC denials.
func WithAuditLogger(logger AuditLogger) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.audit = logger
	}
}

// Require guards next with req. Unauthenticated visitors get the hard
// redirect to login; authenticated users who fall short get an explained
// 403.
func Require(req Requirement, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	var mc middlewareConfig
	for _, opt := range opts {
		opt(&mc)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac := auth.FromContext(r.Context())
			if ac == nil {
				auth.RedirectToLogin(w, r)
				return
			}

			// One snapshot so user and authenticated come from the same read.
			snap := ac.Snapshot()
			decision := Evaluate(snap.IsAuthenticated, snap.User, req)
			switch decision.Outcome {
			case Allow:
				next.ServeHTTP(w, r)
			case Redirect:
				auth.RedirectToLogin(w, r)
			default:
				if mc.audit != nil {
					evt := AuditEvent{
						ContextID: ac.ID(),
						Action:    ActionAccessDenied,
						Metadata: map[string]any{
							"path":   r.URL.Path,
							"reason": decision.Reason,
						},
					}
					if snap.User != nil {
						evt.UserID = snap.User.ID
						evt.Email = snap.User.Email
					}
					mc.audit.Log(r.Context(), evt)
				}
				RenderDenied(w, r, decision.Reason)
			}
		})
	}
}

var deniedPage = template.Must(template.New("denied").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Access denied · RiskWise</title></head>
<body>
<main class="access-denied">
  <h1>Access denied</h1>
  <p>{{.}}</p>
  <nav>
    <a href="/">Go to your home page</a>
    <a href="/dashboard">Back to the dashboard</a>
  </nav>
</main>
</body>
</html>
`))

// RenderDenied writes the access-denied notice as a page or, for API
// requests, as JSON.
func RenderDenied(w http.ResponseWriter, r *http.Request, reason string) {
	if auth.WantsJSON(r) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":  "forbidden",
			"reason": reason,
		})
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusForbidden)
	_ = deniedPage.Execute(w, reason)
}
