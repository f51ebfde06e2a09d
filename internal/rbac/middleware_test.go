package rbac_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/riskwise/console/internal/auth"
	"github.com/riskwise/console/internal/rbac"
	"github.com/riskwise/console/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// idleSessions satisfies auth.Sessions for requests that never log in or out.
type idleSessions struct{ auth.Sessions }

func (idleSessions) Pending(string) bool { return false }

func withUser(r *http.Request, u *session.User) *http.Request {
	var sess *session.Session
	if u != nil {
		s, err := session.New("tok", u)
		if err != nil {
			panic(err)
		}
		sess = s
	}
	ac := auth.NewContext(idleSessions{}, "ctx-1", sess)
	return r.WithContext(auth.WithContext(r.Context(), ac))
}

type auditRecorder struct{ events []rbac.AuditEvent }

func (a *auditRecorder) Log(_ context.Context, e rbac.AuditEvent) { a.events = append(a.events, e) }

func okHandler(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }

func TestRequire_Allowed(t *testing.T) {
	handler := rbac.Require(rbac.Requirement{Role: session.RoleAdmin})(http.HandlerFunc(okHandler))

	req := withUser(httptest.NewRequest(http.MethodGet, "/admin/users", nil), user(session.RoleAdmin))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequire_AnonymousRedirects(t *testing.T) {
	handler := rbac.Require(rbac.Requirement{})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("should not reach handler")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, withUser(httptest.NewRequest(http.MethodGet, "/dashboard", nil), nil))
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/login", w.Header().Get("Location"))

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/widgets/metrics", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequire_DeniedPage(t *testing.T) {
	audit := &auditRecorder{}
	handler := rbac.Require(rbac.Requirement{Role: session.RoleAuditor}, rbac.WithAuditLogger(audit))(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) { t.Fatal("should not reach handler") }))

	req := withUser(httptest.NewRequest(http.MethodGet, "/audit", nil), user(session.RoleAdmin))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "Access denied")
	assert.Contains(t, body, "auditor")
	assert.Contains(t, body, `href="/dashboard"`)

	require.Len(t, audit.events, 1)
	assert.Equal(t, rbac.ActionAccessDenied, audit.events[0].Action)
	assert.Equal(t, "ctx-1", audit.events[0].ContextID)
	assert.Equal(t, "u1", audit.events[0].UserID)
	assert.Equal(t, "/audit", audit.events[0].Metadata["path"])
}

func TestRequire_DeniedJSON(t *testing.T) {
	handler := rbac.Require(rbac.Requirement{Permission: "reports:generate"})(http.HandlerFunc(okHandler))

	req := withUser(httptest.NewRequest(http.MethodPost, "/api/reports/generate", nil), user(session.RoleAnalyst, "reports:read"))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "forbidden", body["error"])
	assert.Contains(t, body["reason"], "reports:generate")
}
