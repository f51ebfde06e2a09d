package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/riskwise/console/internal/assistant"
	"github.com/riskwise/console/internal/audit"
	"github.com/riskwise/console/internal/auth"
	"github.com/riskwise/console/internal/backend"
	"github.com/riskwise/console/internal/backend/backendtest"
	"github.com/riskwise/console/internal/dashboard"
	"github.com/riskwise/console/internal/live"
	"github.com/riskwise/console/internal/platform/server"
	"github.com/riskwise/console/internal/rbac"
	"github.com/riskwise/console/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_HealthCheck(t *testing.T) {
	srv := server.New(":0", server.Dependencies{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	err := json.Unmarshal(w.Body.Bytes(), &body)
	require.NoError(t, err)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestServer_ReadinessCheck_NoStores(t *testing.T) {
	srv := server.New(":0", server.Dependencies{})

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ready"`)
}

func TestServer_NotFound(t *testing.T) {
	srv := server.New(":0", server.Dependencies{})

	req := httptest.NewRequest(http.MethodGet, "/nonexistent", nil)
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_StartStop(t *testing.T) {
	srv := server.New("127.0.0.1:0", server.Dependencies{})

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	cancel()

	err := <-errCh
	assert.NoError(t, err)
}

type deniedSink struct {
	mu     sync.Mutex
	events []rbac.AuditEvent
}

func (s *deniedSink) Log(_ context.Context, e rbac.AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *deniedSink) all() []rbac.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]rbac.AuditEvent(nil), s.events...)
}

type console struct {
	api    *backendtest.Server
	url    string
	client *http.Client
	denied *deniedSink
}

func newConsole(t *testing.T) *console {
	t.Helper()
	api := backendtest.New(t)
	client := backend.New(api.URL(), backend.WithTimeout(2*time.Second))
	svc := session.NewService(session.NewMemoryStore(), client)
	client.Bind(svc, svc)

	cookies, err := auth.NewCookieCodec("rw_ctx", []byte("server-test-signing-key"), false, time.Hour)
	require.NoError(t, err)

	catalogue := dashboard.NewCatalogue(client, dashboard.CatalogueConfig{})
	denied := &deniedSink{}
	srv := server.New(":0", server.Dependencies{
		Sessions:         svc,
		Cookies:          cookies,
		AuthHandler:      auth.NewHandler(cookies),
		DashboardHandler: dashboard.NewHandler(client, catalogue, assistant.New(assistant.DefaultRules())),
		LiveHandler:      live.NewHandler(catalogue, svc, nil),
		AuditHandler:     audit.NewHandler(nil, nil),
		RBACAuditLogger:  denied,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &console{
		api: api,
		url: ts.URL,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		denied: denied,
	}
}

func (c *console) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp, err := c.client.Get(c.url + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func (c *console) login(t *testing.T, email, password string) *http.Response {
	t.Helper()
	resp, err := c.client.PostForm(c.url+"/login", url.Values{"email": {email}, "password": {password}})
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp
}

func TestConsole_AnonymousIsRedirected(t *testing.T) {
	c := newConsole(t)

	resp, _ := c.get(t, "/dashboard")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))

	resp, body := c.get(t, "/api/widgets/metrics")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.JSONEq(t, `{"redirect":"/login"}`, body)

	resp, body = c.get(t, "/login")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `name="password"`)
}

func TestConsole_AdminFlow(t *testing.T) {
	c := newConsole(t)

	resp := c.login(t, backendtest.AdminEmail, backendtest.AdminPassword)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))

	resp, _ = c.get(t, "/")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/admin/users", resp.Header.Get("Location"))

	resp, body := c.get(t, "/admin/users")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "u-admin")

	resp, body = c.get(t, "/audit")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, body, "auditor")

	events := c.denied.all()
	require.Len(t, events, 1)
	assert.Equal(t, rbac.ActionAccessDenied, events[0].Action)
	assert.Equal(t, "u-admin", events[0].UserID)
	assert.Equal(t, "/audit", events[0].Metadata["path"])

	resp, body = c.get(t, "/api/widgets/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "$2.4B")
}

func TestConsole_BadCredentialsStayOnLogin(t *testing.T) {
	c := newConsole(t)

	resp, err := c.client.PostForm(c.url+"/login", url.Values{
		"email":    {backendtest.AdminEmail},
		"password": {"wrong"},
	})
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, string(body), "Invalid credentials")
	assert.Contains(t, string(body), backendtest.AdminEmail)

	resp, _ = c.get(t, "/dashboard")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
}

func TestConsole_BackendRejectionEndsSession(t *testing.T) {
	c := newConsole(t)
	require.Equal(t, http.StatusSeeOther, c.login(t, backendtest.AdminEmail, backendtest.AdminPassword).StatusCode)

	c.api.RevokeAll()

	resp, body := c.get(t, "/api/widgets/alerts")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.JSONEq(t, `{"redirect":"/login"}`, body)

	// The session is gone for every later request of this browser.
	resp, _ = c.get(t, "/dashboard")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
}

func TestConsole_Logout(t *testing.T) {
	c := newConsole(t)
	require.Equal(t, http.StatusSeeOther, c.login(t, backendtest.AdminEmail, backendtest.AdminPassword).StatusCode)

	resp, err := c.client.Post(c.url+"/logout", "application/x-www-form-urlencoded", strings.NewReader(""))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))

	resp, _ = c.get(t, "/admin/users")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Contains(t, c.api.Requests(), "POST /auth/logout")
}

func TestConsole_AuditorListsEvents(t *testing.T) {
	c := newConsole(t)
	c.api.AddAccount("auditor@riskwise.com", "Audit2024!", "auditor", "audit:read")
	require.Equal(t, http.StatusSeeOther, c.login(t, "auditor@riskwise.com", "Audit2024!").StatusCode)

	resp, body := c.get(t, "/api/audit/events")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"count":0`)

	resp, body = c.get(t, "/api/admin/settings")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, body, `"forbidden"`)
}
