// Package backendtest runs an in-process stand-in for the RiskWise REST API.
package backendtest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/riskwise/console/internal/backend"
)

// Default account, matching the demo credentials of the real API.
const (
	AdminEmail    = "admin@riskwise.com"
	AdminPassword = "RiskWise2024!"
)

type account struct {
	password string
	token    string
	profile  backend.Profile
}

// Server is a fake API. Every route except login and logout demands a
// bearer token it issued and has not revoked.
type Server struct {
	srv *httptest.Server

	mu        sync.Mutex
	accounts  map[string]account
	tokens    map[string]string // token -> email
	responses map[string]string // "METHOD /path" -> body
	failures  map[string]int    // "/path" -> status
	requests  []string
}

// New starts a server with the admin account and canned dashboard data.
func New(t *testing.T) *Server {
	t.Helper()
	s := &Server{
		accounts:  make(map[string]account),
		tokens:    make(map[string]string),
		responses: make(map[string]string),
		failures:  make(map[string]int),
	}
	s.AddAccount(AdminEmail, AdminPassword, "admin", "users:manage", "reports:read", "reports:generate")
	for path, body := range map[string]string{
		backend.PathMetrics:         `{"totalExposure":"$2.4B","activeAlerts":12,"complianceScore":94}`,
		backend.PathAlerts:          `{"alerts":[{"id":"a1","severity":"high"}],"page":1}`,
		backend.PathInsights:        `{"insights":[{"id":"i1","title":"Live insight"}]}`,
		backend.PathHealth:          `{"status":"healthy"}`,
		backend.PathDataSources:     `{"dataSources":[{"id":"ds1","name":"Core banking"}]}`,
		backend.PathSettings:        `{"retentionDays":90}`,
		backend.PathRiskAssessments: `{"assessments":[{"id":"r1","score":72}]}`,
		backend.PathCompliance:      `{"frameworks":[{"name":"Basel III","status":"compliant"}]}`,
		backend.PathReports:         `{"reports":[{"id":"rep1"}]}`,
		backend.PathUsers:           `{"users":[{"id":"u-admin"}]}`,
	} {
		s.responses[http.MethodGet+" "+path] = body
	}

	s.srv = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.srv.Close)
	return s
}

// URL is the API base URL, including the /api prefix.
func (s *Server) URL() string { return s.srv.URL + "/api" }

// AddAccount registers credentials for a user with role and permissions.
func (s *Server) AddAccount(email, password, role string, perms ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := "u-" + strings.SplitN(email, "@", 2)[0]
	s.accounts[email] = account{
		password: password,
		token:    "tok-" + id,
		profile: backend.Profile{
			ID:          id,
			Email:       email,
			FirstName:   strings.ToUpper(id[2:3]) + id[3:],
			LastName:    "Test",
			Role:        role,
			Permissions: perms,
			Department:  "Risk",
		},
	}
}

// SetResponse fixes the body returned for method and path.
func (s *Server) SetResponse(method, path, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[method+" "+path] = body
}

// Fail makes every request to path answer with status.
func (s *Server) Fail(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = status
}

// RevokeAll invalidates every issued token, as an expired backend session
// would.
func (s *Server) RevokeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.tokens)
}

// Requests lists "METHOD /path" of every request received, in order.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api")
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, r.Method+" "+path)

	switch path {
	case "/auth/login":
		var creds struct{ Email, Password string }
		_ = json.Unmarshal(body, &creds)
		acct, ok := s.accounts[creds.Email]
		if !ok || acct.password != creds.Password {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "Invalid credentials"})
			return
		}
		s.tokens[acct.token] = creds.Email
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "token": acct.token, "user": acct.profile})
		return
	case "/auth/logout":
		delete(s.tokens, strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		w.WriteHeader(http.StatusNoContent)
		return
	}

	email, ok := s.tokens[strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")]
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Token expired"})
		return
	}
	if status, ok := s.failures[path]; ok {
		writeJSON(w, status, map[string]string{"message": http.StatusText(status)})
		return
	}
	if path == "/auth/profile" {
		writeJSON(w, http.StatusOK, s.accounts[email].profile)
		return
	}
	if canned, ok := s.responses[r.Method+" "+path]; ok {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(canned))
		return
	}
	if r.Method != http.MethodGet {
		echo := map[string]any{"ok": true}
		if len(body) > 0 {
			echo["received"] = json.RawMessage(body)
		}
		writeJSON(w, http.StatusOK, echo)
		return
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "not found"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
