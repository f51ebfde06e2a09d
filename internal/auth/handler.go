package auth

import (
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strings"

	"github.com/riskwise/console/internal/platform/telemetry"
	"github.com/riskwise/console/internal/session"
)

var loginPage = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Sign in · RiskWise</title></head>
<body>
<main class="login">
  <h1>RiskWise</h1>
  {{if .Error}}<p class="error" role="alert">{{.Error}}</p>{{end}}
  <form method="post" action="/login">
    <label>Email <input type="email" name="email" value="{{.Email}}" required autofocus></label>
    <label>Password <input type="password" name="password" required></label>
    <button type="submit">Sign in</button>
  </form>
</main>
</body>
</html>
`))

type loginView struct {
	Email string
	Error string
}

// Handler serves the login form and session endpoints.
type Handler struct {
	cookies *CookieCodec
}

func NewHandler(cookies *CookieCodec) *Handler {
	return &Handler{cookies: cookies}
}

// RegisterRoutes registers auth routes on the given mux. Every route expects
// Hydrate to have run.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /login", h.HandleLoginPage)
	mux.HandleFunc("POST /login", h.HandleLogin)
	mux.HandleFunc("POST /logout", h.HandleLogout)
	mux.HandleFunc("GET /api/session", h.HandleSession)
	mux.HandleFunc("POST /api/session/refresh", h.HandleRefresh)
}

func (h *Handler) HandleLoginPage(w http.ResponseWriter, r *http.Request) {
	if ac := FromContext(r.Context()); ac != nil && ac.IsAuthenticated() {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	renderLogin(w, http.StatusOK, loginView{})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleLogin accepts a form post or a JSON body. Failures are reported
// inline and never touch the stored session or the cookie.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ac := FromContext(r.Context())
	if ac == nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "session unavailable"})
		return
	}

	asJSON := strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
	var req loginRequest
	if asJSON {
		r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	} else {
		req.Email = r.PostFormValue("email")
		req.Password = r.PostFormValue("password")
	}
	req.Email = strings.TrimSpace(req.Email)

	if req.Email == "" || req.Password == "" {
		msg := "Email and password are required."
		if asJSON {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
			return
		}
		renderLogin(w, http.StatusBadRequest, loginView{Email: req.Email, Error: msg})
		return
	}

	// A successful login always moves to a fresh context id so a cookie
	// planted before sign-in never becomes authenticated.
	newID := h.cookies.NewID()
	if err := ac.Login(r.Context(), newID, req.Email, req.Password); err != nil {
		status := loginFailureStatus(err)
		if status >= http.StatusInternalServerError {
			telemetry.FromContext(r.Context()).Warn("login failed", "error", err)
		}
		msg := session.FailureMessage(err)
		if asJSON {
			writeJSON(w, status, map[string]string{"error": msg})
			return
		}
		renderLogin(w, status, loginView{Email: req.Email, Error: msg})
		return
	}
	h.cookies.Write(w, newID)

	if asJSON {
		writeJSON(w, http.StatusOK, ac.Snapshot())
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleLogout ends the session and rotates the context cookie. It always
// lands on the login page.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if ac := FromContext(r.Context()); ac != nil {
		if err := ac.Logout(r.Context()); err != nil {
			telemetry.FromContext(r.Context()).Error("logout failed", "error", err)
		}
	}
	h.cookies.Write(w, h.cookies.NewID())
	http.Redirect(w, r, LoginPath, http.StatusSeeOther)
}

func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	ac := FromContext(r.Context())
	if ac == nil {
		writeJSON(w, http.StatusOK, Snapshot{})
		return
	}
	writeJSON(w, http.StatusOK, ac.Snapshot())
}

func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	ac := FromContext(r.Context())
	if ac == nil || !ac.IsAuthenticated() {
		RedirectToLogin(w, r)
		return
	}
	if err := ac.Refresh(r.Context()); err != nil {
		if errors.Is(err, session.ErrNoSession) {
			RedirectToLogin(w, r)
			return
		}
		telemetry.FromContext(r.Context()).Warn("profile refresh failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "profile refresh failed"})
		return
	}
	writeJSON(w, http.StatusOK, ac.Snapshot())
}

func loginFailureStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, session.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func renderLogin(w http.ResponseWriter, status int, v loginView) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = loginPage.Execute(w, v)
}
