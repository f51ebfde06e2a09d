package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/riskwise/console/internal/platform/telemetry"
	"github.com/riskwise/console/internal/session"
)

// LoginPath is where unauthenticated visitors are sent.
const LoginPath = "/login"

// Hydrate resolves the browser context from its signed cookie, minting one
// when absent or forged, and synchronously loads the stored session before
// the handler runs. A store failure is logged and the request continues
// anonymous.
func Hydrate(svc Sessions, cookies *CookieCodec) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			id, ok := cookies.Read(r)
			if !ok {
				id = cookies.NewID()
				cookies.Write(w, id)
			}

			var sess *session.Session
			if ok {
				var err error
				sess, err = svc.Current(ctx, id)
				if err != nil {
					telemetry.FromContext(ctx).Error("hydrating session failed", "error", err)
					sess = nil
				}
			}

			ac := NewContext(svc, id, sess)
			next.ServeHTTP(w, r.WithContext(WithContext(ctx, ac)))
		})
	}
}

// WantsJSON reports whether r expects a JSON reply rather than a page.
func WantsJSON(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return true
	}
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/html")
}

// RedirectToLogin performs the hard redirect: 303 for pages, a 401 JSON body
// naming the login path for API calls.
func RedirectToLogin(w http.ResponseWriter, r *http.Request) {
	if WantsJSON(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"redirect": LoginPath})
		return
	}
	http.Redirect(w, r, LoginPath, http.StatusSeeOther)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func errorsIsNoSession(err error) bool {
	return errors.Is(err, session.ErrNoSession)
}
