package dashboard

import (
	"context"
	"errors"
	"net/http"

	"github.com/riskwise/console/internal/auth"
	"github.com/riskwise/console/internal/backend"
	"github.com/riskwise/console/internal/platform/telemetry"
)

// ErrorMessage is the user-facing text for a failed backend call.
func ErrorMessage(err error) string {
	var be *backend.Error
	if !errors.As(err, &be) {
		if errors.Is(err, context.DeadlineExceeded) {
			return "The request timed out. Please try again."
		}
		return "Failed to load data."
	}
	switch be.Kind {
	case backend.KindNetwork, backend.KindTimeout:
		return "The RiskWise service is unreachable. Please try again."
	case backend.KindUnauthenticated:
		return "Your session has ended. Please sign in again."
	case backend.KindForbidden:
		return "You do not have access to this data."
	case backend.KindNotFound:
		return "The requested data was not found."
	case backend.KindInvalid:
		if be.Message != "" {
			return be.Message
		}
		return "The request was rejected."
	default:
		return "Failed to load data."
	}
}

func statusFor(err error) int {
	switch backend.KindOf(err) {
	case backend.KindForbidden:
		return http.StatusForbidden
	case backend.KindNotFound:
		return http.StatusNotFound
	case backend.KindInvalid:
		return http.StatusBadRequest
	case backend.KindNetwork, backend.KindTimeout, backend.KindCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// writeBackendError turns a failed backend call into a response. A rejected
// session has already been cleared by the transport; here the request
// follows it to the login page.
func writeBackendError(w http.ResponseWriter, r *http.Request, err error) {
	if backend.IsUnauthenticated(err) {
		if ac := auth.FromContext(r.Context()); ac != nil {
			ac.Clear()
		}
		auth.RedirectToLogin(w, r)
		return
	}
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		telemetry.FromContext(r.Context()).Warn("backend call failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": ErrorMessage(err)})
}
