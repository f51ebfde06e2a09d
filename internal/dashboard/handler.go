package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/riskwise/console/internal/assistant"
	"github.com/riskwise/console/internal/auth"
	"github.com/riskwise/console/internal/backend"
	"github.com/riskwise/console/internal/rbac"
	"github.com/riskwise/console/internal/session"
)

const maxForwardBody = 1 << 20

// Audit actions for admin changes made through the console.
const (
	ActionUserCreated       = "admin.user.created"
	ActionUserUpdated       = "admin.user.updated"
	ActionUserDeleted       = "admin.user.deleted"
	ActionDataSourceTested  = "admin.data_source.tested"
	ActionSettingsUpdated   = "admin.settings.updated"
	ActionReportGenerated   = "report.generated"
	ActionAssistantQuestion = "assistant.asked"
)

// AuditLogger receives admin actions.
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

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

func WithAuditLogger(l AuditLogger) HandlerOption {
	return func(h *Handler) { h.audit = l }
}

// Handler serves the dashboard pages and their JSON endpoints.
type Handler struct {
	api       API
	widgets   *Catalogue
	assistant *assistant.Assistant
	audit     AuditLogger
}

func NewHandler(api API, widgets *Catalogue, asst *assistant.Assistant, opts ...HandlerOption) *Handler {
	h := &Handler{api: api, widgets: widgets, assistant: asst}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes registers every dashboard route, each behind its guard.
func (h *Handler) RegisterRoutes(mux *http.ServeMux, rbacOpts ...rbac.MiddlewareOption) {
	guard := func(req rbac.Requirement, fn http.HandlerFunc) http.Handler {
		return rbac.Require(req, rbacOpts...)(fn)
	}
	admin := rbac.Requirement{Role: session.RoleAdmin}

	mux.Handle("GET /{$}", guard(rbac.Requirement{}, h.homeRedirect))
	for _, v := range Views() {
		mux.Handle("GET "+v.Path, guard(v.Requirement, func(w http.ResponseWriter, r *http.Request) {
			h.renderView(w, r, v)
		}))
	}

	mux.Handle("GET /api/widgets/{name}", guard(rbac.Requirement{}, h.HandleWidget))
	mux.Handle("POST /api/assistant", guard(rbac.Requirement{}, h.HandleAssistant))

	mux.Handle("POST /api/admin/users", guard(admin, h.forward(http.MethodPost, ActionUserCreated,
		func(*http.Request) string { return backend.PathUsers })))
	mux.Handle("PUT /api/admin/users/{id}", guard(admin, h.forward(http.MethodPut, ActionUserUpdated,
		func(r *http.Request) string { return backend.PathUsers + "/" + url.PathEscape(r.PathValue("id")) })))
	mux.Handle("DELETE /api/admin/users/{id}", guard(admin, h.forward(http.MethodDelete, ActionUserDeleted,
		func(r *http.Request) string { return backend.PathUsers + "/" + url.PathEscape(r.PathValue("id")) })))
	mux.Handle("POST /api/admin/data-sources/{id}/test", guard(admin, h.forward(http.MethodPost, ActionDataSourceTested,
		func(r *http.Request) string {
			return backend.PathDataSources + "/" + url.PathEscape(r.PathValue("id")) + "/test"
		})))
	mux.Handle("GET /api/admin/settings", guard(admin, h.forward(http.MethodGet, "",
		func(*http.Request) string { return backend.PathSettings })))
	mux.Handle("PUT /api/admin/settings", guard(admin, h.forward(http.MethodPut, ActionSettingsUpdated,
		func(*http.Request) string { return backend.PathSettings })))
	mux.Handle("POST /api/reports/generate", guard(rbac.Requirement{Permission: PermReportsGenerate},
		h.forward(http.MethodPost, ActionReportGenerated,
			func(*http.Request) string { return backend.PathReportsGenerate })))
}

// HandleWidget serves one widget as a single JSON state document.
func (h *Handler) HandleWidget(w http.ResponseWriter, r *http.Request) {
	widget, ok := h.widgets.Lookup(r.PathValue("name"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown widget"})
		return
	}

	user := auth.FromContext(r.Context()).User()
	if d := rbac.Evaluate(user != nil, user, widget.Requirement); !d.Allowed() {
		if d.Outcome == rbac.Redirect {
			auth.RedirectToLogin(w, r)
			return
		}
		rbac.RenderDenied(w, r, d.Reason)
		return
	}

	params := Params{}
	for k, vals := range r.URL.Query() {
		if len(vals) > 0 {
			params[k] = vals[0]
		}
	}

	st := widget.Load(r.Context(), params)
	if st.Cause != nil {
		writeBackendError(w, r, st.Cause)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type assistantRequest struct {
	Message string `json:"message"`
}

type assistantResponse struct {
	Reply string `json:"reply"`
	Topic string `json:"topic,omitempty"`
}

func (h *Handler) HandleAssistant(w http.ResponseWriter, r *http.Request) {
	var req assistantRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}

	reply, topic := h.assistant.Reply(req.Message)
	h.log(r, ActionAssistantQuestion, map[string]any{"topic": topic})
	writeJSON(w, http.StatusOK, assistantResponse{Reply: reply, Topic: topic})
}

// forward relays the request body to the backend unchanged and the backend
// reply back to the browser. action, when set, is audited on success.
func (h *Handler) forward(method, action string, target func(*http.Request) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body any
		if method == http.MethodPost || method == http.MethodPut {
			raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxForwardBody))
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "request body too large"})
					return
				}
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "reading request body failed"})
				return
			}
			if len(raw) > 0 {
				if !json.Valid(raw) {
					writeJSON(w, http.StatusBadRequest, map[string]string{"error": "request body must be JSON"})
					return
				}
				body = json.RawMessage(raw)
			}
		}

		path := target(r)
		resp, err := h.api.Raw(r.Context(), method, path, nil, body)
		if err != nil {
			writeBackendError(w, r, err)
			return
		}
		if action != "" {
			meta := map[string]any{"path": path}
			if id := r.PathValue("id"); id != "" {
				meta["id"] = id
			}
			h.log(r, action, meta)
		}

		if len(resp) == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(resp)
	}
}

func (h *Handler) log(r *http.Request, action string, meta map[string]any) {
	if h.audit == nil {
		return
	}
	evt := AuditEvent{Action: action, Metadata: meta}
	if ac := auth.FromContext(r.Context()); ac != nil {
		evt.ContextID = ac.ID()
		if u := ac.User(); u != nil {
			evt.UserID = u.ID
			evt.Email = u.Email
		}
	}
	h.audit.Log(r.Context(), evt)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
