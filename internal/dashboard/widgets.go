package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/riskwise/console/internal/assistant"
	"github.com/riskwise/console/internal/backend"
	"github.com/riskwise/console/internal/fetch"
	"github.com/riskwise/console/internal/rbac"
	"github.com/riskwise/console/internal/session"
)

// API is the slice of the backend client the dashboard needs.
type API interface {
	Raw(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error)
}

// Params are the client-chosen inputs of a widget, e.g. page and severity.
type Params map[string]string

// Widget is one data panel. Its params are the loader dependencies.
type Widget struct {
	Name        string
	Title       string
	Requirement rbac.Requirement
	Poll        time.Duration
	Fetch       func(ctx context.Context, p Params) (any, error)
	Fallback    func(err error) (any, bool)

	normalize func(Params) Params
}

// Normalize drops params the widget does not understand and fills defaults,
// so equal requests compare equal.
func (w Widget) Normalize(p Params) Params {
	if w.normalize == nil {
		return Params{}
	}
	return w.normalize(p)
}

// Load runs the widget once through a fetch loader and returns the settled
// state.
func (w Widget) Load(ctx context.Context, p Params) fetch.State[any] {
	opts := []fetch.Option[any]{fetch.WithErrorText[any](ErrorMessage)}
	if w.Fallback != nil {
		opts = append(opts, fetch.WithFallback(w.Fallback))
	}
	l := fetch.New(ctx, opts...)
	defer l.Close()

	p = w.Normalize(p)
	l.Load(func(ctx context.Context) (any, error) { return w.Fetch(ctx, p) }, p)
	l.Wait()
	st := l.State()
	if st.Loading {
		// The request context ended before the producer settled.
		err := ctx.Err()
		if err == nil {
			err = context.Canceled
		}
		return fetch.State[any]{Err: ErrorMessage(err), Cause: err}
	}
	return st
}

// CatalogueConfig tunes the widget set.
type CatalogueConfig struct {
	MetricsPoll time.Duration
	HealthPoll  time.Duration
	// DisplayFallbacks are shown in place of live metrics when the backend
	// is unreachable. Empty disables the metrics fallback.
	DisplayFallbacks map[string]string
}

// Catalogue is the fixed set of widgets the console serves.
type Catalogue struct {
	widgets map[string]Widget
	order   []string
}

var severities = []string{"low", "medium", "high", "critical"}

func NewCatalogue(api API, cfg CatalogueConfig) *Catalogue {
	get := func(path string) func(context.Context, Params) (any, error) {
		return func(ctx context.Context, _ Params) (any, error) {
			return api.Raw(ctx, http.MethodGet, path, nil, nil)
		}
	}

	widgets := []Widget{
		{
			Name:  "metrics",
			Title: "Key metrics",
			Poll:  cfg.MetricsPoll,
			Fetch: get(backend.PathMetrics),
			Fallback: func(err error) (any, bool) {
				if len(cfg.DisplayFallbacks) == 0 || !backend.Transient(err) {
					return nil, false
				}
				return map[string]any{"fallback": true, "figures": cfg.DisplayFallbacks}, true
			},
		},
		{
			Name:  "alerts",
			Title: "Alerts",
			Fetch: func(ctx context.Context, p Params) (any, error) {
				q := url.Values{"page": {p["page"]}}
				if sev := p["severity"]; sev != "" {
					q.Set("severity", sev)
				}
				return api.Raw(ctx, http.MethodGet, backend.PathAlerts, q, nil)
			},
			normalize: normalizeAlerts,
		},
		{
			Name:     "insights",
			Title:    "Insights",
			Fetch:    get(backend.PathInsights),
			Fallback: insightsFallback,
		},
		{
			Name:        "risk",
			Title:       "Risk assessments",
			Requirement: rbac.Requirement{Roles: []session.Role{session.RoleAdmin, session.RoleRiskManager, session.RoleAnalyst}},
			Fetch:       get(backend.PathRiskAssessments),
		},
		{
			Name:        "compliance",
			Title:       "Compliance status",
			Requirement: rbac.Requirement{Roles: []session.Role{session.RoleAdmin, session.RoleRiskManager, session.RoleAuditor}},
			Fetch:       get(backend.PathCompliance),
		},
		{
			Name:        "reports",
			Title:       "Reports",
			Requirement: rbac.Requirement{Permissions: []session.Permission{PermReportsRead, PermReportsGenerate}},
			Fetch:       get(backend.PathReports),
		},
		{
			Name:        "users",
			Title:       "Users",
			Requirement: rbac.Requirement{Role: session.RoleAdmin},
			Fetch:       get(backend.PathUsers),
		},
		{
			Name:        "data-sources",
			Title:       "Data sources",
			Requirement: rbac.Requirement{Role: session.RoleAdmin},
			Fetch:       get(backend.PathDataSources),
		},
		{
			Name:        "health",
			Title:       "System health",
			Requirement: rbac.Requirement{Role: session.RoleAdmin},
			Poll:        cfg.HealthPoll,
			Fetch:       get(backend.PathHealth),
		},
		{
			Name:        "settings",
			Title:       "Settings",
			Requirement: rbac.Requirement{Role: session.RoleAdmin},
			Fetch:       get(backend.PathSettings),
		},
	}

	c := &Catalogue{widgets: make(map[string]Widget, len(widgets))}
	for _, w := range widgets {
		c.widgets[w.Name] = w
		c.order = append(c.order, w.Name)
	}
	return c
}

// Lookup returns the widget called name.
func (c *Catalogue) Lookup(name string) (Widget, bool) {
	w, ok := c.widgets[name]
	return w, ok
}

// Names lists widgets in catalogue order.
func (c *Catalogue) Names() []string { return slices.Clone(c.order) }

func normalizeAlerts(p Params) Params {
	out := Params{"page": "1"}
	if n, err := strconv.Atoi(p["page"]); err == nil && n > 0 {
		out["page"] = strconv.Itoa(n)
	}
	if slices.Contains(severities, p["severity"]) {
		out["severity"] = p["severity"]
	}
	return out
}

// insightsFallback substitutes the canned insight set for any failure except
// a rejected session or an abandoned request.
func insightsFallback(err error) (any, bool) {
	if errors.Is(err, context.Canceled) {
		return nil, false
	}
	switch backend.KindOf(err) {
	case backend.KindUnauthenticated, backend.KindCanceled:
		return nil, false
	}
	return assistant.DefaultInsights(), true
}
