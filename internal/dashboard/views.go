package dashboard

import (
	"encoding/json"
	"errors"
	"html/template"
	"net/http"

	"github.com/riskwise/console/internal/auth"
	"github.com/riskwise/console/internal/backend"
	"github.com/riskwise/console/internal/rbac"
	"github.com/riskwise/console/internal/session"
	"golang.org/x/sync/errgroup"
)

// Capability tags the console checks.
const (
	PermReportsRead     session.Permission = "reports:read"
	PermReportsGenerate session.Permission = "reports:generate"
)

// View is a guarded page made of widgets.
type View struct {
	Path        string
	Title       string
	Requirement rbac.Requirement
	Widgets     []string
}

// Views returns the page table in navigation order.
func Views() []View {
	return []View{
		{Path: "/dashboard", Title: "Dashboard", Widgets: []string{"metrics", "alerts", "insights"}},
		{
			Path:        "/risk",
			Title:       "Risk",
			Requirement: rbac.Requirement{Roles: []session.Role{session.RoleAdmin, session.RoleRiskManager, session.RoleAnalyst}},
			Widgets:     []string{"risk", "alerts"},
		},
		{
			Path:        "/compliance",
			Title:       "Compliance",
			Requirement: rbac.Requirement{Roles: []session.Role{session.RoleAdmin, session.RoleRiskManager, session.RoleAuditor}},
			Widgets:     []string{"compliance"},
		},
		{
			Path:        "/reports",
			Title:       "Reports",
			Requirement: rbac.Requirement{Permissions: []session.Permission{PermReportsRead, PermReportsGenerate}},
			Widgets:     []string{"reports"},
		},
		{
			Path:        "/audit",
			Title:       "Audit",
			Requirement: rbac.Requirement{Role: session.RoleAuditor},
			Widgets:     []string{"compliance"},
		},
		{
			Path:        "/admin/users",
			Title:       "Users",
			Requirement: rbac.Requirement{Role: session.RoleAdmin},
			Widgets:     []string{"users"},
		},
		{
			Path:        "/admin/data-sources",
			Title:       "Data sources",
			Requirement: rbac.Requirement{Role: session.RoleAdmin},
			Widgets:     []string{"data-sources", "health"},
		},
		{
			Path:        "/admin/settings",
			Title:       "Settings",
			Requirement: rbac.Requirement{Role: session.RoleAdmin},
			Widgets:     []string{"settings"},
		},
	}
}

// HomeFor is the landing page of a role.
func HomeFor(role session.Role) string {
	switch role {
	case session.RoleAdmin:
		return "/admin/users"
	case session.RoleRiskManager:
		return "/risk"
	case session.RoleAuditor:
		return "/audit"
	default:
		return "/dashboard"
	}
}

var pageTmpl = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Title}} · RiskWise</title></head>
<body>
<header>
  <nav>
    {{range .Nav}}<a href="{{.Path}}"{{if .Current}} aria-current="page"{{end}}>{{.Title}}</a>
    {{end}}
  </nav>
  <span class="user">{{.User.DisplayName}} ({{.User.Role}})</span>
  <form method="post" action="/logout"><button type="submit">Sign out</button></form>
</header>
<main>
  <h1>{{.Title}}</h1>
  {{range .Widgets}}
  <section class="widget" data-widget="{{.Name}}"{{if .Poll}} data-poll="true"{{end}}>
    <h2>{{.Title}}</h2>
    {{if .Error}}<p class="error" role="alert">{{.Error}}</p>{{else}}<pre>{{.Data}}</pre>{{end}}
  </section>
  {{end}}
</main>
<script>
(function () {
  var ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/live");
  ws.onopen = function () {
    document.querySelectorAll("[data-widget]").forEach(function (el) {
      ws.send(JSON.stringify({type: "subscribe", widget: el.dataset.widget, params: {}}));
    });
  };
  ws.onmessage = function (ev) {
    var f = JSON.parse(ev.data);
    if (f.type === "redirect") { location.href = f.location; return; }
    var el = document.querySelector('[data-widget="' + f.widget + '"]');
    if (!el || f.type !== "state" || f.state.loading) { return; }
    var body = el.querySelector("pre") || el.querySelector(".error");
    body.textContent = f.state.error ? f.state.error : JSON.stringify(f.state.data, null, 2);
  };
})();
</script>
</body>
</html>
`))

type navLink struct {
	Path    string
	Title   string
	Current bool
}

type widgetView struct {
	Name  string
	Title string
	Poll  bool
	Data  string
	Error string
}

type pageView struct {
	Title   string
	User    *session.User
	Nav     []navLink
	Widgets []widgetView
}

var errSessionEnded = errors.New("session ended")

// renderView loads the initial data of every widget in v concurrently and
// renders the page. A rejected session anywhere sends the visitor to login.
func (h *Handler) renderView(w http.ResponseWriter, r *http.Request, v View) {
	ac := auth.FromContext(r.Context())
	snap := ac.Snapshot()
	if !snap.IsAuthenticated {
		auth.RedirectToLogin(w, r)
		return
	}

	page := pageView{Title: v.Title, User: snap.User}
	for _, other := range Views() {
		if rbac.Evaluate(true, snap.User, other.Requirement).Allowed() {
			page.Nav = append(page.Nav, navLink{Path: other.Path, Title: other.Title, Current: other.Path == v.Path})
		}
	}

	page.Widgets = make([]widgetView, len(v.Widgets))
	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(4)
	for i, name := range v.Widgets {
		widget, ok := h.widgets.Lookup(name)
		if !ok {
			continue
		}
		page.Widgets[i] = widgetView{Name: widget.Name, Title: widget.Title, Poll: widget.Poll > 0}
		if d := rbac.Evaluate(true, snap.User, widget.Requirement); !d.Allowed() {
			page.Widgets[i].Error = d.Reason
			continue
		}
		g.Go(func() error {
			st := widget.Load(ctx, nil)
			if backend.IsUnauthenticated(st.Cause) {
				return errSessionEnded
			}
			if st.Err != "" {
				page.Widgets[i].Error = st.Err
				return nil
			}
			page.Widgets[i].Data = prettyJSON(st.Data)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		ac.Clear()
		auth.RedirectToLogin(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = pageTmpl.Execute(w, page)
}

func prettyJSON(v *any) string {
	if v == nil {
		return ""
	}
	var b []byte
	switch raw := (*v).(type) {
	case json.RawMessage:
		var decoded any
		if json.Unmarshal(raw, &decoded) == nil {
			b, _ = json.MarshalIndent(decoded, "", "  ")
		}
	default:
		b, _ = json.MarshalIndent(raw, "", "  ")
	}
	return string(b)
}

// homeRedirect sends an authenticated user to their role home.
func (h *Handler) homeRedirect(w http.ResponseWriter, r *http.Request) {
	user := auth.FromContext(r.Context()).User()
	if user == nil {
		auth.RedirectToLogin(w, r)
		return
	}
	http.Redirect(w, r, HomeFor(user.Role), http.StatusSeeOther)
}
