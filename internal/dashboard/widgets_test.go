package dashboard_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"testing"

	"github.com/riskwise/console/internal/assistant"
	"github.com/riskwise/console/internal/backend"
	"github.com/riskwise/console/internal/dashboard"
	"github.com/riskwise/console/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAPI struct {
	mu    sync.Mutex
	body  string
	err   error
	calls []string
}

func (s *stubAPI) Raw(_ context.Context, method, path string, query url.Values, _ any) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	call := method + " " + path
	if len(query) > 0 {
		call += "?" + query.Encode()
	}
	s.calls = append(s.calls, call)
	if s.err != nil {
		return nil, s.err
	}
	return json.RawMessage(s.body), nil
}

func serverDown() error {
	return &backend.Error{Kind: backend.KindServer, Status: http.StatusServiceUnavailable}
}

func rejected() error {
	return &backend.Error{Kind: backend.KindUnauthenticated, Status: http.StatusUnauthorized}
}

func TestCatalogue_Names(t *testing.T) {
	cat := dashboard.NewCatalogue(&stubAPI{}, dashboard.CatalogueConfig{})
	assert.Equal(t, []string{
		"metrics", "alerts", "insights", "risk", "compliance",
		"reports", "users", "data-sources", "health", "settings",
	}, cat.Names())

	_, ok := cat.Lookup("nope")
	assert.False(t, ok)
}

func TestViews_ReferenceKnownWidgets(t *testing.T) {
	cat := dashboard.NewCatalogue(&stubAPI{}, dashboard.CatalogueConfig{})
	seen := map[string]bool{}
	for _, v := range dashboard.Views() {
		assert.False(t, seen[v.Path], "duplicate path %s", v.Path)
		seen[v.Path] = true
		for _, name := range v.Widgets {
			_, ok := cat.Lookup(name)
			assert.True(t, ok, "view %s names unknown widget %s", v.Path, name)
		}
	}
}

func TestHomeFor(t *testing.T) {
	tests := map[session.Role]string{
		session.RoleAdmin:       "/admin/users",
		session.RoleRiskManager: "/risk",
		session.RoleAnalyst:     "/dashboard",
		session.RoleAuditor:     "/audit",
		session.RoleViewer:      "/dashboard",
	}
	for role, want := range tests {
		assert.Equal(t, want, dashboard.HomeFor(role), role)
	}
}

func TestAlerts_Normalize(t *testing.T) {
	cat := dashboard.NewCatalogue(&stubAPI{}, dashboard.CatalogueConfig{})
	alerts, ok := cat.Lookup("alerts")
	require.True(t, ok)

	assert.Equal(t, dashboard.Params{"page": "1"},
		alerts.Normalize(dashboard.Params{"page": "-3", "severity": "bogus", "extra": "x"}))
	assert.Equal(t, dashboard.Params{"page": "2", "severity": "high"},
		alerts.Normalize(dashboard.Params{"page": "2", "severity": "high"}))
	assert.Equal(t, dashboard.Params{"page": "1"}, alerts.Normalize(nil))

	metrics, _ := cat.Lookup("metrics")
	assert.Equal(t, dashboard.Params{}, metrics.Normalize(dashboard.Params{"page": "4"}))
}

func TestWidget_LoadPassesParams(t *testing.T) {
	api := &stubAPI{body: `{"alerts":[]}`}
	cat := dashboard.NewCatalogue(api, dashboard.CatalogueConfig{})
	alerts, _ := cat.Lookup("alerts")

	st := alerts.Load(context.Background(), dashboard.Params{"page": "2", "severity": "high"})
	require.NotNil(t, st.Data)
	assert.Empty(t, st.Err)
	assert.Equal(t, []string{"GET " + backend.PathAlerts + "?page=2&severity=high"}, api.calls)
}

func TestWidget_LoadError(t *testing.T) {
	api := &stubAPI{err: serverDown()}
	cat := dashboard.NewCatalogue(api, dashboard.CatalogueConfig{})
	risk, _ := cat.Lookup("risk")

	st := risk.Load(context.Background(), nil)
	assert.Nil(t, st.Data)
	assert.False(t, st.Loading)
	assert.Equal(t, "Failed to load data.", st.Err)
	assert.Equal(t, backend.KindServer, backend.KindOf(st.Cause))
}

func TestWidget_LoadCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cat := dashboard.NewCatalogue(&stubAPI{body: `{}`}, dashboard.CatalogueConfig{})
	metrics, _ := cat.Lookup("metrics")

	st := metrics.Load(ctx, nil)
	assert.Nil(t, st.Data)
	assert.NotEmpty(t, st.Err)
	assert.Error(t, st.Cause)
}

func TestMetrics_DisplayFallback(t *testing.T) {
	fallbacks := map[string]string{"total_exposure": "$2.4B"}

	t.Run("transient failure uses configured figures", func(t *testing.T) {
		cat := dashboard.NewCatalogue(&stubAPI{err: serverDown()}, dashboard.CatalogueConfig{DisplayFallbacks: fallbacks})
		metrics, _ := cat.Lookup("metrics")
		st := metrics.Load(context.Background(), nil)
		require.NotNil(t, st.Data)
		assert.Empty(t, st.Err)
		assert.Equal(t, map[string]any{"fallback": true, "figures": fallbacks}, *st.Data)
	})

	t.Run("no figures configured", func(t *testing.T) {
		cat := dashboard.NewCatalogue(&stubAPI{err: serverDown()}, dashboard.CatalogueConfig{})
		metrics, _ := cat.Lookup("metrics")
		st := metrics.Load(context.Background(), nil)
		assert.Nil(t, st.Data)
		assert.NotEmpty(t, st.Err)
	})

	t.Run("rejected session is never masked", func(t *testing.T) {
		cat := dashboard.NewCatalogue(&stubAPI{err: rejected()}, dashboard.CatalogueConfig{DisplayFallbacks: fallbacks})
		metrics, _ := cat.Lookup("metrics")
		st := metrics.Load(context.Background(), nil)
		assert.Nil(t, st.Data)
		assert.True(t, backend.IsUnauthenticated(st.Cause))
	})
}

func TestInsights_Fallback(t *testing.T) {
	cat := dashboard.NewCatalogue(&stubAPI{err: serverDown()}, dashboard.CatalogueConfig{})
	insights, _ := cat.Lookup("insights")
	st := insights.Load(context.Background(), nil)
	require.NotNil(t, st.Data)
	assert.Equal(t, assistant.DefaultInsights(), *st.Data)

	cat = dashboard.NewCatalogue(&stubAPI{err: rejected()}, dashboard.CatalogueConfig{})
	insights, _ = cat.Lookup("insights")
	st = insights.Load(context.Background(), nil)
	assert.Nil(t, st.Data)
	assert.Equal(t, "Your session has ended. Please sign in again.", st.Err)
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&backend.Error{Kind: backend.KindNetwork}, "The RiskWise service is unreachable. Please try again."},
		{&backend.Error{Kind: backend.KindTimeout}, "The RiskWise service is unreachable. Please try again."},
		{&backend.Error{Kind: backend.KindForbidden, Status: 403}, "You do not have access to this data."},
		{&backend.Error{Kind: backend.KindNotFound, Status: 404}, "The requested data was not found."},
		{&backend.Error{Kind: backend.KindInvalid, Status: 400, Message: "Name is required"}, "Name is required"},
		{&backend.Error{Kind: backend.KindInvalid, Status: 400}, "The request was rejected."},
		{context.DeadlineExceeded, "The request timed out. Please try again."},
		{serverDown(), "Failed to load data."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, dashboard.ErrorMessage(tt.err))
	}
}
