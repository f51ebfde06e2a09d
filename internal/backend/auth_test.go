package backend_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/riskwise/console/internal/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogin_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/login", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"), "login must not carry a session token")
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "admin@riskwise.com", body["email"])
		_, _ = w.Write([]byte(`{"success":true,"token":"t-1","user":{"id":"1","email":"admin@riskwise.com","role":"admin","permissions":["users:manage"]}}`))
	}))
	defer srv.Close()

	c := backend.New(srv.URL)
	rec := &rejectRecorder{}
	c.Bind(staticTokens{token: "old-token"}, rec)

	resp, err := c.Login(context.Background(), "admin@riskwise.com", "RiskWise2024!")
	require.NoError(t, err)
	assert.Equal(t, "t-1", resp.Token)
	assert.Equal(t, "admin", resp.User.Role)
	assert.Equal(t, []string{"users:manage"}, resp.User.Permissions)
}

func TestLogin_RejectedByStatusDoesNotTriggerPolicy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Invalid email or password"}`))
	}))
	defer srv.Close()

	rec := &rejectRecorder{}
	c := backend.New(srv.URL)
	c.Bind(staticTokens{token: "old-token"}, rec)

	_, err := c.Login(context.Background(), "a@b.c", "wrong")
	require.Error(t, err)
	assert.True(t, backend.IsUnauthenticated(err))
	assert.Zero(t, rec.count())
}

func TestLogin_RejectedBySuccessFlag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"message":"Account locked"}`))
	}))
	defer srv.Close()

	_, err := backend.New(srv.URL).Login(context.Background(), "a@b.c", "pw")
	var be *backend.Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, backend.KindUnauthenticated, be.Kind)
	assert.Equal(t, "Account locked", be.Message)
}

func TestLogin_IncompleteResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"token":""}`))
	}))
	defer srv.Close()

	_, err := backend.New(srv.URL).Login(context.Background(), "a@b.c", "pw")
	assert.Equal(t, backend.KindDecode, backend.KindOf(err))
}

func TestLogout_RejectedTokenLeavesPolicyToCaller(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	rec := &rejectRecorder{}
	c := backend.New(srv.URL)
	c.Bind(staticTokens{token: "t-1"}, rec)

	err := c.Logout(context.Background())
	assert.True(t, backend.IsUnauthenticated(err))
	assert.Equal(t, "Bearer t-1", gotAuth)
	assert.Zero(t, rec.count())
}

func TestProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer t-9", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"id":"9","email":"x@riskwise.com","firstName":"Xi","role":"auditor","department":"Audit"}`))
	}))
	defer srv.Close()

	c := backend.New(srv.URL)
	c.Bind(staticTokens{token: "t-9"}, nil)

	p, err := c.Profile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "auditor", p.Role)
	assert.Equal(t, "Audit", p.Department)
}
