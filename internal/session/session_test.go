package session_test

import (
	"encoding/json"
	"testing"

	"github.com/riskwise/console/internal/backend"
	"github.com/riskwise/console/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	for _, r := range session.Roles() {
		got, err := session.ParseRole(string(r))
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}

	_, err := session.ParseRole("superuser")
	assert.ErrorIs(t, err, session.ErrUnknownRole)
	_, err = session.ParseRole("")
	assert.ErrorIs(t, err, session.ErrUnknownRole)
}

func TestPermissions(t *testing.T) {
	p := session.NewPermissions("reports:read", " ", "alerts:ack", "reports:read")
	assert.Len(t, p, 2)
	assert.True(t, p.Has("reports:read"))
	assert.False(t, p.Has("reports:generate"))
	assert.True(t, p.HasAny("reports:generate", "alerts:ack"))
	assert.False(t, p.HasAny())

	b, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `["alerts:ack","reports:read"]`, string(b))
}

func TestNew_RejectsPartialState(t *testing.T) {
	user := &session.User{ID: "u1", Role: session.RoleAnalyst}

	_, err := session.New("", user)
	assert.ErrorIs(t, err, session.ErrEmptyToken)

	_, err = session.New("tok", nil)
	assert.ErrorIs(t, err, session.ErrMissingUser)

	_, err = session.New("tok", &session.User{ID: "u1", Role: "root"})
	assert.ErrorIs(t, err, session.ErrUnknownRole)

	s, err := session.New("tok", user)
	require.NoError(t, err)
	assert.NotNil(t, s.User.Permissions)
}

func TestUserFromProfile(t *testing.T) {
	u, err := session.UserFromProfile(&backend.Profile{
		ID:          "u1",
		Email:       "ana@riskwise.com",
		FirstName:   "Ana",
		LastName:    "Lyst",
		Role:        "analyst",
		Permissions: []string{"reports:read"},
	})
	require.NoError(t, err)
	assert.Equal(t, session.RoleAnalyst, u.Role)
	assert.Equal(t, "Ana Lyst", u.DisplayName())
	assert.True(t, u.Permissions.Has("reports:read"))

	_, err = session.UserFromProfile(&backend.Profile{ID: "u1", Role: "janitor"})
	assert.ErrorIs(t, err, session.ErrInvalidProfile)
	assert.ErrorIs(t, err, session.ErrUnknownRole)

	_, err = session.UserFromProfile(nil)
	assert.ErrorIs(t, err, session.ErrInvalidProfile)
}

func TestUser_RoundTrip(t *testing.T) {
	in := session.User{
		ID:          "u1",
		Email:       "x@riskwise.com",
		Role:        session.RoleAuditor,
		Permissions: session.NewPermissions("audit:read"),
	}
	b, err := json.Marshal(in)
	require.NoError(t, err)

	var out session.User
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in, out)

	assert.Error(t, json.Unmarshal([]byte(`{"id":"u1","role":"ghost"}`), &out))
}
