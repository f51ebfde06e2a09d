package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/riskwise/console/internal/backend"
)

var (
	ErrUnknownRole    = errors.New("unknown role")
	ErrEmptyToken     = errors.New("session token is empty")
	ErrMissingUser    = errors.New("session user is missing")
	ErrInvalidProfile = errors.New("invalid user profile")
)

// Role is the closed set of user categories.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleRiskManager Role = "risk_manager"
	RoleAnalyst     Role = "analyst"
	RoleAuditor     Role = "auditor"
	RoleViewer      Role = "viewer"
)

var roles = []Role{RoleAdmin, RoleRiskManager, RoleAnalyst, RoleAuditor, RoleViewer}

// Roles returns every valid role.
func Roles() []Role { return slices.Clone(roles) }

// ParseRole accepts exactly one of the known role names.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
	return r, nil
}

func (r Role) Valid() bool { return slices.Contains(roles, r) }

func (r Role) String() string { return string(r) }

func (r *Role) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Permission is a capability tag such as "reports:generate".
type Permission string

// Permissions is a set of capability tags.
type Permissions map[Permission]struct{}

func NewPermissions(tags ...string) Permissions {
	p := make(Permissions, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t != "" {
			p[Permission(t)] = struct{}{}
		}
	}
	return p
}

func (p Permissions) Has(perm Permission) bool {
	_, ok := p[perm]
	return ok
}

// HasAny reports whether at least one of perms is held.
func (p Permissions) HasAny(perms ...Permission) bool {
	for _, perm := range perms {
		if p.Has(perm) {
			return true
		}
	}
	return false
}

// Sorted returns the tags in lexical order.
func (p Permissions) Sorted() []string {
	out := make([]string, 0, len(p))
	for perm := range p {
		out = append(out, string(perm))
	}
	slices.Sort(out)
	return out
}

func (p Permissions) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Sorted())
}

func (p *Permissions) UnmarshalJSON(b []byte) error {
	var tags []string
	if err := json.Unmarshal(b, &tags); err != nil {
		return err
	}
	*p = NewPermissions(tags...)
	return nil
}

// User is the cached profile of the signed-in user.
type User struct {
	ID          string      `json:"id"`
	Email       string      `json:"email"`
	FirstName   string      `json:"firstName"`
	LastName    string      `json:"lastName"`
	Role        Role        `json:"role"`
	Permissions Permissions `json:"permissions"`
	Department  string      `json:"department"`
}

// DisplayName is "First Last", falling back to the email.
func (u *User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}

// UserFromProfile validates an API profile into a User.
func UserFromProfile(p *backend.Profile) (*User, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: no profile", ErrInvalidProfile)
	}
	role, err := ParseRole(p.Role)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProfile, err)
	}
	if p.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidProfile)
	}
	return &User{
		ID:          p.ID,
		Email:       p.Email,
		FirstName:   p.FirstName,
		LastName:    p.LastName,
		Role:        role,
		Permissions: NewPermissions(p.Permissions...),
		Department:  p.Department,
	}, nil
}

// Session is a token together with the profile it authenticates. A Session
// value always carries both; "no session" is a nil *Session.
type Session struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// New builds a Session, rejecting partial state.
func New(token string, user *User) (*Session, error) {
	if token == "" {
		return nil, ErrEmptyToken
	}
	if user == nil {
		return nil, ErrMissingUser
	}
	if !user.Role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, user.Role)
	}
	u := *user
	if u.Permissions == nil {
		u.Permissions = Permissions{}
	}
	return &Session{Token: token, User: u}, nil
}

// decode parses the stored token/user pair, enforcing the same invariants
// as New.
func decode(token string, userJSON []byte) (*Session, error) {
	var u User
	if err := json.Unmarshal(userJSON, &u); err != nil {
		return nil, fmt.Errorf("decoding stored user: %w", err)
	}
	return New(token, &u)
}
