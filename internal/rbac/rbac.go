package rbac

import (
	"fmt"
	"strings"

	"github.com/riskwise/console/internal/session"
)

// Requirement is an Access Requirement. Unset fields impose nothing, so the
// zero value admits every authenticated user.
type Requirement struct {
	Role        session.Role         // exact role
	Roles       []session.Role       // any of these roles
	Permission  session.Permission   // this permission
	Permissions []session.Permission // at least one of these
}

// Outcome is what the guard does with a request.
type Outcome int

const (
	Allow Outcome = iota
	Redirect
	Deny
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case Redirect:
		return "redirect"
	case Deny:
		return "deny"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Decision represents the result of an authorization check.
type Decision struct {
	Outcome Outcome `json:"-"`
	Reason  string  `json:"reason,omitempty"`
}

func (d Decision) Allowed() bool { return d.Outcome == Allow }

// Evaluate applies the checks in order; the first failing one decides.
func Evaluate(authenticated bool, user *session.User, req Requirement) Decision {
	if !authenticated || user == nil {
		return Decision{Outcome: Redirect}
	}

	if req.Role != "" && user.Role != req.Role {
		return deny("This page requires the %q role.", req.Role)
	}
	if len(req.Roles) > 0 && !containsRole(req.Roles, user.Role) {
		return deny("This page requires one of the roles: %s.", quoteAll(req.Roles))
	}
	if req.Permission != "" && !user.Permissions.Has(req.Permission) {
		return deny("This page requires the %q permission.", req.Permission)
	}
	if len(req.Permissions) > 0 && !user.Permissions.HasAny(req.Permissions...) {
		return deny("This page requires one of the permissions: %s.", quoteAll(req.Permissions))
	}
	return Decision{Outcome: Allow}
}

func deny(format string, args ...any) Decision {
	return Decision{Outcome: Deny, Reason: fmt.Sprintf(format, args...)}
}

func containsRole(roles []session.Role, r session.Role) bool {
	for _, candidate := range roles {
		if candidate == r {
			return true
		}
	}
	return false
}

func quoteAll[T ~string](vals []T) string {
	quoted := make([]string, len(vals))
	for i, v := range vals {
		quoted[i] = fmt.Sprintf("%q", string(v))
	}
	return strings.Join(quoted, ", ")
}
