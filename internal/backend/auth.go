package backend

import (
	"context"
	"net/http"
)

// Profile is the user record as the API returns it.
type Profile struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	FirstName   string   `json:"firstName"`
	LastName    string   `json:"lastName"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	Department  string   `json:"department"`
}

// LoginResponse is the body of POST /auth/login.
type LoginResponse struct {
	Success bool     `json:"success"`
	Token   string   `json:"token"`
	User    *Profile `json:"user"`
	Message string   `json:"message,omitempty"`
}

// Login exchanges credentials for a token. It never carries an existing
// session token. A rejected login, whether signalled by status or by
// success=false, is a KindUnauthenticated error.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	var resp LoginResponse
	err := c.Do(withSessionMode(ctx, sessionNone), http.MethodPost, "/auth/login", nil, map[string]string{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &Error{
			Kind:    KindUnauthenticated,
			Status:  http.StatusOK,
			Method:  http.MethodPost,
			Path:    "/auth/login",
			Message: resp.Message,
		}
	}
	if resp.Token == "" || resp.User == nil {
		return nil, &Error{
			Kind:    KindDecode,
			Method:  http.MethodPost,
			Path:    "/auth/login",
			Message: "login response missing token or user",
		}
	}
	return &resp, nil
}

// Logout notifies the API that the session token attached to ctx is done.
// A 401 here does not trigger the rejection policy; the caller is already
// clearing the session.
func (c *Client) Logout(ctx context.Context) error {
	return c.Do(withSessionMode(ctx, sessionTokenOnly), http.MethodPost, "/auth/logout", nil, nil, nil)
}

// Profile fetches the profile of the session bound to ctx.
func (c *Client) Profile(ctx context.Context) (*Profile, error) {
	var p Profile
	if err := c.Get(ctx, "/auth/profile", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
