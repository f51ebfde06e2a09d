package backend

import (
	"context"
	"net/http"
)

// TokenSource yields the bearer token of the session bound to ctx.
type TokenSource interface {
	Token(ctx context.Context) (string, bool)
}

// RejectionHandler is told when the backend rejects a token the client
// attached. It is the single place the clear-session policy lives. token is
// the credential that was sent, which may no longer be the stored one.
type RejectionHandler interface {
	SessionRejected(ctx context.Context, token string)
}

type sessionMode int

const (
	sessionFull sessionMode = iota
	// sessionNone attaches no token and applies no rejection policy. Used
	// for the credential exchange itself.
	sessionNone
	// sessionTokenOnly attaches the token but leaves a rejection to the
	// caller, which is already ending the session.
	sessionTokenOnly
)

type sessionModeKey struct{}

func withSessionMode(ctx context.Context, m sessionMode) context.Context {
	return context.WithValue(ctx, sessionModeKey{}, m)
}

func sessionModeOf(ctx context.Context) sessionMode {
	m, _ := ctx.Value(sessionModeKey{}).(sessionMode)
	return m
}

// authTransport attaches the session token to every outgoing request and
// applies the rejection policy to every response.
type authTransport struct {
	base     http.RoundTripper
	tokens   TokenSource
	onReject RejectionHandler
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	mode := sessionModeOf(ctx)
	var token string
	if t.tokens != nil && mode != sessionNone {
		if tok, ok := t.tokens.Token(ctx); ok {
			token = tok
			req = req.Clone(ctx)
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if token != "" && mode == sessionFull && resp.StatusCode == http.StatusUnauthorized && t.onReject != nil {
		t.onReject.SessionRejected(ctx, token)
	}
	return resp, nil
}
