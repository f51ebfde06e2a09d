package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies a failed backend call. Call sites branch on Kind, never on
// raw status codes.
type Kind int

const (
	KindUnknown Kind = iota
	KindNetwork
	KindTimeout
	KindCanceled
	KindUnauthenticated
	KindForbidden
	KindNotFound
	KindInvalid
	KindServer
	KindDecode
)

var kindNames = map[Kind]string{
	KindUnknown:         "unknown",
	KindNetwork:         "network",
	KindTimeout:         "timeout",
	KindCanceled:        "canceled",
	KindUnauthenticated: "unauthenticated",
	KindForbidden:       "forbidden",
	KindNotFound:        "not_found",
	KindInvalid:         "invalid",
	KindServer:          "server",
	KindDecode:          "decode",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is returned for every failed backend call.
type Error struct {
	Kind    Kind
	Status  int // zero for transport failures
	Method  string
	Path    string
	Message string // server-provided message, if any
	Err     error  // underlying transport or decode error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("backend %s %s: %s (%d): %s", e.Method, e.Path, e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("backend %s %s: %s: %s", e.Method, e.Path, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or KindUnknown if err is not a backend
// error.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindUnknown
}

// IsUnauthenticated reports whether err means the backend rejected the
// session token.
func IsUnauthenticated(err error) bool {
	return KindOf(err) == KindUnauthenticated
}

// Transient reports whether err is a network-level failure a caller may
// paper over with fallback content.
func Transient(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindTimeout, KindServer:
		return true
	}
	return false
}

func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindUnauthenticated
	case status == http.StatusForbidden:
		return KindForbidden
	case status == http.StatusNotFound:
		return KindNotFound
	case status >= 500:
		return KindServer
	case status >= 400:
		return KindInvalid
	}
	return KindUnknown
}

func kindForTransport(err error) Kind {
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindNetwork
}
