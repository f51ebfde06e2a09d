package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const cookiePrefix = "riskwise-ctx:"

// CookieCodec issues and verifies the HMAC-signed cookie naming a browser
// context. The cookie carries only the context id; the session itself lives
// in the session store.
type CookieCodec struct {
	name   string
	key    []byte
	secure bool
	maxAge time.Duration
}

// NewCookieCodec creates a codec. An empty key gets a random one, which
// invalidates every cookie on restart.
func NewCookieCodec(name string, key []byte, secure bool, maxAge time.Duration) (*CookieCodec, error) {
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating cookie key: %w", err)
		}
	}
	return &CookieCodec{name: name, key: key, secure: secure, maxAge: maxAge}, nil
}

func (c *CookieCodec) Name() string { return c.name }

// NewID mints a fresh context id.
func (c *CookieCodec) NewID() string { return uuid.NewString() }

// Encode signs id into a cookie value.
func (c *CookieCodec) Encode(id string) string {
	return id + "." + base64.RawURLEncoding.EncodeToString(c.sign(id))
}

// Decode verifies a cookie value and returns the context id it names.
func (c *CookieCodec) Decode(value string) (string, bool) {
	id, sig, ok := strings.Cut(value, ".")
	if !ok || id == "" {
		return "", false
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	mac, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return "", false
	}
	if !hmac.Equal(mac, c.sign(id)) {
		return "", false
	}
	return id, true
}

// Read returns the verified context id of r, if any.
func (c *CookieCodec) Read(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(c.name)
	if err != nil {
		return "", false
	}
	return c.Decode(cookie.Value)
}

// Write sets the cookie for id on w.
func (c *CookieCodec) Write(w http.ResponseWriter, id string) {
	cookie := &http.Cookie{
		Name:     c.name,
		Value:    c.Encode(id),
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	}
	if c.maxAge > 0 {
		cookie.MaxAge = int(c.maxAge.Seconds())
	}
	http.SetCookie(w, cookie)
}

func (c *CookieCodec) sign(id string) []byte {
	mac := hmac.New(sha256.New, c.key)
	mac.Write([]byte(cookiePrefix))
	mac.Write([]byte(id))
	return mac.Sum(nil)
}
