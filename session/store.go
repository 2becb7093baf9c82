package session

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
)

const cookiePrefix = "authInfo-"

const (
	valAuthID   = "authId"
	valMethod   = "method"
	valMfa      = "mfa"
	valAuthTime = "authTime"
	valExpires  = "exp"
)

// MinKeyLength is the minimum hash key length accepted for cookie signing.
const MinKeyLength = 32

// Session is a completed primary authentication for one client.
type Session struct {
	AuthID string
	// Method is the credential used: password, social, passkey, recovery_code.
	Method string
	// Mfa is true once every required second factor was verified.
	Mfa       bool
	AuthTime  time.Time
	ExpiresAt time.Time
}

// Config configures the SSO cookie. TTL 0 disables sessions.
type Config struct {
	HashKey  []byte
	BlockKey []byte
	TTL      time.Duration
	Secure   bool
	Path     string
	Domain   string
	SameSite http.SameSite
}

// Store reads and writes authInfo-<clientId> cookies.
type Store struct {
	cookies *sessions.CookieStore
	ttl     time.Duration
	now     func() time.Time
}

func NewStore(cfg Config) (*Store, error) {
	if len(cfg.HashKey) < MinKeyLength {
		return nil, errors.New("session hash key must be at least 32 bytes")
	}
	if n := len(cfg.BlockKey); n != 0 && n != 16 && n != 24 && n != 32 {
		return nil, errors.New("session block key must be 16, 24 or 32 bytes")
	}
	if cfg.TTL < 0 {
		return nil, errors.New("session ttl must not be negative")
	}

	var keys [][]byte
	if len(cfg.BlockKey) > 0 {
		keys = [][]byte{cfg.HashKey, cfg.BlockKey}
	} else {
		keys = [][]byte{cfg.HashKey}
	}
	cookies := sessions.NewCookieStore(keys...)
	path := cfg.Path
	if path == "" {
		path = "/"
	}
	sameSite := cfg.SameSite
	if sameSite == 0 {
		sameSite = http.SameSiteLaxMode
	}
	cookies.Options = &sessions.Options{
		Path:     path,
		Domain:   cfg.Domain,
		MaxAge:   int(cfg.TTL / time.Second),
		Secure:   cfg.Secure,
		HttpOnly: true,
		SameSite: sameSite,
	}
	cookies.MaxAge(int(cfg.TTL / time.Second))

	return &Store{cookies: cookies, ttl: cfg.TTL, now: time.Now}, nil
}

// CookieName returns the session cookie name for clientID.
func CookieName(clientID string) string {
	return cookiePrefix + clientID
}

// Enabled reports whether SSO sessions are on.
func (s *Store) Enabled() bool {
	return s != nil && s.ttl > 0
}

// TTL returns the session lifetime.
func (s *Store) TTL() time.Duration {
	if s == nil {
		return 0
	}
	return s.ttl
}

// Record writes the session for clientID. ExpiresAt defaults to, and is
// capped at, AuthTime plus the TTL.
func (s *Store) Record(w http.ResponseWriter, r *http.Request, clientID string, sess Session) error {
	if !s.Enabled() {
		return nil
	}
	cookie, _ := s.cookies.Get(r, CookieName(clientID))
	if sess.AuthTime.IsZero() {
		sess.AuthTime = s.now()
	}
	// The window is absolute: re-recording a session never extends it past
	// AuthTime+TTL.
	if limit := sess.AuthTime.Add(s.ttl); sess.ExpiresAt.IsZero() || sess.ExpiresAt.After(limit) {
		sess.ExpiresAt = limit
	}
	maxAge := int(sess.ExpiresAt.Sub(s.now()) / time.Second)
	if maxAge <= 0 {
		maxAge = -1
	}
	cookie.Values[valAuthID] = sess.AuthID
	cookie.Values[valMethod] = sess.Method
	cookie.Values[valMfa] = sess.Mfa
	cookie.Values[valAuthTime] = sess.AuthTime.Unix()
	cookie.Values[valExpires] = sess.ExpiresAt.Unix()
	cookie.Options.MaxAge = maxAge
	return cookie.Save(r, w)
}

// Load returns the session for clientID, or nil when sessions are disabled
// or the cookie is absent, tampered with or expired.
func (s *Store) Load(r *http.Request, clientID string) *Session {
	if !s.Enabled() {
		return nil
	}
	cookie, err := s.cookies.Get(r, CookieName(clientID))
	if err != nil || cookie.IsNew {
		return nil
	}

	authID, _ := cookie.Values[valAuthID].(string)
	exp, _ := cookie.Values[valExpires].(int64)
	if authID == "" || exp == 0 {
		return nil
	}
	expiresAt := time.Unix(exp, 0)
	if !s.now().Before(expiresAt) {
		return nil
	}

	method, _ := cookie.Values[valMethod].(string)
	mfa, _ := cookie.Values[valMfa].(bool)
	authTime, _ := cookie.Values[valAuthTime].(int64)
	return &Session{
		AuthID:    authID,
		Method:    method,
		Mfa:       mfa,
		AuthTime:  time.Unix(authTime, 0),
		ExpiresAt: expiresAt,
	}
}

// Clear deletes the session cookie for clientID.
func (s *Store) Clear(w http.ResponseWriter, r *http.Request, clientID string) error {
	if s == nil {
		return nil
	}
	cookie, _ := s.cookies.Get(r, CookieName(clientID))
	for k := range cookie.Values {
		delete(cookie.Values, k)
	}
	cookie.Options.MaxAge = -1
	return cookie.Save(r, w)
}
