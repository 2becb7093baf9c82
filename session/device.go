package session

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
)

const deviceCookieName = "rememberDevice"

// maxRememberedUsers bounds the cookie size on shared browsers.
const maxRememberedUsers = 8

// DeviceCodec reads and writes the remember-device cookie: the auth ids that
// completed MFA on this browser, each with its own expiry.
type DeviceCodec struct {
	codec  *securecookie.SecureCookie
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

// NewDeviceCodec returns a codec whose grants last days days. Days 0
// disables remembering.
func NewDeviceCodec(hashKey, blockKey []byte, days int, secure bool) (*DeviceCodec, error) {
	if len(hashKey) < MinKeyLength {
		return nil, errors.New("device hash key must be at least 32 bytes")
	}
	if days < 0 {
		return nil, errors.New("remember device days must not be negative")
	}
	ttl := time.Duration(days) * 24 * time.Hour
	codec := securecookie.New(hashKey, blockKey)
	codec.MaxAge(int(ttl / time.Second))
	return &DeviceCodec{codec: codec, ttl: ttl, secure: secure, now: time.Now}, nil
}

// Enabled reports whether remember-device grants are issued.
func (c *DeviceCodec) Enabled() bool {
	return c != nil && c.ttl > 0
}

// Remembered returns the auth ids with a live grant in r.
func (c *DeviceCodec) Remembered(r *http.Request) []string {
	grants := c.read(r)
	out := make([]string, 0, len(grants))
	for id := range grants {
		out = append(out, id)
	}
	return out
}

// Remember adds a grant for authID, keeping the other live grants.
func (c *DeviceCodec) Remember(w http.ResponseWriter, r *http.Request, authID string) error {
	if !c.Enabled() || authID == "" {
		return nil
	}
	grants := c.read(r)
	if _, ok := grants[authID]; !ok && len(grants) >= maxRememberedUsers {
		var oldest string
		for id, exp := range grants {
			if oldest == "" || exp < grants[oldest] {
				oldest = id
			}
		}
		delete(grants, oldest)
	}
	grants[authID] = c.now().Add(c.ttl).Unix()

	encoded, err := c.codec.Encode(deviceCookieName, grants)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     deviceCookieName,
		Value:    encoded,
		Path:     "/",
		MaxAge:   int(c.ttl / time.Second),
		Secure:   c.secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Forget removes the grant of authID, used when MFA is reset.
func (c *DeviceCodec) Forget(w http.ResponseWriter, r *http.Request, authID string) error {
	if c == nil {
		return nil
	}
	grants := c.read(r)
	if _, ok := grants[authID]; !ok {
		return nil
	}
	delete(grants, authID)
	encoded, err := c.codec.Encode(deviceCookieName, grants)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     deviceCookieName,
		Value:    encoded,
		Path:     "/",
		MaxAge:   int(c.ttl / time.Second),
		Secure:   c.secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (c *DeviceCodec) read(r *http.Request) map[string]int64 {
	grants := make(map[string]int64)
	if !c.Enabled() {
		return grants
	}
	cookie, err := r.Cookie(deviceCookieName)
	if err != nil {
		return grants
	}
	var decoded map[string]int64
	if err := c.codec.Decode(deviceCookieName, cookie.Value, &decoded); err != nil {
		return grants
	}
	now := c.now().Unix()
	for id, exp := range decoded {
		if exp > now {
			grants[id] = exp
		}
	}
	return grants
}
