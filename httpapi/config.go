package httpapi

import "time"

// Config configures the HTTP layer.
type Config struct {
	// UIPath is where the sign-in pages live. /authorize redirects to
	// UIPath + "/authorize-<page>".
	UIPath string
	// AllowedOrigins are the SPA origins allowed to call the identity
	// endpoints with credentials.
	AllowedOrigins []string

	// RequestsPerMinute limits each client IP on the identity and token
	// endpoints. 0 disables the limit.
	RequestsPerMinute int
	Burst             int
	// LimiterCacheSize bounds how many client IPs are tracked.
	LimiterCacheSize int
	// TrustProxy takes the client IP from X-Forwarded-For / X-Real-IP.
	TrustProxy bool

	MaxBodyBytes   int64
	RequestTimeout time.Duration
}

// DefaultConfig returns the defaults used for unset fields.
func DefaultConfig() Config {
	return Config{
		UIPath:            "/identity/v1",
		RequestsPerMinute: 120,
		Burst:             20,
		LimiterCacheSize:  10000,
		MaxBodyBytes:      1 << 20,
		RequestTimeout:    15 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.UIPath == "" {
		c.UIPath = d.UIPath
	}
	if c.Burst <= 0 {
		c.Burst = d.Burst
	}
	if c.LimiterCacheSize <= 0 {
		c.LimiterCacheSize = d.LimiterCacheSize
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = d.MaxBodyBytes
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	return c
}
