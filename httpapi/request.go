package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	goIdP "github.com/MrEthical07/goIdP"
)

// normalizer is implemented by bodies that clean fields before validation.
type normalizer interface {
	normalize()
}

// decode reads a JSON body into dst and validates it. Every failure maps to
// goIdP.ErrInvalidRequest.
func (h *Handler) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return goIdP.ErrInvalidRequest
		}
		h.logger.Debug("decode body", zap.String("path", r.URL.Path), zap.Error(err))
		return goIdP.ErrInvalidRequest
	}
	if n, ok := dst.(normalizer); ok {
		n.normalize()
	}
	if err := h.validate.Struct(dst); err != nil {
		h.logger.Debug("validate body", zap.String("path", r.URL.Path), zap.Error(err))
		return goIdP.ErrInvalidRequest
	}
	return nil
}

// clientIP returns the peer address. Behind a trusted proxy chi's RealIP
// middleware has already rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// engineContext carries the request facts the engine reads from ctx.
func (h *Handler) engineContext(r *http.Request) context.Context {
	ctx := goIdP.WithClientIP(r.Context(), clientIP(r))
	if h.devices.Enabled() {
		ctx = goIdP.WithRememberedDevices(ctx, h.devices.Remembered(r))
	}
	return ctx
}

// clientCredentials reads client authentication from the Basic header or
// the client_id / client_secret form fields.
func clientCredentials(r *http.Request) (id, secret string, basic bool) {
	if id, secret, ok := r.BasicAuth(); ok {
		return id, secret, true
	}
	return r.PostForm.Get("client_id"), r.PostForm.Get("client_secret"), false
}

func bearer(r *http.Request) string {
	const prefix = "bearer "
	v := r.Header.Get("Authorization")
	if len(v) < len(prefix) || !strings.EqualFold(v[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(v[len(prefix):])
}
