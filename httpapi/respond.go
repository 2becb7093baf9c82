package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	goIdP "github.com/MrEthical07/goIdP"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// noStore marks responses carrying tokens or codes as uncacheable.
func noStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type oauthErrorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

// engineError maps err to the engine error it carries and logs failures
// the caller cannot act on.
func (h *Handler) engineError(r *http.Request, err error) *goIdP.Error {
	e := goIdP.AsError(err)
	if e.Status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("code", e.Code),
			zap.Error(err),
		)
	}
	return e
}

func setRetryAfter(w http.ResponseWriter, d time.Duration) {
	if d <= 0 {
		return
	}
	secs := int((d + time.Second - 1) / time.Second)
	w.Header().Set("Retry-After", strconv.Itoa(secs))
}

// writeError writes an identity endpoint error as {error, message}.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := h.engineError(r, err)
	setRetryAfter(w, e.RetryAfter)
	writeJSON(w, e.Status, errorBody{Error: e.Code, Message: e.Message})
}

// writeOAuthError writes an OAuth endpoint error as {error,
// error_description}. Client authentication failures carry a Basic
// challenge.
func (h *Handler) writeOAuthError(w http.ResponseWriter, r *http.Request, err error) {
	e := h.engineError(r, err)
	if errors.Is(e, goIdP.ErrInvalidClient) {
		w.Header().Set("WWW-Authenticate", `Basic realm="goidp"`)
	}
	if errors.Is(e, goIdP.ErrInvalidAccessToken) {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	}
	noStore(w)
	writeJSON(w, e.Status, oauthErrorBody{Error: e.Code, Description: e.Message})
}
