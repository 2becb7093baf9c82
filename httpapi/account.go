package httpapi

import (
	"net/http"
	"strings"
)

type resetCodeBody struct {
	Email  string `json:"email" validate:"required,email,max=320"`
	Locale string `json:"locale" validate:"max=35"`
}

func (b *resetCodeBody) normalize() { b.Email = strings.TrimSpace(b.Email) }

// requestPasswordReset always answers success for a well-formed request so
// the endpoint cannot be used to probe for accounts.
func (h *Handler) requestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var body resetCodeBody
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.engine.RequestPasswordReset(h.engineContext(r), body.Email, body.Locale); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w)
}

type resetPasswordBody struct {
	Email    string `json:"email" validate:"required,email,max=320"`
	Code     string `json:"code" validate:"required,max=16"`
	Password string `json:"password" validate:"required,max=1024"`
}

func (b *resetPasswordBody) normalize() {
	b.Email = strings.TrimSpace(b.Email)
	b.Code = strings.TrimSpace(b.Code)
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var body resetPasswordBody
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.engine.ResetPassword(h.engineContext(r), body.Email, body.Code, body.Password); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w)
}

// sendEmailVerification mails a verification code to the bearer's address.
func (h *Handler) sendEmailVerification(w http.ResponseWriter, r *http.Request) {
	ctx := h.engineContext(r)
	claims, err := h.engine.ParseAccessToken(ctx, bearer(r))
	if err != nil {
		h.writeOAuthError(w, r, err)
		return
	}
	if err := h.engine.SendEmailVerification(ctx, claims.Subject); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w)
}

type verifyEmailBody struct {
	ID   string `json:"id" validate:"required,max=128"`
	Code string `json:"code" validate:"required,max=16"`
}

func (b *verifyEmailBody) normalize() { b.Code = strings.TrimSpace(b.Code) }

// verifyEmail checks a code from a verification email. The link carries the
// auth id, so no bearer token is needed.
func (h *Handler) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var body verifyEmailBody
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.engine.VerifyEmail(h.engineContext(r), body.ID, body.Code); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w)
}
