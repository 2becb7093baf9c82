package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	goIdP "github.com/MrEthical07/goIdP"
)

// codeBody is the minimal body of a step that continues a flow.
type codeBody struct {
	Code string `json:"code" validate:"required,max=128"`
}

type mfaCodeBody struct {
	Code           string `json:"code" validate:"required,max=128"`
	MfaCode        string `json:"mfaCode" validate:"required,max=16"`
	RememberDevice bool   `json:"rememberDevice"`
}

func (b *mfaCodeBody) normalize() { b.MfaCode = strings.TrimSpace(b.MfaCode) }

// queryCode reads the auth code of a GET step page.
func (h *Handler) queryCode(r *http.Request) (string, error) {
	code := r.URL.Query().Get("code")
	if code == "" || len(code) > 128 {
		return "", goIdP.ErrInvalidRequest
	}
	return code, nil
}

/*
====================================
MFA
====================================
*/

type mfaEnrollBody struct {
	Code string `json:"code" validate:"required,max=128"`
	Type string `json:"type" validate:"required,oneof=otp sms email"`
}

func (h *Handler) mfaEnroll(w http.ResponseWriter, r *http.Request) {
	var body mfaEnrollBody
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.engine.MfaEnroll(h.engineContext(r), body.Code, goIdP.MfaChannel(body.Type))
	h.writeStep(w, r, res, err)
}

func (h *Handler) otpSetup(w http.ResponseWriter, r *http.Request) {
	code, err := h.queryCode(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	setup, err := h.engine.OtpSetup(h.engineContext(r), code)
	h.writePage(w, r, setup, err)
}

// verifyOtp serves both the first OTP check after setup and later OTP
// sign-ins; the engine knows which one the flow is at.
func (h *Handler) verifyOtp(w http.ResponseWriter, r *http.Request) {
	var body mfaCodeBody
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.engine.VerifyOtpMfa(h.engineContext(r), body.Code, body.MfaCode, body.RememberDevice)
	h.writeStep(w, r, res, err)
}

func (h *Handler) sendEmailMfa(w http.ResponseWriter, r *http.Request) {
	var body codeBody
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.engine.SendEmailMfa(h.engineContext(r), body.Code); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w)
}

func (h *Handler) verifyEmailMfa(w http.ResponseWriter, r *http.Request) {
	var body mfaCodeBody
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.engine.VerifyEmailMfa(h.engineContext(r), body.Code, body.MfaCode, body.RememberDevice)
	h.writeStep(w, r, res, err)
}

func (h *Handler) smsMfaInfo(w http.ResponseWriter, r *http.Request) {
	code, err := h.queryCode(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	info, err := h.engine.SmsMfaInfo(h.engineContext(r), code)
	h.writePage(w, r, info, err)
}

type smsSetupBody struct {
	Code        string `json:"code" validate:"required,max=128"`
	PhoneNumber string `json:"phoneNumber" validate:"required,max=32"`
}

func (b *smsSetupBody) normalize() { b.PhoneNumber = strings.TrimSpace(b.PhoneNumber) }

func (h *Handler) setupSmsMfa(w http.ResponseWriter, r *http.Request) {
	var body smsSetupBody
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.engine.SetupSmsMfa(h.engineContext(r), body.Code, body.PhoneNumber); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w)
}

func (h *Handler) sendSmsMfa(w http.ResponseWriter, r *http.Request) {
	var body codeBody
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.engine.SendSmsMfa(h.engineContext(r), body.Code); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w)
}

func (h *Handler) verifySmsMfa(w http.ResponseWriter, r *http.Request) {
	var body mfaCodeBody
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.engine.VerifySmsMfa(h.engineContext(r), body.Code, body.MfaCode, body.RememberDevice)
	h.writeStep(w, r, res, err)
}

func (h *Handler) passkeyEnrollOptions(w http.ResponseWriter, r *http.Request) {
	code, err := h.queryCode(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	options, err := h.engine.PasskeyEnrollOptions(h.engineContext(r), code)
	h.writePage(w, r, json.RawMessage(options), err)
}

type passkeyEnrollBody struct {
	Code     string          `json:"code" validate:"required,max=128"`
	Response json.RawMessage `json:"response" validate:"required"`
}

func (h *Handler) passkeyEnroll(w http.ResponseWriter, r *http.Request) {
	var body passkeyEnrollBody
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.engine.PasskeyEnroll(h.engineContext(r), body.Code, body.Response)
	h.writeStep(w, r, res, err)
}

func (h *Handler) skipPasskeyEnroll(w http.ResponseWriter, r *http.Request) {
	var body codeBody
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.engine.SkipPasskeyEnroll(h.engineContext(r), body.Code)
	h.writeStep(w, r, res, err)
}

/*
====================================
CONSENT
====================================
*/

func (h *Handler) consentInfo(w http.ResponseWriter, r *http.Request) {
	code, err := h.queryCode(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	info, err := h.engine.ConsentInfo(h.engineContext(r), code)
	h.writePage(w, r, info, err)
}

func (h *Handler) consent(w http.ResponseWriter, r *http.Request) {
	var body codeBody
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.engine.Consent(h.engineContext(r), body.Code)
	h.writeStep(w, r, res, err)
}

/*
====================================
POLICIES
====================================
*/

type changePasswordBody struct {
	Code     string `json:"code" validate:"required,max=128"`
	Password string `json:"password" validate:"required,max=1024"`
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var body changePasswordBody
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.engine.ChangePassword(h.engineContext(r), body.Code, body.Password)
	h.writeStep(w, r, res, err)
}

type changeEmailCodeBody struct {
	Code  string `json:"code" validate:"required,max=128"`
	Email string `json:"email" validate:"required,email,max=320"`
}

func (b *changeEmailCodeBody) normalize() { b.Email = strings.TrimSpace(b.Email) }

func (h *Handler) sendChangeEmailCode(w http.ResponseWriter, r *http.Request) {
	var body changeEmailCodeBody
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.engine.SendChangeEmailCode(h.engineContext(r), body.Code, body.Email); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w)
}

type changeEmailBody struct {
	Code             string `json:"code" validate:"required,max=128"`
	Email            string `json:"email" validate:"required,email,max=320"`
	VerificationCode string `json:"verificationCode" validate:"required,max=16"`
}

func (b *changeEmailBody) normalize() {
	b.Email = strings.TrimSpace(b.Email)
	b.VerificationCode = strings.TrimSpace(b.VerificationCode)
}

func (h *Handler) changeEmail(w http.ResponseWriter, r *http.Request) {
	var body changeEmailBody
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.engine.ChangeEmail(h.engineContext(r), body.Code, body.Email, body.VerificationCode)
	h.writeStep(w, r, res, err)
}

func (h *Handler) resetMfa(w http.ResponseWriter, r *http.Request) {
	var body codeBody
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.engine.ResetMfa(h.engineContext(r), body.Code)
	h.writeStep(w, r, res, err)
}

func (h *Handler) switchOrgInfo(w http.ResponseWriter, r *http.Request) {
	code, err := h.queryCode(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	info, err := h.engine.SwitchOrgInfo(h.engineContext(r), code)
	h.writePage(w, r, info, err)
}

type switchOrgBody struct {
	Code string `json:"code" validate:"required,max=128"`
	Org  string `json:"org" validate:"required,max=255"`
}

func (h *Handler) switchOrg(w http.ResponseWriter, r *http.Request) {
	var body switchOrgBody
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.engine.SwitchOrg(h.engineContext(r), body.Code, body.Org)
	h.writeStep(w, r, res, err)
}

func writeSuccess(w http.ResponseWriter) {
	noStore(w)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
