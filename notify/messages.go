package notify

import (
	"bytes"
	"fmt"
	"html/template"
)

// Message is a rendered notification.
type Message struct {
	Subject string
	Body    string
}

type catalog struct {
	mfaSubject          string
	mfaBody             string
	smsBody             string
	resetSubject        string
	resetBody           string
	verifySubject       string
	verifyBody          string
	changeEmailSubject  string
	changeEmailBody     string
	passwordChangedSubj string
	passwordChangedBody string
}

var catalogs = map[string]catalog{
	"en": {
		mfaSubject:          "Your sign in code",
		mfaBody:             "<p>Your verification code is <strong>{{.Code}}</strong>.</p><p>It expires in {{.Minutes}} minutes.</p>",
		smsBody:             "Your verification code is %s. It expires in %d minutes.",
		resetSubject:        "Reset your password",
		resetBody:           "<p>Use code <strong>{{.Code}}</strong> to reset your password.</p><p>It expires in {{.Minutes}} minutes.</p>",
		verifySubject:       "Verify your email",
		verifyBody:          "<p>Your email verification code is <strong>{{.Code}}</strong>.</p>",
		changeEmailSubject:  "Confirm your new email",
		changeEmailBody:     "<p>Use code <strong>{{.Code}}</strong> to confirm this address.</p><p>It expires in {{.Minutes}} minutes.</p>",
		passwordChangedSubj: "Your password was changed",
		passwordChangedBody: "<p>The password of your account was just changed. If this was not you, reset it now.</p>",
	},
	"fr": {
		mfaSubject:          "Votre code de connexion",
		mfaBody:             "<p>Votre code de vérification est <strong>{{.Code}}</strong>.</p><p>Il expire dans {{.Minutes}} minutes.</p>",
		smsBody:             "Votre code de vérification est %s. Il expire dans %d minutes.",
		resetSubject:        "Réinitialisez votre mot de passe",
		resetBody:           "<p>Utilisez le code <strong>{{.Code}}</strong> pour réinitialiser votre mot de passe.</p><p>Il expire dans {{.Minutes}} minutes.</p>",
		verifySubject:       "Vérifiez votre adresse email",
		verifyBody:          "<p>Votre code de vérification est <strong>{{.Code}}</strong>.</p>",
		changeEmailSubject:  "Confirmez votre nouvelle adresse",
		changeEmailBody:     "<p>Utilisez le code <strong>{{.Code}}</strong> pour confirmer cette adresse.</p><p>Il expire dans {{.Minutes}} minutes.</p>",
		passwordChangedSubj: "Votre mot de passe a été modifié",
		passwordChangedBody: "<p>Le mot de passe de votre compte vient d'être modifié. Si ce n'était pas vous, réinitialisez-le maintenant.</p>",
	},
}

func lookup(locale string) catalog {
	if c, ok := catalogs[locale]; ok {
		return c
	}
	return catalogs["en"]
}

type codeData struct {
	Code    string
	Minutes int
}

func render(subject, body string, data any) Message {
	var buf bytes.Buffer
	tmpl := template.Must(template.New("body").Parse(body))
	if err := tmpl.Execute(&buf, data); err != nil {
		return Message{Subject: subject, Body: body}
	}
	return Message{Subject: subject, Body: buf.String()}
}

// MfaCodeEmail renders the email carrying an MFA code.
func MfaCodeEmail(locale, code string, minutes int) Message {
	c := lookup(locale)
	return render(c.mfaSubject, c.mfaBody, codeData{Code: code, Minutes: minutes})
}

// MfaCodeSMS renders the SMS text carrying an MFA code.
func MfaCodeSMS(locale, code string, minutes int) string {
	return fmt.Sprintf(lookup(locale).smsBody, code, minutes)
}

func PasswordResetEmail(locale, code string, minutes int) Message {
	c := lookup(locale)
	return render(c.resetSubject, c.resetBody, codeData{Code: code, Minutes: minutes})
}

func EmailVerificationEmail(locale, code string) Message {
	c := lookup(locale)
	return render(c.verifySubject, c.verifyBody, codeData{Code: code})
}

func ChangeEmailEmail(locale, code string, minutes int) Message {
	c := lookup(locale)
	return render(c.changeEmailSubject, c.changeEmailBody, codeData{Code: code, Minutes: minutes})
}

func PasswordChangedEmail(locale string) Message {
	c := lookup(locale)
	return Message{Subject: c.passwordChangedSubj, Body: c.passwordChangedBody}
}

// Locales lists the locales with a message catalog.
func Locales() []string {
	return []string{"en", "fr"}
}
