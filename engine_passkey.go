package goIdP

import (
	"context"
	"errors"
	"strings"

	"github.com/go-webauthn/webauthn/webauthn"
	"go.uber.org/zap"

	"github.com/MrEthical07/goIdP/internal/flows"
	"github.com/MrEthical07/goIdP/internal/stores"
	"github.com/MrEthical07/goIdP/passkey"
)

// passkeyUser loads the user's stored credentials into a ceremony user.
// Undecodable rows are skipped.
func (e *Engine) passkeyUser(ctx context.Context, user *User) (*passkey.User, error) {
	rows, err := e.creds.ListPasskeys(ctx, user.ID)
	if err != nil {
		return nil, providerErr(err)
	}
	out := &passkey.User{
		AuthID:      user.AuthID,
		Email:       otpAccount(user),
		DisplayName: strings.TrimSpace(user.FirstName + " " + user.LastName),
		Credentials: make([]webauthn.Credential, 0, len(rows)),
	}
	for _, row := range rows {
		cred, err := passkey.DecodeCredential(row.Data)
		if err != nil {
			e.logger.Warn("skipping undecodable passkey", zap.String("auth_id", user.AuthID), zap.Error(err))
			continue
		}
		out.Credentials = append(out.Credentials, cred)
	}
	return out, nil
}

func (e *Engine) savePasskey(ctx context.Context, user *User, cred *webauthn.Credential) error {
	data, err := passkey.EncodeCredential(cred)
	if err != nil {
		return ErrInternal
	}
	err = e.creds.SavePasskey(ctx, user.ID, PasskeyCredential{
		CredentialID: cred.ID,
		Data:         data,
		CreatedAt:    e.now(),
	})
	if err != nil {
		return providerErr(err)
	}
	return nil
}

// PasskeyLoginOptions starts a passkey sign in for email and returns the
// assertion options for the browser.
func (e *Engine) PasskeyLoginOptions(ctx context.Context, email string) ([]byte, error) {
	if e.passkeys == nil {
		return nil, ErrPasskeyNotConfigured
	}
	email = normalizeEmail(email)
	if email == "" {
		return nil, ErrInvalidRequest
	}
	user, err := e.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, providerErr(err)
	}
	if !user.Usable() {
		return nil, ErrUserDisabled
	}
	pu, err := e.passkeyUser(ctx, user)
	if err != nil {
		return nil, err
	}
	options, state, err := e.passkeys.BeginLogin(pu)
	if err != nil {
		if errors.Is(err, passkey.ErrNoCredentials) {
			return nil, ErrPasskeyNotFound
		}
		return nil, ErrInternal
	}
	if err := e.passkeyVerify.Put(ctx, email, state, e.config.Token.AuthCodeTTL); err != nil {
		return nil, backendError(err)
	}
	return options, nil
}

// AuthorizePasskey finishes a passkey sign in. A passkey proves possession
// and user verification, so MFA is waived for the flow.
func (e *Engine) AuthorizePasskey(ctx context.Context, in AuthorizeRequest, email string, response []byte) (*StepResult, error) {
	if e.passkeys == nil {
		return nil, ErrPasskeyNotConfigured
	}
	ac, err := e.validateAuthorize(ctx, in)
	if err != nil {
		return nil, err
	}
	email = normalizeEmail(email)
	if email == "" || len(response) == 0 {
		return nil, ErrInvalidRequest
	}
	if err := e.checkLoginLock(ctx, email, ac.app.ClientID); err != nil {
		return nil, err
	}

	state, err := e.passkeyVerify.Take(ctx, email)
	if err != nil {
		if errors.Is(err, stores.ErrChallengeNotFound) {
			return nil, ErrWrongPasskey
		}
		return nil, backendError(err)
	}
	user, err := e.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, providerErr(err)
	}
	if !user.Usable() {
		return nil, ErrUserDisabled
	}
	pu, err := e.passkeyUser(ctx, user)
	if err != nil {
		return nil, err
	}

	cred, err := e.passkeys.FinishLogin(pu, state, response)
	if err != nil {
		e.logger.Debug("passkey assertion rejected", zap.String("auth_id", user.AuthID), zap.Error(err))
		return nil, e.failLogin(ctx, email, user.AuthID, ac.app.ClientID, ErrWrongPasskey)
	}
	if err := e.savePasskey(ctx, user, cred); err != nil {
		return nil, err
	}
	if err := e.loginGuard.Clear(ctx, email); err != nil {
		e.logger.Warn("failed to clear login counter", zap.Error(err))
	}

	res, err := e.startFlow(ctx, ac, user, AuthMethodPasskey, true, 0)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricPasskeySignIn)
	e.emitAudit(ctx, auditEventPasskeySignIn, true, user.AuthID, ac.app.ClientID, nil, nil)
	return res, nil
}

// PasskeyEnrollOptions returns the creation options for the passkey
// enrollment page.
func (e *Engine) PasskeyEnrollOptions(ctx context.Context, code string) ([]byte, error) {
	if e.passkeys == nil {
		return nil, ErrPasskeyNotConfigured
	}
	fc, err := e.loadFlow(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := expect(fc, flows.PhasePasskeyEnroll, ""); err != nil {
		return nil, err
	}
	pu, err := e.passkeyUser(ctx, fc.user)
	if err != nil {
		return nil, err
	}
	options, state, err := e.passkeys.BeginRegistration(pu)
	if err != nil {
		return nil, ErrInternal
	}
	if err := e.passkeyEnroll.Put(ctx, code, state, e.config.Token.AuthCodeTTL); err != nil {
		return nil, backendError(err)
	}
	return options, nil
}

// PasskeyEnroll stores the new credential and moves the flow on.
func (e *Engine) PasskeyEnroll(ctx context.Context, code string, response []byte) (*StepResult, error) {
	if e.passkeys == nil {
		return nil, ErrPasskeyNotConfigured
	}
	fc, err := e.loadFlow(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := expect(fc, flows.PhasePasskeyEnroll, ""); err != nil {
		return nil, err
	}
	state, err := e.passkeyEnroll.Take(ctx, code)
	if err != nil {
		if errors.Is(err, stores.ErrChallengeNotFound) {
			return nil, ErrWrongPasskey
		}
		return nil, backendError(err)
	}
	pu, err := e.passkeyUser(ctx, fc.user)
	if err != nil {
		return nil, err
	}
	cred, err := e.passkeys.FinishRegistration(pu, state, response)
	if err != nil {
		e.logger.Debug("passkey attestation rejected", zap.String("auth_id", fc.user.AuthID), zap.Error(err))
		return nil, ErrWrongPasskey
	}
	if err := e.savePasskey(ctx, fc.user, cred); err != nil {
		return nil, err
	}

	ev := flows.PasskeyEnrollDone()
	res, err := e.commit(ctx, fc, &ev)
	if err != nil {
		return nil, err
	}
	e.emitAudit(ctx, auditEventPasskeyEnrolled, true, fc.user.AuthID, fc.rec.App.ClientID, nil, nil)
	return res, nil
}

// SkipPasskeyEnroll declines the passkey offer for this flow.
func (e *Engine) SkipPasskeyEnroll(ctx context.Context, code string) (*StepResult, error) {
	fc, err := e.loadFlow(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := expect(fc, flows.PhasePasskeyEnroll, ""); err != nil {
		return nil, err
	}
	ev := flows.PasskeyEnrollDone()
	return e.commit(ctx, fc, &ev)
}
