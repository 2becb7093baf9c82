package goIdP

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MrEthical07/goIdP/internal"
	"github.com/MrEthical07/goIdP/password"
	"github.com/MrEthical07/goIdP/social"
)

// SignUpInput is the body of authorize-account.
type SignUpInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// checkLoginLock rejects a subject whose failed-attempt counter reached the
// threshold.
func (e *Engine) checkLoginLock(ctx context.Context, email, clientID string) error {
	decision, err := e.loginGuard.Check(ctx, email)
	if err != nil {
		return backendError(err)
	}
	if !decision.Allowed {
		e.metricInc(MetricLoginLocked)
		e.emitAudit(ctx, auditEventLoginLocked, false, "", clientID, ErrAccountLocked, nil)
		return lockout(ErrAccountLocked, decision.RetryAfter)
	}
	return nil
}

// failLogin counts a failed credential and returns cause.
func (e *Engine) failLogin(ctx context.Context, email, authID, clientID string, cause error) error {
	if _, err := e.loginGuard.Increment(ctx, email); err != nil {
		e.logger.Warn("failed to count login failure", zap.Error(err))
	}
	e.metricInc(MetricPasswordFailure)
	e.emitAudit(ctx, auditEventPasswordFailure, false, authID, clientID, cause, nil)
	return cause
}

// AuthorizePassword verifies email and password and starts the flow. An
// unknown email and a wrong password both return ErrUserNotFound and both
// count against the email's lockout counter.
func (e *Engine) AuthorizePassword(ctx context.Context, in AuthorizeRequest, email, pass string) (*StepResult, error) {
	ac, err := e.validateAuthorize(ctx, in)
	if err != nil {
		return nil, err
	}
	email = normalizeEmail(email)
	if email == "" || pass == "" {
		return nil, ErrInvalidRequest
	}
	if err := e.checkLoginLock(ctx, email, ac.app.ClientID); err != nil {
		return nil, err
	}

	user, err := e.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, e.failLogin(ctx, email, "", ac.app.ClientID, ErrUserNotFound)
		}
		return nil, providerErr(err)
	}
	if user.PasswordHash == "" {
		return nil, e.failLogin(ctx, email, user.AuthID, ac.app.ClientID, ErrUserNotFound)
	}

	ok, upgrade, err := e.hasher.Verify(pass, user.PasswordHash)
	if err != nil {
		e.logger.Warn("password hash verification failed", zap.String("auth_id", user.AuthID), zap.Error(err))
	}
	if !ok {
		return nil, e.failLogin(ctx, email, user.AuthID, ac.app.ClientID, ErrUserNotFound)
	}
	if !user.Usable() {
		e.emitAudit(ctx, auditEventPasswordFailure, false, user.AuthID, ac.app.ClientID, ErrUserDisabled, nil)
		return nil, ErrUserDisabled
	}

	if err := e.loginGuard.Clear(ctx, email); err != nil {
		e.logger.Warn("failed to clear login counter", zap.Error(err))
	}
	if upgrade && e.config.Password.UpgradeOnLogin {
		e.upgradePasswordHash(ctx, user, pass)
	}

	res, err := e.startFlow(ctx, ac, user, AuthMethodPassword, false, 0)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricPasswordSuccess)
	e.emitAudit(ctx, auditEventPasswordSuccess, true, user.AuthID, ac.app.ClientID, nil, nil)
	return res, nil
}

func (e *Engine) upgradePasswordHash(ctx context.Context, user *User, pass string) {
	hash, err := e.hasher.Hash(pass)
	if err != nil {
		e.logger.Warn("failed to rehash password", zap.String("auth_id", user.AuthID), zap.Error(err))
		return
	}
	if _, err := e.users.UpdateUser(ctx, user.ID, UserUpdate{PasswordHash: &hash}); err != nil {
		e.logger.Warn("failed to store upgraded password hash", zap.String("auth_id", user.AuthID), zap.Error(err))
	}
}

func (e *Engine) checkPasswordPolicy(pass string) error {
	if err := e.policy.Check(pass); err != nil {
		if errors.Is(err, password.ErrPolicy) {
			return &Error{
				Kind:    ErrPasswordPolicy.Kind,
				Code:    ErrPasswordPolicy.Code,
				Status:  ErrPasswordPolicy.Status,
				Message: err.Error(),
			}
		}
		return err
	}
	return nil
}

// AuthorizeAccount signs a new user up and starts the flow.
func (e *Engine) AuthorizeAccount(ctx context.Context, in AuthorizeRequest, input SignUpInput) (*StepResult, error) {
	ac, err := e.validateAuthorize(ctx, in)
	if err != nil {
		return nil, err
	}
	if !e.config.Account.EnableSignUp || (ac.org != nil && !ac.org.AllowSignUp) {
		return nil, ErrSignUpDisabled
	}

	email := normalizeEmail(input.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, ErrInvalidRequest
	}
	if err := e.checkPasswordPolicy(input.Password); err != nil {
		return nil, err
	}

	if existing, err := e.users.GetUserByEmail(ctx, email); err == nil && existing != nil {
		return nil, ErrEmailTaken
	} else if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, providerErr(err)
	}

	hash, err := e.hasher.Hash(input.Password)
	if err != nil {
		return nil, ErrInternal
	}

	create := CreateUserInput{
		AuthID:       uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Locale:       ac.request.Locale,
		Org:          ac.request.Org,
	}
	if e.config.Account.EnableNames {
		create.FirstName = strings.TrimSpace(input.FirstName)
		create.LastName = strings.TrimSpace(input.LastName)
	}
	user, err := e.users.CreateUser(ctx, create)
	if err != nil {
		return nil, providerErr(err)
	}

	e.metricInc(MetricSignUp)
	e.emitAudit(ctx, auditEventSignUp, true, user.AuthID, ac.app.ClientID, nil, nil)

	if e.config.Account.EmailVerification && e.email != nil {
		if err := e.SendEmailVerification(ctx, user.AuthID); err != nil {
			e.logger.Warn("failed to send verification email", zap.String("auth_id", user.AuthID), zap.Error(err))
		}
	}

	return e.startFlow(ctx, ac, user, AuthMethodPassword, false, 0)
}

// AuthorizeSocial signs in with an external identity: a Google ID token or a
// GitHub authorization code. Unknown identities are linked to the user with
// the same verified email, or signed up.
func (e *Engine) AuthorizeSocial(ctx context.Context, in AuthorizeRequest, provider, credential string) (*StepResult, error) {
	ac, err := e.validateAuthorize(ctx, in)
	if err != nil {
		return nil, err
	}
	p, ok := e.social[provider]
	if !ok {
		return nil, ErrSocialNotConfigured
	}
	if credential == "" {
		return nil, ErrInvalidRequest
	}

	ident, err := p.Authenticate(ctx, credential)
	if err != nil {
		e.emitAudit(ctx, auditEventSocialSignIn, false, "", ac.app.ClientID, ErrWrongSocialCredential, func() map[string]string {
			return map[string]string{"provider": provider}
		})
		if errors.Is(err, social.ErrInvalidCredential) || errors.Is(err, social.ErrNoEmail) {
			return nil, ErrWrongSocialCredential
		}
		return nil, backendError(err)
	}

	user, err := e.socialUser(ctx, ac, ident)
	if err != nil {
		return nil, err
	}
	if !user.Usable() {
		return nil, ErrUserDisabled
	}

	res, err := e.startFlow(ctx, ac, user, AuthMethodSocial, false, 0)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricSocialSignIn)
	e.emitAudit(ctx, auditEventSocialSignIn, true, user.AuthID, ac.app.ClientID, nil, func() map[string]string {
		return map[string]string{"provider": provider}
	})
	return res, nil
}

func (e *Engine) socialUser(ctx context.Context, ac *authorizeContext, ident *social.Identity) (*User, error) {
	user, err := e.users.GetUserBySocial(ctx, ident.Provider, ident.Subject)
	if err == nil && user != nil {
		return user, nil
	}
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, providerErr(err)
	}

	email := normalizeEmail(ident.Email)
	if email != "" && ident.EmailVerified {
		existing, err := e.users.GetUserByEmail(ctx, email)
		switch {
		case err == nil && existing != nil:
			provider, subject := ident.Provider, ident.Subject
			update := UserUpdate{SocialAccountID: &subject, SocialAccountType: &provider}
			if !existing.EmailVerified {
				verified := true
				update.EmailVerified = &verified
			}
			return e.updateUser(ctx, existing.ID, update)
		case err != nil && !errors.Is(err, ErrUserNotFound):
			return nil, providerErr(err)
		}
	}

	if !e.config.Account.EnableSignUp || (ac.org != nil && !ac.org.AllowSignUp) {
		return nil, ErrSignUpDisabled
	}
	user, err = e.users.CreateUser(ctx, CreateUserInput{
		AuthID:            uuid.NewString(),
		Email:             email,
		FirstName:         ident.FirstName,
		LastName:          ident.LastName,
		Locale:            ac.request.Locale,
		Org:               ac.request.Org,
		EmailVerified:     ident.EmailVerified,
		SocialAccountID:   ident.Subject,
		SocialAccountType: ident.Provider,
	})
	if err != nil {
		return nil, providerErr(err)
	}
	e.metricInc(MetricSignUp)
	e.emitAudit(ctx, auditEventSignUp, true, user.AuthID, ac.app.ClientID, nil, func() map[string]string {
		return map[string]string{"provider": ident.Provider}
	})
	return user, nil
}

// AuthorizeRecoveryCode signs in with email, password and a recovery code.
// The code is consumed and replaces every MFA step of this flow.
func (e *Engine) AuthorizeRecoveryCode(ctx context.Context, in AuthorizeRequest, email, pass, code string) (*StepResult, error) {
	if !e.config.Mfa.RecoveryCodes || e.recovery == nil {
		return nil, ErrFeatureDisabled
	}
	ac, err := e.validateAuthorize(ctx, in)
	if err != nil {
		return nil, err
	}
	email = normalizeEmail(email)
	normalized := internal.NormalizeRecoveryCode(code)
	if email == "" || pass == "" || normalized == "" {
		return nil, ErrInvalidRequest
	}
	if err := e.checkLoginLock(ctx, email, ac.app.ClientID); err != nil {
		return nil, err
	}

	user, err := e.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, e.failLogin(ctx, email, "", ac.app.ClientID, ErrUserNotFound)
		}
		return nil, providerErr(err)
	}
	ok := false
	if user.PasswordHash != "" {
		ok, _, _ = e.hasher.Verify(pass, user.PasswordHash)
	}
	if !ok {
		return nil, e.failLogin(ctx, email, user.AuthID, ac.app.ClientID, ErrUserNotFound)
	}
	if !user.Usable() {
		return nil, ErrUserDisabled
	}

	consumed, err := e.recovery.ConsumeRecoveryCode(ctx, user.ID, internal.HashValue(normalized))
	if err != nil {
		return nil, providerErr(err)
	}
	if !consumed {
		return nil, e.failLogin(ctx, email, user.AuthID, ac.app.ClientID, ErrWrongRecoveryCode)
	}
	if err := e.loginGuard.Clear(ctx, email); err != nil {
		e.logger.Warn("failed to clear login counter", zap.Error(err))
	}

	res, err := e.startFlow(ctx, ac, user, AuthMethodRecoveryCode, true, 0)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricRecoveryCodeUsed)
	e.emitAudit(ctx, auditEventRecoveryCodeUsed, true, user.AuthID, ac.app.ClientID, nil, nil)
	return res, nil
}

// issueRecoveryCodes replaces the user's recovery codes and returns the
// plain codes. Only hashes are stored.
func (e *Engine) issueRecoveryCodes(ctx context.Context, user *User, clientID string) ([]string, error) {
	codes, err := internal.NewRecoveryCodes(e.config.Mfa.RecoveryCodeCount)
	if err != nil {
		return nil, ErrInternal
	}
	hashes := make([]string, len(codes))
	for i, c := range codes {
		hashes[i] = internal.HashValue(internal.NormalizeRecoveryCode(c))
	}
	if err := e.recovery.ReplaceRecoveryCodes(ctx, user.ID, hashes); err != nil {
		return nil, providerErr(err)
	}
	e.emitAudit(ctx, auditEventRecoveryCodesIssued, true, user.AuthID, clientID, nil, nil)
	return codes, nil
}
