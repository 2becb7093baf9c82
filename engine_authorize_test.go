package goIdP

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"
)

func TestAuthorizeValidation(t *testing.T) {
	cfg := testConfig()
	cfg.Account.BlockedPolicies = []Policy{PolicySwitchOrg}
	env := newTestEnv(t, cfg)

	tests := []struct {
		name   string
		mutate func(*AuthorizeRequest)
		want   error
	}{
		{name: "unknown client", mutate: func(r *AuthorizeRequest) { r.ClientID = "nope" }, want: ErrAppNotFound},
		{name: "s2s client", mutate: func(r *AuthorizeRequest) { r.ClientID = testS2SClientID }, want: ErrWrongAppType},
		{name: "redirect not allowed", mutate: func(r *AuthorizeRequest) { r.RedirectURI = "https://evil.example.com/cb" }, want: ErrWrongRedirectURI},
		{name: "token response type", mutate: func(r *AuthorizeRequest) { r.ResponseType = "token" }, want: ErrWrongResponseType},
		{name: "missing challenge", mutate: func(r *AuthorizeRequest) { r.CodeChallenge = "" }, want: ErrMissingCodeChallenge},
		{name: "unknown challenge method", mutate: func(r *AuthorizeRequest) { r.CodeChallengeMethod = "S512" }, want: ErrWrongCodeChallengeMethod},
		{name: "scope not granted", mutate: func(r *AuthorizeRequest) { r.Scope = "openid root" }, want: ErrWrongScope},
		{name: "unknown policy", mutate: func(r *AuthorizeRequest) { r.Policy = "delete_account" }, want: ErrWrongPolicy},
		{name: "blocked policy", mutate: func(r *AuthorizeRequest) { r.Policy = string(PolicySwitchOrg) }, want: ErrWrongPolicy},
		{name: "unknown org", mutate: func(r *AuthorizeRequest) { r.Org = "acme" }, want: ErrOrgNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := authorizeRequest("openid")
			tc.mutate(&req)
			_, err := env.engine.Authorize(context.Background(), req, nil)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestAuthorizeWithoutSessionAsksForSignIn(t *testing.T) {
	env := newTestEnv(t, testConfig())

	res, err := env.engine.Authorize(context.Background(), authorizeRequest("openid profile"), nil)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if res.NextPage != PageSignIn || res.Code != "" {
		t.Fatalf("expected sign in page without code, got %+v", res)
	}
}

func TestPasswordSignInWithoutMfaIsReady(t *testing.T) {
	env := newTestEnv(t, testConfig())

	res := env.signIn(t, "openid profile")
	if !res.Ready || res.Code == "" {
		t.Fatalf("expected ready code, got %+v", res)
	}
	if res.State != "xyz" || res.RedirectURI != testRedirectURI {
		t.Fatalf("unexpected redirect data: %+v", res)
	}
	if res.Session == nil || res.Session.AuthID != env.user.AuthID || !res.Session.Mfa {
		t.Fatalf("expected session grant, got %+v", res.Session)
	}
}

func TestWrongPasswordAndUnknownUserLookAlike(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	_, errWrong := env.engine.AuthorizePassword(ctx, authorizeRequest("openid"), testEmail, "Wrong-Password-1")
	_, errUnknown := env.engine.AuthorizePassword(ctx, authorizeRequest("openid"), "bob@example.com", testPassword)
	if !errors.Is(errWrong, ErrUserNotFound) || !errors.Is(errUnknown, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound for both, got %v and %v", errWrong, errUnknown)
	}
	if AsError(errWrong).Status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", AsError(errWrong).Status)
	}
}

func TestDisabledUserCannotSignIn(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.repo.setUser(env.user.ID, func(u *User) { u.IsActive = false })

	_, err := env.engine.AuthorizePassword(context.Background(), authorizeRequest("openid"), testEmail, testPassword)
	if !errors.Is(err, ErrUserDisabled) {
		t.Fatalf("expected ErrUserDisabled, got %v", err)
	}
}

func TestLoginLockoutWindow(t *testing.T) {
	cfg := testConfig()
	env := newTestEnv(t, cfg)
	ctx := context.Background()

	for i := 0; i < cfg.Lockout.LoginThreshold; i++ {
		_, err := env.engine.AuthorizePassword(ctx, authorizeRequest("openid"), testEmail, "Wrong-Password-1")
		if !errors.Is(err, ErrUserNotFound) {
			t.Fatalf("attempt %d: expected ErrUserNotFound, got %v", i+1, err)
		}
	}

	_, err := env.engine.AuthorizePassword(ctx, authorizeRequest("openid"), testEmail, testPassword)
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked with correct password, got %v", err)
	}
	if AsError(err).RetryAfter <= 0 {
		t.Fatal("expected a retry window on the lockout error")
	}

	env.mr.FastForward(cfg.Lockout.LoginWindow + time.Second)

	env.signIn(t, "openid")

	// A success resets the counter.
	for i := 0; i < cfg.Lockout.LoginThreshold-1; i++ {
		_, _ = env.engine.AuthorizePassword(ctx, authorizeRequest("openid"), testEmail, "Wrong-Password-1")
	}
	env.signIn(t, "openid")
}

func TestLoginThresholdZeroNeverLocks(t *testing.T) {
	cfg := testConfig()
	cfg.Lockout.LoginThreshold = 0
	env := newTestEnv(t, cfg)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := env.engine.AuthorizePassword(ctx, authorizeRequest("openid"), testEmail, "Wrong-Password-1")
		if !errors.Is(err, ErrUserNotFound) {
			t.Fatalf("attempt %d: expected ErrUserNotFound, got %v", i+1, err)
		}
	}
	env.signIn(t, "openid")
}

func TestSessionShortcutSkipsCredentials(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	first := env.signIn(t, "openid")
	grant := first.Session
	if grant == nil {
		t.Fatal("expected session grant")
	}

	res, err := env.engine.Authorize(ctx, authorizeRequest("openid"), &SessionInfo{
		AuthID:   grant.AuthID,
		Method:   grant.Method,
		Mfa:      grant.Mfa,
		AuthTime: grant.AuthTime,
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if !res.Ready || res.Code == "" {
		t.Fatalf("expected ready code from session, got %+v", res)
	}
	env.exchange(t, res.Code)
}

func TestSessionIgnoredWhenSSODisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Session.TTL = 0
	env := newTestEnv(t, cfg)

	first := env.signIn(t, "openid")
	if first.Session != nil {
		t.Fatalf("expected no session grant with SSO disabled, got %+v", first.Session)
	}

	res, err := env.engine.Authorize(context.Background(), authorizeRequest("openid"), &SessionInfo{
		AuthID:   env.user.AuthID,
		Method:   AuthMethodPassword,
		Mfa:      true,
		AuthTime: env.now,
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if res.NextPage != PageSignIn {
		t.Fatalf("expected sign in page, got %+v", res)
	}
}

func TestSessionWithoutMfaStillAsksForMfa(t *testing.T) {
	cfg := testConfig()
	cfg.Mfa.RequireEmail = true
	env := newTestEnv(t, cfg)

	res, err := env.engine.Authorize(context.Background(), authorizeRequest("openid"), &SessionInfo{
		AuthID:   env.user.AuthID,
		Method:   AuthMethodPassword,
		Mfa:      false,
		AuthTime: env.now,
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if res.NextPage != PageEmailMfa {
		t.Fatalf("expected email mfa page, got %+v", res)
	}
}

func TestExchangeCodeAtMostOnce(t *testing.T) {
	env := newTestEnv(t, testConfig())

	res := env.signIn(t, "openid")
	env.exchange(t, res.Code)

	_, err := env.engine.ExchangeCode(context.Background(), ExchangeInput{Code: res.Code, CodeVerifier: testVerifier})
	if !errors.Is(err, ErrWrongCode) {
		t.Fatalf("expected ErrWrongCode on reuse, got %v", err)
	}
}

func TestExchangeCodeConcurrentSingleWinner(t *testing.T) {
	env := newTestEnv(t, testConfig())
	res := env.signIn(t, "openid offline_access")

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.engine.ExchangeCode(context.Background(), ExchangeInput{Code: res.Code, CodeVerifier: testVerifier})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrWrongCode) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one successful exchange, got %d", successes)
	}
}

func TestExchangeCodePKCE(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	res := env.signIn(t, "openid")
	_, err := env.engine.ExchangeCode(ctx, ExchangeInput{Code: res.Code, CodeVerifier: "not-the-verifier"})
	if !errors.Is(err, ErrWrongCodeVerifier) {
		t.Fatalf("expected ErrWrongCodeVerifier, got %v", err)
	}
	// A rejected verifier does not burn the code.
	env.exchange(t, res.Code)

	plain := authorizeRequest("openid")
	plain.CodeChallenge = testVerifier
	plain.CodeChallengeMethod = CodeChallengePlain
	res, err = env.engine.AuthorizePassword(ctx, plain, testEmail, testPassword)
	if err != nil {
		t.Fatalf("AuthorizePassword: %v", err)
	}
	_, err = env.engine.ExchangeCode(ctx, ExchangeInput{Code: res.Code, CodeVerifier: s256(testVerifier)})
	if !errors.Is(err, ErrWrongCodeVerifier) {
		t.Fatalf("expected ErrWrongCodeVerifier for plain mismatch, got %v", err)
	}
	env.exchange(t, res.Code)
}

func TestExchangeCodeRequiresCompletedMfa(t *testing.T) {
	cfg := testConfig()
	cfg.Mfa.RequireEmail = true
	env := newTestEnv(t, cfg)
	ctx := context.Background()

	res := env.signIn(t, "openid")
	if res.Ready || res.NextPage != PageEmailMfa {
		t.Fatalf("expected email mfa step, got %+v", res)
	}

	for _, verifier := range []string{testVerifier, "wrong-verifier"} {
		_, err := env.engine.ExchangeCode(ctx, ExchangeInput{Code: res.Code, CodeVerifier: verifier})
		if !errors.Is(err, ErrMfaNotSatisfied) {
			t.Fatalf("verifier %q: expected ErrMfaNotSatisfied, got %v", verifier, err)
		}
		if AsError(err).Status != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", AsError(err).Status)
		}
	}
}

func TestExchangeCodeRejectsOtherClient(t *testing.T) {
	env := newTestEnv(t, testConfig())
	res := env.signIn(t, "openid")

	_, err := env.engine.ExchangeCode(context.Background(), ExchangeInput{
		Code:         res.Code,
		CodeVerifier: testVerifier,
		ClientID:     "other-client",
	})
	if !errors.Is(err, ErrClientMismatch) {
		t.Fatalf("expected ErrClientMismatch, got %v", err)
	}
}

func TestAuthCodeExpires(t *testing.T) {
	cfg := testConfig()
	cfg.Mfa.RequireEmail = true
	env := newTestEnv(t, cfg)

	res := env.signIn(t, "openid")
	env.mr.FastForward(cfg.Token.AuthCodeTTL + time.Second)

	err := env.engine.SendEmailMfa(context.Background(), res.Code)
	if !errors.Is(err, ErrWrongCode) {
		t.Fatalf("expected ErrWrongCode after expiry, got %v", err)
	}
}
