package goIdP

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestPasswordResetFlowUnlocksAccount(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	const newPassword = "Battery-Staple-2"

	for i := 0; i < 3; i++ {
		_, _ = env.engine.AuthorizePassword(ctx, authorizeRequest("openid"), testEmail, "Wrong-Password-1")
	}
	if _, err := env.engine.AuthorizePassword(ctx, authorizeRequest("openid"), testEmail, testPassword); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}

	if err := env.engine.RequestPasswordReset(ctx, "  Alice@Example.com ", ""); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	code := env.email.lastCode(t, testEmail)
	if len(code) != passwordResetCodeDigits {
		t.Fatalf("expected %d digit code, got %q", passwordResetCodeDigits, code)
	}

	if err := env.engine.ResetPassword(ctx, testEmail, code, "weak"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
	if err := env.engine.ResetPassword(ctx, testEmail, code, newPassword); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if err := env.engine.ResetPassword(ctx, testEmail, code, "Another-Pass-3"); !errors.Is(err, ErrWrongVerificationCode) {
		t.Fatalf("expected the code to be single use, got %v", err)
	}

	if _, err := env.engine.AuthorizePassword(ctx, authorizeRequest("openid"), testEmail, newPassword); err != nil {
		t.Fatalf("expected unlocked sign in with the new password, got %v", err)
	}
}

func TestPasswordResetKeepsLockWhenConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.Lockout.UnlockOnPasswordReset = false
	env := newTestEnv(t, cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = env.engine.AuthorizePassword(ctx, authorizeRequest("openid"), testEmail, "Wrong-Password-1")
	}
	if err := env.engine.RequestPasswordReset(ctx, testEmail, ""); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	if err := env.engine.ResetPassword(ctx, testEmail, env.email.lastCode(t, testEmail), "Battery-Staple-2"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if _, err := env.engine.AuthorizePassword(ctx, authorizeRequest("openid"), testEmail, "Battery-Staple-2"); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected the lock to remain, got %v", err)
	}
}

func TestPasswordResetRequestEnumerationSafe(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	if err := env.engine.RequestPasswordReset(ctx, "ghost@example.com", ""); err != nil {
		t.Fatalf("expected nil for unknown email, got %v", err)
	}
	env.repo.setUser(env.user.ID, func(u *User) { u.IsActive = false })
	if err := env.engine.RequestPasswordReset(ctx, testEmail, ""); err != nil {
		t.Fatalf("expected nil for disabled user, got %v", err)
	}
	if env.email.count() != 0 {
		t.Fatalf("expected no email, got %d", env.email.count())
	}

	env.repo.setUser(env.user.ID, func(u *User) { u.IsActive = true })
	env.email.err = errors.New("smtp down")
	if err := env.engine.RequestPasswordReset(ctx, testEmail, ""); err != nil {
		t.Fatalf("expected delivery failure to be hidden, got %v", err)
	}
}

func TestPasswordResetAttemptsExceeded(t *testing.T) {
	cfg := testConfig()
	cfg.PasswordReset.MaxAttempts = 2
	env := newTestEnv(t, cfg)
	ctx := context.Background()

	if err := env.engine.RequestPasswordReset(ctx, testEmail, ""); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	code := env.email.lastCode(t, testEmail)
	wrong := "00000000"
	if wrong == code {
		wrong = "11111111"
	}

	if err := env.engine.ResetPassword(ctx, testEmail, wrong, "Battery-Staple-2"); !errors.Is(err, ErrWrongVerificationCode) {
		t.Fatalf("expected ErrWrongVerificationCode, got %v", err)
	}
	if err := env.engine.ResetPassword(ctx, testEmail, wrong, "Battery-Staple-2"); !errors.Is(err, ErrVerificationAttempts) {
		t.Fatalf("expected ErrVerificationAttempts, got %v", err)
	}
	// The challenge is gone once the attempts are used up.
	if err := env.engine.ResetPassword(ctx, testEmail, code, "Battery-Staple-2"); !errors.Is(err, ErrWrongVerificationCode) {
		t.Fatalf("expected ErrWrongVerificationCode after exhaustion, got %v", err)
	}
}

func TestPasswordResetRequestLimited(t *testing.T) {
	cfg := testConfig()
	cfg.Lockout.PasswordResetThreshold = 2
	env := newTestEnv(t, cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := env.engine.RequestPasswordReset(ctx, testEmail, ""); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}
	err := env.engine.RequestPasswordReset(ctx, testEmail, "")
	if !errors.Is(err, ErrPasswordResetLimited) {
		t.Fatalf("expected ErrPasswordResetLimited, got %v", err)
	}
	if AsError(err).RetryAfter <= 0 {
		t.Fatal("expected a retry window")
	}
}

func TestPasswordResetReplayRaceSingleSuccess(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	if err := env.engine.RequestPasswordReset(ctx, testEmail, ""); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	code := env.email.lastCode(t, testEmail)

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if err := env.engine.ResetPassword(ctx, testEmail, code, "Battery-Staple-2"); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if success != 1 {
		t.Fatalf("expected exactly one success, got %d", success)
	}
}

func TestPasswordResetFailsWhenRedisUnavailable(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.mr.Close()

	err := env.engine.RequestPasswordReset(context.Background(), testEmail, "")
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestPasswordResetDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.PasswordReset.Enabled = false
	env := newTestEnv(t, cfg)

	if err := env.engine.RequestPasswordReset(context.Background(), testEmail, ""); !errors.Is(err, ErrFeatureDisabled) {
		t.Fatalf("expected ErrFeatureDisabled, got %v", err)
	}
}
