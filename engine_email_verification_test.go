package goIdP

import (
	"context"
	"errors"
	"testing"
)

func TestEmailVerificationFlow(t *testing.T) {
	cfg := testConfig()
	cfg.Account.EmailVerification = true
	env := newTestEnv(t, cfg)
	ctx := context.Background()
	env.repo.setUser(env.user.ID, func(u *User) { u.EmailVerified = false })

	if err := env.engine.SendEmailVerification(ctx, env.user.AuthID); err != nil {
		t.Fatalf("SendEmailVerification: %v", err)
	}
	code := env.email.lastCode(t, testEmail)

	if err := env.engine.VerifyEmail(ctx, env.user.AuthID, "000000"+"0"); !errors.Is(err, ErrWrongVerificationCode) {
		t.Fatalf("expected ErrWrongVerificationCode, got %v", err)
	}
	if err := env.engine.VerifyEmail(ctx, env.user.AuthID, code); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}
	if !env.repo.user(env.user.ID).EmailVerified {
		t.Fatal("expected email verified")
	}
	if err := env.engine.VerifyEmail(ctx, env.user.AuthID, code); !errors.Is(err, ErrWrongVerificationCode) {
		t.Fatalf("expected replay to fail, got %v", err)
	}
}

func TestEmailVerificationSkipsVerifiedUsers(t *testing.T) {
	cfg := testConfig()
	cfg.Account.EmailVerification = true
	env := newTestEnv(t, cfg)

	if err := env.engine.SendEmailVerification(context.Background(), env.user.AuthID); err != nil {
		t.Fatalf("SendEmailVerification: %v", err)
	}
	if env.email.count() != 0 {
		t.Fatal("expected no email for a verified address")
	}
}

func TestEmailVerificationStaleAfterEmailChange(t *testing.T) {
	cfg := testConfig()
	cfg.Account.EmailVerification = true
	env := newTestEnv(t, cfg)
	ctx := context.Background()
	env.repo.setUser(env.user.ID, func(u *User) { u.EmailVerified = false })

	if err := env.engine.SendEmailVerification(ctx, env.user.AuthID); err != nil {
		t.Fatalf("SendEmailVerification: %v", err)
	}
	code := env.email.lastCode(t, testEmail)
	env.repo.setUser(env.user.ID, func(u *User) { u.Email = "alice.other@example.com" })

	if err := env.engine.VerifyEmail(ctx, env.user.AuthID, code); !errors.Is(err, ErrWrongVerificationCode) {
		t.Fatalf("expected a code for the old address to fail, got %v", err)
	}
}

func TestEmailVerificationDisabled(t *testing.T) {
	env := newTestEnv(t, testConfig())

	if err := env.engine.SendEmailVerification(context.Background(), env.user.AuthID); !errors.Is(err, ErrFeatureDisabled) {
		t.Fatalf("expected ErrFeatureDisabled, got %v", err)
	}
	if err := env.engine.VerifyEmail(context.Background(), env.user.AuthID, "123456"); !errors.Is(err, ErrFeatureDisabled) {
		t.Fatalf("expected ErrFeatureDisabled, got %v", err)
	}
}
