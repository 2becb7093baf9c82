package goIdP

import (
	"context"
	"testing"
)

func TestAuditTrailForPasswordSignIn(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.DropIfFull = false
	sink := NewChannelSink(64)
	env := newTestEnv(t, cfg, func(b *Builder) { b.WithAuditSink(sink) })
	ctx := WithClientIP(context.Background(), "203.0.113.7")

	if _, err := env.engine.AuthorizePassword(ctx, authorizeRequest("openid"), testEmail, "Wrong-Password-1"); err == nil {
		t.Fatal("expected the wrong password to fail")
	}
	res, err := env.engine.AuthorizePassword(ctx, authorizeRequest("openid"), testEmail, testPassword)
	if err != nil {
		t.Fatalf("AuthorizePassword: %v", err)
	}
	if _, err := env.engine.ExchangeCode(ctx, ExchangeInput{
		Code:         res.Code,
		CodeVerifier: testVerifier,
		ClientID:     testClientID,
		RedirectURI:  testRedirectURI,
	}); err != nil {
		t.Fatalf("ExchangeCode: %v", err)
	}
	env.engine.Close()

	var got []AuditEvent
	for done := false; !done; {
		select {
		case ev := <-sink.Events():
			got = append(got, ev)
		default:
			done = true
		}
	}

	want := []struct {
		eventType string
		success   bool
		errCode   string
	}{
		{auditEventPasswordFailure, false, "no_user"},
		{auditEventPasswordSuccess, true, ""},
		{auditEventCodeExchange, true, ""},
	}
	i := 0
	for _, ev := range got {
		if i == len(want) {
			break
		}
		if ev.EventType != want[i].eventType {
			continue
		}
		if ev.Success != want[i].success || ev.Error != want[i].errCode {
			t.Fatalf("%s: unexpected event %+v", ev.EventType, ev)
		}
		if ev.IP != "203.0.113.7" || ev.ClientID != testClientID {
			t.Fatalf("%s: missing request facts in %+v", ev.EventType, ev)
		}
		if ev.Success && ev.AuthID != env.user.AuthID {
			t.Fatalf("%s: expected auth id %q, got %q", ev.EventType, env.user.AuthID, ev.AuthID)
		}
		i++
	}
	if i != len(want) {
		t.Fatalf("expected %d ordered events, matched %d of %+v", len(want), i, got)
	}
}

func TestAuditDisabledHasNoDispatcher(t *testing.T) {
	env := newTestEnv(t, testConfig(), func(b *Builder) { b.WithAuditSink(NewChannelSink(1)) })

	env.signIn(t, "openid")
	if env.engine.audit != nil || env.engine.AuditDropped() != 0 {
		t.Fatal("expected no dispatcher when audit is disabled")
	}
}
