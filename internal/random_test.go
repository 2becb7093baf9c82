package internal

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestNewTokenIsUniqueBase64URL(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 64; i++ {
		tok, err := NewToken()
		if err != nil {
			t.Fatalf("NewToken failed: %v", err)
		}
		raw, err := base64.RawURLEncoding.DecodeString(tok)
		if err != nil || len(raw) != 32 {
			t.Fatalf("unexpected token %q", tok)
		}
		if _, ok := seen[tok]; ok {
			t.Fatalf("duplicate token %q", tok)
		}
		seen[tok] = struct{}{}
	}
}

func TestNewOTPDigits(t *testing.T) {
	for _, digits := range []int{6, 8, 10} {
		code, err := NewOTP(digits)
		if err != nil {
			t.Fatalf("NewOTP(%d) failed: %v", digits, err)
		}
		if len(code) != digits {
			t.Fatalf("expected %d digits, got %q", digits, code)
		}
		if strings.Trim(code, "0123456789") != "" {
			t.Fatalf("expected numeric code, got %q", code)
		}
	}
	if _, err := NewOTP(5); err == nil {
		t.Fatal("expected error for 5 digits")
	}
}

func TestRecoveryCodes(t *testing.T) {
	codes, err := NewRecoveryCodes(8)
	if err != nil {
		t.Fatalf("NewRecoveryCodes failed: %v", err)
	}
	if len(codes) != 8 {
		t.Fatalf("expected 8 codes, got %d", len(codes))
	}
	for _, c := range codes {
		if len(c) != recoveryCodeLength || strings.Trim(c, recoveryCodeCharset) != "" {
			t.Fatalf("unexpected code %q", c)
		}
	}
	if got := NormalizeRecoveryCode(" ABCD-efgh 23 "); got != "abcdefgh23" {
		t.Fatalf("unexpected normalized code %q", got)
	}
	if HashValue("a") == HashValue("b") || len(HashValue("a")) != 64 {
		t.Fatal("unexpected hash output")
	}
}
