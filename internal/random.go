package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	tokenRawSize        = 32
	recoveryCodeLength  = 10
	recoveryCodeCharset = "abcdefghjkmnpqrstuvwxyz23456789"
)

// NewToken returns 32 random bytes encoded as unpadded base64url.
func NewToken() (string, error) {
	var raw [tokenRawSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// NewOTP returns a numeric code with the given number of digits.
func NewOTP(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	otp := b.String()
	if len(otp) != digits {
		return "", fmt.Errorf("invalid otp generation length")
	}
	return otp, nil
}

// NewRecoveryCodes returns n lower-case codes without ambiguous characters.
func NewRecoveryCodes(n int) ([]string, error) {
	if n <= 0 {
		return nil, errors.New("invalid recovery code count")
	}
	max := big.NewInt(int64(len(recoveryCodeCharset)))
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		var b strings.Builder
		b.Grow(recoveryCodeLength)
		for j := 0; j < recoveryCodeLength; j++ {
			idx, err := rand.Int(rand.Reader, max)
			if err != nil {
				return nil, err
			}
			b.WriteByte(recoveryCodeCharset[idx.Int64()])
		}
		out = append(out, b.String())
	}
	return out, nil
}

// NormalizeRecoveryCode strips separators and case so users may type codes
// loosely.
func NormalizeRecoveryCode(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, "-", "")
	return strings.ReplaceAll(code, " ", "")
}

// HashValue returns the hex SHA-256 of v. Recovery codes and remember-device
// identifiers are stored hashed.
func HashValue(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}
