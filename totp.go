package goIdP

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"image/png"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpSecretBytes = 20
	totpQRSize      = 256
)

var totpEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// otpSetup is the enrollment material shown once to the user.
type otpSetup struct {
	Secret    string
	URI       string
	QRDataURL string
}

type totpManager struct {
	config TOTPConfig
}

func newTOTPManager(cfg TOTPConfig) *totpManager {
	if cfg.Algorithm == "" {
		cfg.Algorithm = "SHA1"
	}
	if cfg.Period <= 0 {
		cfg.Period = 30
	}
	if cfg.Digits == 0 {
		cfg.Digits = 6
	}
	return &totpManager{config: cfg}
}

// Generate creates a new secret for account together with its otpauth URI
// and a PNG QR code rendered as a data URL.
func (m *totpManager) Generate(account string) (otpSetup, error) {
	if m == nil {
		return otpSetup{}, ErrEngineNotReady
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.config.Issuer,
		AccountName: account,
		Period:      uint(m.config.Period),
		SecretSize:  totpSecretBytes,
		Digits:      otpDigits(m.config.Digits),
		Algorithm:   otpAlgorithm(m.config.Algorithm),
	})
	if err != nil {
		return otpSetup{}, err
	}
	qr, err := qrDataURL(key)
	if err != nil {
		return otpSetup{}, err
	}
	return otpSetup{Secret: key.Secret(), URI: key.URL(), QRDataURL: qr}, nil
}

// URI rebuilds the otpauth URI and QR code for an existing secret.
func (m *totpManager) URI(secretBase32, account string) (otpSetup, error) {
	secret, err := decodeTOTPSecret(secretBase32)
	if err != nil {
		return otpSetup{}, err
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.config.Issuer,
		AccountName: account,
		Period:      uint(m.config.Period),
		Secret:      secret,
		Digits:      otpDigits(m.config.Digits),
		Algorithm:   otpAlgorithm(m.config.Algorithm),
	})
	if err != nil {
		return otpSetup{}, err
	}
	qr, err := qrDataURL(key)
	if err != nil {
		return otpSetup{}, err
	}
	return otpSetup{Secret: key.Secret(), URI: key.URL(), QRDataURL: qr}, nil
}

// VerifyBase32 verifies code against a stored base32 secret.
func (m *totpManager) VerifyBase32(secretBase32, code string, now time.Time) (bool, int64, error) {
	secret, err := decodeTOTPSecret(secretBase32)
	if err != nil {
		return false, 0, err
	}
	return m.VerifyCode(secret, code, now)
}

// VerifyCode checks code against every counter inside the skew window and
// returns the matching counter for replay protection.
func (m *totpManager) VerifyCode(secret []byte, code string, now time.Time) (bool, int64, error) {
	if m == nil {
		return false, 0, ErrEngineNotReady
	}

	trimmed := strings.TrimSpace(code)
	if len(trimmed) != m.config.Digits || !isNumericString(trimmed) {
		return false, 0, nil
	}

	if len(secret) == 0 {
		return false, 0, errors.New("empty totp secret")
	}

	baseCounter := now.Unix() / int64(m.config.Period)
	for step := -m.config.Skew; step <= m.config.Skew; step++ {
		counter := baseCounter + int64(step)
		if counter < 0 {
			continue
		}
		generated, err := hotpCode(secret, counter, m.config.Digits, m.config.Algorithm)
		if err != nil {
			return false, 0, err
		}
		if subtle.ConstantTimeCompare([]byte(generated), []byte(trimmed)) == 1 {
			return true, counter, nil
		}
	}

	return false, 0, nil
}

func decodeTOTPSecret(secretBase32 string) ([]byte, error) {
	clean := strings.ToUpper(strings.TrimRight(strings.TrimSpace(secretBase32), "="))
	if clean == "" {
		return nil, errors.New("empty totp secret")
	}
	return totpEncoding.DecodeString(clean)
}

func qrDataURL(key *otp.Key) (string, error) {
	img, err := key.Image(totpQRSize, totpQRSize)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func otpDigits(n int) otp.Digits {
	if n == 8 {
		return otp.DigitsEight
	}
	return otp.DigitsSix
}

func otpAlgorithm(name string) otp.Algorithm {
	switch strings.ToUpper(name) {
	case "SHA256":
		return otp.AlgorithmSHA256
	case "SHA512":
		return otp.AlgorithmSHA512
	default:
		return otp.AlgorithmSHA1
	}
}

func hotpCode(secret []byte, counter int64, digits int, algorithm string) (string, error) {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	hf, err := hmacFunc(algorithm)
	if err != nil {
		return "", err
	}
	mac := hmac.New(hf, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}

	code := bin % mod
	return fmt.Sprintf("%0*d", digits, code), nil
}

func hmacFunc(algorithm string) (func() hash.Hash, error) {
	switch strings.ToUpper(algorithm) {
	case "", "SHA1":
		return sha1.New, nil
	case "SHA256":
		return sha256.New, nil
	case "SHA512":
		return sha512.New, nil
	default:
		return nil, errors.New("unsupported totp algorithm")
	}
}

func isNumericString(v string) bool {
	if v == "" {
		return false
	}
	for _, r := range v {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
