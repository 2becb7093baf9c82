package password

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var ErrUnknownHashFormat = errors.New("unknown password hash format")

// Hasher produces Argon2id hashes and also verifies bcrypt hashes carried
// over from earlier deployments. A bcrypt match always needs an upgrade.
type Hasher struct {
	argon *Argon2
}

func NewHasher(cfg Config) (*Hasher, error) {
	argon, err := NewArgon2(cfg)
	if err != nil {
		return nil, err
	}
	return &Hasher{argon: argon}, nil
}

func (h *Hasher) Hash(password string) (string, error) {
	return h.argon.Hash(password)
}

// Verify reports whether password matches encoded and whether the stored
// hash should be replaced by a fresh one.
func (h *Hasher) Verify(password, encoded string) (ok bool, upgrade bool, err error) {
	switch {
	case isArgon2(encoded):
		ok, err = h.argon.Verify(password, encoded)
		if err != nil || !ok {
			return false, false, err
		}
		upgrade, err = h.argon.NeedsUpgrade(encoded)
		return true, upgrade && err == nil, nil
	case isBcrypt(encoded):
		if len(password) > 72 {
			return false, false, nil
		}
		err = bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, false, nil
		}
		if err != nil {
			return false, false, err
		}
		return true, true, nil
	default:
		return false, false, ErrUnknownHashFormat
	}
}

func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}
