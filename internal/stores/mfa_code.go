package stores

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/MrEthical07/goIdP/kv"
)

const (
	mfaCodeRecordVersion1 = 1
)

var (
	ErrMfaCodeNotFound = errors.New("mfa code not found")
	ErrMfaCodeMismatch = errors.New("mfa code mismatch")
	ErrMfaCodeLocked   = errors.New("mfa code locked")
	ErrMfaCodeBackend  = errors.New("mfa code backend unavailable")
)

// MfaCodeRecord is the per-channel record of one auth code. Code is empty
// for the authenticator-app channel, where only attempts are tracked.
type MfaCodeRecord struct {
	Code      string
	Attempts  uint16
	Locked    bool
	ExpiresAt int64
}

// MfaCodeStore keeps MFA code records for one channel.
type MfaCodeStore struct {
	kv        *kv.Store
	namespace string
	now       func() time.Time
}

// NewMfaCodeStore returns a store for the channel namespace (kv.EmailMfaCodeKey,
// kv.SmsMfaCodeKey or kv.OtpMfaCodeKey).
func NewMfaCodeStore(store *kv.Store, namespace string) *MfaCodeStore {
	return &MfaCodeStore{
		kv:        store,
		namespace: namespace,
		now:       time.Now,
	}
}

func (s *MfaCodeStore) key(authCode string) string {
	return s.namespace + authCode
}

// Issue stores code for authCode. Attempts and the lock of an existing record
// carry over so that resending never unlocks a channel.
func (s *MfaCodeStore) Issue(ctx context.Context, authCode, code string, ttl time.Duration) error {
	record := &MfaCodeRecord{Code: code}

	existing, err := s.Get(ctx, authCode)
	switch {
	case err == nil:
		if existing.Locked {
			return ErrMfaCodeLocked
		}
		record.Attempts = existing.Attempts
	case !errors.Is(err, ErrMfaCodeNotFound):
		return err
	}

	record.ExpiresAt = s.now().Add(ttl).Unix()
	encoded, err := encodeMfaCodeRecord(record)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, s.key(authCode), encoded, ttl); err != nil {
		return fmt.Errorf("%w: %v", ErrMfaCodeBackend, err)
	}
	return nil
}

// Ensure creates an empty record when none exists, for channels that only
// count attempts.
func (s *MfaCodeStore) Ensure(ctx context.Context, authCode string, ttl time.Duration) error {
	encoded, err := encodeMfaCodeRecord(&MfaCodeRecord{ExpiresAt: s.now().Add(ttl).Unix()})
	if err != nil {
		return err
	}
	if _, err := s.kv.SetNX(ctx, s.key(authCode), encoded, ttl); err != nil {
		return fmt.Errorf("%w: %v", ErrMfaCodeBackend, err)
	}
	return nil
}

func (s *MfaCodeStore) Get(ctx context.Context, authCode string) (*MfaCodeRecord, error) {
	data, err := s.kv.Get(ctx, s.key(authCode))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrMfaCodeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrMfaCodeBackend, err)
	}

	record, err := decodeMfaCodeRecord(data)
	if err != nil {
		return nil, err
	}
	if s.now().Unix() > record.ExpiresAt {
		_, _ = s.kv.Delete(ctx, s.key(authCode))
		return nil, ErrMfaCodeNotFound
	}
	return record, nil
}

// Verify compares candidate with the stored code in constant time.
func (s *MfaCodeStore) Verify(ctx context.Context, authCode, candidate string, threshold int) error {
	return s.Attempt(ctx, authCode, threshold, func(record *MfaCodeRecord) bool {
		if record.Code == "" || len(candidate) != len(record.Code) {
			return false
		}
		return subtle.ConstantTimeCompare([]byte(record.Code), []byte(candidate)) == 1
	})
}

// Attempt counts one verification attempt and then runs match. The attempt
// is counted before matching: a locked record, or one whose count passes
// threshold, rejects with ErrMfaCodeLocked even when match would succeed.
// A failed match that reaches threshold locks the record. Threshold 0
// disables locking. The record is left in place on success; callers delete
// it once the flow advanced.
func (s *MfaCodeStore) Attempt(ctx context.Context, authCode string, threshold int, match func(*MfaCodeRecord) bool) error {
	var outcome error

	err := s.kv.Update(ctx, s.key(authCode), func(data []byte) ([]byte, error) {
		record, err := decodeMfaCodeRecord(data)
		if err != nil {
			return nil, err
		}
		if s.now().Unix() > record.ExpiresAt {
			return nil, ErrMfaCodeNotFound
		}
		if record.Locked {
			return nil, ErrMfaCodeLocked
		}

		if record.Attempts < 0xFFFF {
			record.Attempts++
		}
		switch {
		case threshold > 0 && int(record.Attempts) > threshold:
			record.Locked = true
			outcome = ErrMfaCodeLocked
		case match(record):
			outcome = nil
		default:
			if threshold > 0 && int(record.Attempts) >= threshold {
				record.Locked = true
			}
			outcome = ErrMfaCodeMismatch
		}
		return encodeMfaCodeRecord(record)
	})
	if err != nil {
		switch {
		case errors.Is(err, kv.ErrNotFound), errors.Is(err, ErrMfaCodeNotFound):
			return ErrMfaCodeNotFound
		case errors.Is(err, ErrMfaCodeLocked):
			return ErrMfaCodeLocked
		default:
			return fmt.Errorf("%w: %v", ErrMfaCodeBackend, err)
		}
	}
	return outcome
}

func (s *MfaCodeStore) Delete(ctx context.Context, authCode string) error {
	if _, err := s.kv.Delete(ctx, s.key(authCode)); err != nil {
		return fmt.Errorf("%w: %v", ErrMfaCodeBackend, err)
	}
	return nil
}

func encodeMfaCodeRecord(record *MfaCodeRecord) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(mfaCodeRecordVersion1)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	var locked uint8
	if record.Locked {
		locked = 1
	}
	buf.WriteByte(locked)
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.Code) > 255 {
		return nil, errors.New("mfa code length exceeded")
	}
	buf.WriteByte(uint8(len(record.Code)))
	buf.WriteString(record.Code)

	return buf.Bytes(), nil
}

func decodeMfaCodeRecord(data []byte) (*MfaCodeRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != mfaCodeRecordVersion1 {
		return nil, errors.New("invalid mfa code record version")
	}

	record := &MfaCodeRecord{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	locked, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	record.Locked = locked == 1
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	codeLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	code := make([]byte, codeLen)
	if _, err := io.ReadFull(reader, code); err != nil {
		return nil, err
	}
	record.Code = string(code)

	return record, nil
}
