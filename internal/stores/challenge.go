package stores

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/MrEthical07/goIdP/kv"
)

const (
	challengeRecordVersion1 = 1
)

var (
	ErrChallengeNotFound         = errors.New("challenge not found")
	ErrChallengeMismatch         = errors.New("challenge code mismatch")
	ErrChallengeAttemptsExceeded = errors.New("challenge attempts exceeded")
	ErrChallengeBackend          = errors.New("challenge backend unavailable")
)

var errChallengeMatched = errors.New("challenge matched")

// ChallengeRecord binds a hashed code to a subject, such as the new address
// of an email change.
type ChallengeRecord struct {
	Subject   string
	CodeHash  [32]byte
	ExpiresAt int64
	Attempts  uint16
}

// ChallengeStore keeps single-use codes for password reset, email
// verification and email change.
type ChallengeStore struct {
	kv        *kv.Store
	namespace string
	now       func() time.Time
}

func NewChallengeStore(store *kv.Store, namespace string) *ChallengeStore {
	return &ChallengeStore{
		kv:        store,
		namespace: namespace,
		now:       time.Now,
	}
}

func (s *ChallengeStore) key(id string) string {
	return s.namespace + id
}

// Save replaces any pending challenge for id.
func (s *ChallengeStore) Save(ctx context.Context, id, subject, code string, ttl time.Duration) error {
	encoded, err := encodeChallengeRecord(&ChallengeRecord{
		Subject:   subject,
		CodeHash:  sha256.Sum256([]byte(code)),
		ExpiresAt: s.now().Add(ttl).Unix(),
	})
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, s.key(id), encoded, ttl); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return nil
}

// Consume checks code and deletes the record on a match, returning its
// subject. A mismatch counts an attempt; reaching maxAttempts deletes the
// record. Of concurrent matching callers only one succeeds.
func (s *ChallengeStore) Consume(ctx context.Context, id, code string, maxAttempts int) (string, error) {
	provided := sha256.Sum256([]byte(code))
	key := s.key(id)
	var matched *ChallengeRecord

	err := s.kv.Update(ctx, key, func(data []byte) ([]byte, error) {
		record, err := decodeChallengeRecord(data)
		if err != nil {
			return nil, err
		}
		if s.now().Unix() > record.ExpiresAt {
			return nil, ErrChallengeNotFound
		}
		if subtle.ConstantTimeCompare(record.CodeHash[:], provided[:]) == 1 {
			matched = record
			return nil, errChallengeMatched
		}
		record.Attempts++
		if maxAttempts > 0 && int(record.Attempts) >= maxAttempts {
			return nil, ErrChallengeAttemptsExceeded
		}
		return encodeChallengeRecord(record)
	})

	switch {
	case err == nil:
		return "", ErrChallengeMismatch
	case errors.Is(err, errChallengeMatched):
		n, delErr := s.kv.Delete(ctx, key)
		if delErr != nil {
			return "", fmt.Errorf("%w: %v", ErrChallengeBackend, delErr)
		}
		if n == 0 {
			return "", ErrChallengeNotFound
		}
		return matched.Subject, nil
	case errors.Is(err, ErrChallengeAttemptsExceeded), errors.Is(err, ErrChallengeNotFound):
		_, _ = s.kv.Delete(ctx, key)
		return "", err
	case errors.Is(err, kv.ErrNotFound):
		return "", ErrChallengeNotFound
	default:
		return "", fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
}

func (s *ChallengeStore) Delete(ctx context.Context, id string) error {
	if _, err := s.kv.Delete(ctx, s.key(id)); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return nil
}

// BlobStore keeps opaque single-use session data, such as WebAuthn
// ceremony state between the options and the response request.
type BlobStore struct {
	kv        *kv.Store
	namespace string
}

func NewBlobStore(store *kv.Store, namespace string) *BlobStore {
	return &BlobStore{kv: store, namespace: namespace}
}

func (s *BlobStore) Put(ctx context.Context, id string, data []byte, ttl time.Duration) error {
	if err := s.kv.Set(ctx, s.namespace+id, data, ttl); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return nil
}

// Take returns and removes the blob.
func (s *BlobStore) Take(ctx context.Context, id string) ([]byte, error) {
	data, err := s.kv.Take(ctx, s.namespace+id)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return data, nil
}

func encodeChallengeRecord(record *ChallengeRecord) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(challengeRecordVersion1)

	buf.Write(record.CodeHash[:])
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}

	if len(record.Subject) > 65535 {
		return nil, errors.New("challenge subject length exceeded")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.Subject))); err != nil {
		return nil, err
	}
	buf.WriteString(record.Subject)

	return buf.Bytes(), nil
}

func decodeChallengeRecord(data []byte) (*ChallengeRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != challengeRecordVersion1 {
		return nil, errors.New("invalid challenge record version")
	}

	record := &ChallengeRecord{}
	if _, err := io.ReadFull(reader, record.CodeHash[:]); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}

	var subjectLen uint16
	if err := binary.Read(reader, binary.BigEndian, &subjectLen); err != nil {
		return nil, err
	}
	subject := make([]byte, subjectLen)
	if _, err := io.ReadFull(reader, subject); err != nil {
		return nil, err
	}
	record.Subject = string(subject)

	return record, nil
}
