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

	"github.com/redis/go-redis/v9"
)

const slotRecordVersion1 = 1

var (
	// ErrSlotEmpty means no code is pending for the account.
	ErrSlotEmpty = errors.New("secret slot empty")
	// ErrSlotExpired means the pending code outlived its TTL; the slot has been cleared.
	ErrSlotExpired = errors.New("secret slot expired")
	// ErrSlotExhausted means the attempt budget is spent; the slot has been cleared.
	ErrSlotExhausted = errors.New("secret slot attempts exhausted")
	// ErrSlotMismatch means the presented code did not match; the attempt was recorded.
	ErrSlotMismatch = errors.New("secret mismatch")
	// ErrSlotPurposeMismatch means a code is pending for a different purpose.
	ErrSlotPurposeMismatch = errors.New("secret pending for different purpose")
	// ErrSlotUnavailable wraps Redis failures.
	ErrSlotUnavailable = errors.New("secret slot backend unavailable")
)

// SlotRecord is the pending one-time code bound to an account: its purpose,
// expiry, attempt counter, and the SHA-256 of the code. One record per
// account; saving a new one overwrites whatever was pending.
type SlotRecord struct {
	Purpose   uint8
	Attempts  uint16
	ExpiresAt int64
	CodeHash  [32]byte
}

// SecretSlotStore keeps one SlotRecord per account under a single Redis
// key, which is what makes "exactly one pending code per account" a
// structural property instead of a convention.
type SecretSlotStore struct {
	redis  *redis.Client
	prefix string
	now    func() time.Time
}

func NewSecretSlotStore(redisClient *redis.Client, prefix string) *SecretSlotStore {
	return &SecretSlotStore{
		redis:  redisClient,
		prefix: prefix,
		now:    time.Now,
	}
}

func (s *SecretSlotStore) key(accountID string) string {
	return s.prefix + ":" + accountID
}

// Save binds a fresh code to the account, replacing any pending one and
// resetting the attempt counter.
func (s *SecretSlotStore) Save(ctx context.Context, accountID string, record *SlotRecord, ttl time.Duration) error {
	encoded, err := encodeSlotRecord(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(accountID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSlotUnavailable, err)
	}
	return nil
}

// Peek returns the pending record without touching the attempt counter.
// Lazy expiry applies: an expired record is cleared and reported as empty.
func (s *SecretSlotStore) Peek(ctx context.Context, accountID string) (*SlotRecord, error) {
	data, err := s.redis.Get(ctx, s.key(accountID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSlotEmpty
		}
		return nil, fmt.Errorf("%w: %v", ErrSlotUnavailable, err)
	}

	record, err := decodeSlotRecord(data)
	if err != nil {
		return nil, err
	}
	if s.now().Unix() >= record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(accountID)).Result()
		return nil, ErrSlotEmpty
	}
	return record, nil
}

// Cancel clears the slot and reports whether anything was pending.
func (s *SecretSlotStore) Cancel(ctx context.Context, accountID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(accountID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrSlotUnavailable, err)
	}
	return n > 0, nil
}

// Consume verifies a presented code against the pending record under an
// optimistic transaction, so two racing verifiers cannot both spend the
// same attempt.
//
// Ordering is deliberate: the attempt is counted before the comparison, and
// reaching the budget clears the slot even when the code would have
// matched. A mismatch inside the budget persists the incremented counter
// before the error returns, so progress toward exhaustion survives a crash.
func (s *SecretSlotStore) Consume(
	ctx context.Context,
	accountID string,
	expectedPurpose uint8,
	providedHash [32]byte,
	maxAttempts int,
) (*SlotRecord, error) {
	const maxRetries = 4
	key := s.key(accountID)

	for i := 0; i < maxRetries; i++ {
		var consumed *SlotRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeSlotRecord(data)
			if err != nil {
				return err
			}

			if s.now().Unix() >= record.ExpiresAt {
				if err := txDelete(ctx, tx, key); err != nil {
					return err
				}
				return ErrSlotExpired
			}

			if record.Purpose != expectedPurpose {
				return ErrSlotPurposeMismatch
			}

			record.Attempts++
			if int(record.Attempts) >= maxAttempts {
				if err := txDelete(ctx, tx, key); err != nil {
					return err
				}
				return ErrSlotExhausted
			}

			if subtle.ConstantTimeCompare(record.CodeHash[:], providedHash[:]) != 1 {
				ttl := time.Until(time.Unix(record.ExpiresAt, 0))
				if ttl <= 0 {
					if err := txDelete(ctx, tx, key); err != nil {
						return err
					}
					return ErrSlotExpired
				}

				updated, err := encodeSlotRecord(record)
				if err != nil {
					return err
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, updated, ttl)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrSlotMismatch
			}

			if err := txDelete(ctx, tx, key); err != nil {
				return err
			}
			consumed = record
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, ErrSlotEmpty
			case errors.Is(err, ErrSlotExpired),
				errors.Is(err, ErrSlotExhausted),
				errors.Is(err, ErrSlotMismatch),
				errors.Is(err, ErrSlotPurposeMismatch):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", ErrSlotUnavailable, err)
			}
		}

		return consumed, nil
	}

	// The slot may well still hold a live code; losing the optimistic race
	// this many times is a backend problem, not an empty slot.
	return nil, fmt.Errorf("%w: consume retries exhausted", ErrSlotUnavailable)
}

// SetClock overrides the expiry clock. Test hook.
func (s *SecretSlotStore) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func txDelete(ctx context.Context, tx *redis.Tx, key string) error {
	_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		return nil
	})
	return err
}

func encodeSlotRecord(record *SlotRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(slotRecordVersion1)
	buf.WriteByte(record.Purpose)
	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	buf.Write(record.CodeHash[:])

	return buf.Bytes(), nil
}

func decodeSlotRecord(data []byte) (*SlotRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != slotRecordVersion1 {
		return nil, errors.New("invalid slot record version")
	}

	record := &SlotRecord{}
	if record.Purpose, err = reader.ReadByte(); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, record.CodeHash[:]); err != nil {
		return nil, err
	}

	return record, nil
}
