package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const challengeRecordVersion1 = 1

var (
	// ErrChallengeNotFound covers unknown and already-consumed challenges.
	ErrChallengeNotFound = errors.New("login challenge not found")
	// ErrChallengeExpired means the challenge outlived its TTL.
	ErrChallengeExpired = errors.New("login challenge expired")
	// ErrChallengeUnavailable wraps Redis failures.
	ErrChallengeUnavailable = errors.New("login challenge backend unavailable")
)

// ChallengeRecord bridges the password round and the 2FA round of a login.
// It exists only in Redis, bounded by TTL and an attempt budget.
type ChallengeRecord struct {
	AccountID string
	ExpiresAt int64
	Attempts  uint16
}

// LoginChallengeStore keeps challenge records keyed by an opaque ID handed
// back to the client after a successful password check.
type LoginChallengeStore struct {
	redis  *redis.Client
	prefix string
	now    func() time.Time
}

func NewLoginChallengeStore(redisClient *redis.Client, prefix string) *LoginChallengeStore {
	return &LoginChallengeStore{
		redis:  redisClient,
		prefix: prefix,
		now:    time.Now,
	}
}

func (s *LoginChallengeStore) key(challengeID string) string {
	return s.prefix + ":" + challengeID
}

func (s *LoginChallengeStore) Save(ctx context.Context, challengeID string, record *ChallengeRecord, ttl time.Duration) error {
	encoded, err := encodeChallengeRecord(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(challengeID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeUnavailable, err)
	}
	return nil
}

func (s *LoginChallengeStore) Get(ctx context.Context, challengeID string) (*ChallengeRecord, error) {
	data, err := s.redis.Get(ctx, s.key(challengeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrChallengeUnavailable, err)
	}

	record, err := decodeChallengeRecord(data)
	if err != nil {
		return nil, err
	}
	if s.now().Unix() >= record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(challengeID)).Result()
		return nil, ErrChallengeExpired
	}
	return record, nil
}

// Delete removes the challenge and reports whether it still existed. A
// false return on the success path is a replay: some other request already
// finished this challenge.
func (s *LoginChallengeStore) Delete(ctx context.Context, challengeID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(challengeID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrChallengeUnavailable, err)
	}
	return n > 0, nil
}

// RecordFailure counts a failed 2FA attempt against the challenge under an
// optimistic transaction. It reports true when the budget is spent, in
// which case the challenge has been deleted.
func (s *LoginChallengeStore) RecordFailure(ctx context.Context, challengeID string, maxAttempts int) (bool, error) {
	const maxRetries = 4
	key := s.key(challengeID)

	for i := 0; i < maxRetries; i++ {
		var exceeded bool

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeChallengeRecord(data)
			if err != nil {
				return err
			}
			if s.now().Unix() >= record.ExpiresAt {
				if err := txDelete(ctx, tx, key); err != nil {
					return err
				}
				return ErrChallengeExpired
			}

			record.Attempts++
			if int(record.Attempts) >= maxAttempts {
				exceeded = true
				return txDelete(ctx, tx, key)
			}

			ttl := time.Until(time.Unix(record.ExpiresAt, 0))
			if ttl <= 0 {
				if err := txDelete(ctx, tx, key); err != nil {
					return err
				}
				return ErrChallengeExpired
			}

			updated, err := encodeChallengeRecord(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return false, ErrChallengeNotFound
			case errors.Is(err, ErrChallengeExpired):
				return false, err
			default:
				return false, fmt.Errorf("%w: %v", ErrChallengeUnavailable, err)
			}
		}
		return exceeded, nil
	}

	// The challenge likely still exists; report the contention as a backend
	// failure rather than a consumed challenge.
	return false, fmt.Errorf("%w: failure-count retries exhausted", ErrChallengeUnavailable)
}

// SetClock overrides the expiry clock. Test hook.
func (s *LoginChallengeStore) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func encodeChallengeRecord(record *ChallengeRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(challengeRecordVersion1)
	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.AccountID) > 65535 {
		return nil, errors.New("challenge account id too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.AccountID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.AccountID)

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
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var idLen uint16
	if err := binary.Read(reader, binary.BigEndian, &idLen); err != nil {
		return nil, err
	}
	id := make([]byte, idLen)
	if _, err := io.ReadFull(reader, id); err != nil {
		return nil, err
	}
	record.AccountID = string(id)

	return record, nil
}
