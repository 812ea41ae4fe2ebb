package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cassiomorais/orderrecon/internal/domain/accesscode"
	"github.com/redis/go-redis/v9"
)

// reserveAttemptScript counts an attempt only when the code still exists, so a
// code deleted by a concurrent verify is never resurrected. Going over
// max_attempts deletes the code.
var reserveAttemptScript = redis.NewScript(`
	if redis.call("exists", KEYS[1]) == 0 then
		return -1
	end
	local n = redis.call("hincrby", KEYS[1], "attempts", 1)
	if n > tonumber(redis.call("hget", KEYS[1], "max_attempts")) then
		redis.call("del", KEYS[1])
		return 0
	end
	return n
`)

// consumeScript deletes the code only if it is still the one that was verified.
var consumeScript = redis.NewScript(`
	if redis.call("hget", KEYS[1], "code_hash") == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// AccessCodeStore keeps one hash per subject holding the live code.
type AccessCodeStore struct {
	client redis.Cmdable
}

func NewAccessCodeStore(client redis.Cmdable) *AccessCodeStore {
	return &AccessCodeStore{client: client}
}

func codeKey(subjectID string) string {
	return "stepup:code:" + subjectID
}

func (s *AccessCodeStore) Save(ctx context.Context, c *accesscode.AccessCode, ttl time.Duration) error {
	key := codeKey(c.SubjectID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, map[string]any{
			"code_hash":        c.CodeHash,
			"salt":             c.Salt,
			"expires_at":       c.ExpiresAt.UnixMilli(),
			"attempts":         c.Attempts,
			"max_attempts":     c.MaxAttempts,
			"session_id":       c.Binding.SessionID,
			"fingerprint_hash": c.Binding.FingerprintHash,
			"issued_at":        c.IssuedAt.UnixMilli(),
		})
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save access code: %w", err)
	}
	return nil
}

func (s *AccessCodeStore) Get(ctx context.Context, subjectID string) (*accesscode.AccessCode, error) {
	fields, err := s.client.HGetAll(ctx, codeKey(subjectID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get access code: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	c := &accesscode.AccessCode{
		SubjectID: subjectID,
		CodeHash:  fields["code_hash"],
		Salt:      fields["salt"],
		Binding: accesscode.Binding{
			SessionID:       fields["session_id"],
			FingerprintHash: fields["fingerprint_hash"],
		},
	}
	if c.Attempts, err = strconv.Atoi(fields["attempts"]); err != nil {
		return nil, fmt.Errorf("decode attempts: %w", err)
	}
	if c.MaxAttempts, err = strconv.Atoi(fields["max_attempts"]); err != nil {
		return nil, fmt.Errorf("decode max attempts: %w", err)
	}
	expires, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode expiry: %w", err)
	}
	issued, err := strconv.ParseInt(fields["issued_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode issue time: %w", err)
	}
	c.ExpiresAt = time.UnixMilli(expires).UTC()
	c.IssuedAt = time.UnixMilli(issued).UTC()
	return c, nil
}

func (s *AccessCodeStore) ReserveAttempt(ctx context.Context, subjectID string) (accesscode.Reservation, error) {
	n, err := reserveAttemptScript.Run(ctx, s.client, []string{codeKey(subjectID)}).Int()
	if err != nil {
		return accesscode.ReservationGone, fmt.Errorf("reserve attempt: %w", err)
	}
	switch {
	case n < 0:
		return accesscode.ReservationGone, nil
	case n == 0:
		return accesscode.ReservationExhausted, nil
	default:
		return accesscode.Reserved, nil
	}
}

func (s *AccessCodeStore) Delete(ctx context.Context, subjectID string) error {
	if err := s.client.Del(ctx, codeKey(subjectID)).Err(); err != nil {
		return fmt.Errorf("delete access code: %w", err)
	}
	return nil
}

// Consume deletes the code if it still carries codeHash. Only one of two
// concurrent successful verifications gets true.
func (s *AccessCodeStore) Consume(ctx context.Context, subjectID, codeHash string) (bool, error) {
	n, err := consumeScript.Run(ctx, s.client, []string{codeKey(subjectID)}, codeHash).Int()
	if err != nil {
		return false, fmt.Errorf("consume access code: %w", err)
	}
	return n == 1, nil
}
