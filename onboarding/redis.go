package onboarding

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// KEYS[1] = account hash, KEYS[2] = email index
// ARGV = subject id, email, state, password hash, now (unix ms)
var createAccountLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 or redis.call('EXISTS', KEYS[1]) == 1 then
  return {err='exists'}
end
redis.call('SET', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[1],
  'email', ARGV[2],
  'state', ARGV[3],
  'pwd', ARGV[4],
  'created', ARGV[5],
  'updated', ARGV[5])
return 1
`)

// KEYS[1] = account hash
// ARGV = expected state, next state, password hash or "", now (unix ms)
var transitionAccountLua = redis.NewScript(`
local st = redis.call('HGET', KEYS[1], 'state')
if not st then
  return {err='not_found'}
end
if st ~= ARGV[1] then
  return {err='state_mismatch'}
end
redis.call('HSET', KEYS[1], 'state', ARGV[2], 'updated', ARGV[4])
if ARGV[3] ~= '' then
  redis.call('HSET', KEYS[1], 'pwd', ARGV[3])
end
return 1
`)

// RedisStore keeps accounts in hashes with an email index.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore returns a store using keys under prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "authcore:"
	}
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) accountKey(subjectID string) string {
	return s.prefix + "acct:" + subjectID
}

func (s *RedisStore) emailKey(email string) string {
	return s.prefix + "acctemail:" + email
}

func scriptError(err error, code string) bool {
	return err != nil && strings.Contains(err.Error(), code)
}

func (s *RedisStore) Create(ctx context.Context, a Account) error {
	err := createAccountLua.Run(ctx, s.redis,
		[]string{s.accountKey(a.SubjectID), s.emailKey(a.Email)},
		a.SubjectID, a.Email, a.State.String(), a.PasswordHash, a.CreatedAt.UnixMilli(),
	).Err()
	switch {
	case err == nil:
		return nil
	case scriptError(err, "exists"):
		return ErrAccountExists
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

func (s *RedisStore) ByID(ctx context.Context, subjectID string) (Account, error) {
	h, err := s.redis.HGetAll(ctx, s.accountKey(subjectID)).Result()
	if err != nil {
		return Account{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(h) == 0 {
		return Account{}, ErrAccountNotFound
	}
	return decodeAccount(subjectID, h)
}

func (s *RedisStore) ByEmail(ctx context.Context, email string) (Account, error) {
	id, err := s.redis.Get(ctx, s.emailKey(email)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return s.ByID(ctx, id)
}

func (s *RedisStore) Transition(ctx context.Context, subjectID string, from, to State, passwordHash string, now time.Time) (Account, error) {
	err := transitionAccountLua.Run(ctx, s.redis,
		[]string{s.accountKey(subjectID)},
		from.String(), to.String(), passwordHash, now.UnixMilli(),
	).Err()
	switch {
	case err == nil:
	case scriptError(err, "not_found"):
		return Account{}, ErrAccountNotFound
	case scriptError(err, "state_mismatch"):
		cur, getErr := s.ByID(ctx, subjectID)
		if getErr != nil {
			return Account{}, getErr
		}
		return cur, ErrStateMismatch
	default:
		return Account{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return s.ByID(ctx, subjectID)
}

func (s *RedisStore) SetPasswordHash(ctx context.Context, subjectID, passwordHash string, now time.Time) error {
	err := transitionAccountLua.Run(ctx, s.redis,
		[]string{s.accountKey(subjectID)},
		StateActive.String(), StateActive.String(), passwordHash, now.UnixMilli(),
	).Err()
	switch {
	case err == nil:
		return nil
	case scriptError(err, "not_found"):
		return ErrAccountNotFound
	case scriptError(err, "state_mismatch"):
		return ErrStateMismatch
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

func decodeAccount(subjectID string, h map[string]string) (Account, error) {
	st, err := ParseState(h["state"])
	if err != nil {
		return Account{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	created, err1 := strconv.ParseInt(h["created"], 10, 64)
	updated, err2 := strconv.ParseInt(h["updated"], 10, 64)
	if err := errors.Join(err1, err2); err != nil {
		return Account{}, fmt.Errorf("%w: corrupt account %s: %v", ErrUnavailable, subjectID, err)
	}
	return Account{
		SubjectID:    subjectID,
		Email:        h["email"],
		State:        st,
		PasswordHash: h["pwd"],
		CreatedAt:    time.UnixMilli(created).UTC(),
		UpdatedAt:    time.UnixMilli(updated).UTC(),
	}, nil
}
