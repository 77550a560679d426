package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusRevoked  int64 = 1
	rotateStatusReplay   int64 = 2
	rotateStatusRotated  int64 = 3
)

// Timestamps are unix milliseconds supplied by the caller so that the
// ledger follows the injected clock rather than the Redis server clock.
const registerScript = `
local fam_key = KEYS[1]
local sub_key = KEYS[2]
local now = tonumber(ARGV[5])
local exp = tonumber(ARGV[4])

local cur_exp = redis.call("HGET", fam_key, "exp")
if cur_exp and tonumber(cur_exp) > now then
  return 0
end

redis.call("DEL", fam_key)
redis.call("HSET", fam_key,
  "sub", ARGV[1],
  "seq", ARGV[2],
  "status", "active",
  "iat", ARGV[3],
  "rot", ARGV[3],
  "exp", ARGV[4],
  "ip", ARGV[7],
  "ua", ARGV[8])
local ttl = exp - now
redis.call("PEXPIRE", fam_key, ttl)

redis.call("SADD", sub_key, ARGV[6])
if redis.call("PTTL", sub_key) < ttl then
  redis.call("PEXPIRE", sub_key, ttl)
end
return 1
`

const rotateScript = `
local fam_key = KEYS[1]
local presented = ARGV[1]
local now = tonumber(ARGV[2])

local h = redis.call("HMGET", fam_key, "sub", "seq", "status", "iat", "exp", "ip", "ua")
if not h[1] then
  return {0}
end
if tonumber(h[5]) <= now then
  redis.call("DEL", fam_key)
  return {0}
end
if h[3] == "revoked" then
  return {1}
end
if h[2] ~= presented then
  redis.call("HSET", fam_key, "status", "revoked", "rot", ARGV[2])
  return {2}
end

-- Lua numbers are doubles; read the counter back as a string so sequences
-- past 2^53 stay exact.
redis.call("HINCRBY", fam_key, "seq", 1)
redis.call("HSET", fam_key, "status", "rotated", "rot", ARGV[2])
local next_seq = redis.call("HGET", fam_key, "seq")
return {3, h[1], next_seq, h[4], h[5], h[6] or "", h[7] or ""}
`

const revokeScript = `
local st = redis.call("HGET", KEYS[1], "status")
if not st or st == "revoked" then
  return 0
end
if tonumber(redis.call("HGET", KEYS[1], "exp")) <= tonumber(ARGV[1]) then
  return 0
end
redis.call("HSET", KEYS[1], "status", "revoked", "rot", ARGV[1])
return 1
`

var (
	registerLua = redis.NewScript(registerScript)
	rotateLua   = redis.NewScript(rotateScript)
	revokeLua   = redis.NewScript(revokeScript)
)

// RedisStore keeps each family in a hash and indexes families by subject.
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

func (s *RedisStore) familyKey(familyID string) string {
	return s.prefix + "fam:" + familyID
}

func (s *RedisStore) subjectKey(subjectID string) string {
	return s.prefix + "famsub:" + subjectID
}

// Register implements Store.
func (s *RedisStore) Register(ctx context.Context, e Entry) error {
	if err := validateEntry(e); err != nil {
		return err
	}
	res, err := registerLua.Run(ctx, s.redis,
		[]string{s.familyKey(e.FamilyID), s.subjectKey(e.SubjectID)},
		e.SubjectID,
		strconv.FormatUint(e.Sequence, 10),
		e.IssuedAt.UnixMilli(),
		e.ExpiresAt.UnixMilli(),
		e.IssuedAt.UnixMilli(),
		e.FamilyID,
		e.ClientIP,
		e.UserAgent,
	).Int64()
	if err != nil {
		return unavailable(err)
	}
	if res == 0 {
		return ErrFamilyExists
	}
	return nil
}

// Rotate implements Store.
func (s *RedisStore) Rotate(ctx context.Context, familyID string, presented uint64, now time.Time) (Entry, error) {
	result, err := rotateLua.Run(ctx, s.redis,
		[]string{s.familyKey(familyID)},
		strconv.FormatUint(presented, 10),
		now.UnixMilli(),
	).Result()
	if err != nil {
		return Entry{}, unavailable(err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return Entry{}, fmt.Errorf("%w: invalid rotate script response", ErrUnavailable)
	}
	code, ok := parts[0].(int64)
	if !ok {
		return Entry{}, fmt.Errorf("%w: invalid rotate script status", ErrUnavailable)
	}

	switch code {
	case rotateStatusNotFound:
		return Entry{}, ErrFamilyNotFound
	case rotateStatusRevoked:
		return Entry{}, ErrFamilyRevoked
	case rotateStatusReplay:
		return Entry{}, ErrReplayDetected
	case rotateStatusRotated:
		if len(parts) < 7 {
			return Entry{}, fmt.Errorf("%w: short rotate script response", ErrUnavailable)
		}
		fields := make([]string, 6)
		for i := range fields {
			str, ok := parts[i+1].(string)
			if !ok {
				return Entry{}, fmt.Errorf("%w: invalid rotate script payload", ErrUnavailable)
			}
			fields[i] = str
		}
		seq, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return Entry{}, fmt.Errorf("%w: invalid sequence %q", ErrUnavailable, fields[1])
		}
		iat, err1 := strconv.ParseInt(fields[2], 10, 64)
		exp, err2 := strconv.ParseInt(fields[3], 10, 64)
		if err := errors.Join(err1, err2); err != nil {
			return Entry{}, unavailable(err)
		}
		return Entry{
			FamilyID:      familyID,
			SubjectID:     fields[0],
			Sequence:      seq,
			Status:        StatusRotated,
			IssuedAt:      time.UnixMilli(iat).UTC(),
			LastRotatedAt: now,
			ExpiresAt:     time.UnixMilli(exp).UTC(),
			ClientIP:      fields[4],
			UserAgent:     fields[5],
		}, nil
	default:
		return Entry{}, fmt.Errorf("%w: unknown rotate script status %d", ErrUnavailable, code)
	}
}

// Revoke implements Store.
func (s *RedisStore) Revoke(ctx context.Context, familyID string, now time.Time) error {
	if err := revokeLua.Run(ctx, s.redis, []string{s.familyKey(familyID)}, now.UnixMilli()).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// RevokeSubject implements Store. Families registered while this runs may
// survive; each family is revoked atomically on its own.
func (s *RedisStore) RevokeSubject(ctx context.Context, subjectID string, now time.Time) (int, error) {
	ids, err := s.redis.SMembers(ctx, s.subjectKey(subjectID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, unavailable(err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	cmds := make([]*redis.Cmd, len(ids))
	_, err = s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = revokeLua.Eval(ctx, pipe, []string{s.familyKey(id)}, now.UnixMilli())
		}
		return nil
	})
	if err != nil {
		return 0, unavailable(err)
	}
	n := 0
	for _, cmd := range cmds {
		if v, _ := cmd.Int64(); v == 1 {
			n++
		}
	}
	return n, nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, familyID string, now time.Time) (Entry, error) {
	h, err := s.redis.HGetAll(ctx, s.familyKey(familyID)).Result()
	if err != nil {
		return Entry{}, unavailable(err)
	}
	if len(h) == 0 {
		return Entry{}, ErrFamilyNotFound
	}
	e, err := parseFamily(familyID, h)
	if err != nil {
		return Entry{}, err
	}
	if !now.Before(e.ExpiresAt) {
		return Entry{}, ErrFamilyNotFound
	}
	return e, nil
}

// ListSubject implements Store. Index members whose family hash has expired
// are removed from the subject set.
func (s *RedisStore) ListSubject(ctx context.Context, subjectID string, now time.Time) ([]Entry, error) {
	subKey := s.subjectKey(subjectID)
	ids, err := s.redis.SMembers(ctx, subKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable(err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.familyKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, unavailable(err)
	}

	var (
		out   []Entry
		stale []interface{}
	)
	for i, cmd := range cmds {
		h := cmd.Val()
		if len(h) == 0 {
			stale = append(stale, ids[i])
			continue
		}
		e, err := parseFamily(ids[i], h)
		if err != nil {
			return nil, err
		}
		if e.SubjectID == subjectID && e.Live(now) {
			out = append(out, e)
		}
	}
	if len(stale) > 0 {
		_ = s.redis.SRem(ctx, subKey, stale...).Err()
	}
	sortByIssue(out)
	return out, nil
}

func parseFamily(familyID string, h map[string]string) (Entry, error) {
	seq, err := strconv.ParseUint(h["seq"], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: corrupt family %s", ErrUnavailable, familyID)
	}
	iat, err1 := strconv.ParseInt(h["iat"], 10, 64)
	rot, err2 := strconv.ParseInt(h["rot"], 10, 64)
	exp, err3 := strconv.ParseInt(h["exp"], 10, 64)
	if err := errors.Join(err1, err2, err3); err != nil {
		return Entry{}, fmt.Errorf("%w: corrupt family %s: %v", ErrUnavailable, familyID, err)
	}
	return Entry{
		FamilyID:      familyID,
		SubjectID:     h["sub"],
		Sequence:      seq,
		Status:        Status(h["status"]),
		IssuedAt:      time.UnixMilli(iat).UTC(),
		LastRotatedAt: time.UnixMilli(rot).UTC(),
		ExpiresAt:     time.UnixMilli(exp).UTC(),
		ClientIP:      h["ip"],
		UserAgent:     h["ua"],
	}, nil
}
