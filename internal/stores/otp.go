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

const otpRecordVersionV1 = 1

var (
	ErrOTPNotFound         = errors.New("otp record not found")
	ErrOTPExpired          = errors.New("otp record expired")
	ErrOTPMismatch         = errors.New("otp mismatch")
	ErrOTPAttemptsExceeded = errors.New("otp attempts exceeded")
	ErrOTPRedisUnavailable = errors.New("otp redis unavailable")
)

// consumeOTPLua atomically performs GET→validate→DEL/SET on an issued code.
// KEYS[1] = record key
// ARGV[1] = provided hash (32 bytes)
// ARGV[2] = max attempts (int string)
// ARGV[3] = current unix timestamp (int string)
//
// Returns:
//
//	record bytes on success
//	error string: "not_found", "expired", "attempts_exceeded", "mismatch"
var consumeOTPLua = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return {err='not_found'}
end

local providedHash = ARGV[1]
local maxAttempts = tonumber(ARGV[2])
local nowUnix = tonumber(ARGV[3])

-- version(1) attempts(2 big-endian) expiresAt(8 big-endian) phoneLen(2) phone hash(32)
if string.byte(data, 1) ~= 1 then
  redis.call('DEL', KEYS[1])
  return {err='not_found'}
end

local attempts = string.byte(data, 2) * 256 + string.byte(data, 3)

local expiresAt = 0
for i = 4, 11 do
  expiresAt = expiresAt * 256 + string.byte(data, i)
end

if nowUnix > expiresAt then
  redis.call('DEL', KEYS[1])
  return {err='expired'}
end

local phoneLen = string.byte(data, 12) * 256 + string.byte(data, 13)
local hashOffset = 14 + phoneLen
local storedHash = string.sub(data, hashOffset, hashOffset + 31)

if storedHash ~= providedHash then
  attempts = attempts + 1
  if attempts >= maxAttempts then
    redis.call('DEL', KEYS[1])
    return {err='attempts_exceeded'}
  end
  local newData = string.sub(data, 1, 1) .. string.char(math.floor(attempts / 256), attempts % 256) .. string.sub(data, 4)
  local ttlMs = redis.call('PTTL', KEYS[1])
  if ttlMs <= 0 then
    redis.call('DEL', KEYS[1])
    return {err='expired'}
  end
  redis.call('SET', KEYS[1], newData, 'PX', ttlMs)
  return {err='mismatch'}
end

redis.call('DEL', KEYS[1])
return data
`)

// OTPRecord is what Redis holds for one issued code. The code itself is
// never stored, only its SHA-256.
type OTPRecord struct {
	Phone      string
	SecretHash [32]byte
	ExpiresAt  int64
	Attempts   uint16
}

type OTPStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewOTPStore(redisClient redis.UniversalClient, prefix string) *OTPStore {
	if prefix == "" {
		prefix = "af"
	}
	return &OTPStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

// Key returns the Redis key of a challenge, "<prefix>c:<challengeID>".
func (s *OTPStore) Key(challengeID string) string {
	return s.prefix + "c:" + challengeID
}

func (s *OTPStore) Save(ctx context.Context, challengeID string, record *OTPRecord, ttl time.Duration) error {
	encoded, err := encodeOTPRecord(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.Key(challengeID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
	}
	return nil
}

func (s *OTPStore) Delete(ctx context.Context, challengeID string) error {
	if err := s.redis.Del(ctx, s.Key(challengeID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
	}
	return nil
}

// Consume checks providedHash against the stored record. A match deletes the
// record and returns it; a miss bumps the attempt counter and deletes the
// record once maxAttempts is reached. Expiry is judged against now.
func (s *OTPStore) Consume(ctx context.Context, challengeID string, providedHash [32]byte, maxAttempts int, now time.Time) (*OTPRecord, error) {
	result, err := consumeOTPLua.Run(ctx, s.redis,
		[]string{s.Key(challengeID)},
		string(providedHash[:]),
		maxAttempts,
		now.Unix(),
	).Result()
	if err != nil {
		switch err.Error() {
		case "not_found":
			return nil, ErrOTPNotFound
		case "expired":
			return nil, ErrOTPExpired
		case "attempts_exceeded":
			return nil, ErrOTPAttemptsExceeded
		case "mismatch":
			return nil, ErrOTPMismatch
		default:
			return nil, fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
		}
	}

	data, ok := result.(string)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected lua result type", ErrOTPRedisUnavailable)
	}

	record, err := decodeOTPRecord([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
	}

	// Lua string comparison is not constant-time.
	if subtle.ConstantTimeCompare(record.SecretHash[:], providedHash[:]) != 1 {
		return nil, ErrOTPMismatch
	}

	return record, nil
}

func encodeOTPRecord(record *OTPRecord) ([]byte, error) {
	if len(record.Phone) > 65535 {
		return nil, errors.New("otp record phone too long")
	}

	var buf bytes.Buffer
	buf.Grow(1 + 2 + 8 + 2 + len(record.Phone) + 32)

	buf.WriteByte(otpRecordVersionV1)
	_ = binary.Write(&buf, binary.BigEndian, record.Attempts)
	_ = binary.Write(&buf, binary.BigEndian, record.ExpiresAt)
	_ = binary.Write(&buf, binary.BigEndian, uint16(len(record.Phone)))
	buf.WriteString(record.Phone)
	buf.Write(record.SecretHash[:])

	return buf.Bytes(), nil
}

func decodeOTPRecord(data []byte) (*OTPRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != otpRecordVersionV1 {
		return nil, errors.New("invalid otp record version")
	}

	record := &OTPRecord{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var phoneLen uint16
	if err := binary.Read(reader, binary.BigEndian, &phoneLen); err != nil {
		return nil, err
	}
	phone := make([]byte, phoneLen)
	if _, err := io.ReadFull(reader, phone); err != nil {
		return nil, err
	}
	record.Phone = string(phone)

	if _, err := io.ReadFull(reader, record.SecretHash[:]); err != nil {
		return nil, err
	}

	return record, nil
}
