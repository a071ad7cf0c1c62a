package redisclient

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/petcare-scheduling/internal/appointment"
	"github.com/hackgods/petcare-scheduling/internal/booking"
)

// SessionStore keeps booking drafts in redis as a hash of the snapshot and
// its revision. The TTL is refreshed on every save, so only sessions idle
// for a full TTL expire.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

func sessionKey(id string) string { return "booking:session:" + id }

// saveIfVersionScript writes ARGV[3] as revision ARGV[2] only while the
// stored revision is ARGV[1]. A missing session counts as revision 0.
var saveIfVersionScript = redis.NewScript(`
local cur = redis.call("HGET", KEYS[1], "version")
if cur == false then
  cur = "0"
end
if cur ~= ARGV[1] then
  return 0
end
redis.call("HSET", KEYS[1], "version", ARGV[2], "data", ARGV[3])
redis.call("PEXPIRE", KEYS[1], ARGV[4])
return 1
`)

// storeError marks a redis failure as transient so callers may retry.
func storeError(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), appointment.ErrStoreUnavailable)
}

func (s *SessionStore) Save(ctx context.Context, id string, snap booking.Snapshot) error {
	expected := snap.Version
	snap.Version = expected + 1

	raw, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "encode booking session")
	}

	saved, err := saveIfVersionScript.Run(ctx, s.client, []string{sessionKey(id)},
		expected, snap.Version, raw, s.ttl.Milliseconds()).Int()
	if err != nil {
		return storeError(err, "save booking session")
	}
	if saved == 0 {
		return booking.ErrSessionConflict
	}
	return nil
}

func (s *SessionStore) Load(ctx context.Context, id string) (booking.Snapshot, error) {
	vals, err := s.client.HMGet(ctx, sessionKey(id), "data", "version").Result()
	if err != nil {
		return booking.Snapshot{}, storeError(err, "load booking session")
	}
	data, ok := vals[0].(string)
	if !ok {
		return booking.Snapshot{}, booking.ErrSessionNotFound
	}

	var snap booking.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return booking.Snapshot{}, errors.Wrap(err, "decode booking session")
	}
	if v, ok := vals[1].(string); ok {
		version, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return booking.Snapshot{}, errors.Wrap(err, "decode booking session version")
		}
		snap.Version = version
	}
	return snap, nil
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, sessionKey(id)).Err(); err != nil {
		return storeError(err, "delete booking session")
	}
	return nil
}
