package quota

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// consumeScript resets expired windows, checks every window and increments
// all of them only when each has room. Redis runs scripts atomically, so the
// whole sequence is indivisible for the credential.
//
// KEYS: one hash per window. ARGV: consume flag, then start, limit and ttl
// for each window. Reply: rejected window index (0 = admitted) followed by
// the usage of each window.
var consumeScript = goredis.NewScript(`
local consume = ARGV[1] == "1"
local usage = {}
for i = 1, #KEYS do
  local base = 1 + (i - 1) * 3
  local start = tonumber(ARGV[base + 1])
  local cur = redis.call("HMGET", KEYS[i], "start", "usage")
  local s = tonumber(cur[1])
  local u = tonumber(cur[2]) or 0
  if s == nil or s < start then
    u = 0
    if consume then
      redis.call("HSET", KEYS[i], "start", start, "usage", 0)
      redis.call("EXPIRE", KEYS[i], tonumber(ARGV[base + 3]))
    end
  end
  usage[i] = u
end
local rejected = 0
for i = 1, #KEYS do
  local limit = tonumber(ARGV[1 + (i - 1) * 3 + 2])
  if usage[i] >= limit then
    rejected = i
    break
  end
end
if rejected == 0 and consume then
  for i = 1, #KEYS do
    usage[i] = redis.call("HINCRBY", KEYS[i], "usage", 1)
  end
end
local reply = {rejected}
for i = 1, #KEYS do
  reply[#reply + 1] = usage[i]
end
return reply
`)

// RedisStore keeps window counters in Redis so several API processes share
// one budget per credential.
type RedisStore struct {
	client    goredis.Scripter
	keyPrefix string
}

func NewRedisStore(client goredis.Scripter, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "divgate:usage"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisStore) ResetIfExpiredAndIncrement(ctx context.Context, credentialID string, limits []Limit, now time.Time) (Outcome, error) {
	return s.run(ctx, credentialID, limits, now, true)
}

func (s *RedisStore) Peek(ctx context.Context, credentialID string, limits []Limit, now time.Time) (Outcome, error) {
	return s.run(ctx, credentialID, limits, now, false)
}

func (s *RedisStore) run(ctx context.Context, credentialID string, limits []Limit, now time.Time, consume bool) (Outcome, error) {
	if len(limits) == 0 {
		return Outcome{Admitted: true}, nil
	}

	keys, args := s.scriptArgs(credentialID, limits, now, consume)
	raw, err := consumeScript.Run(ctx, s.client, keys, args...).Result()
	if err != nil {
		return Outcome{}, fmt.Errorf("quota: redis consume for %s: %w", credentialID, err)
	}
	return parseReply(raw, limits, now)
}

// windowKey uses a hash tag so every window of a credential lands in the
// same cluster slot, which EVAL requires.
func (s *RedisStore) windowKey(credentialID string, w Window) string {
	return fmt.Sprintf("%s:{%s}:%s", s.keyPrefix, credentialID, w)
}

func (s *RedisStore) scriptArgs(credentialID string, limits []Limit, now time.Time, consume bool) ([]string, []interface{}) {
	keys := make([]string, len(limits))
	flag := "0"
	if consume {
		flag = "1"
	}
	args := []interface{}{flag}
	for i, l := range limits {
		start, end := l.Window.Bounds(now)
		keys[i] = s.windowKey(credentialID, l.Window)
		// Keep the key one window past its end so a late reader still sees it.
		ttl := int64(end.Sub(start).Seconds()) * 2
		args = append(args, start.Unix(), l.Max, ttl)
	}
	return keys, args
}

func parseReply(raw interface{}, limits []Limit, now time.Time) (Outcome, error) {
	vals, ok := raw.([]interface{})
	if !ok || len(vals) != len(limits)+1 {
		return Outcome{}, fmt.Errorf("quota: unexpected redis reply %v", raw)
	}

	nums := make([]int64, len(vals))
	for i, v := range vals {
		n, ok := v.(int64)
		if !ok {
			return Outcome{}, fmt.Errorf("quota: unexpected redis reply element %v", v)
		}
		nums[i] = n
	}

	out := Outcome{Admitted: nums[0] == 0, Windows: make([]WindowUsage, len(limits))}
	if !out.Admitted {
		idx := int(nums[0]) - 1
		if idx < 0 || idx >= len(limits) {
			return Outcome{}, fmt.Errorf("quota: redis reply rejected window %d out of range", nums[0])
		}
		out.Rejected = limits[idx].Window
	}
	for i, l := range limits {
		_, end := l.Window.Bounds(now)
		out.Windows[i] = WindowUsage{Window: l.Window, Limit: l.Max, Used: nums[i+1], ResetAt: end}
	}
	return out, nil
}

var _ CounterStore = (*RedisStore)(nil)
