package outbox

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// pushScript appends ARGV[1] unless the list already holds ARGV[2] items.
var pushScript = redis.NewScript(`
if redis.call('LLEN', KEYS[1]) >= tonumber(ARGV[2]) then
	return 0
end
redis.call('RPUSH', KEYS[1], ARGV[1])
return 1
`)

// RedisOutbox stores entries in a Redis list so they survive restarts.
type RedisOutbox struct {
	rdb      *redis.Client
	key      string
	capacity int
}

// NewRedisOutbox builds an outbox on key, one per client instance.
func NewRedisOutbox(rdb *redis.Client, key string, capacity int) *RedisOutbox {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &RedisOutbox{rdb: rdb, key: key, capacity: capacity}
}

// KeyFor returns the list key of the named client.
func KeyFor(client string) string {
	return "chatclient:outbox:" + client
}

func (o *RedisOutbox) Push(ctx context.Context, e Entry) error {
	body, err := jsoniter.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode outbox entry: %w", err)
	}
	added, err := pushScript.Run(ctx, o.rdb, []string{o.key}, body, o.capacity).Int()
	if err != nil {
		return fmt.Errorf("push outbox entry: %w", err)
	}
	if added == 0 {
		return ErrFull
	}
	return nil
}

func (o *RedisOutbox) Drain(ctx context.Context) ([]Entry, error) {
	var rng *redis.StringSliceCmd
	_, err := o.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		rng = pipe.LRange(ctx, o.key, 0, -1)
		pipe.Del(ctx, o.key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("drain outbox: %w", err)
	}

	raw := rng.Val()
	out := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var e Entry
		if err := jsoniter.UnmarshalFromString(item, &e); err != nil {
			log.Warn().Err(err).Str("key", o.key).Msg("dropping undecodable outbox entry")
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (o *RedisOutbox) Requeue(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		body, err := jsoniter.Marshal(entries[i])
		if err != nil {
			return fmt.Errorf("encode outbox entry: %w", err)
		}
		values = append(values, body)
	}
	if err := o.rdb.LPush(ctx, o.key, values...).Err(); err != nil {
		return fmt.Errorf("requeue outbox entries: %w", err)
	}
	return nil
}

func (o *RedisOutbox) Len(ctx context.Context) (int, error) {
	n, err := o.rdb.LLen(ctx, o.key).Result()
	if err != nil {
		return 0, fmt.Errorf("outbox length: %w", err)
	}
	return int(n), nil
}
