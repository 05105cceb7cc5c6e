// Package redisqueue implements store.Queue on top of
// github.com/redis/go-redis/v9, realizing the submission queue as a
// single Redis sorted set plus a Lua script for the atomic claim — the
// same "one statement, no race between selection and removal"
// discipline as the teacher's SQL puller, translated to Redis's
// EVAL/ZRANGE/ZREM primitives.
package redisqueue

import (
	"context"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kamalhaddad/texttovideo-orchestrator/store"
)

// priorityShift spaces priority classes far enough apart in score
// space that no realistic submission-time spread within one priority
// class can cross into the next (§3.3).
const priorityShift = 1 << 42

// claimScript atomically pops the lowest-scoring member of the queue.
var claimScript = redis.NewScript(`
local m = redis.call('ZRANGE', KEYS[1], 0, 0)
if #m == 0 then
	return false
end
redis.call('ZREM', KEYS[1], m[1])
return m[1]
`)

// Queue implements store.Queue against a single Redis sorted set.
type Queue struct {
	rdb redis.Cmdable
	key string
}

// New creates a Queue backed by rdb, storing members under key.
func New(rdb redis.Cmdable, key string) *Queue {
	return &Queue{rdb: rdb, key: key}
}

var _ store.Queue = (*Queue)(nil)

func score(priority int32, submittedAt int64) float64 {
	return float64(-int64(priority)*priorityShift + submittedAt)
}

func (q *Queue) Enqueue(ctx context.Context, id uuid.UUID, priority int32, submittedAt int64) error {
	_, err := q.rdb.ZAddNX(ctx, q.key, redis.Z{
		Score:  score(priority, submittedAt),
		Member: id.String(),
	}).Result()
	return err
}

func (q *Queue) TryClaim(ctx context.Context) (uuid.UUID, bool, error) {
	res, err := claimScript.Run(ctx, q.rdb, []string{q.key}).Result()
	if err != nil {
		if err == redis.Nil {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, err
	}
	member, ok := res.(string)
	if !ok {
		return uuid.Nil, false, nil
	}
	id, err := uuid.Parse(member)
	if err != nil {
		return uuid.Nil, false, err
	}
	return id, true, nil
}

func (q *Queue) Requeue(ctx context.Context, id uuid.UUID, priority int32, submittedAt int64) error {
	_, err := q.rdb.ZAdd(ctx, q.key, redis.Z{
		Score:  score(priority, submittedAt),
		Member: id.String(),
	}).Result()
	return err
}

func (q *Queue) Remove(ctx context.Context, id uuid.UUID) error {
	_, err := q.rdb.ZRem(ctx, q.key, id.String()).Result()
	return err
}

func (q *Queue) Length(ctx context.Context) (int64, error) {
	return q.rdb.ZCard(ctx, q.key).Result()
}
