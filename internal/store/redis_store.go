package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const questionsKey = "questions"

type RedisLedger struct {
	client *redis.Client
}

func NewRedisLedger(ctx context.Context, addr string) (*RedisLedger, error) {
	opts, err := redis.ParseURL(addr)
	if err != nil {
		return nil, errors.Wrap(err, "error parsing redis URL")
	}

	c := redis.NewClient(opts)

	if err := c.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "error connecting to redis")
	}

	return &RedisLedger{client: c}, nil
}

func votersKey(questionID string) string { return fmt.Sprintf("question:%s:voters", questionID) }
func countsKey(questionID string) string { return fmt.Sprintf("question:%s:counts", questionID) }

/*
recordVoteScript runs SADD, HSET and the questions index as one unit, so an
identity is never marked as voted without its counts being stored.

KEYS[1] voters set, KEYS[2] counts hash, KEYS[3] questions set
ARGV[1] identity key, ARGV[2] yes, ARGV[3] no, ARGV[4] question id
*/
var recordVoteScript = redis.NewScript(`
if redis.call('SADD', KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[2], 'yes', ARGV[2], 'no', ARGV[3])
redis.call('SADD', KEYS[3], ARGV[4])
return 1
`)

func (rl *RedisLedger) RecordVote(ctx context.Context, questionID, identityKey string, c Counts) (bool, error) {
	keys := []string{votersKey(questionID), countsKey(questionID), questionsKey}
	n, err := recordVoteScript.Run(ctx, rl.client, keys, identityKey, c.Yes, c.No, questionID).Int()
	if err != nil {
		return false, errors.Wrap(err, "error recording vote")
	}
	return n == 1, nil
}

func (rl *RedisLedger) Counts(ctx context.Context, questionID string) (Counts, error) {
	raw, err := rl.client.HGetAll(ctx, countsKey(questionID)).Result()
	if err != nil {
		return Counts{}, errors.Wrap(err, "error getting counts from redis")
	}
	if len(raw) == 0 {
		return Counts{}, ErrNotFound
	}

	var c Counts
	if c.Yes, err = atoiField(raw, "yes"); err != nil {
		return Counts{}, err
	}
	if c.No, err = atoiField(raw, "no"); err != nil {
		return Counts{}, err
	}
	return c, nil
}

func atoiField(raw map[string]string, field string) (int, error) {
	s, ok := raw[field]
	if !ok {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Wrapf(err, "error converting %s count to int", field)
	}
	return n, nil
}

func (rl *RedisLedger) Questions(ctx context.Context) ([]string, error) {
	ids, err := rl.client.SMembers(ctx, questionsKey).Result()
	if err != nil {
		return nil, errors.Wrap(err, "error listing questions")
	}
	sort.Strings(ids)
	return ids, nil
}

func (rl *RedisLedger) Close() error {
	if err := rl.client.Close(); err != nil {
		return errors.Wrap(err, "error closing redis client")
	}
	return nil
}
