package directive

import (
	"context"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
)

// RedisRegistry shares the payloads between the nodes through redis. Queues are lists popped with LPOP, which
// redis runs atomically, so a value is never handed out twice.
type RedisRegistry struct {
	db        redis.UniversalClient
	namespace string
	retention time.Duration
}

// NewRedisRegistry stores the payloads under namespace. Every key expires after retention, 0 disables expiry.
func NewRedisRegistry(db redis.UniversalClient, namespace string, retention time.Duration) *RedisRegistry {
	return &RedisRegistry{db: db, namespace: namespace, retention: retention}
}

func (r *RedisRegistry) key(campaign, key string) string {
	return r.namespace + ":" + campaign + ":" + key
}

// indexKey is the set of the keys saved for a campaign.
func (r *RedisRegistry) indexKey(campaign string) string {
	return r.namespace + ":" + campaign + ":_keys"
}

func (r *RedisRegistry) saveList(campaign, key string, values []string) error {
	k := r.key(campaign, key)
	_, err := r.db.TxPipelined(func(pipe redis.Pipeliner) error {
		pipe.Del(k)
		if len(values) > 0 {
			args := make([]interface{}, len(values))
			for i, v := range values {
				args[i] = v
			}
			pipe.RPush(k, args...)
		}
		r.index(pipe, campaign, k)
		return nil
	})
	return errors.Wrapf(err, "saving %s", k)
}

func (r *RedisRegistry) index(pipe redis.Pipeliner, campaign, key string) {
	pipe.SAdd(r.indexKey(campaign), key)
	if r.retention > 0 {
		pipe.Expire(key, r.retention)
		pipe.Expire(r.indexKey(campaign), r.retention)
	}
}

func (r *RedisRegistry) SaveQueue(_ context.Context, campaign, key string, values []string) error {
	return r.saveList(campaign, key, values)
}

func (r *RedisRegistry) Pop(_ context.Context, campaign, key string) (string, bool, error) {
	value, err := r.db.LPop(r.key(campaign, key)).Result()
	// redis signals empty list by Nil
	if err == redis.Nil {
		return "", false, nil
	} else if err != nil {
		return "", false, errors.Wrapf(err, "popping %s", key)
	}
	return value, true, nil
}

func (r *RedisRegistry) SaveList(_ context.Context, campaign, key string, values []string) error {
	return r.saveList(campaign, key, values)
}

func (r *RedisRegistry) List(_ context.Context, campaign, key string) ([]string, error) {
	values, err := r.db.LRange(r.key(campaign, key), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", key)
	}
	if len(values) == 0 {
		return nil, nil
	}
	return values, nil
}

func (r *RedisRegistry) SaveSingleUse(_ context.Context, campaign, key, value string) error {
	k := r.key(campaign, key)
	_, err := r.db.TxPipelined(func(pipe redis.Pipeliner) error {
		pipe.Set(k, value, r.retention)
		r.index(pipe, campaign, k)
		return nil
	})
	return errors.Wrapf(err, "saving %s", k)
}

func (r *RedisRegistry) ReadSingleUse(_ context.Context, campaign, key string) (string, bool, error) {
	k := r.key(campaign, key)
	var get *redis.StringCmd
	_, err := r.db.TxPipelined(func(pipe redis.Pipeliner) error {
		get = pipe.Get(k)
		pipe.Del(k)
		return nil
	})
	if err != nil && err != redis.Nil {
		return "", false, errors.Wrapf(err, "reading %s", k)
	}
	value, err := get.Result()
	if err == redis.Nil {
		return "", false, nil
	} else if err != nil {
		return "", false, errors.Wrapf(err, "reading %s", k)
	}
	return value, true, nil
}

func (r *RedisRegistry) SaveMinionIDs(ctx context.Context, campaign, scenario string, ids []string) error {
	return r.SaveList(ctx, campaign, minionIDsKey(scenario), ids)
}

func (r *RedisRegistry) MinionIDs(ctx context.Context, campaign, scenario string) ([]string, error) {
	return r.List(ctx, campaign, minionIDsKey(scenario))
}

func (r *RedisRegistry) Clean(_ context.Context, campaign string) error {
	keys, err := r.db.SMembers(r.indexKey(campaign)).Result()
	if err != nil {
		return errors.Wrapf(err, "listing the keys of campaign %s", campaign)
	}
	keys = append(keys, r.indexKey(campaign))
	return errors.Wrapf(r.db.Del(keys...).Err(), "cleaning campaign %s", campaign)
}
