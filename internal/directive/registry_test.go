package directive

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withRedisRegistry(action func(r *RedisRegistry, db *miniredis.Miniredis)) {
	db, err := miniredis.Run()
	if err != nil {
		panic(err)
	}
	defer db.Close()

	client := redis.NewClient(&redis.Options{Addr: db.Addr()})
	defer client.Close()

	action(NewRedisRegistry(client, "fleet", time.Hour), db)
}

func forEachRegistry(t *testing.T, test func(t *testing.T, r Registry)) {
	t.Run("memory", func(t *testing.T) {
		test(t, NewMemoryRegistry())
	})
	t.Run("redis", func(t *testing.T) {
		withRedisRegistry(func(r *RedisRegistry, _ *miniredis.Miniredis) {
			test(t, r)
		})
	})
}

func TestRegistry_Queue(t *testing.T) {
	forEachRegistry(t, func(t *testing.T, r Registry) {
		ctx := context.Background()
		require.NoError(t, r.SaveQueue(ctx, "c1", "k", []string{"a", "b"}))

		for _, expected := range []string{"a", "b"} {
			value, found, err := r.Pop(ctx, "c1", "k")
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, expected, value)
		}
		_, found, err := r.Pop(ctx, "c1", "k")
		require.NoError(t, err)
		assert.False(t, found)

		_, found, err = r.Pop(ctx, "c1", "unknown")
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestRegistry_List(t *testing.T) {
	forEachRegistry(t, func(t *testing.T, r Registry) {
		ctx := context.Background()
		require.NoError(t, r.SaveList(ctx, "c1", "k", []string{"a", "b"}))

		for i := 0; i < 2; i++ {
			values, err := r.List(ctx, "c1", "k")
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b"}, values)
		}

		values, err := r.List(ctx, "c2", "k")
		require.NoError(t, err)
		assert.Empty(t, values)
	})
}

func TestRegistry_SingleUse(t *testing.T) {
	forEachRegistry(t, func(t *testing.T, r Registry) {
		ctx := context.Background()
		require.NoError(t, SaveCount(ctx, r, "c1", "k", 12))

		count, found, err := ReadCount(ctx, r, "c1", "k")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, 12, count)

		_, found, err = ReadCount(ctx, r, "c1", "k")
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestRegistry_MinionIDsAndClean(t *testing.T) {
	forEachRegistry(t, func(t *testing.T, r Registry) {
		ctx := context.Background()
		require.NoError(t, r.SaveMinionIDs(ctx, "c1", "shop", []string{"m1", "m2"}))
		require.NoError(t, r.SaveMinionIDs(ctx, "c2", "shop", []string{"m3"}))
		require.NoError(t, r.SaveQueue(ctx, "c1", "q", []string{"x"}))

		ids, err := r.MinionIDs(ctx, "c1", "shop")
		require.NoError(t, err)
		assert.Equal(t, []string{"m1", "m2"}, ids)

		require.NoError(t, r.Clean(ctx, "c1"))

		ids, err = r.MinionIDs(ctx, "c1", "shop")
		require.NoError(t, err)
		assert.Empty(t, ids)
		_, found, err := r.Pop(ctx, "c1", "q")
		require.NoError(t, err)
		assert.False(t, found)
		ids, err = r.MinionIDs(ctx, "c2", "shop")
		require.NoError(t, err)
		assert.Equal(t, []string{"m3"}, ids)
	})
}

func concurrentPops(t *testing.T, r Registry, consumers, values int) {
	ctx := context.Background()
	seeded := make([]string, values)
	for i := range seeded {
		seeded[i] = fmt.Sprintf("minion-%d", i)
	}
	require.NoError(t, r.SaveQueue(ctx, "c1", "ids", seeded))

	results := make([][]string, consumers)
	wg := sync.WaitGroup{}
	for i := 0; i < consumers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for {
				value, found, err := r.Pop(ctx, "c1", "ids")
				if err != nil {
					t.Error(err)
					return
				}
				if !found {
					return
				}
				results[i] = append(results[i], value)
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, values)
	for _, popped := range results {
		for _, value := range popped {
			assert.False(t, seen[value], "%s popped twice", value)
			seen[value] = true
		}
	}
	assert.Len(t, seen, values)
	_, found, err := r.Pop(ctx, "c1", "ids")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryRegistry_ConcurrentPopsAreExactlyOnce(t *testing.T) {
	concurrentPops(t, NewMemoryRegistry(), 200, 20000)
}

func TestRedisRegistry_ConcurrentPopsAreExactlyOnce(t *testing.T) {
	withRedisRegistry(func(r *RedisRegistry, _ *miniredis.Miniredis) {
		concurrentPops(t, r, 20, 2000)
	})
}

func TestRedisRegistry_KeysExpireAfterRetention(t *testing.T) {
	withRedisRegistry(func(r *RedisRegistry, db *miniredis.Miniredis) {
		ctx := context.Background()
		require.NoError(t, r.SaveList(ctx, "c1", "k", []string{"a"}))

		assert.Equal(t, time.Hour, db.TTL("fleet:c1:k"))
		assert.Equal(t, time.Hour, db.TTL("fleet:c1:_keys"))
	})
}
