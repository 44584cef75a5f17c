package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/tablebot/core/dispatch"
	"github.com/kilianp07/tablebot/core/factory"
	"github.com/kilianp07/tablebot/core/model"
	"github.com/kilianp07/tablebot/test/util"
)

func TestNewRedisLocksWithClient_Defaults(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer client.Close()
	l := NewRedisLocksWithClient(client, Config{})
	assert.Equal(t, defaultPrefix, l.prefix)
	assert.Equal(t, defaultTTL, l.ttl)
	assert.Equal(t, defaultRetry, l.retry)
	assert.Equal(t, dispatch.DefaultLockWait, l.wait)

	l = NewRedisLocksWithClient(client, Config{Prefix: "x:", TTLMS: 500, RetryMS: 5, WaitMS: 40})
	assert.Equal(t, "x:", l.prefix)
	assert.Equal(t, 500*time.Millisecond, l.ttl)
	assert.Equal(t, 5*time.Millisecond, l.retry)
	assert.Equal(t, 40*time.Millisecond, l.wait)
}

func TestNewRedisLocks_RequiresAddr(t *testing.T) {
	_, err := NewRedisLocks(context.Background(), Config{})
	assert.Error(t, err)
}

func TestRedisLocks_UnreachableServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer client.Close()
	l := NewRedisLocksWithClient(client, Config{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := l.Acquire(ctx, dispatch.RobotKey("r1"))
	assert.Error(t, err)
}

func startRedis(t *testing.T) string {
	t.Helper()
	util.RequireDocker(t)
	addr, cleanup, err := util.StartRedis(context.Background())
	if err != nil {
		t.Skipf("unable to start redis container: %v", err)
	}
	t.Cleanup(cleanup)
	return addr
}

func TestRedisLocks_Integration(t *testing.T) {
	addr := startRedis(t)
	ctx := context.Background()

	lm, err := dispatch.NewLockManager(factory.ModuleConfig{Type: "redis", Conf: map[string]any{"addr": addr, "retry_ms": 2}})
	require.NoError(t, err)
	l := lm.(*RedisLocks)
	defer l.Close()

	t.Run("mutual exclusion", func(t *testing.T) {
		var inside atomic.Int32
		var overlap atomic.Bool
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				release, err := l.Acquire(ctx, dispatch.TableKey("t1"), dispatch.RobotKey("r1"))
				if err != nil {
					t.Error(err)
					return
				}
				if inside.Add(1) > 1 {
					overlap.Store(true)
				}
				time.Sleep(2 * time.Millisecond)
				inside.Add(-1)
				release()
			}()
		}
		wg.Wait()
		assert.False(t, overlap.Load())
	})

	t.Run("context cancel releases taken keys", func(t *testing.T) {
		release, err := l.Acquire(ctx, dispatch.RobotKey("r2"))
		require.NoError(t, err)

		tctx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
		defer cancel()
		_, err = l.Acquire(tctx, dispatch.TableKey("t2"), dispatch.RobotKey("r2"))
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		again, err := l.Acquire(ctx, dispatch.TableKey("t2"))
		require.NoError(t, err)
		again()
		release()
		release()
	})

	t.Run("busy key fails with ErrLocked after the wait", func(t *testing.T) {
		short := NewRedisLocksWithClient(l.client, Config{RetryMS: 2, WaitMS: 30})
		release, err := l.Acquire(ctx, dispatch.RobotKey("r3"))
		require.NoError(t, err)
		defer release()

		_, err = short.Acquire(ctx, dispatch.TableKey("t3"), dispatch.RobotKey("r3"))
		assert.ErrorIs(t, err, model.ErrLocked)
		assert.True(t, model.IsRetryable(err))

		again, err := l.Acquire(ctx, dispatch.TableKey("t3"))
		require.NoError(t, err)
		again()
	})

	t.Run("release keeps a foreign token", func(t *testing.T) {
		release, err := l.Acquire(ctx, dispatch.OrderKey("o1"))
		require.NoError(t, err)
		key := l.prefix + dispatch.OrderKey("o1").String()
		require.NoError(t, l.client.Set(ctx, key, "someone-else", time.Minute).Err())
		release()
		v, err := l.client.Get(ctx, key).Result()
		require.NoError(t, err)
		assert.Equal(t, "someone-else", v)
	})
}
