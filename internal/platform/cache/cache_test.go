package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestVersionedFetchCachesUntilBump(t *testing.T) {
	ctx := context.Background()
	c := NewVersioned(newRedis(t), "balances", time.Minute)

	var calls int32
	loader := func(context.Context) (any, error) {
		n := atomic.AddInt32(&calls, 1)
		return map[string]int32{"calls": n}, nil
	}

	key, err := c.BuildKey(ctx, "list", "all")
	require.NoError(t, err)
	require.Equal(t, "balances:list:all:v1", key)

	var first, second map[string]int32
	require.NoError(t, c.FetchJSON(ctx, key, &first, loader))
	require.NoError(t, c.FetchJSON(ctx, key, &second, loader))
	require.Equal(t, int32(1), first["calls"])
	require.Equal(t, first, second)

	require.NoError(t, c.Bump(ctx))
	key, err = c.BuildKey(ctx, "list", "all")
	require.NoError(t, err)
	require.Equal(t, "balances:list:all:v2", key)

	var third map[string]int32
	require.NoError(t, c.FetchJSON(ctx, key, &third, loader))
	require.Equal(t, int32(2), third["calls"])
}

func TestVersionedWithoutClientCallsLoader(t *testing.T) {
	c := NewVersioned(nil, "balances", time.Minute)
	var out []int
	err := c.FetchJSON(context.Background(), "k", &out, func(context.Context) (any, error) {
		return []int{1, 2}, nil
	})
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, out)
	require.NoError(t, c.Bump(context.Background()))
}

func TestLockerSerialisesHolders(t *testing.T) {
	ctx := context.Background()
	locker := NewLocker(newRedis(t), time.Second)

	var inside int32
	var maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(ctx, "production:order:1:lock")
			if err != nil {
				t.Error(err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				cur := atomic.LoadInt32(&maxInside)
				if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), maxInside)
}

func TestLockerBusy(t *testing.T) {
	ctx := context.Background()
	locker := NewLocker(newRedis(t), time.Minute)
	locker.retries = 1
	locker.backoff = time.Millisecond

	release, err := locker.Acquire(ctx, "k")
	require.NoError(t, err)
	defer release()

	_, err = locker.Acquire(ctx, "k")
	require.ErrorIs(t, err, ErrLockBusy)
}

func TestNilLockerIsNoop(t *testing.T) {
	release, err := NewLocker(nil, 0).Acquire(context.Background(), "k")
	require.NoError(t, err)
	release()
}

func TestVersionedReportsRedisFailureAsUnavailable(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c := NewVersioned(client, "balances", time.Minute)

	key, err := c.BuildKey(ctx, "list", "all")
	require.NoError(t, err)
	mr.HSet(key, "field", "value")

	var out []int
	err = c.FetchJSON(ctx, key, &out, func(context.Context) (any, error) { return []int{1}, nil })
	require.ErrorIs(t, err, ErrUnavailable)

	loaderErr := errors.New("db down")
	err = c.FetchJSON(ctx, "balances:other:v1", &out, func(context.Context) (any, error) { return nil, loaderErr })
	require.ErrorIs(t, err, loaderErr)
	require.NotErrorIs(t, err, ErrUnavailable)

	mr.Close()
	_, err = c.BuildKey(ctx, "list", "all")
	require.ErrorIs(t, err, ErrUnavailable)
}
