package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seckill/internal/bloomidx"
)

type testShop struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

func newTestClient(t *testing.T) (*miniredis.Miniredis, *rd.Client, *Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	c := NewClient(rdb, zerolog.Nop())
	t.Cleanup(func() {
		c.Close()
		_ = rdb.Close()
	})
	return mr, rdb, c
}

func TestSetAndGet(t *testing.T) {
	_, _, c := newTestClient(t)
	ctx := context.Background()

	var got testShop
	require.ErrorIs(t, c.Get(ctx, "cache:shop:1", &got), ErrCacheMiss)

	want := testShop{ID: 1, Name: "茶颜悦色"}
	require.NoError(t, c.Set(ctx, "cache:shop:1", want, time.Minute))
	require.NoError(t, c.Get(ctx, "cache:shop:1", &got))
	assert.Equal(t, want, got)
}

func TestLogicalExpireEntryHasNoHardTTL(t *testing.T) {
	mr, _, c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.SetWithLogicalExpire(ctx, "cache:shop:1", testShop{ID: 1, Name: "a"}, time.Minute))
	// 逻辑过期条目必须常驻，直到被显式重建覆盖
	assert.Equal(t, time.Duration(0), mr.TTL("cache:shop:1"))
}

func TestQueryWithLogicalExpireMissDoesNotLoad(t *testing.T) {
	_, _, c := newTestClient(t)
	ctx := context.Background()

	loaderCalled := false
	var got testShop
	err := c.QueryWithLogicalExpire(ctx, "cache:shop:404", "lock:shop:404", time.Minute,
		func(ctx context.Context) (any, error) {
			loaderCalled = true
			return nil, nil
		}, &got)
	require.ErrorIs(t, err, ErrCacheMiss)
	// 未预热的 key 不回源，由调用方兜底
	assert.False(t, loaderCalled)
}

func TestQueryWithLogicalExpireFreshValue(t *testing.T) {
	_, _, c := newTestClient(t)
	ctx := context.Background()

	want := testShop{ID: 1, Name: "fresh"}
	require.NoError(t, c.SetWithLogicalExpire(ctx, "cache:shop:1", want, time.Minute))

	var loads int32
	var got testShop
	err := c.QueryWithLogicalExpire(ctx, "cache:shop:1", "lock:shop:1", time.Minute,
		func(ctx context.Context) (any, error) {
			atomic.AddInt32(&loads, 1)
			return want, nil
		}, &got)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Zero(t, atomic.LoadInt32(&loads))
}

func TestQueryWithLogicalExpireSingleFlightRebuild(t *testing.T) {
	_, _, c := newTestClient(t)
	ctx := context.Background()

	stale := testShop{ID: 1, Name: "stale"}
	fresh := testShop{ID: 1, Name: "fresh"}
	// 软过期时间在过去，下一次读就触发重建
	require.NoError(t, c.SetWithLogicalExpire(ctx, "cache:shop:1", stale, -time.Second))

	var loads int32
	loader := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&loads, 1)
		time.Sleep(50 * time.Millisecond) // 拉长重建窗口，放大竞争
		return fresh, nil
	}

	const callers = 20
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var got testShop
			err := c.QueryWithLogicalExpire(ctx, "cache:shop:1", "lock:shop:1", time.Minute, loader, &got)
			assert.NoError(t, err)
			// 重建期间所有调用方都能拿到值（旧值或新值）
			assert.Contains(t, []string{"stale", "fresh"}, got.Name)
		}()
	}
	wg.Wait()

	// 等后台重建落盘
	require.Eventually(t, func() bool {
		var got testShop
		if err := c.QueryWithLogicalExpire(ctx, "cache:shop:1", "lock:shop:1", time.Minute, loader, &got); err != nil {
			return false
		}
		return got.Name == "fresh"
	}, 2*time.Second, 20*time.Millisecond)

	assert.Equal(t, int32(1), atomic.LoadInt32(&loads), "loader must run exactly once per expiry window")
}

func TestQueryWithBloomAbsentIDShortCircuits(t *testing.T) {
	_, rdb, c := newTestClient(t)
	ctx := context.Background()

	idx := bloomidx.New(100, bloomidx.DefaultFalsePositiveRate)

	loaderCalled := false
	var got testShop
	err := c.QueryWithBloom(ctx, "cache:shop:9", "lock:shop:9", 9, idx,
		func(ctx context.Context) (any, error) {
			loaderCalled = true
			return nil, nil
		}, time.Minute, &got)
	require.ErrorIs(t, err, ErrCacheMiss)
	assert.False(t, loaderCalled)

	// 连 Redis 都不应该碰
	exists, err := rdb.Exists(ctx, "cache:shop:9").Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}

func TestQueryWithBloomLoadsOnMissAndCaches(t *testing.T) {
	_, _, c := newTestClient(t)
	ctx := context.Background()

	idx := bloomidx.New(100, bloomidx.DefaultFalsePositiveRate)
	idx.Add(1)

	want := testShop{ID: 1, Name: "回源命中"}
	var loads int32
	loader := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&loads, 1)
		return want, nil
	}

	var got testShop
	require.NoError(t, c.QueryWithBloom(ctx, "cache:shop:1", "lock:shop:1", 1, idx, loader, time.Minute, &got))
	assert.Equal(t, want, got)

	// 第二次直接命中缓存，不再回源
	var again testShop
	require.NoError(t, c.QueryWithBloom(ctx, "cache:shop:1", "lock:shop:1", 1, idx, loader, time.Minute, &again))
	assert.Equal(t, want, again)
	assert.Equal(t, int32(1), atomic.LoadInt32(&loads))
}

func TestQueryWithBloomNotFoundWritesNullEntry(t *testing.T) {
	mr, _, c := newTestClient(t)
	ctx := context.Background()

	idx := bloomidx.New(100, bloomidx.DefaultFalsePositiveRate)
	idx.Add(7) // 布隆误判的场景：索引说存在，权威库没有

	var loads int32
	loader := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&loads, 1)
		return nil, ErrNotFound
	}

	var got testShop
	require.ErrorIs(t, c.QueryWithBloom(ctx, "cache:shop:7", "lock:shop:7", 7, idx, loader, time.Minute, &got), ErrCacheMiss)
	assert.True(t, mr.Exists("cache:shop:7"))

	// 空值占位挡住第二波，loader 不再被调用
	require.ErrorIs(t, c.QueryWithBloom(ctx, "cache:shop:7", "lock:shop:7", 7, idx, loader, time.Minute, &got), ErrCacheMiss)
	assert.Equal(t, int32(1), atomic.LoadInt32(&loads))
}

func TestQueryWithBloomLockBusyAfterBoundedRetries(t *testing.T) {
	_, rdb, c := newTestClient(t)
	ctx := context.Background()

	idx := bloomidx.New(100, bloomidx.DefaultFalsePositiveRate)
	idx.Add(3)

	// 外部持有重建锁且一直不放，调用方必须在有限次重试后放弃
	require.NoError(t, rdb.Set(ctx, "lock:shop:3", "someone-else", 0).Err())

	var got testShop
	err := c.QueryWithBloom(ctx, "cache:shop:3", "lock:shop:3", 3, idx,
		func(ctx context.Context) (any, error) {
			return nil, errors.New("must not be called")
		}, time.Minute, &got)
	require.ErrorIs(t, err, ErrLockBusy)
}
