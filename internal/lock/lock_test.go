package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	rd "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *rd.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestTryLockMutualExclusion(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()

	a := New(rdb, "lock:order:1", 10*time.Second)
	b := New(rdb, "lock:order:1", 10*time.Second)

	ok, err := a.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// 第二个持有者拿不到
	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, a.Unlock(ctx))

	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUnlockOnlyReleasesOwnToken(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()

	a := New(rdb, "lock:order:2", 10*time.Second)
	b := New(rdb, "lock:order:2", 10*time.Second)

	ok, err := a.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// b 从未持有，它的释放不能删掉 a 的锁
	require.NoError(t, b.Unlock(ctx))
	assert.True(t, mr.Exists("lock:order:2"))

	require.NoError(t, a.Unlock(ctx))
	assert.False(t, mr.Exists("lock:order:2"))
}

func TestLockExpiresAfterTTL(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()

	a := New(rdb, "lock:order:3", 5*time.Second)
	ok, err := a.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// 模拟持有者崩溃：TTL 到期后锁自动清除
	mr.FastForward(6 * time.Second)

	b := New(rdb, "lock:order:3", 5*time.Second)
	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	// a 的令牌已经失效，Unlock 不应影响 b 的锁
	require.NoError(t, a.Unlock(ctx))
	assert.True(t, mr.Exists("lock:order:3"))
}
