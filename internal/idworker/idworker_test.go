package idworker

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	rd "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextIDUniqueUnderConcurrency(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	w := New(rdb)
	ctx := context.Background()

	const goroutines = 50
	const perGoroutine = 20

	var wg sync.WaitGroup
	var mu sync.Mutex
	ids := make(map[uint64]struct{}, goroutines*perGoroutine)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				id, err := w.NextID(ctx, "order")
				assert.NoError(t, err)
				mu.Lock()
				ids[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// 全部唯一
	assert.Len(t, ids, goroutines*perGoroutine)
}

func TestNextIDIncreasesAcrossSeconds(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	w := New(rdb)
	ctx := context.Background()

	first, err := w.NextID(ctx, "order")
	require.NoError(t, err)
	second, err := w.NextID(ctx, "order")
	require.NoError(t, err)

	// 同一秒内序列递增，跨秒时间戳高位递增，整体严格递增
	assert.Greater(t, second, first)

	// 时间戳占高位：ID 的秒级部分不会随时间回退
	assert.GreaterOrEqual(t, second>>countBits, first>>countBits)
}

func TestNextIDNamespacesDoNotShareSequence(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	w := New(rdb)
	ctx := context.Background()

	a, err := w.NextID(ctx, "order")
	require.NoError(t, err)
	b, err := w.NextID(ctx, "refund")
	require.NoError(t, err)

	// 不同业务前缀各自从 1 开始
	assert.Equal(t, uint64(1), a&((1<<countBits)-1))
	assert.Equal(t, uint64(1), b&((1<<countBits)-1))
}
