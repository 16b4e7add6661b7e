// Package idworker 生成全局唯一、按时间递增的 64 位 ID。
// 结构：高位 = (当前秒 - 起始纪元) << 32，低 32 位 = Redis INCR 序列。
// 序列计数器按业务前缀 + 日期分 key，INCR 本身原子，多实例共用同一
// 计数器也不会冲突；分日期还顺带给了按天统计单量的能力。
package idworker

import (
	"context"
	"fmt"
	"time"

	rd "github.com/redis/go-redis/v9"

	"seckill/pkg/rediskey"
)

// beginTimestamp 2022-01-01 00:00:00 UTC，自定义纪元起点。
const beginTimestamp int64 = 1640995200

// countBits 序列号位数。
const countBits = 32

// Worker 基于共享 Redis 计数器的 ID 分配器。
type Worker struct {
	rdb *rd.Client
}

func New(rdb *rd.Client) *Worker {
	return &Worker{rdb: rdb}
}

// NextID 分配下一个 ID。同一秒内由序列号保证唯一，跨秒由时间戳保证递增。
func (w *Worker) NextID(ctx context.Context, prefix string) (uint64, error) {
	now := time.Now().UTC()
	ts := uint64(now.Unix() - beginTimestamp)

	key := fmt.Sprintf("%s%s:%s", rediskey.IDCounterPrefix, prefix, now.Format("2006:01:02"))
	count, err := w.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incr id counter: %w", err)
	}

	return ts<<countBits | uint64(count), nil
}
