// Package lock 实现带 TTL 与持有者令牌的 Redis 分布式锁。
// 锁值是随机 uuid，释放时用 Lua 比对后删除，避免误删其他持有者的锁；
// 持有者崩溃后锁随 TTL 自动过期。
package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
)

// luaReleaseIfMatch 仅当锁值与本实例令牌一致时才删除。
const luaReleaseIfMatch = `
local lockKey = KEYS[1]
local token = ARGV[1]
if redis.call('GET', lockKey) == token then
  return redis.call('DEL', lockKey)
end
return 0
`

// Lock 是一把具名锁的本地句柄，每个句柄携带自己的令牌。
// 同一个 key 可以由多个进程各自 New 出句柄去抢，但最多一个持有。
type Lock struct {
	rdb   *rd.Client
	key   string
	token string
	ttl   time.Duration
}

// New 创建锁句柄，不发生任何网络交互。
func New(rdb *rd.Client, key string, ttl time.Duration) *Lock {
	return &Lock{
		rdb:   rdb,
		key:   key,
		token: uuid.New().String(),
		ttl:   ttl,
	}
}

// TryLock 非阻塞获取：SET NX EX，一次往返，不重试。
// 返回 false 表示锁正被其他持有者占用。
func (l *Lock) TryLock(ctx context.Context) (bool, error) {
	return l.rdb.SetNX(ctx, l.key, l.token, l.ttl).Result()
}

// Unlock 安全释放：令牌不匹配（锁已过期、被他人重新获取）时不做任何事。
func (l *Lock) Unlock(ctx context.Context) error {
	return l.rdb.Eval(ctx, luaReleaseIfMatch, []string{l.key}, l.token).Err()
}
