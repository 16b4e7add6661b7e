// Package rediskey 统一管理 Redis key 命名与过期时间约定。
// 格式: {业务}:{模块}:{具体标识}，例如 seckill:stock:7、lock:shop:1。
package rediskey

import (
	"fmt"
	"time"
)

const (
	// ShopCachePrefix 店铺详情缓存前缀（逻辑过期 JSON，不带硬 TTL）。
	ShopCachePrefix = "cache:shop:"
	// ShopLockPrefix 店铺缓存重建互斥锁前缀。
	ShopLockPrefix = "lock:shop:"
	// OrderLockPrefix 异步落单阶段的用户级互斥锁前缀。
	OrderLockPrefix = "lock:order:"

	// SeckillStockPrefix 秒杀券库存计数器前缀。
	SeckillStockPrefix = "seckill:stock:"
	// SeckillOrderPrefix 每张券的已下单用户集合前缀。
	SeckillOrderPrefix = "seckill:order:"
	// OrderIntentStream 准入成功后写入下单意图的 Stream（脚本内 XADD）。
	OrderIntentStream = "seckill:streams:orders"

	// IDCounterPrefix ID 生成器每日自增序列前缀。
	IDCounterPrefix = "icr:"

	// RateLimitUserPrefix 购买接口按用户限流的滑动窗口前缀。
	RateLimitUserPrefix = "rate:seckill:user:"
	// RateLimitIPPrefix user_id 解析失败时按 IP 降级限流的前缀。
	RateLimitIPPrefix = "rate:seckill:ip:"
)

const (
	// ShopCacheTTL 布隆路径下普通缓存的硬 TTL。
	ShopCacheTTL = 30 * time.Minute
	// LockTTL 分布式锁默认过期时间，持有者崩溃后自动释放。
	LockTTL = 10 * time.Second
)

// ShopCacheKey 店铺缓存 key。
func ShopCacheKey(id uint64) string {
	return fmt.Sprintf("%s%d", ShopCachePrefix, id)
}

// ShopLockKey 店铺缓存重建锁 key。
func ShopLockKey(id uint64) string {
	return fmt.Sprintf("%s%d", ShopLockPrefix, id)
}

// OrderLockKey 落单用户锁 key。
func OrderLockKey(userID int64) string {
	return fmt.Sprintf("%s%d", OrderLockPrefix, userID)
}

// StockKey 秒杀券库存 key。
func StockKey(voucherID uint64) string {
	return fmt.Sprintf("%s%d", SeckillStockPrefix, voucherID)
}

// AdmittedSetKey 已下单用户集合 key。
func AdmittedSetKey(voucherID uint64) string {
	return fmt.Sprintf("%s%d", SeckillOrderPrefix, voucherID)
}
