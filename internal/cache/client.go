// Package cache 实现 cache-aside 读写与两种重建策略：
//
//   - 逻辑过期：value 自带软过期时间戳，过期后先返回旧值，抢到锁的
//     请求把重建任务丢进固定大小的后台池（击穿保护，热点 key 不阻塞）。
//   - 布隆 + 互斥：布隆索引先挡掉必然不存在的 id（穿透保护），缓存
//     未命中时带退避地抢锁回源，拿到锁后二次检查再查库。
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"seckill/internal/bloomidx"
	"seckill/internal/lock"
	"seckill/pkg/rediskey"
)

var (
	// ErrCacheMiss key 不存在或只有空值占位。控制流信号，不是故障。
	ErrCacheMiss = errors.New("cache: miss")
	// ErrLockBusy 重建锁竞争超过重试上限。
	ErrLockBusy = errors.New("cache: rebuild lock busy")
	// ErrNotFound 由 loader 返回，表示权威库中也不存在。
	ErrNotFound = errors.New("cache: record not found")
)

const (
	// rebuildWorkers 后台重建池大小；任务超过池容量时排队而不是无限开协程。
	rebuildWorkers   = 10
	rebuildQueueSize = 64
	rebuildTimeout   = 5 * time.Second

	// 布隆路径抢锁的重试上限与固定退避，耗尽后返回 ErrLockBusy。
	bloomLockMaxAttempts = 20
	bloomLockRetryDelay  = 50 * time.Millisecond

	// nullTTL 空值占位的缓存时间，抵挡同一个不存在 id 的第二波请求。
	nullTTL = 2 * time.Minute
)

// Loader 回源权威库。查不到时返回 ErrNotFound。
type Loader func(ctx context.Context) (any, error)

// redisData 逻辑过期条目：业务数据 + 软过期时间，整体 JSON 存储，不带硬 TTL。
type redisData struct {
	Data     json.RawMessage `json:"data"`
	ExpireAt time.Time       `json:"expire_at"`
}

// Client 面向单个 Redis 的缓存客户端，内部持有重建工作池。
type Client struct {
	rdb    *rd.Client
	logger zerolog.Logger

	tasks     chan func()
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewClient 创建客户端并启动重建池。用完必须 Close。
func NewClient(rdb *rd.Client, logger zerolog.Logger) *Client {
	c := &Client{
		rdb:    rdb,
		logger: logger.With().Str("component", "cache").Logger(),
		tasks:  make(chan func(), rebuildQueueSize),
	}
	for i := 0; i < rebuildWorkers; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for task := range c.tasks {
				task()
			}
		}()
	}
	return c
}

// Close 停止重建池，等待在途任务完成。
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.tasks)
		c.wg.Wait()
	})
}

// Set 写入硬 TTL 缓存。
func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	return c.rdb.Set(ctx, key, b, ttl).Err()
}

// SetWithLogicalExpire 写入逻辑过期缓存。条目本身不设硬 TTL，
// 过期与否只看 value 内的软过期时间，重建前旧值一直可读。
func (c *Client) SetWithLogicalExpire(ctx context.Context, key string, value any, softTTL time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	entry, err := json.Marshal(redisData{
		Data:     data,
		ExpireAt: time.Now().Add(softTTL),
	})
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	return c.rdb.Set(ctx, key, entry, 0).Err()
}

// Get 普通读，无副作用。空值占位同样算 miss。
func (c *Client) Get(ctx context.Context, key string, dest any) error {
	raw, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, rd.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}
	if raw == "" {
		return ErrCacheMiss
	}
	return json.Unmarshal([]byte(raw), dest)
}

// QueryWithLogicalExpire 逻辑过期读。
// key 不存在直接返回 ErrCacheMiss（不回源，由预热兜底，保证请求路径延迟上界）。
// 已过期时立刻返回旧值；抢到锁的请求把重建任务交给后台池，
// 同一 key 最多一个重建在途，抢锁失败的请求只拿旧值、无副作用。
func (c *Client) QueryWithLogicalExpire(ctx context.Context, key, lockKey string, softTTL time.Duration, loader Loader, dest any) error {
	raw, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, rd.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}

	var entry redisData
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return fmt.Errorf("unmarshal cache entry: %w", err)
	}
	if err := json.Unmarshal(entry.Data, dest); err != nil {
		return fmt.Errorf("unmarshal cache value: %w", err)
	}

	// 没逻辑过期，直接返回
	if entry.ExpireAt.After(time.Now()) {
		return nil
	}

	// 逻辑过期：非阻塞抢锁，赢家提交后台重建，所有人先拿旧值
	l := lock.New(c.rdb, lockKey, rediskey.LockTTL)
	ok, err := l.TryLock(ctx)
	if err != nil || !ok {
		return nil
	}

	c.tasks <- func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), rebuildTimeout)
		defer cancel()
		defer func() {
			if err := l.Unlock(bgCtx); err != nil {
				c.logger.Error().Err(err).Str("key", key).Msg("release rebuild lock")
			}
		}()

		value, err := loader(bgCtx)
		if err != nil {
			// 重建失败只记日志，旧值继续生效，下次过期检查会重试
			c.logger.Error().Err(err).Str("key", key).Msg("cache rebuild loader")
			return
		}
		if err := c.SetWithLogicalExpire(bgCtx, key, value, softTTL); err != nil {
			c.logger.Error().Err(err).Str("key", key).Msg("cache rebuild write")
		}
	}

	return nil
}

// QueryWithBloom 穿透保护读。
// 布隆说不存在就直接 miss，既不碰 Redis 也不回源；否则未命中时
// 有界重试抢锁（耗尽返回 ErrLockBusy），拿到锁后二次检查缓存再查库，
// 回源命中则先进布隆再写缓存。权威库也没有时写短 TTL 空值占位并返回 miss。
func (c *Client) QueryWithBloom(ctx context.Context, key, lockKey string, id uint64, idx *bloomidx.Index, loader Loader, ttl time.Duration, dest any) error {
	if !idx.MayContain(id) {
		return ErrCacheMiss
	}

	for attempt := 0; attempt < bloomLockMaxAttempts; attempt++ {
		raw, err := c.rdb.Get(ctx, key).Result()
		if err == nil {
			// 空字符串是空值占位：终态 miss
			if raw == "" {
				return ErrCacheMiss
			}
			return json.Unmarshal([]byte(raw), dest)
		}
		if !errors.Is(err, rd.Nil) {
			return err
		}

		l := lock.New(c.rdb, lockKey, rediskey.LockTTL)
		ok, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(bloomLockRetryDelay):
			}
			continue
		}

		return c.rebuildUnderLock(ctx, l, key, id, idx, loader, ttl, dest)
	}

	return ErrLockBusy
}

// rebuildUnderLock 持锁回源。进入前缓存未命中，先二次检查避免重复查库。
func (c *Client) rebuildUnderLock(ctx context.Context, l *lock.Lock, key string, id uint64, idx *bloomidx.Index, loader Loader, ttl time.Duration, dest any) (err error) {
	defer func() {
		if unlockErr := l.Unlock(ctx); unlockErr != nil && err == nil {
			err = unlockErr
		}
	}()

	raw, checkErr := c.rdb.Get(ctx, key).Result()
	if checkErr == nil {
		if raw == "" {
			return ErrCacheMiss
		}
		return json.Unmarshal([]byte(raw), dest)
	}
	if !errors.Is(checkErr, rd.Nil) {
		return checkErr
	}

	value, loadErr := loader(ctx)
	if errors.Is(loadErr, ErrNotFound) {
		// 权威库也不存在：写空值占位挡第二波，但这本身是终态 miss
		if setErr := c.rdb.Set(ctx, key, "", nullTTL).Err(); setErr != nil {
			c.logger.Error().Err(setErr).Str("key", key).Msg("write null entry")
		}
		return ErrCacheMiss
	}
	if loadErr != nil {
		return fmt.Errorf("cache loader: %w", loadErr)
	}

	idx.Add(id)
	if setErr := c.Set(ctx, key, value, ttl); setErr != nil {
		return setErr
	}

	b, marshalErr := json.Marshal(value)
	if marshalErr != nil {
		return marshalErr
	}
	return json.Unmarshal(b, dest)
}
