// Package shop 店铺读服务，是缓存层的两条读路径的落点：
// 热点店铺走逻辑过期（击穿保护），普通查询走布隆 + 互斥（穿透保护）。
package shop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"seckill/internal/bloomidx"
	"seckill/internal/cache"
	"seckill/internal/model"
	"seckill/pkg/rediskey"
)

type Service struct {
	db      *gorm.DB
	cache   *cache.Client
	bloom   *bloomidx.Index
	softTTL time.Duration
	logger  zerolog.Logger
}

func NewService(db *gorm.DB, c *cache.Client, bloom *bloomidx.Index, softTTL time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		db:      db,
		cache:   c,
		bloom:   bloom,
		softTTL: softTTL,
		logger:  logger.With().Str("component", "shop").Logger(),
	}
}

// GetByID 热点路径：逻辑过期读。
// 未预热的 key 返回 cache.ErrCacheMiss，由管理端 Warm 兜底。
func (s *Service) GetByID(ctx context.Context, id uint64) (*model.Shop, error) {
	var shop model.Shop
	err := s.cache.QueryWithLogicalExpire(ctx,
		rediskey.ShopCacheKey(id), rediskey.ShopLockKey(id),
		s.softTTL, s.loader(id), &shop)
	if err != nil {
		return nil, err
	}
	return &shop, nil
}

// GetByIDSafe 普通路径：布隆索引挡穿透，互斥回源挡击穿。
func (s *Service) GetByIDSafe(ctx context.Context, id uint64) (*model.Shop, error) {
	var shop model.Shop
	err := s.cache.QueryWithBloom(ctx,
		rediskey.ShopCacheKey(id), rediskey.ShopLockKey(id),
		id, s.bloom, s.loader(id), rediskey.ShopCacheTTL, &shop)
	if err != nil {
		return nil, err
	}
	return &shop, nil
}

// Warm 预热单个热点店铺：查库后写入逻辑过期缓存。
func (s *Service) Warm(ctx context.Context, id uint64) error {
	var shop model.Shop
	if err := s.db.WithContext(ctx).First(&shop, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return cache.ErrNotFound
		}
		return fmt.Errorf("load shop: %w", err)
	}
	return s.cache.SetWithLogicalExpire(ctx, rediskey.ShopCacheKey(id), &shop, s.softTTL)
}

// WarmBloom 启动时把全部店铺 ID 灌进布隆索引。
func (s *Service) WarmBloom(ctx context.Context) error {
	var ids []uint64
	if err := s.db.WithContext(ctx).Model(&model.Shop{}).Pluck("id", &ids).Error; err != nil {
		return fmt.Errorf("load shop ids: %w", err)
	}
	s.bloom.Warm(ids)
	s.logger.Info().Int("count", len(ids)).Msg("bloom index warmed")
	return nil
}

// loader 回源权威库，查不到翻译成 cache.ErrNotFound。
func (s *Service) loader(id uint64) cache.Loader {
	return func(ctx context.Context) (any, error) {
		var shop model.Shop
		if err := s.db.WithContext(ctx).First(&shop, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, cache.ErrNotFound
			}
			return nil, err
		}
		return &shop, nil
	}
}
