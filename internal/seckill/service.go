package seckill

import (
	"context"
	"errors"
	"fmt"
	"time"

	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"seckill/internal/idworker"
	"seckill/internal/model"
	"seckill/pkg/rediskey"
)

var (
	// ErrVoucherNotFound 券不存在。
	ErrVoucherNotFound = errors.New("seckill: voucher not found")
	// ErrNotStarted 活动未开始。
	ErrNotStarted = errors.New("seckill: not started")
	// ErrEnded 活动已结束。
	ErrEnded = errors.New("seckill: ended")
)

// Service 秒杀下单入口：活动时间校验 → 分配订单 ID → 原子准入。
// 准入成功即返回订单 ID，落单由消费者异步完成。
type Service struct {
	db     *gorm.DB
	rdb    *rd.Client
	gate   *Gate
	ids    *idworker.Worker
	logger zerolog.Logger
}

func NewService(db *gorm.DB, rdb *rd.Client, gate *Gate, ids *idworker.Worker, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		rdb:    rdb,
		gate:   gate,
		ids:    ids,
		logger: logger.With().Str("component", "seckill").Logger(),
	}
}

// Buy 处理一次购买请求。
// 返回 AdmitOK 时 orderID 有效；InsufficientStock / DuplicateOrder
// 是面向用户的终态结果，不重试。
func (s *Service) Buy(ctx context.Context, voucherID uint64, userID int64) (uint64, AdmitResult, error) {
	var voucher model.SeckillVoucher
	if err := s.db.WithContext(ctx).First(&voucher, voucherID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, 0, ErrVoucherNotFound
		}
		return 0, 0, fmt.Errorf("load voucher: %w", err)
	}

	now := time.Now()
	if now.Before(voucher.BeginTime) {
		return 0, 0, ErrNotStarted
	}
	if now.After(voucher.EndTime) {
		return 0, 0, ErrEnded
	}

	// 先分配订单 ID，准入脚本原子地把它写进意图流
	orderID, err := s.ids.NextID(ctx, "order")
	if err != nil {
		return 0, 0, fmt.Errorf("allocate order id: %w", err)
	}

	res, err := s.gate.Admit(ctx, voucherID, userID, orderID)
	if err != nil {
		return 0, 0, err
	}
	if res != AdmitOK {
		return 0, res, nil
	}

	s.logger.Info().
		Uint64("voucher_id", voucherID).
		Int64("user_id", userID).
		Uint64("order_id", orderID).
		Msg("admit ok")
	return orderID, AdmitOK, nil
}

// PreloadStock 把 DB 权威库存预热进 Redis，并清空该券的去重集合。
// 重复预热会重置活动状态，只允许管理端调用。
func (s *Service) PreloadStock(ctx context.Context, voucherID uint64, ttl time.Duration) error {
	var voucher model.SeckillVoucher
	if err := s.db.WithContext(ctx).First(&voucher, voucherID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrVoucherNotFound
		}
		return fmt.Errorf("load voucher: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, rediskey.StockKey(voucherID), voucher.Stock, ttl)
	pipe.Del(ctx, rediskey.AdmittedSetKey(voucherID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("preload stock: %w", err)
	}
	return nil
}
