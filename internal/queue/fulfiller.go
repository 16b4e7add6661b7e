package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"seckill/internal/lock"
	"seckill/internal/model"
	"seckill/pkg/rediskey"
)

var (
	// errDuplicateOrder 该用户已有订单（重复投递或并发竞争），终态丢弃。
	errDuplicateOrder = errors.New("fulfiller: duplicate order")
	// errStockDiverged 条件扣减没命中（准入与 DB 出现分叉），终态丢弃。
	errStockDiverged = errors.New("fulfiller: stock diverged")
	// errUserLockBusy 用户锁被占，requeue 稍后重试。
	errUserLockBusy = errors.New("fulfiller: user lock busy")
)

// Fulfiller 消费下单意图并在事务里写权威订单。
// 幂等三道防线：消费前的存在性检查、stock > 0 条件扣减、
// (user_id, voucher_id) 唯一索引。
type Fulfiller struct {
	conn *amqp.Connection
	ch   *amqp.Channel

	db     *gorm.DB
	rdb    *rd.Client
	events *EventProducer
	logger zerolog.Logger
}

// NewFulfiller 连接 broker，声明交换机/队列并绑定路由键。
// events 可以为 nil（不发下游事件）。
func NewFulfiller(url string, db *gorm.DB, rdb *rd.Client, events *EventProducer, logger zerolog.Logger) (*Fulfiller, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(OrderExchange, "direct", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	q, err := ch.QueueDeclare(OrderQueue, true, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, OrderRoutingKey, OrderExchange, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("bind queue: %w", err)
	}
	if err := ch.Qos(8, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}

	return &Fulfiller{
		conn:   conn,
		ch:     ch,
		db:     db,
		rdb:    rdb,
		events: events,
		logger: logger.With().Str("component", "fulfiller").Logger(),
	}, nil
}

// Close 释放 channel 与连接。
func (f *Fulfiller) Close() error {
	if f.ch != nil {
		_ = f.ch.Close()
	}
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

// Run 手动 ack 循环消费，ctx 取消后退出。
func (f *Fulfiller) Run(ctx context.Context) {
	deliveries, err := f.ch.ConsumeWithContext(ctx, OrderQueue, "", false, false, false, false, nil)
	if err != nil {
		f.logger.Error().Err(err).Msg("start consume")
		return
	}

	for d := range deliveries {
		var intent OrderIntent
		if err := json.Unmarshal(d.Body, &intent); err != nil {
			// 脏消息确认丢弃，避免死循环重投
			f.logger.Error().Err(err).Msg("drop malformed delivery")
			_ = d.Ack(false)
			continue
		}
		if err := intent.Validate(); err != nil {
			f.logger.Error().Err(err).Msg("drop invalid intent")
			_ = d.Ack(false)
			continue
		}

		ack, err := f.Handle(ctx, intent)
		if ack {
			_ = d.Ack(false)
			continue
		}
		// 瞬时失败交给 broker 重投
		f.logger.Error().Err(err).Uint64("order_id", intent.OrderID).Msg("requeue intent")
		_ = d.Nack(false, true)
		time.Sleep(200 * time.Millisecond)
	}
}

// Handle 处理一条意图。
// 返回 ack=true 表示消息可确认（成功，或重复/分叉等终态丢弃）；
// ack=false 表示瞬时失败，应 requeue 等 broker 重投。
func (f *Fulfiller) Handle(ctx context.Context, intent OrderIntent) (bool, error) {
	err := f.fulfill(ctx, intent)
	switch {
	case err == nil:
		f.publishEvent(ctx, intent)
		f.logger.Info().Uint64("order_id", intent.OrderID).Int64("user_id", intent.UserID).Msg("order created")
		return true, nil
	case errors.Is(err, errDuplicateOrder):
		f.logger.Info().Uint64("order_id", intent.OrderID).Int64("user_id", intent.UserID).Msg("duplicate delivery dropped")
		return true, nil
	case errors.Is(err, errStockDiverged):
		// 准入已预占，理论上不会发生；兜底防止 DB 超卖
		f.logger.Warn().Uint64("order_id", intent.OrderID).Uint64("voucher_id", intent.VoucherID).Msg("stock diverged, dropped")
		return true, nil
	case isUniqueViolation(err):
		// 唯一索引兜住的真重复，当作成功
		f.logger.Info().Uint64("order_id", intent.OrderID).Msg("unique violation dropped")
		return true, nil
	default:
		return false, err
	}
}

// fulfill 持用户锁后落单，锁防的是同一用户的并发重复投递。
func (f *Fulfiller) fulfill(ctx context.Context, intent OrderIntent) error {
	l := lock.New(f.rdb, rediskey.OrderLockKey(intent.UserID), rediskey.LockTTL)
	ok, err := l.TryLock(ctx)
	if err != nil {
		return fmt.Errorf("acquire user lock: %w", err)
	}
	if !ok {
		return errUserLockBusy
	}
	defer func() {
		if err := l.Unlock(ctx); err != nil {
			f.logger.Error().Err(err).Int64("user_id", intent.UserID).Msg("release user lock")
		}
	}()

	return f.createOrder(ctx, intent)
}

// createOrder 一个事务内完成：存在性检查 → 条件扣减 → 插入订单。
func (f *Fulfiller) createOrder(ctx context.Context, intent OrderIntent) error {
	return f.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.VoucherOrder{}).
			Where("user_id = ? AND voucher_id = ?", intent.UserID, intent.VoucherID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return errDuplicateOrder
		}

		// stock 自身充当版本号的乐观锁：stock > 0 保证不超卖也不卖不完
		res := tx.Model(&model.SeckillVoucher{}).
			Where("id = ? AND stock > 0", intent.VoucherID).
			UpdateColumn("stock", gorm.Expr("stock - 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errStockDiverged
		}

		return tx.Create(&model.VoucherOrder{
			ID:        intent.OrderID,
			UserID:    intent.UserID,
			VoucherID: intent.VoucherID,
			Status:    model.OrderUnpaid,
		}).Error
	})
}

// publishEvent 尽力而为地通知下游，失败只记日志，不影响 ack。
func (f *Fulfiller) publishEvent(ctx context.Context, intent OrderIntent) {
	if f.events == nil {
		return
	}
	if err := f.events.OrderCreated(ctx, intent); err != nil {
		f.logger.Error().Err(err).Uint64("order_id", intent.OrderID).Msg("publish order event")
	}
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "UNIQUE") || strings.Contains(s, "unique")
}
