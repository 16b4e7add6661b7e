package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"seckill/pkg/rediskey"
)

// IntentPublisher 是 Relay 的下游，生产环境为 Dispatcher。
type IntentPublisher interface {
	Publish(ctx context.Context, intent OrderIntent) error
}

// Relay 把准入脚本写入的意图 Stream 异步转发到 RabbitMQ。
// 语义：发布成功后才 ACK Stream，失败则保留消息等待重试——
// 预占一旦发生，意图必然最终抵达持久化队列。
type Relay struct {
	rdb       *rd.Client
	publisher IntentPublisher

	group    string
	consumer string
	logger   zerolog.Logger
}

func NewRelay(rdb *rd.Client, publisher IntentPublisher, group, consumer string, logger zerolog.Logger) *Relay {
	return &Relay{
		rdb:       rdb,
		publisher: publisher,
		group:     group,
		consumer:  consumer,
		logger:    logger.With().Str("component", "relay").Logger(),
	}
}

func (r *Relay) Run(ctx context.Context) {
	if err := r.ensureGroup(ctx); err != nil {
		r.logger.Error().Err(err).Msg("ensure stream group")
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}

		// 先处理本消费者的历史 pending，避免崩溃遗留消息长期堆积
		msgs, err := r.readGroup(ctx, "0", 0)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			r.logger.Error().Err(err).Msg("read pending")
			time.Sleep(300 * time.Millisecond)
			continue
		}
		if len(msgs) == 0 {
			msgs, err = r.readGroup(ctx, ">", 2*time.Second)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, context.Canceled) {
					return
				}
				r.logger.Error().Err(err).Msg("read new")
				time.Sleep(300 * time.Millisecond)
				continue
			}
		}

		for _, xm := range msgs {
			if err := r.processOne(ctx, xm); err != nil {
				// 发布失败不 ACK，消息保留用于重试
				r.logger.Error().Err(err).Str("id", xm.ID).Msg("process intent")
				time.Sleep(200 * time.Millisecond)
				break
			}
		}
	}
}

func (r *Relay) ensureGroup(ctx context.Context) error {
	err := r.rdb.XGroupCreateMkStream(ctx, rediskey.OrderIntentStream, r.group, "0").Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return err
}

func (r *Relay) readGroup(ctx context.Context, streamID string, block time.Duration) ([]rd.XMessage, error) {
	streams, err := r.rdb.XReadGroup(ctx, &rd.XReadGroupArgs{
		Group:    r.group,
		Consumer: r.consumer,
		Streams:  []string{rediskey.OrderIntentStream, streamID},
		Count:    16,
		Block:    block,
		NoAck:    false,
	}).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]rd.XMessage, 0, 16)
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out, nil
}

func (r *Relay) processOne(ctx context.Context, xm rd.XMessage) error {
	intent, err := parseIntent(xm.Values)
	if err != nil {
		// 脏消息直接 ACK 丢弃，避免阻塞队列
		r.logger.Warn().Err(err).Str("id", xm.ID).Msg("drop malformed intent")
		if ackErr := r.ackAndDelete(ctx, xm.ID); ackErr != nil {
			return fmt.Errorf("parse failed: %v, ack failed: %w", err, ackErr)
		}
		return nil
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.publisher.Publish(pubCtx, intent); err != nil {
		return err
	}
	return r.ackAndDelete(ctx, xm.ID)
}

func (r *Relay) ackAndDelete(ctx context.Context, id string) error {
	pipe := r.rdb.TxPipeline()
	pipe.XAck(ctx, rediskey.OrderIntentStream, r.group, id)
	pipe.XDel(ctx, rediskey.OrderIntentStream, id)
	_, err := pipe.Exec(ctx)
	return err
}
