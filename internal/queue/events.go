package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// EventProducer 向 Kafka 发布订单创建事件，供通知/分析类下游订阅。
// 事件流是尽力而为的旁路，不承担订单链路的一致性。
type EventProducer struct {
	w *kafka.Writer
}

// NewEventProducer 创建生产者并配置可靠性参数：
// - Hash + Key: 相同订单尽量落到同一分区。
// - RequireAll: 等待 ISR 副本确认，降低消息丢失风险。
// - MaxAttempts/Timeout: 控制重试与超时边界。
func NewEventProducer(brokers []string, topic string) *EventProducer {
	return &EventProducer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  5,
			WriteTimeout: 5 * time.Second,
			ReadTimeout:  5 * time.Second,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

// Close 释放 writer 资源。
func (p *EventProducer) Close() error { return p.w.Close() }

// OrderEvent 下游可见的订单创建事件。
// order_id 序列化为字符串，避免 JSON 消费端丢失 64 位精度。
type OrderEvent struct {
	OrderID   string    `json:"order_id"`
	UserID    int64     `json:"user_id"`
	VoucherID uint64    `json:"voucher_id"`
	CreatedAt time.Time `json:"created_at"`
}

// OrderCreated 发布一条订单创建事件，以订单 ID 作为分区 key。
func (p *EventProducer) OrderCreated(ctx context.Context, intent OrderIntent) error {
	event := OrderEvent{
		OrderID:   strconv.FormatUint(intent.OrderID, 10),
		UserID:    intent.UserID,
		VoucherID: intent.VoucherID,
		CreatedAt: time.Now(),
	}
	b, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.OrderID),
		Value: b,
	})
}
