package queue

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Dispatcher 把下单意图发布到 RabbitMQ。
// 交换机与队列都声明为 durable，消息 persistent，broker 重启不丢。
type Dispatcher struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewDispatcher 建立连接并声明交换机。
func NewDispatcher(url string) (*Dispatcher, error) {
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
	return &Dispatcher{conn: conn, ch: ch}, nil
}

// Publish 同步发布一条意图，at-least-once 由 Relay 的 ack 时序保证。
func (d *Dispatcher) Publish(ctx context.Context, intent OrderIntent) error {
	b, err := json.Marshal(intent)
	if err != nil {
		return err
	}
	return d.ch.PublishWithContext(ctx, OrderExchange, OrderRoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         b,
	})
}

// Close 释放 channel 与连接。
func (d *Dispatcher) Close() error {
	if d.ch != nil {
		_ = d.ch.Close()
	}
	if d.conn != nil {
		return d.conn.Close()
	}
	return nil
}
