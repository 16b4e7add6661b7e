// Package queue 承载准入成功之后的异步落单链路：
// 准入脚本 XADD 进 Redis Stream（与预占同脚本原子），Relay 把意图转发到
// RabbitMQ 持久化队列，Fulfiller 消费后在事务里写权威订单。
package queue

import (
	"fmt"
	"strconv"
	"time"
)

// 队列契约常量：交换机 + 路由键 + 队列名。
const (
	OrderExchange   = "seckill.order"
	OrderRoutingKey = "seckill.order.create"
	OrderQueue      = "seckill.order.queue"
)

// OrderIntent 已通过准入的购买意图，是整条异步链路的消息体。
// 投递语义 at-least-once，消费端按 (user_id, voucher_id) 幂等。
type OrderIntent struct {
	OrderID   uint64    `json:"order_id"`
	UserID    int64     `json:"user_id"`
	VoucherID uint64    `json:"voucher_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate 做最小字段校验，防止消费者处理脏消息。
func (m OrderIntent) Validate() error {
	if m.OrderID == 0 {
		return fmt.Errorf("order_id is required")
	}
	if m.UserID <= 0 {
		return fmt.Errorf("user_id is required")
	}
	if m.VoucherID == 0 {
		return fmt.Errorf("voucher_id is required")
	}
	return nil
}

// parseIntent 从 Stream 条目字段重建 OrderIntent。
func parseIntent(values map[string]interface{}) (OrderIntent, error) {
	orderStr, err := getStreamString(values, "order_id")
	if err != nil {
		return OrderIntent{}, err
	}
	userStr, err := getStreamString(values, "user_id")
	if err != nil {
		return OrderIntent{}, err
	}
	voucherStr, err := getStreamString(values, "voucher_id")
	if err != nil {
		return OrderIntent{}, err
	}

	orderID, err := strconv.ParseUint(orderStr, 10, 64)
	if err != nil {
		return OrderIntent{}, fmt.Errorf("invalid order_id %q", orderStr)
	}
	userID, err := strconv.ParseInt(userStr, 10, 64)
	if err != nil {
		return OrderIntent{}, fmt.Errorf("invalid user_id %q", userStr)
	}
	voucherID, err := strconv.ParseUint(voucherStr, 10, 64)
	if err != nil {
		return OrderIntent{}, fmt.Errorf("invalid voucher_id %q", voucherStr)
	}

	msg := OrderIntent{
		OrderID:   orderID,
		UserID:    userID,
		VoucherID: voucherID,
		CreatedAt: time.Now(),
	}
	if err := msg.Validate(); err != nil {
		return OrderIntent{}, err
	}
	return msg, nil
}

func getStreamString(values map[string]interface{}, key string) (string, error) {
	v, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing field %s", key)
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	case float64:
		return strconv.FormatInt(int64(x), 10), nil
	default:
		return "", fmt.Errorf("unsupported field type %s: %T", key, v)
	}
}
