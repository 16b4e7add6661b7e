// Package seckill 实现秒杀准入与下单入口。
// 核心是一段 Lua 脚本：库存判断、一人一单去重、扣减、写入下单意图
// 四步在 Redis 内原子完成，并发调用之间不存在任何交错窗口。
package seckill

import (
	"context"
	"fmt"
	"strconv"

	rd "github.com/redis/go-redis/v9"
)

// luaAdmit 秒杀准入脚本。
// ARGV[1]=voucherId ARGV[2]=userId ARGV[3]=orderId
// 返回：0 成功；1 库存不足；2 该用户已下过单。
// 去重先于库存判断：已下过单的用户在券卖光之后也要看到“重复下单”。
// 成功路径里把下单意图 XADD 进 outbox stream——预占与持久化意图
// 同脚本原子完成，不存在“扣了库存但意图丢失”的窗口。
const luaAdmit = `
local voucherId = ARGV[1]
local userId = ARGV[2]
local orderId = ARGV[3]

local stockKey = 'seckill:stock:' .. voucherId
local orderKey = 'seckill:order:' .. voucherId

if redis.call('SISMEMBER', orderKey, userId) == 1 then
  return 2
end

if tonumber(redis.call('GET', stockKey) or '0') <= 0 then
  return 1
end

redis.call('DECRBY', stockKey, 1)
redis.call('SADD', orderKey, userId)
redis.call('XADD', 'seckill:streams:orders', '*',
  'order_id', orderId, 'user_id', userId, 'voucher_id', voucherId)
return 0
`

// AdmitResult 准入结果，和脚本返回码一一对应。
type AdmitResult int

const (
	AdmitOK AdmitResult = iota
	AdmitInsufficientStock
	AdmitDuplicateOrder
)

func (r AdmitResult) String() string {
	switch r {
	case AdmitOK:
		return "ok"
	case AdmitInsufficientStock:
		return "insufficient_stock"
	case AdmitDuplicateOrder:
		return "duplicate_order"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// Gate 原子准入门。库存计数器与去重集合只允许通过这里变更。
type Gate struct {
	rdb *rd.Client
}

func NewGate(rdb *rd.Client) *Gate {
	return &Gate{rdb: rdb}
}

// Admit 单次往返完成准入判定与预占。
func (g *Gate) Admit(ctx context.Context, voucherID uint64, userID int64, orderID uint64) (AdmitResult, error) {
	res, err := g.rdb.Eval(ctx, luaAdmit, []string{},
		strconv.FormatUint(voucherID, 10),
		strconv.FormatInt(userID, 10),
		strconv.FormatUint(orderID, 10),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("eval admit script: %w", err)
	}
	switch res {
	case 0:
		return AdmitOK, nil
	case 1:
		return AdmitInsufficientStock, nil
	case 2:
		return AdmitDuplicateOrder, nil
	default:
		return 0, fmt.Errorf("admit script returned unexpected code %d", res)
	}
}
