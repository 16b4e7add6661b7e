package model

import (
	"time"

	"gorm.io/gorm"
)

// 订单状态：0 待支付 1 已支付 2 已取消。
const (
	OrderUnpaid = iota
	OrderPaid
	OrderCancelled
)

// VoucherOrder 秒杀订单。ID 由全局 ID 生成器分配，不使用自增。
// (user_id, voucher_id) 唯一索引是一人一单的最后一道防线：
// 准入脚本已经做过去重，这里防御重复投递与任何脚本/DB 分叉。
type VoucherOrder struct {
	ID        uint64         `gorm:"primarykey;autoIncrement:false" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	UserID    int64  `gorm:"not null;uniqueIndex:idx_user_voucher" json:"user_id"`
	VoucherID uint64 `gorm:"not null;uniqueIndex:idx_user_voucher" json:"voucher_id"`
	Status    int    `gorm:"not null;default:0" json:"status"`
}

// 显式实现结构，确定表名
func (VoucherOrder) TableName() string { return "voucher_orders" }
