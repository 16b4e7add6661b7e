package model

import (
	"time"

	"gorm.io/gorm"
)

// SeckillVoucher 秒杀券：标题、库存、秒杀价、活动时间段。
// Stock 是权威库存（来源于 DB）；活动期间的实时扣减走 Redis，
// 落单时由消费者做条件扣减（stock > 0）兜底。不变量：stock 永不为负。
type SeckillVoucher struct {
	ID        uint64         `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Title     string    `gorm:"size:128;not null" json:"title"`
	Stock     int64     `gorm:"not null;default:0" json:"stock"`
	SalePrice int64     `gorm:"not null" json:"sale_price"` // 单位：分
	BeginTime time.Time `gorm:"not null" json:"begin_time"`
	EndTime   time.Time `gorm:"not null" json:"end_time"`
}

func (SeckillVoucher) TableName() string { return "seckill_vouchers" }
