package model

import (
	"time"

	"gorm.io/gorm"
)

// Shop 店铺信息，是缓存层的演示主体：
// 热点店铺走逻辑过期缓存，普通查询走布隆过滤 + 互斥重建。
type Shop struct {
	ID        uint64         `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Name    string `gorm:"size:128;not null" json:"name"`
	Address string `gorm:"size:255" json:"address"`
	// AvgPrice 人均消费，单位分。
	AvgPrice int64 `gorm:"not null;default:0" json:"avg_price"`
	Score    int   `gorm:"not null;default:0" json:"score"` // 评分 * 10
}

func (Shop) TableName() string { return "shops" }
