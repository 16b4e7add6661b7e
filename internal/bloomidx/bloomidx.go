// Package bloomidx 维护实体 ID 的近似成员集合，用于挡掉对不存在
// key 的查询（缓存穿透）。只增不删：启动时从权威库批量预热，之后
// 仅在首次回源成功时追加。允许误判存在，不允许漏报。
package bloomidx

import (
	"encoding/binary"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// DefaultFalsePositiveRate 默认误判率上限。
const DefaultFalsePositiveRate = 0.05

// Index 并发安全的布隆索引。
type Index struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
}

// New 按预估容量与误判率建立索引。
func New(capacity uint, fpRate float64) *Index {
	return &Index{filter: bloom.NewWithEstimates(capacity, fpRate)}
}

// Warm 批量载入已存在的实体 ID。
func (i *Index) Warm(ids []uint64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, id := range ids {
		i.filter.Add(encode(id))
	}
}

// Add 追加单个 ID（首次回源命中后调用）。
func (i *Index) Add(id uint64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.filter.Add(encode(id))
}

// MayContain 返回 false 时 ID 一定不存在；返回 true 时可能存在。
func (i *Index) MayContain(id uint64) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.filter.Test(encode(id))
}

func encode(id uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return buf[:]
}
