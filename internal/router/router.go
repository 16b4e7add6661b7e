package router

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"seckill/internal/cache"
	"seckill/internal/config"
	"seckill/internal/middleware"
	"seckill/internal/model"
	"seckill/internal/seckill"
	"seckill/internal/shop"
	"seckill/pkg/rediskey"
)

// Setup 注册全部 HTTP 路由。
func Setup(r *gin.Engine, db *gorm.DB, rdb *rd.Client, shops *shop.Service, sk *seckill.Service, cfg config.AppConfig) {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})

	// Shops：两条缓存读路径 + 预热
	r.GET("/api/shops/:id", getShop(shops))
	r.GET("/api/shops/:id/safe", getShopSafe(shops))
	r.POST("/api/shops/:id/warm", warmShop(shops, cfg.PreloadAdminToken))

	// Vouchers
	r.GET("/api/vouchers", listVouchers(db))
	r.POST("/api/vouchers", createVoucher(db))

	// Seckill
	r.POST("/api/seckill/preload/:voucher_id", preloadStock(sk, cfg.PreloadAdminToken, cfg.StockCacheTTL))
	r.GET("/api/seckill/stock/:voucher_id", getStock(rdb))
	r.POST("/api/seckill/buy", middleware.RedisRateLimit(rdb, cfg.BuyRateLimit, cfg.BuyRateWindow), buyVoucher(sk))
	r.GET("/api/seckill/orders/:order_id", getOrder(db))
}

// getShop 热点店铺查询（逻辑过期缓存）。
func getShop(shops *shop.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "店铺ID无效"})
			return
		}
		s, err := shops.GetByID(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, cache.ErrCacheMiss) {
				c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "店铺不存在或未预热"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": s})
	}
}

// getShopSafe 布隆过滤 + 互斥回源查询。
func getShopSafe(shops *shop.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "店铺ID无效"})
			return
		}
		s, err := shops.GetByIDSafe(c.Request.Context(), id)
		if err != nil {
			switch {
			case errors.Is(err, cache.ErrCacheMiss):
				c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "店铺不存在"})
			case errors.Is(err, cache.ErrLockBusy):
				c.JSON(http.StatusServiceUnavailable, gin.H{"code": 503, "msg": "系统繁忙，请稍后再试"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			}
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": s})
	}
}

// warmShop 管理端预热热点店铺缓存。
func warmShop(shops *shop.Service, adminToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("X-Admin-Token") != adminToken {
			c.JSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "admin token 无效"})
			return
		}
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "店铺ID无效"})
			return
		}
		if err := shops.Warm(c.Request.Context(), id); err != nil {
			if errors.Is(err, cache.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "店铺不存在"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "预热成功"})
	}
}

// listVouchers 查询秒杀券列表。
func listVouchers(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var list []model.SeckillVoucher
		if err := db.Find(&list).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": list})
	}
}

// createVoucher 创建秒杀券（含时间窗校验）。
func createVoucher(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Title     string `json:"title" binding:"required"`
			Stock     int64  `json:"stock" binding:"required,min=1"`
			SalePrice int64  `json:"sale_price" binding:"required,min=1"`
			BeginTime string `json:"begin_time" binding:"required"`
			EndTime   string `json:"end_time" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		begin, err := time.Parse(time.RFC3339, req.BeginTime)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "begin_time 格式错误，请用 RFC3339"})
			return
		}
		end, err := time.Parse(time.RFC3339, req.EndTime)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "end_time 格式错误，请用 RFC3339"})
			return
		}
		if !end.After(begin) {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "end_time 必须晚于 begin_time"})
			return
		}
		v := &model.SeckillVoucher{
			Title:     req.Title,
			Stock:     req.Stock,
			SalePrice: req.SalePrice,
			BeginTime: begin,
			EndTime:   end,
		}
		if err := db.Create(v).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": v})
	}
}

// preloadStock 将 DB 库存预热到 Redis，供高并发扣减。
// 该接口要求简单管理员 token，避免被任意调用重置库存。
func preloadStock(sk *seckill.Service, adminToken string, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("X-Admin-Token") != adminToken {
			c.JSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "admin token 无效"})
			return
		}
		id, err := strconv.ParseUint(c.Param("voucher_id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "券ID无效"})
			return
		}
		if err := sk.PreloadStock(c.Request.Context(), id, ttl); err != nil {
			if errors.Is(err, seckill.ErrVoucherNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "券不存在"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "预热成功"})
	}
}

// getStock 查询 Redis 中的实时库存。
func getStock(rdb *rd.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("voucher_id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "券ID无效"})
			return
		}
		val, err := rdb.Get(c.Request.Context(), rediskey.StockKey(id)).Int64()
		if err != nil {
			if errors.Is(err, rd.Nil) {
				c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"stock": int64(0)}})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"stock": val}})
	}
}

// buyVoucher 秒杀下单入口。
// 准入成功立刻返回订单 ID，落单异步完成，可通过订单接口轮询。
func buyVoucher(sk *seckill.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			VoucherID uint64 `json:"voucher_id" binding:"required,min=1"`
			UserID    int64  `json:"user_id" binding:"required,min=1"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}

		orderID, res, err := sk.Buy(c.Request.Context(), req.VoucherID, req.UserID)
		if err != nil {
			switch {
			case errors.Is(err, seckill.ErrVoucherNotFound):
				c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "券不存在"})
			case errors.Is(err, seckill.ErrNotStarted):
				c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "活动未开始"})
			case errors.Is(err, seckill.ErrEnded):
				c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "活动已经结束"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			}
			return
		}

		switch res {
		case seckill.AdmitInsufficientStock:
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "库存不足"})
		case seckill.AdmitDuplicateOrder:
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "一人只能下一单"})
		default:
			// 订单 ID 用字符串返回，避免前端丢失 64 位精度
			c.JSON(http.StatusOK, gin.H{
				"code": 0,
				"data": gin.H{
					"order_id": strconv.FormatUint(orderID, 10),
					"status":   "pending",
				},
			})
		}
	}
}

// getOrder 按订单 ID 查询异步落单结果。
func getOrder(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("order_id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "订单ID无效"})
			return
		}

		var order model.VoucherOrder
		if err := db.First(&order, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// 落单是异步的：查不到视为仍在排队
				c.JSON(http.StatusOK, gin.H{
					"code": 0,
					"data": gin.H{"order_id": c.Param("order_id"), "status": "pending"},
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": order})
	}
}
