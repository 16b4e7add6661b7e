package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"seckill/internal/bloomidx"
	"seckill/internal/cache"
	"seckill/internal/config"
	"seckill/internal/idworker"
	"seckill/internal/model"
	"seckill/internal/queue"
	"seckill/internal/router"
	"seckill/internal/seckill"
	"seckill/internal/shop"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	// 1. 连接 SQLite，自动建表
	db, err := gorm.Open(sqlite.Open(cfg.DBPath), &gorm.Config{})
	if err != nil {
		logger.Fatal().Err(err).Msg("db open")
	}
	if err := db.AutoMigrate(&model.Shop{}, &model.SeckillVoucher{}, &model.VoucherOrder{}); err != nil {
		logger.Fatal().Err(err).Msg("db migrate")
	}

	// 2. 连接 Redis（准入脚本、缓存、分布式锁都依赖它）
	rdb := rd.NewClient(&rd.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer rdb.Close()
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 3*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancelPing()
		logger.Fatal().Err(err).Msg("redis ping")
	}
	cancelPing()

	// 3. 缓存层 + 布隆索引预热
	cacheClient := cache.NewClient(rdb, logger)
	defer cacheClient.Close()

	bloomIdx := bloomidx.New(uint(cfg.BloomCapacity), bloomidx.DefaultFalsePositiveRate)
	shopSvc := shop.NewService(db, cacheClient, bloomIdx, cfg.ShopSoftTTL, logger)
	if err := shopSvc.WarmBloom(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("warm bloom index")
	}

	// 4. 秒杀核心：ID 生成器 + 原子准入
	ids := idworker.New(rdb)
	gate := seckill.NewGate(rdb)
	seckillSvc := seckill.NewService(db, rdb, gate, ids, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 5. 意图流 → RabbitMQ 的中继
	dispatcher, err := queue.NewDispatcher(cfg.AMQPURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect dispatcher")
	}
	defer dispatcher.Close()

	relay := queue.NewRelay(rdb, dispatcher, cfg.OrderIntentGroup, cfg.OrderIntentConsumer, logger)
	go relay.Run(ctx)

	// 6. 订单消费者：事务落单 + Kafka 事件旁路
	events := queue.NewEventProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer events.Close()

	fulfiller, err := queue.NewFulfiller(cfg.AMQPURL, db, rdb, events, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect fulfiller")
	}
	defer fulfiller.Close()
	go fulfiller.Run(ctx)

	// 7. HTTP 服务
	r := gin.Default()
	router.Setup(r, db, rdb, shopSvc, seckillSvc, cfg)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http serve")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
}
