package main

import (
	"context"
	"fmt"
	"log"

	"capsule-vault/config"
	"capsule-vault/internal/handler"
	"capsule-vault/internal/middleware"
	appredis "capsule-vault/internal/redis"
	"capsule-vault/internal/repository"
	"capsule-vault/internal/services"
	"capsule-vault/internal/storage"
	"capsule-vault/internal/throttle"
	"capsule-vault/pkg/database"
	"capsule-vault/pkg/logger"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg := config.LoadConfig()

	l := logger.New(cfg.Server.Environment)
	logger.SetGlobalLogger(l)

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to apply migrations: %v", err)
	}

	redisClient := appredis.NewClient(appredis.Config{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	cacheConfig := appredis.DefaultCacheConfig()
	if cfg.Registry.ListCacheTTL > 0 {
		cacheConfig.ListingTTL = cfg.Registry.ListCacheTTL
	}
	cache := appredis.NewResponseCache(redisClient, cacheConfig)

	blobs, err := storage.NewClient(context.Background(), storage.S3Config{
		Region:    cfg.Storage.Region,
		Bucket:    cfg.Storage.Bucket,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Endpoint:  cfg.Storage.Endpoint,
	})
	if err != nil {
		log.Fatalf("Failed to configure blob storage: %v", err)
	}

	repo := repository.NewCapsuleRepository(db)
	service := services.NewCapsuleService(repo, blobs, cache, l)

	sweeper := services.NewSweepWorker(service, cfg.Registry.SweepInterval, l)
	sweeper.Start()
	defer sweeper.Stop()

	throttleConfig := throttle.DefaultConfig()
	if cfg.Throttle.MinuteLimit > 0 {
		throttleConfig.MinuteLimit = cfg.Throttle.MinuteLimit
	}
	if cfg.Throttle.HourLimit > 0 {
		throttleConfig.HourLimit = cfg.Throttle.HourLimit
	}
	limiter := throttle.NewLimiter(throttleConfig)

	if cfg.Server.Environment == logger.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.LoggingMiddleware(l))
	r.Use(middleware.ErrorHandler(l))

	capsules := handler.NewCapsuleHandler(service)

	api := r.Group("/api")
	api.Use(middleware.RateLimitMiddleware(limiter))
	{
		api.POST("/upload", capsules.Upload)
		api.GET("/files", capsules.List)
		api.GET("/download/:id", capsules.Download)
		api.DELETE("/delete/:id", capsules.Delete)
	}

	l.Infof("Starting server on port %s", cfg.Server.Port)
	if err := r.Run(fmt.Sprintf(":%s", cfg.Server.Port)); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
