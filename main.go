package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TIANLI0/OverlayKit/config"
	"github.com/TIANLI0/OverlayKit/handler"
	"github.com/TIANLI0/OverlayKit/inference"
	"github.com/TIANLI0/OverlayKit/middleware"
	"github.com/TIANLI0/OverlayKit/service"
	"github.com/TIANLI0/OverlayKit/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	BuildID   = "unknown"
	GitCommit = "unknown"
	GitBranch = "unknown"
)

func main() {
	// 加载配置
	cfg := config.New()

	// 初始化日志
	if err := utils.InitLogger(cfg.Server.Mode); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer utils.Sync()

	utils.Logger.Info("starting OverlayKit server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.String("git_branch", GitBranch))

	for _, dir := range []string{cfg.Upload.UploadDir, cfg.Overlay.ResultDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			utils.Logger.Fatal("failed to create directory", zap.String("dir", dir), zap.Error(err))
		}
	}

	// 初始化Redis
	redisService := service.NewRedisService(&cfg.Redis)
	ctx := context.Background()
	if err := redisService.Ping(ctx); err != nil {
		utils.Logger.Warn("redis connection failed, cache disabled", zap.Error(err))
	} else {
		utils.Logger.Info("redis connected successfully")
	}
	defer redisService.Close()

	// 初始化推理环境与模型
	if err := inference.Initialize(cfg.Models.ORTLibraryPath); err != nil {
		utils.Logger.Fatal("failed to initialize onnx runtime", zap.Error(err))
	}
	defer inference.Shutdown()

	poseDetector, err := service.NewPoseDetector(&cfg.Models)
	if err != nil {
		utils.Logger.Fatal("failed to load pose model", zap.Error(err))
	}
	defer poseDetector.Close()

	remover, err := service.NewBackgroundRemover(&cfg.Models)
	if err != nil {
		utils.Logger.Fatal("failed to set up background remover", zap.Error(err))
	}
	defer remover.Close()

	utils.Logger.Info("models loaded",
		zap.String("pose_model", cfg.Models.PoseModel),
		zap.String("remover_backend", cfg.Models.RemoverBackend),
		zap.Int("garments", len(cfg.Garments.Items)))

	overlayService := service.NewOverlayService(&cfg.Overlay, poseDetector, remover)

	// 初始化Handler
	tryOnHandler := handler.NewTryOnHandler(cfg, redisService, overlayService)

	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS())

	r.Static("/results", cfg.Overlay.ResultDir)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"version": Version,
		})
	})

	r.GET("/version", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"version":    Version,
			"build_time": BuildTime,
			"build_id":   BuildID,
			"git_commit": GitCommit,
			"git_branch": GitBranch,
		})
	})

	// API路由
	api := r.Group("/api/v1")
	{
		api.POST("/tryon", tryOnHandler.TryOn)
		api.GET("/garments", tryOnHandler.ListGarments)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		utils.Logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	utils.Logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		utils.Logger.Error("server shutdown failed", zap.Error(err))
	}
}
