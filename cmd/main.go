// 本文件用于程序启动入口
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"canvas-guard/internal/api"
	"canvas-guard/internal/config"
	"canvas-guard/internal/logger"
	"canvas-guard/internal/models"
	"canvas-guard/internal/service"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("程序退出: %v", err)
	}
}

func run() error {
	configPath := parseFlags()
	log.Printf("程序启动，配置文件: %s", configPath)

	cfg, err := loadAndValidateConfig(configPath)
	if err != nil {
		return err
	}

	if err := logger.InitLogger(cfg); err != nil {
		return err
	}
	defer logger.Close()

	logConfig(cfg)

	guardService, err := service.NewGuardService(cfg)
	if err != nil {
		logger.Error("创建监管服务失败: %v", err)
		return err
	}

	if err := guardService.Start(context.Background()); err != nil {
		logger.Error("启动监管服务失败: %v", err)
		return err
	}

	apiServer := api.NewServer(cfg, guardService)
	apiServer.Start()

	waitForShutdown(guardService, apiServer)
	return nil
}

func parseFlags() string {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "配置文件路径")
	flag.Parse()
	return configPath
}

func loadAndValidateConfig(configPath string) (*models.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func logConfig(cfg *models.Config) {
	logger.Info("配置加载成功")
	logger.Info("画布服务命令: %s %s", cfg.WorkerCommand, strings.Join(cfg.WorkerArgs, " "))
	if strings.TrimSpace(cfg.WorkerDir) != "" {
		logger.Info("画布服务工作目录: %s", cfg.WorkerDir)
	}
	logger.Info("健康检查地址: %s", cfg.HealthURL)
	logger.Info("健康轮询间隔: %s", cfg.HealthPollInterval)
	logger.Info("连续失败上限: %d", cfg.MaxConsecutiveFailure)
	logger.Info("告警评估: %v 周期: %s", cfg.AlertEnabled, cfg.AlertInterval)
	if cfg.AlertRulesFile != "" {
		logger.Info("告警规则文件: %s", cfg.AlertRulesFile)
	}
	logger.Info("通知分发工作池大小: %d", cfg.DispatchWorkers)
	logger.Info("通知分发队列大小: %d", cfg.DispatchQueueSize)
	logger.Info("API 监听地址: %s", cfg.APIBind)
	logger.Info("日志级别: %s", cfg.LogLevel)
	if cfg.LogFile != "" {
		logger.Info("日志文件: %s", cfg.LogFile)
	}
}

func waitForShutdown(guardService *service.GuardService, apiServer *api.Server) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	<-signalChan
	logger.Info("收到退出信号，正在关闭服务...")

	if apiServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(ctx); err != nil {
			logger.Warn("关闭 API 服务失败: %v", err)
		}
	}
	guardService.Stop()

	logger.Info("程序已退出")
	os.Exit(0)
}
