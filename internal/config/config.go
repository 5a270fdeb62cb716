package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"canvas-guard/internal/models"
)

// LoadConfig 加载配置文件
func LoadConfig(configFile string) (*models.Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %v", err)
	}

	var config models.Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %v", err)
	}

	// 设置默认值
	if config.HealthTimeout == "" {
		config.HealthTimeout = "3s"
	}
	if config.HealthPollInterval == "" {
		config.HealthPollInterval = "5s"
	}
	if config.StartupWaitTimeout == "" {
		config.StartupWaitTimeout = "30s"
	}
	if config.StopTimeout == "" {
		config.StopTimeout = "10s"
	}
	if config.MaxConsecutiveFailure <= 0 {
		config.MaxConsecutiveFailure = 5
	}
	if config.CPUThresholdPercent <= 0 {
		config.CPUThresholdPercent = 80
	}
	if config.MemThresholdPercent <= 0 {
		config.MemThresholdPercent = 85
	}
	if config.AlertInterval == "" {
		config.AlertInterval = "10s"
	}
	if config.AlertHistoryLimit <= 0 {
		config.AlertHistoryLimit = 500
	}
	if config.DispatchWorkers <= 0 {
		config.DispatchWorkers = 2
	}
	if config.DispatchQueueSize <= 0 {
		config.DispatchQueueSize = 64
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}

	return &config, nil
}

// ValidateConfig 验证配置
func ValidateConfig(config *models.Config) error {
	if config.WorkerCommand == "" {
		return fmt.Errorf("画布服务启动命令不能为空")
	}
	if config.HealthURL == "" {
		return fmt.Errorf("健康检查地址不能为空")
	}
	if config.APIBind == "" {
		return fmt.Errorf("API 监听地址不能为空")
	}
	if config.AlertEnabled && config.AlertRules == nil && config.AlertRulesFile == "" {
		return fmt.Errorf("启用告警时规则不能为空")
	}

	return nil
}

// Duration 解析时长配置 解析失败或非正值时回退默认值
func Duration(raw string, fallback time.Duration) time.Duration {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fallback
	}
	if d, err := time.ParseDuration(trimmed); err == nil && d > 0 {
		return d
	}
	return fallback
}
