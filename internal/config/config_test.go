// 本文件用于配置加载与校验的单元测试
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"canvas-guard/internal/models"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写入配置文件失败: %v", err)
	}
	return path
}

func TestLoadConfig_FileMissing(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("缺失的配置文件应该返回错误")
	}
}

func TestLoadConfig_InvalidYaml(t *testing.T) {
	path := writeConfigFile(t, "::::")
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("无效 YAML 应该返回错误")
	}
}

func TestLoadConfig_DefaultsApplied(t *testing.T) {
	path := writeConfigFile(t, `worker_command: "node"
health_url: "http://127.0.0.1:3100/health"
api_bind: "127.0.0.1:8080"
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	if cfg.HealthTimeout != "3s" {
		t.Fatalf("默认健康检查超时不符: %q", cfg.HealthTimeout)
	}
	if cfg.HealthPollInterval != "5s" {
		t.Fatalf("默认轮询间隔不符: %q", cfg.HealthPollInterval)
	}
	if cfg.StartupWaitTimeout != "30s" {
		t.Fatalf("默认启动等待不符: %q", cfg.StartupWaitTimeout)
	}
	if cfg.StopTimeout != "10s" {
		t.Fatalf("默认停止等待不符: %q", cfg.StopTimeout)
	}
	if cfg.MaxConsecutiveFailure != 5 {
		t.Fatalf("默认连续失败上限不符: %d", cfg.MaxConsecutiveFailure)
	}
	if cfg.CPUThresholdPercent != 80 || cfg.MemThresholdPercent != 85 {
		t.Fatalf("默认资源阈值不符: %f %f", cfg.CPUThresholdPercent, cfg.MemThresholdPercent)
	}
	if cfg.AlertInterval != "10s" || cfg.AlertHistoryLimit != 500 {
		t.Fatalf("默认告警配置不符: %q %d", cfg.AlertInterval, cfg.AlertHistoryLimit)
	}
	if cfg.DispatchWorkers != 2 || cfg.DispatchQueueSize != 64 {
		t.Fatalf("默认分发配置不符: %d %d", cfg.DispatchWorkers, cfg.DispatchQueueSize)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("默认日志级别不符: %q", cfg.LogLevel)
	}
}

func TestLoadConfig_ExplicitValuesKept(t *testing.T) {
	path := writeConfigFile(t, `worker_command: "node"
worker_args: ["server.js", "--port", "3100"]
health_url: "http://127.0.0.1:3100/health"
health_poll_interval: "2s"
max_consecutive_failure: 3
api_bind: "127.0.0.1:9090"
alert_enabled: true
alert_rules_file: "rules.yaml"
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if len(cfg.WorkerArgs) != 3 || cfg.WorkerArgs[0] != "server.js" {
		t.Fatalf("启动参数不符: %v", cfg.WorkerArgs)
	}
	if cfg.HealthPollInterval != "2s" || cfg.MaxConsecutiveFailure != 3 {
		t.Fatal("显式配置不应该被默认值覆盖")
	}
}

func TestValidateConfig(t *testing.T) {
	valid := &models.Config{
		WorkerCommand: "node",
		HealthURL:     "http://127.0.0.1:3100/health",
		APIBind:       "127.0.0.1:8080",
	}
	if err := ValidateConfig(valid); err != nil {
		t.Fatalf("合法配置不应该报错: %v", err)
	}

	cases := []struct {
		name    string
		mutate  func(*models.Config)
		message string
	}{
		{"缺少启动命令", func(c *models.Config) { c.WorkerCommand = "" }, "启动命令不能为空"},
		{"缺少健康地址", func(c *models.Config) { c.HealthURL = "" }, "健康检查地址不能为空"},
		{"缺少监听地址", func(c *models.Config) { c.APIBind = "" }, "监听地址不能为空"},
		{"告警缺少规则", func(c *models.Config) { c.AlertEnabled = true }, "规则不能为空"},
	}
	for _, tc := range cases {
		cfg := *valid
		tc.mutate(&cfg)
		err := ValidateConfig(&cfg)
		if err == nil || !strings.Contains(err.Error(), tc.message) {
			t.Fatalf("%s: 期望包含 %q 实际: %v", tc.name, tc.message, err)
		}
	}
}

func TestValidateConfig_InlineRulesSatisfyAlert(t *testing.T) {
	cfg := &models.Config{
		WorkerCommand: "node",
		HealthURL:     "http://127.0.0.1:3100/health",
		APIBind:       "127.0.0.1:8080",
		AlertEnabled:  true,
		AlertRules:    &models.AlertRuleset{},
	}
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("内联规则应该满足告警校验: %v", err)
	}
}

func TestDuration(t *testing.T) {
	cases := []struct {
		raw      string
		fallback time.Duration
		want     time.Duration
	}{
		{"5s", time.Second, 5 * time.Second},
		{" 2m ", time.Second, 2 * time.Minute},
		{"", 3 * time.Second, 3 * time.Second},
		{"abc", 3 * time.Second, 3 * time.Second},
		{"-5s", 3 * time.Second, 3 * time.Second},
		{"0s", 3 * time.Second, 3 * time.Second},
	}
	for _, tc := range cases {
		if got := Duration(tc.raw, tc.fallback); got != tc.want {
			t.Fatalf("Duration(%q) 期望 %v 实际 %v", tc.raw, tc.want, got)
		}
	}
}
