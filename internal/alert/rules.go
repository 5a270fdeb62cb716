// 本文件用于告警规则的加载 校验与编译
package alert

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v2"

	"canvas-guard/internal/models"
)

const defaultThrottleSeconds = 300

// compiledRule 表示编译后的告警规则
// 除 enabled 外其余字段构建后不可变 enabled 为独立开关可随时翻转
type compiledRule struct {
	name     string
	expr     *Expr
	level    Level
	template string
	channels []Channel
	throttle time.Duration
	enabled  atomic.Bool
}

// LoadRules 读取并解析规则文件
func LoadRules(path string) (*models.AlertRuleset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取告警规则失败: %w", err)
	}

	var ruleset models.AlertRuleset
	if err := yaml.Unmarshal(data, &ruleset); err != nil {
		return nil, fmt.Errorf("解析告警规则失败: %w", err)
	}
	if err := NormalizeRuleset(&ruleset); err != nil {
		return nil, err
	}
	return &ruleset, nil
}

// NormalizeRuleset 校验规则集并补齐默认值
func NormalizeRuleset(ruleset *models.AlertRuleset) error {
	if ruleset == nil {
		return fmt.Errorf("告警规则为空")
	}
	if ruleset.Version == 0 {
		ruleset.Version = 1
	}
	if len(ruleset.Rules) == 0 {
		return fmt.Errorf("告警规则不能为空")
	}

	defaultThrottle := defaultThrottleSeconds
	if ruleset.Defaults.ThrottleSeconds != nil {
		defaultThrottle = *ruleset.Defaults.ThrottleSeconds
	}
	if defaultThrottle < 0 {
		return fmt.Errorf("默认抑制间隔不能为负")
	}
	defaultChannels := ruleset.Defaults.Channels
	if len(defaultChannels) == 0 {
		defaultChannels = []string{string(ChannelLog)}
	}

	seen := make(map[string]bool, len(ruleset.Rules))
	for i := range ruleset.Rules {
		rule := &ruleset.Rules[i]
		rule.Name = strings.TrimSpace(rule.Name)
		if rule.Name == "" {
			return fmt.Errorf("第%d条告警规则缺少名称", i+1)
		}
		if seen[rule.Name] {
			return fmt.Errorf("告警规则名称重复: %s", rule.Name)
		}
		seen[rule.Name] = true

		rule.Level = strings.ToLower(strings.TrimSpace(rule.Level))
		if _, ok := parseLevel(rule.Level); !ok {
			return fmt.Errorf("告警规则 %s 级别无效: %s", rule.Name, rule.Level)
		}
		if strings.TrimSpace(rule.Condition) == "" {
			return fmt.Errorf("告警规则 %s 缺少条件", rule.Name)
		}
		if rule.ThrottleSeconds == nil {
			throttle := defaultThrottle
			rule.ThrottleSeconds = &throttle
		}
		if *rule.ThrottleSeconds < 0 {
			return fmt.Errorf("告警规则 %s 抑制间隔不能为负", rule.Name)
		}
		if len(rule.Channels) == 0 {
			rule.Channels = append([]string(nil), defaultChannels...)
		}
		for _, channel := range rule.Channels {
			if _, ok := parseChannel(channel); !ok {
				return fmt.Errorf("告警规则 %s 通道无效: %s", rule.Name, channel)
			}
		}
	}
	return nil
}

// compileRules 将规则集编译为高效求值结构 条件语法错误在此暴露
func compileRules(ruleset *models.AlertRuleset) ([]*compiledRule, error) {
	if ruleset == nil {
		return nil, fmt.Errorf("告警规则为空")
	}

	compiled := make([]*compiledRule, 0, len(ruleset.Rules))
	for _, rule := range ruleset.Rules {
		expr, err := Compile(rule.Condition)
		if err != nil {
			return nil, fmt.Errorf("告警规则 %s 条件无效: %w", rule.Name, err)
		}
		level, _ := parseLevel(rule.Level)
		channels := make([]Channel, 0, len(rule.Channels))
		for _, raw := range rule.Channels {
			channel, _ := parseChannel(raw)
			channels = append(channels, channel)
		}
		throttle := time.Duration(defaultThrottleSeconds) * time.Second
		if rule.ThrottleSeconds != nil {
			throttle = time.Duration(*rule.ThrottleSeconds) * time.Second
		}
		item := &compiledRule{
			name:     rule.Name,
			expr:     expr,
			level:    level,
			template: rule.MessageTemplate,
			channels: channels,
			throttle: throttle,
		}
		enabled := rule.Enabled == nil || *rule.Enabled
		item.enabled.Store(enabled)
		compiled = append(compiled, item)
	}
	return compiled, nil
}

// DefaultRuleset 返回内置默认规则集
func DefaultRuleset() *models.AlertRuleset {
	throttle := func(seconds int) *int { return &seconds }
	ruleset := &models.AlertRuleset{
		Version: 1,
		Rules: []models.AlertRule{
			{
				Name:            "health_check_failing",
				Condition:       "consecutive_health_failures >= 3",
				Level:           string(LevelWarning),
				MessageTemplate: "画布服务健康检查失败: 连续{consecutive_health_failures}次",
				ThrottleSeconds: throttle(300),
			},
			{
				Name:            "health_check_critical",
				Condition:       "consecutive_health_failures >= 5",
				Level:           string(LevelCritical),
				MessageTemplate: "画布服务健康检查持续失败: 连续{consecutive_health_failures}次",
				ThrottleSeconds: throttle(180),
			},
			{
				Name:            "circuit_breaker_opened",
				Condition:       "circuit_state == 'open'",
				Level:           string(LevelError),
				MessageTemplate: "熔断器已打开: 失败率{circuit_failure_rate}%",
				ThrottleSeconds: throttle(600),
			},
			{
				Name:            "high_cpu_usage",
				Condition:       "cpu_percent > cpu_threshold",
				Level:           string(LevelWarning),
				MessageTemplate: "CPU 使用率过高: {cpu_percent}% (阈值: {cpu_threshold}%)",
				ThrottleSeconds: throttle(300),
			},
			{
				Name:            "high_memory_usage",
				Condition:       "memory_percent > memory_threshold",
				Level:           string(LevelWarning),
				MessageTemplate: "内存使用率过高: {memory_percent}% (阈值: {memory_threshold}%)",
				ThrottleSeconds: throttle(300),
			},
			{
				Name:            "canvas_process_died",
				Condition:       "process_status == 'dead'",
				Level:           string(LevelCritical),
				MessageTemplate: "画布服务进程已退出",
				ThrottleSeconds: throttle(60),
			},
		},
	}
	if err := NormalizeRuleset(ruleset); err != nil {
		// 内置规则集必须合法 此处失败属于编码错误
		panic(fmt.Sprintf("默认告警规则非法: %v", err))
	}
	return ruleset
}
