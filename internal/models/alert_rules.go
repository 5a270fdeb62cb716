// 本文件用于定义告警规则结构体
package models

// AlertRuleset 表示告警规则集
type AlertRuleset struct {
	Version  int               `yaml:"version" json:"version"`
	Defaults AlertRuleDefaults `yaml:"defaults" json:"defaults"`
	Rules    []AlertRule       `yaml:"rules" json:"rules"`
}

// AlertRuleDefaults 表示规则默认配置
type AlertRuleDefaults struct {
	ThrottleSeconds *int     `yaml:"throttle_seconds" json:"throttle_seconds"`
	Channels        []string `yaml:"channels" json:"channels"`
}

// AlertRule 表示单条告警规则
type AlertRule struct {
	Name            string   `yaml:"name" json:"name"`
	Condition       string   `yaml:"condition" json:"condition"`
	Level           string   `yaml:"level" json:"level"`
	MessageTemplate string   `yaml:"message_template" json:"message_template"`
	Channels        []string `yaml:"channels" json:"channels"`
	ThrottleSeconds *int     `yaml:"throttle_seconds" json:"throttle_seconds"`
	Enabled         *bool    `yaml:"enabled" json:"enabled"`
}
