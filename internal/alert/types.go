// 本文件用于定义告警相关的数据结构
package alert

import (
	"strings"
	"time"
)

// Level 表示告警级别
type Level string

const (
	// LevelInfo 表示信息
	LevelInfo Level = "info"
	// LevelWarning 表示警告
	LevelWarning Level = "warning"
	// LevelError 表示错误
	LevelError Level = "error"
	// LevelCritical 表示致命
	LevelCritical Level = "critical"
)

// Channel 表示告警通知通道
type Channel string

const (
	// ChannelLog 表示日志通道 始终可用
	ChannelLog Channel = "log"
	// ChannelWebhook 表示通用 Webhook 通道
	ChannelWebhook Channel = "webhook"
	// ChannelEmail 表示邮件通道
	ChannelEmail Channel = "email"
	// ChannelDingTalk 表示钉钉机器人通道
	ChannelDingTalk Channel = "dingtalk"
	// ChannelWeChat 表示企业微信机器人通道
	ChannelWeChat Channel = "wechat"
)

// Alert 表示一次告警实例
type Alert struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	Message    string            `json:"message"`
	Level      Level             `json:"level"`
	Timestamp  time.Time         `json:"timestamp"`
	Source     string            `json:"source"`
	Labels     map[string]string `json:"labels,omitempty"`
	Resolved   bool              `json:"resolved"`
	ResolvedAt *time.Time        `json:"resolvedAt,omitempty"`
}

// ParseLevel 解析外部输入的级别名称
func ParseLevel(raw string) (Level, bool) {
	return parseLevel(raw)
}

// ParseChannel 解析外部输入的通道名称
func ParseChannel(raw string) (Channel, bool) {
	return parseChannel(raw)
}

// parseLevel 用于解析输入参数或配置
func parseLevel(raw string) (Level, bool) {
	switch Level(strings.ToLower(strings.TrimSpace(raw))) {
	case LevelInfo:
		return LevelInfo, true
	case LevelWarning:
		return LevelWarning, true
	case LevelError:
		return LevelError, true
	case LevelCritical:
		return LevelCritical, true
	default:
		return "", false
	}
}

// parseChannel 用于解析通知通道名称
func parseChannel(raw string) (Channel, bool) {
	switch Channel(strings.ToLower(strings.TrimSpace(raw))) {
	case ChannelLog:
		return ChannelLog, true
	case ChannelWebhook:
		return ChannelWebhook, true
	case ChannelEmail:
		return ChannelEmail, true
	case ChannelDingTalk:
		return ChannelDingTalk, true
	case ChannelWeChat:
		return ChannelWeChat, true
	default:
		return "", false
	}
}
