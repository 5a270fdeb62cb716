package wechat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"canvas-guard/internal/alert"
	"canvas-guard/internal/logger"
)

const (
	webhookURLFormat = "https://qyapi.weixin.qq.com/cgi-bin/webhook/send?key=%s"
	timeFormat       = "2006-01-02 15:04:05"
)

// Robot 企业微信告警机器人
type Robot struct {
	robotKey string
	client   *http.Client
}

type message struct {
	MsgType  string   `json:"msgtype"`
	Markdown markdown `json:"markdown"`
}

type markdown struct {
	Content string `json:"content"`
}

// NewRobot 创建新的企业微信机器人。
func NewRobot(robotKey string) *Robot {
	return &Robot{
		robotKey: robotKey,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Send 发送告警到企业微信机器人。
func (r *Robot) Send(ctx context.Context, a alert.Alert) error {
	if r.robotKey == "" {
		return fmt.Errorf("企业微信 robot key 为空")
	}

	msg := buildMarkdownMessage(a)

	jsonReq, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}

	if err := r.sendRequest(ctx, buildWebhookURL(r.robotKey), jsonReq); err != nil {
		return err
	}

	logger.Debug("企业微信告警消息发送成功: %s", a.ID)
	return nil
}

func buildWebhookURL(robotKey string) string {
	return fmt.Sprintf(webhookURLFormat, robotKey)
}

func buildMarkdownMessage(a alert.Alert) message {
	content := fmt.Sprintf(
		"### %s \r\n > level: <font color=\"%s\">%s</font> \r\n > source: %s \r\n > datetime: <font color=\"comment\">%s</font> \r\n\r\n %s",
		a.Title,
		levelColor(a.Level),
		a.Level,
		a.Source,
		a.Timestamp.Format(timeFormat),
		a.Message,
	)
	return message{
		MsgType: "markdown",
		Markdown: markdown{
			Content: content,
		},
	}
}

// levelColor 映射告警级别到企业微信 markdown 支持的颜色。
func levelColor(level alert.Level) string {
	if level == alert.LevelInfo {
		return "info"
	}
	return "warning"
}

func (r *Robot) sendRequest(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if ctx != nil {
		req = req.WithContext(ctx)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("发送HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("企业微信机器人消息发送失败，状态码: %d", resp.StatusCode)
	}
	return nil
}
