// 本文件用于通用 webhook 告警推送 以 JSON POST 方式投递告警负载
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"canvas-guard/internal/alert"
	"canvas-guard/internal/logger"
)

// Client 通用 webhook 客户端，把告警以 JSON 形式推给外部系统。
type Client struct {
	url    string
	secret string
	client *http.Client
}

// payload 是对外投递的告警结构，字段稳定后不要轻易改名。
type payload struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	Message    string            `json:"message"`
	Level      string            `json:"level"`
	Source     string            `json:"source"`
	Timestamp  string            `json:"timestamp"`
	Labels     map[string]string `json:"labels,omitempty"`
	Resolved   bool              `json:"resolved"`
	ResolvedAt string            `json:"resolved_at,omitempty"`
}

// NewClient 创建 webhook 客户端，secret 为空时不做签名。
func NewClient(url, secret string) *Client {
	return &Client{
		url:    strings.TrimSpace(url),
		secret: strings.TrimSpace(secret),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send 投递告警。签名方式为 HMAC-SHA256(timestamp + "." + body)，
// 通过 X-Guard-Timestamp 与 X-Guard-Signature 头携带。
func (c *Client) Send(ctx context.Context, a alert.Alert) error {
	if c.url == "" {
		return fmt.Errorf("webhook url 为空")
	}

	body, err := json.Marshal(buildPayload(a))
	if err != nil {
		return fmt.Errorf("序列化 webhook 负载失败: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("创建 HTTP 请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if ctx != nil {
		req = req.WithContext(ctx)
	}

	if c.secret != "" {
		timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
		req.Header.Set("X-Guard-Timestamp", timestamp)
		req.Header.Set("X-Guard-Signature", sign(c.secret, timestamp, body))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("发送 HTTP 请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("webhook 响应状态码异常: %d", resp.StatusCode)
	}

	logger.Debug("webhook 告警投递成功: %s", a.ID)
	return nil
}

func buildPayload(a alert.Alert) payload {
	out := payload{
		ID:        a.ID,
		Title:     a.Title,
		Message:   a.Message,
		Level:     string(a.Level),
		Source:    a.Source,
		Timestamp: a.Timestamp.UTC().Format(time.RFC3339),
		Labels:    a.Labels,
		Resolved:  a.Resolved,
	}
	if a.ResolvedAt != nil {
		out.ResolvedAt = a.ResolvedAt.UTC().Format(time.RFC3339)
	}
	return out
}

func sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
