// 本文件用于画布服务健康探测
package probe

import (
	"context"
	"net/http"
	"strings"
	"time"

	"canvas-guard/internal/logger"
)

const defaultTimeout = 3 * time.Second

// Result 表示一次健康探测的结果
type Result struct {
	Healthy    bool
	StatusCode int
	Latency    time.Duration
	At         time.Time
}

// HealthProbe 负责对画布服务健康端点做有界超时探测
type HealthProbe struct {
	url    string
	client *http.Client
}

// NewHealthProbe 创建健康探测器
func NewHealthProbe(url string, timeout time.Duration) *HealthProbe {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HealthProbe{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: timeout},
	}
}

// Check 执行一次探测 任何网络错误 超时或非 200 状态都视为不健康 不向上抛出错误
func (p *HealthProbe) Check(ctx context.Context) Result {
	result := Result{At: time.Now()}
	if p == nil || p.url == "" {
		return result
	}

	req, err := http.NewRequest(http.MethodGet, p.url, nil)
	if err != nil {
		logger.Debug("构建健康检查请求失败: %v", err)
		return result
	}
	if ctx != nil {
		req = req.WithContext(ctx)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	result.Latency = time.Since(start)
	if err != nil {
		// 超时与连接失败统一按不健康处理
		logger.Debug("健康检查失败: %v", err)
		return result
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	result.Healthy = resp.StatusCode == http.StatusOK
	return result
}

// URL 返回探测目标地址
func (p *HealthProbe) URL() string {
	if p == nil {
		return ""
	}
	return p.url
}
