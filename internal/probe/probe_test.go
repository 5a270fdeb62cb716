// 本文件用于健康探测的单元测试
package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCheck_HealthyOn200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	result := NewHealthProbe(server.URL, time.Second).Check(context.Background())
	if !result.Healthy {
		t.Fatal("200 响应应该判定为健康")
	}
	if result.StatusCode != http.StatusOK {
		t.Fatalf("状态码不符: %d", result.StatusCode)
	}
	if result.At.IsZero() {
		t.Fatal("探测时间应该被记录")
	}
}

func TestCheck_UnhealthyOnNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	result := NewHealthProbe(server.URL, time.Second).Check(context.Background())
	if result.Healthy {
		t.Fatal("503 响应不应该判定为健康")
	}
	if result.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("状态码不符: %d", result.StatusCode)
	}
}

func TestCheck_ConnectionRefused(t *testing.T) {
	// 端口未监听 连接失败按不健康处理 不抛错误
	result := NewHealthProbe("http://127.0.0.1:1/health", 200*time.Millisecond).Check(context.Background())
	if result.Healthy {
		t.Fatal("连接失败不应该判定为健康")
	}
	if result.StatusCode != 0 {
		t.Fatalf("连接失败时状态码应该为 0 实际: %d", result.StatusCode)
	}
}

func TestCheck_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer server.Close()

	start := time.Now()
	result := NewHealthProbe(server.URL, 100*time.Millisecond).Check(context.Background())
	if result.Healthy {
		t.Fatal("超时不应该判定为健康")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("探测应该受超时约束 实际耗时 %v", elapsed)
	}
}

func TestCheck_EmptyURL(t *testing.T) {
	result := NewHealthProbe("", time.Second).Check(context.Background())
	if result.Healthy {
		t.Fatal("空地址不应该判定为健康")
	}
}

func TestCheck_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := NewHealthProbe(server.URL, time.Second).Check(ctx)
	if result.Healthy {
		t.Fatal("已取消的上下文不应该判定为健康")
	}
}
