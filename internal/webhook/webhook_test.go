// 本文件用于通用 webhook 通道的单元测试
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"canvas-guard/internal/alert"
)

func sampleAlert() alert.Alert {
	return alert.Alert{
		ID:        "high_cpu_1748772000",
		Title:     "High Cpu Usage",
		Message:   "CPU 使用率过高",
		Level:     alert.LevelWarning,
		Timestamp: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		Source:    "canvas_monitoring",
		Labels:    map[string]string{"rule": "high_cpu_usage"},
	}
}

func TestSend_PostsJSONPayload(t *testing.T) {
	var got payload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("期望 POST 实际: %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type 不符: %s", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("解析负载失败: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL, "")
	if err := client.Send(context.Background(), sampleAlert()); err != nil {
		t.Fatalf("发送失败: %v", err)
	}

	if got.ID != "high_cpu_1748772000" || got.Level != "warning" {
		t.Fatalf("负载不符: %+v", got)
	}
	if got.Timestamp != "2025-06-01T10:00:00Z" {
		t.Fatalf("时间格式不符: %s", got.Timestamp)
	}
	if got.Labels["rule"] != "high_cpu_usage" {
		t.Fatalf("标签不符: %v", got.Labels)
	}
}

func TestSend_SignsWhenSecretConfigured(t *testing.T) {
	const secret = "test-secret"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timestamp := r.Header.Get("X-Guard-Timestamp")
		signature := r.Header.Get("X-Guard-Signature")
		if timestamp == "" || signature == "" {
			t.Error("配置 secret 时应该携带签名头")
		}
		body, _ := io.ReadAll(r.Body)
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write([]byte(timestamp))
		mac.Write([]byte("."))
		mac.Write(body)
		if expected := hex.EncodeToString(mac.Sum(nil)); signature != expected {
			t.Errorf("签名不符 期望 %s 实际 %s", expected, signature)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL, secret)
	if err := client.Send(context.Background(), sampleAlert()); err != nil {
		t.Fatalf("发送失败: %v", err)
	}
}

func TestSend_NoSignatureWithoutSecret(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Guard-Signature") != "" {
			t.Error("未配置 secret 时不应该携带签名头")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	if err := NewClient(server.URL, "").Send(context.Background(), sampleAlert()); err != nil {
		t.Fatalf("发送失败: %v", err)
	}
}

func TestSend_Non2xxIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	if err := NewClient(server.URL, "").Send(context.Background(), sampleAlert()); err == nil {
		t.Fatal("5xx 响应应该返回错误")
	}
}

func TestSend_EmptyURL(t *testing.T) {
	if err := NewClient("", "").Send(context.Background(), sampleAlert()); err == nil {
		t.Fatal("空地址应该返回错误")
	}
}

func TestSend_ResolvedAlertCarriesResolvedAt(t *testing.T) {
	var got payload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	resolved := sampleAlert()
	resolvedAt := time.Date(2025, 6, 1, 10, 5, 0, 0, time.UTC)
	resolved.Resolved = true
	resolved.ResolvedAt = &resolvedAt

	if err := NewClient(server.URL, "").Send(context.Background(), resolved); err != nil {
		t.Fatalf("发送失败: %v", err)
	}
	if !got.Resolved || got.ResolvedAt != "2025-06-01T10:05:00Z" {
		t.Fatalf("解除信息不符: %+v", got)
	}
}
