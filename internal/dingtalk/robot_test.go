package dingtalk

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"canvas-guard/internal/alert"
)

func testAlert() alert.Alert {
	return alert.Alert{
		ID:        "worker_down_1748772000",
		Title:     "Worker Down",
		Message:   "canvas worker 进程不可用",
		Level:     alert.LevelCritical,
		Timestamp: time.Date(2025, 6, 1, 10, 0, 0, 0, time.Local),
		Source:    "canvas_monitoring",
	}
}

func TestBuildMarkdownMessage(t *testing.T) {
	msg := buildMarkdownMessage(testAlert())

	if msg.MsgType != "markdown" {
		t.Fatalf("msgtype should be markdown, got %s", msg.MsgType)
	}
	if msg.Markdown.Title != "Worker Down" {
		t.Fatalf("title mismatch: %s", msg.Markdown.Title)
	}
	if !strings.Contains(msg.Markdown.Text, "### Worker Down") {
		t.Fatalf("text should contain heading, got %s", msg.Markdown.Text)
	}
	if !strings.Contains(msg.Markdown.Text, "`critical`") {
		t.Fatalf("text should contain level, got %s", msg.Markdown.Text)
	}
	if !strings.Contains(msg.Markdown.Text, "`canvas_monitoring`") {
		t.Fatalf("text should contain source, got %s", msg.Markdown.Text)
	}
	if !strings.Contains(msg.Markdown.Text, "canvas worker 进程不可用") {
		t.Fatalf("text should contain message body, got %s", msg.Markdown.Text)
	}
}

func TestSendSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"errcode":0,"errmsg":"ok"}`))
	}))
	defer server.Close()

	robot := NewRobot(server.URL, "")
	if err := robot.Send(context.Background(), testAlert()); err != nil {
		t.Fatalf("send should succeed, got %v", err)
	}
}

func TestSendErrCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"errcode":310000,"errmsg":"keywords not in content"}`))
	}))
	defer server.Close()

	robot := NewRobot(server.URL, "")
	err := robot.Send(context.Background(), testAlert())
	if err == nil {
		t.Fatal("non-zero errcode should be an error")
	}
	if !strings.Contains(err.Error(), "钉钉机器人返回错误") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSendEmptyWebhook(t *testing.T) {
	robot := NewRobot("", "")
	if err := robot.Send(context.Background(), testAlert()); err == nil {
		t.Fatal("empty webhook should be an error")
	}
}

func TestBuildWebhookURLWithSecret(t *testing.T) {
	robot := NewRobot("https://oapi.dingtalk.com/robot/send?access_token=abc", "secret-key")

	signed, err := robot.buildWebhookURL()
	if err != nil {
		t.Fatalf("buildWebhookURL failed: %v", err)
	}
	if !strings.Contains(signed, "timestamp=") || !strings.Contains(signed, "sign=") {
		t.Fatalf("signed url should carry timestamp and sign, got %s", signed)
	}
	if !strings.Contains(signed, "access_token=abc") {
		t.Fatalf("signed url should keep original query, got %s", signed)
	}
}

func TestBuildWebhookURLWithoutSecret(t *testing.T) {
	const raw = "https://oapi.dingtalk.com/robot/send?access_token=abc"
	robot := NewRobot(raw, "")

	signed, err := robot.buildWebhookURL()
	if err != nil {
		t.Fatalf("buildWebhookURL failed: %v", err)
	}
	if signed != raw {
		t.Fatalf("url should be unchanged without secret, got %s", signed)
	}
}
