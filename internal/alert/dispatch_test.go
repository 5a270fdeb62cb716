// 本文件用于通知分发工作池的单元测试
package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// blockingSender 可控制发送耗时与结果
type blockingSender struct {
	mu      sync.Mutex
	sent    []Alert
	delay   time.Duration
	failure error
	done    chan struct{}
}

func newBlockingSender() *blockingSender {
	return &blockingSender{done: make(chan struct{}, 16)}
}

func (s *blockingSender) Send(ctx context.Context, alert Alert) error {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	s.sent = append(s.sent, alert)
	s.mu.Unlock()
	s.done <- struct{}{}
	return s.failure
}

func (s *blockingSender) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func waitForSends(t *testing.T, sender *blockingSender, want int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for i := 0; i < want; i++ {
		select {
		case <-sender.done:
		case <-deadline:
			t.Fatalf("等待第 %d 次发送超时", i+1)
		}
	}
}

func TestDispatcher_SendsToRegisteredChannel(t *testing.T) {
	dispatcher := NewDispatcher(1, 4, time.Second)
	defer dispatcher.Shutdown()

	sender := newBlockingSender()
	dispatcher.Register(ChannelWebhook, sender)

	dispatcher.Dispatch(Alert{ID: "a1", Title: "t", Level: LevelWarning}, []Channel{ChannelWebhook})
	waitForSends(t, sender, 1)

	if sender.sentCount() != 1 {
		t.Fatalf("应该发送一次 实际 %d", sender.sentCount())
	}
}

func TestDispatcher_UnregisteredChannelSkipped(t *testing.T) {
	dispatcher := NewDispatcher(1, 4, time.Second)
	defer dispatcher.Shutdown()

	// 未注册的通道直接跳过 不应该阻塞或出错
	dispatcher.Dispatch(Alert{ID: "a1", Title: "t"}, []Channel{ChannelEmail})
}

func TestDispatcher_LogChannelAlwaysInline(t *testing.T) {
	dispatcher := NewDispatcher(1, 1, time.Second)
	defer dispatcher.Shutdown()

	// 日志通道不依赖注册 同步写出
	dispatcher.Dispatch(Alert{ID: "a1", Title: "t", Level: LevelCritical}, []Channel{ChannelLog})
}

func TestDispatcher_SenderFailureIsolated(t *testing.T) {
	dispatcher := NewDispatcher(1, 4, time.Second)
	defer dispatcher.Shutdown()

	failing := newBlockingSender()
	failing.failure = errors.New("下游不可用")
	healthy := newBlockingSender()
	dispatcher.Register(ChannelWebhook, failing)
	dispatcher.Register(ChannelDingTalk, healthy)

	dispatcher.Dispatch(Alert{ID: "a1", Title: "t"}, []Channel{ChannelWebhook, ChannelDingTalk})
	waitForSends(t, failing, 1)
	waitForSends(t, healthy, 1)

	if healthy.sentCount() != 1 {
		t.Fatal("一个通道失败不应该影响其他通道")
	}
}

func TestDispatcher_SendTimeout(t *testing.T) {
	dispatcher := NewDispatcher(1, 4, 50*time.Millisecond)
	defer dispatcher.Shutdown()

	slow := newBlockingSender()
	slow.delay = time.Second
	dispatcher.Register(ChannelWebhook, slow)

	dispatcher.Dispatch(Alert{ID: "a1", Title: "t"}, []Channel{ChannelWebhook})

	// 超时的发送不会计入成功
	time.Sleep(200 * time.Millisecond)
	if slow.sentCount() != 0 {
		t.Fatal("超时的发送不应该完成")
	}
}

func TestDispatcher_ShutdownDrainsQueue(t *testing.T) {
	dispatcher := NewDispatcher(1, 8, time.Second)

	slow := newBlockingSender()
	slow.delay = 50 * time.Millisecond
	dispatcher.Register(ChannelWebhook, slow)

	// 单工作协程 后三条在关闭时仍在队列里
	for i := 0; i < 4; i++ {
		dispatcher.Dispatch(Alert{ID: "a1", Title: "t"}, []Channel{ChannelWebhook})
	}
	dispatcher.Shutdown()

	if got := slow.sentCount(); got != 4 {
		t.Fatalf("关闭前已入队的通知应该全部发完 实际 %d", got)
	}
}

func TestDispatcher_ShutdownIdempotentSafety(t *testing.T) {
	dispatcher := NewDispatcher(2, 4, time.Second)
	dispatcher.Shutdown()
	// 关闭后再分发不应该 panic 任务只是不再被消费
	dispatcher.Dispatch(Alert{ID: "a1", Title: "t"}, []Channel{ChannelLog})
}
