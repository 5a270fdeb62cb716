// 本文件用于监管器状态机的单元测试
package supervisor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"canvas-guard/internal/models"
	"canvas-guard/internal/probe"
	"canvas-guard/internal/proc"
)

func newSupervisorForURL(t *testing.T, healthURL, command string, maxFailures int) *Supervisor {
	t.Helper()
	var args []string
	if command != "" {
		args = []string{"30"}
	}
	controller := proc.NewController(proc.Options{
		Command:     command,
		Args:        args,
		StopTimeout: 2 * time.Second,
	})
	healthProbe := probe.NewHealthProbe(healthURL, time.Second)
	sup := NewSupervisor(controller, healthProbe, Options{
		StartupWait:           2 * time.Second,
		MaxConsecutiveFailure: maxFailures,
	})
	t.Cleanup(func() { sup.Stop(true) })
	return sup
}

func TestEnsureRunning_AlreadyHealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sup := newSupervisorForURL(t, server.URL, "sleep", 3)

	if !sup.EnsureRunning(context.Background()) {
		t.Fatal("健康检查通过时应该直接返回 true")
	}
	status := sup.Status()
	if status.State != models.WorkerHealthy {
		t.Fatalf("状态应该为 healthy 实际: %s", status.State)
	}
	// 本就健康 不应该拉起新进程
	if status.PID != 0 {
		t.Fatalf("已健康时不应该启动进程 PID=%d", status.PID)
	}
}

func TestEnsureRunning_StartsThenHealthy(t *testing.T) {
	var started atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if started.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		started.Store(true)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	sup := newSupervisorForURL(t, server.URL, "sleep", 3)

	if !sup.EnsureRunning(context.Background()) {
		t.Fatal("启动窗口内通过健康检查应该返回 true")
	}
	status := sup.Status()
	if status.State != models.WorkerHealthy {
		t.Fatalf("状态应该为 healthy 实际: %s", status.State)
	}
	if status.PID <= 0 {
		t.Fatal("应该拉起画布服务进程")
	}
}

func TestEnsureRunning_StartupWindowExpires(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	sup := newSupervisorForURL(t, server.URL, "sleep", 3)

	if sup.EnsureRunning(context.Background()) {
		t.Fatal("启动窗口耗尽应该返回 false")
	}
	status := sup.Status()
	if status.State != models.WorkerAbsent {
		t.Fatalf("放弃启动后状态应该为 absent 实际: %s", status.State)
	}
	if status.PID != 0 {
		t.Fatal("放弃启动后进程应该被回收")
	}
}

func TestEnsureRunning_StartFailure(t *testing.T) {
	sup := newSupervisorForURL(t, "http://127.0.0.1:1/health", "", 3)

	if sup.EnsureRunning(context.Background()) {
		t.Fatal("启动命令为空时应该返回 false")
	}
	if status := sup.Status(); status.State != models.WorkerAbsent {
		t.Fatalf("启动失败后状态应该为 absent 实际: %s", status.State)
	}
}

func TestEnsureRunning_Cancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	sup := newSupervisorForURL(t, server.URL, "sleep", 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if sup.EnsureRunning(ctx) {
		t.Fatal("上下文取消后应该返回 false")
	}
}

func TestPollOnce_HealthyResetsFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sup := newSupervisorForURL(t, server.URL, "sleep", 3)

	sup.PollOnce(context.Background())
	status := sup.Status()
	if status.State != models.WorkerHealthy || status.ConsecutiveFailures != 0 {
		t.Fatalf("健康巡检后状态不符: %+v", status)
	}
	if !status.LastProbeOK || status.LastProbeAt == "" {
		t.Fatalf("最近探测结果应该被记录: %+v", status)
	}
}

func TestPollOnce_FailuresBelowThreshold(t *testing.T) {
	sup := newSupervisorForURL(t, "http://127.0.0.1:1/health", "", 3)

	sup.PollOnce(context.Background())
	sup.PollOnce(context.Background())

	if got := sup.ConsecutiveFailures(); got != 2 {
		t.Fatalf("连续失败计数不符: %d", got)
	}
	if status := sup.Status(); status.Restarts != 0 {
		t.Fatalf("未超限不应该触发重启: %+v", status)
	}
	if sup.LastProbe().Healthy {
		t.Fatal("最近探测应该为失败")
	}
}

func TestPollOnce_EscalatesAfterThreshold(t *testing.T) {
	// 空启动命令让重启快速失败 只验证状态推进
	sup := newSupervisorForURL(t, "http://127.0.0.1:1/health", "", 3)

	for i := 0; i < 3; i++ {
		sup.PollOnce(context.Background())
	}

	status := sup.Status()
	if status.Restarts != 1 {
		t.Fatalf("超限后应该记一次重启 实际: %d", status.Restarts)
	}
	if status.ConsecutiveFailures != 0 {
		t.Fatalf("升级重启后失败计数应该清零: %d", status.ConsecutiveFailures)
	}
}

func TestStop_NeverStarted(t *testing.T) {
	sup := newSupervisorForURL(t, "http://127.0.0.1:1/health", "sleep", 3)

	result := sup.Stop(false)
	if result.Outcome != models.StopAlreadyStopped {
		t.Fatalf("未启动时停止结果应该为 already-stopped 实际: %s", result.Outcome)
	}
	if status := sup.Status(); status.State != models.WorkerAbsent {
		t.Fatalf("状态应该为 absent 实际: %s", status.State)
	}
}

func TestStop_RunningProcess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sup := newSupervisorForURL(t, server.URL, "sleep", 3)
	if _, err := sup.Controller().Start(); err != nil {
		t.Fatalf("启动进程失败: %v", err)
	}

	result := sup.Stop(false)
	if result.Outcome != models.StopTerminated {
		t.Fatalf("优雅停止结果不符: %s", result.Outcome)
	}
	if status := sup.Status(); status.State != models.WorkerStopped {
		t.Fatalf("停止后状态应该为 stopped 实际: %s", status.State)
	}
}

func TestNilSupervisorIsSafe(t *testing.T) {
	var sup *Supervisor

	if sup.EnsureRunning(context.Background()) {
		t.Fatal("空监管器 EnsureRunning 应该返回 false")
	}
	sup.PollOnce(context.Background())
	sup.Cleanup()
	if result := sup.Stop(false); result.Outcome != models.StopAlreadyStopped {
		t.Fatalf("空监管器停止结果不符: %s", result.Outcome)
	}
	if status := sup.Status(); status.State != models.WorkerAbsent {
		t.Fatalf("空监管器状态不符: %s", status.State)
	}
}
