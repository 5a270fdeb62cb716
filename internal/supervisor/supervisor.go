// 本文件用于画布服务的启停编排与健康监管
package supervisor

import (
	"context"
	"sync"
	"time"

	"canvas-guard/internal/logger"
	"canvas-guard/internal/metrics"
	"canvas-guard/internal/models"
	"canvas-guard/internal/probe"
	"canvas-guard/internal/proc"
)

const (
	// 启动期健康轮询固定 1 秒一次 给慢启动留时间同时避免忙等
	startupPollInterval = 1 * time.Second
	defaultStartupWait  = 30 * time.Second
)

// Options 表示监管器配置
type Options struct {
	StartupWait           time.Duration
	MaxConsecutiveFailure int
}

// Supervisor 编排进程控制器与健康探测
// 状态机: absent -> starting -> healthy <-> unhealthy -> stopped
// 连续失败超限时回到 starting 重新拉起
type Supervisor struct {
	mu          sync.Mutex
	controller  *proc.Controller
	probe       *probe.HealthProbe
	startupWait time.Duration
	maxFailures int

	state               models.WorkerState
	consecutiveFailures int
	restarts            int
	lastProbe           probe.Result
}

// NewSupervisor 创建监管器
func NewSupervisor(controller *proc.Controller, healthProbe *probe.HealthProbe, opts Options) *Supervisor {
	startupWait := opts.StartupWait
	if startupWait <= 0 {
		startupWait = defaultStartupWait
	}
	maxFailures := opts.MaxConsecutiveFailure
	if maxFailures <= 0 {
		maxFailures = 5
	}
	return &Supervisor{
		controller:  controller,
		probe:       healthProbe,
		startupWait: startupWait,
		maxFailures: maxFailures,
		state:       models.WorkerAbsent,
	}
}

// EnsureRunning 确保画布服务可用
// 已健康直接返回 true 否则启动并在有界窗口内轮询健康
// 窗口耗尽时回收进程并返回 false 启动失败只影响当前调用 不中断监管进程
func (s *Supervisor) EnsureRunning(ctx context.Context) bool {
	if s == nil {
		return false
	}

	if result := s.probe.Check(ctx); result.Healthy {
		s.recordProbe(result)
		return true
	} else {
		metrics.Global().ObserveProbe(false, result.Latency.Seconds())
	}

	s.setState(models.WorkerStarting)
	metrics.Global().IncWorkerStart()
	if _, err := s.controller.Start(); err != nil {
		logger.Error("启动画布服务失败: %v", err)
		s.setState(models.WorkerAbsent)
		return false
	}

	deadline := time.Now().Add(s.startupWait)
	ticker := time.NewTicker(startupPollInterval)
	defer ticker.Stop()

	for {
		result := s.probe.Check(ctx)
		if result.Healthy {
			s.recordProbe(result)
			logger.Info("画布服务健康检查通过")
			return true
		}
		if time.Now().After(deadline) {
			break
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			logger.Warn("等待画布服务健康时被取消")
			return false
		}
	}

	// 启动窗口耗尽 回收进程避免半启动状态驻留
	logger.Error("画布服务在 %s 内未通过健康检查 放弃本次启动", s.startupWait)
	s.controller.Stop(false)
	s.setState(models.WorkerAbsent)
	return false
}

// PollOnce 执行一次稳态健康巡检
// 单次失败进入 unhealthy 连续失败超限时升级为重启
func (s *Supervisor) PollOnce(ctx context.Context) {
	if s == nil {
		return
	}

	result := s.probe.Check(ctx)
	metrics.Global().ObserveProbe(result.Healthy, result.Latency.Seconds())

	s.mu.Lock()
	s.lastProbe = result
	if result.Healthy {
		s.consecutiveFailures = 0
		s.state = models.WorkerHealthy
		s.mu.Unlock()
		metrics.Global().SetWorkerUp(true)
		return
	}

	s.consecutiveFailures++
	failures := s.consecutiveFailures
	if s.state == models.WorkerHealthy || s.state == models.WorkerStarting {
		s.state = models.WorkerUnhealthy
	}
	escalate := failures >= s.maxFailures
	if escalate {
		s.state = models.WorkerAbsent
		s.restarts++
		s.consecutiveFailures = 0
	}
	s.mu.Unlock()
	metrics.Global().SetWorkerUp(false)

	if escalate {
		metrics.Global().IncWorkerRestart()
	}

	if !escalate {
		logger.Warn("画布服务健康检查失败 连续%d次", failures)
		return
	}

	logger.Error("画布服务连续%d次健康检查失败 尝试重启", failures)
	s.controller.Stop(false)
	if !s.EnsureRunning(ctx) {
		logger.Error("画布服务重启失败 等待下一轮巡检")
	}
}

// Stop 停止画布服务 汇总结果不抛错
func (s *Supervisor) Stop(force bool) models.StopResult {
	if s == nil {
		return models.StopResult{Outcome: models.StopAlreadyStopped}
	}
	result := s.controller.Stop(force)
	metrics.Global().IncStopOutcome(string(result.Outcome))
	switch result.Outcome {
	case models.StopTerminated, models.StopKilled, models.StopForceKilled:
		s.setState(models.WorkerStopped)
	case models.StopAlreadyStopped:
		s.setState(models.WorkerAbsent)
	}
	return result
}

// Cleanup 退出路径的兜底清理 吞掉一切异常 不能影响退出流程
func (s *Supervisor) Cleanup() {
	if s == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("退出清理时发生异常: %v", r)
		}
	}()
	result := s.Stop(false)
	logger.Info("退出清理完成 结果=%s", result.Outcome)
}

// Status 返回监管视角的即时状态
func (s *Supervisor) Status() models.WorkerStatus {
	if s == nil {
		return models.WorkerStatus{State: models.WorkerAbsent}
	}

	s.mu.Lock()
	status := models.WorkerStatus{
		State:               s.state,
		ConsecutiveFailures: s.consecutiveFailures,
		Restarts:            s.restarts,
		LastProbeOK:         s.lastProbe.Healthy,
	}
	if !s.lastProbe.At.IsZero() {
		status.LastProbeAt = s.lastProbe.At.Format("2006-01-02 15:04:05")
	}
	s.mu.Unlock()

	if pid := s.controller.PID(); pid > 0 && s.controller.Alive() {
		status.PID = pid
		if startedAt := s.controller.StartedAt(); !startedAt.IsZero() {
			status.UptimeSeconds = time.Since(startedAt).Seconds()
		}
	}
	return status
}

// ConsecutiveFailures 返回当前连续失败次数
func (s *Supervisor) ConsecutiveFailures() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecutiveFailures
}

// LastProbe 返回最近一次探测结果
func (s *Supervisor) LastProbe() probe.Result {
	if s == nil {
		return probe.Result{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastProbe
}

// Controller 返回进程控制器 供资源采集读取进程句柄
func (s *Supervisor) Controller() *proc.Controller {
	if s == nil {
		return nil
	}
	return s.controller
}

func (s *Supervisor) recordProbe(result probe.Result) {
	s.mu.Lock()
	s.lastProbe = result
	s.consecutiveFailures = 0
	s.state = models.WorkerHealthy
	s.mu.Unlock()
	metrics.Global().ObserveProbe(true, result.Latency.Seconds())
	metrics.Global().SetWorkerUp(true)
}

func (s *Supervisor) setState(state models.WorkerState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}
