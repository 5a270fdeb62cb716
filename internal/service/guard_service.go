// 本文件用于组装监管与告警的运行主体 负责健康巡检与告警评估两条循环
package service

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"canvas-guard/internal/alert"
	"canvas-guard/internal/config"
	"canvas-guard/internal/dingtalk"
	"canvas-guard/internal/email"
	"canvas-guard/internal/logger"
	"canvas-guard/internal/metrics"
	"canvas-guard/internal/models"
	"canvas-guard/internal/probe"
	"canvas-guard/internal/proc"
	"canvas-guard/internal/rulewatch"
	"canvas-guard/internal/supervisor"
	"canvas-guard/internal/sysinfo"
	"canvas-guard/internal/webhook"
	"canvas-guard/internal/wechat"
)

const (
	// 熔断窗口取最近 20 次探测 与健康轮询周期一起约等于最近两分钟
	probeWindowSize    = 20
	dispatchTimeout    = 10 * time.Second
	samplerCacheTTL    = 1 * time.Second
	circuitStateClosed = "closed"
	circuitStateOpen   = "open"
	circuitStateHalf   = "half-open"
)

// GuardService 是监管进程的核心 聚合进程监管 资源采样与告警
type GuardService struct {
	config     *models.Config
	supervisor *supervisor.Supervisor
	sampler    *sysinfo.Sampler
	manager    *alert.Manager
	dispatcher *alert.Dispatcher
	ruleWatch  *rulewatch.RuleWatcher

	alertEnabled atomic.Bool

	// 探测滑动窗口 用于派生错误率 平均响应时间与熔断状态
	windowMu     sync.Mutex
	probeWindow  []probe.Result
	circuitState string
	circuitFails int

	pollInterval  time.Duration
	alertInterval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewGuardService 根据配置装配服务
func NewGuardService(cfg *models.Config) (*GuardService, error) {
	healthTimeout := config.Duration(cfg.HealthTimeout, 3*time.Second)
	healthProbe := probe.NewHealthProbe(cfg.HealthURL, healthTimeout)

	controller := proc.NewController(proc.Options{
		Command:     cfg.WorkerCommand,
		Args:        cfg.WorkerArgs,
		Dir:         cfg.WorkerDir,
		LogFile:     cfg.WorkerLogFile,
		StopTimeout: config.Duration(cfg.StopTimeout, 10*time.Second),
	})

	sup := supervisor.NewSupervisor(controller, healthProbe, supervisor.Options{
		StartupWait:           config.Duration(cfg.StartupWaitTimeout, 30*time.Second),
		MaxConsecutiveFailure: cfg.MaxConsecutiveFailure,
	})

	gs := &GuardService{
		config:        cfg,
		supervisor:    sup,
		sampler:       sysinfo.NewSampler(samplerCacheTTL),
		circuitState:  circuitStateClosed,
		pollInterval:  config.Duration(cfg.HealthPollInterval, 5*time.Second),
		alertInterval: config.Duration(cfg.AlertInterval, 10*time.Second),
	}
	gs.alertEnabled.Store(cfg.AlertEnabled)

	dispatcher := alert.NewDispatcher(cfg.DispatchWorkers, cfg.DispatchQueueSize, dispatchTimeout)
	registerSenders(dispatcher, cfg)
	gs.dispatcher = dispatcher

	ruleset, err := loadRuleset(cfg)
	if err != nil {
		dispatcher.Shutdown()
		return nil, err
	}

	manager, err := alert.NewManager(ruleset, dispatcher, alert.Options{
		EnabledFn:    gs.alertEnabled.Load,
		HistoryLimit: cfg.AlertHistoryLimit,
	})
	if err != nil {
		dispatcher.Shutdown()
		return nil, err
	}
	gs.manager = manager

	if cfg.AlertRulesFile != "" {
		watcher, err := rulewatch.NewRuleWatcher(cfg.AlertRulesFile, manager)
		if err != nil {
			logger.Warn("规则热加载初始化失败 按当前规则继续运行: %v", err)
		} else {
			gs.ruleWatch = watcher
		}
	}

	return gs, nil
}

// loadRuleset 按优先级装载规则 内联规则 > 规则文件 > 内置默认
func loadRuleset(cfg *models.Config) (*models.AlertRuleset, error) {
	if cfg.AlertRules != nil {
		if err := alert.NormalizeRuleset(cfg.AlertRules); err != nil {
			return nil, err
		}
		return cfg.AlertRules, nil
	}
	if cfg.AlertRulesFile != "" {
		return alert.LoadRules(cfg.AlertRulesFile)
	}
	return alert.DefaultRuleset(), nil
}

// registerSenders 按配置注册各通知通道 未配置的通道不注册
func registerSenders(dispatcher *alert.Dispatcher, cfg *models.Config) {
	if cfg.WebhookURL != "" {
		dispatcher.Register(alert.ChannelWebhook, webhook.NewClient(cfg.WebhookURL, cfg.WebhookSecret))
	}
	if cfg.DingTalkWebhook != "" {
		dispatcher.Register(alert.ChannelDingTalk, dingtalk.NewRobot(cfg.DingTalkWebhook, cfg.DingTalkSecret))
	}
	if cfg.RobotKey != "" {
		dispatcher.Register(alert.ChannelWeChat, wechat.NewRobot(cfg.RobotKey))
	}
	if cfg.EmailHost != "" {
		recipients := strings.Split(cfg.EmailTo, ",")
		dispatcher.Register(alert.ChannelEmail, email.NewSender(
			cfg.EmailHost, cfg.EmailPort, cfg.EmailUser, cfg.EmailPass,
			cfg.EmailFrom, recipients, cfg.EmailUseTLS,
		))
	}
}

// Start 启动画布服务并开启巡检与告警两条循环
func (gs *GuardService) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	gs.cancel = cancel

	if !gs.supervisor.EnsureRunning(runCtx) {
		logger.Warn("画布服务首次启动未通过健康检查 巡检循环会继续尝试")
	}

	if gs.ruleWatch != nil {
		if err := gs.ruleWatch.Start(); err != nil {
			logger.Warn("规则热加载启动失败 按当前规则继续运行: %v", err)
			gs.ruleWatch = nil
		}
	}

	gs.wg.Add(2)
	go gs.healthLoop(runCtx)
	go gs.alertLoop(runCtx)

	logger.Info("监管服务启动完成 巡检周期=%s 告警周期=%s", gs.pollInterval, gs.alertInterval)
	return nil
}

// healthLoop 稳态健康巡检循环
func (gs *GuardService) healthLoop(ctx context.Context) {
	defer gs.wg.Done()

	ticker := time.NewTicker(gs.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			gs.supervisor.PollOnce(ctx)
			gs.recordProbe(gs.supervisor.LastProbe())
		case <-ctx.Done():
			return
		}
	}
}

// alertLoop 告警评估循环 每个周期构建快照并评估全部规则
func (gs *GuardService) alertLoop(ctx context.Context) {
	defer gs.wg.Done()

	ticker := time.NewTicker(gs.alertInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			gs.manager.CheckConditions(gs.BuildSnapshot())
			metrics.Global().SetActiveAlerts(len(gs.manager.ActiveAlerts()))
		case <-ctx.Done():
			return
		}
	}
}

// recordProbe 把探测结果写入滑动窗口并推进熔断状态机
func (gs *GuardService) recordProbe(result probe.Result) {
	if result.At.IsZero() {
		return
	}

	gs.windowMu.Lock()
	defer gs.windowMu.Unlock()

	gs.probeWindow = append(gs.probeWindow, result)
	if len(gs.probeWindow) > probeWindowSize {
		gs.probeWindow = gs.probeWindow[1:]
	}

	if result.Healthy {
		if gs.circuitState == circuitStateOpen {
			gs.circuitState = circuitStateHalf
		} else {
			gs.circuitState = circuitStateClosed
		}
		gs.circuitFails = 0
		return
	}

	gs.circuitFails++
	if gs.circuitFails >= gs.config.MaxConsecutiveFailure {
		gs.circuitState = circuitStateOpen
	} else if gs.circuitState == circuitStateHalf {
		// 半开态再次失败直接回到熔断
		gs.circuitState = circuitStateOpen
	}
}

// probeStats 汇总滑动窗口 返回错误率 平均响应时间 熔断状态与失败计数
func (gs *GuardService) probeStats() (errorRate, avgResponse float64, state string, fails int) {
	gs.windowMu.Lock()
	defer gs.windowMu.Unlock()

	state = gs.circuitState
	fails = gs.circuitFails
	if len(gs.probeWindow) == 0 {
		return 0, 0, state, fails
	}

	failures := 0
	var totalLatency time.Duration
	for _, r := range gs.probeWindow {
		if !r.Healthy {
			failures++
		}
		totalLatency += r.Latency
	}
	errorRate = float64(failures) / float64(len(gs.probeWindow))
	avgResponse = totalLatency.Seconds() / float64(len(gs.probeWindow))
	return errorRate, avgResponse, state, fails
}

// BuildSnapshot 构建本周期的观测快照 供规则评估使用
func (gs *GuardService) BuildSnapshot() alert.Snapshot {
	sample := gs.sampler.Sample(gs.supervisor.Controller().Process())
	lastProbe := gs.supervisor.LastProbe()
	errorRate, avgResponse, circuitState, circuitFails := gs.probeStats()

	return alert.Snapshot{
		alert.FieldConsecutiveHealthFailures: float64(gs.supervisor.ConsecutiveFailures()),
		alert.FieldHealthResponseTime:        lastProbe.Latency.Seconds(),
		alert.FieldCircuitState:              circuitState,
		alert.FieldCircuitFailureRate:        errorRate,
		alert.FieldCircuitFailures:           float64(circuitFails),
		alert.FieldCPUPercent:                sample.CPUPercent,
		alert.FieldMemoryPercent:             sample.MemoryPercent,
		alert.FieldCPUThreshold:              gs.config.CPUThresholdPercent,
		alert.FieldMemoryThreshold:           gs.config.MemThresholdPercent,
		alert.FieldProcessStatus:             sample.ProcessStatus,
		alert.FieldUptimeSeconds:             sample.UptimeSeconds,
		alert.FieldErrorRate:                 errorRate,
		alert.FieldAvgResponseTime:           avgResponse,
	}
}

// Status 返回监管状态并补充资源观测
func (gs *GuardService) Status() models.WorkerStatus {
	status := gs.supervisor.Status()
	sample := gs.sampler.Sample(gs.supervisor.Controller().Process())
	status.CPUPercent = sample.CPUPercent
	status.MemoryMB = sample.MemoryMB
	return status
}

// RestartWorker 先停止再重新拉起画布服务
func (gs *GuardService) RestartWorker(ctx context.Context) (models.StopResult, bool) {
	result := gs.supervisor.Stop(false)
	ok := gs.supervisor.EnsureRunning(ctx)
	return result, ok
}

// StopWorker 停止画布服务
func (gs *GuardService) StopWorker(force bool) models.StopResult {
	return gs.supervisor.Stop(force)
}

// AlertManager 返回告警管理器 供 API 层读取
func (gs *GuardService) AlertManager() *alert.Manager {
	return gs.manager
}

// Supervisor 返回监管器
func (gs *GuardService) Supervisor() *supervisor.Supervisor {
	return gs.supervisor
}

// SetAlertEnabled 运行时开关告警评估 下个周期生效
func (gs *GuardService) SetAlertEnabled(enabled bool) {
	gs.alertEnabled.Store(enabled)
}

// AlertEnabled 返回告警评估是否启用
func (gs *GuardService) AlertEnabled() bool {
	return gs.alertEnabled.Load()
}

// Stop 有序收尾: 先停循环 再停规则热加载与分发池 最后回收画布服务
func (gs *GuardService) Stop() {
	gs.once.Do(func() {
		if gs.cancel != nil {
			gs.cancel()
		}
		gs.wg.Wait()

		if gs.ruleWatch != nil {
			if err := gs.ruleWatch.Close(); err != nil {
				logger.Warn("关闭规则热加载失败: %v", err)
			}
		}
		gs.dispatcher.Shutdown()
		gs.supervisor.Cleanup()
		logger.Info("监管服务已退出")
	})
}
