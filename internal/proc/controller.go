// 本文件用于画布服务进程管理
package proc

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"canvas-guard/internal/logger"
	"canvas-guard/internal/models"
)

const (
	defaultStopTimeout = 10 * time.Second
	exitPollInterval   = 120 * time.Millisecond
)

var (
	ErrCommandEmpty    = errors.New("worker command is empty")
	ErrProcessNotFound = errors.New("process not found")
)

// Options 表示进程控制器配置
type Options struct {
	Command     string
	Args        []string
	Dir         string
	LogFile     string // 输出重定向文件 为空则丢弃
	StopTimeout time.Duration
}

// Controller 独占持有画布服务的进程句柄
// 同一时刻最多存在一个受管进程 重复启动直接返回现有 PID
type Controller struct {
	mu          sync.Mutex
	command     string
	args        []string
	dir         string
	logFile     string
	stopTimeout time.Duration

	cmd       *exec.Cmd
	proc      *process.Process
	startedAt time.Time
}

// NewController 创建进程控制器
func NewController(opts Options) *Controller {
	stopTimeout := opts.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = defaultStopTimeout
	}
	return &Controller{
		command:     strings.TrimSpace(opts.Command),
		args:        append([]string(nil), opts.Args...),
		dir:         strings.TrimSpace(opts.Dir),
		logFile:     strings.TrimSpace(opts.LogFile),
		stopTimeout: stopTimeout,
	}
}

// Start 启动画布服务进程
// 已有存活进程时为幂等操作 返回现有 PID
func (c *Controller) Start() (int32, error) {
	if c == nil || c.command == "" {
		return 0, ErrCommandEmpty
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if pid, alive := c.aliveLocked(); alive {
		logger.Info("画布服务已在运行 PID=%d", pid)
		return pid, nil
	}

	output, err := c.buildOutput()
	if err != nil {
		return 0, err
	}

	cmd := exec.Command(c.command, c.args...)
	cmd.Dir = c.dir
	cmd.Stdout = output
	cmd.Stderr = output
	cmd.SysProcAttr = detachedProcAttr()

	if err := cmd.Start(); err != nil {
		if output != nil {
			_ = output.Close()
		}
		return 0, fmt.Errorf("启动画布服务失败: %w", err)
	}
	// 子进程已持有日志文件描述符的副本 父进程这份立即释放 否则每次重启泄漏一个
	if output != nil {
		_ = output.Close()
	}

	pid := int32(cmd.Process.Pid)
	proc, err := process.NewProcess(pid)
	if err != nil {
		// 进程刚启动就消失 按启动失败处理
		_ = cmd.Process.Kill()
		return 0, fmt.Errorf("画布服务启动后立即退出: %w", err)
	}

	c.cmd = cmd
	c.proc = proc
	c.startedAt = time.Now()

	// 回收子进程退出状态 避免僵尸进程
	go func() { _ = cmd.Wait() }()

	logger.Info("画布服务已启动 PID=%d 命令=%s", pid, c.command)
	return pid, nil
}

// Stop 停止画布服务进程 所有结果通过 StopResult 汇总 不抛错
// force 为 true 时跳过优雅等待直接强杀
func (c *Controller) Stop(force bool) models.StopResult {
	if c == nil {
		return models.StopResult{Outcome: models.StopAlreadyStopped}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	pid, alive := c.aliveLocked()
	if !alive {
		c.clearLocked()
		return models.StopResult{Outcome: models.StopAlreadyStopped}
	}

	result := models.StopResult{PID: pid, Signal: "TERM"}

	if force {
		result.Signal = "KILL"
		if err := c.killLocked(); err != nil {
			return c.stopFailed(result, err)
		}
		c.clearLocked()
		result.Outcome = models.StopKilled
		logger.Info("画布服务已强制停止 PID=%d", pid)
		return result
	}

	if err := c.terminateLocked(); err != nil {
		if isProcessMissingErr(err) {
			c.clearLocked()
			result.Outcome = models.StopAlreadyStopped
			return result
		}
		return c.stopFailed(result, err)
	}

	exited, waitErr := waitProcessExit(c.proc, c.stopTimeout)
	if waitErr != nil && !isProcessMissingErr(waitErr) {
		return c.stopFailed(result, waitErr)
	}
	if exited || isProcessMissingErr(waitErr) {
		c.clearLocked()
		result.Outcome = models.StopTerminated
		logger.Info("画布服务已优雅停止 PID=%d", pid)
		return result
	}

	// 优雅等待超时 升级为强杀
	result.Signal = "KILL"
	if err := c.killLocked(); err != nil && !isProcessMissingErr(err) {
		return c.stopFailed(result, err)
	}
	c.clearLocked()
	result.Outcome = models.StopForceKilled
	logger.Warn("画布服务优雅停止超时 已强杀 PID=%d", pid)
	return result
}

// Alive 返回进程是否存活
func (c *Controller) Alive() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, alive := c.aliveLocked()
	return alive
}

// PID 返回当前受管进程 PID 无进程时返回 0
func (c *Controller) PID() int32 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.proc == nil {
		return 0
	}
	return c.proc.Pid
}

// StartedAt 返回进程启动时间
func (c *Controller) StartedAt() time.Time {
	if c == nil {
		return time.Time{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startedAt
}

// Process 返回 gopsutil 进程句柄 供资源采集使用
func (c *Controller) Process() *process.Process {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proc
}

func (c *Controller) aliveLocked() (int32, bool) {
	if c.proc == nil {
		return 0, false
	}
	running, err := c.proc.IsRunning()
	if err != nil || !running {
		return 0, false
	}
	return c.proc.Pid, true
}

func (c *Controller) clearLocked() {
	c.cmd = nil
	c.proc = nil
	c.startedAt = time.Time{}
}

// terminateLocked 优先向进程组发送 TERM 信号 回退到单进程终止
func (c *Controller) terminateLocked() error {
	if err := signalGroup(c.proc.Pid, false); err == nil {
		return nil
	}
	return c.proc.Terminate()
}

func (c *Controller) killLocked() error {
	if err := signalGroup(c.proc.Pid, true); err == nil {
		return nil
	}
	return c.proc.Kill()
}

func (c *Controller) stopFailed(result models.StopResult, err error) models.StopResult {
	result.Outcome = models.StopFailed
	result.Reason = err.Error()
	logger.Error("停止画布服务失败 PID=%d: %v", result.PID, err)
	return result
}

func (c *Controller) buildOutput() (*os.File, error) {
	if c.logFile == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(c.logFile), 0755); err != nil {
		return nil, fmt.Errorf("创建画布服务日志目录失败: %w", err)
	}
	file, err := os.OpenFile(c.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("打开画布服务日志文件失败: %w", err)
	}
	return file, nil
}

func waitProcessExit(proc *process.Process, timeout time.Duration) (bool, error) {
	if proc == nil {
		return false, fmt.Errorf("process is nil")
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	deadline := time.Now().Add(timeout)
	for {
		running, err := proc.IsRunning()
		if err != nil {
			if isProcessMissingErr(err) {
				return true, nil
			}
			return false, err
		}
		if !running {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		time.Sleep(exitPollInterval)
	}
}

func isProcessMissingErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrProcessNotFound) {
		return true
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(msg, "no such process") ||
		strings.Contains(msg, "process does not exist") ||
		strings.Contains(msg, "process already finished") ||
		strings.Contains(msg, "not found")
}
