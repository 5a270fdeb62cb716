// 本文件用于画布服务进程的资源采样
package sysinfo

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"canvas-guard/internal/logger"
)

const defaultCacheTTL = 1 * time.Second

// ProcessStatusDead 表示进程不存在或已退出
const ProcessStatusDead = "dead"

// Sample 表示一次进程资源观测
type Sample struct {
	CPUPercent    float64 `json:"cpuPercent"`
	MemoryPercent float64 `json:"memoryPercent"`
	MemoryMB      float64 `json:"memoryMb"`
	ProcessStatus string  `json:"processStatus"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

// Sampler 负责采集画布服务进程的资源占用
// 带 TTL 缓存 避免高频调用放大采集开销
type Sampler struct {
	mu       sync.Mutex
	cacheTTL time.Duration

	lastSample   Sample
	lastSampleAt time.Time
	lastPID      int32
}

// NewSampler 创建资源采样器
func NewSampler(cacheTTL time.Duration) *Sampler {
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	return &Sampler{cacheTTL: cacheTTL}
}

// Sample 返回进程资源观测 进程不存在时状态为 dead 其余字段为零值
func (s *Sampler) Sample(proc *process.Process) Sample {
	if s == nil {
		return deadSample()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if proc == nil {
		s.lastPID = 0
		return deadSample()
	}

	now := time.Now()
	if s.lastPID == proc.Pid && now.Sub(s.lastSampleAt) < s.cacheTTL {
		return s.lastSample
	}

	sample := collect(proc)
	s.lastSample = sample
	s.lastSampleAt = now
	s.lastPID = proc.Pid
	return sample
}

func collect(proc *process.Process) Sample {
	running, err := proc.IsRunning()
	if err != nil || !running {
		return deadSample()
	}

	sample := Sample{ProcessStatus: "unknown"}

	if statuses, err := proc.Status(); err == nil && len(statuses) > 0 {
		sample.ProcessStatus = normalizeStatus(statuses[0])
	}
	if cpuPercent, err := proc.CPUPercent(); err == nil {
		sample.CPUPercent = cpuPercent
	} else {
		logger.Debug("采集 CPU 使用率失败: %v", err)
	}
	if memPercent, err := proc.MemoryPercent(); err == nil {
		sample.MemoryPercent = float64(memPercent)
	}
	if memInfo, err := proc.MemoryInfo(); err == nil && memInfo != nil {
		sample.MemoryMB = float64(memInfo.RSS) / 1024 / 1024
	}
	if createMillis, err := proc.CreateTime(); err == nil && createMillis > 0 {
		sample.UptimeSeconds = time.Since(time.UnixMilli(createMillis)).Seconds()
	}
	return sample
}

func normalizeStatus(raw string) string {
	switch raw {
	case process.Running, process.Sleep, process.Idle, process.Wait:
		return raw
	case process.Zombie, process.Stop:
		return ProcessStatusDead
	case "":
		return "unknown"
	default:
		return raw
	}
}

func deadSample() Sample {
	return Sample{ProcessStatus: ProcessStatusDead}
}
