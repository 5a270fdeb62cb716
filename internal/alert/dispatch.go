// 本文件用于告警通知分发
// 日志通道内联写出且必定成功 外联通道经有界工作池异步发送
// 单个通道的故障被隔离 不回滚告警状态也不阻塞触发路径
package alert

import (
	"context"
	"strings"
	"sync"
	"time"

	"canvas-guard/internal/logger"
	"canvas-guard/internal/metrics"
)

const defaultSendTimeout = 10 * time.Second

// Sender 表示单个外联通知通道
type Sender interface {
	Send(ctx context.Context, alert Alert) error
}

type dispatchTask struct {
	alert   Alert
	channel Channel
}

// Dispatcher 通过工作池分发告警通知
type Dispatcher struct {
	mu      sync.RWMutex
	senders map[Channel]Sender

	queue       chan dispatchTask
	workers     int
	sendTimeout time.Duration
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewDispatcher 创建通知分发器并启动工作协程
func NewDispatcher(workers, queueSize int, sendTimeout time.Duration) *Dispatcher {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	dispatcher := &Dispatcher{
		senders:     make(map[Channel]Sender),
		queue:       make(chan dispatchTask, queueSize),
		workers:     workers,
		sendTimeout: sendTimeout,
		ctx:         ctx,
		cancel:      cancel,
	}

	for i := 0; i < workers; i++ {
		dispatcher.wg.Add(1)
		go dispatcher.worker(i)
	}

	logger.Info("通知分发工作池已启动 工作协程数: %d 队列大小: %d", workers, queueSize)
	return dispatcher
}

// Register 注册外联通道
func (d *Dispatcher) Register(channel Channel, sender Sender) {
	if d == nil || sender == nil {
		return
	}
	d.mu.Lock()
	d.senders[channel] = sender
	d.mu.Unlock()
}

// Dispatch 按通道分发告警
// 日志通道同步写出 其余通道入队异步发送 队列满时丢弃并记录
func (d *Dispatcher) Dispatch(alert Alert, channels []Channel) {
	if d == nil {
		return
	}
	for _, channel := range channels {
		if channel == ChannelLog {
			logAlert(alert)
			metrics.Global().IncDispatch(string(channel), true)
			continue
		}
		d.mu.RLock()
		_, registered := d.senders[channel]
		d.mu.RUnlock()
		if !registered {
			logger.Warn("告警通道 %s 未配置 跳过发送: %s", channel, alert.Title)
			continue
		}
		select {
		case d.queue <- dispatchTask{alert: alert, channel: channel}:
		default:
			logger.Warn("通知队列已满 丢弃 %s 通道的告警: %s", channel, alert.Title)
			metrics.Global().IncDispatch(string(channel), false)
		}
	}
}

// worker 工作协程函数
func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()

	for {
		select {
		case task := <-d.queue:
			d.send(task)
		case <-d.ctx.Done():
			// 退出前把已入队的通知发完 收尾不丢任务
			for {
				select {
				case task := <-d.queue:
					d.send(task)
				default:
					logger.Debug("通知分发协程 %d 已停止", id)
					return
				}
			}
		}
	}
}

// send 执行一次带超时的外联发送 失败只记录不向上传播
func (d *Dispatcher) send(task dispatchTask) {
	d.mu.RLock()
	sender := d.senders[task.channel]
	d.mu.RUnlock()
	if sender == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
	defer cancel()

	if err := sender.Send(ctx, task.alert); err != nil {
		logger.Error("通过 %s 通道发送告警失败: %v", task.channel, err)
		metrics.Global().IncDispatch(string(task.channel), false)
		return
	}
	metrics.Global().IncDispatch(string(task.channel), true)
}

// Shutdown 停止分发器 在途与已入队的任务发完后返回
func (d *Dispatcher) Shutdown() {
	if d == nil {
		return
	}
	d.cancel()
	d.wg.Wait()
	logger.Info("通知分发工作池已关闭")
}

// logAlert 将告警写入日志 按级别映射日志方法 该通道视为始终可用
func logAlert(alert Alert) {
	line := "ALERT [" + strings.ToUpper(string(alert.Level)) + "] " + alert.Title + ": " + alert.Message
	switch alert.Level {
	case LevelWarning:
		logger.Warn("%s", line)
	case LevelError:
		logger.Error("%s", line)
	case LevelCritical:
		logger.Critical("%s", line)
	default:
		logger.Info("%s", line)
	}
}
