// 本文件用于告警规则文件热加载 监听规则文件变化并在去抖后重新载入
package rulewatch

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"canvas-guard/internal/alert"
	"canvas-guard/internal/logger"
)

// 编辑器保存规则文件往往是一串 write/rename 事件，去抖避免重复加载
const reloadDebounce = 500 * time.Millisecond

// RuleWatcher 监听规则文件变化并把新规则替换进告警管理器。
type RuleWatcher struct {
	watcher  *fsnotify.Watcher
	rulePath string
	manager  *alert.Manager

	stateMutex  sync.Mutex
	reloadTimer *time.Timer
	closed      bool
	done        chan struct{}
}

// NewRuleWatcher 创建规则文件监听器。
func NewRuleWatcher(rulePath string, manager *alert.Manager) (*RuleWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &RuleWatcher{
		watcher:  watcher,
		rulePath: filepath.Clean(rulePath),
		manager:  manager,
		done:     make(chan struct{}),
	}, nil
}

// Start 启动规则文件监听。
func (rw *RuleWatcher) Start() error {
	// 监听所在目录而非文件本身，编辑器的 rename 覆盖写不会丢事件
	dir := filepath.Dir(rw.rulePath)
	if err := rw.watcher.Add(dir); err != nil {
		logger.Error("添加规则目录监听失败: %s, 错误: %v", dir, err)
		return err
	}

	go rw.handleEvents()

	logger.Info("规则文件热加载已启动: %s", rw.rulePath)
	return nil
}

// Close 停止监听并清理去抖定时器。重复关闭是幂等空操作。
func (rw *RuleWatcher) Close() error {
	rw.stateMutex.Lock()
	if rw.closed {
		rw.stateMutex.Unlock()
		return nil
	}
	rw.closed = true
	if rw.reloadTimer != nil {
		rw.reloadTimer.Stop()
		rw.reloadTimer = nil
	}
	rw.stateMutex.Unlock()

	close(rw.done)
	return rw.watcher.Close()
}

// handleEvents 处理规则文件事件
func (rw *RuleWatcher) handleEvents() {
	for {
		select {
		case event, ok := <-rw.watcher.Events:
			if !ok {
				return
			}
			rw.handleEvent(event)
		case err, ok := <-rw.watcher.Errors:
			if !ok {
				return
			}
			logger.Error("规则文件监听错误: %v", err)
		case <-rw.done:
			return
		}
	}
}

func (rw *RuleWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != rw.rulePath {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	logger.Debug("收到规则文件事件: %s, 操作: %s", event.Name, event.Op.String())
	rw.scheduleReload()
}

// scheduleReload 重置去抖定时器，静默窗口结束后执行真正的重载。
func (rw *RuleWatcher) scheduleReload() {
	rw.stateMutex.Lock()
	defer rw.stateMutex.Unlock()

	if rw.closed {
		return
	}
	if rw.reloadTimer != nil {
		rw.reloadTimer.Stop()
	}
	rw.reloadTimer = time.AfterFunc(reloadDebounce, rw.reload)
}

// reload 重新加载规则文件，失败时保留当前生效的规则。
func (rw *RuleWatcher) reload() {
	ruleset, err := alert.LoadRules(rw.rulePath)
	if err != nil {
		logger.Error("规则文件重载失败，继续使用当前规则: %v", err)
		return
	}
	if err := rw.manager.ReplaceRules(ruleset); err != nil {
		logger.Error("规则替换失败，继续使用当前规则: %v", err)
		return
	}
	logger.Info("规则文件重载成功: %s, 规则数: %d", rw.rulePath, len(ruleset.Rules))
}
