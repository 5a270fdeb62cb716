// 本文件用于告警生命周期管理
// Manager 是告警状态的唯一修改方 触发 抑制 解除都在互斥锁内完成
package alert

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"canvas-guard/internal/logger"
	"canvas-guard/internal/metrics"
	"canvas-guard/internal/models"
)

const defaultSource = "canvas_monitoring"

// Notifier 表示告警通知分发器
type Notifier interface {
	Dispatch(alert Alert, channels []Channel)
}

// Stats 表示告警统计
type Stats struct {
	ActiveAlerts      int            `json:"activeAlerts"`
	TotalAlertsSent   int            `json:"totalAlertsSent"`
	AlertCountsByRule map[string]int `json:"alertCountsByRule"`
	RulesEnabled      int            `json:"rulesEnabled"`
	RulesTotal        int            `json:"rulesTotal"`
}

// RuleView 表示对外展示的规则信息
type RuleView struct {
	Name            string   `json:"name"`
	Condition       string   `json:"condition"`
	Level           string   `json:"level"`
	MessageTemplate string   `json:"message_template"`
	Channels        []string `json:"channels"`
	ThrottleSeconds int      `json:"throttle_seconds"`
	Enabled         bool     `json:"enabled"`
}

// Options 表示告警管理器配置
type Options struct {
	// EnabledFn 每次评估时读取 不缓存 运行时翻转下个周期即生效
	EnabledFn func() bool
	Source    string
	Now       func() time.Time
	// HistoryLimit 历史告警保留上限 超限时淘汰最旧记录 不大于零表示不限制
	HistoryLimit int
}

// Manager 管理告警规则评估与生命周期
type Manager struct {
	mu        sync.Mutex
	rules     []*compiledRule
	active    map[string]*Alert
	history   []*Alert
	counts    map[string]int
	lastSent  map[string]time.Time
	totalSent int

	notifier     Notifier
	enabledFn    func() bool
	source       string
	now          func() time.Time
	historyLimit int
}

// NewManager 创建告警管理器
func NewManager(ruleset *models.AlertRuleset, notifier Notifier, opts Options) (*Manager, error) {
	rules, err := compileRules(ruleset)
	if err != nil {
		return nil, err
	}
	enabledFn := opts.EnabledFn
	if enabledFn == nil {
		enabledFn = func() bool { return true }
	}
	source := strings.TrimSpace(opts.Source)
	if source == "" {
		source = defaultSource
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		rules:        rules,
		active:       make(map[string]*Alert),
		history:      make([]*Alert, 0, 64),
		counts:       make(map[string]int),
		lastSent:     make(map[string]time.Time),
		notifier:     notifier,
		enabledFn:    enabledFn,
		source:       source,
		now:          now,
		historyLimit: opts.HistoryLimit,
	}, nil
}

// CheckConditions 对快照评估所有启用规则
// 单条规则的求值失败被隔离 不影响同周期内其余规则
func (m *Manager) CheckConditions(snap Snapshot) {
	if m == nil || !m.enabledFn() {
		return
	}

	start := time.Now()
	now := m.now()
	// 热加载会整体替换规则切片 先在锁内取快照再逐条评估
	m.mu.Lock()
	rules := m.rules
	m.mu.Unlock()
	for _, rule := range rules {
		if !rule.enabled.Load() {
			continue
		}
		fires, err := rule.expr.Eval(snap)
		if err != nil {
			// 求值失败按条件不成立处理 本周期内走解除路径
			logger.Error("告警规则 %s 求值失败: %v", rule.name, err)
			metrics.Global().IncAlertEvalError()
			fires = false
		}
		if fires {
			m.triggerAlert(rule, snap, now)
		} else {
			m.resolveAlert(rule.name, now)
		}
	}
	metrics.Global().ObserveAlertEvalDuration(time.Since(start).Seconds())
}

// triggerAlert 在抑制窗口外生成并发送告警
func (m *Manager) triggerAlert(rule *compiledRule, snap Snapshot, now time.Time) {
	m.mu.Lock()
	if m.throttledLocked(rule, now) {
		m.mu.Unlock()
		metrics.Global().IncAlertSuppressed()
		return
	}

	triggered := &Alert{
		ID:        fmt.Sprintf("%s_%d", rule.name, now.Unix()),
		Title:     buildTitle(rule.name),
		Message:   interpolate(rule.template, snap),
		Level:     rule.level,
		Timestamp: now,
		Source:    m.source,
		Labels:    map[string]string{"rule": rule.name},
	}

	// 同名规则最多保留一个活跃告警 重复触发用新实例替换
	m.active[rule.name] = triggered
	m.appendHistoryLocked(triggered)
	m.counts[rule.name]++
	m.lastSent[rule.name] = now
	alertCopy := *triggered
	m.mu.Unlock()

	metrics.Global().IncAlertSent()
	logger.Info("告警触发: %s - %s", alertCopy.Title, alertCopy.Message)
	if m.notifier != nil {
		m.notifier.Dispatch(alertCopy, rule.channels)
	}
}

// appendHistoryLocked 追加历史记录 超出保留上限时淘汰最旧的
func (m *Manager) appendHistoryLocked(item *Alert) {
	m.history = append(m.history, item)
	m.totalSent++
	if m.historyLimit > 0 && len(m.history) > m.historyLimit {
		overflow := len(m.history) - m.historyLimit
		m.history = append(m.history[:0], m.history[overflow:]...)
	}
}

// resolveAlert 解除活跃告警 无活跃告警时为静默幂等操作
func (m *Manager) resolveAlert(ruleName string, now time.Time) {
	m.mu.Lock()
	triggered, ok := m.active[ruleName]
	if !ok {
		m.mu.Unlock()
		return
	}
	resolvedAt := now
	triggered.Resolved = true
	triggered.ResolvedAt = &resolvedAt
	delete(m.active, ruleName)
	title := triggered.Title
	m.mu.Unlock()

	metrics.Global().IncAlertResolved()
	logger.Info("告警解除: %s", title)
}

// throttledLocked 判断规则是否处于抑制窗口
// 抑制按规则名生效 限制的是通知频率而非条件翻转次数
func (m *Manager) throttledLocked(rule *compiledRule, now time.Time) bool {
	last, ok := m.lastSent[rule.name]
	if !ok {
		return false
	}
	return now.Sub(last) < rule.throttle
}

// ForceAlert 手动触发告警 跳过规则评估与抑制 始终入历史并分发
func (m *Manager) ForceAlert(title, message string, level Level, channels []Channel) Alert {
	if m == nil {
		return Alert{}
	}
	now := m.now()
	forced := &Alert{
		ID:        fmt.Sprintf("manual_%d", now.Unix()),
		Title:     title,
		Message:   message,
		Level:     level,
		Timestamp: now,
		Source:    "manual",
	}
	if len(channels) == 0 {
		channels = []Channel{ChannelLog}
	}

	m.mu.Lock()
	m.appendHistoryLocked(forced)
	alertCopy := *forced
	m.mu.Unlock()

	metrics.Global().IncAlertSent()
	if m.notifier != nil {
		m.notifier.Dispatch(alertCopy, channels)
	}
	return alertCopy
}

// ActiveAlerts 返回当前活跃告警的副本
func (m *Manager) ActiveAlerts() map[string]Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Alert, len(m.active))
	for name, item := range m.active {
		out[name] = *item
	}
	return out
}

// History 返回最近 limit 条历史告警 limit 不大于零时返回全部
func (m *Manager) History(limit int) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	start := 0
	if limit > 0 && len(m.history) > limit {
		start = len(m.history) - limit
	}
	out := make([]Alert, 0, len(m.history)-start)
	for _, item := range m.history[start:] {
		out = append(out, *item)
	}
	return out
}

// Statistics 返回告警统计
func (m *Manager) Statistics() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[string]int, len(m.counts))
	for name, count := range m.counts {
		counts[name] = count
	}
	enabled := 0
	for _, rule := range m.rules {
		if rule.enabled.Load() {
			enabled++
		}
	}
	return Stats{
		ActiveAlerts:      len(m.active),
		TotalAlertsSent:   m.totalSent,
		AlertCountsByRule: counts,
		RulesEnabled:      enabled,
		RulesTotal:        len(m.rules),
	}
}

// EnableRule 启用规则 返回规则是否存在
func (m *Manager) EnableRule(name string) bool {
	return m.setRuleEnabled(name, true)
}

// DisableRule 停用规则 返回规则是否存在
func (m *Manager) DisableRule(name string) bool {
	return m.setRuleEnabled(name, false)
}

func (m *Manager) setRuleEnabled(name string, enabled bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rule := range m.rules {
		if rule.name == name {
			rule.enabled.Store(enabled)
			logger.Info("告警规则 %s 已%s", name, enabledText(enabled))
			return true
		}
	}
	return false
}

// Rules 返回规则列表快照
func (m *Manager) Rules() []RuleView {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RuleView, 0, len(m.rules))
	for _, rule := range m.rules {
		channels := make([]string, 0, len(rule.channels))
		for _, channel := range rule.channels {
			channels = append(channels, string(channel))
		}
		out = append(out, RuleView{
			Name:            rule.name,
			Condition:       rule.expr.Source(),
			Level:           string(rule.level),
			MessageTemplate: rule.template,
			Channels:        channels,
			ThrottleSeconds: int(rule.throttle / time.Second),
			Enabled:         rule.enabled.Load(),
		})
	}
	return out
}

// ReplaceRules 运行时替换规则集 保留同名规则的抑制与计数状态
func (m *Manager) ReplaceRules(ruleset *models.AlertRuleset) error {
	if err := NormalizeRuleset(ruleset); err != nil {
		return err
	}
	rules, err := compileRules(ruleset)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.rules = rules
	m.mu.Unlock()
	logger.Info("告警规则已更新 共%d条", len(rules))
	return nil
}

// ClearHistory 清空历史告警与计数
func (m *Manager) ClearHistory() {
	m.mu.Lock()
	m.history = m.history[:0]
	m.counts = make(map[string]int)
	m.totalSent = 0
	m.mu.Unlock()
	logger.Info("告警历史已清空")
}

var placeholderRe = regexp.MustCompile(`\{([a-z_]+)\}`)

// interpolate 将模板中的 {字段名} 替换为快照取值 缺失字段取零值而非报错
func interpolate(template string, snap Snapshot) string {
	if template == "" {
		return template
	}
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		field := strings.Trim(match, "{}")
		if !IsKnownField(field) {
			return match
		}
		return snap.Format(field)
	})
}

// buildTitle 将规则名转为展示标题 如 health_check_failing -> Health Check Failing
func buildTitle(ruleName string) string {
	parts := strings.Split(ruleName, "_")
	for i, part := range parts {
		if part == "" {
			continue
		}
		parts[i] = strings.ToUpper(part[:1]) + part[1:]
	}
	return strings.Join(parts, " ")
}

func enabledText(enabled bool) string {
	if enabled {
		return "启用"
	}
	return "停用"
}
