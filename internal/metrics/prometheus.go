// 本文件用于 Prometheus 指标聚合与导出 将监管与告警指标统一收口便于监控接入

package metrics

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Collector 聚合运行期指标，并以 Prometheus 文本格式输出。
type Collector struct {
	probeTotal        atomic.Uint64
	probeFailureTotal atomic.Uint64
	workerStartTotal  atomic.Uint64
	workerRestarts    atomic.Uint64

	alertSentTotal       atomic.Uint64
	alertSuppressedTotal atomic.Uint64
	alertResolvedTotal   atomic.Uint64
	alertEvalErrorTotal  atomic.Uint64

	activeAlerts atomic.Int64
	workerUp     atomic.Int64

	mu               sync.RWMutex
	stopByOutcome    map[string]uint64
	dispatchByResult map[string]uint64
	alertEvalSec     *histogram
	probeLatencySec  *histogram
}

type histogram struct {
	buckets []float64
	counts  []uint64 // 累计桶计数
	count   uint64
	sum     float64
}

var (
	globalCollector = NewCollector()
)

// Global 返回进程级全局指标收集器。
func Global() *Collector {
	return globalCollector
}

// NewCollector 创建指标收集器。
func NewCollector() *Collector {
	return &Collector{
		stopByOutcome:    make(map[string]uint64),
		dispatchByResult: make(map[string]uint64),
		alertEvalSec:     newHistogram([]float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1}),
		probeLatencySec:  newHistogram([]float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}),
	}
}

func newHistogram(buckets []float64) *histogram {
	clean := make([]float64, 0, len(buckets))
	for _, bucket := range buckets {
		if bucket <= 0 {
			continue
		}
		clean = append(clean, bucket)
	}
	sort.Float64s(clean)
	return &histogram{
		buckets: clean,
		counts:  make([]uint64, len(clean)),
	}
}

func (h *histogram) observe(v float64) {
	if h == nil {
		return
	}
	for idx, bound := range h.buckets {
		if v <= bound {
			h.counts[idx]++
		}
	}
	h.count++
	h.sum += v
}

func (h *histogram) writePrometheus(builder *strings.Builder, metric string) {
	if h == nil {
		return
	}
	for idx, bound := range h.buckets {
		builder.WriteString(metric)
		builder.WriteString("_bucket")
		writeLabels(builder, map[string]string{"le": trimFloat(bound)})
		builder.WriteByte(' ')
		builder.WriteString(strconv.FormatUint(h.counts[idx], 10))
		builder.WriteByte('\n')
	}
	builder.WriteString(metric)
	builder.WriteString("_bucket")
	writeLabels(builder, map[string]string{"le": "+Inf"})
	builder.WriteByte(' ')
	builder.WriteString(strconv.FormatUint(h.count, 10))
	builder.WriteByte('\n')

	builder.WriteString(metric)
	builder.WriteString("_sum ")
	builder.WriteString(trimFloat(h.sum))
	builder.WriteByte('\n')

	builder.WriteString(metric)
	builder.WriteString("_count ")
	builder.WriteString(strconv.FormatUint(h.count, 10))
	builder.WriteByte('\n')
}

// ObserveProbe 记录一次健康探测与耗时。
func (c *Collector) ObserveProbe(healthy bool, latencySeconds float64) {
	if c == nil {
		return
	}
	c.probeTotal.Add(1)
	if !healthy {
		c.probeFailureTotal.Add(1)
	}
	c.mu.Lock()
	c.probeLatencySec.observe(latencySeconds)
	c.mu.Unlock()
}

// IncWorkerStart 记录一次画布服务启动。
func (c *Collector) IncWorkerStart() {
	if c == nil {
		return
	}
	c.workerStartTotal.Add(1)
}

// IncWorkerRestart 记录一次因连续失败触发的重启。
func (c *Collector) IncWorkerRestart() {
	if c == nil {
		return
	}
	c.workerRestarts.Add(1)
}

// IncStopOutcome 记录停止操作结果。
func (c *Collector) IncStopOutcome(outcome string) {
	if c == nil {
		return
	}
	key := normalizeMetricLabel(outcome)
	c.mu.Lock()
	c.stopByOutcome[key]++
	c.mu.Unlock()
}

// SetWorkerUp 刷新画布服务存活状态。
func (c *Collector) SetWorkerUp(up bool) {
	if c == nil {
		return
	}
	if up {
		c.workerUp.Store(1)
	} else {
		c.workerUp.Store(0)
	}
}

// SetActiveAlerts 刷新活跃告警数。
func (c *Collector) SetActiveAlerts(count int) {
	if c == nil {
		return
	}
	c.activeAlerts.Store(int64(count))
}

// IncAlertSent 记录一次告警发送。
func (c *Collector) IncAlertSent() {
	if c == nil {
		return
	}
	c.alertSentTotal.Add(1)
}

// IncAlertSuppressed 记录一次被抑制窗口拦截的告警。
func (c *Collector) IncAlertSuppressed() {
	if c == nil {
		return
	}
	c.alertSuppressedTotal.Add(1)
}

// IncAlertResolved 记录一次告警解除。
func (c *Collector) IncAlertResolved() {
	if c == nil {
		return
	}
	c.alertResolvedTotal.Add(1)
}

// IncAlertEvalError 记录一次规则求值失败。
func (c *Collector) IncAlertEvalError() {
	if c == nil {
		return
	}
	c.alertEvalErrorTotal.Add(1)
}

// ObserveAlertEvalDuration 记录一轮规则评估耗时。
func (c *Collector) ObserveAlertEvalDuration(seconds float64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.alertEvalSec.observe(seconds)
	c.mu.Unlock()
}

// IncDispatch 记录一次通道分发结果。
func (c *Collector) IncDispatch(channel string, ok bool) {
	if c == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	key := normalizeMetricLabel(channel) + ":" + result
	c.mu.Lock()
	c.dispatchByResult[key]++
	c.mu.Unlock()
}

// RenderPrometheus 以 text exposition 格式导出指标。
func (c *Collector) RenderPrometheus() string {
	if c == nil {
		return ""
	}
	builder := strings.Builder{}
	builder.Grow(4096)

	writeMetricHeader(&builder, "cgd_probe_total", "counter", "Total health probes issued against the canvas worker.")
	writeCounter(&builder, "cgd_probe_total", c.probeTotal.Load(), nil)

	writeMetricHeader(&builder, "cgd_probe_failure_total", "counter", "Total failed health probes.")
	writeCounter(&builder, "cgd_probe_failure_total", c.probeFailureTotal.Load(), nil)

	writeMetricHeader(&builder, "cgd_worker_start_total", "counter", "Total canvas worker launches.")
	writeCounter(&builder, "cgd_worker_start_total", c.workerStartTotal.Load(), nil)

	writeMetricHeader(&builder, "cgd_worker_restart_total", "counter", "Total restarts escalated from consecutive probe failures.")
	writeCounter(&builder, "cgd_worker_restart_total", c.workerRestarts.Load(), nil)

	writeMetricHeader(&builder, "cgd_worker_up", "gauge", "Whether the canvas worker currently passes health probes.")
	writeGaugeInt(&builder, "cgd_worker_up", c.workerUp.Load(), nil)

	writeMetricHeader(&builder, "cgd_alerts_active", "gauge", "Current active alerts.")
	writeGaugeInt(&builder, "cgd_alerts_active", c.activeAlerts.Load(), nil)

	writeMetricHeader(&builder, "cgd_alert_sent_total", "counter", "Total alerts sent.")
	writeCounter(&builder, "cgd_alert_sent_total", c.alertSentTotal.Load(), nil)

	writeMetricHeader(&builder, "cgd_alert_suppressed_total", "counter", "Total alerts suppressed by throttle windows.")
	writeCounter(&builder, "cgd_alert_suppressed_total", c.alertSuppressedTotal.Load(), nil)

	writeMetricHeader(&builder, "cgd_alert_resolved_total", "counter", "Total alerts resolved after conditions cleared.")
	writeCounter(&builder, "cgd_alert_resolved_total", c.alertResolvedTotal.Load(), nil)

	writeMetricHeader(&builder, "cgd_alert_eval_error_total", "counter", "Total rule evaluation failures.")
	writeCounter(&builder, "cgd_alert_eval_error_total", c.alertEvalErrorTotal.Load(), nil)

	stopByOutcome := make(map[string]uint64)
	dispatchByResult := make(map[string]uint64)
	var evalCopy histogram
	var probeCopy histogram
	c.mu.RLock()
	for outcome, count := range c.stopByOutcome {
		stopByOutcome[outcome] = count
	}
	for key, count := range c.dispatchByResult {
		dispatchByResult[key] = count
	}
	evalCopy = cloneHistogram(c.alertEvalSec)
	probeCopy = cloneHistogram(c.probeLatencySec)
	c.mu.RUnlock()

	writeMetricHeader(&builder, "cgd_worker_stop_total", "counter", "Worker stop operations grouped by outcome.")
	for _, outcome := range sortedStringKeysFromUintMap(stopByOutcome) {
		writeCounter(&builder, "cgd_worker_stop_total", stopByOutcome[outcome], map[string]string{
			"outcome": outcome,
		})
	}

	writeMetricHeader(&builder, "cgd_alert_dispatch_total", "counter", "Alert dispatch attempts grouped by channel and result.")
	for _, key := range sortedStringKeysFromUintMap(dispatchByResult) {
		parts := strings.SplitN(key, ":", 2)
		labels := map[string]string{"channel": parts[0]}
		if len(parts) == 2 {
			labels["result"] = parts[1]
		}
		writeCounter(&builder, "cgd_alert_dispatch_total", dispatchByResult[key], labels)
	}

	writeMetricHeader(&builder, "cgd_alert_eval_duration_seconds", "histogram", "Alert rule evaluation cycle latency distribution in seconds.")
	evalCopy.writePrometheus(&builder, "cgd_alert_eval_duration_seconds")

	writeMetricHeader(&builder, "cgd_probe_latency_seconds", "histogram", "Health probe latency distribution in seconds.")
	probeCopy.writePrometheus(&builder, "cgd_probe_latency_seconds")

	return builder.String()
}

func cloneHistogram(h *histogram) histogram {
	if h == nil {
		return histogram{}
	}
	return histogram{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		count:   h.count,
		sum:     h.sum,
	}
}

func writeMetricHeader(builder *strings.Builder, metric, metricType, help string) {
	builder.WriteString("# HELP ")
	builder.WriteString(metric)
	builder.WriteByte(' ')
	builder.WriteString(help)
	builder.WriteByte('\n')
	builder.WriteString("# TYPE ")
	builder.WriteString(metric)
	builder.WriteByte(' ')
	builder.WriteString(metricType)
	builder.WriteByte('\n')
}

func writeCounter(builder *strings.Builder, metric string, value uint64, labels map[string]string) {
	builder.WriteString(metric)
	writeLabels(builder, labels)
	builder.WriteByte(' ')
	builder.WriteString(strconv.FormatUint(value, 10))
	builder.WriteByte('\n')
}

func writeGaugeInt(builder *strings.Builder, metric string, value int64, labels map[string]string) {
	builder.WriteString(metric)
	writeLabels(builder, labels)
	builder.WriteByte(' ')
	builder.WriteString(strconv.FormatInt(value, 10))
	builder.WriteByte('\n')
}

func writeLabels(builder *strings.Builder, labels map[string]string) {
	if len(labels) == 0 {
		return
	}
	keys := make([]string, 0, len(labels))
	for key := range labels {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	builder.WriteByte('{')
	for idx, key := range keys {
		if idx > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(key)
		builder.WriteString("=\"")
		builder.WriteString(escapeLabelValue(labels[key]))
		builder.WriteByte('"')
	}
	builder.WriteByte('}')
}

func normalizeMetricLabel(value string) string {
	clean := strings.TrimSpace(strings.ToLower(value))
	if clean == "" {
		return "unknown"
	}
	clean = strings.ReplaceAll(clean, "\n", " ")
	clean = strings.ReplaceAll(clean, "\r", " ")
	clean = strings.ReplaceAll(clean, "\t", " ")
	clean = strings.Join(strings.Fields(clean), " ")
	if len(clean) > 120 {
		clean = clean[:120]
	}
	return clean
}

func escapeLabelValue(value string) string {
	replacer := strings.NewReplacer(
		`\`, `\\`,
		`"`, `\"`,
		"\n", `\n`,
	)
	return replacer.Replace(value)
}

func sortedStringKeysFromUintMap(items map[string]uint64) []string {
	keys := make([]string, 0, len(items))
	for key := range items {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func trimFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// ResetForTest 仅用于测试，避免跨用例污染。
func (c *Collector) ResetForTest() {
	if c == nil {
		return
	}
	c.probeTotal.Store(0)
	c.probeFailureTotal.Store(0)
	c.workerStartTotal.Store(0)
	c.workerRestarts.Store(0)
	c.alertSentTotal.Store(0)
	c.alertSuppressedTotal.Store(0)
	c.alertResolvedTotal.Store(0)
	c.alertEvalErrorTotal.Store(0)
	c.activeAlerts.Store(0)
	c.workerUp.Store(0)

	c.mu.Lock()
	c.stopByOutcome = make(map[string]uint64)
	c.dispatchByResult = make(map[string]uint64)
	c.alertEvalSec = newHistogram([]float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1})
	c.probeLatencySec = newHistogram([]float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5})
	c.mu.Unlock()
}

// MustGlobalPrometheus 返回全局指标文本，便于在 handler 中直接输出。
func MustGlobalPrometheus() string {
	return Global().RenderPrometheus()
}
