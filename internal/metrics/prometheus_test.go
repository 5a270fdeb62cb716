// 本文件用于指标收集与导出的单元测试
package metrics

import (
	"strings"
	"testing"
)

func TestRenderPrometheus_Counters(t *testing.T) {
	collector := NewCollector()
	collector.ObserveProbe(true, 0.02)
	collector.ObserveProbe(false, 0.5)
	collector.IncWorkerStart()
	collector.IncWorkerRestart()
	collector.IncAlertSent()
	collector.IncAlertSent()
	collector.IncAlertSuppressed()
	collector.IncAlertResolved()
	collector.IncAlertEvalError()
	collector.SetWorkerUp(true)
	collector.SetActiveAlerts(3)

	output := collector.RenderPrometheus()
	expected := []string{
		"cgd_probe_total 2",
		"cgd_probe_failure_total 1",
		"cgd_worker_start_total 1",
		"cgd_worker_restart_total 1",
		"cgd_worker_up 1",
		"cgd_alerts_active 3",
		"cgd_alert_sent_total 2",
		"cgd_alert_suppressed_total 1",
		"cgd_alert_resolved_total 1",
		"cgd_alert_eval_error_total 1",
	}
	for _, line := range expected {
		if !strings.Contains(output, line) {
			t.Fatalf("输出缺少 %q:\n%s", line, output)
		}
	}
	if !strings.Contains(output, "# HELP cgd_probe_total") || !strings.Contains(output, "# TYPE cgd_probe_total counter") {
		t.Fatal("输出缺少 HELP/TYPE 头")
	}
}

func TestRenderPrometheus_LabeledCounters(t *testing.T) {
	collector := NewCollector()
	collector.IncStopOutcome("terminated")
	collector.IncStopOutcome("terminated")
	collector.IncStopOutcome("force-killed")
	collector.IncDispatch("webhook", true)
	collector.IncDispatch("webhook", false)
	collector.IncDispatch("Email ", true)

	output := collector.RenderPrometheus()
	expected := []string{
		`cgd_worker_stop_total{outcome="terminated"} 2`,
		`cgd_worker_stop_total{outcome="force-killed"} 1`,
		`cgd_alert_dispatch_total{channel="webhook",result="ok"} 1`,
		`cgd_alert_dispatch_total{channel="webhook",result="failed"} 1`,
		`cgd_alert_dispatch_total{channel="email",result="ok"} 1`,
	}
	for _, line := range expected {
		if !strings.Contains(output, line) {
			t.Fatalf("输出缺少 %q:\n%s", line, output)
		}
	}
}

func TestRenderPrometheus_Histogram(t *testing.T) {
	collector := NewCollector()
	collector.ObserveAlertEvalDuration(0.003)
	collector.ObserveAlertEvalDuration(0.3)

	output := collector.RenderPrometheus()
	expected := []string{
		`cgd_alert_eval_duration_seconds_bucket{le="0.005"} 1`,
		`cgd_alert_eval_duration_seconds_bucket{le="0.5"} 2`,
		`cgd_alert_eval_duration_seconds_bucket{le="+Inf"} 2`,
		"cgd_alert_eval_duration_seconds_count 2",
	}
	for _, line := range expected {
		if !strings.Contains(output, line) {
			t.Fatalf("输出缺少 %q:\n%s", line, output)
		}
	}
}

func TestResetForTest(t *testing.T) {
	collector := NewCollector()
	collector.IncAlertSent()
	collector.IncStopOutcome("terminated")
	collector.ResetForTest()

	output := collector.RenderPrometheus()
	if !strings.Contains(output, "cgd_alert_sent_total 0") {
		t.Fatal("重置后计数应该归零")
	}
	if strings.Contains(output, `outcome="terminated"`) {
		t.Fatal("重置后标签计数应该清空")
	}
}

func TestNormalizeMetricLabel(t *testing.T) {
	cases := map[string]string{
		"  Terminated ":  "terminated",
		"":               "unknown",
		"line\nbreak":    "line break",
		"tab\tseparated": "tab separated",
	}
	for raw, want := range cases {
		if got := normalizeMetricLabel(raw); got != want {
			t.Fatalf("标签 %q 期望 %q 实际 %q", raw, want, got)
		}
	}
}
