// 本文件用于定义告警评估所用的指标快照
package alert

import (
	"strconv"
)

// 快照字段名是固定契约 条件表达式只允许引用这些字段
const (
	FieldConsecutiveHealthFailures = "consecutive_health_failures"
	FieldHealthResponseTime        = "health_response_time"
	FieldCircuitState              = "circuit_state"
	FieldCircuitFailureRate        = "circuit_failure_rate"
	FieldCircuitFailures           = "circuit_failures"
	FieldCPUPercent                = "cpu_percent"
	FieldMemoryPercent             = "memory_percent"
	FieldCPUThreshold              = "cpu_threshold"
	FieldMemoryThreshold           = "memory_threshold"
	FieldProcessStatus             = "process_status"
	FieldUptimeSeconds             = "uptime_seconds"
	FieldErrorRate                 = "error_rate"
	FieldAvgResponseTime           = "avg_response_time"
)

// Snapshot 表示一次评估周期的只读指标快照
type Snapshot map[string]interface{}

// knownFields 表示条件表达式允许引用的字段白名单
var knownFields = map[string]bool{
	FieldConsecutiveHealthFailures: true,
	FieldHealthResponseTime:        true,
	FieldCircuitState:              true,
	FieldCircuitFailureRate:        true,
	FieldCircuitFailures:           true,
	FieldCPUPercent:                true,
	FieldMemoryPercent:             true,
	FieldCPUThreshold:              true,
	FieldMemoryThreshold:           true,
	FieldProcessStatus:             true,
	FieldUptimeSeconds:             true,
	FieldErrorRate:                 true,
	FieldAvgResponseTime:           true,
}

// stringFields 表示取值为字符串的快照字段
var stringFields = map[string]bool{
	FieldCircuitState:  true,
	FieldProcessStatus: true,
}

// IsKnownField 返回字段是否在白名单内
func IsKnownField(name string) bool {
	return knownFields[name]
}

// Number 返回数值字段 缺失或类型不符时取零值
func (s Snapshot) Number(name string) float64 {
	if s == nil {
		return 0
	}
	switch v := s[name].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case uint64:
		return float64(v)
	default:
		return 0
	}
}

// String 返回字符串字段 缺失时取 unknown
func (s Snapshot) String(name string) string {
	if s == nil {
		return "unknown"
	}
	if v, ok := s[name].(string); ok && v != "" {
		return v
	}
	return "unknown"
}

// Format 将字段格式化为消息模板可用的文本
func (s Snapshot) Format(name string) string {
	if stringFields[name] {
		return s.String(name)
	}
	return strconv.FormatFloat(s.Number(name), 'f', -1, 64)
}
