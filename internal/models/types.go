// 本文件用于定义配置与业务模型
package models

// Config 配置结构体
type Config struct {
	WorkerCommand         string   `yaml:"worker_command"`           // 画布服务启动命令
	WorkerArgs            []string `yaml:"worker_args"`              // 启动参数
	WorkerDir             string   `yaml:"worker_dir"`               // 工作目录
	WorkerLogFile         string   `yaml:"worker_log_file"`          // 画布服务输出重定向文件 为空则丢弃
	HealthURL             string   `yaml:"health_url"`               // 健康检查地址
	HealthTimeout         string   `yaml:"health_timeout"`           // 单次健康检查超时
	HealthPollInterval    string   `yaml:"health_poll_interval"`     // 稳态健康轮询间隔
	StartupWaitTimeout    string   `yaml:"startup_wait_timeout"`     // 启动后等待健康的最长时间
	StopTimeout           string   `yaml:"stop_timeout"`             // 优雅停止等待时间
	MaxConsecutiveFailure int      `yaml:"max_consecutive_failure"`  // 连续失败次数上限 超限触发重启
	CPUThresholdPercent   float64  `yaml:"cpu_threshold_percent"`    // CPU 使用率阈值
	MemThresholdPercent   float64  `yaml:"memory_threshold_percent"` // 内存使用率阈值

	AlertEnabled      bool          `yaml:"alert_enabled"`
	AlertInterval     string        `yaml:"alert_interval"` // 告警评估周期
	AlertRules        *AlertRuleset `yaml:"alert_rules"`
	AlertRulesFile    string        `yaml:"alert_rules_file"`
	AlertHistoryLimit int           `yaml:"alert_history_limit"`

	WebhookURL      string `yaml:"webhook_url"`
	WebhookSecret   string `yaml:"webhook_secret"`
	DingTalkWebhook string `yaml:"dingtalk_webhook"`
	DingTalkSecret  string `yaml:"dingtalk_secret"`
	RobotKey        string `yaml:"robot_key"`
	EmailHost       string `yaml:"email_host"`
	EmailPort       int    `yaml:"email_port"`
	EmailUser       string `yaml:"email_user"`
	EmailPass       string `yaml:"email_pass"`
	EmailFrom       string `yaml:"email_from"`
	EmailTo         string `yaml:"email_to"`
	EmailUseTLS     bool   `yaml:"email_use_tls"`

	DispatchWorkers   int `yaml:"dispatch_workers"`    // 通知分发工作池大小
	DispatchQueueSize int `yaml:"dispatch_queue_size"` // 通知分发队列大小

	APIBind        string `yaml:"api_bind"` // API 服务监听地址
	APIAuthToken   string `yaml:"api_auth_token"`
	APICORSOrigins string `yaml:"api_cors_origins"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// StopOutcome 表示停止画布服务的结果
type StopOutcome string

const (
	// StopTerminated 表示优雅终止成功
	StopTerminated StopOutcome = "terminated"
	// StopForceKilled 表示优雅等待超时后强杀
	StopForceKilled StopOutcome = "force-killed"
	// StopKilled 表示直接强杀成功
	StopKilled StopOutcome = "killed"
	// StopAlreadyStopped 表示进程本就不存在
	StopAlreadyStopped StopOutcome = "already-stopped"
	// StopFailed 表示停止失败
	StopFailed StopOutcome = "failed"
)

// StopResult 表示一次停止操作的汇总
type StopResult struct {
	Outcome StopOutcome `json:"outcome"`
	PID     int32       `json:"pid,omitempty"`
	Signal  string      `json:"signal,omitempty"`
	Reason  string      `json:"reason,omitempty"`
}

// WorkerState 表示监管视角下画布服务的状态
type WorkerState string

const (
	// WorkerAbsent 表示尚未启动或已完全停止
	WorkerAbsent WorkerState = "absent"
	// WorkerStarting 表示已启动进程但尚未通过健康检查
	WorkerStarting WorkerState = "starting"
	// WorkerHealthy 表示健康检查通过
	WorkerHealthy WorkerState = "healthy"
	// WorkerUnhealthy 表示健康检查失败
	WorkerUnhealthy WorkerState = "unhealthy"
	// WorkerStopped 表示被主动停止
	WorkerStopped WorkerState = "stopped"
)

// WorkerStatus 表示画布服务的即时状态快照
type WorkerStatus struct {
	State               WorkerState `json:"state"`
	PID                 int32       `json:"pid,omitempty"`
	UptimeSeconds       float64     `json:"uptimeSeconds"`
	ConsecutiveFailures int         `json:"consecutiveFailures"`
	Restarts            int         `json:"restarts"`
	LastProbeAt         string      `json:"lastProbeAt,omitempty"`
	LastProbeOK         bool        `json:"lastProbeOk"`
	CPUPercent          float64     `json:"cpuPercent"`
	MemoryMB            float64     `json:"memoryMb"`
}
